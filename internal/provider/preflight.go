package provider

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/jorge-barreto/docgen/internal/config"
)

// Preflight checks that the configured backend can be reached at all: the
// binary it shells out to is on PATH, or its API key is set.
func Preflight(cfg config.Provider) error {
	switch cfg.Kind {
	case config.ProviderClaude:
		return lookPath("claude")
	case config.ProviderCommand:
		return lookPath("bash")
	case config.ProviderOpenAI:
		if os.Getenv(cfg.APIKeyEnv) == "" {
			return fmt.Errorf("environment variable %s is not set", cfg.APIKeyEnv)
		}
		return nil
	}
	return fmt.Errorf("unknown provider kind %q", cfg.Kind)
}

func lookPath(bin string) error {
	if _, err := exec.LookPath(bin); err != nil {
		return fmt.Errorf("required binary not found in PATH: %s", bin)
	}
	return nil
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/jorge-barreto/docgen/internal/registry"
)

var varNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var idRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

var validLogLevels = map[string]bool{"": true, "debug": true, "info": true, "warn": true, "error": true}

// Validate checks the config for errors and sets defaults.
func Validate(cfg *Config, projectRoot string) error {
	if cfg.Name == "" {
		return fmt.Errorf("config: 'name' is required")
	}
	if len(cfg.Documents) == 0 {
		return fmt.Errorf("config: at least one document is required")
	}

	builtins := map[string]bool{"project_name": true, "project_description": true, "created_at": true}
	seenVars := make(map[string]bool)
	for _, v := range cfg.Vars {
		if v.Key == "" {
			return fmt.Errorf("config: vars: empty variable name")
		}
		if !varNameRe.MatchString(v.Key) {
			return fmt.Errorf("config: vars: %q is not a valid variable name (must match [A-Za-z_][A-Za-z0-9_]*)", v.Key)
		}
		if builtins[v.Key] {
			return fmt.Errorf("config: vars: %q overrides a built-in variable", v.Key)
		}
		if seenVars[v.Key] {
			return fmt.Errorf("config: vars: duplicate variable %q", v.Key)
		}
		seenVars[v.Key] = true
	}

	if err := validateProvider(&cfg.Provider); err != nil {
		return err
	}
	if err := validateRetry(&cfg.Retry); err != nil {
		return err
	}
	if cfg.PauseGrace < 0 {
		return fmt.Errorf("config: pause-grace must be >= 0")
	}
	if cfg.PauseGrace == 0 {
		cfg.PauseGrace = Duration(30 * time.Second)
	}
	if err := validateStore(&cfg.Store); err != nil {
		return err
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	if !validLogLevels[cfg.LogLevel] {
		return fmt.Errorf("config: unknown log-level %q (must be debug, info, warn, or error)", cfg.LogLevel)
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	specs := make([]registry.DocumentSpec, 0, len(cfg.Documents))
	for i := range cfg.Documents {
		d := &cfg.Documents[i]
		if d.ID == "" {
			return fmt.Errorf("config: document %d: 'id' is required", i+1)
		}
		if !idRe.MatchString(d.ID) {
			return fmt.Errorf("config: document %q: id must be lowercase letters, digits, '-' or '_'", d.ID)
		}
		if d.Prompt == "" {
			return fmt.Errorf("config: document %q: 'prompt' is required", d.ID)
		}
		promptPath := filepath.Join(projectRoot, d.Prompt)
		if _, err := os.Stat(promptPath); err != nil {
			return fmt.Errorf("config: document %q: prompt file %q not found", d.ID, promptPath)
		}
		if d.Output == "" {
			d.Output = d.ID
		}
		if seenVars[d.Output] || builtins[d.Output] {
			return fmt.Errorf("config: document %q: output %q collides with a variable", d.ID, d.Output)
		}
		if d.Validate.MinLength < 0 {
			return fmt.Errorf("config: document %q: validate.min-length must be >= 0", d.ID)
		}
		for _, h := range d.Validate.RequiredHeadings {
			if strings.TrimSpace(h) == "" {
				return fmt.Errorf("config: document %q: 'required-headings' entries must be non-empty", d.ID)
			}
		}
		specs = append(specs, d.spec())
	}
	// duplicate ids, unknown dependencies and cycles
	if _, err := registry.New(specs); err != nil {
		return fmt.Errorf("config: %s", strings.TrimPrefix(err.Error(), "registry: "))
	}
	return nil
}

func validateProvider(p *Provider) error {
	if p.Kind == "" {
		p.Kind = ProviderClaude
	}
	switch p.Kind {
	case ProviderClaude:
		if p.Model == "" {
			p.Model = "sonnet"
		}
	case ProviderCommand:
		if strings.TrimSpace(p.Command) == "" {
			return fmt.Errorf("config: provider: 'command' is required for kind command")
		}
	case ProviderOpenAI:
		if p.Model == "" {
			p.Model = "gpt-4"
		}
		if p.APIKeyEnv == "" {
			p.APIKeyEnv = "OPENAI_API_KEY"
		}
	default:
		return fmt.Errorf("config: provider: unknown kind %q (must be claude, command, or openai)", p.Kind)
	}
	if p.Temperature == nil {
		t := 0.7
		p.Temperature = &t
	}
	if *p.Temperature < 0 || *p.Temperature > 2 {
		return fmt.Errorf("config: provider: temperature must be between 0 and 2")
	}
	if p.MaxTokens < 0 {
		return fmt.Errorf("config: provider: max-tokens must be >= 0")
	}
	if p.MaxTokens == 0 {
		p.MaxTokens = 4000
	}
	if p.Timeout < 0 {
		return fmt.Errorf("config: provider: timeout must be >= 0")
	}
	if p.Timeout == 0 {
		p.Timeout = 10
	}
	return nil
}

func validateRetry(r *Retry) error {
	if r.MaxAttempts < 0 {
		return fmt.Errorf("config: retry: max-attempts must be >= 1")
	}
	if r.MaxAttempts == 0 {
		r.MaxAttempts = 3
	}
	if r.BaseDelay < 0 || r.MaxDelay < 0 {
		return fmt.Errorf("config: retry: delays must be >= 0")
	}
	if r.BaseDelay == 0 {
		r.BaseDelay = Duration(2 * time.Second)
	}
	if r.MaxDelay == 0 {
		r.MaxDelay = Duration(30 * time.Second)
	}
	if r.MaxDelay < r.BaseDelay {
		return fmt.Errorf("config: retry: max-delay must be >= base-delay")
	}
	return nil
}

func validateStore(s *Store) error {
	if s.Kind == "" {
		s.Kind = StoreFile
	}
	switch s.Kind {
	case StoreFile:
		if s.Dir == "" {
			s.Dir = filepath.Join(".docgen", "versions")
		}
	case StoreMemory:
	case StorePostgres:
		if s.DatabaseURL == "" {
			return fmt.Errorf("config: store: 'database-url' is required for kind postgres (or set DOCGEN_DATABASE_URL)")
		}
		if s.Table == "" {
			s.Table = "docgen_versions"
		}
	case StoreS3:
		if s.Endpoint == "" || s.Bucket == "" {
			return fmt.Errorf("config: store: 'endpoint' and 'bucket' are required for kind s3")
		}
		if strings.Contains(s.Endpoint, "://") {
			return fmt.Errorf("config: store: endpoint must not include a scheme: %q", s.Endpoint)
		}
		if s.Region == "" {
			s.Region = "us-east-1"
		}
		if s.AccessKeyEnv == "" {
			s.AccessKeyEnv = "DOCGEN_S3_ACCESS_KEY"
		}
		if s.SecretKeyEnv == "" {
			s.SecretKeyEnv = "DOCGEN_S3_SECRET_KEY"
		}
	default:
		return fmt.Errorf("config: store: unknown kind %q (must be file, memory, postgres, or s3)", s.Kind)
	}
	return nil
}

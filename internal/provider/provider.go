// Package provider is the gateway to the external text-generation service.
// Every backend returns failure.Error values classified as Transient,
// Permanent or RateLimited so the executor can decide whether to retry.
package provider

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jorge-barreto/docgen/internal/config"
)

// Params are the generation parameters passed through to the backend.
type Params struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// Request is one generation call.
type Request struct {
	Document string
	Prompt   string
	System   string
	Params   Params
}

// Response is the generated text.
type Response struct {
	Text  string
	Model string
}

// Gateway is the interface for text generation. Tests substitute a fake.
type Gateway interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

// GatewayFunc adapts a function to Gateway.
type GatewayFunc func(ctx context.Context, req Request) (Response, error)

func (f GatewayFunc) Generate(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// Options are shared by the process-backed gateways.
type Options struct {
	WorkDir string
	// LogDir receives one append-only log per document. Empty disables logging.
	LogDir string
	// Stream, when set, receives the child's stderr as it runs.
	Stream io.Writer
}

// New builds the gateway selected by cfg.
func New(cfg config.Provider, opts Options) (Gateway, error) {
	timeout := time.Duration(cfg.Timeout) * time.Minute
	switch cfg.Kind {
	case config.ProviderClaude:
		return &ClaudeGateway{Timeout: timeout, Options: opts}, nil
	case config.ProviderCommand:
		return &CommandGateway{Command: cfg.Command, Timeout: timeout, Options: opts}, nil
	case config.ProviderOpenAI:
		key := os.Getenv(cfg.APIKeyEnv)
		if key == "" {
			return nil, fmt.Errorf("provider: environment variable %s is not set", cfg.APIKeyEnv)
		}
		return NewOpenAIGateway(cfg.BaseURL, key, timeout), nil
	default:
		return nil, fmt.Errorf("provider: unknown kind %q", cfg.Kind)
	}
}

// ParamsFrom converts the configured defaults into request parameters.
func ParamsFrom(cfg config.Provider) Params {
	p := Params{Model: cfg.Model, MaxTokens: cfg.MaxTokens}
	if cfg.Temperature != nil {
		p.Temperature = *cfg.Temperature
	}
	return p
}

// BuildEnv returns the environment for child processes: the current
// environment minus CLAUDECODE*, plus DOCGEN_ variables describing the call.
func BuildEnv(req Request) []string {
	var env []string
	for _, e := range os.Environ() {
		key := strings.SplitN(e, "=", 2)[0]
		if strings.HasPrefix(key, "CLAUDECODE") {
			continue
		}
		env = append(env, e)
	}
	return append(env,
		"DOCGEN_DOCUMENT="+req.Document,
		"DOCGEN_MODEL="+req.Params.Model,
		fmt.Sprintf("DOCGEN_TEMPERATURE=%g", req.Params.Temperature),
		fmt.Sprintf("DOCGEN_MAX_TOKENS=%d", req.Params.MaxTokens),
	)
}

// LogPath returns the log file for a document's provider output.
func LogPath(logDir, doc string) string {
	return filepath.Join(logDir, doc+".log")
}

func openLog(opts Options, doc string) (io.WriteCloser, error) {
	if opts.LogDir == "" {
		return nopCloser{io.Discard}, nil
	}
	if err := os.MkdirAll(opts.LogDir, 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(LogPath(opts.LogDir, doc), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

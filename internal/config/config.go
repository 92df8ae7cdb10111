package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/jorge-barreto/docgen/internal/registry"
)

const (
	ProviderClaude  = "claude"
	ProviderCommand = "command"
	ProviderOpenAI  = "openai"

	StoreFile     = "file"
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreS3       = "s3"
)

// Duration decodes "30s" / "2m" style strings from YAML and TOML.
type Duration time.Duration

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Var is one project metadata entry.
type Var struct {
	Key   string
	Value string
}

// OrderedVars keeps vars in file order so later values can reference
// earlier ones.
type OrderedVars []Var

func (v *OrderedVars) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("vars: expected a mapping, got %s", node.Tag)
	}
	out := make(OrderedVars, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		k, val := node.Content[i], node.Content[i+1]
		if val.Kind != yaml.ScalarNode {
			return fmt.Errorf("vars: %q must be a scalar", k.Value)
		}
		out = append(out, Var{Key: k.Value, Value: val.Value})
	}
	*v = out
	return nil
}

// UnmarshalTOML receives a table. TOML tables are unordered, so keys are
// sorted to keep expansion deterministic.
func (v *OrderedVars) UnmarshalTOML(data any) error {
	m, ok := data.(map[string]any)
	if !ok {
		return fmt.Errorf("vars: expected a table")
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(OrderedVars, 0, len(keys))
	for _, k := range keys {
		out = append(out, Var{Key: k, Value: fmt.Sprint(m[k])})
	}
	*v = out
	return nil
}

type Provider struct {
	Kind        string   `yaml:"kind" toml:"kind"`
	Model       string   `yaml:"model" toml:"model"`
	Temperature *float64 `yaml:"temperature" toml:"temperature"`
	MaxTokens   int      `yaml:"max-tokens" toml:"max-tokens"`
	Timeout     int      `yaml:"timeout" toml:"timeout"` // minutes
	Command     string   `yaml:"command" toml:"command"`
	BaseURL     string   `yaml:"base-url" toml:"base-url"`
	APIKeyEnv   string   `yaml:"api-key-env" toml:"api-key-env"`
	System      string   `yaml:"system" toml:"system"`
}

type Retry struct {
	MaxAttempts int      `yaml:"max-attempts" toml:"max-attempts"`
	BaseDelay   Duration `yaml:"base-delay" toml:"base-delay"`
	MaxDelay    Duration `yaml:"max-delay" toml:"max-delay"`
	HintOnRetry *bool    `yaml:"hint-on-retry" toml:"hint-on-retry"`
}

type Store struct {
	Kind         string `yaml:"kind" toml:"kind"`
	Dir          string `yaml:"dir" toml:"dir"`
	DatabaseURL  string `yaml:"database-url" toml:"database-url"`
	Table        string `yaml:"table" toml:"table"`
	Endpoint     string `yaml:"endpoint" toml:"endpoint"`
	Bucket       string `yaml:"bucket" toml:"bucket"`
	Prefix       string `yaml:"prefix" toml:"prefix"`
	Region       string `yaml:"region" toml:"region"`
	UseSSL       bool   `yaml:"use-ssl" toml:"use-ssl"`
	AccessKeyEnv string `yaml:"access-key-env" toml:"access-key-env"`
	SecretKeyEnv string `yaml:"secret-key-env" toml:"secret-key-env"`
}

type Status struct {
	Addr string `yaml:"addr" toml:"addr"`
}

type Rules struct {
	MinLength        int      `yaml:"min-length" toml:"min-length"`
	RequiredHeadings []string `yaml:"required-headings" toml:"required-headings"`
}

type Document struct {
	ID        string   `yaml:"id" toml:"id"`
	Title     string   `yaml:"title" toml:"title"`
	Prompt    string   `yaml:"prompt" toml:"prompt"`
	DependsOn []string `yaml:"depends-on" toml:"depends-on"`
	Output    string   `yaml:"output" toml:"output"`
	Validate  Rules    `yaml:"validate" toml:"validate"`
}

type Config struct {
	Name        string      `yaml:"name" toml:"name"`
	Description string      `yaml:"description" toml:"description"`
	Vars        OrderedVars `yaml:"vars" toml:"vars"`
	Provider    Provider    `yaml:"provider" toml:"provider"`
	Retry       Retry       `yaml:"retry" toml:"retry"`
	PauseGrace  Duration    `yaml:"pause-grace" toml:"pause-grace"`
	Store       Store       `yaml:"store" toml:"store"`
	Status      Status      `yaml:"status" toml:"status"`
	LogLevel    string      `yaml:"log-level" toml:"log-level"`
	Documents   []Document  `yaml:"documents" toml:"documents"`
}

// Load reads a YAML (or, for a .toml path, TOML) config file, applies
// environment overrides and returns a validated Config.
func Load(path, projectRoot string) (*Config, error) {
	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	}
	applyEnvOverrides(&cfg)
	if err := Validate(&cfg, projectRoot); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides lets the environment win over file values:
//   - DOCGEN_MODEL (or OPENAI_MODEL_NAME) overrides provider.model
//   - DOCGEN_API_BASE_URL overrides provider.base-url
//   - DOCGEN_DATABASE_URL overrides store.database-url
//   - DOCGEN_LOG_LEVEL overrides log-level
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OPENAI_MODEL_NAME"); v != "" {
		cfg.Provider.Model = v
	}
	if v := os.Getenv("DOCGEN_MODEL"); v != "" {
		cfg.Provider.Model = v
	}
	if v := os.Getenv("DOCGEN_API_BASE_URL"); v != "" {
		cfg.Provider.BaseURL = v
	}
	if v := os.Getenv("DOCGEN_DATABASE_URL"); v != "" {
		cfg.Store.DatabaseURL = v
	}
	if v := os.Getenv("DOCGEN_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

// DocumentIndex returns the index of the named document, or -1 if not found.
func (c *Config) DocumentIndex(id string) int {
	for i, d := range c.Documents {
		if d.ID == id {
			return i
		}
	}
	return -1
}

// Seed returns the initial variable bindings: built-in project metadata
// followed by the configured vars, each expanded against what came before.
func (c *Config) Seed(now time.Time) map[string]string {
	seed := map[string]string{
		"project_name":        c.Name,
		"project_description": c.Description,
		"created_at":          now.Format("2006-01-02"),
	}
	for _, v := range c.Vars {
		seed[v.Key] = os.Expand(v.Value, func(k string) string {
			if val, ok := seed[k]; ok {
				return val
			}
			return os.Getenv(k)
		})
	}
	return seed
}

// Registry reads every prompt file and builds the document registry.
func (c *Config) Registry(projectRoot string) (*registry.Registry, error) {
	specs := make([]registry.DocumentSpec, 0, len(c.Documents))
	for _, d := range c.Documents {
		data, err := os.ReadFile(filepath.Join(projectRoot, d.Prompt))
		if err != nil {
			return nil, fmt.Errorf("document %q: reading prompt: %w", d.ID, err)
		}
		s := d.spec()
		s.PromptTemplate = string(data)
		specs = append(specs, s)
	}
	return registry.New(specs)
}

func (d Document) spec() registry.DocumentSpec {
	return registry.DocumentSpec{
		ID:             d.ID,
		Title:          d.Title,
		DependsOn:      d.DependsOn,
		OutputVariable: d.Output,
		Rules: registry.Rules{
			MinLength:        d.Validate.MinLength,
			RequiredHeadings: d.Validate.RequiredHeadings,
		},
	}
}

// HintOnRetryEnabled reports retry.hint-on-retry, which defaults to true.
func (r Retry) HintOnRetryEnabled() bool {
	return r.HintOnRetry == nil || *r.HintOnRetry
}

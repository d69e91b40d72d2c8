package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Defaults for optional fields.
const (
	DefaultTimeoutMS            = 600000
	DefaultMaxRetries           = 3
	DefaultRateLimitWaitSeconds = 5
	DefaultHistoryLimit         = 50
	DefaultMaxToolRounds        = 25
)

var (
	// ErrProviderConfigMissing is returned when no config file was found and
	// the environment does not supply the provider settings.
	ErrProviderConfigMissing = errors.New("provider config missing")
	// ErrProviderConfigInvalid is returned when required fields are missing.
	ErrProviderConfigInvalid = errors.New("provider config invalid")
)

// Config is the merged shellai configuration.
type Config struct {
	// APIBaseURL is the base URL for OpenAI-compatible chat completions.
	APIBaseURL string `yaml:"api_base_url"`
	// APIKey is the bearer token used for Authorization.
	APIKey string `yaml:"api_key"`
	// DefaultModel is used when no flag selects a model.
	DefaultModel string `yaml:"default_model"`
	// ModelAliases maps friendly names to provider model ids.
	ModelAliases map[string]string `yaml:"model_aliases,omitempty"`
	// TimeoutMS configures the request timeout in milliseconds.
	TimeoutMS int `yaml:"timeout_ms"`
	// MaxRetries caps resubmissions after rate limiting.
	MaxRetries int `yaml:"max_retries"`
	// RateLimitWaitSeconds is the wait used when a 429 carries no hint.
	RateLimitWaitSeconds int `yaml:"rate_limit_wait_seconds"`
	// HistoryLimit bounds the conversation turns sent to the model.
	HistoryLimit int `yaml:"history_limit"`
	// MaxToolRounds bounds tool rounds per message.
	MaxToolRounds int `yaml:"max_tool_rounds"`
	// SystemPrompt replaces the built-in system prompt when set.
	SystemPrompt string `yaml:"system_prompt,omitempty"`
	// PermissionMode is default, bypassPermissions or plan.
	PermissionMode string `yaml:"permission_mode"`

	Tools      ToolsConfig      `yaml:"tools"`
	Shell      ShellConfig      `yaml:"shell"`
	Log        LogConfig        `yaml:"log"`
	Transcript TranscriptConfig `yaml:"transcript"`

	// Sources lists the files merged into this config, in load order.
	Sources []string `yaml:"-"`
}

// ToolsConfig controls the tools offered to the model.
type ToolsConfig struct {
	Enabled         bool     `yaml:"enabled"`
	ParallelAutoRun bool     `yaml:"parallel_auto_run"`
	Disabled        []string `yaml:"disabled,omitempty"`
	WebSearchURL    string   `yaml:"web_search_url,omitempty"`
	BraveAPIKey     string   `yaml:"brave_api_key,omitempty"`
	// WorkspaceRoots are extra directories the file tools may read.
	WorkspaceRoots []string `yaml:"workspace_roots,omitempty"`
}

// ShellConfig selects the interactive shell.
type ShellConfig struct {
	Path  string `yaml:"path,omitempty"`
	Label string `yaml:"label"`
}

// LogConfig controls logging.
type LogConfig struct {
	File  string `yaml:"file,omitempty"`
	Level string `yaml:"level"`
}

// TranscriptConfig controls the JSONL audit log.
type TranscriptConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		TimeoutMS:            DefaultTimeoutMS,
		MaxRetries:           DefaultMaxRetries,
		RateLimitWaitSeconds: DefaultRateLimitWaitSeconds,
		HistoryLimit:         DefaultHistoryLimit,
		MaxToolRounds:        DefaultMaxToolRounds,
		PermissionMode:       "default",
		ModelAliases:         map[string]string{},
		Tools:                ToolsConfig{Enabled: true},
		Shell:                ShellConfig{Label: "shell"},
		Log:                  LogConfig{Level: "info"},
		Transcript:           TranscriptConfig{Enabled: true},
	}
}

// LoadOptions selects the files Load reads.
type LoadOptions struct {
	// Cwd locates the project config; empty means the process directory.
	Cwd string
	// Path is an explicit config file applied after user and project files.
	// Unlike those, it must exist.
	Path string
	// SkipEnv ignores environment overrides.
	SkipEnv bool
}

// Load merges the defaults, the user and project config files, the explicit
// path and the environment, later sources overriding earlier ones. It does
// not validate; call Validate before connecting.
func Load(opts LoadOptions) (*Config, error) {
	cwd := opts.Cwd
	if cwd == "" {
		var err error
		if cwd, err = os.Getwd(); err != nil {
			return nil, fmt.Errorf("resolve working directory: %w", err)
		}
	}
	cfg := Default()

	sources, err := configSources(cwd)
	if err != nil {
		return nil, err
	}
	for _, source := range sources {
		if err := cfg.mergeFile(source.Path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, err
		}
	}
	if opts.Path != "" {
		if err := cfg.mergeFile(opts.Path); err != nil {
			return nil, err
		}
	}
	if !opts.SkipEnv {
		cfg.applyEnvOverrides()
	}
	cfg.applyDefaults()
	return cfg, nil
}

// mergeFile decodes a YAML file over the current values.
func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return err
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	c.Sources = append(c.Sources, path)
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("SHELLAI_API_KEY"); key != "" {
		c.APIKey = key
	} else if key := os.Getenv("OPENAI_API_KEY"); key != "" && c.APIKey == "" {
		c.APIKey = key
	}
	if base := os.Getenv("SHELLAI_BASE_URL"); base != "" {
		c.APIBaseURL = base
	}
	if model := os.Getenv("SHELLAI_MODEL"); model != "" {
		c.DefaultModel = model
	}
	if key := os.Getenv("BRAVE_SEARCH_API_KEY"); key != "" {
		c.Tools.BraveAPIKey = key
	}
}

// applyDefaults restores defaults for fields a file zeroed out.
func (c *Config) applyDefaults() {
	if c.TimeoutMS <= 0 {
		c.TimeoutMS = DefaultTimeoutMS
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RateLimitWaitSeconds <= 0 {
		c.RateLimitWaitSeconds = DefaultRateLimitWaitSeconds
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = DefaultHistoryLimit
	}
	if c.MaxToolRounds <= 0 {
		c.MaxToolRounds = DefaultMaxToolRounds
	}
	if c.ModelAliases == nil {
		c.ModelAliases = map[string]string{}
	}
	if c.PermissionMode == "" {
		c.PermissionMode = "default"
	}
}

// Validate checks the fields required to reach the provider.
func (c *Config) Validate() error {
	var missing []string
	if c.APIBaseURL == "" {
		missing = append(missing, "api_base_url")
	}
	if c.APIKey == "" {
		missing = append(missing, "api_key")
	}
	if c.DefaultModel == "" {
		missing = append(missing, "default_model")
	}
	if len(missing) == 3 && len(c.Sources) == 0 {
		return ErrProviderConfigMissing
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrProviderConfigInvalid, strings.Join(missing, ", "))
	}

	parsed, err := url.Parse(c.APIBaseURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("%w: api_base_url must be an http(s) URL", ErrProviderConfigInvalid)
	}
	switch c.PermissionMode {
	case "default", "bypassPermissions", "plan":
	default:
		return fmt.Errorf("%w: unknown permission_mode %q", ErrProviderConfigInvalid, c.PermissionMode)
	}
	return nil
}

// ResolveModel returns the model for the session. A flag value takes
// precedence over the default; both may be aliases.
func (c *Config) ResolveModel(flagModel string) string {
	if flagModel != "" {
		return c.aliasModel(flagModel)
	}
	return c.aliasModel(c.DefaultModel)
}

// aliasModel resolves an alias to a provider model name.
func (c *Config) aliasModel(name string) string {
	if aliased, ok := c.ModelAliases[name]; ok {
		return aliased
	}
	return name
}

// Save writes the configuration as YAML, creating parent directories.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

package probe

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/PentesterFlow/authprobe/internal/errors"
)

// Environment variables read by LoadEnv.
const (
	EnvTenantID = "CHECKOUT_TENANT_ID"
	EnvAPIKey   = "CHECKOUT_API_KEY"
	EnvBaseURL  = "CHECKOUT_BASE_URL"
)

// Fallbacks used when the environment leaves a value unset.
const (
	DefaultTenantID = "default-tenant"
	DefaultBaseURL  = "http://localhost:8000/api/"
)

// DefaultValidatePath is the key validation endpoint, relative to the base URL.
const DefaultValidatePath = "auth/api-key/validate"

// Config holds all probe configuration.
type Config struct {
	// Base URL of the checkout API
	BaseURL string `json:"base_url" yaml:"base_url"`

	// Tenant identifier sent in payloads and the X-Tenant-ID header
	TenantID string `json:"tenant_id" yaml:"tenant_id"`

	// API key under test. Never written back out by SaveToFile.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`

	// Per-request timeout
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// Number of attempts in flight; 1 is strictly sequential
	Concurrency int `json:"concurrency" yaml:"concurrency"`

	// Requests per second across the run; 0 disables pacing
	RateLimit float64 `json:"rate_limit" yaml:"rate_limit"`

	// Path of the key validation endpoint
	ValidatePath string `json:"validate_path" yaml:"validate_path"`

	// Extra headers sent with every request
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	UserAgent     string `json:"user_agent" yaml:"user_agent"`
	SkipTLSVerify bool   `json:"skip_tls_verify" yaml:"skip_tls_verify"`

	// Run history database; empty disables history
	HistoryPath string `json:"history_path" yaml:"history_path"`

	Output OutputConfig `json:"output" yaml:"output"`

	Verbose bool `json:"verbose" yaml:"verbose"`
	Debug   bool `json:"debug" yaml:"debug"`
}

// OutputConfig holds report output configuration.
type OutputConfig struct {
	Format     string `json:"format" yaml:"format"` // json, text
	Pretty     bool   `json:"pretty" yaml:"pretty"`
	StreamMode bool   `json:"stream_mode" yaml:"stream_mode"`
	FilePath   string `json:"file_path" yaml:"file_path"`
	ShowTokens bool   `json:"show_tokens" yaml:"show_tokens"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:      DefaultBaseURL,
		TenantID:     DefaultTenantID,
		Timeout:      10 * time.Second,
		Concurrency:  1,
		RateLimit:    0,
		ValidatePath: DefaultValidatePath,
		UserAgent:    "authprobe/1.0",
		Output: OutputConfig{
			Format: "text",
			Pretty: true,
		},
	}
}

// LoadEnv fills credentials from the environment. envFiles are loaded first
// with godotenv; variables already set in the process win over the files.
// A missing env file is not an error.
func (c *Config) LoadEnv(envFiles ...string) error {
	for _, f := range envFiles {
		if _, err := os.Stat(f); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", f, err)
		}
	}

	if v := os.Getenv(EnvBaseURL); v != "" {
		c.BaseURL = v
	}
	if v := os.Getenv(EnvTenantID); v != "" {
		c.TenantID = v
	}
	if v := os.Getenv(EnvAPIKey); v != "" {
		c.APIKey = v
	}
	return nil
}

// LoadFromFile loads configuration from a file (JSON or YAML) on top of base.
// A nil base starts from DefaultConfig.
func LoadFromFile(path string, base *Config) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if base == nil {
		base = DefaultConfig()
	}

	// Try YAML first, then JSON. Each attempt decodes into a fresh copy so a
	// failed attempt leaves nothing behind.
	config := base.clone()
	if err := yaml.Unmarshal(data, config); err != nil {
		config = base.clone()
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	return config, nil
}

// clone returns a copy of c that shares no maps with it.
func (c *Config) clone() *Config {
	out := *c
	if c.Headers != nil {
		out.Headers = make(map[string]string, len(c.Headers))
		for k, v := range c.Headers {
			out.Headers[k] = v
		}
	}
	return &out
}

// SaveToFile saves configuration to a file without the API key.
func (c *Config) SaveToFile(path string) error {
	clean := *c
	clean.APIKey = ""

	var data []byte
	var err error

	if strings.HasSuffix(path, ".json") {
		data, err = json.MarshalIndent(clean, "", "  ")
	} else {
		data, err = yaml.Marshal(clean)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0600)
}

// ValidateRuntime checks the settings that shape how requests are sent.
func (c *Config) ValidateRuntime() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}

	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1")
	}

	if c.RateLimit < 0 {
		return fmt.Errorf("rate limit must not be negative")
	}

	switch c.Output.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("unknown output format %q", c.Output.Format)
	}

	return nil
}

// Validate validates the complete configuration for a run.
func (c *Config) Validate() error {
	if err := c.ValidateRuntime(); err != nil {
		return err
	}

	if _, err := ParseBaseURL(c.BaseURL); err != nil {
		return err
	}

	if c.APIKey == "" {
		return fmt.Errorf("API key is required (set %s or --api-key)", EnvAPIKey)
	}

	return nil
}

// ParseBaseURL checks that raw is an absolute http(s) URL.
func ParseBaseURL(raw string) (*url.URL, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, errors.NewConfigError("base_url", "base URL is required", nil)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.NewConfigError("base_url", "base URL cannot be parsed", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.NewConfigError("base_url", fmt.Sprintf("unsupported scheme %q", u.Scheme), nil)
	}

	if u.Host == "" {
		return nil, errors.NewConfigError("base_url", "base URL has no host", nil)
	}

	return u, nil
}

// JoinURL joins the base URL and a relative path with exactly one slash.
func JoinURL(baseURL, path string) string {
	return strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	Agent() AgentConfig
	LLM() LLMRouterConfig
	Browserbase() BrowserbaseConfig
	Browser() BrowserConfig
	Server() ServerConfig

	// Agent Setters
	SetAgentMaxSteps(int)
	SetAgentActionTimeout(time.Duration)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg      LoggerConfig      `mapstructure:"logger" yaml:"logger"`
	DatabaseCfg    DatabaseConfig    `mapstructure:"database" yaml:"database"`
	AgentCfg       AgentConfig       `mapstructure:"agent" yaml:"agent"`
	LLMCfg         LLMRouterConfig   `mapstructure:"llm" yaml:"llm"`
	BrowserbaseCfg BrowserbaseConfig `mapstructure:"browserbase" yaml:"browserbase"`
	BrowserCfg     BrowserConfig     `mapstructure:"browser" yaml:"browser"`
	ServerCfg      ServerConfig      `mapstructure:"server" yaml:"server"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig           { return c.LoggerCfg }
func (c *Config) Database() DatabaseConfig       { return c.DatabaseCfg }
func (c *Config) Agent() AgentConfig             { return c.AgentCfg }
func (c *Config) LLM() LLMRouterConfig           { return c.LLMCfg }
func (c *Config) Browserbase() BrowserbaseConfig { return c.BrowserbaseCfg }
func (c *Config) Browser() BrowserConfig         { return c.BrowserCfg }
func (c *Config) Server() ServerConfig           { return c.ServerCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetAgentMaxSteps(n int)                { c.AgentCfg.MaxSteps = n }
func (c *Config) SetAgentActionTimeout(d time.Duration) { c.AgentCfg.ActionTimeout = d }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// DatabaseConfig holds the database connection details. An empty URL selects
// the in-memory context store.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// AgentConfig controls the browser agent loop.
type AgentConfig struct {
	// MaxSteps is the number of model-decided steps a run may take after the
	// initial navigation.
	MaxSteps int `mapstructure:"max_steps" yaml:"max_steps"`
	// ActionTimeout bounds every browser action except navigation and WAIT.
	ActionTimeout time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	// NavigationTimeout bounds GOTO actions.
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	// DecisionTimeout bounds a single model call made by the decision requester.
	DecisionTimeout time.Duration `mapstructure:"decision_timeout" yaml:"decision_timeout"`
	// DecisionRetries is how many times a malformed decision is re-requested (0 or 1).
	DecisionRetries int `mapstructure:"decision_retries" yaml:"decision_retries"`
	// URLProbeTimeout bounds the current-URL probe made before each decision.
	URLProbeTimeout time.Duration `mapstructure:"url_probe_timeout" yaml:"url_probe_timeout"`
	// CloseOnBudgetExhausted releases the remote session when the step budget runs out.
	CloseOnBudgetExhausted bool `mapstructure:"close_on_budget_exhausted" yaml:"close_on_budget_exhausted"`
	// DecisionTier selects the model tier used for next-step decisions.
	DecisionTier string `mapstructure:"decision_tier" yaml:"decision_tier"`
	// StartTier selects the model tier used for the starting-point selection.
	StartTier string `mapstructure:"start_tier" yaml:"start_tier"`
}

// LLMProvider defines the supported LLM providers.
type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
	ProviderOpenAI LLMProvider = "openai"
)

// LLMRouterConfig configures the model routing logic.
type LLMRouterConfig struct {
	DefaultFastModel     string                    `mapstructure:"default_fast_model" yaml:"default_fast_model"`
	DefaultPowerfulModel string                    `mapstructure:"default_powerful_model" yaml:"default_powerful_model"`
	Models               map[string]LLMModelConfig `mapstructure:"models" yaml:"models"`
}

// LLMModelConfig defines the configuration for a single LLM.
type LLMModelConfig struct {
	Provider          LLMProvider   `mapstructure:"provider" yaml:"provider"`
	Model             string        `mapstructure:"model" yaml:"model"`
	APIKey            string        `mapstructure:"api_key" yaml:"-"`
	Endpoint          string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout        time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature       float32       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens         int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" yaml:"requests_per_second"`
}

// BrowserbaseConfig holds credentials and defaults for the remote browser provider.
type BrowserbaseConfig struct {
	APIKey         string        `mapstructure:"api_key" yaml:"-"`
	ProjectID      string        `mapstructure:"project_id" yaml:"project_id"`
	APIURL         string        `mapstructure:"api_url" yaml:"api_url"`
	ConnectURL     string        `mapstructure:"connect_url" yaml:"connect_url"`
	KeepAlive      bool          `mapstructure:"keep_alive" yaml:"keep_alive"`
	BlockAds       bool          `mapstructure:"block_ads" yaml:"block_ads"`
	ViewportWidth  int           `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight int           `mapstructure:"viewport_height" yaml:"viewport_height"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	RetryMax       int           `mapstructure:"retry_max" yaml:"retry_max"`
	RateLimit      float64       `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// BrowserConfig tunes the page snapshot fed to the model for ACT, OBSERVE and EXTRACT.
type BrowserConfig struct {
	MaxElements     int           `mapstructure:"max_elements" yaml:"max_elements"`
	MaxTextLength   int           `mapstructure:"max_text_length" yaml:"max_text_length"`
	AttachTimeout   time.Duration `mapstructure:"attach_timeout" yaml:"attach_timeout"`
	PostActionDelay time.Duration `mapstructure:"post_action_delay" yaml:"post_action_delay"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Address         string        `mapstructure:"address" yaml:"address"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	RunTimeout      time.Duration `mapstructure:"run_timeout" yaml:"run_timeout"`
	JWTSecret       string        `mapstructure:"jwt_secret" yaml:"-"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "director")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Agent --
	v.SetDefault("agent.max_steps", 10)
	v.SetDefault("agent.action_timeout", "30s")
	v.SetDefault("agent.navigation_timeout", "60s")
	v.SetDefault("agent.decision_timeout", "60s")
	v.SetDefault("agent.decision_retries", 1)
	v.SetDefault("agent.url_probe_timeout", "5s")
	v.SetDefault("agent.close_on_budget_exhausted", true)
	v.SetDefault("agent.decision_tier", "powerful")
	v.SetDefault("agent.start_tier", "fast")

	// -- LLM --
	// Model keys must not contain dots; viper treats them as path separators.
	v.SetDefault("llm.default_fast_model", "gemini-flash")
	v.SetDefault("llm.default_powerful_model", "gemini-pro")
	v.SetDefault("llm.models", map[string]interface{}{
		"gemini-flash": map[string]interface{}{
			"provider":            "gemini",
			"model":               "gemini-2.5-flash",
			"api_timeout":         "60s",
			"temperature":         0.2,
			"requests_per_second": 2.0,
		},
		"gemini-pro": map[string]interface{}{
			"provider":            "gemini",
			"model":               "gemini-2.5-pro",
			"api_timeout":         "90s",
			"temperature":         0.2,
			"requests_per_second": 1.0,
		},
	})

	// -- Browserbase --
	v.SetDefault("browserbase.api_url", "https://api.browserbase.com")
	v.SetDefault("browserbase.connect_url", "wss://connect.browserbase.com")
	v.SetDefault("browserbase.keep_alive", true)
	v.SetDefault("browserbase.block_ads", false)
	v.SetDefault("browserbase.viewport_width", 1280)
	v.SetDefault("browserbase.viewport_height", 800)
	v.SetDefault("browserbase.request_timeout", "30s")
	v.SetDefault("browserbase.retry_max", 3)
	v.SetDefault("browserbase.rate_limit", 5.0)

	// -- Browser --
	v.SetDefault("browser.max_elements", 150)
	v.SetDefault("browser.max_text_length", 20000)
	v.SetDefault("browser.attach_timeout", "15s")
	v.SetDefault("browser.post_action_delay", "500ms")

	// -- Server --
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.run_timeout", "10m")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data.
	v.BindEnv("browserbase.api_key", "BROWSERBASE_API_KEY")
	v.BindEnv("browserbase.project_id", "BROWSERBASE_PROJECT_ID")
	v.BindEnv("database.url", "DIRECTOR_DATABASE_URL")
	v.BindEnv("server.jwt_secret", "DIRECTOR_JWT_SECRET")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Model API keys live in a map, which viper cannot bind per entry, so they
	// are resolved from the provider's conventional variable when left empty.
	for name, m := range cfg.LLMCfg.Models {
		if m.APIKey == "" {
			m.APIKey = apiKeyFromEnv(m.Provider)
			cfg.LLMCfg.Models[name] = m
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func apiKeyFromEnv(p LLMProvider) string {
	switch p {
	case ProviderGemini:
		if k := os.Getenv("GEMINI_API_KEY"); k != "" {
			return k
		}
		return os.Getenv("GOOGLE_API_KEY")
	case ProviderOpenAI:
		return os.Getenv("OPENAI_API_KEY")
	default:
		return ""
	}
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.AgentCfg.Validate(); err != nil {
		return fmt.Errorf("agent configuration invalid: %w", err)
	}
	if err := c.LLMCfg.Validate(); err != nil {
		return fmt.Errorf("llm configuration invalid: %w", err)
	}
	if c.BrowserbaseCfg.RequestTimeout <= 0 {
		return fmt.Errorf("browserbase.request_timeout must be a positive duration")
	}
	if c.BrowserCfg.MaxElements <= 0 {
		return fmt.Errorf("browser.max_elements must be a positive integer")
	}
	return nil
}

// Validate checks the AgentConfig settings.
func (a *AgentConfig) Validate() error {
	if a.MaxSteps <= 0 {
		return fmt.Errorf("max_steps must be a positive integer")
	}
	if a.ActionTimeout <= 0 || a.NavigationTimeout <= 0 {
		return fmt.Errorf("action_timeout and navigation_timeout must be positive durations")
	}
	if a.DecisionRetries < 0 || a.DecisionRetries > 1 {
		return fmt.Errorf("decision_retries must be 0 or 1")
	}
	return nil
}

// Validate checks the model routing table.
func (l *LLMRouterConfig) Validate() error {
	for _, name := range []string{l.DefaultFastModel, l.DefaultPowerfulModel} {
		m, ok := l.Models[name]
		if !ok {
			return fmt.Errorf("model '%s' is referenced as a default but not configured", name)
		}
		switch m.Provider {
		case ProviderGemini, ProviderOpenAI:
		default:
			return fmt.Errorf("model '%s' has unsupported provider '%s'", name, m.Provider)
		}
	}
	return nil
}

// RequireBrowserbase returns an error naming the missing credentials, if any.
// It is checked by the commands that actually open remote sessions.
func (b BrowserbaseConfig) RequireBrowserbase() error {
	var missing []string
	if b.APIKey == "" {
		missing = append(missing, "BROWSERBASE_API_KEY")
	}
	if b.ProjectID == "" {
		missing = append(missing, "BROWSERBASE_PROJECT_ID")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing browserbase credentials: %s", strings.Join(missing, ", "))
	}
	return nil
}

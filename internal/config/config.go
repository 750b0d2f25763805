// Package config loads voice-relay configuration from an optional TOML file
// and the environment. Environment variables win over the file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Defaults.
const (
	DefaultPort            = 8080
	DefaultHistoryLimit    = 10
	DefaultGeminiModel     = "gemini-2.0-flash"
	DefaultDeepgramModel   = "nova-2"
	DefaultLanguage        = "en"
	DefaultMinAudioBytes   = 1000
	DefaultMaxTokens       = 512
	DefaultTemperature     = 0.7
	DefaultProviderTimeout = 30 * time.Second
	DefaultTokenTTL        = 24 * time.Hour
	DefaultLogLevel        = "info"
	DefaultHistoryIdleTTL  = time.Hour
	DefaultMaxSessions     = 16
)

// EnvConfigPath names the variable holding the config file path.
const EnvConfigPath = "VOICE_RELAY_CONFIG"

// Config is the complete service configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Auth     AuthConfig     `toml:"auth"`
	Deepgram DeepgramConfig `toml:"deepgram"`
	Gemini   GeminiConfig   `toml:"gemini"`
	History  HistoryConfig  `toml:"history"`
	Log      LogConfig      `toml:"log"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Port        int    `toml:"port"`
	CORSOrigins string `toml:"cors_origins"` // comma-separated, "*" for any
	StaticDir   string `toml:"static_dir"`   // optional web client
	RateLimit   int    `toml:"rate_limit"`   // REST requests per minute per subject, 0 disables
}

// AuthConfig controls bearer token verification.
type AuthConfig struct {
	JWTSecret string        `toml:"jwt_secret"`
	Issuer    string        `toml:"issuer"`
	TokenTTL  time.Duration `toml:"token_ttl"`
}

// DeepgramConfig configures transcription.
type DeepgramConfig struct {
	APIKey        string        `toml:"api_key"`
	BaseURL       string        `toml:"base_url"`
	Model         string        `toml:"model"`
	Language      string        `toml:"language"`
	MinAudioBytes int           `toml:"min_audio_bytes"`
	Timeout       time.Duration `toml:"timeout"`
}

// GeminiConfig configures generation.
type GeminiConfig struct {
	APIKey       string        `toml:"api_key"`
	BaseURL      string        `toml:"base_url"`
	Model        string        `toml:"model"`
	MaxTokens    int           `toml:"max_tokens"`
	Temperature  float64       `toml:"temperature"`
	SystemPrompt string        `toml:"system_prompt"`
	Timeout      time.Duration `toml:"timeout"`
}

// HistoryConfig bounds per-session conversation history.
type HistoryConfig struct {
	Limit       int           `toml:"limit"`
	MaxSessions int           `toml:"max_sessions"` // REST histories per subject
	IdleTTL     time.Duration `toml:"idle_ttl"`     // drop REST histories unused this long, 0 keeps them
}

// LogConfig controls logging.
type LogConfig struct {
	Level string `toml:"level"`
}

// Default returns a Config with every default filled in.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        DefaultPort,
			CORSOrigins: "*",
		},
		Auth: AuthConfig{
			Issuer:   "voice-relay",
			TokenTTL: DefaultTokenTTL,
		},
		Deepgram: DeepgramConfig{
			Model:         DefaultDeepgramModel,
			Language:      DefaultLanguage,
			MinAudioBytes: DefaultMinAudioBytes,
			Timeout:       DefaultProviderTimeout,
		},
		Gemini: GeminiConfig{
			Model:       DefaultGeminiModel,
			MaxTokens:   DefaultMaxTokens,
			Temperature: DefaultTemperature,
			Timeout:     DefaultProviderTimeout,
		},
		History: HistoryConfig{
			Limit:       DefaultHistoryLimit,
			MaxSessions: DefaultMaxSessions,
			IdleTTL:     DefaultHistoryIdleTTL,
		},
		Log: LogConfig{
			Level: DefaultLogLevel,
		},
	}
}

// Load reads path (if non-empty) over the defaults, then applies
// environment overrides. It does not validate.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		md, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Path returns the config file path from flagValue or VOICE_RELAY_CONFIG.
func Path(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv(EnvConfigPath)
}

// ValidationError is a single invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return "config: " + strings.Join(msgs, "; ")
}

// Validate checks the configuration and returns every problem found.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, ValidationError{"server.port", fmt.Sprintf("invalid port %d", c.Server.Port)})
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, ValidationError{"server.rate_limit", "must not be negative"})
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, ValidationError{"auth.jwt_secret", "required (set JWT_SECRET)"})
	}
	if c.History.Limit <= 0 {
		errs = append(errs, ValidationError{"history.limit", "must be positive"})
	}
	if c.History.MaxSessions <= 0 {
		errs = append(errs, ValidationError{"history.max_sessions", "must be positive"})
	}
	if c.History.IdleTTL < 0 {
		errs = append(errs, ValidationError{"history.idle_ttl", "must not be negative"})
	}
	if c.Deepgram.MinAudioBytes < 0 {
		errs = append(errs, ValidationError{"deepgram.min_audio_bytes", "must not be negative"})
	}
	if c.Gemini.Temperature < 0 || c.Gemini.Temperature > 2 {
		errs = append(errs, ValidationError{"gemini.temperature", "must be between 0 and 2"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// CORSOriginList splits Server.CORSOrigins.
func (c *Config) CORSOriginList() []string {
	var out []string
	for _, o := range strings.Split(c.Server.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

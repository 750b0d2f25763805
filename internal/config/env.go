package config

import (
	"fmt"
	"os"
	"strconv"
)

// ApplyEnv overrides fields from environment variables.
func (c *Config) ApplyEnv() error {
	if v, ok, err := envInt("PORT"); err != nil {
		return err
	} else if ok {
		c.Server.Port = v
	}
	if v, ok, err := envInt("HISTORY_LIMIT"); err != nil {
		return err
	} else if ok {
		c.History.Limit = v
	}

	if v, ok, err := envInt("RATE_LIMIT"); err != nil {
		return err
	} else if ok {
		c.Server.RateLimit = v
	}

	setString(&c.Server.CORSOrigins, "CORS_ORIGINS")
	setString(&c.Auth.JWTSecret, "JWT_SECRET")
	setString(&c.Deepgram.APIKey, "DEEPGRAM_API_KEY")
	setString(&c.Deepgram.Model, "DEEPGRAM_MODEL")
	setString(&c.Gemini.Model, "GEMINI_MODEL")
	setString(&c.Log.Level, "LOG_LEVEL")

	// GOOGLE_API_KEY is what Google's own tooling reads.
	if !setString(&c.Gemini.APIKey, "GEMINI_API_KEY") {
		setString(&c.Gemini.APIKey, "GOOGLE_API_KEY")
	}
	return nil
}

// setString assigns the variable to dst when it is set and non-empty.
func setString(dst *string, key string) bool {
	if v := os.Getenv(key); v != "" {
		*dst = v
		return true
	}
	return false
}

func envInt(key string) (int, bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false, fmt.Errorf("config: %s=%q is not an integer", key, v)
	}
	return n, true, nil
}

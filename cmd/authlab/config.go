package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/authlab"
	"github.com/joho/godotenv"
)

// serverConfig is everything serve needs besides the engine settings.
type serverConfig struct {
	Addr           string
	RedisAddr      string
	AllowedOrigins []string
	Debug          bool
	Engine         authlab.Config
}

// loadConfig reads AUTHLAB_* variables, loading envFile first when it exists.
func loadConfig(envFile string) (serverConfig, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return serverConfig{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	cfg := serverConfig{
		Addr:           getEnv("AUTHLAB_ADDR", ":8080"),
		RedisAddr:      os.Getenv("AUTHLAB_REDIS_ADDR"),
		AllowedOrigins: splitList(getEnv("AUTHLAB_CORS_ORIGINS", "http://localhost:3000")),
		Engine:         authlab.DefaultConfig(),
	}

	var err error
	if cfg.Debug, err = getBool("AUTHLAB_DEBUG", false); err != nil {
		return serverConfig{}, err
	}

	e := &cfg.Engine
	e.Token.Secret = []byte(os.Getenv("AUTHLAB_TOKEN_SECRET"))
	e.Token.Issuer = getEnv("AUTHLAB_TOKEN_ISSUER", e.Token.Issuer)
	e.TOTP.Issuer = getEnv("AUTHLAB_TOTP_ISSUER", e.TOTP.Issuer)
	e.OAuth.ClientID = getEnv("AUTHLAB_OAUTH_CLIENT_ID", e.OAuth.ClientID)
	e.OAuth.ClientSecret = getEnv("AUTHLAB_OAUTH_CLIENT_SECRET", e.OAuth.ClientSecret)
	e.OAuth.RedirectURI = getEnv("AUTHLAB_OAUTH_REDIRECT_URI", e.OAuth.RedirectURI)
	e.Password.Scheme = getEnv("AUTHLAB_PASSWORD_SCHEME", e.Password.Scheme)

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"AUTHLAB_SESSION_LIFETIME", &e.Session.Lifetime},
		{"AUTHLAB_ACCESS_TTL", &e.Token.AccessTTL},
		{"AUTHLAB_REFRESH_TTL", &e.Token.RefreshTTL},
		{"AUTHLAB_TOKEN_LEEWAY", &e.Token.Leeway},
		{"AUTHLAB_MFA_CHALLENGE_TTL", &e.TOTP.ChallengeTTL},
		{"AUTHLAB_OAUTH_CODE_TTL", &e.OAuth.CodeTTL},
	}
	for _, d := range durations {
		if err := getDuration(d.key, d.dst); err != nil {
			return serverConfig{}, err
		}
	}

	if e.Metrics.EnableLatencyHistograms, err = getBool("AUTHLAB_LATENCY_HISTOGRAMS", false); err != nil {
		return serverConfig{}, err
	}
	return cfg, nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func getDuration(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = d
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

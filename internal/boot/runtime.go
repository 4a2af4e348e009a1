// Package boot validates the runtime settings the server process needs before anything starts.
package boot

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/memohai/rolodex/internal/config"
)

// RuntimeConfig holds parsed runtime settings (JWT, server address, lock backend).
// Values may be overridden by environment variables (HTTP_ADDR, ROLODEX_JWT_SECRET, LOCK_BACKEND).
type RuntimeConfig struct {
	JwtSecret    string
	JwtExpiresIn time.Duration
	ServerAddr   string
	LockBackend  string
}

// ProvideRuntimeConfig builds RuntimeConfig from the given config and applies env overrides.
func ProvideRuntimeConfig(cfg config.Config) (*RuntimeConfig, error) {
	ret := &RuntimeConfig{
		JwtSecret:   cfg.Auth.JWTSecret,
		ServerAddr:  cfg.Server.Addr,
		LockBackend: cfg.Lock.Backend,
	}
	if value := os.Getenv("ROLODEX_JWT_SECRET"); value != "" {
		ret.JwtSecret = value
	}
	if value := os.Getenv("HTTP_ADDR"); value != "" {
		ret.ServerAddr = value
	}
	if value := os.Getenv("LOCK_BACKEND"); value != "" {
		ret.LockBackend = value
	}

	if strings.TrimSpace(ret.JwtSecret) == "" {
		return nil, errors.New("jwt secret is required")
	}
	jwtExpiresIn, err := time.ParseDuration(cfg.Auth.JWTExpiresIn)
	if err != nil {
		return nil, fmt.Errorf("invalid jwt expires in: %w", err)
	}
	if jwtExpiresIn <= 0 {
		return nil, fmt.Errorf("invalid jwt expires in: %s", cfg.Auth.JWTExpiresIn)
	}
	ret.JwtExpiresIn = jwtExpiresIn

	switch ret.LockBackend {
	case "", "postgres", "redis", "memory":
	default:
		return nil, fmt.Errorf("unknown lock backend %q", ret.LockBackend)
	}
	if strings.TrimSpace(cfg.Auth.OperatorPasswordHash) == "" {
		return nil, errors.New("auth.operator_password_hash is required (see rolodexctl hash-password)")
	}
	return ret, nil
}

// Apply writes the resolved values back so every component reads the same settings.
func (r *RuntimeConfig) Apply(cfg config.Config) config.Config {
	cfg.Auth.JWTSecret = r.JwtSecret
	cfg.Auth.JWTExpiresIn = r.JwtExpiresIn.String()
	cfg.Server.Addr = r.ServerAddr
	cfg.Lock.Backend = r.LockBackend
	return cfg
}

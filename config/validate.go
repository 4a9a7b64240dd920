package config

import (
	"fmt"
	"net"
	"strings"
)

// Validate checks runtime config for obvious operator mistakes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	if strings.TrimSpace(cfg.RPCURL) == "" {
		return fmt.Errorf("RPC_URL is required")
	}
	if strings.TrimSpace(cfg.RPCUser) == "" {
		return fmt.Errorf("RPC_USER is required")
	}
	if strings.TrimSpace(cfg.RPCPass) == "" {
		return fmt.Errorf("RPC_PASS is required")
	}

	if _, ok := defaultsByNetwork[cfg.Network]; !ok {
		return fmt.Errorf("NETWORK %q is not a known network", cfg.Network)
	}

	if strings.TrimSpace(cfg.ServerBindURL) == "" {
		return fmt.Errorf("SERVER_BIND_URL is required")
	}
	if _, _, err := net.SplitHostPort(cfg.ServerBindURL); err != nil {
		return fmt.Errorf("SERVER_BIND_URL must be host:port: %w", err)
	}
	if strings.TrimSpace(cfg.MetricsBindURL) != "" {
		if _, _, err := net.SplitHostPort(cfg.MetricsBindURL); err != nil {
			return fmt.Errorf("METRICS_BIND_URL must be host:port: %w", err)
		}
	}

	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error")
	}

	return nil
}

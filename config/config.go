// Package config handles application configuration.
//
// Everything is read once at startup from the environment per §6.3 and
// passed down as a plain value — there is no global mutable config
// singleton.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// NetworkType identifies the upstream chain's address/version rules.
type NetworkType string

const (
	Bellscoin NetworkType = "Bellscoin"
)

// Config holds runtime configuration for the indexer process.
type Config struct {
	// Upstream chain RPC (required).
	RPCURL  string `conf:"RPC_URL"`
	RPCUser string `conf:"RPC_USER"`
	RPCPass string `conf:"RPC_PASS"`

	// Network identifies address/version rules and derives the defaults
	// below when they are not explicitly overridden.
	Network NetworkType `conf:"NETWORK"`

	// HTTP/SSE API bind address.
	ServerBindURL string `conf:"SERVER_BIND_URL"`

	// ServerAllowedIPs restricts the API to these IPs/CIDRs; empty allows
	// all. ServerCORSOrigins adds CORS headers for these origins ("*" for
	// any); empty disables CORS entirely.
	ServerAllowedIPs  []string `conf:"SERVER_ALLOWED_IPS"`
	ServerCORSOrigins []string `conf:"SERVER_CORS_ORIGINS"`

	// MetricsBindURL serves Prometheus's /metrics on its own mux, kept off
	// the API's bind address so scraping never competes with the REST/SSE
	// surface for a port or a CORS policy. Empty disables it.
	MetricsBindURL string `conf:"METRICS_BIND_URL"`

	// Blocks below StartHeight are persisted only as a cursor advance; no
	// envelope parsing is attempted for them.
	StartHeight uint32 `conf:"START_HEIGHT"`

	// Below this height only the first envelope per transaction may
	// deploy a token (legacy single-inscription-per-tx rule).
	MultipleInputBel20ActivationHeight uint32 `conf:"MULTIPLE_INPUT_BEL_20_ACTIVATION_HEIGHT"`

	// DataDir is where the token store's Badger files live.
	DataDir string `conf:"DATA_DIR"`

	// Log holds logging settings.
	Log LogConfig
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"LOG_LEVEL"`
	File  string `conf:"LOG_FILE"`
	JSON  bool   `conf:"LOG_JSON"`
}

// networkDefaults holds the per-network derived defaults named in §6.3.
type networkDefaults struct {
	startHeight       uint32
	activationHeight  uint32
}

var defaultsByNetwork = map[NetworkType]networkDefaults{
	Bellscoin: {startHeight: 26371, activationHeight: 133000},
}

// Load reads configuration from the environment. RPC_URL, RPC_USER and
// RPC_PASS are required; everything else falls back to network-derived or
// literal defaults.
func Load() (*Config, error) {
	cfg := &Config{
		RPCURL:        os.Getenv("RPC_URL"),
		RPCUser:       os.Getenv("RPC_USER"),
		RPCPass:       os.Getenv("RPC_PASS"),
		Network:       NetworkType(getenvDefault("NETWORK", string(Bellscoin))),
		ServerBindURL:     getenvDefault("SERVER_BIND_URL", "0.0.0.0:8000"),
		ServerAllowedIPs:  splitCSV(os.Getenv("SERVER_ALLOWED_IPS")),
		ServerCORSOrigins: splitCSV(os.Getenv("SERVER_CORS_ORIGINS")),
		MetricsBindURL:    os.Getenv("METRICS_BIND_URL"),
		DataDir:           getenvDefault("DATA_DIR", DefaultDataDir()),
		Log: LogConfig{
			Level: getenvDefault("LOG_LEVEL", "info"),
			File:  os.Getenv("LOG_FILE"),
			JSON:  parseBool(os.Getenv("LOG_JSON")),
		},
	}

	def := defaultsByNetwork[cfg.Network]

	var err error
	cfg.StartHeight, err = getenvUint32Default("START_HEIGHT", def.startHeight)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.MultipleInputBel20ActivationHeight, err = getenvUint32Default(
		"MULTIPLE_INPUT_BEL_20_ACTIVATION_HEIGHT", def.activationHeight)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

func getenvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvUint32Default(key string, fallback uint32) (uint32, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%s must be a non-negative integer: %w", key, err)
	}
	return uint32(n), nil
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// DefaultDataDir returns the default data directory.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".bel20indexer"
	}
	return filepath.Join(home, ".bel20indexer")
}

// StoreDir returns the token store's data directory for this network.
func (c *Config) StoreDir() string {
	return filepath.Join(c.DataDir, strings.ToLower(string(c.Network)))
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

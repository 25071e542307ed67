// Package config loads the walletd daemon configuration: built-in defaults,
// overlaid by an optional YAML file, overlaid by environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"walletid/internal/relay"
)

const (
	TransportMemory = "memory"
	TransportNATS   = "nats"
)

// Config is the fully resolved daemon configuration.
type Config struct {
	ChainID string

	RelayTransport string
	RelayChannel   string
	NATS           relay.NATSConfig

	StatePath   string
	StateSecret string

	LoginRateRPS      float64
	LoginRateBurst    int
	LoginRateIdleTTL  time.Duration
	ReconcileInterval time.Duration
	ReconcileMaxAge   time.Duration

	MetricsAddr string
	LogLevel    string
}

// DaemonConfig is the YAML file shape. Pointer and zero-value fields
// distinguish "absent" from "explicitly zero" when merging over defaults.
type DaemonConfig struct {
	ChainID string       `yaml:"chainId"`
	Relay   RelaySection `yaml:"relay"`
	State   StateSection `yaml:"state"`
	Login   LoginSection `yaml:"login"`
	Metrics struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`
	LogLevel string `yaml:"logLevel"`
}

type RelaySection struct {
	Transport string           `yaml:"transport"`
	Channel   string           `yaml:"channel"`
	NATS      relay.NATSConfig `yaml:"nats"`
}

type StateSection struct {
	Path string `yaml:"path"`
}

type LoginSection struct {
	RateRPS           *float64 `yaml:"rateRps"`
	RateBurst         *int     `yaml:"rateBurst"`
	RateIdleTTL       Duration `yaml:"rateIdleTtl"`
	ReconcileInterval Duration `yaml:"reconcileInterval"`
	ReconcileMaxAge   Duration `yaml:"reconcileMaxAge"`
}

// Duration decodes from YAML either as a Go duration string ("10m", "1h30m")
// or as a bare integer nanosecond count.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err == nil {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("config: invalid duration %q: %w", raw, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var nanos int64
	if err := value.Decode(&nanos); err != nil {
		return fmt.Errorf("config: duration must be a string like \"10m\" or an integer nanosecond count")
	}
	*d = Duration(nanos)
	return nil
}

func DefaultConfig() Config {
	return Config{
		ChainID:           "walletid-local",
		RelayTransport:    TransportMemory,
		RelayChannel:      "walletd",
		StatePath:         "walletd.state",
		LoginRateRPS:      5,
		LoginRateBurst:    10,
		LoginRateIdleTTL:  10 * time.Minute,
		ReconcileInterval: time.Minute,
		ReconcileMaxAge:   time.Hour,
		MetricsAddr:       "",
		LogLevel:          "info",
	}
}

// LoadFromPath resolves the configuration. A missing or unreadable file falls
// back to defaults; environment overrides always apply last.
func LoadFromPath(configPath string) Config {
	cfg := DefaultConfig()

	candidates := make([]string, 0, 2)
	if configPath != "" {
		candidates = append(candidates, configPath)
	} else {
		candidates = append(candidates, "configs/walletd.yaml", "walletd.yaml")
	}

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var parsed DaemonConfig
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			continue
		}
		Merge(&cfg, parsed)
		break
	}

	ApplyEnvOverrides(&cfg)
	return cfg
}

func Merge(dst *Config, src DaemonConfig) {
	if src.ChainID != "" {
		dst.ChainID = src.ChainID
	}
	if src.Relay.Transport != "" {
		dst.RelayTransport = src.Relay.Transport
	}
	if src.Relay.Channel != "" {
		dst.RelayChannel = src.Relay.Channel
	}
	if src.Relay.NATS.URL != "" {
		dst.NATS = src.Relay.NATS
	}
	if src.State.Path != "" {
		dst.StatePath = src.State.Path
	}
	if src.Login.RateRPS != nil {
		dst.LoginRateRPS = *src.Login.RateRPS
	}
	if src.Login.RateBurst != nil {
		dst.LoginRateBurst = *src.Login.RateBurst
	}
	if src.Login.RateIdleTTL != 0 {
		dst.LoginRateIdleTTL = time.Duration(src.Login.RateIdleTTL)
	}
	if src.Login.ReconcileInterval != 0 {
		dst.ReconcileInterval = time.Duration(src.Login.ReconcileInterval)
	}
	if src.Login.ReconcileMaxAge != 0 {
		dst.ReconcileMaxAge = time.Duration(src.Login.ReconcileMaxAge)
	}
	if src.Metrics.Addr != "" {
		dst.MetricsAddr = src.Metrics.Addr
	}
	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}
}

// ApplyEnvOverrides applies WALLETID_* variables on top of whatever the file
// produced. The state secret is environment-only; it never lives in a file.
func ApplyEnvOverrides(cfg *Config) {
	if v := envString("WALLETID_CHAIN_ID"); v != "" {
		cfg.ChainID = v
	}
	if v := envString("WALLETID_RELAY_TRANSPORT"); v != "" {
		cfg.RelayTransport = v
	}
	if v := envString("WALLETID_RELAY_CHANNEL"); v != "" {
		cfg.RelayChannel = v
	}
	if v := envString("WALLETID_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := envString("WALLETID_STATE_PATH"); v != "" {
		cfg.StatePath = v
	}
	cfg.StateSecret = envString("WALLETID_STATE_SECRET")
	if v := envString("WALLETID_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := envString("WALLETID_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := envString("WALLETID_LOGIN_RATE_RPS"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil && parsed > 0 {
			cfg.LoginRateRPS = parsed
		}
	}
	if v := envString("WALLETID_LOGIN_RATE_BURST"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			cfg.LoginRateBurst = parsed
		}
	}
}

func envString(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

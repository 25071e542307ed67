package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }

func TestMergeOverlaysOnlyPresentFields(t *testing.T) {
	dst := DefaultConfig()
	src := DaemonConfig{
		ChainID: "walletid-main",
		Login: LoginSection{
			RateRPS:         floatPtr(2),
			RateBurst:       intPtr(4),
			ReconcileMaxAge: Duration(30 * time.Minute),
		},
	}
	src.Relay.Transport = TransportNATS
	src.Relay.NATS.URL = "nats://relay:4222"

	Merge(&dst, src)

	if dst.ChainID != "walletid-main" {
		t.Fatalf("chainId = %q", dst.ChainID)
	}
	if dst.RelayTransport != TransportNATS || dst.NATS.URL != "nats://relay:4222" {
		t.Fatalf("relay = %q %q", dst.RelayTransport, dst.NATS.URL)
	}
	if dst.LoginRateRPS != 2 || dst.LoginRateBurst != 4 {
		t.Fatalf("rate = %v/%d", dst.LoginRateRPS, dst.LoginRateBurst)
	}
	if dst.ReconcileMaxAge != 30*time.Minute {
		t.Fatalf("reconcileMaxAge = %s", dst.ReconcileMaxAge)
	}
	// Absent fields keep their defaults.
	if dst.RelayChannel != "walletd" || dst.ReconcileInterval != time.Minute {
		t.Fatalf("defaults lost: %q %s", dst.RelayChannel, dst.ReconcileInterval)
	}
}

func TestLoadFromPathReadsYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "walletd.yaml")
	raw := []byte("chainId: from-file\nrelay:\n  channel: room-7\nlogin:\n  rateRps: 1\n")
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg := LoadFromPath(path)
	if cfg.ChainID != "from-file" || cfg.RelayChannel != "room-7" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.LoginRateRPS != 1 {
		t.Fatalf("rateRps = %v", cfg.LoginRateRPS)
	}
}

func TestLoadFromPathParsesDurationStrings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "walletd.yaml")
	raw := []byte("chainId: from-file\nlogin:\n  rateIdleTtl: 10m\n  reconcileInterval: 90s\n  reconcileMaxAge: 7200000000000\n")
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg := LoadFromPath(path)
	if cfg.ChainID != "from-file" {
		t.Fatalf("duration field spoiled the rest of the file: %+v", cfg)
	}
	if cfg.LoginRateIdleTTL != 10*time.Minute {
		t.Fatalf("rateIdleTtl = %s", cfg.LoginRateIdleTTL)
	}
	if cfg.ReconcileInterval != 90*time.Second {
		t.Fatalf("reconcileInterval = %s", cfg.ReconcileInterval)
	}
	// Bare integers still decode as nanoseconds.
	if cfg.ReconcileMaxAge != 2*time.Hour {
		t.Fatalf("reconcileMaxAge = %s", cfg.ReconcileMaxAge)
	}
}

func TestLoadFromPathMissingFileFallsBackToDefaults(t *testing.T) {
	cfg := LoadFromPath(filepath.Join(t.TempDir(), "nope.yaml"))
	if cfg.ChainID != DefaultConfig().ChainID {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestApplyEnvOverridesWinOverFile(t *testing.T) {
	t.Setenv("WALLETID_CHAIN_ID", "from-env")
	t.Setenv("WALLETID_STATE_SECRET", "hunter2")
	t.Setenv("WALLETID_LOGIN_RATE_RPS", "7.5")

	cfg := DefaultConfig()
	cfg.ChainID = "from-file"
	ApplyEnvOverrides(&cfg)

	if cfg.ChainID != "from-env" {
		t.Fatalf("chainId = %q", cfg.ChainID)
	}
	if cfg.StateSecret != "hunter2" {
		t.Fatal("state secret not taken from the environment")
	}
	if cfg.LoginRateRPS != 7.5 {
		t.Fatalf("rateRps = %v", cfg.LoginRateRPS)
	}
}

func TestApplyEnvOverridesIgnoresInvalidNumbers(t *testing.T) {
	t.Setenv("WALLETID_LOGIN_RATE_RPS", "a lot")
	t.Setenv("WALLETID_LOGIN_RATE_BURST", "-3")

	cfg := DefaultConfig()
	ApplyEnvOverrides(&cfg)

	if cfg.LoginRateRPS != DefaultConfig().LoginRateRPS {
		t.Fatalf("rateRps = %v", cfg.LoginRateRPS)
	}
	if cfg.LoginRateBurst != DefaultConfig().LoginRateBurst {
		t.Fatalf("rateBurst = %v", cfg.LoginRateBurst)
	}
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"walletid/internal/config"
	"walletid/internal/credential"
	"walletid/internal/identity"
	"walletid/internal/keymanager"
	"walletid/internal/ledger"
	"walletid/internal/login"
	"walletid/internal/platform/privacylog"
	"walletid/internal/platform/ratelimiter"
	"walletid/internal/relay"
	"walletid/internal/storage"
	"walletid/pkg/models"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "Path to walletd.yaml (optional)")
	transport := flag.String("transport", "", "Relay transport override: memory | nats")
	account := flag.String("account", "", "Account id to create when no state exists")
	username := flag.String("username", "", "Username to reserve when creating the account")
	flag.Parse()
	if *showVersion {
		fmt.Printf("walletd version=%s commit=%s build_date=%s\n", version, commit, buildDate)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *transport != "" {
		_ = os.Setenv("WALLETID_RELAY_TRANSPORT", *transport)
	}

	cfg := config.LoadFromPath(*configPath)
	logger := newLogger(cfg.LogLevel)

	if err := run(ctx, cfg, logger, *account, *username); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("walletd failed", "error", err)
		os.Exit(1)
	}
	logger.Info("walletd stopped")
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger, account, username string) error {
	password := strings.TrimSpace(os.Getenv("WALLETID_PASSWORD"))
	if password == "" {
		return errors.New("WALLETID_PASSWORD must be set")
	}

	state, err := newStateStore(cfg)
	if err != nil {
		return err
	}
	chain := ledger.NewMemoryLedger(cfg.ChainID)
	keys := keymanager.New(keymanager.Config{Logger: logger})
	idn, err := identity.NewManager(identity.Config{
		Keys:   keys,
		Chain:  chain,
		State:  state,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	if idn.Status() == models.StatusUnknown {
		if account == "" {
			return errors.New("no wallet state found; pass -account to create one")
		}
		rec, mnemonic, err := idn.CreateAccount(ctx, account, username, password)
		if err != nil {
			return err
		}
		// Printed exactly once; walletd keeps no copy.
		fmt.Fprintf(os.Stderr, "recovery phrase for %s:\n%s\n", rec.AccountID, mnemonic)
		if err := idn.CompleteSetup(ctx, password); err != nil {
			return err
		}
	}

	codec := credential.New(credential.NewRegistryResolver(chain), logger)
	wallet, err := login.NewWallet(login.WalletConfig{
		Identity: idn,
		Codec:    codec,
		Limiter:  ratelimiter.New(cfg.LoginRateRPS, cfg.LoginRateBurst, cfg.LoginRateIdleTTL),
		Metrics:  login.NewMetrics(prometheus.DefaultRegisterer),
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	conn, err := newRelay(cfg, logger)
	if err != nil {
		return err
	}
	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, logger)
	}
	go reconcileLoop(ctx, idn, cfg, logger)

	logger.Info("walletd serving", "channel", cfg.RelayChannel, "transport", cfg.RelayTransport)
	return wallet.Serve(ctx, conn, cfg.RelayChannel, password)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(privacylog.Wrap(handler))
}

func newStateStore(cfg config.Config) (storage.Store, error) {
	if cfg.StateSecret == "" {
		return nil, errors.New("WALLETID_STATE_SECRET must be set")
	}
	return storage.NewFileStore(cfg.StatePath, cfg.StateSecret)
}

func newRelay(cfg config.Config, logger *slog.Logger) (relay.Relay, error) {
	switch cfg.RelayTransport {
	case config.TransportNATS:
		return relay.DialNATS(cfg.NATS, logger)
	case config.TransportMemory, "":
		return relay.NewBus().Session(), nil
	default:
		return nil, fmt.Errorf("unknown relay transport %q", cfg.RelayTransport)
	}
}

func reconcileLoop(ctx context.Context, idn *identity.Manager, cfg config.Config, logger *slog.Logger) {
	ticker := time.NewTicker(cfg.ReconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := idn.ReconcilePending(ctx, cfg.ReconcileMaxAge); err != nil && !errors.Is(err, identity.ErrNoAccount) {
				logger.Warn("reconcile sweep failed", "error", err)
			}
		}
	}
}

func serveMetrics(addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics endpoint failed", "error", err)
	}
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/blockhost/root-agent/internal/actions"
	"github.com/blockhost/root-agent/internal/config"
	"github.com/blockhost/root-agent/internal/daemon"
	"github.com/blockhost/root-agent/internal/events"
	"github.com/blockhost/root-agent/internal/health"
	"github.com/blockhost/root-agent/internal/ledger"
	"github.com/blockhost/root-agent/internal/metrics"
	"github.com/blockhost/root-agent/internal/reconciler"
	"github.com/blockhost/root-agent/internal/runner"
	"github.com/blockhost/root-agent/internal/sandbox"
	"github.com/blockhost/root-agent/internal/secretstore"
	"github.com/blockhost/root-agent/internal/types"
	"github.com/blockhost/root-agent/pkg/log"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "root-agentd",
	Short:   "root-agentd - privileged operations broker for blockhost hosts",
	Version: Version,
	RunE:    runDaemon,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"root-agentd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", true, "Output logs in JSON format")
	rootCmd.Flags().String("service", "blockhost", "Service name; derives default socket/config/state paths")
	rootCmd.Flags().String("config", "", "Path to YAML config file (defaults baked in if absent)")
	rootCmd.Flags().Bool("sandbox", false, "Use a local containerd/Lima sandbox instead of real qm")
	rootCmd.Flags().Bool("skip-root-check", false, "Skip the effective-uid-0 startup assertion (testing only)")

	cobra.OnInitialize(initLogging)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

func runDaemon(cmd *cobra.Command, args []string) error {
	service, _ := cmd.Flags().GetString("service")
	configPath, _ := cmd.Flags().GetString("config")
	useSandbox, _ := cmd.Flags().GetBool("sandbox")
	skipRootCheck, _ := cmd.Flags().GetBool("skip-root-check")

	logger := log.WithComponent("root-agentd")

	if !skipRootCheck {
		if err := daemon.AssertRoot(); err != nil {
			logger.Error().Err(err).Msg("startup assertion failed")
			os.Exit(1)
		}
	}

	cfg, err := config.Load(configPath, service)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	for _, result := range health.CheckBinaries() {
		if !result.Present {
			logger.Warn().Str("binary", result.Binary).Msg("required binary not found on PATH")
		}
	}

	vmidRange, ipPool, ipv6Pool, err := poolsFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("derive allocation pools: %w", err)
	}

	led, err := ledger.NewFileLedger(cfg.LedgerFile, vmidRange, ipPool, ipv6Pool)
	if err != nil {
		return fmt.Errorf("open ledger %s: %w", cfg.LedgerFile, err)
	}

	masterKeyPath := cfg.ConfigDir + "/master.key"
	store, err := secretstore.LoadOrCreateMasterKey(masterKeyPath)
	if err != nil {
		return fmt.Errorf("load master key %s: %w", masterKeyPath, err)
	}

	registry, regErrs := actions.Default()
	for _, e := range regErrs {
		logger.Warn().Err(e).Msg("action registration collision")
	}

	deps := &actions.Deps{
		Runner:  runner.New(),
		Ledger:  led,
		Config:  cfg,
		Secrets: store,
	}

	if useSandbox {
		mgr, err := sandbox.NewManager(cfg.Sandbox.DataDir)
		if err != nil {
			return fmt.Errorf("create sandbox manager: %w", err)
		}
		bootCtx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		err = mgr.EnsureRunning(bootCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("start sandbox runtime: %w", err)
		}
		logger.Info().Str("socket", mgr.SocketPath).Msg("sandbox runtime ready")

		backend, err := mgr.Backend()
		if err != nil {
			return fmt.Errorf("connect sandbox backend: %w", err)
		}
		deps.Sandbox = backend
		logger.Info().Msg("qm-* actions routed through sandbox backend")
	}

	broker := events.NewBroker(64)

	d := daemon.New(cfg.SocketPath, cfg.ServiceGroup, registry, deps, broker)
	if err := d.Listen(); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	logger.Info().Str("socket", cfg.SocketPath).Msg("listening")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var recon *reconciler.Reconciler
	if cfg.Reconciler.Enabled {
		recon = reconciler.New(led, registry, deps, time.Duration(cfg.Reconciler.IntervalS)*time.Second, cfg.Reconciler.GraceDays)
		go recon.Run(ctx)
		logger.Info().Int("interval_s", cfg.Reconciler.IntervalS).Msg("reconciler started")
	}

	if cfg.Metrics.Enabled {
		go serveMetrics(cfg.Metrics.Listen)
	}

	serveErrCh := make(chan error, 1)
	go func() {
		serveErrCh <- d.Serve(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutting down")
	case err := <-serveErrCh:
		if err != nil {
			logger.Error().Err(err).Msg("serve loop exited")
		}
	}

	cancel()
	if recon != nil {
		recon.Stop()
	}
	if err := d.Close(); err != nil {
		logger.Warn().Err(err).Msg("close error")
	}

	return nil
}

func serveMetrics(addr string) {
	logger := log.WithComponent("metrics")
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	logger.Info().Str("listen", addr).Msg("metrics endpoint listening")
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error().Err(err).Msg("metrics server exited")
	}
}

func poolsFromConfig(cfg *config.Config) (types.VMIDRange, types.IPPool, types.IPv6Pool, error) {
	vmidRange := types.VMIDRange{Start: cfg.VMIDRange.Start, End: cfg.VMIDRange.End}

	prefix := cfg.IPPool.Network
	if idx := strings.IndexByte(prefix, '/'); idx != -1 {
		prefix = prefix[:idx]
	}
	parts := strings.Split(prefix, ".")
	if len(parts) != 4 {
		return vmidRange, types.IPPool{}, types.IPv6Pool{}, fmt.Errorf("ip_pool.network %q is not a dotted-quad CIDR", cfg.IPPool.Network)
	}
	ipPool := types.IPPool{
		Prefix: strings.Join(parts[:3], "."),
		Start:  cfg.IPPool.Start,
		End:    cfg.IPPool.End,
	}

	ipv6Pool := types.IPv6Pool{
		Prefix: cfg.IPv6Prefix,
		Start:  cfg.IPv6Pool.Start,
		End:    cfg.IPv6Pool.End,
	}

	return vmidRange, ipPool, ipv6Pool, nil
}

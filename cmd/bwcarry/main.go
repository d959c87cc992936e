// bwcarry performs the periodic bandwidth carry-over against a fleet
// of VPSes: it reads each server's current quota and consumption,
// resets the usage counter, and applies the unused remainder as the
// next cycle's quota, leaving the plan id untouched.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hostops/bwcarry/internal/auditlog"
	"github.com/hostops/bwcarry/internal/config"
	"github.com/hostops/bwcarry/internal/engine"
	"github.com/hostops/bwcarry/internal/logging"
	"github.com/hostops/bwcarry/internal/metrics"
	"github.com/hostops/bwcarry/internal/panel"
	"github.com/hostops/bwcarry/internal/planner"
)

// Exit codes, one per failure class the scheduler wrapping this tool
// needs to distinguish.
const (
	exitOK                = 0
	exitConfigUnavailable = 2
	exitTransportFailure  = 3
	exitParseFailure      = 4
	exitNotFound          = 5
	exitPartialFailure    = 6
)

// errPartialFailure marks a run that completed with at least one
// per-resource failure. Not an abort: already-processed resources
// keep their new state.
var errPartialFailure = errors.New("completed with per-resource failures")

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath string
		vpsID      string
		dryRun     bool
	)

	root := &cobra.Command{
		Use:           "bwcarry",
		Short:         "Bandwidth carry-over reset for panel-managed VPSes",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default bwcarry.yaml)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Reset usage and carry over quotas (all resources, or one with --vps)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReset(cmd.Context(), configPath, vpsID, dryRun)
		},
	}
	runCmd.Flags().StringVar(&vpsID, "vps", "", "process a single VPS by id")
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "plan and log, issue no remote calls")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List known resource ids with their quota state (read-only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd.Context(), configPath)
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("bwcarry %s (%s)\n", engine.Version, engine.GitSHA)
		},
	}

	root.AddCommand(runCmd, listCmd, versionCmd)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown handler: a terminated run leaves completed
	// resources in their new state and unprocessed ones untouched.
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		sig := <-ch
		slog.Info("received signal, stopping", "signal", sig.String())
		cancel()
	}()

	if err := root.ExecuteContext(ctx); err != nil {
		code := exitCode(err)
		if code != exitPartialFailure {
			fmt.Fprintln(os.Stderr, "bwcarry:", err)
		}
		return code
	}
	return exitOK
}

// exitCode maps an error to the exit status contract.
func exitCode(err error) int {
	switch {
	case errors.Is(err, errPartialFailure):
		return exitPartialFailure
	case errors.Is(err, config.ErrMissingCredentials),
		errors.Is(err, planner.ErrUnknownPolicy):
		return exitConfigUnavailable
	case errors.Is(err, panel.ErrNotFound):
		return exitNotFound
	case errors.Is(err, panel.ErrMalformedResponse),
		errors.Is(err, panel.ErrSchema):
		return exitParseFailure
	case errors.Is(err, panel.ErrTransport):
		return exitTransportFailure
	default:
		return exitConfigUnavailable
	}
}

// setup loads configuration and constructs the engine's collaborators.
func setup(configPath string, dryRun bool) (*engine.Engine, *auditlog.Log, io.Closer, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w: %v", config.ErrMissingCredentials, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, err
	}

	logCloser, err := logging.Setup(logging.Config{
		Format: cfg.Logging.Format,
		Level:  cfg.Logging.Level,
		File:   cfg.Logging.File,
	})
	if err != nil {
		return nil, nil, nil, err
	}

	slog.Info("bwcarry starting", "version", engine.Version, "git_sha", engine.GitSHA)

	policy, err := planner.ParsePolicy(cfg.Engine.OverusePolicy)
	if err != nil {
		logCloser.Close()
		return nil, nil, nil, err
	}

	client, err := panel.NewClient(panel.Config{
		BaseURL:        cfg.Panel.BaseURL,
		APIKey:         cfg.Panel.APIKey,
		APIPass:        cfg.Panel.APIPass,
		ConnectTimeout: cfg.Panel.ConnectTimeout(),
		Timeout:        cfg.Panel.Timeout(),
	})
	if err != nil {
		logCloser.Close()
		return nil, nil, nil, fmt.Errorf("%w: %v", config.ErrMissingCredentials, err)
	}

	audit, err := auditlog.Open(cfg.Audit.File)
	if err != nil {
		logCloser.Close()
		return nil, nil, nil, err
	}

	if cfg.Metrics.Enabled {
		metrics.Init("bwcarry")
		go func() {
			if err := metrics.StartServer(cfg.Metrics.Address); err != nil {
				slog.Warn("metrics server stopped", "error", err)
			}
		}()
	}

	engCfg := cfg.Engine
	engCfg.DryRun = engCfg.DryRun || dryRun

	return engine.New(engCfg, client, audit, policy), audit, logCloser, nil
}

func runReset(ctx context.Context, configPath, vpsID string, dryRun bool) error {
	eng, audit, logCloser, err := setup(configPath, dryRun)
	if err != nil {
		return err
	}
	defer logCloser.Close()
	defer audit.Close()

	var result *engine.RunResult
	if vpsID != "" {
		result, err = eng.RunOne(ctx, vpsID)
	} else {
		result, err = eng.RunAll(ctx)
	}
	if err != nil {
		return err
	}

	if !result.Success {
		return fmt.Errorf("%w: %d of %d failed", errPartialFailure, result.Failed, result.Processed)
	}
	return nil
}

func runList(ctx context.Context, configPath string) error {
	eng, audit, logCloser, err := setup(configPath, false)
	if err != nil {
		return err
	}
	defer logCloser.Close()
	defer audit.Close()

	roster, err := eng.ListRoster(ctx)
	if err != nil {
		return err
	}

	for _, snap := range roster {
		fmt.Printf("%s\tbandwidth=%d\tused=%d\tplan=%s\n",
			snap.ID, snap.Bandwidth, snap.UsedBandwidth, snap.PlanID)
	}
	fmt.Printf("%d resources\n", len(roster))
	return nil
}

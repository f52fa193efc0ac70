package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"dispatchd/internal/clock"
	"dispatchd/internal/config"
	"dispatchd/internal/health"
	"dispatchd/internal/invoke"
	"dispatchd/internal/journal"
	"dispatchd/internal/registry"
	"dispatchd/internal/router"
	"dispatchd/internal/server"
	"dispatchd/internal/taskmgr"
	"dispatchd/pkg/models"
)

var serveDebug bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestration daemon",
	Long: `Start the scheduler, health monitor, event journal, and HTTP API.

The daemon runs until interrupted. In-flight tasks are cancelled on
shutdown; the journal keeps their history.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Verbose request logging")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if cfg.Debug.LogPath != "" {
		dbg, err := taskmgr.NewDebugLogger(cfg.Debug.LogPath)
		if err != nil {
			return fmt.Errorf("open debug log: %w", err)
		}
		defer dbg.Close()
		taskmgr.SetDebugLogger(dbg)
	}

	reg := registry.NewWithLatencyWeight(cfg.Registry.LatencyEMAWeight)
	rtr := router.NewWithWeights(reg, cfg.Router.ConfidenceWeight, cfg.Router.LatencyWeight)

	mux := invoke.NewMux(invoke.NewHTTPInvoker(nil))
	if cfg.Anthropic.Enabled {
		if err := registerLocalWorker(mux, reg, cfg.Anthropic); err != nil {
			return err
		}
	}

	mgr := taskmgr.New(reg, rtr, mux, taskmgr.Config{
		MaxConcurrent:     cfg.Scheduler.MaxConcurrent,
		LaneDepth:         cfg.Scheduler.LaneDepth,
		RetryBaseDelay:    cfg.Scheduler.RetryBaseDelay,
		RetryMaxDelay:     cfg.Scheduler.RetryMaxDelay,
		DefaultMaxRetries: cfg.Scheduler.DefaultMaxRetries,
		DefaultTimeout:    cfg.Scheduler.DefaultTimeout,
		EventBuffer:       cfg.Scheduler.EventBuffer,
	}, clock.System())
	defer mgr.Close()

	hub := server.NewHub()
	srv := server.New(mgr, reg, hub, server.Config{
		Listen: cfg.Server.Listen,
		Debug:  serveDebug,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return mgr.Run(ctx) })
	g.Go(func() error {
		hub.Run(ctx, mgr.Events())
		return nil
	})

	if cfg.Journal.Enabled {
		path := cfg.Journal.Path
		if path == "" {
			cwd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("get working directory: %w", err)
			}
			path = journal.DefaultPath(cwd)
		}
		jnl, err := journal.Open(path)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer jnl.Close()

		events, detach := hub.Subscribe(256)
		defer detach()
		g.Go(func() error {
			jnl.Consume(ctx, events)
			return nil
		})
		log.Printf("[serve] journal at %s", jnl.Path())
	}

	monitor := health.New(reg, mux, health.Config{
		Interval:            cfg.Health.Interval,
		ProbeTimeout:        cfg.Health.ProbeTimeout,
		FailureThreshold:    cfg.Health.FailureThreshold,
		BackoffCap:          cfg.Health.BackoffCap,
		MaxConcurrentProbes: cfg.Health.MaxConcurrentProbes,
	}, clock.System())
	g.Go(func() error { return monitor.Run(ctx) })

	if cfg.Control.Dir != "" {
		watcher, err := taskmgr.NewControlWatcher(mgr, cfg.Control.Dir)
		if err != nil {
			log.Printf("[serve] control watcher disabled: %v", err)
		} else {
			g.Go(func() error { return watcher.Run(ctx) })
		}
	}

	g.Go(func() error {
		log.Printf("[serve] listening on %s", cfg.Server.Listen)
		return srv.ListenAndServe()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	log.Print("[serve] shut down")
	return nil
}

// registerLocalWorker wires the in-process model-backed worker into the
// registry and binds its invocations past the HTTP transport.
func registerLocalWorker(mux *invoke.Mux, reg *registry.Registry, cfg config.AnthropicConfig) error {
	if len(cfg.Capabilities) == 0 {
		return fmt.Errorf("anthropic worker enabled but no capabilities configured")
	}

	inv, err := invoke.NewAnthropicInvoker(invoke.AnthropicConfig{
		Model:         anthropic.Model(cfg.Model),
		APIKey:        cfg.APIKey,
		MaxTokens:     cfg.MaxTokens,
		UseAWSBedrock: cfg.UseBedrock,
		AWSRegion:     cfg.AWSRegion,
		AWSProfile:    cfg.AWSProfile,
	})
	if err != nil {
		return fmt.Errorf("configure local worker: %w", err)
	}

	grants := make([]models.CapabilityGrant, 0, len(cfg.Capabilities))
	for _, capability := range cfg.Capabilities {
		grants = append(grants, models.CapabilityGrant{
			Capability: capability,
			Confidence: cfg.Confidence,
		})
	}

	reg.Register(models.AgentDescriptor{
		ID:           cfg.AgentID,
		Capabilities: grants,
	})
	mux.Bind(cfg.AgentID, inv)
	log.Printf("[serve] local worker %s registered with %d capabilities", cfg.AgentID, len(grants))
	return nil
}

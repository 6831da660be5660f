package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/user/firetail/internal/correlate"
	"github.com/user/firetail/internal/firehose"
	"github.com/user/firetail/internal/ingest"
	"github.com/user/firetail/internal/state"
	"github.com/user/firetail/internal/tokens"
	"github.com/user/firetail/internal/webhook"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the firetail daemon",
	RunE:  runServe,
}

func writePIDFile() (string, error) {
	pidPath := filepath.Join(filepath.Dir(cfgPath), "firetail.pid")
	pid := os.Getpid()
	if err := os.MkdirAll(filepath.Dir(pidPath), 0755); err != nil {
		return "", fmt.Errorf("create pid dir: %w", err)
	}
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	if cfg.Upstream.URL == "" {
		return fmt.Errorf("upstream.url is not configured (or set FIRETAIL_UPSTREAM_URL)")
	}

	pidPath, err := writePIDFile()
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	// Store and correlator.
	store := state.NewStore(
		state.WithGate(state.NewGate(cfg.Store.IDCacheCap, cfg.Store.ContentCacheCap)),
	)
	correlator := correlate.New(slog.Default())

	// Token counting is optional; a missing encoding only disables stats.
	var counter *tokens.Counter
	if cfg.Tokens.Enabled {
		counter, err = tokens.New(cfg.Tokens.Encoding)
		if err != nil {
			slog.Warn("token counting disabled", "error", err)
		}
	}

	// Sources and the multiplexer.
	primary := firehose.NewStreamSource(cfg.Upstream.URL, nil, firehose.DefaultBackoffPolicy(), slog.Default())
	relay := firehose.NewRelaySource(cfg.Firehose.RelayBuffer, slog.Default())
	defer relay.Close()

	feed := firehose.NewMultiplexer(primary, relay, firehose.MuxConfig{
		DedupCap:                cfg.Firehose.DedupCap,
		SuppressRelayHeartbeats: cfg.Firehose.SuppressRelayHeartbeats,
		Staleness:               cfg.Staleness(),
	})
	defer feed.Close()

	pump := ingest.NewPump(feed, store, ingest.NewNormalizer(counter, slog.Default()), slog.Default())
	watchdog := firehose.NewWatchdog(relay, cfg.WatchdogTimeout(), 0, slog.Default())

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: webhook.NewServer(store, correlator, feed, relay),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("firetail started",
		"listen", cfg.ListenAddr,
		"upstream", cfg.Upstream.URL,
		"log_level", cfg.LogLevel,
		"pid_file", pidPath,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return primary.Run(gctx)
	})
	g.Go(func() error {
		return pump.Run(gctx)
	})
	g.Go(func() error {
		watchdog.Run(gctx)
		return nil
	})
	g.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return httpServer.Close()
	})
	g.Go(func() error {
		// Surface relay errors; they are diagnostics, never fatal.
		for {
			select {
			case err := <-feed.Errors():
				slog.Error("relay error", "error", err)
			case <-gctx.Done():
				return nil
			}
		}
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		slog.Info("shutting down")
		return nil
	}
	return err
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/vigil"
)

func newServeCmd() *cobra.Command {
	var f ServeFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the monitor daemon",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runServe(f)
		},
	}
	cmd.Flags().StringVarP(&f.ConfigPath, "config", "c", "", "path to TOML config file")
	return cmd
}

func runServe(f ServeFlags) error {
	cfg, err := vigil.LoadConfig(f.ConfigPath)
	if err != nil {
		return err
	}

	m, err := vigil.New(cfg)
	if err != nil {
		return fmt.Errorf("assemble monitor: %w", err)
	}
	defer func() { _ = m.Close() }()
	log := m.Logger()

	if err := vigil.RegisterMetricsDefault(); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	var apiSrv *http.Server
	if cfg.Server.Enabled {
		apiSrv = m.NewHTTPServer(cfg.Server.Listen, cfg.Server.BasePath)
		log.Info("daemon API listening", "addr", cfg.Server.Listen, "base", cfg.Server.BasePath)
	}
	if cfg.Metrics.Enabled {
		go func() {
			if err := vigil.ServeMetrics(cfg.Metrics.Listen); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server failed", "error", err)
			}
		}()
		log.Info("metrics listening", "addr", cfg.Metrics.Listen)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	log.Info("shutting down", "signal", s.String())

	m.Stop()
	if apiSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = apiSrv.Shutdown(shutdownCtx)
	}
	return nil
}

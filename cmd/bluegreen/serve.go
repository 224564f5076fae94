package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/loykin/bluegreen"
)

func runServe(configPath string, flags *ServeFlags) error {
	cfg, err := bluegreen.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if flags.MetricsListen != "" {
		cfg.Metrics.Listen = flags.MetricsListen
	}

	mgr, err := bluegreen.New(cfg, os.Stdout)
	if err != nil {
		return err
	}
	defer func() { _ = mgr.Close() }()
	log := mgr.Logger()

	if cfg.Metrics.Listen != "" {
		if err := bluegreen.RegisterMetricsDefault(); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		go func() {
			if err := bluegreen.ServeMetrics(cfg.Metrics.Listen); err != nil {
				log.Error("metrics listener stopped", "addr", cfg.Metrics.Listen, "error", err)
			}
		}()
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	if err := mgr.Start(); err != nil {
		mgr.Shutdown()
		return err
	}
	srv, err := bluegreen.NewHTTPServer(cfg.ManageAddr(), mgr)
	if err != nil {
		mgr.Shutdown()
		return fmt.Errorf("control API: %w", err)
	}
	log.Info("control API listening", "addr", srv.Addr)

	sig := <-sigs
	log.Info("received signal, shutting down", "signal", sig.String())
	mgr.Shutdown()
	_ = srv.Close()
	return nil
}

// Copyright © 2024 Mutker Telag <witty.text5011@fastmail.com>
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"codeberg.org/mutker/gaugectl/internal/app"
	"codeberg.org/mutker/gaugectl/internal/config"
	"codeberg.org/mutker/gaugectl/internal/logger"
	"codeberg.org/mutker/gaugectl/internal/pid"
	"codeberg.org/mutker/gaugectl/internal/supervisor"
)

var cfg *config.Config

func init() {
	var err error
	cfg, err = config.Load(config.WithArgs(os.Args[1:]))
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = logger.Init(logger.Options{
		Level:      cfg.Log.Level.String(),
		IsService:  logger.IsService(),
		Async:      cfg.Log.Async,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger.Debug().Msg("Config loaded")
}

func main() {
	os.Exit(run())
}

func run() int {
	defer logger.Close()

	if err := pid.Write(cfg.PIDFile); err != nil {
		logger.Error().Err(err).Str("path", cfg.PIDFile).Msg("failed to write PID file")
		return 1
	}
	defer removePIDFile()

	a, err := app.New(cfg)
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialize gauge")
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	logger.Info().Str("source", cfg.Source.Kind).Msg("Gauge started")

	runErr := a.Run(ctx)
	if runErr != nil {
		logger.Error().Err(runErr).Msg("task stopped with error")
	}

	cleanup(a)

	if runErr != nil {
		return 1
	}

	return 0
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}

func cleanup(a *app.App) {
	logStatus(a.Status())

	if err := a.Close(); err != nil {
		logger.Error().Err(err).Msg("failed to release resources")
	}
	if n := logger.Dropped(); n > 0 {
		logger.Warn().Int64("dropped", n).Msg("Log lines dropped")
	}
	logger.Info().Msg("Exiting...")
}

func logStatus(status supervisor.Status) {
	ev := logger.Info().Int("faults", status.TotalFaults())
	for sub, ok := range status.Initialized {
		ev = ev.Bool(sub.String(), ok)
	}
	if status.LastFault != nil {
		ev = ev.Str("last_fault", status.LastFault.Err.Error()).Time("last_fault_at", status.LastFaultAt)
	}
	ev.Msg("Final status")
}

func removePIDFile() {
	if err := pid.Remove(cfg.PIDFile); err != nil {
		logger.Warn().Err(err).Msg("failed to remove PID file")
	}
}

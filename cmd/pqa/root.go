// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/probqa/cmd/pqa/config"
	"github.com/AleutianAI/probqa/pkg/logging"
	"github.com/AleutianAI/probqa/services/pqa"
	"github.com/AleutianAI/probqa/services/pqa/kbstore"
	"github.com/AleutianAI/probqa/services/pqa/telemetry"
)

// app carries what PersistentPreRunE sets up for every subcommand.
type app struct {
	configPath string
	verbose    bool

	cfg       config.PQAConfig
	logger    *logging.Logger
	shutdownT func(context.Context) error
}

func (a *app) log() *slog.Logger {
	return a.logger.Slog()
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "pqa",
		Short: "Run and inspect a probabilistic question-answering engine",
		Long: `pqa drives a probabilistic question-answering engine.

The engine keeps answer statistics per question, answer and target. Quizzes
ask the most informative questions first and rank targets by probability.

Configuration is read from ~/.probqa/pqa.yaml unless --config is given; the
file is created with defaults on first run.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return a.teardown(cmd.Context())
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "",
		"Path to pqa.yaml (default ~/.probqa/pqa.yaml)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false,
		"Log at debug level")

	root.AddCommand(newSimulateCmd(a))
	root.AddCommand(newInspectCmd(a))
	root.AddCommand(newConfigCmd(a))
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	if a.verbose {
		cfg.Logging.Level = logging.LevelDebug
	}
	a.cfg = cfg
	a.logger = logging.New(cfg.Logging)
	slog.SetDefault(a.logger.Slog())

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a.shutdownT, err = telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	return nil
}

func (a *app) teardown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var errs []error
	if a.shutdownT != nil {
		errs = append(errs, a.shutdownT(ctx))
	}
	if a.logger != nil {
		errs = append(errs, a.logger.Close())
	}
	return errors.Join(errs...)
}

// engineOptions builds the options shared by every engine the CLI creates.
func (a *app) engineOptions() []pqa.Option {
	return []pqa.Option{
		pqa.WithConfig(a.cfg.Engine),
		pqa.WithLogger(a.log()),
		pqa.WithStoreConfig(a.cfg.StoreConfig()),
	}
}

// openEngine loads the knowledge base at dir, or creates a fresh one from
// the definition when dir is empty or holds no snapshot.
func (a *app) openEngine(ctx context.Context, dir string) (*pqa.Engine, bool, error) {
	if dir != "" {
		if _, statErr := os.Stat(dir); statErr == nil {
			e, err := pqa.LoadEngine(ctx, dir, a.engineOptions()...)
			if err == nil {
				return e, true, nil
			}
			if !errors.Is(err, kbstore.ErrNotFound) {
				return nil, false, err
			}
			a.log().Info("no saved knowledge base, starting fresh", slog.String("dir", dir))
		}
	}
	e, err := pqa.NewEngine(a.cfg.EngineDefinition(), a.engineOptions()...)
	return e, false, err
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pqa

import (
	"fmt"
	"log/slog"

	"github.com/AleutianAI/probqa/services/pqa/kbstore"
	"github.com/AleutianAI/probqa/services/pqa/numeric"
)

// Top targets strategies.
const (
	StrategyAuto  = "auto"
	StrategyHeap  = "heap"
	StrategyRadix = "radix"
)

// TopTargetsConfig configures ListTopTargets.
type TopTargetsConfig struct {
	// Strategy is auto, heap or radix.
	Strategy string `yaml:"strategy"`

	// RadixMinRatio is the fraction of targets requested at or above which
	// auto picks the radix strategy.
	RadixMinRatio float64 `yaml:"radix_min_ratio"`
}

// Config tunes the engine's computation. It does not affect results beyond
// floating-point rounding.
type Config struct {
	// Workers is the size of the worker pool. Zero means one per CPU.
	Workers int `yaml:"workers"`

	// Kernel is the numeric kernel: auto, scalar or lanes4.
	Kernel string `yaml:"kernel"`

	// ArenaMaxBytes caps concurrently held scratch memory. Zero disables
	// the cap.
	ArenaMaxBytes int64 `yaml:"arena_max_bytes"`

	TopTargets TopTargetsConfig `yaml:"top_targets"`

	// ResumeParallelMinTargets is the target count at or above which
	// answer replay runs on the pool.
	ResumeParallelMinTargets int64 `yaml:"resume_parallel_min_targets"`

	// RenormEvery is the number of answers applied between rescales of a
	// belief vector.
	RenormEvery int `yaml:"renorm_every"`
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		Workers:       0,
		Kernel:        numeric.KernelAuto,
		ArenaMaxBytes: 0,
		TopTargets: TopTargetsConfig{
			Strategy:      StrategyAuto,
			RadixMinRatio: 0.1,
		},
		ResumeParallelMinTargets: 4096,
		RenormEvery:              8,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", c.Workers)
	}
	if _, err := numeric.Select(c.Kernel); err != nil {
		return err
	}
	switch c.TopTargets.Strategy {
	case "", StrategyAuto, StrategyHeap, StrategyRadix:
	default:
		return fmt.Errorf("unknown top targets strategy %q", c.TopTargets.Strategy)
	}
	if c.TopTargets.RadixMinRatio < 0 {
		return fmt.Errorf("radix_min_ratio must not be negative, got %v", c.TopTargets.RadixMinRatio)
	}
	if c.RenormEvery < 1 {
		return fmt.Errorf("renorm_every must be at least 1, got %d", c.RenormEvery)
	}
	return nil
}

type engineOptions struct {
	cfg    Config
	logger *slog.Logger
	store  kbstore.Config
}

func defaultEngineOptions() engineOptions {
	return engineOptions{
		cfg:    DefaultConfig(),
		logger: slog.Default(),
		store:  kbstore.DefaultConfig(),
	}
}

// Option configures an Engine.
type Option func(*engineOptions)

// WithConfig sets the engine configuration.
func WithConfig(cfg Config) Option {
	return func(o *engineOptions) { o.cfg = cfg }
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *engineOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithStoreConfig sets the knowledge base store configuration used by
// SaveKB, LoadEngine and Shutdown. Path is always taken from the call.
func WithStoreConfig(cfg kbstore.Config) Option {
	return func(o *engineOptions) { o.store = cfg }
}

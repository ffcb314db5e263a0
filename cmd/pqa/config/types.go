// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/AleutianAI/probqa/pkg/logging"
	"github.com/AleutianAI/probqa/services/pqa"
	"github.com/AleutianAI/probqa/services/pqa/kbstore"
	"github.com/AleutianAI/probqa/services/pqa/telemetry"
)

// PQAConfig is the pqa.yaml file.
type PQAConfig struct {
	// Engine tunes computation: workers, kernel, arena cap, top targets.
	Engine pqa.Config `yaml:"engine"`

	// Definition describes a fresh knowledge base. Ignored when the
	// storage directory already holds one.
	Definition DefinitionConfig `yaml:"definition"`

	Logging   logging.Config   `yaml:"logging"`
	Telemetry telemetry.Config `yaml:"telemetry"`
	Storage   StorageConfig    `yaml:"storage"`
	Eviction  EvictionConfig   `yaml:"eviction"`
}

// DefinitionConfig is the shape of a new knowledge base.
type DefinitionConfig struct {
	pqa.EngineDimensions `yaml:",inline"`

	// InitAmount is the starting value of every statistics cell.
	InitAmount float64 `yaml:"init_amount"`
}

// StorageConfig locates the saved knowledge base.
type StorageConfig struct {
	// Dir is the BadgerDB directory. Empty disables loading and saving.
	Dir string `yaml:"dir"`

	// DoubleBuffer saves from a copy so quizzes continue during the write.
	DoubleBuffer bool `yaml:"double_buffer"`

	SyncWrites     bool    `yaml:"sync_writes"`
	GCDiscardRatio float64 `yaml:"gc_discard_ratio"`
}

// EvictionConfig bounds open quizzes. Negative values disable a limit.
type EvictionConfig struct {
	MaxQuizzes int64         `yaml:"max_quizzes"`
	MaxIdle    time.Duration `yaml:"max_idle"`
	Interval   time.Duration `yaml:"interval"`
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() PQAConfig {
	tel := telemetry.DefaultConfig()
	tel.ServiceName = "pqa"
	return PQAConfig{
		Engine: pqa.DefaultConfig(),
		Definition: DefinitionConfig{
			EngineDimensions: pqa.EngineDimensions{Questions: 64, Answers: 3, Targets: 1024},
			InitAmount:       1,
		},
		Logging: logging.Config{
			Level:   logging.LevelInfo,
			Service: "pqa",
		},
		Telemetry: tel,
		Storage: StorageConfig{
			Dir:            "~/.probqa/kb",
			DoubleBuffer:   true,
			SyncWrites:     true,
			GCDiscardRatio: 0.5,
		},
		Eviction: EvictionConfig{
			MaxQuizzes: 10000,
			MaxIdle:    30 * time.Minute,
			Interval:   time.Minute,
		},
	}
}

// Validate checks every section.
func (c PQAConfig) Validate() error {
	var errs []error
	if err := c.Engine.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("engine: %w", err))
	}
	if err := c.Definition.EngineDimensions.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("definition: %w", err))
	}
	if c.Definition.InitAmount < 0 {
		errs = append(errs, fmt.Errorf("definition: init_amount must not be negative, got %v", c.Definition.InitAmount))
	}
	if c.Storage.GCDiscardRatio < 0 || c.Storage.GCDiscardRatio >= 1 {
		errs = append(errs, fmt.Errorf("storage: gc_discard_ratio must be in [0, 1), got %v", c.Storage.GCDiscardRatio))
	}
	if c.Eviction.Interval < 0 {
		errs = append(errs, fmt.Errorf("eviction: interval must not be negative, got %v", c.Eviction.Interval))
	}
	return errors.Join(errs...)
}

// EngineDefinition converts the definition section.
func (c PQAConfig) EngineDefinition() pqa.EngineDefinition {
	return pqa.EngineDefinition{
		Dims:       c.Definition.EngineDimensions,
		Precision:  pqa.PrecisionDouble,
		Backend:    pqa.BackendCPU,
		InitAmount: c.Definition.InitAmount,
	}
}

// StoreConfig converts the storage section.
func (c PQAConfig) StoreConfig() kbstore.Config {
	return kbstore.Config{
		SyncWrites:     c.Storage.SyncWrites,
		GCDiscardRatio: c.Storage.GCDiscardRatio,
	}
}

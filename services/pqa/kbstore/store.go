// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package kbstore persists knowledge base snapshots in BadgerDB.
//
// Each save writes a complete snapshot under a fresh version prefix and
// only then moves the "current" pointer to it, so a crash mid-save leaves
// the previous snapshot readable. The superseded version is dropped after
// the pointer moves.
//
// Key layout:
//
//	current                  -> version id
//	v/<version>/meta         -> JSON Meta
//	v/<version>/a/<q>        -> A rows of question q, answers concatenated
//	v/<version>/d/<q>        -> D row of question q
//	v/<version>/b            -> B row
//	v/<version>/qgap         -> question removed flags
//	v/<version>/tgap         -> target removed flags
//	v/<version>/qperm        -> question compact→permanent table
//	v/<version>/tperm        -> target compact→permanent table
package kbstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/AleutianAI/probqa/services/pqa/kb"
)

// formatVersion is bumped on incompatible key layout changes.
const formatVersion = 1

var keyCurrent = []byte("current")

var (
	// ErrNotFound indicates the store holds no snapshot.
	ErrNotFound = errors.New("no knowledge base snapshot found")

	// ErrCorrupt indicates a snapshot that cannot be decoded.
	ErrCorrupt = errors.New("corrupt knowledge base snapshot")
)

// Meta describes one saved snapshot.
type Meta struct {
	Format           int       `json:"format"`
	Version          string    `json:"version"`
	SavedAt          time.Time `json:"saved_at"`
	Dims             kb.Dims   `json:"dims"`
	NextQuestionPerm int64     `json:"next_question_perm"`
	NextTargetPerm   int64     `json:"next_target_perm"`
	QuestionsAsked   uint64    `json:"questions_asked"`
	InitAmount       float64   `json:"init_amount"`
}

// Record is everything needed to restore an engine's knowledge base.
type Record struct {
	Meta         Meta
	Matrix       *kb.Snapshot
	QuestionPerm []int64
	TargetPerm   []int64
}

// Store reads and writes snapshots.
//
// Thread Safety: Safe for concurrent use; concurrent saves are serialized
// by BadgerDB transactions and the last pointer update wins.
type Store struct {
	db     *badger.DB
	cfg    Config
	logger *slog.Logger
}

// Open opens or creates a store.
//
// Inputs:
//
//	cfg - Store configuration. Path is required unless InMemory is set.
//	logger - Logger for store events. Nil uses slog.Default().
//
// Outputs:
//
//	*Store - The store. Caller must Close it.
//	error - Non-nil if the database cannot be opened.
func Open(cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	return &Store{
		db:     db,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "kbstore")),
	}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func versionKey(version string, parts ...string) []byte {
	k := "v/" + version
	for _, p := range parts {
		k += "/" + p
	}
	return []byte(k)
}

// Save writes rec as the new current snapshot and returns its version id.
//
// Description:
//
//	Rows are streamed through a WriteBatch, which splits the write into as
//	many transactions as needed. The current pointer is updated in a final
//	transaction once every row is durable, then the previous version is
//	dropped and value log GC runs once if configured.
//
// Outputs:
//
//	string - The new version id.
//	error - Non-nil on any write failure; the previous snapshot stays current.
func (s *Store) Save(ctx context.Context, rec *Record) (string, error) {
	if rec == nil || rec.Matrix == nil {
		return "", errors.New("nil knowledge base record")
	}
	start := time.Now()
	version := uuid.NewString()
	snap := rec.Matrix

	meta := rec.Meta
	meta.Format = formatVersion
	meta.Version = version
	meta.SavedAt = start.UTC()
	meta.Dims = snap.Dims

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("marshal snapshot meta: %w", err)
	}

	wb := s.db.NewWriteBatch()
	flushed := false
	defer func() {
		if !flushed {
			wb.Cancel()
		}
	}()

	nA, nT := snap.Dims.Answers, snap.Dims.Targets
	for q := int64(0); q < snap.Dims.Questions; q++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		aOff := q * nA * nT
		if err := wb.Set(versionKey(version, "a", fmt.Sprint(q)), encodeFloats(snap.A[aOff:aOff+nA*nT])); err != nil {
			return "", fmt.Errorf("write A rows of question %d: %w", q, err)
		}
		if err := wb.Set(versionKey(version, "d", fmt.Sprint(q)), encodeFloats(snap.D[q*nT:(q+1)*nT])); err != nil {
			return "", fmt.Errorf("write D row of question %d: %w", q, err)
		}
	}
	entries := []struct {
		name string
		val  []byte
	}{
		{"meta", metaJSON},
		{"b", encodeFloats(snap.B)},
		{"qgap", encodeBools(snap.QuestionGaps)},
		{"tgap", encodeBools(snap.TargetGaps)},
		{"qperm", encodeInts(rec.QuestionPerm)},
		{"tperm", encodeInts(rec.TargetPerm)},
	}
	for _, e := range entries {
		if err := wb.Set(versionKey(version, e.name), e.val); err != nil {
			return "", fmt.Errorf("write %s: %w", e.name, err)
		}
	}
	flushed = true
	if err := wb.Flush(); err != nil {
		_ = s.db.DropPrefix(versionKey(version))
		return "", fmt.Errorf("flush snapshot rows: %w", err)
	}

	var previous string
	err = s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(keyCurrent)
		switch {
		case err == nil:
			if err := item.Value(func(v []byte) error {
				previous = string(v)
				return nil
			}); err != nil {
				return err
			}
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		return txn.Set(keyCurrent, []byte(version))
	})
	if err != nil {
		_ = s.db.DropPrefix(versionKey(version))
		return "", fmt.Errorf("update current snapshot pointer: %w", err)
	}

	if previous != "" {
		if err := s.db.DropPrefix(versionKey(previous)); err != nil {
			s.logger.Warn("failed to drop superseded snapshot",
				slog.String("version", previous),
				slog.String("error", err.Error()),
			)
		}
	}
	s.runGC()

	s.logger.Info("knowledge base saved",
		slog.String("version", version),
		slog.Int64("questions", snap.Dims.Questions),
		slog.Int64("targets", snap.Dims.Targets),
		slog.Duration("duration", time.Since(start)),
	)
	return version, nil
}

func (s *Store) runGC() {
	if s.cfg.InMemory || s.cfg.GCDiscardRatio <= 0 {
		return
	}
	err := s.db.RunValueLogGC(s.cfg.GCDiscardRatio)
	if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
		s.logger.Warn("badger value log GC error", slog.String("error", err.Error()))
	}
}

// Load reads the current snapshot.
//
// Outputs:
//
//	*Record - The snapshot.
//	error - ErrNotFound for an empty store, ErrCorrupt for undecodable data.
func (s *Store) Load(ctx context.Context) (*Record, error) {
	rec := &Record{}
	err := s.db.View(func(txn *badger.Txn) error {
		current, err := getValue(txn, keyCurrent)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		version := string(current)

		metaJSON, err := getValue(txn, versionKey(version, "meta"))
		if err != nil {
			return fmt.Errorf("%w: read meta: %v", ErrCorrupt, err)
		}
		if err := json.Unmarshal(metaJSON, &rec.Meta); err != nil {
			return fmt.Errorf("%w: decode meta: %v", ErrCorrupt, err)
		}
		if rec.Meta.Format != formatVersion {
			return fmt.Errorf("%w: unsupported format %d", ErrCorrupt, rec.Meta.Format)
		}

		dims := rec.Meta.Dims
		nA, nT := dims.Answers, dims.Targets
		snap := &kb.Snapshot{
			Dims: dims,
			A:    make([]float64, 0, dims.Questions*nA*nT),
			D:    make([]float64, 0, dims.Questions*nT),
		}
		for q := int64(0); q < dims.Questions; q++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			raw, err := getValue(txn, versionKey(version, "a", fmt.Sprint(q)))
			if err != nil {
				return fmt.Errorf("%w: read A rows of question %d: %v", ErrCorrupt, q, err)
			}
			snap.A = append(snap.A, decodeFloats(raw)...)
			raw, err = getValue(txn, versionKey(version, "d", fmt.Sprint(q)))
			if err != nil {
				return fmt.Errorf("%w: read D row of question %d: %v", ErrCorrupt, q, err)
			}
			snap.D = append(snap.D, decodeFloats(raw)...)
		}

		raw := make(map[string][]byte, 5)
		for _, name := range []string{"b", "qgap", "tgap", "qperm", "tperm"} {
			v, err := getValue(txn, versionKey(version, name))
			if err != nil {
				return fmt.Errorf("%w: read %s: %v", ErrCorrupt, name, err)
			}
			raw[name] = v
		}
		snap.B = decodeFloats(raw["b"])
		snap.QuestionGaps = decodeBools(raw["qgap"])
		snap.TargetGaps = decodeBools(raw["tgap"])
		rec.QuestionPerm = decodeInts(raw["qperm"])
		rec.TargetPerm = decodeInts(raw["tperm"])
		rec.Matrix = snap
		return nil
	})
	if err != nil {
		return nil, err
	}
	if int64(len(rec.QuestionPerm)) != rec.Meta.Dims.Questions || int64(len(rec.TargetPerm)) != rec.Meta.Dims.Targets {
		return nil, fmt.Errorf("%w: permanent id tables do not match dimensions", ErrCorrupt)
	}
	return rec, nil
}

func getValue(txn *badger.Txn, key []byte) ([]byte, error) {
	item, err := txn.Get(key)
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func encodeFloats(v []float64) []byte {
	buf := make([]byte, len(v)*8)
	for i, f := range v {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(f))
	}
	return buf
}

func decodeFloats(b []byte) []float64 {
	v := make([]float64, len(b)/8)
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return v
}

func encodeInts(v []int64) []byte {
	buf := make([]byte, len(v)*8)
	for i, x := range v {
		binary.LittleEndian.PutUint64(buf[i*8:], uint64(x))
	}
	return buf
}

func decodeInts(b []byte) []int64 {
	v := make([]int64, len(b)/8)
	for i := range v {
		v[i] = int64(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return v
}

func encodeBools(v []bool) []byte {
	buf := make([]byte, len(v))
	for i, x := range v {
		if x {
			buf[i] = 1
		}
	}
	return buf
}

func decodeBools(b []byte) []bool {
	v := make([]bool, len(b))
	for i, x := range b {
		v[i] = x != 0
	}
	return v
}

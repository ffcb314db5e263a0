// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
)

var (
	// ErrPoolClosed is returned when work is submitted after Close.
	ErrPoolClosed = errors.New("worker pool closed")

	// ErrWorkerPanic wraps a panic recovered from a subtask.
	ErrWorkerPanic = errors.New("panic in worker subtask")
)

// PieceFunc processes one piece of a split. piece is the piece index, the
// range is [start, lim).
type PieceFunc func(piece int, start, lim int64) error

// Pool is a fixed set of long-lived worker goroutines.
//
// Description:
//
//	Workers are started by NewPool and live until Close. Every fan-out call
//	submits one job per piece and blocks on a join barrier, so pool callers
//	see synchronous fork-join semantics. Subtasks must not submit nested
//	work to the same pool.
//
// Thread Safety: Safe for concurrent use. Concurrent fan-outs interleave
// their jobs on the shared workers.
type Pool struct {
	jobs    chan func()
	n       int
	logger  *slog.Logger
	closeMu sync.RWMutex
	closed  bool
	done    sync.WaitGroup
}

// NewPool starts n workers. n < 1 means runtime.NumCPU().
func NewPool(n int, logger *slog.Logger) *Pool {
	if n < 1 {
		n = runtime.NumCPU()
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		jobs:   make(chan func(), n),
		n:      n,
		logger: logger.With(slog.String("component", "workers")),
	}
	p.done.Add(n)
	for i := 0; i < n; i++ {
		go p.loop()
	}
	p.logger.Debug("worker pool started", slog.Int("workers", n))
	return p
}

func (p *Pool) loop() {
	defer p.done.Done()
	for job := range p.jobs {
		job()
	}
}

// WorkerCount returns the number of workers.
func (p *Pool) WorkerCount() int { return p.n }

// Split partitions nItems across the pool's workers.
func (p *Pool) Split(nItems int64) Split { return CalcSplit(nItems, p.n) }

// RunPreSplit runs fn once per piece of split and waits for all of them.
//
// Description:
//
//	Pieces run concurrently without ordering guarantees. The caller blocks
//	until every piece has finished. Errors from all pieces are joined into
//	one error. A panicking piece is recovered, logged with its stack, and
//	reported as ErrWorkerPanic. Once dispatched, pieces are never cancelled;
//	ctx is only checked before dispatch.
//
// Inputs:
//
//	ctx - Checked before any piece is submitted.
//	split - The partition to run.
//	fn - Piece body.
//
// Outputs:
//
//	error - nil when every piece succeeded.
func (p *Pool) RunPreSplit(ctx context.Context, split Split, fn PieceFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if split.Len() == 0 {
		return nil
	}

	errs := make([]error, split.Len())
	var wg sync.WaitGroup

	p.closeMu.RLock()
	if p.closed {
		p.closeMu.RUnlock()
		return ErrPoolClosed
	}
	wg.Add(split.Len())
	for i, piece := range split.Pieces {
		i, piece := i, piece
		p.jobs <- func() {
			defer wg.Done()
			errs[i] = p.runPiece(fn, i, piece)
		}
	}
	p.closeMu.RUnlock()

	wg.Wait()
	return errors.Join(errs...)
}

// Run splits nItems across the workers and runs fn on each piece.
func (p *Pool) Run(ctx context.Context, nItems int64, fn PieceFunc) error {
	return p.RunPreSplit(ctx, p.Split(nItems), fn)
}

func (p *Pool) runPiece(fn PieceFunc, i int, piece Piece) (err error) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			p.logger.Error("panic in worker subtask",
				slog.Int("piece", i),
				slog.Int64("start", piece.Start),
				slog.Int64("lim", piece.Lim),
				slog.Any("panic", r),
				slog.String("stack", string(buf[:n])),
			)
			err = fmt.Errorf("%w: piece %d: %v", ErrWorkerPanic, i, r)
		}
	}()
	return fn(i, piece.Start, piece.Lim)
}

// Close stops the workers after queued jobs drain. Idempotent.
func (p *Pool) Close() {
	p.closeMu.Lock()
	if p.closed {
		p.closeMu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.closeMu.Unlock()
	p.done.Wait()
	p.logger.Debug("worker pool stopped")
}

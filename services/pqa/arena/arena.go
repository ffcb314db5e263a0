// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package arena

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// maxFreeSlabs bounds the number of idle slabs kept for reuse.
const maxFreeSlabs = 32

// Arena hands out slabs to scopes and recycles them on release.
//
// Thread Safety: Safe for concurrent use. A Scope is owned by the
// goroutine that acquired it, though the slices it yields may be shared
// with pool workers for the duration of one fork-join.
type Arena struct {
	maxBytes int64
	logger   *slog.Logger

	mu    sync.Mutex
	inUse int64
	free  [][]uint64 // sorted by capacity, ascending
}

// New creates an arena capped at maxBytes of concurrently held scratch.
// maxBytes <= 0 disables the cap.
func New(maxBytes int64, logger *slog.Logger) *Arena {
	if logger == nil {
		logger = slog.Default()
	}
	return &Arena{
		maxBytes: maxBytes,
		logger:   logger.With(slog.String("component", "arena")),
	}
}

// InUse returns the number of bytes held by unreleased scopes.
func (a *Arena) InUse() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inUse
}

// Acquire returns a zeroed scope sized for layout.
//
// Outputs:
//
//	*Scope - Must be released, normally via defer.
//	error - ErrAllocation when the byte cap would be exceeded.
func (a *Arena) Acquire(ctx context.Context, layout *Layout) (*Scope, error) {
	bytes := layout.Bytes()
	words := layout.words

	a.mu.Lock()
	if a.maxBytes > 0 && a.inUse+bytes > a.maxBytes {
		inUse := a.inUse
		a.mu.Unlock()
		recordAcquireFailure(ctx)
		a.logger.Warn("arena cap exceeded",
			slog.Int64("requested_bytes", bytes),
			slog.Int64("in_use_bytes", inUse),
			slog.Int64("max_bytes", a.maxBytes),
		)
		return nil, fmt.Errorf("%w: need %d bytes, %d of %d in use", ErrAllocation, bytes, inUse, a.maxBytes)
	}
	a.inUse += bytes
	slab := a.takeLocked(words)
	a.mu.Unlock()

	if slab == nil {
		slab = make([]uint64, words)
	} else {
		clear(slab)
	}
	recordAcquire(ctx, bytes)
	return &Scope{arena: a, slab: slab, bytes: bytes}, nil
}

// takeLocked removes the smallest free slab with room for words.
func (a *Arena) takeLocked(words int64) []uint64 {
	if words == 0 {
		return []uint64{}
	}
	i := sort.Search(len(a.free), func(i int) bool { return int64(cap(a.free[i])) >= words })
	if i == len(a.free) {
		return nil
	}
	slab := a.free[i]
	a.free = append(a.free[:i], a.free[i+1:]...)
	return slab[:words]
}

func (a *Arena) release(slab []uint64, bytes int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.inUse -= bytes
	if cap(slab) == 0 {
		return
	}
	i := sort.Search(len(a.free), func(i int) bool { return cap(a.free[i]) >= cap(slab) })
	a.free = append(a.free, nil)
	copy(a.free[i+1:], a.free[i:])
	a.free[i] = slab
	if len(a.free) > maxFreeSlabs {
		// Drop the smallest slab; large ones are the expensive ones.
		a.free = a.free[1:]
	}
}

// Scope is one acquired slab.
type Scope struct {
	arena *Arena
	slab  []uint64
	bytes int64
}

// Bytes returns the size of the scope.
func (s *Scope) Bytes() int64 { return s.bytes }

// Release returns the slab to the arena. Idempotent.
func (s *Scope) Release() {
	if s == nil || s.slab == nil {
		return
	}
	slab := s.slab
	s.slab = nil
	s.arena.release(slab, s.bytes)
	recordRelease(context.Background(), s.bytes)
}

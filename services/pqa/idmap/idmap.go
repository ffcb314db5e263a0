// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package idmap translates between permanent ids, which are stable for the
// lifetime of a knowledge base, and compact ids, which are dense indices
// into the engine's arrays and change on compaction.
package idmap

import "math"

// Invalid marks an id with no mapping.
const Invalid int64 = -1

// Map is a bijection between live compact ids and permanent ids.
//
// A compact slot whose entry was removed keeps the value Invalid until the
// next Compact.
//
// Thread Safety: NOT safe for concurrent use. Callers synchronize.
type Map struct {
	comp2perm []int64
	perm2comp map[int64]int64
	nextPerm  int64
}

// New returns an identity map over n compact ids.
func New(n int64) *Map {
	m := &Map{
		comp2perm: make([]int64, n),
		perm2comp: make(map[int64]int64, n),
		nextPerm:  n,
	}
	for i := int64(0); i < n; i++ {
		m.comp2perm[i] = i
		m.perm2comp[i] = i
	}
	return m
}

// FromTable rebuilds a map from a compact→permanent table as produced by
// Table. Entries equal to Invalid are kept as gaps.
func FromTable(comp2perm []int64, nextPerm int64) *Map {
	m := &Map{
		comp2perm: append([]int64(nil), comp2perm...),
		perm2comp: make(map[int64]int64, len(comp2perm)),
		nextPerm:  nextPerm,
	}
	for c, p := range m.comp2perm {
		if p == Invalid {
			continue
		}
		m.perm2comp[p] = int64(c)
		if p >= m.nextPerm {
			m.nextPerm = p + 1
		}
	}
	return m
}

// Len returns the number of compact slots, gaps included.
func (m *Map) Len() int64 { return int64(len(m.comp2perm)) }

// Live returns the number of mapped ids.
func (m *Map) Live() int64 { return int64(len(m.perm2comp)) }

// NextPerm returns the permanent id the next Add will issue.
func (m *Map) NextPerm() int64 { return m.nextPerm }

// Table returns a copy of the compact→permanent table.
func (m *Map) Table() []int64 { return append([]int64(nil), m.comp2perm...) }

// Add appends a compact slot with a fresh permanent id.
func (m *Map) Add() (comp, perm int64) {
	comp = int64(len(m.comp2perm))
	perm = m.nextPerm
	m.nextPerm++
	m.comp2perm = append(m.comp2perm, perm)
	m.perm2comp[perm] = comp
	return comp, perm
}

// Assign maps an existing or new compact slot to a fresh permanent id,
// growing the table with gaps as needed.
func (m *Map) Assign(comp int64) int64 {
	for int64(len(m.comp2perm)) <= comp {
		m.comp2perm = append(m.comp2perm, Invalid)
	}
	if old := m.comp2perm[comp]; old != Invalid {
		delete(m.perm2comp, old)
	}
	perm := m.nextPerm
	m.nextPerm++
	m.comp2perm[comp] = perm
	m.perm2comp[perm] = comp
	return perm
}

// Remove unmaps a compact id, leaving a gap. Returns false if comp was not
// mapped.
func (m *Map) Remove(comp int64) bool {
	if comp < 0 || comp >= int64(len(m.comp2perm)) {
		return false
	}
	perm := m.comp2perm[comp]
	if perm == Invalid {
		return false
	}
	delete(m.perm2comp, perm)
	m.comp2perm[comp] = Invalid
	return true
}

// IsLive reports whether comp is mapped.
func (m *Map) IsLive(comp int64) bool {
	return comp >= 0 && comp < int64(len(m.comp2perm)) && m.comp2perm[comp] != Invalid
}

// PermFromComp translates ids in place from compact to permanent. Ids with
// no mapping become Invalid and the result is false.
func (m *Map) PermFromComp(ids []int64) bool {
	ok := true
	for i, c := range ids {
		if !m.IsLive(c) {
			ids[i] = Invalid
			ok = false
			continue
		}
		ids[i] = m.comp2perm[c]
	}
	return ok
}

// CompFromPerm translates ids in place from permanent to compact. Ids with
// no mapping become Invalid and the result is false.
func (m *Map) CompFromPerm(ids []int64) bool {
	ok := true
	for i, p := range ids {
		c, found := m.perm2comp[p]
		if !found {
			ids[i] = Invalid
			ok = false
			continue
		}
		ids[i] = c
	}
	return ok
}

// Compact renumbers compact ids. newToOld lists, for every new compact id,
// the old compact id it takes over.
func (m *Map) Compact(newToOld []int64) {
	table := make([]int64, len(newToOld))
	perm2comp := make(map[int64]int64, len(newToOld))
	for n, o := range newToOld {
		p := m.comp2perm[o]
		table[n] = p
		if p != Invalid {
			perm2comp[p] = int64(n)
		}
	}
	m.comp2perm = table
	m.perm2comp = perm2comp
}

// EnsurePermGreater makes every permanent id issued from now on exceed
// bound. Returns false only when no such id can exist.
func (m *Map) EnsurePermGreater(bound int64) bool {
	if bound == math.MaxInt64 {
		return false
	}
	if m.nextPerm <= bound {
		m.nextPerm = bound + 1
	}
	return true
}

// RemapPerm moves the mapping of permanent id src to dst. Fails if src is
// not mapped, dst is negative or dst is already taken by another entry.
func (m *Map) RemapPerm(src, dst int64) bool {
	c, found := m.perm2comp[src]
	if !found || dst < 0 {
		return false
	}
	if src == dst {
		return true
	}
	if _, taken := m.perm2comp[dst]; taken {
		return false
	}
	delete(m.perm2comp, src)
	m.perm2comp[dst] = c
	m.comp2perm[c] = dst
	if dst >= m.nextPerm {
		m.nextPerm = dst + 1
	}
	return true
}

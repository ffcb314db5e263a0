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
	"container/list"
	"sync"
	"time"

	"github.com/AleutianAI/probqa/services/pqa/idmap"
)

// quizTable holds the open quizzes.
//
// Compact quiz ids are slot indices; freed slots are reused. The LRU list
// orders quizzes by last use, most recent at the front.
//
// Thread Safety: Safe for concurrent use. One mutex covers the slots, the
// LRU list and the quiz permanent id table.
type quizTable struct {
	mu    sync.Mutex
	slots []*Quiz
	free  []int64
	lru   *list.List
	ids   *idmap.Map
	now   func() time.Time
}

func newQuizTable() *quizTable {
	return &quizTable{
		lru: list.New(),
		ids: idmap.New(0),
		now: time.Now,
	}
}

// insert stores q and assigns its compact and permanent ids.
func (t *quizTable) insert(q *Quiz) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	var id int64
	if n := len(t.free); n > 0 {
		id = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		id = int64(len(t.slots))
		t.slots = append(t.slots, nil)
	}
	q.id = id
	q.lastUsed = t.now()
	q.elem = t.lru.PushFront(q)
	t.slots[id] = q
	t.ids.Assign(id)
	openQuizzes.Inc()
	return id
}

// get returns the quiz and marks it used.
func (t *quizTable) get(id int64) (*Quiz, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id < 0 || id >= int64(len(t.slots)) || t.slots[id] == nil {
		return nil, false
	}
	q := t.slots[id]
	q.lastUsed = t.now()
	t.lru.MoveToFront(q.elem)
	return q, true
}

// remove releases one quiz.
func (t *quizTable) remove(id int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id < 0 || id >= int64(len(t.slots)) || t.slots[id] == nil {
		return false
	}
	t.removeLocked(t.slots[id])
	return true
}

func (t *quizTable) removeLocked(q *Quiz) {
	t.lru.Remove(q.elem)
	t.slots[q.id] = nil
	t.free = append(t.free, q.id)
	t.ids.Remove(q.id)
	openQuizzes.Dec()
}

// clearOld keeps at most maxCount most recently used quizzes and drops
// quizzes idle longer than maxAge. A negative argument disables that limit.
// Returns the number of quizzes released.
func (t *quizTable) clearOld(maxCount int64, maxAge time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	now := t.now()
	for e := t.lru.Back(); e != nil; {
		q := e.Value.(*Quiz)
		prev := e.Prev()
		overCount := maxCount >= 0 && int64(t.lru.Len()) > maxCount
		tooOld := maxAge >= 0 && now.Sub(q.lastUsed) > maxAge
		if !overCount && !tooOld {
			// Everything further front is newer.
			break
		}
		t.removeLocked(q)
		removed++
		e = prev
	}
	return removed
}

// releaseAll drops every quiz and returns how many there were.
func (t *quizTable) releaseAll() int {
	return t.clearOld(0, -1)
}

func (t *quizTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lru.Len()
}

func (t *quizTable) permFromComp(ids []int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ids.PermFromComp(ids)
}

func (t *quizTable) compFromPerm(ids []int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ids.CompFromPerm(ids)
}

func (t *quizTable) ensurePermGreater(bound int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ids.EnsurePermGreater(bound)
}

func (t *quizTable) remapPerm(src, dst int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ids.RemapPerm(src, dst)
}

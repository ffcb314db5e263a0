// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package arena provides scoped scratch memory for engine algorithms.
//
// An invocation first describes everything it needs in a Layout, then
// acquires one Scope holding a single slab large enough for the whole
// layout. Spans are offsets into the slab rather than raw addresses, so a
// layout can be computed before any memory exists. Scopes must be released
// on every exit path, normally with defer.
//
// Only pointer-free element types with alignment of at most 8 bytes may be
// placed in an arena; the garbage collector does not scan slab contents.
package arena

import (
	"errors"
	"fmt"
	"reflect"
	"unsafe"
)

const wordSize = 8

// ErrAllocation indicates an acquisition would exceed the arena byte cap.
var ErrAllocation = errors.New("arena allocation failed")

// Layout accumulates the reservations of one invocation.
type Layout struct {
	words int64
}

// Bytes returns the slab size the layout requires.
func (l *Layout) Bytes() int64 { return l.words * wordSize }

// Span locates n elements of type T inside a scope's slab.
type Span[T any] struct {
	off int64 // in words
	n   int64
}

// Len returns the number of elements in the span.
func (s Span[T]) Len() int64 { return s.n }

// Reserve appends room for n elements of type T to the layout.
//
// Reserve panics if T contains pointers or requires alignment above 8
// bytes; both are programming errors.
func Reserve[T any](l *Layout, n int64) Span[T] {
	var zero T
	typ := reflect.TypeOf(zero)
	if typ != nil && !pointerFree(typ) {
		panic(fmt.Sprintf("arena: element type %s contains pointers", typ))
	}
	if unsafe.Alignof(zero) > wordSize {
		panic(fmt.Sprintf("arena: element type %s alignment exceeds %d", typ, wordSize))
	}
	if n < 0 {
		n = 0
	}
	bytes := n * int64(unsafe.Sizeof(zero))
	sp := Span[T]{off: l.words, n: n}
	l.words += (bytes + wordSize - 1) / wordSize
	return sp
}

func pointerFree(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Bool, reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return true
	case reflect.Array:
		return pointerFree(t.Elem())
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if !pointerFree(t.Field(i).Type) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// View resolves a span against a scope.
//
// The returned slice aliases the scope's slab and must not be used after
// the scope is released.
func View[T any](s *Scope, sp Span[T]) []T {
	if sp.n == 0 {
		return nil
	}
	if s.slab == nil {
		panic("arena: view of released scope")
	}
	ptr := unsafe.Pointer(&s.slab[sp.off])
	return unsafe.Slice((*T)(ptr), sp.n)
}

/*
 * Copyright 2024 Dgraph Labs, Inc. and Contributors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package z

import (
	"math/bits"
	"sync"
	"unsafe"
)

// GoHeap serves malloc style requests from the Go heap. Every block it hands
// out stays referenced from the live map until it is freed, so the garbage
// collector never reclaims (or moves) memory a caller still holds a raw
// pointer to. It is the system allocator when cgo is unavailable.
type GoHeap struct {
	mu    sync.Mutex
	live  map[uintptr][]byte
	bytes int64
}

// NewGoHeap returns an empty GoHeap.
func NewGoHeap() *GoHeap {
	return &GoHeap{live: make(map[uintptr][]byte)}
}

func (h *GoHeap) Malloc(size uint64) unsafe.Pointer {
	if size > MaxAlloc {
		return nil
	}
	// Zero sized requests still get a unique address, like glibc.
	b := make([]byte, max(size, 1))
	p := unsafe.Pointer(&b[0])

	h.mu.Lock()
	h.live[uintptr(p)] = b
	h.bytes += int64(cap(b))
	h.mu.Unlock()
	return p
}

// Calloc returns nil if count*size overflows. Go memory is always zeroed.
func (h *GoHeap) Calloc(count, size uint64) unsafe.Pointer {
	hi, total := bits.Mul64(count, size)
	if hi != 0 {
		return nil
	}
	return h.Malloc(total)
}

// Realloc resizes in place whenever the block's capacity allows it and moves
// the data to a fresh block otherwise. Unknown pointers yield nil.
func (h *GoHeap) Realloc(p unsafe.Pointer, size uint64) unsafe.Pointer {
	if p == nil {
		return h.Malloc(size)
	}
	if size == 0 {
		h.Free(p)
		return nil
	}
	if size > MaxAlloc {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	old, ok := h.live[uintptr(p)]
	if !ok {
		return nil
	}
	if size <= uint64(cap(old)) {
		h.live[uintptr(p)] = old[:size]
		return p
	}

	b := make([]byte, size)
	copy(b, old)
	np := unsafe.Pointer(&b[0])
	delete(h.live, uintptr(p))
	h.live[uintptr(np)] = b
	h.bytes += int64(cap(b)) - int64(cap(old))
	return np
}

// Free drops the reference to p. Unknown pointers are ignored.
func (h *GoHeap) Free(p unsafe.Pointer) {
	if p == nil {
		return
	}
	h.mu.Lock()
	if b, ok := h.live[uintptr(p)]; ok {
		delete(h.live, uintptr(p))
		h.bytes -= int64(cap(b))
	}
	h.mu.Unlock()
}

// Owns reports whether p is a live block handed out by h.
func (h *GoHeap) Owns(p unsafe.Pointer) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.live[uintptr(p)]
	return ok
}

// Size returns the usable size of the live block at p.
func (h *GoHeap) Size(p unsafe.Pointer) (uint64, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	b, ok := h.live[uintptr(p)]
	return uint64(len(b)), ok
}

// Bytes returns the number of bytes currently held by live blocks.
func (h *GoHeap) Bytes() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.bytes
}

// Len returns the number of live blocks.
func (h *GoHeap) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.live)
}

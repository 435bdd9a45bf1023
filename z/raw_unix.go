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

//go:build unix

package z

import (
	"math/bits"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// RawAllocator hands out anonymous private mappings straight from the kernel.
// It shares nothing with the system allocator, which makes it safe to use
// while that allocator is still being resolved. Every request costs at least
// a page, so it is only meant for the handful of allocations made during
// bootstrap.
type RawAllocator struct {
	mu    sync.Mutex
	live  map[uintptr][]byte
	bytes int64
}

// NewRaw returns an empty RawAllocator.
func NewRaw() *RawAllocator {
	return &RawAllocator{live: make(map[uintptr][]byte)}
}

func (r *RawAllocator) Malloc(size uint64) unsafe.Pointer {
	if size > MaxAlloc {
		return nil
	}
	region, err := unix.Mmap(-1, 0, int(max(size, 1)),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil
	}
	p := unsafe.Pointer(&region[0])

	r.mu.Lock()
	r.live[uintptr(p)] = region
	r.bytes += int64(len(region))
	r.mu.Unlock()
	return p
}

// Calloc returns nil if count*size overflows. Fresh anonymous mappings are
// zero filled by the kernel.
func (r *RawAllocator) Calloc(count, size uint64) unsafe.Pointer {
	hi, total := bits.Mul64(count, size)
	if hi != 0 {
		return nil
	}
	return r.Malloc(total)
}

func (r *RawAllocator) Realloc(p unsafe.Pointer, size uint64) unsafe.Pointer {
	if p == nil {
		return r.Malloc(size)
	}
	if size == 0 {
		r.Free(p)
		return nil
	}

	r.mu.Lock()
	old, ok := r.live[uintptr(p)]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	if size <= uint64(len(old)) {
		return p
	}

	np := r.Malloc(size)
	if np == nil {
		return nil
	}
	copy(unsafe.Slice((*byte)(np), size), old)
	r.Free(p)
	return np
}

func (r *RawAllocator) Free(p unsafe.Pointer) {
	if p == nil {
		return
	}
	r.mu.Lock()
	region, ok := r.live[uintptr(p)]
	if ok {
		delete(r.live, uintptr(p))
		r.bytes -= int64(len(region))
	}
	r.mu.Unlock()
	if ok {
		// Nothing useful can be done with an munmap failure here.
		_ = unix.Munmap(region)
	}
}

// Owns reports whether p is a live mapping handed out by r.
func (r *RawAllocator) Owns(p unsafe.Pointer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.live[uintptr(p)]
	return ok
}

// Size returns the usable size of the live mapping at p.
func (r *RawAllocator) Size(p unsafe.Pointer) (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	region, ok := r.live[uintptr(p)]
	return uint64(len(region)), ok
}

// Bytes returns the number of bytes currently mapped.
func (r *RawAllocator) Bytes() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bytes
}

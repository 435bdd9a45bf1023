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

package memquota

import (
	"sync"

	"github.com/dgraph-io/memquota/z"
)

// liveAllocation is the registry's record of one outstanding allocation.
type liveAllocation struct {
	size uint64
	// resizing is set while the address is inside an underlying realloc call.
	// The allocator may free the address during that call, so a concurrent
	// insert of the same address supersedes the entry instead of colliding.
	resizing bool
}

const numShards uint64 = 256

// registry maps the address of every live tracked allocation to its size. It
// is split into shards, each guarded by its own mutex, and the shard is picked
// by hashing the address.
//
// The mutators accept a callback that runs while the shard lock is held. The
// tracker uses it to update the ledger, so an entry and its bytes always
// appear and disappear together. Lock order is shard first, then ledger.
//
// Entries live in the Go heap, which never goes through the tracked path.
type registry struct {
	shards []*lockedRegistry
}

type lockedRegistry struct {
	sync.Mutex
	m map[uintptr]liveAllocation
}

func newRegistry() *registry {
	r := &registry{
		shards: make([]*lockedRegistry, int(numShards)),
	}
	for i := range r.shards {
		r.shards[i] = &lockedRegistry{m: make(map[uintptr]liveAllocation)}
	}
	return r
}

func (r *registry) shard(addr uintptr) *lockedRegistry {
	return r.shards[z.AddrHash(addr)%numShards]
}

// insert starts tracking addr. fn is called with the size of the entry being
// replaced, zero if there was none. It returns true if addr was already
// tracked and not resizing, which means the ledger had gone out of sync with
// the allocator.
func (r *registry) insert(addr uintptr, size uint64, fn func(stale uint64)) bool {
	s := r.shard(addr)
	s.Lock()
	defer s.Unlock()

	prev, ok := s.m[addr]
	s.m[addr] = liveAllocation{size: size}
	if fn != nil {
		fn(prev.size)
	}
	return ok && !prev.resizing
}

func (r *registry) find(addr uintptr) (uint64, bool) {
	s := r.shard(addr)
	s.Lock()
	defer s.Unlock()
	a, ok := s.m[addr]
	return a.size, ok
}

// remove stops tracking addr and hands its size to fn.
func (r *registry) remove(addr uintptr, fn func(size uint64)) (uint64, bool) {
	s := r.shard(addr)
	s.Lock()
	defer s.Unlock()

	a, ok := s.m[addr]
	if !ok {
		return 0, false
	}
	delete(s.m, addr)
	if fn != nil {
		fn(a.size)
	}
	return a.size, true
}

// updateSize records a new size for addr in place and clears the resizing
// mark. fn receives the previous size.
func (r *registry) updateSize(addr uintptr, size uint64, fn func(old uint64)) bool {
	s := r.shard(addr)
	s.Lock()
	defer s.Unlock()

	a, ok := s.m[addr]
	if !ok {
		return false
	}
	s.m[addr] = liveAllocation{size: size}
	if fn != nil {
		fn(a.size)
	}
	return true
}

// markResizing flags addr as being resized and returns its size. It fails if
// addr is unknown or another resize of it is already in flight.
func (r *registry) markResizing(addr uintptr) (uint64, bool) {
	s := r.shard(addr)
	s.Lock()
	defer s.Unlock()

	a, ok := s.m[addr]
	if !ok || a.resizing {
		return 0, false
	}
	a.resizing = true
	s.m[addr] = a
	return a.size, true
}

func (r *registry) cancelResize(addr uintptr) {
	s := r.shard(addr)
	s.Lock()
	defer s.Unlock()

	if a, ok := s.m[addr]; ok && a.resizing {
		a.resizing = false
		s.m[addr] = a
	}
}

// removeResizing drops addr after the allocator moved it elsewhere. If the
// entry is no longer marked, the address was handed out again and already
// re-tracked, so there is nothing left to remove.
func (r *registry) removeResizing(addr uintptr, fn func(size uint64)) bool {
	s := r.shard(addr)
	s.Lock()
	defer s.Unlock()

	a, ok := s.m[addr]
	if !ok || !a.resizing {
		return false
	}
	delete(s.m, addr)
	if fn != nil {
		fn(a.size)
	}
	return true
}

// snapshot locks every shard, in order, and calls fn with the number of
// entries and the sum of their sizes. No mutation is in flight while fn runs.
func (r *registry) snapshot(fn func(entries int, total uint64)) {
	for _, s := range r.shards {
		s.Lock()
	}
	defer func() {
		for _, s := range r.shards {
			s.Unlock()
		}
	}()

	var entries int
	var total uint64
	for _, s := range r.shards {
		entries += len(s.m)
		for _, a := range s.m {
			total += a.size
		}
	}
	fn(entries, total)
}

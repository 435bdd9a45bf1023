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
	"fmt"
	"math/bits"
	"os"
	"unsafe"

	"github.com/dgraph-io/memquota/z"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
)

// Tracker enforces a limit on live bytes across every allocation made through
// it. All methods are safe for concurrent use.
type Tracker struct {
	// Metrics is nil unless Config.Metrics was set.
	Metrics *Metrics

	config Config
	boot   bootstrap
	raw    *z.RawAllocator
	real   Primitives
	quota  quota
	reg    *registry
	log    Logger
	exit   func(code int)
}

// NewTracker returns a tracker for config. Nothing is resolved until the first
// allocation request arrives.
func NewTracker(config *Config) *Tracker {
	t := &Tracker{
		raw:  z.NewRaw(),
		reg:  newRegistry(),
		exit: os.Exit,
	}
	if config != nil {
		t.config = *config
	}
	if t.config.LimitEnv == "" {
		t.config.LimitEnv = LimitEnv
	}
	if t.config.Resolve == nil {
		t.config.Resolve = resolveSystem
	}
	t.log = t.config.Logger
	if t.log == nil {
		t.log = DefaultLogger(WARNING)
	}
	if t.config.Metrics {
		t.Metrics = newMetrics()
	}
	t.boot.init = t.initialize
	return t
}

func resolveSystem() (Primitives, error) {
	sys, err := z.System()
	if err != nil {
		return nil, err
	}
	return sys, nil
}

// initialize runs once, from bootstrap, with the phase set to initializing.
func (t *Tracker) initialize() bool {
	prims, err := t.config.Resolve()
	if err == nil && prims == nil {
		err = errors.New("no primitives returned")
	}
	if err != nil {
		t.fatalf("%v", errors.Wrap(err, "while resolving allocation primitives"))
		return false
	}

	limit := t.config.Limit
	if limit == 0 && !t.config.LimitSet {
		limit, err = limitFromEnv(t.config.LimitEnv)
		if err != nil {
			t.log.Warningf("%v. Using the default limit of %s.", err, humanize.IBytes(limit))
		}
	}
	t.real = prims
	t.quota.init(limit)
	t.log.Infof("Tracking allocations with a limit of %s", humanize.IBytes(limit))
	return true
}

// fatalf logs and terminates the process. Without the real primitives no
// request can be served.
func (t *Tracker) fatalf(format string, args ...interface{}) {
	t.log.Errorf(format, args...)
	t.exit(1)
}

// Malloc returns size bytes of uninitialized memory, or nil if the request
// would exceed the limit or the real allocator is out of memory.
func (t *Tracker) Malloc(size uint64) unsafe.Pointer {
	if !t.boot.ensureReady() {
		t.Metrics.add(rawOps, size, 1)
		return t.raw.Malloc(size)
	}
	p, err := t.allocate(1, size, false)
	if err != nil {
		t.report("malloc", err)
	}
	return p
}

// Calloc returns zeroed memory for count elements of size bytes each. A
// product that overflows is refused like any other oversized request.
func (t *Tracker) Calloc(count, size uint64) unsafe.Pointer {
	if !t.boot.ensureReady() {
		t.Metrics.add(rawOps, size, 1)
		return t.raw.Calloc(count, size)
	}
	p, err := t.allocate(count, size, true)
	if err != nil {
		t.report("calloc", err)
	}
	return p
}

// Free releases memory obtained from the tracker. Nil is ignored, and so is
// an address the tracker doesn't know about, after logging it.
func (t *Tracker) Free(p unsafe.Pointer) {
	if p == nil {
		return
	}
	if !t.boot.ensureReady() {
		t.Metrics.add(rawOps, uint64(uintptr(p)), 1)
		t.raw.Free(p)
		return
	}
	if err := t.release(p); err != nil {
		t.report("free", err)
	}
}

// Realloc changes the size of the allocation at p, possibly moving it. A nil p
// allocates; a zero size frees p and returns nil. On failure nil is returned
// and p stays valid and untouched. A block obtained during bootstrap is moved
// onto the tracked path and charged against the limit.
func (t *Tracker) Realloc(p unsafe.Pointer, size uint64) unsafe.Pointer {
	if !t.boot.ensureReady() {
		t.Metrics.add(rawOps, size, 1)
		return t.raw.Realloc(p, size)
	}
	switch {
	case p == nil:
		return t.Malloc(size)
	case size == 0:
		t.Free(p)
		return nil
	}
	np, err := t.resize(p, size)
	if err != nil {
		t.report("realloc", err)
	}
	return np
}

func (t *Tracker) allocate(count, size uint64, zeroed bool) (unsafe.Pointer, error) {
	total := size
	if zeroed {
		hi, lo := bits.Mul64(count, size)
		if hi != 0 {
			return nil, errors.Wrapf(ErrSizeOverflow, "%d elements of %d bytes", count, size)
		}
		total = lo
	}
	if !t.quota.tryReserve(total) {
		return nil, t.denied(total)
	}

	var p unsafe.Pointer
	if zeroed {
		p = t.real.Calloc(count, size)
	} else {
		p = t.real.Malloc(size)
	}
	if p == nil {
		if total == 0 {
			// malloc(0) may legitimately return NULL.
			return nil, nil
		}
		return nil, errors.Wrapf(ErrUnderlyingFailed, "out of memory allocating %s",
			humanize.IBytes(total))
	}

	t.track(uintptr(p), total)
	t.Metrics.add(allocs, total, 1)
	t.Metrics.add(bytesAllocated, total, total)
	t.Metrics.trackSize(total)
	return p, nil
}

func (t *Tracker) release(p unsafe.Pointer) error {
	addr := uintptr(p)
	// The entry goes first. Once the real allocator has the block back it may
	// hand the address to another caller, whose insert must not collide.
	size, ok := t.reg.remove(addr, t.quota.release)
	if !ok {
		if t.raw.Owns(p) {
			t.Metrics.add(rawOps, uint64(addr), 1)
			t.raw.Free(p)
			return nil
		}
		return errors.Wrapf(ErrUnknownPointer, "%#x", addr)
	}
	t.real.Free(p)
	t.Metrics.add(frees, size, 1)
	t.Metrics.add(bytesFreed, size, size)
	return nil
}

func (t *Tracker) resize(p unsafe.Pointer, size uint64) (unsafe.Pointer, error) {
	addr := uintptr(p)
	old, ok := t.reg.markResizing(addr)
	if !ok {
		if rawSize, raw := t.raw.Size(p); raw {
			return t.adopt(p, rawSize, size)
		}
		return nil, errors.Wrapf(ErrUnknownPointer, "%#x", addr)
	}
	if !t.quota.adjust(old, size) {
		t.reg.cancelResize(addr)
		return nil, t.denied(size - old)
	}

	np := t.real.Realloc(p, size)
	if np == nil {
		t.reg.cancelResize(addr)
		return nil, errors.Wrapf(ErrUnderlyingFailed, "out of memory resizing %#x from %s to %s",
			addr, humanize.IBytes(old), humanize.IBytes(size))
	}

	if naddr := uintptr(np); naddr == addr {
		if !t.reg.updateSize(addr, size, func(prev uint64) { t.quota.apply(prev, size) }) {
			// Freed by someone else while the resize was in flight. The block is
			// live, so track it again.
			t.track(addr, size)
		}
	} else {
		t.reg.removeResizing(addr, t.quota.release)
		t.track(naddr, size)
	}

	t.Metrics.add(reallocs, size, 1)
	if size > old {
		t.Metrics.add(bytesAllocated, size, size-old)
	} else {
		t.Metrics.add(bytesFreed, size, old-size)
	}
	t.Metrics.trackSize(size)
	return np, nil
}

// adopt moves a block handed out during bootstrap onto the tracked path. The
// raw block is released only once the copy has succeeded.
func (t *Tracker) adopt(p unsafe.Pointer, old, size uint64) (unsafe.Pointer, error) {
	np, err := t.allocate(1, size, false)
	if err != nil {
		return nil, err
	}
	copy(unsafe.Slice((*byte)(np), size), unsafe.Slice((*byte)(p), old))
	t.Metrics.add(rawOps, old, 1)
	t.raw.Free(p)
	return np, nil
}

// track records addr and commits its bytes in one step.
func (t *Tracker) track(addr uintptr, size uint64) {
	dup := t.reg.insert(addr, size, func(stale uint64) { t.quota.apply(stale, size) })
	if dup {
		t.log.Errorf("Address %#x was already tracked. Replacing its entry.", addr)
	}
}

func (t *Tracker) denied(requested uint64) error {
	limit, live := t.quota.load()
	return errors.Wrapf(ErrQuotaExceeded, "requested %s with %s of %s in use",
		humanize.IBytes(requested), humanize.IBytes(live), humanize.IBytes(limit))
}

// report logs err at the severity of its class and counts it.
func (t *Tracker) report(op string, err error) {
	switch {
	case errors.Is(err, ErrQuotaExceeded):
		t.Metrics.add(quotaDenied, 0, 1)
		t.log.Debugf("%s: %v", op, err)
	case errors.Is(err, ErrSizeOverflow):
		t.Metrics.add(quotaDenied, 1, 1)
		t.log.Warningf("%s: %v", op, err)
	case errors.Is(err, ErrUnknownPointer):
		t.Metrics.add(unknownPointer, 0, 1)
		t.log.Errorf("%s: %v", op, err)
	default:
		t.Metrics.add(underlyingFailed, 0, 1)
		t.log.Errorf("%s: %v", op, err)
	}
}

// Find returns the recorded size of the allocation at p.
func (t *Tracker) Find(p unsafe.Pointer) (uint64, bool) {
	return t.reg.find(uintptr(p))
}

// Ready reports whether the real allocator has been resolved.
func (t *Tracker) Ready() bool {
	return t.boot.ready()
}

// Stats is a consistent view of a tracker's ledger.
type Stats struct {
	// Limit is the ceiling on live bytes. It is zero before bootstrap.
	Limit uint64
	// Live is the ledger's count of live bytes.
	Live uint64
	// Tracked is the sum of the sizes of all tracked allocations. It always
	// equals Live.
	Tracked uint64
	// Allocations is the number of tracked allocations.
	Allocations int
}

// Stats returns the ledger as seen with every registry shard locked, so no
// operation is halfway through updating it.
func (t *Tracker) Stats() Stats {
	var s Stats
	t.reg.snapshot(func(entries int, total uint64) {
		s.Allocations, s.Tracked = entries, total
		s.Limit, s.Live = t.quota.load()
	})
	return s
}

func (s Stats) String() string {
	return fmt.Sprintf("live: %s limit: %s allocations: %d",
		humanize.IBytes(s.Live), humanize.IBytes(s.Limit), s.Allocations)
}

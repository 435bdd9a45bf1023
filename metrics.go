/*
 * Copyright 2021 Dgraph Labs, Inc. and Contributors
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
	"bytes"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/memquota/z"
	"github.com/dustin/go-humanize"
)

type metricType int

const (
	// The following 3 keep track of successful tracked operations.
	allocs = iota
	reallocs
	frees
	// The following 2 keep track of bytes handed out and given back.
	bytesAllocated
	bytesFreed
	// The following 3 keep track of requests answered with nil.
	quotaDenied
	underlyingFailed
	unknownPointer
	// Requests served by the raw allocator, during bootstrap or for pointers
	// obtained then.
	rawOps
	// This should be the final enum. Other enums should be set before this.
	doNotUse
)

func stringFor(t metricType) string {
	switch t {
	case allocs:
		return "allocs"
	case reallocs:
		return "reallocs"
	case frees:
		return "frees"
	case bytesAllocated:
		return "bytes-allocated"
	case bytesFreed:
		return "bytes-freed"
	case quotaDenied:
		return "quota-denied"
	case underlyingFailed:
		return "underlying-failed"
	case unknownPointer:
		return "unknown-pointer"
	case rawOps:
		return "raw-ops"
	default:
		return "unidentified"
	}
}

// Metrics is a snapshot of allocation statistics for the lifetime of a tracker.
type Metrics struct {
	all [doNotUse][]*uint64

	mu    sync.RWMutex
	sizes *z.HistogramData // Sizes of successful allocate and resize requests.
}

func newMetrics() *Metrics {
	s := &Metrics{
		sizes: z.NewHistogramData(z.HistogramBounds(4, 30)),
	}
	for i := 0; i < doNotUse; i++ {
		s.all[i] = make([]*uint64, 256)
		slice := s.all[i]
		for j := range slice {
			slice[j] = new(uint64)
		}
	}
	return s
}

func (p *Metrics) add(t metricType, hash, delta uint64) {
	if p == nil {
		return
	}
	valp := p.all[t]
	// Avoid false sharing by padding at least 64 bytes of space between two
	// atomic counters which would be incremented.
	idx := (hash % 25) * 10
	atomic.AddUint64(valp[idx], delta)
}

func (p *Metrics) get(t metricType) uint64 {
	if p == nil {
		return 0
	}
	valp := p.all[t]
	var total uint64
	for i := range valp {
		total += atomic.LoadUint64(valp[i])
	}
	return total
}

func (p *Metrics) trackSize(size uint64) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sizes.Update(int64(size))
}

// Allocs is the number of Malloc and Calloc calls that returned tracked memory.
func (p *Metrics) Allocs() uint64 {
	return p.get(allocs)
}

// Reallocs is the number of successful Realloc calls on tracked memory.
func (p *Metrics) Reallocs() uint64 {
	return p.get(reallocs)
}

// Frees is the number of tracked allocations released.
func (p *Metrics) Frees() uint64 {
	return p.get(frees)
}

// BytesAllocated is the sum of bytes handed out, counting growth by Realloc.
func (p *Metrics) BytesAllocated() uint64 {
	return p.get(bytesAllocated)
}

// BytesFreed is the sum of bytes given back, counting shrinkage by Realloc.
func (p *Metrics) BytesFreed() uint64 {
	return p.get(bytesFreed)
}

// QuotaDenied is the number of requests refused because of the limit.
func (p *Metrics) QuotaDenied() uint64 {
	return p.get(quotaDenied)
}

// UnderlyingFailed is the number of requests the real allocator couldn't
// satisfy even though the quota allowed them.
func (p *Metrics) UnderlyingFailed() uint64 {
	return p.get(underlyingFailed)
}

// UnknownPointers is the number of Free and Realloc calls on addresses that
// were not tracked.
func (p *Metrics) UnknownPointers() uint64 {
	return p.get(unknownPointer)
}

// RawOps is the number of requests served by the raw bootstrap allocator.
func (p *Metrics) RawOps() uint64 {
	return p.get(rawOps)
}

// Sizes returns a copy of the request size histogram.
func (p *Metrics) Sizes() *z.HistogramData {
	if p == nil {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sizes.Copy()
}

// Clear resets all the metrics.
func (p *Metrics) Clear() {
	if p == nil {
		return
	}
	for i := 0; i < doNotUse; i++ {
		for j := range p.all[i] {
			atomic.StoreUint64(p.all[i][j], 0)
		}
	}
	p.mu.Lock()
	p.sizes = z.NewHistogramData(z.HistogramBounds(4, 30))
	p.mu.Unlock()
}

// String returns a string representation of the metrics.
func (p *Metrics) String() string {
	if p == nil {
		return ""
	}
	var buf bytes.Buffer
	for i := 0; i < doNotUse; i++ {
		t := metricType(i)
		switch t {
		case bytesAllocated, bytesFreed:
			fmt.Fprintf(&buf, "%s: %s ", stringFor(t), humanize.IBytes(p.get(t)))
		default:
			fmt.Fprintf(&buf, "%s: %d ", stringFor(t), p.get(t))
		}
	}
	fmt.Fprintf(&buf, "outstanding: %d", p.get(allocs)-min(p.get(frees), p.get(allocs)))
	return buf.String()
}

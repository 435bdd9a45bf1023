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
)

// quota is the ledger: the byte ceiling and the running total of live bytes.
// Checks and updates are separate critical sections and the lock is never
// held across a call into the underlying allocator.
type quota struct {
	mu    sync.Mutex
	limit uint64
	live  uint64
}

func (q *quota) init(limit uint64) {
	q.mu.Lock()
	q.limit = limit
	q.live = 0
	q.mu.Unlock()
}

// fits reports whether live+n stays within limit without overflowing.
func fits(live, n, limit uint64) bool {
	return n <= limit && live <= limit-n
}

// tryReserve reports whether n more bytes fit under the ceiling. Nothing is
// reserved; the caller commits once the underlying allocation succeeded.
func (q *quota) tryReserve(n uint64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return fits(q.live, n, q.limit)
}

// adjust reports whether an allocation of oldSize bytes may become newSize
// bytes. The old bytes are not counted twice, and shrinking always passes.
func (q *quota) adjust(oldSize, newSize uint64) bool {
	if newSize <= oldSize {
		return true
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	base := q.live - min(oldSize, q.live)
	return fits(base, newSize, q.limit)
}

func (q *quota) commit(n uint64) {
	q.apply(0, n)
}

func (q *quota) release(n uint64) {
	q.apply(n, 0)
}

// apply replaces oldSize accounted bytes with newSize.
func (q *quota) apply(oldSize, newSize uint64) {
	q.mu.Lock()
	q.live = q.live - min(oldSize, q.live) + newSize
	q.mu.Unlock()
}

func (q *quota) load() (limit, live uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.limit, q.live
}

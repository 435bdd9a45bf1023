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
	"sync/atomic"
)

// Bootstrap phases. The tracker serves requests from the raw allocator while
// initializing, because resolving the real primitives may itself allocate.
const (
	uninitialized int32 = iota
	initializing
	ready
)

// bootstrap runs init exactly once, on first use. Readers take the atomic fast
// path; only the first callers contend for the mutex.
type bootstrap struct {
	phase atomic.Int32
	mu    sync.Mutex
	// init returns false if the tracker could not be brought up. The phase then
	// stays at initializing and every request keeps using the raw path.
	init func() bool
}

// ensureReady returns true once the tracked path may be used and false while
// requests must go to the raw allocator.
func (b *bootstrap) ensureReady() bool {
	switch b.phase.Load() {
	case ready:
		return true
	case initializing:
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	// Someone else may have finished while we waited for the lock.
	switch b.phase.Load() {
	case ready:
		return true
	case initializing:
		return false
	}

	b.phase.Store(initializing)
	if !b.init() {
		return false
	}
	b.phase.Store(ready)
	return true
}

func (b *bootstrap) ready() bool {
	return b.phase.Load() == ready
}

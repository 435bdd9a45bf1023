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
	"testing"
	"time"
	"unsafe"

	"github.com/dgraph-io/memquota/z"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestBootstrapOnce(t *testing.T) {
	heap := z.NewGoHeap()
	var resolved atomic.Int32
	tr := NewTracker(&Config{
		Limit: 1 << 20,
		Resolve: func() (Primitives, error) {
			resolved.Add(1)
			time.Sleep(10 * time.Millisecond)
			return heap, nil
		},
		Logger:  &recordLogger{},
		Metrics: true,
	})

	const workers = 16
	ptrs := make([]unsafe.Pointer, workers)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			ptrs[i] = tr.Malloc(64)
		}(i)
	}
	close(start)
	wg.Wait()

	require.Equal(t, int32(1), resolved.Load())
	require.True(t, tr.Ready())

	// Whoever arrived while the resolver ran was served by the raw allocator.
	var tracked int
	for _, p := range ptrs {
		require.NotNil(t, p)
		if _, ok := tr.Find(p); ok {
			tracked++
		} else {
			require.True(t, tr.raw.Owns(p))
		}
	}
	require.Equal(t, tracked, tr.Stats().Allocations)
	require.Equal(t, uint64(workers-tracked), tr.Metrics.RawOps())

	for _, p := range ptrs {
		tr.Free(p)
	}
	requireLive(t, tr, 0)
	require.Zero(t, tr.raw.Bytes())
	require.Zero(t, heap.Len())
	require.Zero(t, tr.Metrics.UnknownPointers())
}

func TestBootstrapReentrant(t *testing.T) {
	var tr *Tracker
	var early unsafe.Pointer
	heap := z.NewGoHeap()
	tr = NewTracker(&Config{
		Limit: 1000,
		Resolve: func() (Primitives, error) {
			// Resolving may allocate. That must not recurse into bootstrap.
			early = tr.Malloc(32)
			early = tr.Realloc(early, 64)
			return heap, nil
		},
		Logger:  &recordLogger{},
		Metrics: true,
	})

	p := tr.Malloc(100)
	require.NotNil(t, p)
	require.NotNil(t, early)
	require.True(t, tr.raw.Owns(early))
	_, ok := tr.Find(early)
	require.False(t, ok)

	// Bootstrap allocations are not charged against the quota.
	requireLive(t, tr, 100)

	tr.Free(early)
	require.False(t, tr.raw.Owns(early))
	require.Zero(t, tr.Metrics.UnknownPointers())
	require.Equal(t, uint64(3), tr.Metrics.RawOps())
	tr.Free(p)
	requireLive(t, tr, 0)
}

func TestBootstrapReallocAdopts(t *testing.T) {
	var tr *Tracker
	var early unsafe.Pointer
	tr = NewTracker(&Config{
		Limit: 1000,
		Resolve: func() (Primitives, error) {
			early = tr.Malloc(16)
			copy(unsafe.Slice((*byte)(early), 16), "resolved libc.so")
			return z.NewGoHeap(), nil
		},
		Logger:  &recordLogger{},
		Metrics: true,
	})
	tr.Free(tr.Malloc(8))
	require.True(t, tr.Ready())
	require.True(t, tr.raw.Owns(early))

	// Larger than the limit: the raw block must survive the denial.
	require.Nil(t, tr.Realloc(early, 2000))
	require.True(t, tr.raw.Owns(early))
	requireLive(t, tr, 0)

	p := tr.Realloc(early, 64)
	require.NotNil(t, p)
	require.False(t, tr.raw.Owns(early))
	require.Equal(t, "resolved libc.so", string(unsafe.Slice((*byte)(p), 16)))
	size, ok := tr.Find(p)
	require.True(t, ok)
	require.Equal(t, uint64(64), size)
	requireLive(t, tr, 64)
	require.Zero(t, tr.Metrics.UnknownPointers())

	tr.Free(p)
	requireLive(t, tr, 0)
}

func TestBootstrapFailure(t *testing.T) {
	logger := &recordLogger{}
	tr := NewTracker(&Config{
		Resolve: func() (Primitives, error) {
			return nil, errors.New("dlsym(malloc): symbol not found")
		},
		Logger: logger,
	})
	var code atomic.Int32
	code.Store(-1)
	tr.exit = func(c int) { code.Store(int32(c)) }

	p := tr.Malloc(10)
	require.Equal(t, int32(1), code.Load())
	require.False(t, tr.Ready())
	require.Len(t, logger.Errors(), 1)
	require.Contains(t, logger.Errors()[0], "while resolving allocation primitives")
	require.Contains(t, logger.Errors()[0], "dlsym(malloc)")

	// Had exit returned, the tracker would keep serving from the raw allocator.
	require.NotNil(t, p)
	require.True(t, tr.raw.Owns(p))
	tr.Free(p)
	require.Zero(t, tr.raw.Bytes())
}

func TestBootstrapNilPrimitives(t *testing.T) {
	logger := &recordLogger{}
	tr := NewTracker(&Config{
		Resolve: func() (Primitives, error) { return nil, nil },
		Logger:  logger,
	})
	var exited atomic.Bool
	tr.exit = func(int) { exited.Store(true) }

	tr.Malloc(1)
	require.True(t, exited.Load())
	require.Contains(t, logger.Errors()[0], "no primitives")
}

func TestBootstrapLimitFromEnv(t *testing.T) {
	const env = "MEMQUOTA_TEST_BOOT_LIMIT"
	t.Setenv(env, "1KiB")

	tr := NewTracker(&Config{
		LimitEnv: env,
		Resolve:  func() (Primitives, error) { return z.NewGoHeap(), nil },
		Logger:   &recordLogger{},
	})
	require.Zero(t, tr.Stats().Limit)

	require.NotNil(t, tr.Malloc(1024))
	require.Nil(t, tr.Malloc(1))
	s := requireConsistent(t, tr)
	require.Equal(t, uint64(1024), s.Limit)
}

func TestBootstrapMalformedLimit(t *testing.T) {
	const env = "MEMQUOTA_TEST_BOOT_LIMIT"
	t.Setenv(env, "plenty")

	logger := &recordLogger{}
	tr := NewTracker(&Config{
		LimitEnv: env,
		Resolve:  func() (Primitives, error) { return z.NewGoHeap(), nil },
		Logger:   logger,
	})
	require.NotNil(t, tr.Malloc(1))
	require.Equal(t, DefaultLimit, tr.Stats().Limit)
	require.Len(t, logger.Warnings(), 1)
	require.Contains(t, logger.Warnings()[0], env)
}

func TestBootstrapConfigLimitWins(t *testing.T) {
	t.Setenv(LimitEnv, "1")
	tr, _, _ := newTestTracker(500)
	require.NotNil(t, tr.Malloc(500))
	require.Equal(t, uint64(500), tr.Stats().Limit)
}

func TestBootstrapZeroLimit(t *testing.T) {
	t.Setenv(LimitEnv, "1MiB")
	heap := z.NewGoHeap()
	tr := NewTracker(&Config{
		LimitSet: true,
		Resolve:  func() (Primitives, error) { return heap, nil },
		Logger:   &recordLogger{},
		Metrics:  true,
	})
	require.Nil(t, tr.Malloc(1))
	require.Zero(t, tr.Stats().Limit)
	require.Equal(t, uint64(1), tr.Metrics.QuotaDenied())
	require.Zero(t, heap.Len())
}

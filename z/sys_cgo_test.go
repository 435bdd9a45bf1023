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

//go:build cgo && !jemalloc

package z

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLibc(t *testing.T) {
	l, err := System()
	require.NoError(t, err)

	p := l.Malloc(64)
	require.NotNil(t, p)
	copy(bytesAt(p, 64), "libc")

	p = l.Realloc(p, 1<<20)
	require.NotNil(t, p)
	require.Equal(t, "libc", string(bytesAt(p, 4)))
	l.Free(p)

	q := l.Calloc(32, 4)
	require.NotNil(t, q)
	for _, b := range bytesAt(q, 128) {
		require.Zero(t, b)
	}
	l.Free(q)

	// free(NULL) is a no-op in every libc.
	l.Free(nil)
}

func TestLookupMissing(t *testing.T) {
	_, err := lookup("memquota_no_such_symbol")
	require.Error(t, err)
	require.Contains(t, err.Error(), "memquota_no_such_symbol")
}

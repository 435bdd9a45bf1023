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

// Package z holds the low level pieces memquota is built on: bindings to the
// real allocators, the raw allocator used while bootstrapping, address hashing
// and histograms.
package z

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// MaxAlloc is the largest single request served from the Go heap or from raw
// mmap pages. Anything bigger is answered with nil.
const MaxAlloc = 1 << 40

// AddrHash spreads an allocation address over 64 bits. Allocator addresses are
// aligned, so their low bits carry almost no entropy and can't be used as a
// shard index directly.
func AddrHash(addr uintptr) uint64 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(addr))
	return xxhash.Sum64(b[:])
}

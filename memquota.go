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

// Package memquota puts a hard ceiling on the bytes a process holds through
// malloc style allocation.
//
// A Tracker sits in front of a real allocator and exposes the conventional
// entry points: Malloc, Calloc, Realloc and Free. Each allocation is recorded
// by address, so resizing and freeing keep an exact count of live bytes.
// Requests that would take the count past the limit are answered with nil,
// the same way an exhausted allocator would answer them.
//
// The real allocator is resolved lazily, on the first call. While that is
// happening, requests are served by a separate raw allocator and are not
// counted against the quota.
package memquota

import (
	"unsafe"
)

// Primitives is the allocator a Tracker wraps. It follows the C contract:
// Malloc and Calloc return nil on failure, Realloc returns nil and leaves the
// original block alone on failure, and Free ignores nil.
type Primitives interface {
	Malloc(size uint64) unsafe.Pointer
	Calloc(count, size uint64) unsafe.Pointer
	Realloc(p unsafe.Pointer, size uint64) unsafe.Pointer
	Free(p unsafe.Pointer)
}

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
	"unsafe"
)

// std is the process-wide tracker behind the package level functions. Its
// limit comes from MEMQUOTA_LIMIT, read on the first allocation.
var std = NewTracker(nil)

// Default returns the process-wide tracker.
func Default() *Tracker {
	return std
}

// Malloc allocates through the process-wide tracker.
func Malloc(size uint64) unsafe.Pointer {
	return std.Malloc(size)
}

// Calloc allocates zeroed memory through the process-wide tracker.
func Calloc(count, size uint64) unsafe.Pointer {
	return std.Calloc(count, size)
}

// Realloc resizes memory obtained from the process-wide tracker.
func Realloc(p unsafe.Pointer, size uint64) unsafe.Pointer {
	return std.Realloc(p, size)
}

// Free releases memory obtained from the process-wide tracker.
func Free(p unsafe.Pointer) {
	std.Free(p)
}

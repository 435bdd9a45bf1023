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
	"github.com/pkg/errors"
)

// These never escape the entry points, which report every failure as a nil
// pointer. They classify what went wrong for logging and metrics.
var (
	// ErrQuotaExceeded means the request would push live bytes past the limit.
	ErrQuotaExceeded = errors.New("quota exceeded")
	// ErrUnderlyingFailed means the quota allowed the request but the real
	// allocator could not satisfy it.
	ErrUnderlyingFailed = errors.New("underlying allocator failed")
	// ErrUnknownPointer means free or realloc got an address that isn't tracked.
	ErrUnknownPointer = errors.New("unknown pointer")
	// ErrSizeOverflow means count*size of a calloc doesn't fit in 64 bits.
	ErrSizeOverflow = errors.New("allocation size overflows")
)

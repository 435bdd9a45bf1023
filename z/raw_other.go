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

//go:build !unix

package z

// RawAllocator falls back to a private Go heap on platforms without mmap.
type RawAllocator struct {
	*GoHeap
}

// NewRaw returns an empty RawAllocator.
func NewRaw() *RawAllocator {
	return &RawAllocator{GoHeap: NewGoHeap()}
}

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

/*
#cgo linux LDFLAGS: -ldl
#define _GNU_SOURCE
#include <dlfcn.h>
#include <stdlib.h>

static void *mq_lookup(const char *name) {
	dlerror();
	return dlsym(RTLD_DEFAULT, name);
}

static const char *mq_dlerror(void) {
	const char *err = dlerror();
	return err ? err : "symbol not found";
}

static void *mq_malloc(void *fn, size_t n) {
	return ((void *(*)(size_t))fn)(n);
}

static void *mq_calloc(void *fn, size_t n, size_t sz) {
	return ((void *(*)(size_t, size_t))fn)(n, sz);
}

static void *mq_realloc(void *fn, void *p, size_t n) {
	return ((void *(*)(void *, size_t))fn)(p, n);
}

static void mq_free(void *fn, void *p) {
	((void (*)(void *))fn)(p);
}
*/
import "C"

import (
	"fmt"
	"unsafe"

	"github.com/pkg/errors"
)

// Libc calls the C library allocator through handles looked up with dlsym, so
// whichever malloc the process was linked or preloaded with is the one used.
type Libc struct {
	malloc  unsafe.Pointer
	calloc  unsafe.Pointer
	realloc unsafe.Pointer
	free    unsafe.Pointer
}

// System resolves the four allocation primitives of the C library. An error
// means at least one of them could not be found.
func System() (*Libc, error) {
	l := &Libc{}
	syms := []struct {
		name string
		dst  *unsafe.Pointer
	}{
		{"malloc", &l.malloc},
		{"calloc", &l.calloc},
		{"realloc", &l.realloc},
		{"free", &l.free},
	}
	for _, sym := range syms {
		fn, err := lookup(sym.name)
		if err != nil {
			return nil, err
		}
		*sym.dst = fn
	}
	return l, nil
}

func lookup(name string) (unsafe.Pointer, error) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))

	fn := C.mq_lookup(cname)
	if fn == nil {
		return nil, errors.Errorf("dlsym(%s): %s", name, C.GoString(C.mq_dlerror()))
	}
	return fn, nil
}

func (l *Libc) Malloc(size uint64) unsafe.Pointer {
	return C.mq_malloc(l.malloc, C.size_t(size))
}

func (l *Libc) Calloc(count, size uint64) unsafe.Pointer {
	return C.mq_calloc(l.calloc, C.size_t(count), C.size_t(size))
}

func (l *Libc) Realloc(p unsafe.Pointer, size uint64) unsafe.Pointer {
	return C.mq_realloc(l.realloc, p, C.size_t(size))
}

func (l *Libc) Free(p unsafe.Pointer) {
	C.mq_free(l.free, p)
}

func StatsPrint() {
	fmt.Println("Using libc malloc")
}

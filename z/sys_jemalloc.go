// Copyright 2020 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

//go:build cgo && jemalloc

package z

/*
#cgo LDFLAGS: -L/usr/local/lib -Wl,-rpath,/usr/local/lib -ljemalloc -lm -lstdc++ -pthread -ldl
#include <stdlib.h>
#include <jemalloc/jemalloc.h>
*/
import "C"
import (
	"unsafe"
)

// Jemalloc forwards to jemalloc's prefixed entry points. The symbols are bound
// at link time, so resolving them can't fail.
//
// Compile jemalloc with ./configure --with-jemalloc-prefix="je_"
// https://android.googlesource.com/platform/external/jemalloc_new/+/6840b22e8e11cb68b493297a5cd757d6eaa0b406/TUNING.md
// These two config options seems useful for frequent allocations and deallocations in
// multi-threaded programs (like we have).
// JE_MALLOC_CONF="background_thread:true,metadata_thp:auto"
//
// Compile Go program with `go build -tags=jemalloc` to enable this.
type Jemalloc struct{}

// System returns the jemalloc binding.
func System() (*Jemalloc, error) {
	return &Jemalloc{}, nil
}

func (*Jemalloc) Malloc(size uint64) unsafe.Pointer {
	return C.je_malloc(C.size_t(size))
}

func (*Jemalloc) Calloc(count, size uint64) unsafe.Pointer {
	return C.je_calloc(C.size_t(count), C.size_t(size))
}

func (*Jemalloc) Realloc(p unsafe.Pointer, size uint64) unsafe.Pointer {
	return C.je_realloc(p, C.size_t(size))
}

func (*Jemalloc) Free(p unsafe.Pointer) {
	C.je_free(p)
}

func StatsPrint() {
	opts := C.CString("mdablxe")
	C.je_malloc_stats_print(nil, nil, opts)
	C.free(unsafe.Pointer(opts))
}

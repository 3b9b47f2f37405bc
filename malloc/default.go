// Licensed to the Apache Software Foundation (ASF) under one
// or more contributor license agreements.  See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership.  The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License.  You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package malloc

import (
	"sync"
	"syscall"
	"unsafe"

	"github.com/apache/arrow-malloc/go/malloc/slab"
)

var (
	defaultOnce sync.Once
	defaultCtx  *Context
)

// Default returns the process-wide context, building it on first use from
// the environment. It panics if the configured provider cannot be built.
func Default() *Context {
	defaultOnce.Do(func() {
		ctx, err := New()
		if err != nil {
			panic(err)
		}
		defaultCtx = ctx
	})
	return defaultCtx
}

// Malloc allocates size bytes from the default context.
func Malloc(size uintptr) (unsafe.Pointer, error) { return Default().Malloc(size) }

// Free releases p to the default context.
func Free(p unsafe.Pointer) { Default().Free(p) }

// Calloc allocates zeroed memory for nmemb elements of size bytes.
func Calloc(nmemb, size uintptr) (unsafe.Pointer, error) { return Default().Calloc(nmemb, size) }

// UsableSize returns the number of bytes available at p.
func UsableSize(p unsafe.Pointer) uintptr { return Default().UsableSize(p) }

// EndPointer returns the last byte of the allocation containing p.
func EndPointer(p unsafe.Pointer) unsafe.Pointer { return Default().EndPointer(p) }

// Realloc moves p to a new block of size bytes.
func Realloc(p unsafe.Pointer, size uintptr) (unsafe.Pointer, error) {
	return Default().Realloc(p, size)
}

// ReallocArray is Realloc for nmemb elements of size bytes.
func ReallocArray(p unsafe.Pointer, nmemb, size uintptr) (unsafe.Pointer, error) {
	return Default().ReallocArray(p, nmemb, size)
}

// Memalign allocates size bytes aligned to alignment.
func Memalign(alignment, size uintptr) (unsafe.Pointer, error) {
	return Default().Memalign(alignment, size)
}

// AlignedAlloc is Memalign.
func AlignedAlloc(alignment, size uintptr) (unsafe.Pointer, error) {
	return Default().AlignedAlloc(alignment, size)
}

// PosixMemalign stores an aligned block in *memptr and returns an error number.
func PosixMemalign(memptr *unsafe.Pointer, alignment, size uintptr) syscall.Errno {
	return Default().PosixMemalign(memptr, alignment, size)
}

// Valloc allocates size bytes aligned to a page.
func Valloc(size uintptr) (unsafe.Pointer, error) { return Default().Valloc(size) }

// Pvalloc allocates size bytes rounded up to whole pages, page aligned.
func Pvalloc(size uintptr) (unsafe.Pointer, error) { return Default().Pvalloc(size) }

// Prefork is a no-op kept for the malloc hook surface.
func Prefork() { Default().Prefork() }

// Postfork is a no-op kept for the malloc hook surface.
func Postfork() { Default().Postfork() }

// FirstThread is a no-op kept for the malloc hook surface.
func FirstThread() { Default().FirstThread() }

// Mallctl reports every name as not found.
func Mallctl(name string, oldp unsafe.Pointer, oldlenp *uintptr, newp unsafe.Pointer, newlen uintptr) syscall.Errno {
	return Default().Mallctl(name, oldp, oldlenp, newp, newlen)
}

// Flush applies frees queued for idle allocators of the default context.
func Flush() { Default().Flush() }

// Stats reports the counters of the default context.
func Stats() slab.Stats { return Default().Stats() }

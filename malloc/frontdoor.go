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
	"errors"
	"syscall"
	"unsafe"

	"github.com/apache/arrow-malloc/go/internal/debug"
	"github.com/apache/arrow-malloc/go/malloc/internal/bits"
	"github.com/apache/arrow-malloc/go/malloc/sizeclass"
	"github.com/apache/arrow-malloc/go/malloc/slab"
)

// foldZero maps 0 to 1 and leaves every other size alone, so that zero-byte
// requests land in the first class.
func foldZero(size uintptr) uintptr {
	return ((size - 1) >> (bits.Width - 1)) + size
}

// Malloc allocates size bytes. Malloc(0) returns a unique non-nil pointer.
func (c *Context) Malloc(size uintptr) (unsafe.Pointer, error) {
	return c.alloc(foldZero(size), false)
}

// Free releases p. Free(nil) does nothing. p may have been allocated on any
// goroutine.
func (c *Context) Free(p unsafe.Pointer) {
	if p == nil {
		return
	}
	a, err := c.backend.Acquire()
	if err != nil {
		c.backend.Free(p)
		return
	}
	a.Dealloc(p)
	c.backend.Release(a)
}

// Calloc allocates zeroed memory for nmemb elements of size bytes. It fails
// with ENOMEM, without allocating, when the total overflows.
func (c *Context) Calloc(nmemb, size uintptr) (unsafe.Pointer, error) {
	total, overflow := bits.UMul(nmemb, size)
	if overflow {
		return nil, syscall.ENOMEM
	}
	return c.alloc(foldZero(total), true)
}

// UsableSize returns the number of bytes available at p, which is at least
// the size requested for it. It returns 0 for nil.
func (c *Context) UsableSize(p unsafe.Pointer) uintptr {
	if p == nil {
		return 0
	}
	return c.backend.AllocSize(p)
}

// EndPointer returns the address of the last byte of the allocation
// containing p.
func (c *Context) EndPointer(p unsafe.Pointer) unsafe.Pointer {
	if p == nil {
		return nil
	}
	return c.backend.ExternalPointer(p, slab.End)
}

// Realloc moves the allocation at p to a new block of size bytes, keeping
// the leading min(size, UsableSize(p)) bytes. Realloc(nil, n) is Malloc(n)
// and Realloc(p, 0) frees p and returns nil. The block always moves; on
// failure p is left untouched.
func (c *Context) Realloc(p unsafe.Pointer, size uintptr) (unsafe.Pointer, error) {
	if size == bits.MaxUintptr {
		return nil, syscall.ENOMEM
	}
	if p == nil {
		return c.Malloc(size)
	}
	if size == 0 {
		c.Free(p)
		return nil, nil
	}
	debug.Assert(c.backend.ExternalPointer(p, slab.Start) == p,
		"malloc: realloc of a pointer that is not the start of an allocation")

	np, err := c.Malloc(size)
	if err != nil {
		return nil, err
	}
	n := min(size, c.UsableSize(p))
	copy(unsafe.Slice((*byte)(np), n), unsafe.Slice((*byte)(p), n))
	c.Free(p)
	return np, nil
}

// ReallocArray is Realloc for nmemb elements of size bytes, failing with
// ENOMEM if the total overflows.
func (c *Context) ReallocArray(p unsafe.Pointer, nmemb, size uintptr) (unsafe.Pointer, error) {
	total, overflow := bits.UMul(nmemb, size)
	if overflow {
		return nil, syscall.ENOMEM
	}
	return c.Realloc(p, total)
}

// Memalign allocates size bytes aligned to alignment, which must be a power
// of two no larger than a superslab.
func (c *Context) Memalign(alignment, size uintptr) (unsafe.Pointer, error) {
	sz, err := sizeclass.AlignedSize(alignment, size)
	if err != nil {
		return nil, errno(err)
	}
	return c.alloc(sz, false)
}

// AlignedAlloc is Memalign; size need not be a multiple of alignment.
func (c *Context) AlignedAlloc(alignment, size uintptr) (unsafe.Pointer, error) {
	return c.Memalign(alignment, size)
}

// PosixMemalign stores in *memptr a block of size bytes aligned to
// alignment and returns 0, or returns EINVAL or ENOMEM and leaves *memptr
// alone. alignment must be a power of two and a multiple of the pointer
// size.
func (c *Context) PosixMemalign(memptr *unsafe.Pointer, alignment, size uintptr) syscall.Errno {
	if alignment%bits.PtrSize != 0 || !bits.IsPow2(alignment) {
		return syscall.EINVAL
	}
	p, err := c.Memalign(alignment, size)
	if err != nil {
		if errors.Is(err, syscall.EINVAL) {
			return syscall.EINVAL
		}
		return syscall.ENOMEM
	}
	*memptr = p
	return 0
}

// Valloc allocates size bytes aligned to a page.
func (c *Context) Valloc(size uintptr) (unsafe.Pointer, error) {
	return c.Memalign(c.pageSize, size)
}

// Pvalloc rounds size up to a whole number of pages and allocates it page
// aligned.
func (c *Context) Pvalloc(size uintptr) (unsafe.Pointer, error) {
	if size > bits.MaxUintptr-(c.pageSize-1) {
		return nil, syscall.ENOMEM
	}
	return c.Memalign(c.pageSize, bits.AlignUp(size, c.pageSize))
}

// Prefork, Postfork and FirstThread are the fork and threading hooks of the
// C interface. The allocator holds no global lock that would need them.
func (c *Context) Prefork()     {}
func (c *Context) Postfork()    {}
func (c *Context) FirstThread() {}

// Mallctl is the tuning interface of the C interface. There are no tunable
// parameters, so every name is reported as not found.
func (c *Context) Mallctl(name string, oldp unsafe.Pointer, oldlenp *uintptr, newp unsafe.Pointer, newlen uintptr) syscall.Errno {
	return syscall.ENOENT
}

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

package memory

import (
	"sync/atomic"
	"unsafe"

	"github.com/JohnCGriffin/overflow"
	"github.com/apache/arrow-malloc/go/malloc"
	"golang.org/x/xerrors"
)

// PoolAllocator hands out 64-byte aligned, zero-initialized buffers carved
// by a malloc.Context. The capacity of a returned slice is the usable size
// of its allocation.
type PoolAllocator struct {
	ctx       *malloc.Context
	allocated atomic.Int64
}

// NewPoolAllocator returns an allocator drawing from ctx, or from
// malloc.Default() when ctx is nil.
func NewPoolAllocator(ctx *malloc.Context) *PoolAllocator {
	return &PoolAllocator{ctx: ctx}
}

func (a *PoolAllocator) context() *malloc.Context {
	if a.ctx == nil {
		return malloc.Default()
	}
	return a.ctx
}

func (a *PoolAllocator) Allocate(size int) []byte {
	if size < 0 {
		panic("memory: negative size")
	}
	ctx := a.context()
	p, err := ctx.Memalign(alignment, uintptr(size))
	if err != nil {
		panic(xerrors.Errorf("memory: allocate %d bytes: %w", size, err))
	}
	buf := unsafe.Slice((*byte)(p), ctx.UsableSize(p))
	Set(buf, 0)
	a.allocated.Add(int64(size))
	return buf[:size]
}

// AllocateN allocates n elements of size bytes each, panicking if the total
// does not fit in an int.
func (a *PoolAllocator) AllocateN(n, size int) []byte {
	total, ok := overflow.Mul(n, size)
	if !ok {
		panic(xerrors.Errorf("memory: %d elements of %d bytes overflows", n, size))
	}
	return a.Allocate(total)
}

func (a *PoolAllocator) Reallocate(size int, b []byte) []byte {
	if size < 0 {
		panic("memory: negative size")
	}
	if cap(b) == 0 {
		return a.Allocate(size)
	}
	if size <= cap(b) {
		out := b[:size]
		if size > len(b) {
			clear(out[len(b):])
		}
		a.allocated.Add(int64(size - len(b)))
		return out
	}

	out := a.Allocate(size)
	copy(out, b)
	a.Free(b)
	return out
}

func (a *PoolAllocator) Free(b []byte) {
	if cap(b) == 0 {
		return
	}
	a.allocated.Add(-int64(len(b)))
	a.context().Free(unsafe.Pointer(unsafe.SliceData(b)))
}

// AllocatedBytes is the sum of the lengths of the live buffers.
func (a *PoolAllocator) AllocatedBytes() int64 { return a.allocated.Load() }

type TestingT interface {
	Errorf(format string, args ...interface{})
	Helper()
}

// AssertSize fails t if the live buffers do not add up to sz bytes.
func (a *PoolAllocator) AssertSize(t TestingT, sz int) {
	if got := a.AllocatedBytes(); got != int64(sz) {
		t.Helper()
		t.Errorf("invalid memory size exp=%d, got=%d", sz, got)
	}
}

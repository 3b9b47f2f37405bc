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

// Package slab is the allocator front end that owns slab bookkeeping.
//
// A Backend owns the chunk provider, the pagemap from addresses to
// superslab metadata and two pools of fixed-type metadata: Allocators and
// Superslabs. An Allocator is used by one goroutine at a time; it carves
// small objects from 64 KiB slabs, medium objects from whole superslabs and
// sends large requests straight to the provider. Objects may be freed through
// any Allocator: frees of objects owned by another Allocator are queued on
// the owner's inbox and applied by the owner on its next allocation or by
// Backend.Flush.
package slab

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/apache/arrow-malloc/go/internal/debug"
	"github.com/apache/arrow-malloc/go/malloc/chunk"
	"github.com/apache/arrow-malloc/go/malloc/sizeclass"
	"github.com/apache/arrow-malloc/go/malloc/typealloc"
	"golang.org/x/xerrors"
)

// Boundary selects which end of an allocation ExternalPointer reports.
type Boundary int

const (
	Start Boundary = iota
	// End is the address of the last byte of the allocation.
	End
	OnePastEnd
)

type Backend struct {
	provider chunk.Provider
	pagemap  *pagemap
	supers   *typealloc.Pool[Superslab, *Superslab]
	allocs   *typealloc.Pool[Allocator, *Allocator]
	nextID   atomic.Uint32

	largeLive atomic.Int64
}

// NewBackend builds a backend on provider. The provider must outlive it.
func NewBackend(provider chunk.Provider) (*Backend, error) {
	supers, err := typealloc.New[Superslab, *Superslab](provider)
	if err != nil {
		return nil, xerrors.Errorf("slab: superslab pool: %w", err)
	}
	allocs, err := typealloc.New[Allocator, *Allocator](provider)
	if err != nil {
		return nil, xerrors.Errorf("slab: allocator pool: %w", err)
	}
	return &Backend{
		provider: provider,
		pagemap:  new(pagemap),
		supers:   supers,
		allocs:   allocs,
	}, nil
}

func (b *Backend) Provider() chunk.Provider { return b.provider }

// Acquire returns an idle Allocator, creating one if none is idle. The
// caller has exclusive use of it until Release.
func (b *Backend) Acquire() (*Allocator, error) {
	a, err := b.allocs.Alloc(func(a *Allocator) {
		a.id = b.nextID.Add(1)
		a.backend = b
		debug.Log(func() string { return fmt.Sprintf("slab: new allocator %d", a.id) })
	})
	if err != nil {
		return nil, xerrors.Errorf("slab: acquire allocator: %w", err)
	}
	return a, nil
}

// Release makes a idle again. Its slabs stay attached to it.
func (b *Backend) Release(a *Allocator) {
	b.allocs.Dealloc(a)
}

// Flush applies the pending remote frees of every idle allocator.
func (b *Backend) Flush() {
	first := b.allocs.Extract(nil)
	if first == nil {
		return
	}
	var last *Allocator
	for a := first; a != nil; a = b.allocs.Extract(a) {
		a.drain()
		last = a
	}
	b.allocs.Restore(first, last)
}

// lookup returns the metadata of the superslab containing p, or panics if p
// was not allocated from this backend.
func (b *Backend) lookup(p unsafe.Pointer) *Superslab {
	s := b.pagemap.get(uintptr(p))
	if s == nil {
		panic(fmt.Sprintf("slab: pointer %p not allocated by this backend", p))
	}
	return s
}

// Owns reports whether p lies in memory managed by b.
func (b *Backend) Owns(p unsafe.Pointer) bool {
	return p != nil && b.pagemap.get(uintptr(p)) != nil
}

func (b *Backend) newSuperslab(kind Kind, size uintptr, owner *Allocator) (*Superslab, error) {
	ptr, err := b.provider.AllocChunk(size, sizeclass.SuperslabSize)
	if err != nil {
		return nil, err
	}
	s, err := b.supers.Alloc(nil)
	if err != nil {
		if rerr := b.provider.Release(ptr, size); rerr != nil {
			debug.Log(rerr)
		}
		return nil, err
	}
	s.reset(kind, ptr, size, owner)
	b.pagemap.setRange(uintptr(ptr), size, s)
	debug.Log(func() string { return fmt.Sprintf("slab: new %s superslab at %p", kind, ptr) })
	return s, nil
}

func (b *Backend) allocLarge(size uintptr) (unsafe.Pointer, error) {
	rounded := sizeclass.LargeSize(size)
	if rounded == 0 {
		return nil, xerrors.Errorf("slab: large object of %d bytes: %w", size, chunk.ErrOutOfMemory)
	}
	s, err := b.newSuperslab(KindLarge, rounded, nil)
	if err != nil {
		return nil, err
	}
	b.largeLive.Add(int64(rounded))
	return s.base, nil
}

func (b *Backend) freeLarge(s *Superslab) {
	base, size := s.base, s.size
	b.pagemap.setRange(uintptr(base), size, nil)
	b.largeLive.Add(-int64(size))
	if err := b.provider.Release(base, size); err != nil {
		panic(fmt.Sprintf("slab: releasing large object %p: %v", base, err))
	}
	b.supers.Dealloc(s)
}

// Free releases p without an allocator of the caller's own: large objects
// go straight back to the provider and everything else is queued on its
// owner's inbox.
func (b *Backend) Free(p unsafe.Pointer) {
	s := b.lookup(p)
	if s.kind == KindLarge {
		b.freeLarge(s)
		return
	}
	s.owner.remoteFree(p)
}

// AllocSize returns the usable size of the allocation containing p.
func (b *Backend) AllocSize(p unsafe.Pointer) uintptr {
	s := b.lookup(p)
	if s.kind == KindLarge {
		return s.size
	}
	return s.metaslabFor(p).size()
}

// ExternalPointer maps any address inside an allocation to its start, its
// last byte or one past its end.
func (b *Backend) ExternalPointer(p unsafe.Pointer, boundary Boundary) unsafe.Pointer {
	s := b.lookup(p)

	var (
		start unsafe.Pointer
		size  uintptr
	)
	if s.kind == KindLarge {
		start, size = s.base, s.size
	} else {
		m := s.metaslabFor(p)
		start, size = m.objectStart(p), m.size()
	}

	switch boundary {
	case End:
		return unsafe.Add(start, size-1)
	case OnePastEnd:
		return unsafe.Add(start, size)
	default:
		return start
	}
}

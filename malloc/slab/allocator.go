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

package slab

import (
	"sync/atomic"
	"unsafe"

	"github.com/apache/arrow-malloc/go/malloc/sizeclass"
	"github.com/apache/arrow-malloc/go/malloc/typealloc"
)

// Allocator owns slabs and hands out objects from them. It is a pooled
// object of its Backend: once created it is never destroyed, and the slabs it
// owns stay with it while it is idle.
type Allocator struct {
	typealloc.Links[Allocator]

	id      uint32
	backend *Backend

	// slabs with free space, per class
	small  [sizeclass.NumSmallClasses]*Metaslab
	medium [sizeclass.NumMediumClasses]*Metaslab
	// superslab currently being split into slabs
	super *Superslab

	// frees from other allocators, linked through the first word of each
	// object; any goroutine pushes, only the owner takes
	inbox atomic.Pointer[remoteLink]

	stats allocatorCounters
}

// ID identifies the allocator within its backend.
func (a *Allocator) ID() uint32 { return a.id }

// Alloc returns an object of at least size bytes. size is expected to be
// canonical already; 0 is treated as 1. When zero is set the memory is
// cleared if it could hold stale data.
func (a *Allocator) Alloc(size uintptr, zero bool) (unsafe.Pointer, error) {
	if a.inbox.Load() != nil {
		a.drain()
	}
	if size == 0 {
		size = 1
	}

	sc := sizeclass.SizeToSizeclass(size)
	if sizeclass.IsLarge(sc) {
		p, err := a.backend.allocLarge(size)
		if err != nil {
			return nil, err
		}
		a.stats.allocs.Add(1)
		return p, nil
	}

	list := a.listFor(sc)
	m := *list
	if m == nil {
		var err error
		if m, err = a.newMetaslab(sc); err != nil {
			return nil, err
		}
		m.onList = true
		*list = m
	}

	p, fresh := m.take()
	if m.full() {
		*list = m.next
		m.next = nil
		m.onList = false
	}
	if zero && !fresh {
		clear(unsafe.Slice((*byte)(p), m.size()))
	}
	a.stats.allocs.Add(1)
	return p, nil
}

func (a *Allocator) listFor(sc uint8) **Metaslab {
	if sizeclass.IsSmall(sc) {
		return &a.small[sc]
	}
	return &a.medium[sc-sizeclass.NumSmallClasses]
}

func (a *Allocator) newMetaslab(sc uint8) (*Metaslab, error) {
	if sizeclass.IsMedium(sc) {
		s, err := a.backend.newSuperslab(KindMedium, sizeclass.SuperslabSize, a)
		if err != nil {
			return nil, err
		}
		m := &s.meta[0]
		m.init(s, s.base, sizeclass.SuperslabSize, sc)
		return m, nil
	}

	if a.super == nil || !a.super.hasFreeSlab() {
		s, err := a.backend.newSuperslab(KindSuper, sizeclass.SuperslabSize, a)
		if err != nil {
			return nil, err
		}
		a.super = s
	}
	return a.super.nextSlab(sc), nil
}

// Dealloc frees p, which may have been allocated by any Allocator of the
// same backend.
func (a *Allocator) Dealloc(p unsafe.Pointer) {
	s := a.backend.lookup(p)
	switch {
	case s.kind == KindLarge:
		a.backend.freeLarge(s)
		a.stats.frees.Add(1)
	case s.owner == a:
		a.freeLocal(s, p)
		a.stats.frees.Add(1)
	default:
		s.owner.remoteFree(p)
		a.stats.remoteSent.Add(1)
	}
}

func (a *Allocator) freeLocal(s *Superslab, p unsafe.Pointer) {
	m := s.metaslabFor(p)
	m.put(p)
	if !m.onList {
		list := a.listFor(m.sizeclass)
		m.next = *list
		m.onList = true
		*list = m
	}
}

// remoteLink overlays the first word of an object queued in an inbox.
type remoteLink struct {
	next *remoteLink
}

func (a *Allocator) remoteFree(p unsafe.Pointer) {
	setLink(p, nil)
	l := (*remoteLink)(p)
	for {
		old := a.inbox.Load()
		l.next = old
		if a.inbox.CompareAndSwap(old, l) {
			return
		}
	}
}

// drain applies every queued remote free. Only the goroutine holding a may
// call it.
func (a *Allocator) drain() {
	for l := a.inbox.Swap(nil); l != nil; {
		next := l.next
		p := unsafe.Pointer(l)
		a.freeLocal(a.backend.lookup(p), p)
		a.stats.remoteReceived.Add(1)
		l = next
	}
}

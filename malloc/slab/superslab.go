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
	"unsafe"

	"github.com/apache/arrow-malloc/go/internal/debug"
	"github.com/apache/arrow-malloc/go/malloc/sizeclass"
	"github.com/apache/arrow-malloc/go/malloc/typealloc"
)

// Kind describes how a superslab is being used.
type Kind uint8

const (
	// KindSuper superslabs are divided into SlabCount slabs of small objects.
	KindSuper Kind = iota + 1
	// KindMedium superslabs hold objects of a single medium class.
	KindMedium
	// KindLarge superslabs start a large object spanning one or more
	// superslabs.
	KindLarge
)

func (k Kind) String() string {
	switch k {
	case KindSuper:
		return "super"
	case KindMedium:
		return "medium"
	case KindLarge:
		return "large"
	default:
		return "unknown"
	}
}

// Metaslab tracks one slab: the objects of a single size class carved from
// a contiguous range. Objects are handed out from the free list first and
// then by bumping through memory that has never been used.
type Metaslab struct {
	base unsafe.Pointer
	// offsets from base of the next never-used object and of the slab end
	bump, end uintptr
	free      unsafe.Pointer
	used      uint32
	sizeclass uint8
	onList    bool
	next      *Metaslab
	super     *Superslab
}

func (m *Metaslab) init(s *Superslab, base unsafe.Pointer, length uintptr, sc uint8) {
	*m = Metaslab{
		base:      base,
		end:       length,
		sizeclass: sc,
		super:     s,
	}
}

func (m *Metaslab) size() uintptr { return sizeclass.SizeclassToSize(m.sizeclass) }

func (m *Metaslab) full() bool {
	return m.free == nil && m.bump+m.size() > m.end
}

// take returns an object and whether it comes from never-used memory.
func (m *Metaslab) take() (unsafe.Pointer, bool) {
	m.used++
	if p := m.free; p != nil {
		m.free = *(*unsafe.Pointer)(p)
		return p, false
	}
	p := unsafe.Add(m.base, m.bump)
	m.bump += m.size()
	debug.Assert(m.bump <= m.end, "slab: bump beyond slab end")
	return p, true
}

func (m *Metaslab) put(p unsafe.Pointer) {
	debug.Assert(m.used > 0, "slab: free on empty slab")
	setLink(p, m.free)
	m.free = p
	m.used--
}

// setLink stores next in the first word of the free object p. The word is
// cleared first so the pointer store never sees leftover user bytes as its
// previous value.
func setLink(p, next unsafe.Pointer) {
	*(*uintptr)(p) = 0
	*(*unsafe.Pointer)(p) = next
}

// objectStart rounds p down to the start of the object containing it.
func (m *Metaslab) objectStart(p unsafe.Pointer) unsafe.Pointer {
	sz := m.size()
	off := uintptr(p) - uintptr(m.base)
	return unsafe.Add(m.base, off/sz*sz)
}

// Superslab is the metadata of one superslab-aligned region. It is a pooled
// object: metadata of released large objects is recycled, so every field is
// reinitialised explicitly by reset.
type Superslab struct {
	typealloc.Links[Superslab]

	base  unsafe.Pointer
	size  uintptr
	kind  Kind
	owner *Allocator
	used  uint16
	meta  [sizeclass.SlabCount]Metaslab
}

func (s *Superslab) reset(kind Kind, base unsafe.Pointer, size uintptr, owner *Allocator) {
	s.kind = kind
	s.base = base
	s.size = size
	s.owner = owner
	s.used = 0
	s.meta = [sizeclass.SlabCount]Metaslab{}
}

// Kind reports how the superslab is used.
func (s *Superslab) Kind() Kind { return s.kind }

// metaslabFor returns the slab holding p.
func (s *Superslab) metaslabFor(p unsafe.Pointer) *Metaslab {
	if s.kind == KindMedium {
		return &s.meta[0]
	}
	return &s.meta[(uintptr(p)-uintptr(s.base))>>sizeclass.SlabBits]
}

func (s *Superslab) hasFreeSlab() bool { return int(s.used) < sizeclass.SlabCount }

// nextSlab hands out the next unused slab of a KindSuper superslab.
func (s *Superslab) nextSlab(sc uint8) *Metaslab {
	idx := uintptr(s.used)
	s.used++
	m := &s.meta[idx]
	m.init(s, unsafe.Add(s.base, idx<<sizeclass.SlabBits), sizeclass.SlabSize, sc)
	return m
}

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

//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package chunk

import (
	"math"
	"sync"
	"unsafe"

	"github.com/apache/arrow-malloc/go/internal/debug"
	"github.com/apache/arrow-malloc/go/malloc/internal/bits"
	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

// arenaSize is the mapping small chunks are bump-carved from. Requests of a
// quarter arena or more, or aligned beyond a page, get a mapping of their own.
const arenaSize = 1 << 20

// Mmap maps anonymous private memory outside the Go heap.
//
// A chunk aligned beyond a page is placed inside a mapping over-sized by the
// alignment. The unaligned slack stays mapped until the chunk is released;
// its pages are never touched, so it costs address space only.
type Mmap struct {
	pageSize uintptr

	mu    sync.Mutex
	arena []byte
	off   uintptr
	// own mappings, by the address of the chunk they hold
	maps  map[uintptr][]byte
	stats counters
}

func NewMmap() *Mmap {
	return &Mmap{
		pageSize: uintptr(unix.Getpagesize()),
		maps:     make(map[uintptr][]byte),
	}
}

func newMmap() (Provider, error) { return NewMmap(), nil }

// Default returns the preferred provider for the platform.
func Default() Provider { return NewMmap() }

func (m *Mmap) AllocChunk(size, align uintptr) (unsafe.Pointer, error) {
	size, align, err := checkRequest(size, align)
	if err != nil {
		return nil, err
	}
	if size >= arenaSize/4 || align > m.pageSize {
		return m.mapChunk(size, align)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	start := bits.AlignUp(m.off, align)
	if m.arena == nil || start+size > uintptr(len(m.arena)) {
		arena, err := m.mmap(arenaSize)
		if err != nil {
			return nil, err
		}
		debug.Log("chunk: mapped new arena")
		m.stats.reserved.Add(arenaSize)
		m.arena, start = arena, 0
	}
	m.off = start + size
	m.stats.chunks.Add(1)
	return unsafe.Pointer(&m.arena[start]), nil
}

// mapChunk gives a chunk a mapping of its own, size rounded to pages and
// placed at an address aligned to align.
func (m *Mmap) mapChunk(size, align uintptr) (unsafe.Pointer, error) {
	if size > bits.MaxUintptr-m.pageSize-align {
		return nil, xerrors.Errorf("chunk: mmap %d bytes aligned to %d: %w", size, align, ErrOutOfMemory)
	}
	length := bits.AlignUp(size, m.pageSize)
	reserve := length
	if align > m.pageSize {
		reserve += align
	}

	buf, err := m.mmap(reserve)
	if err != nil {
		return nil, err
	}
	addr := uintptr(unsafe.Pointer(&buf[0]))
	p := unsafe.Pointer(&buf[bits.AlignUp(addr, align)-addr])

	m.mu.Lock()
	m.maps[uintptr(p)] = buf
	m.mu.Unlock()

	m.stats.chunks.Add(1)
	m.stats.reserved.Add(int64(length))
	return p, nil
}

func (m *Mmap) mmap(size uintptr) ([]byte, error) {
	if size > math.MaxInt {
		return nil, xerrors.Errorf("chunk: mmap %d bytes: %w", size, ErrOutOfMemory)
	}
	buf, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, xerrors.Errorf("chunk: mmap %d bytes (%v): %w", size, err, ErrOutOfMemory)
	}
	return buf, nil
}

// Release unmaps a chunk that was given its own mapping. Chunks carved from
// an arena are never released.
func (m *Mmap) Release(p unsafe.Pointer, size uintptr) error {
	m.mu.Lock()
	buf, ok := m.maps[uintptr(p)]
	delete(m.maps, uintptr(p))
	m.mu.Unlock()

	if !ok {
		return xerrors.Errorf("chunk: release of unknown chunk %p", p)
	}
	if err := unix.Munmap(buf); err != nil {
		return xerrors.Errorf("chunk: munmap %p: %w", p, err)
	}
	m.stats.released.Add(int64(bits.AlignUp(size, m.pageSize)))
	return nil
}

func (m *Mmap) PageSize() uintptr { return m.pageSize }

func (m *Mmap) Stats() Stats { return m.stats.snapshot() }

var _ Provider = (*Mmap)(nil)

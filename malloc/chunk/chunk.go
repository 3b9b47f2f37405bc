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

// Package chunk supplies the raw memory the allocator is built from.
//
// A Provider hands out pre-zeroed chunks of any size at a requested
// power-of-two alignment. Chunks used for pooled metadata and slabs are never
// given back; only large objects are returned with Release.
package chunk

import (
	"sync/atomic"
	"unsafe"

	"github.com/apache/arrow-malloc/go/malloc/internal/bits"
	"golang.org/x/xerrors"
)

// MinAlign is the alignment of every chunk regardless of the requested one.
const MinAlign = 16

var (
	ErrOutOfMemory      = xerrors.New("chunk: out of memory")
	ErrInvalidAlignment = xerrors.New("chunk: alignment must be a power of two")
	ErrUnknownProvider  = xerrors.New("chunk: unknown provider")
)

// Provider is a source of zeroed memory.
type Provider interface {
	// AllocChunk returns size bytes of zeroed memory aligned to align.
	AllocChunk(size, align uintptr) (unsafe.Pointer, error)
	// Release returns a chunk obtained from AllocChunk with the same size.
	Release(p unsafe.Pointer, size uintptr) error
	// PageSize is the granularity of the underlying memory.
	PageSize() uintptr
	Stats() Stats
}

// Stats is a snapshot of a provider's counters.
type Stats struct {
	Chunks        int64 `json:"chunks"`
	BytesReserved int64 `json:"bytes_reserved"`
	BytesReleased int64 `json:"bytes_released"`
}

type counters struct {
	chunks   atomic.Int64
	reserved atomic.Int64
	released atomic.Int64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Chunks:        c.chunks.Load(),
		BytesReserved: c.reserved.Load(),
		BytesReleased: c.released.Load(),
	}
}

func checkRequest(size, align uintptr) (uintptr, uintptr, error) {
	if !bits.IsPow2(align) {
		return 0, 0, ErrInvalidAlignment
	}
	if size == 0 {
		size = 1
	}
	return size, max(align, MinAlign), nil
}

// New returns the provider registered under name: "mmap" or "heap". An
// empty name selects Default.
func New(name string) (Provider, error) {
	switch name {
	case "":
		return Default(), nil
	case "heap":
		return NewHeap(), nil
	case "mmap":
		return newMmap()
	default:
		return nil, xerrors.Errorf("chunk: provider %q: %w", name, ErrUnknownProvider)
	}
}

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

package chunk

import (
	"os"
	"sync"
	"unsafe"

	"github.com/apache/arrow-malloc/go/malloc/internal/bits"
	"golang.org/x/xerrors"
)

// maxHeapChunk bounds single Go heap chunks so absurd requests fail with an
// error instead of a runtime panic in make.
const maxHeapChunk = 1 << 40

// Heap carves chunks out of ordinary Go byte slices. Every chunk is retained
// by the provider until released, so pointers into it stay valid even though
// the garbage collector does not scan chunk contents.
type Heap struct {
	mu     sync.Mutex
	chunks map[uintptr][]byte
	stats  counters
}

func NewHeap() *Heap {
	return &Heap{chunks: make(map[uintptr][]byte)}
}

func (h *Heap) AllocChunk(size, align uintptr) (unsafe.Pointer, error) {
	size, align, err := checkRequest(size, align)
	if err != nil {
		return nil, err
	}
	total, wrapped := bits.UAdd(size, align)
	if wrapped || total > maxHeapChunk {
		return nil, xerrors.Errorf("chunk: heap chunk of %d bytes: %w", size, ErrOutOfMemory)
	}

	buf := make([]byte, total) // padding for alignment
	addr := uintptr(unsafe.Pointer(&buf[0]))
	shift := bits.AlignUp(addr, align) - addr
	p := unsafe.Pointer(&buf[shift])

	h.mu.Lock()
	h.chunks[uintptr(p)] = buf
	h.mu.Unlock()

	h.stats.chunks.Add(1)
	h.stats.reserved.Add(int64(size))
	return p, nil
}

func (h *Heap) Release(p unsafe.Pointer, size uintptr) error {
	h.mu.Lock()
	_, ok := h.chunks[uintptr(p)]
	delete(h.chunks, uintptr(p))
	h.mu.Unlock()

	if !ok {
		return xerrors.Errorf("chunk: release of unknown chunk %p", p)
	}
	h.stats.released.Add(int64(size))
	return nil
}

func (h *Heap) PageSize() uintptr { return uintptr(os.Getpagesize()) }

func (h *Heap) Stats() Stats { return h.stats.snapshot() }

var _ Provider = (*Heap)(nil)

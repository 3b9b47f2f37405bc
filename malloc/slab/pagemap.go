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

	"github.com/apache/arrow-malloc/go/malloc/sizeclass"
)

// The pagemap maps every superslab-aligned address the backend has handed
// out to its metadata. Two levels cover a 48-bit address space; leaves are
// installed on first use and never removed.
const (
	addressBits = 48
	leafBits    = 12
	leafSize    = 1 << leafBits
	topBits     = addressBits - sizeclass.SuperslabBits - leafBits
	topSize     = 1 << topBits
)

type pagemapLeaf [leafSize]atomic.Pointer[Superslab]

type pagemap struct {
	top [topSize]atomic.Pointer[pagemapLeaf]
}

func splitIndex(addr uintptr) (uint64, uint64) {
	idx := uint64(addr) >> sizeclass.SuperslabBits
	return idx >> leafBits, idx & (leafSize - 1)
}

func (m *pagemap) get(addr uintptr) *Superslab {
	t, l := splitIndex(addr)
	if t >= topSize {
		return nil
	}
	leaf := m.top[t].Load()
	if leaf == nil {
		return nil
	}
	return leaf[l].Load()
}

func (m *pagemap) set(addr uintptr, s *Superslab) {
	t, l := splitIndex(addr)
	if t >= topSize {
		panic("slab: address beyond pagemap range")
	}
	leaf := m.top[t].Load()
	if leaf == nil {
		fresh := new(pagemapLeaf)
		if m.top[t].CompareAndSwap(nil, fresh) {
			leaf = fresh
		} else {
			leaf = m.top[t].Load()
		}
	}
	leaf[l].Store(s)
}

// setRange maps every superslab in [base, base+size) to s.
func (m *pagemap) setRange(base, size uintptr, s *Superslab) {
	for off := uintptr(0); off < size; off += sizeclass.SuperslabSize {
		m.set(base+off, s)
	}
}

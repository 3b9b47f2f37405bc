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

// Package lfstack implements an intrusive lock-free stack.
//
// Every node is registered once and gets a slot in the stack's node table.
// The head holds that slot index packed together with a push counter, so a
// node that is popped and pushed again while another goroutine is mid-Pop
// produces a different head word and the stale compare-and-swap fails. Words
// never hold addresses, so nodes may live anywhere, Go heap included. The
// node table holds the only references the stack keeps; when the table lives
// in memory the garbage collector does not scan, callers must keep nodes
// alive themselves.
package lfstack

import (
	"sync/atomic"
	"unsafe"

	"golang.org/x/xerrors"
)

const (
	leafBits = 12
	leafSize = 1 << leafBits
	topSize  = 1 << 12

	// MaxNodes is the number of nodes a single stack can register.
	MaxNodes = topSize*leafSize - 1
)

var ErrFull = xerrors.New("lfstack: node table full")

// Node is the link embedded in every stack element.
type Node struct {
	next    atomic.Uint64
	index   uint32
	pushcnt uint32
}

// Element is implemented by pointers to types embedding a Node.
type Element[T any] interface {
	*T
	StackNode() *Node
}

type leaf[T any] [leafSize]atomic.Pointer[T]

// Stack is a multi-producer multi-consumer stack of *T. The zero value is an
// empty stack with an empty node table.
type Stack[T any, P Element[T]] struct {
	head  atomic.Uint64
	count atomic.Uint32
	nodes [topSize]atomic.Pointer[leaf[T]]
}

// Register gives p its slot in the node table. Each node must be registered
// exactly once, before it is first pushed. alloc supplies zeroed,
// pointer-aligned memory for table leaves; a goroutine that loses the race to
// install a leaf abandons the memory it obtained.
func (s *Stack[T, P]) Register(p P, alloc func(size uintptr) (unsafe.Pointer, error)) error {
	idx := s.count.Add(1)
	if idx > MaxNodes {
		s.count.Add(^uint32(0))
		return ErrFull
	}

	slot := &s.nodes[idx>>leafBits]
	l := slot.Load()
	if l == nil {
		mem, err := alloc(unsafe.Sizeof(leaf[T]{}))
		if err != nil {
			return xerrors.Errorf("lfstack: node table: %w", err)
		}
		if fresh := (*leaf[T])(mem); slot.CompareAndSwap(nil, fresh) {
			l = fresh
		} else {
			l = slot.Load()
		}
	}
	l[idx&(leafSize-1)].Store((*T)(p))
	p.StackNode().index = idx
	return nil
}

func (s *Stack[T, P]) load(v uint64) P {
	idx := unpackIndex(v)
	if idx == 0 {
		return nil
	}
	return P(s.nodes[idx>>leafBits].Load()[idx&(leafSize-1)].Load())
}

// Push adds p to the top of the stack.
func (s *Stack[T, P]) Push(p P) {
	s.PushChain(p, p)
}

// PushChain adds the chain first..last, linked through their nodes, to the
// top of the stack in a single step.
func (s *Stack[T, P]) PushChain(first, last P) {
	n := first.StackNode()
	if n.index == 0 {
		panic("lfstack: push of unregistered node")
	}
	n.pushcnt++
	v := pack(n.index, n.pushcnt)
	tail := last.StackNode()
	for {
		old := s.head.Load()
		tail.next.Store(old)
		if s.head.CompareAndSwap(old, v) {
			return
		}
	}
}

// Pop removes and returns the top of the stack, or nil when it is empty.
func (s *Stack[T, P]) Pop() P {
	for {
		old := s.head.Load()
		if old == 0 {
			return nil
		}
		p := s.load(old)
		next := p.StackNode().next.Load()
		if s.head.CompareAndSwap(old, next) {
			return p
		}
	}
}

// PopAll empties the stack and returns its former top. The rest of the chain
// is reachable with Next.
func (s *Stack[T, P]) PopAll() P {
	return s.load(s.head.Swap(0))
}

// Next returns the successor of p in a chain obtained from PopAll, or nil at
// the end of the chain.
func (s *Stack[T, P]) Next(p P) P {
	return s.load(p.StackNode().next.Load())
}

// Empty reports whether the stack had no elements at the time of the call.
func (s *Stack[T, P]) Empty() bool {
	return s.head.Load() == 0
}

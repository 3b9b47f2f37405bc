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

// Package typealloc implements a type-stable pool of fixed-type objects.
//
// Objects are constructed once, in memory obtained from a chunk.Provider,
// and are never destroyed: Dealloc pushes them on a lock-free free stack and
// Alloc hands them back out exactly as they were left. Every object ever
// constructed is also kept on an append-only list for enumeration.
//
// Because object memory is never returned to the provider, a stale node read
// by a racing Pop always refers to mapped memory of the right type; the free
// stack's tagged head takes care of the remaining ABA hazard. The stack's node
// table is carved from the provider as well.
//
// Objects live in provider memory that the garbage collector does not scan.
// T must not hold the only reference to anything on the Go heap.
package typealloc

import (
	"sync/atomic"
	"unsafe"

	"github.com/apache/arrow-malloc/go/internal/debug"
	"github.com/apache/arrow-malloc/go/malloc/chunk"
	"github.com/apache/arrow-malloc/go/malloc/internal/flaglock"
	"github.com/apache/arrow-malloc/go/malloc/internal/lfstack"
	"golang.org/x/xerrors"
)

// Links holds the two link slots a pooled type must embed. The free-stack
// link is only meaningful while the object is free; the list link is written
// once, when the object is constructed, and never changes afterwards.
type Links[T any] struct {
	free lfstack.Node
	next atomic.Pointer[T]
}

func (l *Links[T]) PoolLinks() *Links[T]     { return l }
func (l *Links[T]) StackNode() *lfstack.Node { return &l.free }

// Element is satisfied by *T for any T embedding Links[T].
type Element[T any] interface {
	*T
	PoolLinks() *Links[T]
	StackNode() *lfstack.Node
}

// Pool recycles objects of type T.
type Pool[T any, P Element[T]] struct {
	stack lfstack.Stack[T, P]
	lock  flaglock.Lock
	list  atomic.Pointer[T]

	provider chunk.Provider
}

// New builds an empty pool whose own storage is carved from a single chunk
// of provider. The provider is borrowed and must outlive the pool.
func New[T any, P Element[T]](provider chunk.Provider) (*Pool[T, P], error) {
	var zero Pool[T, P]
	ptr, err := provider.AllocChunk(unsafe.Sizeof(zero), unsafe.Alignof(zero))
	if err != nil {
		return nil, xerrors.Errorf("typealloc: new pool: %w", err)
	}
	pool := (*Pool[T, P])(ptr)
	pool.provider = provider
	return pool, nil
}

// Provider returns the chunk provider the pool grows from.
func (a *Pool[T, P]) Provider() chunk.Provider { return a.provider }

// Alloc returns a free object if there is one, untouched since its last
// Dealloc: fields hold whatever the previous user left in them. Otherwise it
// carves a new zeroed object, runs init on it (init may be nil) and appends
// it to the list seen by Iterate.
func (a *Pool[T, P]) Alloc(init func(P)) (P, error) {
	if p := a.stack.Pop(); (*T)(p) != nil {
		return p, nil
	}

	var zero T
	ptr, err := a.provider.AllocChunk(unsafe.Sizeof(zero), unsafe.Alignof(zero))
	if err != nil {
		return nil, xerrors.Errorf("typealloc: grow: %w", err)
	}
	p := P((*T)(ptr))
	if err := a.stack.Register(p, a.tableChunk); err != nil {
		return nil, xerrors.Errorf("typealloc: grow: %w", err)
	}
	if init != nil {
		init(p)
	}

	// the link is written before the object becomes reachable from the head.
	a.lock.Lock()
	p.PoolLinks().next.Store(a.list.Load())
	a.list.Store((*T)(p))
	a.lock.Unlock()

	debug.Log(func() string { return "typealloc: constructed object" })
	return p, nil
}

func (a *Pool[T, P]) tableChunk(size uintptr) (unsafe.Pointer, error) {
	return a.provider.AllocChunk(size, unsafe.Alignof(uintptr(0)))
}

// Dealloc returns p to the free stack without resetting it. p must have come
// from Alloc on this pool and must not already be free. Any goroutine may
// free any object.
func (a *Pool[T, P]) Dealloc(p P) {
	a.stack.Push(p)
}

// Extract with a nil argument detaches the whole free stack and returns its
// first object; with a non-nil argument it returns the successor of p in such
// a detached chain, or nil at the end.
func (a *Pool[T, P]) Extract(p P) P {
	if (*T)(p) == nil {
		return a.stack.PopAll()
	}
	return a.stack.Next(p)
}

// Restore pushes a chain previously obtained from Extract, delimited by
// first and last, back onto the free stack in one step.
func (a *Pool[T, P]) Restore(first, last P) {
	a.stack.PushChain(first, last)
}

// Iterate with a nil argument returns the most recently constructed object;
// with a non-nil argument it returns the object constructed before p, or nil
// once every object has been visited. Free and in-use objects are both
// visited. Objects constructed concurrently with a traversal may be missed.
func (a *Pool[T, P]) Iterate(p P) P {
	if (*T)(p) == nil {
		return P(a.list.Load())
	}
	return P(p.PoolLinks().next.Load())
}

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

package lfstack_test

import (
	"runtime"
	"sync"
	"testing"
	"unsafe"

	"github.com/apache/arrow-malloc/go/malloc/internal/lfstack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
)

type item struct {
	node lfstack.Node
	val  int
}

func (i *item) StackNode() *lfstack.Node { return &i.node }

type itemStack = lfstack.Stack[item, *item]

// tableMem hands the stack scanned Go memory for its node table.
func tableMem(size uintptr) (unsafe.Pointer, error) {
	words := make([]unsafe.Pointer, (size+unsafe.Sizeof(uintptr(0))-1)/unsafe.Sizeof(uintptr(0)))
	return unsafe.Pointer(&words[0]), nil
}

func makeItems(t testing.TB, s *itemStack, n int) []*item {
	t.Helper()
	items := make([]*item, n)
	for i := range items {
		items[i] = &item{val: i}
		require.NoError(t, s.Register(items[i], tableMem))
	}
	return items
}

func TestStackLIFO(t *testing.T) {
	var s itemStack
	assert.True(t, s.Empty())
	assert.Nil(t, s.Pop())

	items := makeItems(t, &s, 3)
	for _, it := range items {
		s.Push(it)
	}
	assert.False(t, s.Empty())

	for i := len(items) - 1; i >= 0; i-- {
		assert.Same(t, items[i], s.Pop())
	}
	assert.Nil(t, s.Pop())
	assert.True(t, s.Empty())
}

func TestStackPopAllAndPushChain(t *testing.T) {
	var s itemStack
	items := makeItems(t, &s, 5)
	for _, it := range items {
		s.Push(it)
	}

	first := s.PopAll()
	require.NotNil(t, first)
	assert.True(t, s.Empty())

	var (
		seen []int
		last *item
	)
	for p := first; p != nil; p = s.Next(p) {
		seen = append(seen, p.val)
		last = p
	}
	assert.Equal(t, []int{4, 3, 2, 1, 0}, seen)

	extra := makeItems(t, &s, 1)[0]
	extra.val = 99
	s.Push(extra)

	s.PushChain(first, last)
	seen = seen[:0]
	for p := s.Pop(); p != nil; p = s.Pop() {
		seen = append(seen, p.val)
	}
	assert.Equal(t, []int{4, 3, 2, 1, 0, 99}, seen)
}

func TestStackConcurrent(t *testing.T) {
	const (
		workers = 8
		rounds  = 2000
	)

	var s itemStack
	items := makeItems(t, &s, 64)
	for _, it := range items {
		s.Push(it)
	}

	var (
		mu    sync.Mutex
		inUse = make(map[*item]bool)
	)

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for r := 0; r < rounds; r++ {
				p := s.Pop()
				if p == nil {
					runtime.Gosched()
					continue
				}
				mu.Lock()
				dup := inUse[p]
				inUse[p] = true
				mu.Unlock()
				if dup {
					t.Errorf("node %d popped twice", p.val)
				}

				mu.Lock()
				delete(inUse, p)
				mu.Unlock()
				s.Push(p)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	count := 0
	for p := s.Pop(); p != nil; p = s.Pop() {
		count++
	}
	assert.Equal(t, len(items), count)
}

func TestPushUnregisteredPanics(t *testing.T) {
	var s itemStack
	assert.PanicsWithValue(t, "lfstack: push of unregistered node", func() {
		s.Push(&item{})
	})
}

func TestRegisterTableError(t *testing.T) {
	var s itemStack
	errNoMem := xerrors.New("no memory")
	err := s.Register(&item{}, func(uintptr) (unsafe.Pointer, error) { return nil, errNoMem })
	assert.ErrorIs(t, err, errNoMem)

	// a later registration still gets a working table
	it := &item{val: 1}
	require.NoError(t, s.Register(it, tableMem))
	s.Push(it)
	assert.Same(t, it, s.Pop())
}

func TestRegisterSpansLeaves(t *testing.T) {
	var s itemStack
	items := makeItems(t, &s, 5000)
	for _, it := range items {
		s.Push(it)
	}
	for i := len(items) - 1; i >= 0; i-- {
		require.Same(t, items[i], s.Pop())
	}
	assert.True(t, s.Empty())
}

func TestConcurrentRegister(t *testing.T) {
	var s itemStack
	const workers, per = 8, 1000

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for i := 0; i < per; i++ {
				it := &item{val: i}
				if err := s.Register(it, tableMem); err != nil {
					return err
				}
				s.Push(it)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	count := 0
	for p := s.Pop(); p != nil; p = s.Pop() {
		count++
	}
	assert.Equal(t, workers*per, count)
}

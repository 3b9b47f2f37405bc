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

package memory_test

import (
	"fmt"
	"math"
	"testing"
	"unsafe"

	"github.com/apache/arrow-malloc/go/malloc"
	"github.com/apache/arrow-malloc/go/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPool(t testing.TB) *memory.PoolAllocator {
	t.Helper()
	ctx, err := malloc.New(malloc.WithProviderName("heap"))
	require.NoError(t, err)
	return memory.NewPoolAllocator(ctx)
}

func assertZeroed(t *testing.T, buf []byte) {
	t.Helper()
	for idx, c := range buf {
		if !assert.Equal(t, uint8(0), c, fmt.Sprintf("Buf not zero-initialized at %d", idx)) {
			return
		}
	}
}

func TestPoolAllocatorAllocate(t *testing.T) {
	sizes := []int{0, 1, 4, 33, 65, 4095, 4096, 8193, 1 << 20}
	for _, size := range sizes {
		t.Run(fmt.Sprint(size), func(t *testing.T) {
			a := newPool(t)
			buf := a.Allocate(size)
			defer a.Free(buf)

			assert.Equal(t, size, len(buf))
			assert.LessOrEqual(t, size, cap(buf))
			assert.Zero(t, uintptr(unsafe.Pointer(unsafe.SliceData(buf)))%64)
			assertZeroed(t, buf)
		})
	}
}

func TestPoolAllocatorReusedMemoryIsZeroed(t *testing.T) {
	a := newPool(t)
	for i := 0; i < 4; i++ {
		buf := a.Allocate(200)
		assertZeroed(t, buf)
		memory.Set(buf, 0xab)
		a.Free(buf)
	}
}

func TestPoolAllocatorReallocate(t *testing.T) {
	sizes := []struct {
		before, after int
	}{
		{0, 1},
		{1, 0},
		{1, 2},
		{1, 33},
		{4, 4},
		{32, 16},
		{32, 1},
		{64, 5000},
	}
	for _, test := range sizes {
		t.Run(fmt.Sprintf("%dTo%d", test.before, test.after), func(t *testing.T) {
			a := newPool(t)
			buf := a.Allocate(test.before)
			assert.Equal(t, test.before, len(buf))
			assertZeroed(t, buf)

			buf = a.Reallocate(test.after, buf)
			defer a.Free(buf)
			assert.Equal(t, test.after, len(buf))
			assert.LessOrEqual(t, test.after, cap(buf))
			assertZeroed(t, buf)
			a.AssertSize(t, test.after)
		})
	}
}

func TestPoolAllocatorReallocateKeepsContents(t *testing.T) {
	a := newPool(t)
	buf := a.Allocate(100)
	for i := range buf {
		buf[i] = byte(i)
	}

	// shrink then grow in place: the regrown tail must not show old bytes
	buf = a.Reallocate(10, buf)
	buf = a.Reallocate(50, buf)
	for i := 0; i < 10; i++ {
		assert.Equal(t, byte(i), buf[i])
	}
	assertZeroed(t, buf[10:])

	buf = a.Reallocate(100000, buf)
	for i := 0; i < 10; i++ {
		assert.Equal(t, byte(i), buf[i])
	}
	assertZeroed(t, buf[10:])
	a.Free(buf)
	a.AssertSize(t, 0)
}

func TestPoolAllocatorAssertSize(t *testing.T) {
	a := newPool(t)
	assert.Equal(t, int64(0), a.AllocatedBytes())

	buf1 := a.Allocate(64)
	a.AssertSize(t, 64)

	buf2 := a.Allocate(128)
	a.AssertSize(t, 192)
	assert.Equal(t, int64(192), a.AllocatedBytes())

	a.Free(buf1)
	a.AssertSize(t, 128)

	buf2 = a.Reallocate(256, buf2)
	a.AssertSize(t, 256)

	buf2 = a.Reallocate(64, buf2)
	a.AssertSize(t, 64)

	a.Free(buf2)
	a.AssertSize(t, 0)
	assert.Equal(t, int64(0), a.AllocatedBytes())
}

type recordingT struct{ errs []string }

func (r *recordingT) Errorf(format string, args ...interface{}) {
	r.errs = append(r.errs, fmt.Sprintf(format, args...))
}
func (r *recordingT) Helper() {}

func TestPoolAllocatorAssertSizeReports(t *testing.T) {
	a := newPool(t)
	buf := a.Allocate(10)
	defer a.Free(buf)

	var rec recordingT
	a.AssertSize(&rec, 0)
	assert.Equal(t, []string{"invalid memory size exp=0, got=10"}, rec.errs)
}

func TestPoolAllocatorAllocateN(t *testing.T) {
	a := newPool(t)
	buf := a.AllocateN(10, 8)
	assert.Len(t, buf, 80)
	a.Free(buf)

	assert.Panics(t, func() { a.AllocateN(math.MaxInt/2, 3) })
	a.AssertSize(t, 0)
}

func TestPoolAllocatorNegative(t *testing.T) {
	a := newPool(t)
	assert.PanicsWithValue(t, "memory: negative size", func() {
		a.Allocate(-1)
	})

	buf := a.Allocate(1)
	defer a.Free(buf)
	assert.PanicsWithValue(t, "memory: negative size", func() {
		a.Reallocate(-1, buf)
	})
}

func TestPoolAllocatorFreeEmpty(t *testing.T) {
	a := newPool(t)
	assert.NotPanics(t, func() {
		a.Free(nil)
		a.Free([]byte{})
	})
}

func TestDefaultAllocator(t *testing.T) {
	buf := memory.DefaultAllocator.Allocate(300)
	assert.Len(t, buf, 300)
	assertZeroed(t, buf)
	buf = memory.DefaultAllocator.Reallocate(600, buf)
	assert.Len(t, buf, 600)
	memory.DefaultAllocator.Free(buf)
}

func BenchmarkPoolAllocator(b *testing.B) {
	a := newPool(b)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		a.Free(a.Allocate(512))
	}
}

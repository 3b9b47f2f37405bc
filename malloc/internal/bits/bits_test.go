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

package bits_test

import (
	"fmt"
	"testing"

	"github.com/apache/arrow-malloc/go/malloc/internal/bits"
	"github.com/stretchr/testify/assert"
)

func TestUMul(t *testing.T) {
	tests := []struct {
		x, y     uintptr
		exp      uintptr
		overflow bool
	}{
		{0, 0, 0, false},
		{3, 7, 21, false},
		{bits.MaxUintptr, 1, bits.MaxUintptr, false},
		{bits.MaxUintptr, 2, bits.MaxUintptr - 1, true},
		{1 << (bits.Width / 2), 1 << (bits.Width / 2), 0, true},
		{1 << (bits.Width/2 - 1), 1 << (bits.Width / 2), 1 << (bits.Width - 1), false},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%dx%d", test.x, test.y), func(t *testing.T) {
			got, overflow := bits.UMul(test.x, test.y)
			assert.Equal(t, test.overflow, overflow)
			if !overflow {
				assert.Equal(t, test.exp, got)
			}
		})
	}
}

func TestUAdd(t *testing.T) {
	sum, wrapped := bits.UAdd(bits.MaxUintptr, 1)
	assert.True(t, wrapped)
	assert.Zero(t, sum)

	sum, wrapped = bits.UAdd(40, 2)
	assert.False(t, wrapped)
	assert.Equal(t, uintptr(42), sum)
}

func TestPowersOfTwo(t *testing.T) {
	assert.False(t, bits.IsPow2(uintptr(0)))
	assert.True(t, bits.IsPow2(uintptr(1)))
	assert.True(t, bits.IsPow2(uint32(4096)))
	assert.False(t, bits.IsPow2(uint64(3)))

	assert.Equal(t, uintptr(64), bits.AlignUp(uintptr(33), 64))
	assert.Equal(t, uintptr(64), bits.AlignUp(uintptr(64), 64))
	assert.Equal(t, uintptr(0), bits.AlignDown(uintptr(63), 64))
	assert.True(t, bits.IsAligned(uintptr(8192), 4096))
	assert.False(t, bits.IsAligned(uintptr(8200), 4096))

	assert.Equal(t, uintptr(1), bits.NextPow2(0))
	assert.Equal(t, uintptr(16), bits.NextPow2(9))
	assert.Equal(t, uintptr(16), bits.NextPow2(16))
	assert.Zero(t, bits.NextPow2(bits.MaxUintptr))

	assert.Equal(t, uintptr(16), bits.LowestSetBit(48))
	assert.Equal(t, uintptr(1<<20), bits.LowestSetBit(7<<20))
}

func TestExpMantRoundTrip(t *testing.T) {
	const mant, low = 2, 4

	exp := []uintptr{16, 32, 48, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320}
	for i, sz := range exp {
		assert.Equal(t, sz, bits.FromExpMant(uintptr(i), mant, low), "class %d", i)
		assert.Equal(t, uintptr(i), bits.ToExpMant(sz, mant, low), "size %d", sz)
	}

	for v := uintptr(1); v < 1<<16; v++ {
		me := bits.ToExpMant(v, mant, low)
		got := bits.FromExpMant(me, mant, low)
		assert.GreaterOrEqual(t, got, v)
		if me > 0 {
			assert.Less(t, bits.FromExpMant(me-1, mant, low), v)
		}
	}
}

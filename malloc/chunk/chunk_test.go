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

package chunk_test

import (
	"fmt"
	"testing"
	"unsafe"

	"github.com/apache/arrow-malloc/go/malloc/chunk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func providers(t *testing.T) map[string]chunk.Provider {
	out := map[string]chunk.Provider{"heap": chunk.NewHeap()}
	if p, err := chunk.New("mmap"); err == nil {
		out["mmap"] = p
	}
	return out
}

func TestAllocChunkAlignedAndZeroed(t *testing.T) {
	for name, p := range providers(t) {
		t.Run(name, func(t *testing.T) {
			for _, align := range []uintptr{1, 16, 64, 4096, 1 << 16, 1 << 24} {
				for _, size := range []uintptr{0, 1, 24, 4096, 300000} {
					t.Run(fmt.Sprintf("a=%d,s=%d", align, size), func(t *testing.T) {
						ptr, err := p.AllocChunk(size, align)
						require.NoError(t, err)
						require.NotNil(t, ptr)

						addr := uintptr(ptr)
						assert.Zero(t, addr%max(align, chunk.MinAlign))

						buf := unsafe.Slice((*byte)(ptr), max(size, 1))
						for i, b := range buf {
							if b != 0 {
								t.Fatalf("byte %d not zeroed", i)
							}
							buf[i] = 0xff
						}
					})
				}
			}
		})
	}
}

func TestAllocChunkDistinct(t *testing.T) {
	for name, p := range providers(t) {
		t.Run(name, func(t *testing.T) {
			seen := make(map[uintptr]bool)
			for i := 0; i < 1000; i++ {
				ptr, err := p.AllocChunk(48, 16)
				require.NoError(t, err)
				assert.False(t, seen[uintptr(ptr)])
				seen[uintptr(ptr)] = true
			}
			st := p.Stats()
			assert.GreaterOrEqual(t, st.Chunks, int64(1000))
			assert.GreaterOrEqual(t, st.BytesReserved, int64(48*1000))
		})
	}
}

func TestAllocChunkInvalidAlignment(t *testing.T) {
	for name, p := range providers(t) {
		t.Run(name, func(t *testing.T) {
			_, err := p.AllocChunk(64, 48)
			assert.ErrorIs(t, err, chunk.ErrInvalidAlignment)
			_, err = p.AllocChunk(64, 0)
			assert.ErrorIs(t, err, chunk.ErrInvalidAlignment)
		})
	}
}

func TestAllocChunkTooLarge(t *testing.T) {
	for name, p := range providers(t) {
		t.Run(name, func(t *testing.T) {
			_, err := p.AllocChunk(^uintptr(0)-8, 16)
			assert.ErrorIs(t, err, chunk.ErrOutOfMemory)
		})
	}
}

func TestRelease(t *testing.T) {
	for name, p := range providers(t) {
		t.Run(name, func(t *testing.T) {
			const sz = 1 << 24
			ptr, err := p.AllocChunk(sz, sz)
			require.NoError(t, err)
			require.NoError(t, p.Release(ptr, sz))
			assert.Equal(t, int64(sz), p.Stats().BytesReleased)
		})
	}
}

func TestReleaseOwnMapping(t *testing.T) {
	for name, p := range providers(t) {
		t.Run(name, func(t *testing.T) {
			for _, req := range []struct{ size, align uintptr }{
				{1 << 18, 16},       // a quarter arena
				{3 << 20, 1 << 21},  // aligned past its size rounding
				{8 << 20, 16 << 20}, // aligned past its size
			} {
				ptr, err := p.AllocChunk(req.size, req.align)
				require.NoError(t, err)
				assert.Zero(t, uintptr(ptr)%req.align)

				buf := unsafe.Slice((*byte)(ptr), req.size)
				buf[0], buf[req.size-1] = 1, 1

				before := p.Stats().BytesReleased
				require.NoError(t, p.Release(ptr, req.size))
				assert.Equal(t, int64(req.size), p.Stats().BytesReleased-before)

				assert.Error(t, p.Release(ptr, req.size), "double release")
			}
		})
	}
}

func TestReleaseUnknownChunk(t *testing.T) {
	for name, p := range providers(t) {
		t.Run(name, func(t *testing.T) {
			var x [64]byte
			assert.Error(t, p.Release(unsafe.Pointer(&x[0]), 64))
			assert.Zero(t, p.Stats().BytesReleased)
		})
	}
}

func TestNew(t *testing.T) {
	p, err := chunk.New("")
	require.NoError(t, err)
	assert.NotNil(t, p)

	p, err = chunk.New("heap")
	require.NoError(t, err)
	assert.IsType(t, &chunk.Heap{}, p)

	_, err = chunk.New("tape")
	assert.ErrorIs(t, err, chunk.ErrUnknownProvider)
}

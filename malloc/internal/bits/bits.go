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

// Package bits contains the integer helpers shared by the allocator:
// overflow-checked arithmetic on sizes, power-of-two predicates and the
// exponent/mantissa encoding that defines the size classes.
package bits

import (
	"math/bits"

	"golang.org/x/exp/constraints"
)

const (
	// PtrSize is the size of a pointer in bytes.
	PtrSize = 4 << (^uintptr(0) >> 63)
	// Width is the number of bits in a uintptr.
	Width = PtrSize * 8
	// MaxUintptr is the largest representable size, the SIZE_MAX of the C ABI.
	MaxUintptr = ^uintptr(0)
)

// UMul returns x*y and whether the product overflowed.
func UMul(x, y uintptr) (uintptr, bool) {
	hi, lo := bits.Mul(uint(x), uint(y))
	return uintptr(lo), hi != 0
}

// UAdd returns x+y and whether the sum wrapped.
func UAdd(x, y uintptr) (uintptr, bool) {
	sum, carry := bits.Add(uint(x), uint(y), 0)
	return uintptr(sum), carry != 0
}

// Clz counts the leading zero bits of x.
func Clz(x uintptr) int { return bits.LeadingZeros(uint(x)) }

// Ctz counts the trailing zero bits of x.
func Ctz(x uintptr) int { return bits.TrailingZeros(uint(x)) }

// LowestSetBit isolates the largest power of two dividing x (x & -x).
// It returns 0 for 0.
func LowestSetBit(x uintptr) uintptr { return x & -x }

func IsPow2[T constraints.Unsigned](v T) bool {
	return v != 0 && v&(v-1) == 0
}

// AlignUp rounds v up to a multiple of align, which must be a power of two.
func AlignUp[T constraints.Unsigned](v, align T) T {
	forceCarry := align - 1
	return (v + forceCarry) &^ forceCarry
}

// AlignDown rounds v down to a multiple of align, which must be a power of two.
func AlignDown[T constraints.Unsigned](v, align T) T {
	return v &^ (align - 1)
}

func IsAligned[T constraints.Unsigned](v, align T) bool {
	return v&(align-1) == 0
}

// NextPow2 returns the smallest power of two >= x. It returns 1 for 0 and 0
// when the result does not fit.
func NextPow2(x uintptr) uintptr {
	if x <= 1 {
		return 1
	}
	shift := Width - Clz(x-1)
	if shift >= Width {
		return 0
	}
	return uintptr(1) << shift
}

// ToExpMant encodes value as an exponent/mantissa pair with mantBits bits of
// mantissa and values below 1<<lowBits collapsed into the first bucket. The
// encoding is a ceiling: decoding the result with FromExpMant gives the
// smallest representable value >= value.
func ToExpMant(value uintptr, mantBits, lowBits uint) uintptr {
	leading := (uintptr(1) << (mantBits + lowBits)) >> 1
	mask := uintptr(1)<<mantBits - 1

	value--
	e := uintptr(Width) - uintptr(mantBits) - uintptr(lowBits) - uintptr(Clz(value|leading))
	var b uintptr
	if e != 0 {
		b = 1
	}
	m := (value >> (uintptr(lowBits) + e - b)) & mask
	return (e << mantBits) + m
}

// FromExpMant is the inverse of ToExpMant.
func FromExpMant(me uintptr, mantBits, lowBits uint) uintptr {
	me++
	mask := uintptr(1)<<mantBits - 1
	m := me & mask
	e := me >> mantBits
	var b uintptr
	if e != 0 {
		b = 1
	}
	extended := m + (b << mantBits)
	return extended << (e - b + uintptr(lowBits))
}

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

// Package sizeclass defines the canonical allocation sizes and the mapping
// from requested sizes and alignments onto them.
//
// Sizes are bucketed with an exponent/mantissa scheme: every power of two is
// split into four classes (16, 32, 48, 64, 80, 96, 112, 128, 160, ...). Small
// classes are carved from 64 KiB slabs, medium classes from whole 16 MiB
// superslabs, and anything beyond the table goes to the large-object path.
package sizeclass

import (
	"fmt"

	"github.com/apache/arrow-malloc/go/malloc/internal/bits"
	"golang.org/x/xerrors"
)

const (
	MinAllocBits     = 4
	MinAllocSize     = 1 << MinAllocBits
	IntermediateBits = 2

	SlabBits      = 16
	SlabSize      = 1 << SlabBits
	SuperslabBits = 24
	SuperslabSize = 1 << SuperslabBits
	SlabCount     = SuperslabSize / SlabSize

	// NumSmallClasses is the class of SlabSize; classes below it are carved
	// from slabs.
	NumSmallClasses = 43
	// NumSizeclasses is the class of SuperslabSize and doubles as the
	// large-object sentinel: any class >= NumSizeclasses is not pooled.
	NumSizeclasses   = 75
	NumMediumClasses = NumSizeclasses - NumSmallClasses
)

var (
	ErrInvalidAlignment = xerrors.New("sizeclass: invalid alignment")
	ErrSizeOverflow     = xerrors.New("sizeclass: size overflow")
)

var sizes [NumSizeclasses]uintptr

func init() {
	for sc := range sizes {
		sizes[sc] = bits.FromExpMant(uintptr(sc), IntermediateBits, MinAllocBits)
	}
	if SizeToSizeclass(SlabSize) != NumSmallClasses || SizeToSizeclass(SuperslabSize) != NumSizeclasses {
		panic("sizeclass: table bounds do not match slab geometry")
	}
}

// SizeToSizeclass returns the least class whose size is >= size. Results at
// or above NumSizeclasses mean the request is too large for pooled
// allocation. A size of 0 is not folded and lands beyond the table.
func SizeToSizeclass(size uintptr) uint8 {
	return uint8(bits.ToExpMant(size, IntermediateBits, MinAllocBits))
}

// SizeclassToSize returns the size of objects in class sc.
func SizeclassToSize(sc uint8) uintptr {
	if int(sc) >= NumSizeclasses {
		panic(fmt.Sprintf("sizeclass: class %d out of range", sc))
	}
	return sizes[sc]
}

// IsSmall reports whether objects of class sc are carved from slabs.
func IsSmall(sc uint8) bool { return sc < NumSmallClasses }

// IsMedium reports whether objects of class sc are carved from whole
// superslabs.
func IsMedium(sc uint8) bool { return sc >= NumSmallClasses && sc < NumSizeclasses }

// IsLarge reports whether sc is past the table, i.e. the large-object path.
func IsLarge(sc uint8) bool { return sc >= NumSizeclasses }

// NaturalAlignment is the alignment every object of class sc has by virtue
// of its slab layout: objects sit at multiples of their size from a slab
// (or, for medium classes, superslab) aligned base.
func NaturalAlignment(sc uint8) uintptr {
	align := bits.LowestSetBit(SizeclassToSize(sc))
	limit := uintptr(SlabSize)
	if IsMedium(sc) {
		limit = SuperslabSize
	}
	return min(align, limit)
}

// LargeSize rounds a large request up to a whole number of superslabs. It
// returns 0 if the rounded size does not fit.
func LargeSize(size uintptr) uintptr {
	if size > bits.MaxUintptr-(SuperslabSize-1) {
		return 0
	}
	return bits.AlignUp(size, SuperslabSize)
}

// RoundSize returns the number of bytes actually reserved for a request of
// size bytes, or 0 if that would not fit in the address space.
func RoundSize(size uintptr) uintptr {
	if sc := SizeToSizeclass(size); !IsLarge(sc) {
		return sizes[sc]
	}
	return LargeSize(size)
}

// AlignedSize turns an aligned request into a size whose natural placement
// already satisfies alignment, so that no over-allocation is needed. Requests
// that no class can place are returned as large-object sizes; large objects
// are superslab aligned, which covers every valid alignment.
func AlignedSize(alignment, size uintptr) (uintptr, error) {
	if alignment == 0 || alignment == bits.MaxUintptr || alignment > SuperslabSize ||
		!bits.IsPow2(alignment) {
		return 0, ErrInvalidAlignment
	}
	if _, wrapped := bits.UAdd(size, alignment); wrapped {
		return 0, ErrSizeOverflow
	}

	want := max(size, alignment)
	for sc := SizeToSizeclass(want); sc < NumSizeclasses; sc++ {
		if sz := sizes[sc]; bits.LowestSetBit(sz) >= alignment {
			return sz, nil
		}
	}

	large := LargeSize(want)
	if large == 0 {
		return 0, ErrSizeOverflow
	}
	return large, nil
}

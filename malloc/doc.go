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

/*
Package malloc provides malloc-compatible allocation entry points backed by
pooled slabs.

All state lives in a Context, which owns a chunk provider and the slab
backend built on it:

	ctx, err := malloc.New(malloc.WithProviderName("mmap"))
	if err != nil {
		log.Fatal(err)
	}
	p, err := ctx.Malloc(100)
	...
	ctx.Free(p)

The package-level functions use a process-wide context created on first
use. Sizes and alignments follow the C library: errors are reported as
syscall.ENOMEM or syscall.EINVAL, and PosixMemalign returns the error code
directly.

Memory returned by a Context lives outside the regions the garbage
collector scans. It must not hold the only reference to a Go heap object.

# Size classes

Requests are rounded up to the classes defined by package sizeclass. Zero
byte requests share the smallest class and still return a unique pointer.
Aligned requests are served from the first class whose natural placement
satisfies the alignment, so no memory is wasted on padding.

# Configuration

The provider can be chosen with WithProvider, WithProviderName or the
ARROW_MALLOC_PROVIDER environment variable ("mmap" or "heap").
*/
package malloc

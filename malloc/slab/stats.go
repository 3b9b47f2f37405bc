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

	"github.com/apache/arrow-malloc/go/malloc/chunk"
)

type allocatorCounters struct {
	allocs         atomic.Int64
	frees          atomic.Int64
	remoteSent     atomic.Int64
	remoteReceived atomic.Int64
}

// Stats summarises a backend. Counters are read without stopping concurrent
// allocation, so they are only approximately consistent with each other.
type Stats struct {
	// Allocators is the number of allocators ever created, idle or busy.
	Allocators     int   `json:"allocators"`
	Allocs         int64 `json:"allocs"`
	Frees          int64 `json:"frees"`
	RemoteSent     int64 `json:"remote_sent"`
	RemoteReceived int64 `json:"remote_received"`
	// Superslabs counts superslab metadata records ever constructed.
	Superslabs int   `json:"superslabs"`
	LargeBytes int64 `json:"large_bytes"`

	Provider chunk.Stats `json:"provider"`
}

// Stats walks every allocator and superslab record of b.
func (b *Backend) Stats() Stats {
	var st Stats
	for a := b.allocs.Iterate(nil); a != nil; a = b.allocs.Iterate(a) {
		st.Allocators++
		st.Allocs += a.stats.allocs.Load()
		st.Frees += a.stats.frees.Load()
		st.RemoteSent += a.stats.remoteSent.Load()
		st.RemoteReceived += a.stats.remoteReceived.Load()
	}
	for s := b.supers.Iterate(nil); s != nil; s = b.supers.Iterate(s) {
		st.Superslabs++
	}
	st.LargeBytes = b.largeLive.Load()
	st.Provider = b.provider.Stats()
	return st
}

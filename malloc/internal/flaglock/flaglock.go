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

// Package flaglock provides a spin lock for very short critical sections.
package flaglock

import (
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// activeSpin is the number of failed acquire attempts after which the
// spinning goroutine yields its processor.
const activeSpin = 64

// Lock is a busy-wait mutual exclusion lock. The zero value is unlocked.
//
// The flag sits on its own cache line so waiters spinning on it do not
// contend with neighbouring fields.
type Lock struct {
	_    cpu.CacheLinePad
	flag atomic.Bool
	_    cpu.CacheLinePad
}

var _ sync.Locker = (*Lock)(nil)

// Lock acquires l, spinning until it is available.
func (l *Lock) Lock() {
	for spins := 0; !l.TryLock(); spins++ {
		if spins >= activeSpin {
			runtime.Gosched()
			spins = 0
		}
	}
}

// TryLock acquires l if it is free and reports whether it did.
func (l *Lock) TryLock() bool {
	return !l.flag.Load() && l.flag.CompareAndSwap(false, true)
}

// Unlock releases l. Unlocking an unlocked Lock panics.
func (l *Lock) Unlock() {
	if !l.flag.Swap(false) {
		panic("flaglock: unlock of unlocked lock")
	}
}

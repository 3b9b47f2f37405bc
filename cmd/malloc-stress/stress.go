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

package main

import (
	"fmt"
	"io"
	"sort"
	"time"
	"unsafe"

	"github.com/JohnCGriffin/overflow"
	"github.com/apache/arrow-malloc/go/malloc"
	"github.com/apache/arrow-malloc/go/malloc/slab"
	"github.com/google/uuid"
	"github.com/klauspost/cpuid/v2"
	"github.com/zeebo/xxh3"
	"golang.org/x/exp/rand"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
	"gonum.org/v1/gonum/stat"
)

// block is a live allocation together with the checksum of its contents.
type block struct {
	p    unsafe.Pointer
	size int
	sum  uint64
}

func (b block) bytes() []byte { return unsafe.Slice((*byte)(b.p), b.size) }

type latency struct {
	Mean   float64 `json:"mean_ns"`
	StdDev float64 `json:"stddev_ns"`
	P50    float64 `json:"p50_ns"`
	P99    float64 `json:"p99_ns"`
}

type report struct {
	RunID        string        `json:"run_id"`
	CPU          string        `json:"cpu"`
	Cores        int           `json:"cores"`
	Workers      int           `json:"workers"`
	Ops          int           `json:"ops"`
	BytesRequest int64         `json:"bytes_requested"`
	Handoffs     int64         `json:"handoffs"`
	Elapsed      time.Duration `json:"elapsed_ns"`
	Latency      latency       `json:"latency"`
	Stats        slab.Stats    `json:"stats"`
}

func (r *report) print(w io.Writer) {
	fmt.Fprintln(w, "Run:", r.RunID)
	fmt.Fprintf(w, "CPU: %s (%d cores)\n", r.CPU, r.Cores)
	fmt.Fprintf(w, "Workers: %d, Ops: %d, Handoffs: %d\n", r.Workers, r.Ops, r.Handoffs)
	fmt.Fprintf(w, "Bytes requested: %d\n", r.BytesRequest)
	fmt.Fprintf(w, "Elapsed: %s (%.0f ops/s)\n", r.Elapsed, float64(r.Ops)/r.Elapsed.Seconds())
	fmt.Fprintf(w, "Latency: mean %.0fns, stddev %.0fns, p50 %.0fns, p99 %.0fns\n",
		r.Latency.Mean, r.Latency.StdDev, r.Latency.P50, r.Latency.P99)
	fmt.Fprintf(w, "Allocators: %d, Allocs: %d, Frees: %d, Remote: %d sent / %d received\n",
		r.Stats.Allocators, r.Stats.Allocs, r.Stats.Frees, r.Stats.RemoteSent, r.Stats.RemoteReceived)
	fmt.Fprintf(w, "Provider: %d chunks, %d bytes reserved, %d bytes released\n",
		r.Stats.Provider.Chunks, r.Stats.Provider.BytesReserved, r.Stats.Provider.BytesReleased)
}

type worker struct {
	id      int
	ctx     *malloc.Context
	rng     *rand.Rand
	maxSize int
	handoff chan block

	live      []block
	latencies []float64
	requested int64
	handoffs  int64
}

func (w *worker) fill(b block) block {
	buf := b.bytes()
	c := byte(w.rng.Uint32())
	for i := range buf {
		buf[i] = c + byte(i)
	}
	b.sum = xxh3.Hash(buf)
	return b
}

func (w *worker) check(b block, op string) error {
	if got := xxh3.Hash(b.bytes()); got != b.sum {
		return xerrors.Errorf("worker %d: %s: block %p of %d bytes corrupted", w.id, op, b.p, b.size)
	}
	return nil
}

func (w *worker) account(size int) error {
	var ok bool
	if w.requested, ok = overflow.Add64(w.requested, int64(size)); !ok {
		return xerrors.Errorf("worker %d: byte count overflows", w.id)
	}
	return nil
}

func (w *worker) timed(f func() error) error {
	start := time.Now()
	err := f()
	w.latencies = append(w.latencies, float64(time.Since(start)))
	return err
}

func (w *worker) malloc() error {
	size := w.rng.Intn(w.maxSize) + 1
	if err := w.account(size); err != nil {
		return err
	}
	var p unsafe.Pointer
	err := w.timed(func() (err error) {
		p, err = w.ctx.Malloc(uintptr(size))
		return err
	})
	if err != nil {
		return xerrors.Errorf("worker %d: malloc %d: %w", w.id, size, err)
	}
	w.live = append(w.live, w.fill(block{p: p, size: size}))
	return nil
}

func (w *worker) realloc(i int) error {
	old := w.live[i]
	size := w.rng.Intn(w.maxSize) + 1
	if err := w.account(size); err != nil {
		return err
	}
	keep := min(size, old.size)
	want := xxh3.Hash(old.bytes()[:keep])

	var p unsafe.Pointer
	err := w.timed(func() (err error) {
		p, err = w.ctx.Realloc(old.p, uintptr(size))
		return err
	})
	if err != nil {
		return xerrors.Errorf("worker %d: realloc %d: %w", w.id, size, err)
	}
	nb := block{p: p, size: size}
	if xxh3.Hash(nb.bytes()[:keep]) != want {
		return xerrors.Errorf("worker %d: realloc lost the first %d bytes", w.id, keep)
	}
	w.live[i] = w.fill(nb)
	return nil
}

func (w *worker) free(b block) error {
	if err := w.check(b, "free"); err != nil {
		return err
	}
	return w.timed(func() error {
		w.ctx.Free(b.p)
		return nil
	})
}

func (w *worker) remove(i int) block {
	b := w.live[i]
	last := len(w.live) - 1
	w.live[i] = w.live[last]
	w.live = w.live[:last]
	return b
}

func (w *worker) step() error {
	if len(w.live) == 0 {
		return w.malloc()
	}
	i := w.rng.Intn(len(w.live))
	switch op := w.rng.Intn(10); {
	case op < 4:
		return w.malloc()
	case op < 6:
		return w.realloc(i)
	case op < 8:
		return w.free(w.remove(i))
	default:
		// pass a block to another worker, or free one passed to us
		select {
		case b := <-w.handoff:
			w.handoffs++
			return w.free(b)
		default:
		}
		b := w.remove(i)
		select {
		case w.handoff <- b:
			return nil
		default:
			return w.free(b)
		}
	}
}

func (w *worker) run(iterations int) error {
	for n := 0; n < iterations; n++ {
		if err := w.step(); err != nil {
			return err
		}
	}
	for len(w.live) > 0 {
		if err := w.free(w.remove(len(w.live) - 1)); err != nil {
			return err
		}
	}
	return nil
}

func summarize(samples []float64) latency {
	if len(samples) == 0 {
		return latency{}
	}
	sort.Float64s(samples)
	return latency{
		Mean:   stat.Mean(samples, nil),
		StdDev: stat.StdDev(samples, nil),
		P50:    stat.Quantile(0.5, stat.Empirical, samples, nil),
		P99:    stat.Quantile(0.99, stat.Empirical, samples, nil),
	}
}

func run(cfg config) (*report, error) {
	var opts []malloc.Option
	if cfg.Provider != "" {
		opts = append(opts, malloc.WithProviderName(cfg.Provider))
	}
	ctx, err := malloc.New(opts...)
	if err != nil {
		return nil, err
	}

	handoff := make(chan block, cfg.Workers*16)
	workers := make([]*worker, cfg.Workers)
	for i := range workers {
		workers[i] = &worker{
			id:      i,
			ctx:     ctx,
			rng:     rand.New(rand.NewSource(uint64(cfg.Seed) + uint64(i))),
			maxSize: cfg.MaxSize,
			handoff: handoff,
		}
	}

	start := time.Now()
	var g errgroup.Group
	for _, w := range workers {
		w := w
		g.Go(func() error { return w.run(cfg.Iterations) })
	}
	err = g.Wait()
	elapsed := time.Since(start)

	close(handoff)
	for b := range handoff {
		if ferr := workers[0].free(b); ferr != nil && err == nil {
			err = ferr
		}
	}
	if err != nil {
		return nil, err
	}
	ctx.Flush()

	rep := &report{
		RunID:   uuid.NewString(),
		CPU:     cpuid.CPU.BrandName,
		Cores:   cpuid.CPU.LogicalCores,
		Workers: cfg.Workers,
		Elapsed: elapsed,
		Stats:   ctx.Stats(),
	}
	var samples []float64
	for _, w := range workers {
		samples = append(samples, w.latencies...)
		rep.BytesRequest += w.requested
		rep.Handoffs += w.handoffs
	}
	rep.Ops = len(samples)
	rep.Latency = summarize(samples)
	return rep, nil
}

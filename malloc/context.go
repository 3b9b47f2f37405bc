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

package malloc

import (
	"errors"
	"fmt"
	"os"
	"syscall"
	"unsafe"

	"github.com/apache/arrow-malloc/go/internal/debug"
	"github.com/apache/arrow-malloc/go/malloc/chunk"
	"github.com/apache/arrow-malloc/go/malloc/sizeclass"
	"github.com/apache/arrow-malloc/go/malloc/slab"
	"golang.org/x/xerrors"
)

// EnvProvider names the environment variable that selects the default
// chunk provider for new contexts.
const EnvProvider = "ARROW_MALLOC_PROVIDER"

type config struct {
	provider     chunk.Provider
	providerName string
}

// Option configures a Context.
type Option func(*config)

// WithProvider makes the context allocate from p. p must outlive the context.
func WithProvider(p chunk.Provider) Option {
	return func(c *config) { c.provider = p }
}

// WithProviderName selects a provider by name, see chunk.New.
func WithProviderName(name string) Option {
	return func(c *config) { c.providerName = name }
}

// Context is an allocator instance. All of its methods are safe for
// concurrent use.
type Context struct {
	provider chunk.Provider
	backend  *slab.Backend
	pageSize uintptr
}

// New builds a Context. Options override the environment.
func New(opts ...Option) (*Context, error) {
	var cfg config
	if name, ok := os.LookupEnv(EnvProvider); ok {
		cfg.providerName = name
	}
	for _, o := range opts {
		o(&cfg)
	}

	provider := cfg.provider
	if provider == nil {
		var err error
		if provider, err = chunk.New(cfg.providerName); err != nil {
			return nil, xerrors.Errorf("malloc: %w", err)
		}
	}

	backend, err := slab.NewBackend(provider)
	if err != nil {
		return nil, xerrors.Errorf("malloc: %w", err)
	}
	return &Context{
		provider: provider,
		backend:  backend,
		pageSize: provider.PageSize(),
	}, nil
}

func (c *Context) Provider() chunk.Provider { return c.provider }

// PageSize is the page size used by Valloc and Pvalloc.
func (c *Context) PageSize() uintptr { return c.pageSize }

// Stats reports allocator and provider counters.
func (c *Context) Stats() slab.Stats { return c.backend.Stats() }

// Flush applies frees queued for idle allocators.
func (c *Context) Flush() { c.backend.Flush() }

// Owns reports whether p was allocated by c.
func (c *Context) Owns(p unsafe.Pointer) bool { return c.backend.Owns(p) }

// errno maps internal failures onto the error numbers of the C interface.
func errno(err error) syscall.Errno {
	switch {
	case errors.Is(err, sizeclass.ErrInvalidAlignment):
		return syscall.EINVAL
	default:
		return syscall.ENOMEM
	}
}

// Errno returns the error number a C caller would find in errno after a
// call failed with err, or 0 for a nil error.
func Errno(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	var e syscall.Errno
	if errors.As(err, &e) {
		return e
	}
	return errno(err)
}

// alloc hands a canonical size to an allocator for the duration of one
// request.
func (c *Context) alloc(size uintptr, zero bool) (unsafe.Pointer, error) {
	rounded := sizeclass.RoundSize(size)
	if rounded == 0 {
		return nil, syscall.ENOMEM
	}

	a, err := c.backend.Acquire()
	if err != nil {
		debug.Log(err)
		return nil, errno(err)
	}
	p, err := a.Alloc(rounded, zero)
	c.backend.Release(a)
	if err != nil {
		debug.Log(func() string { return fmt.Sprintf("malloc: %d bytes: %v", size, err) })
		return nil, errno(err)
	}
	return p, nil
}

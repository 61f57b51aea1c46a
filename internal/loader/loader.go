// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package loader memoizes the acquisition of heavyweight optional resources
// such as a dynamically opened management library.
//
// A Loader moves through Unattempted -> Loading -> Ready | Unavailable.
// The outcome of the first attempt is kept: later callers get the same
// resource or the same error without retrying. Release returns the loader to
// Unattempted and runs the release function exactly once for a Ready
// resource.
//
//	nvmlLoader := loader.New(openNVML, func(lib nvml.Interface) error {
//		return shutdown(lib)
//	})
//	lib, err := nvmlLoader.Get()
package loader

import (
	"errors"
	"fmt"
	"sync"
)

// State is the lifecycle state of a Loader.
type State int

const (
	Unattempted State = iota
	Loading
	Ready
	Unavailable
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Unattempted:
		return "unattempted"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Unavailable:
		return "unavailable"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ErrUnavailable wraps the cached failure of a previous attempt.
var ErrUnavailable = errors.New("resource unavailable")

// Loader acquires a resource of type T at most once per lifecycle.
type Loader[T any] struct {
	acquire func() (T, error)
	release func(T) error

	mu    sync.Mutex
	state State
	value T
	err   error
}

// New returns a Loader. release may be nil.
func New[T any](acquire func() (T, error), release func(T) error) *Loader[T] {
	return &Loader[T]{acquire: acquire, release: release}
}

// Get returns the resource, acquiring it on first use. The mutex is held
// across acquisition so concurrent first callers wait and then observe the
// memoized outcome.
func (l *Loader[T]) Get() (T, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case Ready:
		return l.value, nil
	case Unavailable:
		var zero T
		return zero, l.err
	}

	l.state = Loading
	v, err := l.acquire()
	if err != nil {
		var zero T
		l.state = Unavailable
		l.err = fmt.Errorf("%w: %w", ErrUnavailable, err)
		return zero, l.err
	}
	l.state = Ready
	l.value = v
	return v, nil
}

// State returns the current state.
func (l *Loader[T]) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Err returns the memoized failure, or nil.
func (l *Loader[T]) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Release drops the memoized outcome. A Ready resource is passed to the
// release function. Calling Release on an Unattempted loader is a no-op.
func (l *Loader[T]) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var err error
	if l.state == Ready && l.release != nil {
		err = l.release(l.value)
	}

	var zero T
	l.state = Unattempted
	l.value = zero
	l.err = nil
	return err
}

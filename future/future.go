// Package future implements the type-erased, allocator-pooled result channel
// described in spec.md §4.5: a value-returning job kernel sets a Future
// exactly once, and every dependent that reads it afterwards observes the
// same value, or the same rethrown error.
//
// The original C++ job system backs futures with a fixed-capacity pool and a
// custom STL allocator (PromisePool in thread/job/promise_pool.h) so futures
// never hit the general-purpose heap allocator on the hot path. Go generics
// instantiate a distinct type per T, so a single pool can't be shared across
// result types the way the C++ template can; the idiomatic replacement is a
// sync.Pool per instantiation, looked up through a small type registry, which
// gives the same "don't heap-allocate Futures one at a time" property without
// hand-rolled placement new.
package future

import (
	"reflect"
	"sync"
)

// Result carries either a value or an error produced by a job kernel.
type Result[T any] struct {
	Value T
	Err   error
}

// Future is a shared, read-many handle to a job kernel's eventual result.
// The zero value is not usable; construct with New or Acquire.
type Future[T any] struct {
	mu       sync.Mutex
	cond     *sync.Cond
	done     bool
	res      Result[T]
	consumed bool
}

// New allocates a Future directly (bypassing the pool). Exposed for callers
// that don't want pooled futures, e.g. in tests.
func New[T any]() *Future[T] {
	f := &Future[T]{}
	f.cond = sync.NewCond(&f.mu)
	return f
}

var registry sync.Map // reflect.Type -> *sync.Pool

func poolFor[T any]() *sync.Pool {
	key := reflect.TypeOf((*T)(nil))
	if p, ok := registry.Load(key); ok {
		return p.(*sync.Pool)
	}
	p := &sync.Pool{New: func() any { return New[T]() }}
	actual, _ := registry.LoadOrStore(key, p)
	return actual.(*sync.Pool)
}

// Acquire takes a Future from the pool for type T, resetting its state.
func Acquire[T any]() *Future[T] {
	f := poolFor[T]().Get().(*Future[T])
	f.mu.Lock()
	f.done = false
	f.consumed = false
	f.res = Result[T]{}
	f.mu.Unlock()
	return f
}

// Release returns a Future to its type's pool. Callers must not touch the
// future again afterwards. The job system itself never calls Release: a
// future returned by CreateTask is not returned to the pool by garbage
// collection.
func Release[T any](f *Future[T]) {
	poolFor[T]().Put(f)
}

// Set stores the kernel's outcome and wakes every blocked reader. Must be
// called exactly once per future.
func (f *Future[T]) Set(value T, err error) {
	f.mu.Lock()
	f.res = Result[T]{Value: value, Err: err}
	f.done = true
	f.cond.Broadcast()
	f.mu.Unlock()
}

// Get blocks until the future is set, then returns the value, rethrowing
// the captured error if the kernel failed. Safe to call from multiple
// dependents; every caller observes the same outcome.
func (f *Future[T]) Get() (T, error) {
	f.mu.Lock()
	for !f.done {
		f.cond.Wait()
	}
	f.consumed = true
	res := f.res
	f.mu.Unlock()
	return res.Value, res.Err
}

// TryGet returns the result without blocking; ok is false if the kernel
// hasn't completed yet.
func (f *Future[T]) TryGet() (Result[T], bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.done {
		return Result[T]{}, false
	}
	f.consumed = true
	return f.res, true
}

// Done reports whether the future has been set, without marking it consumed.
func (f *Future[T]) Done() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.done
}

// Consumed reports whether any reader has ever called Get or TryGet. The job
// system uses this to decide whether an unread kernel error must be reported
// during garbage collection (spec.md §4.11).
func (f *Future[T]) Consumed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.consumed
}

// Err returns the captured error without marking the future consumed, or nil
// if the future isn't done yet or the kernel succeeded. Used internally by
// the job system's garbage collector, which must be able to inspect the
// error without suppressing the "was it ever read by a dependent" signal.
func (f *Future[T]) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.done {
		return nil
	}
	return f.res.Err
}

// Package handle provides ownership helpers for operating-system resources:
// a generic owned-resource wrapper releasing a value at most once, and an
// ordered cleanup scope running deferred release actions in reverse.
package handle

// Owned wraps a resource value together with its release function and the
// sentinel that marks the value as not acquired. Close releases the value at
// most once; closing an unacquired or already-closed value is a no-op.
type Owned[T comparable] struct {
	value   T
	invalid T
	release func(T)
	closed  bool
}

// NewOwned takes ownership of value. The release function is called at most
// once, and never for the invalid sentinel.
func NewOwned[T comparable](value, invalid T, release func(T)) *Owned[T] {
	return &Owned[T]{value: value, invalid: invalid, release: release}
}

// Get returns the owned value. After Close or Detach it returns the invalid
// sentinel.
func (o *Owned[T]) Get() T {
	if o.closed {
		return o.invalid
	}
	return o.value
}

// Valid reports whether the wrapper still owns an acquired resource.
func (o *Owned[T]) Valid() bool {
	return !o.closed && o.value != o.invalid
}

// Close releases the owned value. Safe to call any number of times.
func (o *Owned[T]) Close() {
	if o.closed || o.value == o.invalid {
		o.closed = true
		return
	}
	o.closed = true
	o.release(o.value)
}

// Detach gives up ownership and returns the value without releasing it.
func (o *Owned[T]) Detach() T {
	if o.closed {
		return o.invalid
	}
	o.closed = true
	return o.value
}

// Guard is an ordered list of deferred release actions. Release runs every
// registered action exactly once, in reverse registration order. A Guard is
// intended to be released via defer so that cleanup covers every exit path.
type Guard struct {
	actions  []func()
	released bool
}

// Defer registers a release action. Actions registered after Release are
// never run.
func (g *Guard) Defer(action func()) {
	if g.released {
		return
	}
	g.actions = append(g.actions, action)
}

// Release runs the registered actions in reverse order. Subsequent calls are
// no-ops.
func (g *Guard) Release() {
	if g.released {
		return
	}
	g.released = true
	for i := len(g.actions) - 1; i >= 0; i-- {
		g.actions[i]()
	}
	g.actions = nil
}

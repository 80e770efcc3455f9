package typedispatch

import (
	"maps"
	"reflect"
	"slices"
	"sync"
)

// Dispatcher owns the registry of dispatch types and resolves the most
// specific handler for a given runtime type. Use New() to create one, then
// Register() handlers. The zero value is usable but carries no fallback, so
// dispatching an unmatched type reports ErrHandlerNotFound.
type Dispatcher struct {
	mu    sync.RWMutex
	reg   map[any]handlerFuncAny
	order []any // registration order, tie-break for equally ranked capabilities
	gen   uint64
	cache map[reflect.Type]cacheEntry
}

// Cache entries are tagged with the registry generation they were computed
// against; a stale tag is equivalent to a cache miss.
type cacheEntry struct {
	h   handlerFuncAny
	gen uint64
}

// New creates a Dispatcher with base installed as the fallback handler.
// The fallback matches every value for which nothing more specific is
// registered; it can itself be replaced later via Register[any].
//
// Every Dispatcher is independent. There is no shared default instance.
func New(base HandlerFunc[any]) *Dispatcher {
	d := &Dispatcher{
		reg:   make(map[any]handlerFuncAny),
		cache: make(map[reflect.Type]cacheEntry),
	}
	d.register(anyType, handlerFuncAny(base))
	return d
}

func (d *Dispatcher) register(key any, h handlerFuncAny) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.reg == nil {
		d.reg = make(map[any]handlerFuncAny)
	}

	if _, seen := d.reg[key]; !seen {
		d.order = append(d.order, key)
	}
	d.reg[key] = h
	d.gen++
}

// Dispatch returns the most specific handler registered for runtime type t.
// Results are cached per type; registration invalidates the cache.
//
// Dispatch never fails for an unregistered type while a fallback is
// installed, as New guarantees. The errors are *AmbiguousDispatchError,
// returned when two equally specific capability registrations compete for
// t, and ErrHandlerNotFound on a fallback-less dispatcher with no match.
func (d *Dispatcher) Dispatch(t reflect.Type) (HandlerFunc[any], error) {
	h, err := d.dispatch(t)
	if err != nil {
		return nil, err
	}
	return HandlerFunc[any](h), nil
}

func (d *Dispatcher) dispatch(t reflect.Type) (handlerFuncAny, error) {
	if t == nil {
		t = anyType
	}

	d.mu.RLock()
	if e, ok := d.cache[t]; ok && e.gen == d.gen {
		d.mu.RUnlock()
		return e.h, nil
	}
	d.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()

	if e, ok := d.cache[t]; ok && e.gen == d.gen {
		return e.h, nil
	}

	h, err := resolve(t, d.reg, d.order)
	if err != nil {
		return nil, err
	}

	if d.cache == nil {
		d.cache = make(map[reflect.Type]cacheEntry)
	}
	d.cache[t] = cacheEntry{h: h, gen: d.gen}
	return h, nil
}

// ClearCache drops every cached resolution. Purely an optimization hook:
// the generation tag already prevents stale reads after a registration.
func (d *Dispatcher) ClearCache() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.cache = make(map[reflect.Type]cacheEntry)
}

// Snapshot returns the registered dispatch keys (reflect.Type or
// *Capability) in registration order. The fallback key is always first.
func (d *Dispatcher) Snapshot() []any {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return slices.Clone(d.order)
}

// Seal finalizes the Dispatcher and returns an immutable Sealed view.
//
// Registrations made on the Dispatcher after Seal do not affect the sealed
// copy.
func (d *Dispatcher) Seal() *Sealed {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return &Sealed{
		reg:   maps.Clone(d.reg),
		order: slices.Clone(d.order),
		cache: make(map[reflect.Type]handlerFuncAny),
	}
}

// Sealed is an immutable dispatcher. Resolutions are still cached, but the
// registry can no longer change, so cached entries never go stale.
type Sealed struct {
	reg   map[any]handlerFuncAny
	order []any

	mu    sync.RWMutex // guards cache only
	cache map[reflect.Type]handlerFuncAny
}

// Dispatch returns the most specific handler registered for runtime type t.
func (s *Sealed) Dispatch(t reflect.Type) (HandlerFunc[any], error) {
	h, err := s.dispatch(t)
	if err != nil {
		return nil, err
	}
	return HandlerFunc[any](h), nil
}

func (s *Sealed) dispatch(t reflect.Type) (handlerFuncAny, error) {
	if t == nil {
		t = anyType
	}

	s.mu.RLock()
	h, ok := s.cache[t]
	s.mu.RUnlock()
	if ok {
		return h, nil
	}

	h, err := resolve(t, s.reg, s.order)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[t] = h
	s.mu.Unlock()
	return h, nil
}

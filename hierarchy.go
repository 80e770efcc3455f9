package typedispatch

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
)

// ErrAmbiguousDispatch is returned when two equally specific capability
// registrations compete for the same runtime type and neither subsumes the
// other. All ambiguity errors match it via errors.Is.
var ErrAmbiguousDispatch = errors.New("ambiguous dispatch")

// ErrHandlerNotFound is returned when resolution finishes without a match.
// That only happens on a dispatcher built without a universal fallback; New
// always installs one.
var ErrHandlerNotFound = errors.New("handler not found")

// AmbiguousDispatchError names the competing dispatch keys. Each key is a
// reflect.Type (interface registration) or a *Capability. The same registry
// state always produces the same pair, in registration order.
type AmbiguousDispatchError struct {
	First, Second any
}

func (e *AmbiguousDispatchError) Error() string {
	return fmt.Sprintf("typedispatch: %v: %v or %v", ErrAmbiguousDispatch, e.First, e.Second)
}

func (e *AmbiguousDispatchError) Unwrap() error { return ErrAmbiguousDispatch }

// anyType is the universal dispatch key. It is registered at construction
// time and terminates every resolution chain.
var anyType = reflect.TypeOf((*any)(nil)).Elem()

// kindTypes maps primitive kinds to their canonical types, so that a defined
// type like `type Celsius float64` falls through to a float64 registration.
var kindTypes = map[reflect.Kind]reflect.Type{
	reflect.Bool:       reflect.TypeOf(false),
	reflect.Int:        reflect.TypeOf(int(0)),
	reflect.Int8:       reflect.TypeOf(int8(0)),
	reflect.Int16:      reflect.TypeOf(int16(0)),
	reflect.Int32:      reflect.TypeOf(int32(0)),
	reflect.Int64:      reflect.TypeOf(int64(0)),
	reflect.Uint:       reflect.TypeOf(uint(0)),
	reflect.Uint8:      reflect.TypeOf(uint8(0)),
	reflect.Uint16:     reflect.TypeOf(uint16(0)),
	reflect.Uint32:     reflect.TypeOf(uint32(0)),
	reflect.Uint64:     reflect.TypeOf(uint64(0)),
	reflect.Uintptr:    reflect.TypeOf(uintptr(0)),
	reflect.Float32:    reflect.TypeOf(float32(0)),
	reflect.Float64:    reflect.TypeOf(float64(0)),
	reflect.Complex64:  reflect.TypeOf(complex64(0)),
	reflect.Complex128: reflect.TypeOf(complex128(0)),
	reflect.String:     reflect.TypeOf(""),
}

// resolve returns the best registered handler for t: an exact registration
// if one exists, otherwise the first registered entry of the merged
// resolution chain. Explicit registration always beats inferred capability
// membership.
func resolve(t reflect.Type, reg map[any]handlerFuncAny, order []any) (handlerFuncAny, error) {
	if h, ok := reg[t]; ok {
		return h, nil
	}
	h, err := findImpl(compose(t, order), reg)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, fmt.Errorf("typedispatch: %w for type %v", ErrHandlerNotFound, t)
	}
	return h, nil
}

// chainEntry is one candidate in a merged resolution chain. rank is the
// index of the explicit ancestor a capability is attributed to; explicit
// entries use their own index.
type chainEntry struct {
	key      any // reflect.Type or *Capability
	rank     int
	implicit bool
}

// compose builds the merged resolution chain for t against the registered
// keys: the explicit ancestor chain of t, with each satisfied capability
// inserted immediately after its introduction point, and the universal
// fallback last.
//
// The introduction point of a capability is the most generic explicit entry
// that satisfies it; more specific ancestors merely inherit the capability
// and keep their precedence over it. Capabilities introduced at the same
// point share one specificity rank, ordered more-specific-first where
// comparable and by registration order otherwise.
func compose(t reflect.Type, order []any) []chainEntry {
	explicit := linearize(t)

	var caps []any
	for _, key := range order {
		switch k := key.(type) {
		case reflect.Type:
			if k == anyType || k.Kind() != reflect.Interface {
				continue
			}
		case *Capability:
		default:
			continue
		}
		if entrySatisfies(t, key) {
			caps = append(caps, key)
		}
	}

	byRank := make(map[int][]any, len(caps))
	for _, c := range caps {
		rank := 0
		for i, e := range explicit {
			if entrySatisfies(e, c) {
				rank = i
			}
		}
		byRank[rank] = append(byRank[rank], c)
	}

	chain := make([]chainEntry, 0, len(explicit)+len(caps)+1)
	for i, e := range explicit {
		chain = append(chain, chainEntry{key: e, rank: i})

		group := byRank[i]
		slices.SortStableFunc(group, func(a, b any) int {
			switch {
			case moreSpecific(a, b):
				return -1
			case moreSpecific(b, a):
				return 1
			}
			return 0
		})
		for _, c := range group {
			chain = append(chain, chainEntry{key: c, rank: i, implicit: true})
		}
	}

	return append(chain, chainEntry{key: anyType, rank: len(explicit)})
}

// findImpl walks the merged chain most specific first; the first registered
// entry wins. Two registered capabilities at the same rank with no
// subsumption either way are a genuine ambiguity, reported rather than
// guessed at.
func findImpl(chain []chainEntry, reg map[any]handlerFuncAny) (handlerFuncAny, error) {
	for i, e := range chain {
		h, ok := reg[e.key]
		if !ok {
			continue
		}
		if e.implicit {
			for _, other := range chain[i+1:] {
				if other.rank != e.rank || !other.implicit {
					break
				}
				if _, ok := reg[other.key]; ok && !related(e.key, other.key) {
					return nil, &AmbiguousDispatchError{First: e.key, Second: other.key}
				}
			}
		}
		return h, nil
	}
	// No registered entry at all, not even a universal fallback.
	return nil, nil
}

// entrySatisfies reports whether type e satisfies the capability key, which
// is either an interface reflect.Type or a *Capability.
func entrySatisfies(e reflect.Type, key any) bool {
	switch k := key.(type) {
	case reflect.Type:
		return e.Implements(k)
	case *Capability:
		return k.Satisfies(e)
	}
	return false
}

// moreSpecific orders two capability keys where a subsumption relation
// exists: an interface whose method set strictly contains the other's, or a
// Capability that declares the other via Implies.
func moreSpecific(a, b any) bool {
	if at, ok := a.(reflect.Type); ok {
		bt, ok := b.(reflect.Type)
		return ok && at.Implements(bt) && !bt.Implements(at)
	}
	if ac, ok := a.(*Capability); ok {
		bc, ok := b.(*Capability)
		return ok && ac.implies(bc)
	}
	return false
}

func related(a, b any) bool {
	return moreSpecific(a, b) || moreSpecific(b, a) || sameMethodSet(a, b)
}

func sameMethodSet(a, b any) bool {
	at, aok := a.(reflect.Type)
	bt, bok := b.(reflect.Type)
	return aok && bok && at.Implements(bt) && bt.Implements(at)
}

// linearize computes the explicit ancestor chain of t: the type itself,
// embedded struct ancestors merged with the C3 algorithm (field declaration
// order is the tie-break for diamonds), and for defined primitive types the
// canonical type of the underlying kind. Pointers prepend themselves to
// their element's chain.
func linearize(t reflect.Type) []reflect.Type {
	return linearizePath(t, make(map[reflect.Type]bool))
}

// linearizePath carries the set of types on the current descent so that
// self-embedding (a type reachable as its own ancestor, only possible
// through pointer embedding) terminates instead of recursing forever. The
// guard is scoped to the path, not the whole traversal: siblings in a
// diamond must each contribute their full chain to the C3 merge.
func linearizePath(t reflect.Type, path map[reflect.Type]bool) []reflect.Type {
	if path[t] {
		return nil
	}
	path[t] = true
	defer delete(path, t)

	if t.Kind() == reflect.Pointer {
		return append([]reflect.Type{t}, linearizePath(t.Elem(), path)...)
	}

	var bases []reflect.Type
	for _, b := range embeddedBases(t) {
		if !path[b] {
			bases = append(bases, b)
		}
	}

	seqs := make([][]reflect.Type, 0, len(bases)+2)
	seqs = append(seqs, []reflect.Type{t})
	for _, b := range bases {
		seqs = append(seqs, linearizePath(b, path))
	}
	seqs = append(seqs, bases)

	merged, ok := c3Merge(seqs)
	if !ok {
		// Inconsistent embedding order; keep first-seen depth-first order.
		return dfsChain(t, make(map[reflect.Type]bool), nil)
	}
	return merged
}

// embeddedBases returns the direct explicit ancestors of t: embedded
// (anonymous) struct fields in declaration order, with pointer embedding
// dereferenced. Embedded interfaces are not bases; they surface through
// capability satisfaction instead.
func embeddedBases(t reflect.Type) []reflect.Type {
	if t.Kind() != reflect.Struct {
		if kt, ok := kindTypes[t.Kind()]; ok && t != kt {
			return []reflect.Type{kt}
		}
		return nil
	}

	var bases []reflect.Type
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.Anonymous {
			continue
		}
		ft := f.Type
		if ft.Kind() == reflect.Pointer {
			ft = ft.Elem()
		}
		if ft.Kind() == reflect.Interface {
			continue
		}
		bases = append(bases, ft)
	}
	return bases
}

// c3Merge merges ancestor chains into a single chain using the C3
// linearization algorithm: repeatedly take the first sequence head that
// appears in no other sequence's tail. Reports failure when no head
// qualifies (inconsistent hierarchy).
func c3Merge(seqs [][]reflect.Type) ([]reflect.Type, bool) {
	var result []reflect.Type
	for {
		live := seqs[:0]
		for _, s := range seqs {
			if len(s) > 0 {
				live = append(live, s)
			}
		}
		seqs = live
		if len(seqs) == 0 {
			return result, true
		}

		var candidate reflect.Type
		for _, s := range seqs {
			head := s[0]
			if !inAnyTail(seqs, head) {
				candidate = head
				break
			}
		}
		if candidate == nil {
			return nil, false
		}

		result = append(result, candidate)
		for i, s := range seqs {
			if s[0] == candidate {
				seqs[i] = s[1:]
			}
		}
	}
}

func inAnyTail(seqs [][]reflect.Type, t reflect.Type) bool {
	for _, s := range seqs {
		if slices.Contains(s[1:], t) {
			return true
		}
	}
	return false
}

func dfsChain(t reflect.Type, seen map[reflect.Type]bool, out []reflect.Type) []reflect.Type {
	if seen[t] {
		return out
	}
	seen[t] = true
	out = append(out, t)
	for _, b := range embeddedBases(t) {
		out = dfsChain(b, seen, out)
	}
	return out
}

// embeddedField returns the index path of the embedded field of type target
// (or pointer to it) within struct type t, searching anonymous fields
// breadth-last in declaration order.
func embeddedField(t, target reflect.Type) ([]int, bool) {
	return embeddedFieldIn(t, target, make(map[reflect.Type]bool))
}

func embeddedFieldIn(t, target reflect.Type, seen map[reflect.Type]bool) ([]int, bool) {
	if seen[t] {
		return nil, false
	}
	seen[t] = true

	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.Anonymous {
			continue
		}
		ft := f.Type
		if ft == target || (ft.Kind() == reflect.Pointer && ft.Elem() == target) {
			return []int{i}, true
		}
		if ft.Kind() == reflect.Pointer {
			ft = ft.Elem()
		}
		if ft.Kind() == reflect.Struct {
			if path, ok := embeddedFieldIn(ft, target, seen); ok {
				return append([]int{i}, path...), true
			}
		}
	}
	return nil, false
}

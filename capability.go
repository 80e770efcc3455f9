package typedispatch

import "reflect"

// Capability is an abstract dispatch type satisfied structurally, through a
// predicate over reflect types rather than through a method set. It stands
// in for duck-typed contracts like "has a length" that no Go interface can
// express directly.
//
// Capabilities are identified by pointer: two capabilities with the same
// name and predicate are still distinct dispatch keys.
type Capability struct {
	name      string
	satisfies func(reflect.Type) bool
	parents   []*Capability
}

// NewCapability creates a capability with the given name and predicate.
// Optional implies arguments declare broader capabilities this one subsumes;
// the relation breaks ties when both sides are registered for the same
// runtime type, the same way a sub-interface outranks its super-interface.
func NewCapability(name string, satisfies func(reflect.Type) bool, implies ...*Capability) *Capability {
	return &Capability{name: name, satisfies: satisfies, parents: implies}
}

// Name returns the capability's diagnostic name.
func (c *Capability) Name() string { return c.name }

func (c *Capability) String() string { return c.name }

// Satisfies reports whether t structurally satisfies the capability.
func (c *Capability) Satisfies(t reflect.Type) bool { return c.satisfies(t) }

func (c *Capability) implies(other *Capability) bool {
	for _, p := range c.parents {
		if p == other || p.implies(other) {
			return true
		}
	}
	return false
}

// RegisterCapability adds a handler under an explicit structural capability.
// Re-registering the same capability replaces the prior handler.
func RegisterCapability(reg registry, c *Capability, handler HandlerFunc[any]) {
	reg.register(c, handlerFuncAny(handler))
}

// Built-in capabilities for the common structural contracts.
var (
	// Sized is satisfied by types with a length: arrays, channels, maps,
	// slices, and strings.
	Sized = NewCapability("Sized", hasLen)

	// Iterable is satisfied by types that can be ranged over. Deliberately
	// unrelated to Sized: registering both makes dispatch on a type
	// satisfying both ambiguous, which is the honest answer.
	Iterable = NewCapability("Iterable", canRange)
)

func hasLen(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Array, reflect.Chan, reflect.Map, reflect.Slice, reflect.String:
		return true
	}
	return false
}

func canRange(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Array, reflect.Chan, reflect.Map, reflect.Slice, reflect.String:
		return true
	}
	return false
}

package typedispatch

import (
	"context"
	"fmt"
	"reflect"
	"unsafe"
)

// HandlerFunc is a type-safe implementation for values of type T.
// It receives a context and a value, and returns a result and an error.
type HandlerFunc[T any] func(ctx context.Context, val T) (any, error)

// Middleware is a type-safe wrapper around a HandlerFunc.
// It allows injecting logic before/after the handler.
type Middleware[T any] func(next HandlerFunc[T]) HandlerFunc[T]

type registry interface {
	register(key any, h handlerFuncAny)
}

type dispatcher interface {
	dispatch(t reflect.Type) (handlerFuncAny, error)
}

type handlerFuncAny func(ctx context.Context, val any) (any, error)

// CallMiddleware wraps a resolved call with access to the value as any.
// Use for cross-cutting concerns like logging, timing, and tracing that don't
// need type-specific access to the value.
type CallMiddleware func(ctx context.Context, val any, next func(context.Context) (any, error)) (any, error)

// Call resolves the most specific handler for v's runtime type and invokes
// it with v. Optional generic middleware is applied outermost-first, wrapping
// the typed middleware chain.
//
// Resolution never fails for an unregistered type while a fallback handler
// is installed; the resolution errors are *AmbiguousDispatchError and, on a
// fallback-less dispatcher, ErrHandlerNotFound. Errors returned by the
// handler itself propagate unchanged. A nil v dispatches to the fallback.
func Call(disp dispatcher, ctx context.Context, v any, middleware ...CallMiddleware) (any, error) {
	typ := anyType
	if v != nil {
		typ = reflect.TypeOf(v)
	}

	h, err := disp.dispatch(typ)
	if err != nil {
		return nil, err
	}

	if len(middleware) == 0 {
		return h(ctx, v)
	}

	call := func(ctx context.Context) (any, error) {
		return h(ctx, v)
	}

	for i := len(middleware) - 1; i >= 0; i-- {
		mw := middleware[i]
		next := call
		call = func(ctx context.Context) (any, error) {
			return mw(ctx, v, next)
		}
	}

	return call(ctx)
}

// Register adds a handler for values of type T, with optional middleware.
//
// If T is an interface type, the handler becomes an abstract capability
// registration: it matches any runtime type whose own method set implements
// T (pointer-receiver methods count for the pointer type, not its element),
// ranked by where the capability is introduced in the type's ancestor chain.
// Register[any] replaces the fallback handler.
//
// If a handler for the same type T has already been registered, it will be
// replaced by the new handler and middleware chain. Registration invalidates
// previously cached resolutions.
//
// Middleware is applied outermost first (i.e., the last middleware wraps the others).
func Register[T any](reg registry, handler HandlerFunc[T], middleware ...Middleware[T]) {
	typ := reflect.TypeOf((*T)(nil)).Elem()
	finalTyped := applyMiddleware(handler, middleware...)

	reg.register(typ, wrapTypedHandler(finalTyped))
}

// RegisterType adds a handler under one or more reflect types. It is the
// dynamic counterpart of Register for callers that don't know the dispatch
// type statically, and for registering a single implementation under several
// keys at once.
func RegisterType(reg registry, handler HandlerFunc[any], types ...reflect.Type) {
	for _, typ := range types {
		reg.register(typ, handlerFuncAny(handler))
	}
}

func applyMiddleware[T any](base HandlerFunc[T], middleware ...Middleware[T]) HandlerFunc[T] {
	final := base
	for i := len(middleware) - 1; i >= 0; i-- {
		final = middleware[i](final)
	}
	return final
}

func wrapTypedHandler[T any](h HandlerFunc[T]) handlerFuncAny {
	target := reflect.TypeOf((*T)(nil)).Elem()
	return func(ctx context.Context, v any) (any, error) {
		if val, ok := v.(T); ok {
			return h(ctx, val)
		}
		if val, ok := coerce(v, target); ok {
			return h(ctx, val.(T))
		}
		var zero T
		return nil, fmt.Errorf("typedispatch: expected %T, got %T", zero, v)
	}
}

// coerce adapts a dispatched value to the declared type of the handler that
// won resolution: dereferencing a pointer routed to a value registration,
// extracting an embedded ancestor, or converting a defined type to its
// primitive underlying type.
func coerce(v any, target reflect.Type) (any, bool) {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return nil, false
	}

	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}

	if rv.Type() == target {
		return rv.Interface(), true
	}

	if rv.Kind() == reflect.Struct && target.Kind() == reflect.Struct {
		if path, ok := embeddedField(rv.Type(), target); ok {
			if !rv.CanAddr() {
				// fieldInterface needs an addressable parent
				tmp := reflect.New(rv.Type()).Elem()
				tmp.Set(rv)
				rv = tmp
			}
			fv, ok := fieldByPath(rv, path)
			if !ok {
				return nil, false
			}
			if fv.Kind() == reflect.Pointer {
				if fv.IsNil() {
					return nil, false
				}
				fv = fv.Elem()
			}
			return fieldInterface(fv), true
		}
	}

	if rv.Kind() == target.Kind() && rv.Type().ConvertibleTo(target) {
		return rv.Convert(target).Interface(), true
	}

	return nil, false
}

// fieldByPath walks an embedded field index path, stopping at nil pointers.
func fieldByPath(v reflect.Value, path []int) (reflect.Value, bool) {
	for _, i := range path {
		if v.Kind() == reflect.Pointer {
			if v.IsNil() {
				return reflect.Value{}, false
			}
			v = v.Elem()
		}
		v = v.Field(i)
	}
	return v, true
}

// fieldInterface reads fv even when it was reached through an unexported
// embedded field, which plain Interface() refuses with the read-only flag
// set. fv must be addressable.
func fieldInterface(fv reflect.Value) any {
	if fv.CanInterface() {
		return fv.Interface()
	}
	return reflect.NewAt(fv.Type(), unsafe.Pointer(fv.UnsafeAddr())).Elem().Interface()
}

// MiddlewareFunc is a simple convenience function to create middleware
// from a function that optionally short-circuits the call chain.
func MiddlewareFunc[T any](f func(context.Context, T) (cont bool, err error)) Middleware[T] {
	return func(next HandlerFunc[T]) HandlerFunc[T] {
		return func(ctx context.Context, val T) (any, error) {
			cont, err := f(ctx, val)
			if err != nil {
				return nil, err
			}
			if !cont {
				return nil, nil
			}
			return next(ctx, val)
		}
	}
}

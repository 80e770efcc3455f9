package typedispatch_test

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/struct0x/typedispatch"
)

func TestDispatch_Idempotent(t *testing.T) {
	d := typedispatch.New(baseHandler)
	typedispatch.Register(d, func(ctx context.Context, a animal) (any, error) {
		return "animal", nil
	})

	ctx := context.Background()
	typ := reflect.TypeOf(dog{})

	for i := 0; i < 3; i++ {
		h, err := d.Dispatch(typ)
		if err != nil {
			t.Fatal(err)
		}
		got, err := h(ctx, dog{})
		if err != nil {
			t.Fatal(err)
		}
		if got != "animal" {
			t.Errorf("call %d: expected stable resolution, got: %v", i, got)
		}
	}
}

func TestRegister_InvalidatesCache(t *testing.T) {
	d := typedispatch.New(baseHandler)
	typedispatch.Register(d, func(ctx context.Context, a animal) (any, error) {
		return "animal", nil
	})

	ctx := context.Background()

	// Warm the cache through the hierarchy walk.
	got, err := typedispatch.Call(d, ctx, dog{animal{name: "rex"}})
	if err != nil {
		t.Fatal(err)
	}
	if got != "animal" {
		t.Fatalf("expected animal before re-registration, got: %v", got)
	}

	typedispatch.Register(d, func(ctx context.Context, g dog) (any, error) {
		return "dog", nil
	})

	got, err = typedispatch.Call(d, ctx, dog{animal{name: "rex"}})
	if err != nil {
		t.Fatal(err)
	}
	if got != "dog" {
		t.Errorf("stale cache entry served after registration, got: %v", got)
	}
}

func TestCall_FallbackOnly(t *testing.T) {
	d := typedispatch.New(baseHandler)

	ctx := context.Background()
	for _, v := range []any{1, "s", 2.5, dog{}, []int{1}, map[string]int{}} {
		got, err := typedispatch.Call(d, ctx, v)
		if err != nil {
			t.Fatal(err)
		}
		if got != "base" {
			t.Errorf("expected fallback for %T, got: %v", v, got)
		}
	}
}

func TestRegister_ReplacesFallback(t *testing.T) {
	d := typedispatch.New(baseHandler)

	typedispatch.Register(d, func(ctx context.Context, v any) (any, error) {
		return "new base", nil
	})

	got, err := typedispatch.Call(d, context.Background(), robot{})
	if err != nil {
		t.Fatal(err)
	}
	if got != "new base" {
		t.Errorf("expected replaced fallback, got: %v", got)
	}
}

func TestSeal_IsolatedFromLaterRegistrations(t *testing.T) {
	d := typedispatch.New(baseHandler)
	typedispatch.Register(d, func(ctx context.Context, a animal) (any, error) {
		return "animal", nil
	})

	sealed := d.Seal()

	typedispatch.Register(d, func(ctx context.Context, g dog) (any, error) {
		return "dog", nil
	})

	ctx := context.Background()

	got, err := typedispatch.Call(sealed, ctx, dog{})
	if err != nil {
		t.Fatal(err)
	}
	if got != "animal" {
		t.Errorf("sealed dispatcher saw a later registration, got: %v", got)
	}

	got, err = typedispatch.Call(d, ctx, dog{})
	if err != nil {
		t.Fatal(err)
	}
	if got != "dog" {
		t.Errorf("live dispatcher missed its own registration, got: %v", got)
	}
}

func TestSnapshot_RegistrationOrder(t *testing.T) {
	d := typedispatch.New(baseHandler)
	typedispatch.Register(d, func(ctx context.Context, n int) (any, error) {
		return n, nil
	})
	typedispatch.RegisterCapability(d, typedispatch.Sized, func(ctx context.Context, v any) (any, error) {
		return nil, nil
	})

	want := []any{
		reflect.TypeOf((*any)(nil)).Elem(),
		reflect.TypeOf(int(0)),
		typedispatch.Sized,
	}
	got := d.Snapshot()
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected keys in registration order %v, got %v", want, got)
	}

	// Re-registering an existing key keeps its original position.
	typedispatch.Register(d, func(ctx context.Context, n int) (any, error) {
		return n + 1, nil
	})
	if got := d.Snapshot(); !reflect.DeepEqual(got, want) {
		t.Errorf("expected replacement to keep order %v, got %v", want, got)
	}
}

func TestClearCache_KeepsResults(t *testing.T) {
	d := typedispatch.New(baseHandler)
	typedispatch.Register(d, func(ctx context.Context, a animal) (any, error) {
		return "animal", nil
	})

	ctx := context.Background()

	got, _ := typedispatch.Call(d, ctx, dog{})
	if got != "animal" {
		t.Fatalf("expected animal, got: %v", got)
	}

	d.ClearCache()

	got, _ = typedispatch.Call(d, ctx, dog{})
	if got != "animal" {
		t.Errorf("expected identical result after cache clear, got: %v", got)
	}
}

func TestDispatch_NilType(t *testing.T) {
	d := typedispatch.New(baseHandler)

	h, err := d.Dispatch(nil)
	if err != nil {
		t.Fatal(err)
	}
	got, err := h(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if got != "base" {
		t.Errorf("expected fallback for nil type, got: %v", got)
	}
}

func TestDispatch_NoFallback(t *testing.T) {
	var d typedispatch.Dispatcher

	typedispatch.Register(&d, func(ctx context.Context, n int) (any, error) {
		return "integer", nil
	})

	ctx := context.Background()

	got, err := typedispatch.Call(&d, ctx, 5)
	if err != nil {
		t.Fatal(err)
	}
	if got != "integer" {
		t.Errorf("expected registered handler, got: %v", got)
	}

	_, err = typedispatch.Call(&d, ctx, "stray")
	if !errors.Is(err, typedispatch.ErrHandlerNotFound) {
		t.Errorf("expected ErrHandlerNotFound without a fallback, got: %v", err)
	}
}

func TestSeal_CachesWithoutStaleness(t *testing.T) {
	d := typedispatch.New(baseHandler)
	typedispatch.Register(d, func(ctx context.Context, m measurable) (any, error) {
		return "measurable", nil
	})

	sealed := d.Seal()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := typedispatch.Call(sealed, ctx, sensor{})
		if err != nil {
			t.Fatal(err)
		}
		if got != "measurable" {
			t.Errorf("call %d: expected measurable, got: %v", i, got)
		}
	}
}

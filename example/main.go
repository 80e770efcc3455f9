package main

import (
	"context"
	"fmt"
	"log"
	"reflect"
	"time"

	"github.com/struct0x/typedispatch"
)

// Telemetry record types
type Metric struct {
	Name  string
	Value float64
}

type Event struct {
	Kind    string
	Payload string
}

type AuditEvent struct {
	Event
	Actor string
}

func main() {
	r := &Renderer{}

	// The fallback renders anything nothing else claims.
	d := typedispatch.New(r.renderUnknown)

	typedispatch.Register(d, r.renderMetric)
	typedispatch.Register(d, r.renderEvent)
	typedispatch.Register(d, r.renderAudit)

	// Batches of any length-carrying value render through a capability.
	typedispatch.RegisterCapability(d, typedispatch.Sized, r.renderBatch)

	// Seal the dispatcher for steady-state use
	sealed := d.Seal()

	records := []any{
		Metric{Name: "cpu", Value: 0.42},
		Event{Kind: "deploy", Payload: "v1.2.3"},
		AuditEvent{Event: Event{Kind: "login", Payload: "ok"}, Actor: "alice"},
		[]int{1, 2, 3},
		struct{ X int }{X: 7},
	}

	ctx := context.Background()
	for _, rec := range records {
		out, err := typedispatch.Call(sealed, ctx, rec, timingMiddleware)
		if err != nil {
			log.Printf("render failed for %T: %v", rec, err)
			continue
		}
		fmt.Println(out)
	}
}

type Renderer struct {
	// Output target, templates, ...
}

func (r *Renderer) renderMetric(ctx context.Context, m Metric) (any, error) {
	return fmt.Sprintf("metric %s=%.2f", m.Name, m.Value), nil
}

func (r *Renderer) renderEvent(ctx context.Context, e Event) (any, error) {
	return fmt.Sprintf("event %s: %s", e.Kind, e.Payload), nil
}

func (r *Renderer) renderAudit(ctx context.Context, e AuditEvent) (any, error) {
	return fmt.Sprintf("audit %s by %s: %s", e.Kind, e.Actor, e.Payload), nil
}

func (r *Renderer) renderBatch(ctx context.Context, v any) (any, error) {
	return fmt.Sprintf("batch of %d", reflect.ValueOf(v).Len()), nil
}

func (r *Renderer) renderUnknown(ctx context.Context, v any) (any, error) {
	return fmt.Sprintf("unknown %T", v), nil
}

// Call middleware (applies to every record at call time)
func timingMiddleware(ctx context.Context, val any, next func(context.Context) (any, error)) (any, error) {
	start := time.Now()
	out, err := next(ctx)
	log.Printf("rendering %T took %v", val, time.Since(start))
	return out, err
}

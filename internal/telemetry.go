package internal

import (
	"context"
	"sync"

	"github.com/lychee-technology/extid"
)

// Telemetry hooks for ledger operations. Callers may register a real metrics emitter
// (or a test stub) via RegisterTelemetryEmitter; the default emitter drops everything.

type telemetryEmitter func(ctx context.Context, name string, labels map[string]string, value any)

var (
	teleMu   sync.Mutex
	teleImpl telemetryEmitter = func(ctx context.Context, name string, labels map[string]string, value any) {}
)

// RegisterTelemetryEmitter registers a custom emitter function. Passing nil restores the no-op emitter.
func RegisterTelemetryEmitter(fn telemetryEmitter) {
	teleMu.Lock()
	defer teleMu.Unlock()
	if fn == nil {
		teleImpl = func(ctx context.Context, name string, labels map[string]string, value any) {}
		return
	}
	teleImpl = fn
}

func currentEmitter() telemetryEmitter {
	teleMu.Lock()
	defer teleMu.Unlock()
	return teleImpl
}

// EmitOperation counts one ledger operation.
// name: "extid_operation_total" with labels {"op": "<operation>", "outcome": "ok|<error type>"}
func EmitOperation(ctx context.Context, op extid.Operation, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(extid.ErrorTypeOf(err))
	}
	labels := map[string]string{"op": string(op), "outcome": outcome}
	currentEmitter()(ctx, "extid_operation_total", labels, int64(1))
}

// EmitLatency records operation latency in milliseconds.
// name: "extid_operation_latency_ms" with label {"op": "<operation>"}
func EmitLatency(ctx context.Context, op extid.Operation, ms int64) {
	labels := map[string]string{"op": string(op)}
	currentEmitter()(ctx, "extid_operation_latency_ms", labels, ms)
}

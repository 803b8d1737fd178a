// Package dispatch implements the backend-dispatch layer: per-backend
// fixed-size connection pools and the call interceptor that wraps every
// forwarded RPC with circuit-breaker checks, per-call deadlines, outcome
// recording and failure-triggered slot replacement.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/elucidate-ai/personalresearcher-ag4mzv-sub001/internal/circuitbreaker"
	"github.com/elucidate-ai/personalresearcher-ag4mzv-sub001/internal/config"
	"github.com/elucidate-ai/personalresearcher-ag4mzv-sub001/internal/stats"
)

const instrumentationName = "github.com/elucidate-ai/personalresearcher-ag4mzv-sub001/internal/dispatch"

// Dispatcher owns one Handle per configured backend. The set of
// backends is resolved once at startup and never changes, so lookups
// are read-only.
type Dispatcher struct {
	handles map[string]*Handle
	logger  *zap.Logger
}

// Handle is the façade callers use to invoke one backend. Every call
// made through it is wrapped with the breaker check, pool selection,
// the backend's per-call deadline and outcome recording.
type Handle struct {
	name       string
	methodBase string
	timeout    time.Duration

	pool      *Pool
	breaker   *circuitbreaker.Breaker
	collector *stats.Collector
	tracer    trace.Tracer
	logger    *zap.Logger
}

// New builds pools and handles for every configured backend. Any pool
// initialization failure aborts startup; the gateway must not serve
// traffic against a backend with fewer than the configured connections.
func New(backends []config.BackendConfig, breakers *circuitbreaker.Registry, collector *stats.Collector, logger *zap.Logger, dialOpts ...grpc.DialOption) (*Dispatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	tracer := otel.Tracer(instrumentationName)

	d := &Dispatcher{
		handles: make(map[string]*Handle, len(backends)),
		logger:  logger,
	}

	for _, b := range backends {
		pool, err := NewPool(b.Name, b.Address, b.PoolSize, logger, dialOpts...)
		if err != nil {
			_ = d.Close()
			return nil, err
		}

		d.handles[b.Name] = &Handle{
			name:       b.Name,
			methodBase: b.MethodBase,
			timeout:    time.Duration(b.CallTimeout),
			pool:       pool,
			breaker:    breakers.Get(b.Name),
			collector:  collector,
			tracer:     tracer,
			logger:     logger,
		}
	}

	return d, nil
}

// GetHandle returns the handle for a backend name.
func (d *Dispatcher) GetHandle(name string) (*Handle, error) {
	h, ok := d.handles[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, name)
	}
	return h, nil
}

// Backends returns the registered backend names.
func (d *Dispatcher) Backends() []string {
	names := make([]string, 0, len(d.handles))
	for name := range d.handles {
		names = append(names, name)
	}
	return names
}

// Close closes every pool.
func (d *Dispatcher) Close() error {
	var lastErr error
	for _, h := range d.handles {
		if err := h.pool.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Name returns the backend name this handle dispatches to.
func (h *Handle) Name() string {
	return h.name
}

// MethodBase returns the fully qualified gRPC service prefix configured
// for this backend.
func (h *Handle) MethodBase() string {
	return h.methodBase
}

// Pool exposes the backend's connection pool for probe traffic.
func (h *Handle) Pool() *Pool {
	return h.pool
}

// Invoke forwards one unary call to the backend and returns the raw
// response payload. The breaker is consulted first: an open circuit
// fails fast with no network I/O. Otherwise the call runs against a
// round-robin connection under the backend's per-call deadline, its
// latency and outcome are recorded to the collector and the breaker,
// and a transport failure schedules the used slot for replacement.
// Backend errors are returned to the caller unchanged.
func (h *Handle) Invoke(ctx context.Context, method string, payload []byte) ([]byte, error) {
	gen, err := h.breaker.Allow()
	if err != nil {
		return nil, err
	}

	conn, slot := h.pool.Select()

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	ctx, span := h.tracer.Start(ctx, "dispatch "+h.name+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("gateway.backend", h.name),
			attribute.String("rpc.method", method),
		),
	)
	defer span.End()

	in := &frame{payload: payload}
	out := &frame{}

	start := time.Now()
	err = conn.Invoke(ctx, method, in, out, grpc.ForceCodec(rawCodec{}))
	latency := time.Since(start)

	h.collector.Record(h.name, latency, err)

	if err != nil {
		h.breaker.RecordFailure(gen)
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())

		if isTransportFailure(err) {
			go func() { _ = h.pool.Replace(slot) }()
		}

		h.logger.Warn("backend call failed",
			zap.String("backend", h.name),
			zap.String("method", method),
			zap.Int("slot", slot),
			zap.Duration("latency", latency),
			zap.Error(err),
		)
		return nil, err
	}

	h.breaker.RecordSuccess(gen)
	return out.payload, nil
}

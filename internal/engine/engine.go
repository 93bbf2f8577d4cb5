package engine

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/diarystore/internal/schema"
	"github.com/roach88/diarystore/internal/store"
)

// Engine is the entry point for every operation on the record store.
//
// Each operation receives the caller's authenticated ActorContext. Writes are
// validated against the payload rules and the actor's write scope before the
// store opens its append transaction. Reads pass every row through
// access.Filter before returning it.
//
// Thread-safety: Engine holds no mutable state of its own and is safe for
// concurrent use. Concurrent appends are serialized by the store.
type Engine struct {
	store   *store.Store
	rules   *schema.Rules
	clock   store.Clock
	ids     IDGenerator
	log     *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithRules sets the payload rules checked on every append.
// Default: schema.Default().
func WithRules(r *schema.Rules) EngineOption {
	return func(e *Engine) {
		e.rules = r
	}
}

// WithClock sets the source of annotation timestamps. Server timestamps of
// events come from the store's clock; pass the same clock to both.
func WithClock(c store.Clock) EngineOption {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithIDGenerator sets the source of annotation ids.
// Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) EngineOption {
	return func(e *Engine) {
		e.ids = g
	}
}

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.log = l
	}
}

// WithMetrics sets the Prometheus collectors.
// Default: unregistered collectors.
func WithMetrics(m *Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithRegisterer creates the engine's collectors and registers them with reg.
func WithRegisterer(reg prometheus.Registerer) EngineOption {
	return func(e *Engine) {
		e.metrics = NewMetrics(reg)
	}
}

// WithTracer sets the OpenTelemetry tracer.
// Default: the global tracer provider's tracer for this package.
func WithTracer(t trace.Tracer) EngineOption {
	return func(e *Engine) {
		e.tracer = t
	}
}

// New creates an Engine over s.
//
// The store is owned by the caller, who closes it after the engine is no
// longer used.
func New(s *store.Store, opts ...EngineOption) *Engine {
	e := &Engine{
		store: s,
		rules: schema.Default(),
		clock: NewClock(),
		ids:   UUIDv7Generator{},
		log:   slog.Default(),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.metrics == nil {
		e.metrics = NewMetrics(nil)
	}
	if e.tracer == nil {
		e.tracer = defaultTracer()
	}
	return e
}

// Store returns the underlying store.
func (e *Engine) Store() *store.Store {
	return e.store
}

// Rules returns the payload rules in effect.
func (e *Engine) Rules() *schema.Rules {
	return e.rules
}

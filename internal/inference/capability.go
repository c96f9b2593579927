package inference

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wolfman30/safeguard/pkg/logging"
)

// ErrUnavailable indicates the engine is absent or not ready.
var ErrUnavailable = errors.New("inference: capability unavailable")

const defaultTimeout = 30 * time.Second

// Capability is either Available(engine) or Unavailable(reason).
type Capability struct {
	engine Engine
	reason string
}

// Available wraps a usable engine. A nil engine yields an unavailable capability.
func Available(engine Engine) Capability {
	if engine == nil {
		return Unavailable("no engine configured")
	}
	return Capability{engine: engine}
}

// Unavailable records why no engine can be used.
func Unavailable(reason string) Capability {
	if reason == "" {
		reason = "unavailable"
	}
	return Capability{reason: reason}
}

// Engine returns the wrapped engine if available.
func (c Capability) Engine() (Engine, bool) {
	return c.engine, c.engine != nil
}

// Reason explains an unavailable capability.
func (c Capability) Reason() string {
	return c.reason
}

// Observer receives the outcome of every gated call.
type Observer func(stage string, elapsed time.Duration, err error)

// Gate checks capability readiness before each call and bounds wait time.
type Gate struct {
	capability Capability
	timeout    time.Duration
	observer   Observer
	logger     *logging.Logger
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithTimeout overrides the per-call timeout.
func WithTimeout(d time.Duration) GateOption {
	return func(g *Gate) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithObserver registers a latency/outcome callback.
func WithObserver(o Observer) GateOption {
	return func(g *Gate) {
		g.observer = o
	}
}

// NewGate builds a gate around a capability.
func NewGate(capability Capability, logger *logging.Logger, opts ...GateOption) *Gate {
	if logger == nil {
		logger = logging.Default()
	}
	g := &Gate{
		capability: capability,
		timeout:    defaultTimeout,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Check returns nil when the engine can be called right now.
func (g *Gate) Check(ctx context.Context) error {
	if g == nil {
		return ErrUnavailable
	}
	engine, ok := g.capability.Engine()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnavailable, g.capability.Reason())
	}
	if prober, ok := engine.(Prober); ok {
		if err := prober.Ready(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return nil
}

// Available reports readiness as a bool, for status endpoints.
func (g *Gate) Available(ctx context.Context) bool {
	return g.Check(ctx) == nil
}

// SupportsTools reports whether helpers can be registered as callables.
func (g *Gate) SupportsTools() bool {
	if g == nil {
		return false
	}
	engine, ok := g.capability.Engine()
	return ok && engine.SupportsTools()
}

// Infer runs a text call for the named pipeline stage.
func (g *Gate) Infer(ctx context.Context, stage string, req PromptSpec, tools []Tool) (string, error) {
	return g.call(ctx, stage, func(ctx context.Context, engine Engine) (string, error) {
		if !engine.SupportsTools() {
			tools = nil
		}
		return engine.Infer(ctx, req, tools)
	})
}

// DescribeImage runs a multimodal call for the named pipeline stage.
func (g *Gate) DescribeImage(ctx context.Context, stage string, req PromptSpec, image Image) (string, error) {
	return g.call(ctx, stage, func(ctx context.Context, engine Engine) (string, error) {
		return engine.DescribeImage(ctx, req, image)
	})
}

func (g *Gate) call(ctx context.Context, stage string, fn func(context.Context, Engine) (string, error)) (string, error) {
	if err := g.Check(ctx); err != nil {
		g.observe(stage, 0, err)
		return "", err
	}
	engine, _ := g.capability.Engine()

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	text, err := fn(callCtx, engine)
	elapsed := time.Since(start)
	if err == nil && callCtx.Err() != nil {
		err = callCtx.Err()
	}
	if err != nil {
		g.logger.Warn("inference call failed", "stage", stage, "error", err, "duration_ms", elapsed.Milliseconds())
	}
	g.observe(stage, elapsed, err)
	return text, err
}

func (g *Gate) observe(stage string, elapsed time.Duration, err error) {
	if g != nil && g.observer != nil {
		g.observer(stage, elapsed, err)
	}
}

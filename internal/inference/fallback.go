package inference

import (
	"context"
	"errors"

	"github.com/wolfman30/safeguard/pkg/logging"
)

// FallbackEngine tries the primary engine first and falls back to the
// secondary on error.
type FallbackEngine struct {
	primary  Engine
	fallback Engine
	logger   *logging.Logger
}

func NewFallbackEngine(primary, fallback Engine, logger *logging.Logger) *FallbackEngine {
	if logger == nil {
		logger = logging.Default()
	}
	return &FallbackEngine{primary: primary, fallback: fallback, logger: logger}
}

// SupportsTools requires both sides to support tools so a fallback never
// silently drops the coordinator's helpers.
func (f *FallbackEngine) SupportsTools() bool {
	if f.primary == nil || !f.primary.SupportsTools() {
		return false
	}
	return f.fallback == nil || f.fallback.SupportsTools()
}

// Ready succeeds when either side is ready.
func (f *FallbackEngine) Ready(ctx context.Context) error {
	primaryErr := probe(ctx, f.primary)
	if primaryErr == nil {
		return nil
	}
	if f.fallback == nil {
		return primaryErr
	}
	if err := probe(ctx, f.fallback); err != nil {
		return errors.Join(primaryErr, err)
	}
	return nil
}

func (f *FallbackEngine) Infer(ctx context.Context, req PromptSpec, tools []Tool) (string, error) {
	if f.primary != nil {
		text, err := f.primary.Infer(ctx, req, tools)
		if err == nil {
			return text, nil
		}
		if f.fallback == nil || ctx.Err() != nil {
			return "", err
		}
		f.logger.Warn("primary inference failed, using fallback", "error", err)
	}
	if f.fallback == nil {
		return "", ErrUnavailable
	}
	return f.fallback.Infer(ctx, req, tools)
}

func (f *FallbackEngine) DescribeImage(ctx context.Context, req PromptSpec, image Image) (string, error) {
	if f.primary != nil {
		text, err := f.primary.DescribeImage(ctx, req, image)
		if err == nil {
			return text, nil
		}
		if f.fallback == nil || ctx.Err() != nil {
			return "", err
		}
		f.logger.Warn("primary image inference failed, using fallback", "error", err)
	}
	if f.fallback == nil {
		return "", ErrUnavailable
	}
	return f.fallback.DescribeImage(ctx, req, image)
}

func probe(ctx context.Context, e Engine) error {
	if e == nil {
		return ErrUnavailable
	}
	if p, ok := e.(Prober); ok {
		return p.Ready(ctx)
	}
	return nil
}

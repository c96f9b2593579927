// Package inferencetest provides a scripted inference engine for tests.
package inferencetest

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/wolfman30/safeguard/internal/inference"
)

// Responder produces the reply for one call. tools is nil for image calls.
type Responder func(ctx context.Context, req inference.PromptSpec, tools []inference.Tool) (string, error)

// Engine routes calls to responders keyed by a substring of the prompt.
// The first matching key wins; Default handles everything else.
type Engine struct {
	mu       sync.Mutex
	routes   []route
	Default  Responder
	Tools    bool
	NotReady error
	calls    []inference.PromptSpec
}

type route struct {
	match string
	fn    Responder
}

// New returns an engine that errors on unmatched prompts.
func New() *Engine {
	return &Engine{
		Default: func(context.Context, inference.PromptSpec, []inference.Tool) (string, error) {
			return "", errors.New("inferencetest: no scripted response")
		},
	}
}

// On registers a responder for prompts containing match.
func (e *Engine) On(match string, fn Responder) *Engine {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.routes = append(e.routes, route{match: match, fn: fn})
	return e
}

// Reply registers a fixed text reply.
func (e *Engine) Reply(match, text string) *Engine {
	return e.On(match, func(context.Context, inference.PromptSpec, []inference.Tool) (string, error) {
		return text, nil
	})
}

// Fail registers a fixed error.
func (e *Engine) Fail(match string, err error) *Engine {
	return e.On(match, func(context.Context, inference.PromptSpec, []inference.Tool) (string, error) {
		return "", err
	})
}

// Calls returns every prompt seen so far.
func (e *Engine) Calls() []inference.PromptSpec {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]inference.PromptSpec(nil), e.calls...)
}

func (e *Engine) SupportsTools() bool { return e.Tools }

func (e *Engine) Ready(context.Context) error { return e.NotReady }

func (e *Engine) Infer(ctx context.Context, req inference.PromptSpec, tools []inference.Tool) (string, error) {
	return e.dispatch(ctx, req, tools)
}

func (e *Engine) DescribeImage(ctx context.Context, req inference.PromptSpec, _ inference.Image) (string, error) {
	return e.dispatch(ctx, req, nil)
}

func (e *Engine) dispatch(ctx context.Context, req inference.PromptSpec, tools []inference.Tool) (string, error) {
	e.mu.Lock()
	e.calls = append(e.calls, req)
	fn := e.Default
	for _, r := range e.routes {
		if strings.Contains(req.Prompt, r.match) {
			fn = r.fn
			break
		}
	}
	e.mu.Unlock()
	return fn(ctx, req, tools)
}

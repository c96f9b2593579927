// Package inference is the boundary to the external language/vision engine.
//
// The pipeline never talks to a provider SDK directly. It asks a Gate, which
// checks the Capability, bounds the call with a timeout and reports latency.
// Engines return free-form text; callers parse it defensively with
// ExtractObject.
package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// PromptSpec is a provider-neutral prompt.
type PromptSpec struct {
	System      []string
	Prompt      string
	MaxTokens   int32
	Temperature float32
}

// ParamType is the JSON schema type of a tool parameter.
type ParamType string

const (
	ParamString ParamType = "string"
	ParamNumber ParamType = "number"
)

// ToolParam describes one named tool argument.
type ToolParam struct {
	Name        string
	Type        ParamType
	Description string
	Required    bool
}

// ToolFunc executes a registered helper. The returned string is handed back
// to the engine verbatim (usually JSON).
type ToolFunc func(ctx context.Context, args map[string]any) (string, error)

// Tool is a caller-registered callable the engine may invoke before it
// produces its final text.
type Tool struct {
	Name        string
	Description string
	Params      []ToolParam
	Execute     ToolFunc
}

// Image is an inline image payload. Bytes are never persisted.
type Image struct {
	Data     []byte
	MIMEType string
}

// Format returns the short image format name ("png", "jpeg", ...).
func (i Image) Format() string {
	mime := strings.ToLower(strings.TrimSpace(i.MIMEType))
	switch {
	case strings.HasSuffix(mime, "png"):
		return "png"
	case strings.HasSuffix(mime, "gif"):
		return "gif"
	case strings.HasSuffix(mime, "webp"):
		return "webp"
	default:
		return "jpeg"
	}
}

// Engine is the external inference capability.
type Engine interface {
	Infer(ctx context.Context, req PromptSpec, tools []Tool) (string, error)
	DescribeImage(ctx context.Context, req PromptSpec, image Image) (string, error)
	SupportsTools() bool
}

// Prober is implemented by engines that can report readiness cheaply.
type Prober interface {
	Ready(ctx context.Context) error
}

const maxToolRounds = 4

type toolIndex map[string]Tool

func indexTools(tools []Tool) toolIndex {
	idx := make(toolIndex, len(tools))
	for _, t := range tools {
		idx[t.Name] = t
	}
	return idx
}

// run executes a tool by name. Errors are returned as JSON text so the engine
// can keep going; a failing helper must not abort the analysis.
func (idx toolIndex) run(ctx context.Context, name string, args map[string]any) (string, bool) {
	tool, ok := idx[name]
	if !ok || tool.Execute == nil {
		return fmt.Sprintf(`{"error":"unknown tool %q"}`, name), false
	}
	out, err := tool.Execute(ctx, args)
	if err != nil {
		payload, _ := json.Marshal(map[string]string{"error": err.Error()})
		return string(payload), false
	}
	return out, true
}

// StringArg reads a string argument, tolerating non-string values.
func StringArg(args map[string]any, name string) string {
	v, ok := args[name]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

// NumberArg reads a numeric argument. Engines and SDK documents hand back
// float64, json.Number-like values or numeric strings.
func NumberArg(args map[string]any, name string) float64 {
	v, ok := args[name]
	if !ok || v == nil {
		return 0
	}
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case interface{ Float64() (float64, error) }:
		f, _ := t.Float64()
		return f
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f
	default:
		return 0
	}
}

package inference

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiEngine implements Engine using Google's Gemini API.
type GeminiEngine struct {
	client  *genai.Client
	modelID string
}

// NewGeminiEngine creates a new Gemini engine.
func NewGeminiEngine(ctx context.Context, apiKey, modelID string) (*GeminiEngine, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("inference: gemini api key is required")
	}
	if strings.TrimSpace(modelID) == "" {
		modelID = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("inference: failed to create gemini client: %w", err)
	}
	return &GeminiEngine{client: client, modelID: modelID}, nil
}

func (e *GeminiEngine) SupportsTools() bool { return true }

func (e *GeminiEngine) Ready(context.Context) error {
	if e == nil || e.client == nil {
		return errors.New("gemini client not initialised")
	}
	return nil
}

func (e *GeminiEngine) model(req PromptSpec) *genai.GenerativeModel {
	model := e.client.GenerativeModel(e.modelID)
	if req.Temperature >= 0 {
		model.SetTemperature(req.Temperature)
	}
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(req.MaxTokens)
	}
	if systemText := strings.TrimSpace(strings.Join(req.System, "\n\n")); systemText != "" {
		model.SystemInstruction = genai.NewUserContent(genai.Text(systemText))
	}
	return model
}

// Infer sends the prompt and answers function calls until Gemini replies with
// plain text.
func (e *GeminiEngine) Infer(ctx context.Context, req PromptSpec, tools []Tool) (string, error) {
	model := e.model(req)
	if len(tools) > 0 {
		model.Tools = []*genai.Tool{{FunctionDeclarations: geminiDeclarations(tools)}}
	}
	idx := indexTools(tools)

	cs := model.StartChat()
	resp, err := cs.SendMessage(ctx, genai.Text(req.Prompt))
	if err != nil {
		return "", fmt.Errorf("inference: gemini completion failed: %w", err)
	}

	for round := 0; round <= maxToolRounds; round++ {
		calls, text, err := geminiParts(resp)
		if err != nil {
			return "", err
		}
		if len(calls) == 0 || len(tools) == 0 {
			if text == "" {
				return "", errors.New("inference: gemini returned empty content")
			}
			return text, nil
		}

		replies := make([]genai.Part, 0, len(calls))
		for _, call := range calls {
			out, _ := idx.run(ctx, call.Name, call.Args)
			replies = append(replies, genai.FunctionResponse{
				Name:     call.Name,
				Response: map[string]any{"result": out},
			})
		}
		resp, err = cs.SendMessage(ctx, replies...)
		if err != nil {
			return "", fmt.Errorf("inference: gemini tool reply failed: %w", err)
		}
	}
	return "", fmt.Errorf("inference: gemini tool loop exceeded %d rounds", maxToolRounds)
}

func (e *GeminiEngine) DescribeImage(ctx context.Context, req PromptSpec, image Image) (string, error) {
	if len(image.Data) == 0 {
		return "", errors.New("inference: image payload is empty")
	}
	resp, err := e.model(req).GenerateContent(ctx, genai.ImageData(image.Format(), image.Data), genai.Text(req.Prompt))
	if err != nil {
		return "", fmt.Errorf("inference: gemini image request failed: %w", err)
	}
	_, text, err := geminiParts(resp)
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", errors.New("inference: gemini returned empty content")
	}
	return text, nil
}

// Close releases resources held by the Gemini client.
func (e *GeminiEngine) Close() error {
	if e.client != nil {
		return e.client.Close()
	}
	return nil
}

func geminiParts(resp *genai.GenerateContentResponse) ([]genai.FunctionCall, string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, "", errors.New("inference: gemini returned no candidates")
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil {
		return nil, "", errors.New("inference: gemini returned empty content")
	}
	var calls []genai.FunctionCall
	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		switch p := part.(type) {
		case genai.Text:
			text.WriteString(string(p))
		case genai.FunctionCall:
			calls = append(calls, p)
		case *genai.FunctionCall:
			calls = append(calls, *p)
		}
	}
	return calls, strings.TrimSpace(text.String()), nil
}

func geminiDeclarations(tools []Tool) []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		props := make(map[string]*genai.Schema, len(t.Params))
		var required []string
		for _, p := range t.Params {
			typ := genai.TypeString
			if p.Type == ParamNumber {
				typ = genai.TypeNumber
			}
			props[p.Name] = &genai.Schema{Type: typ, Description: p.Description}
			if p.Required {
				required = append(required, p.Name)
			}
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters: &genai.Schema{
				Type:       genai.TypeObject,
				Properties: props,
				Required:   required,
			},
		})
	}
	return decls
}

package inference

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

type bedrockConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockEngine implements Engine with the Bedrock Converse API.
type BedrockEngine struct {
	api     bedrockConverseAPI
	modelID string
}

func NewBedrockEngine(api bedrockConverseAPI, modelID string) *BedrockEngine {
	if api == nil {
		panic("inference: bedrock converse client cannot be nil")
	}
	return &BedrockEngine{api: api, modelID: strings.TrimSpace(modelID)}
}

func (e *BedrockEngine) SupportsTools() bool { return true }

// Ready fails fast when no model is configured.
func (e *BedrockEngine) Ready(context.Context) error {
	if e.modelID == "" {
		return errors.New("bedrock model id is required")
	}
	return nil
}

// Infer runs a Converse loop, answering tool_use turns until the model
// produces a final text response.
func (e *BedrockEngine) Infer(ctx context.Context, req PromptSpec, tools []Tool) (string, error) {
	messages := []brtypes.Message{{
		Role:    brtypes.ConversationRoleUser,
		Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: req.Prompt}},
	}}
	input := e.baseInput(req)
	if len(tools) > 0 {
		input.ToolConfig = bedrockToolConfig(tools)
	}
	idx := indexTools(tools)

	for round := 0; round <= maxToolRounds; round++ {
		input.Messages = messages
		out, err := e.api.Converse(ctx, input)
		if err != nil {
			return "", err
		}
		msgOut, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
		if !ok {
			return "", errors.New("inference: bedrock response did not include a message output")
		}
		if out.StopReason != brtypes.StopReasonToolUse || len(tools) == 0 {
			return bedrockText(msgOut.Value)
		}

		messages = append(messages, msgOut.Value)
		results := make([]brtypes.ContentBlock, 0, 1)
		for _, block := range msgOut.Value.Content {
			use, ok := block.(*brtypes.ContentBlockMemberToolUse)
			if !ok {
				continue
			}
			args := map[string]any{}
			if use.Value.Input != nil {
				_ = use.Value.Input.UnmarshalSmithyDocument(&args)
			}
			text, success := idx.run(ctx, aws.ToString(use.Value.Name), args)
			status := brtypes.ToolResultStatusSuccess
			if !success {
				status = brtypes.ToolResultStatusError
			}
			results = append(results, &brtypes.ContentBlockMemberToolResult{Value: brtypes.ToolResultBlock{
				ToolUseId: use.Value.ToolUseId,
				Status:    status,
				Content:   []brtypes.ToolResultContentBlock{&brtypes.ToolResultContentBlockMemberText{Value: text}},
			}})
		}
		if len(results) == 0 {
			return bedrockText(msgOut.Value)
		}
		messages = append(messages, brtypes.Message{Role: brtypes.ConversationRoleUser, Content: results})
	}
	return "", fmt.Errorf("inference: bedrock tool loop exceeded %d rounds", maxToolRounds)
}

func (e *BedrockEngine) DescribeImage(ctx context.Context, req PromptSpec, image Image) (string, error) {
	if len(image.Data) == 0 {
		return "", errors.New("inference: image payload is empty")
	}
	input := e.baseInput(req)
	input.Messages = []brtypes.Message{{
		Role: brtypes.ConversationRoleUser,
		Content: []brtypes.ContentBlock{
			&brtypes.ContentBlockMemberImage{Value: brtypes.ImageBlock{
				Format: brtypes.ImageFormat(image.Format()),
				Source: &brtypes.ImageSourceMemberBytes{Value: image.Data},
			}},
			&brtypes.ContentBlockMemberText{Value: req.Prompt},
		},
	}}
	out, err := e.api.Converse(ctx, input)
	if err != nil {
		return "", err
	}
	msgOut, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return "", errors.New("inference: bedrock response did not include a message output")
	}
	return bedrockText(msgOut.Value)
}

func (e *BedrockEngine) baseInput(req PromptSpec) *bedrockruntime.ConverseInput {
	systemBlocks := make([]brtypes.SystemContentBlock, 0, len(req.System))
	for _, block := range req.System {
		if strings.TrimSpace(block) == "" {
			continue
		}
		systemBlocks = append(systemBlocks, &brtypes.SystemContentBlockMemberText{Value: block})
	}

	cfg := &brtypes.InferenceConfiguration{}
	if req.MaxTokens > 0 {
		cfg.MaxTokens = aws.Int32(req.MaxTokens)
	}
	if req.Temperature >= 0 {
		cfg.Temperature = aws.Float32(req.Temperature)
	}

	return &bedrockruntime.ConverseInput{
		ModelId:         aws.String(e.modelID),
		System:          systemBlocks,
		InferenceConfig: cfg,
	}
}

func bedrockToolConfig(tools []Tool) *brtypes.ToolConfiguration {
	specs := make([]brtypes.Tool, 0, len(tools))
	for _, t := range tools {
		specs = append(specs, &brtypes.ToolMemberToolSpec{Value: brtypes.ToolSpecification{
			Name:        aws.String(t.Name),
			Description: aws.String(t.Description),
			InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(jsonSchema(t.Params))},
		}})
	}
	return &brtypes.ToolConfiguration{Tools: specs}
}

func jsonSchema(params []ToolParam) map[string]any {
	props := make(map[string]any, len(params))
	required := make([]string, 0, len(params))
	for _, p := range params {
		props[p.Name] = map[string]any{
			"type":        string(p.Type),
			"description": p.Description,
		}
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

func bedrockText(msg brtypes.Message) (string, error) {
	var builder strings.Builder
	for _, block := range msg.Content {
		if textBlock, ok := block.(*brtypes.ContentBlockMemberText); ok {
			builder.WriteString(textBlock.Value)
		}
	}
	out := strings.TrimSpace(builder.String())
	if out == "" {
		return "", errors.New("inference: bedrock response contained no text content blocks")
	}
	return out, nil
}

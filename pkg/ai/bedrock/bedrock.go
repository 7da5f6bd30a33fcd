// Package bedrock implements ai.ModelStreamer for Amazon Bedrock's
// ConverseStream API.
//
// Authentication is handled by the AWS SDK v2 credential chain:
//  1. AWS_ACCESS_KEY_ID + AWS_SECRET_ACCESS_KEY (+ optional AWS_SESSION_TOKEN)
//  2. AWS_PROFILE — named profile from ~/.aws/credentials
//  3. ~/.aws/credentials default profile
//  4. IAM instance roles / ECS task roles / IRSA
//
// Configure in delegate.yaml:
//
//	backend: bedrock
//	model:   us.anthropic.claude-sonnet-4-20250514-v1:0
//	region:  us-east-1      # optional; falls back to AWS_DEFAULT_REGION
package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brdoc "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/delegate-dev/delegate/pkg/ai"
)

// Client is the Amazon Bedrock streaming backend.
type Client struct {
	Region  string
	Profile string
}

func New(region, profile string) *Client {
	return &Client{Region: region, Profile: profile}
}

func (c *Client) Name() string { return "bedrock" }

// ---------------------------------------------------------------------------
// Stream
// ---------------------------------------------------------------------------

func (c *Client) StreamGenerate(
	ctx context.Context,
	model string,
	req ai.GenerateRequest,
) (<-chan ai.StreamChunk, func() (*ai.GenerateResult, error)) {
	chunks := make(chan ai.StreamChunk, 64)
	var result *ai.GenerateResult
	var streamErr error
	done := make(chan struct{})

	go func() {
		defer close(chunks)
		defer close(done)
		result, streamErr = c.stream(ctx, model, req, chunks)
	}()

	return chunks, func() (*ai.GenerateResult, error) {
		<-done
		return result, streamErr
	}
}

func (c *Client) stream(
	ctx context.Context,
	model string,
	req ai.GenerateRequest,
	chunks chan<- ai.StreamChunk,
) (*ai.GenerateResult, error) {
	client, err := c.newClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("bedrock: build client: %w", err)
	}

	input, err := buildInput(model, req)
	if err != nil {
		return nil, fmt.Errorf("bedrock: build input: %w", err)
	}

	resp, err := client.ConverseStream(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("bedrock: ConverseStream: %w", err)
	}

	result := &ai.GenerateResult{}

	emit := func(parts ...ai.Part) error {
		select {
		case chunks <- ai.StreamChunk{Parts: parts}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	// blockIndex (from Bedrock) → index in result.Parts
	blockIdx := map[int32]int{}
	// blockIndex → accumulated tool-use args string
	toolArgs := map[int32]string{}

	stream := resp.GetStream()
	defer stream.Close()

	for event := range stream.Events() {
		switch ev := event.(type) {

		// ── ContentBlockStart ──────────────────────────────────────────────
		case *types.ConverseStreamOutputMemberContentBlockStart:
			cbIdx := *ev.Value.ContentBlockIndex
			switch s := ev.Value.Start.(type) {
			case *types.ContentBlockStartMemberToolUse:
				tu := s.Value
				result.Parts = append(result.Parts, ai.FunctionCall{
					ID:   aws.ToString(tu.ToolUseId),
					Name: aws.ToString(tu.Name),
					Args: map[string]any{},
				})
				blockIdx[cbIdx] = len(result.Parts) - 1
			default:
				// Text block start — allocate slot
				result.Parts = append(result.Parts, ai.TextPart{})
				blockIdx[cbIdx] = len(result.Parts) - 1
			}

		// ── ContentBlockDelta ──────────────────────────────────────────────
		case *types.ConverseStreamOutputMemberContentBlockDelta:
			cbIdx := *ev.Value.ContentBlockIndex
			contentIdx, ok := blockIdx[cbIdx]
			if !ok {
				// Some models skip ContentBlockStart for plain text.
				result.Parts = append(result.Parts, ai.TextPart{})
				contentIdx = len(result.Parts) - 1
				blockIdx[cbIdx] = contentIdx
			}
			switch d := ev.Value.Delta.(type) {
			case *types.ContentBlockDeltaMemberText:
				tp := result.Parts[contentIdx].(ai.TextPart)
				tp.Text += d.Value
				result.Parts[contentIdx] = tp
				if err := emit(ai.TextPart{Text: d.Value}); err != nil {
					return nil, err
				}

			case *types.ContentBlockDeltaMemberReasoningContent:
				if rt, ok := d.Value.(*types.ReasoningContentBlockDeltaMemberText); ok {
					tp := result.Parts[contentIdx].(ai.TextPart)
					tp.Text += rt.Value
					tp.Thought = true
					result.Parts[contentIdx] = tp
					if err := emit(ai.TextPart{Text: rt.Value, Thought: true}); err != nil {
						return nil, err
					}
				}

			case *types.ContentBlockDeltaMemberToolUse:
				toolArgs[cbIdx] += aws.ToString(d.Value.Input)
			}

		// ── ContentBlockStop ───────────────────────────────────────────────
		case *types.ConverseStreamOutputMemberContentBlockStop:
			cbIdx := *ev.Value.ContentBlockIndex
			contentIdx, ok := blockIdx[cbIdx]
			if !ok {
				continue
			}
			if fc, isCall := result.Parts[contentIdx].(ai.FunctionCall); isCall {
				if argsStr, exists := toolArgs[cbIdx]; exists && argsStr != "" {
					var args map[string]any
					_ = json.Unmarshal([]byte(argsStr), &args)
					fc.Args = args
					result.Parts[contentIdx] = fc
				}
				// Calls surface only once their arguments are complete.
				if err := emit(fc); err != nil {
					return nil, err
				}
			}

		// ── MessageStop ────────────────────────────────────────────────────
		case *types.ConverseStreamOutputMemberMessageStop:
			result.FinishReason = mapStopReason(ev.Value.StopReason)

		// ── Metadata (usage) ───────────────────────────────────────────────
		case *types.ConverseStreamOutputMemberMetadata:
			if ev.Value.Usage != nil {
				u := ev.Value.Usage
				result.Usage.InputTokens = int(aws.ToInt32(u.InputTokens))
				result.Usage.OutputTokens = int(aws.ToInt32(u.OutputTokens))
				result.Usage.TotalTokens = result.Usage.InputTokens + result.Usage.OutputTokens
			}
		}
	}

	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("bedrock: stream error: %w", err)
	}

	if result.FinishReason == "" {
		result.FinishReason = ai.FinishStop
	}
	if len(ai.CallsOf(result.Parts)) > 0 {
		result.FinishReason = ai.FinishToolUse
	}
	return result, nil
}

// ---------------------------------------------------------------------------
// Client + input building
// ---------------------------------------------------------------------------

func (c *Client) newClient(ctx context.Context) (*bedrockruntime.Client, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if c.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(c.Region))
	}
	if c.Profile != "" {
		loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(c.Profile))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}
	return bedrockruntime.NewFromConfig(cfg), nil
}

func buildInput(model string, req ai.GenerateRequest) (*bedrockruntime.ConverseStreamInput, error) {
	input := &bedrockruntime.ConverseStreamInput{
		ModelId: aws.String(model),
	}

	if req.SystemInstruction != "" {
		input.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: req.SystemInstruction},
		}
	}

	ic := &types.InferenceConfiguration{}
	if req.Params.MaxOutputTokens > 0 {
		v := int32(req.Params.MaxOutputTokens)
		ic.MaxTokens = &v
	}
	if req.Params.Temperature != nil {
		v := float32(*req.Params.Temperature)
		ic.Temperature = &v
	}
	if req.Params.TopP != nil {
		v := float32(*req.Params.TopP)
		ic.TopP = &v
	}
	input.InferenceConfig = ic

	input.Messages = convertMessages(req.Contents)

	if len(req.Tools) > 0 {
		toolList := make([]types.Tool, 0, len(req.Tools))
		for _, t := range req.Tools {
			var schema map[string]any
			_ = json.Unmarshal(t.ParametersJSONSchema, &schema)
			toolList = append(toolList, &types.ToolMemberToolSpec{
				Value: types.ToolSpecification{
					Name:        aws.String(t.Name),
					Description: aws.String(t.Description),
					InputSchema: &types.ToolInputSchemaMemberJson{
						Value: lazyDoc(schema),
					},
				},
			})
		}
		input.ToolConfig = &types.ToolConfiguration{
			Tools:      toolList,
			ToolChoice: &types.ToolChoiceMemberAuto{Value: types.AutoToolChoice{}},
		}
	}

	return input, nil
}

// ---------------------------------------------------------------------------
// Message conversion
// ---------------------------------------------------------------------------

func convertMessages(msgs []ai.Message) []types.Message {
	var out []types.Message
	for _, m := range msgs {
		role := types.ConversationRoleUser
		if m.Role == ai.RoleModel {
			role = types.ConversationRoleAssistant
		}

		var blocks []types.ContentBlock
		for _, p := range m.Parts {
			switch blk := p.(type) {
			case ai.TextPart:
				if blk.Thought || strings.TrimSpace(blk.Text) == "" {
					continue
				}
				blocks = append(blocks, &types.ContentBlockMemberText{Value: blk.Text})

			case ai.FunctionCall:
				blocks = append(blocks, &types.ContentBlockMemberToolUse{
					Value: types.ToolUseBlock{
						ToolUseId: aws.String(blk.ID),
						Name:      aws.String(blk.Name),
						Input:     lazyDoc(blk.Args),
					},
				})

			case ai.FunctionResponse:
				status := types.ToolResultStatusSuccess
				payload := blk.Response
				if blk.Error != "" {
					status = types.ToolResultStatusError
					payload = map[string]any{"error": blk.Error}
				}
				if payload == nil {
					payload = map[string]any{}
				}
				blocks = append(blocks, &types.ContentBlockMemberToolResult{
					Value: types.ToolResultBlock{
						ToolUseId: aws.String(blk.ID),
						Status:    status,
						Content: []types.ToolResultContentBlock{
							&types.ToolResultContentBlockMemberJson{Value: lazyDoc(payload)},
						},
					},
				})
			}
		}
		if len(blocks) == 0 {
			continue
		}

		// Bedrock requires consecutive same-role messages to be merged.
		if len(out) > 0 && out[len(out)-1].Role == role {
			out[len(out)-1].Content = append(out[len(out)-1].Content, blocks...)
			continue
		}
		out = append(out, types.Message{Role: role, Content: blocks})
	}
	return out
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func mapStopReason(r types.StopReason) ai.FinishReason {
	switch r {
	case types.StopReasonEndTurn:
		return ai.FinishStop
	case types.StopReasonMaxTokens:
		return ai.FinishLength
	case types.StopReasonToolUse:
		return ai.FinishToolUse
	default:
		return ai.FinishStop
	}
}

// lazyDoc wraps a map[string]any as a Bedrock document.Interface.
func lazyDoc(m map[string]any) brdoc.Interface {
	return brdoc.NewLazyDocument(m)
}

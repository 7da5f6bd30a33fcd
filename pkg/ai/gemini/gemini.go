// Package gemini implements ai.ModelStreamer for the Gemini API
// (streamGenerateContent via REST/SSE). The API natively emits function-call
// parts and thought-labelled text parts, which is what makes it the engine's
// reference remote backend.
// No Google SDK dependency — pure HTTP + SSE.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/delegate-dev/delegate/pkg/ai"
	"github.com/delegate-dev/delegate/pkg/ai/sse"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Client is the Gemini streaming backend.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// New builds a Client against baseURL (empty = production endpoint).
func New(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		HTTPClient: http.DefaultClient,
	}
}

func (c *Client) Name() string { return "gemini" }

// ---------------------------------------------------------------------------
// Wire types — Gemini REST API
// ---------------------------------------------------------------------------

type wirePart struct {
	Text             string        `json:"text,omitempty"`
	Thought          bool          `json:"thought,omitempty"`
	FunctionCall     *wireFuncCall `json:"functionCall,omitempty"`
	FunctionResponse *wireFuncResp `json:"functionResponse,omitempty"`
}

type wireFuncCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type wireFuncResp struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type wireContent struct {
	Role  string     `json:"role"`
	Parts []wirePart `json:"parts"`
}

type wireTool struct {
	FunctionDeclarations []ai.FunctionDeclaration `json:"functionDeclarations"`
}

type wireGenConfig struct {
	Temperature     *float64         `json:"temperature,omitempty"`
	TopP            *float64         `json:"topP,omitempty"`
	MaxOutputTokens int              `json:"maxOutputTokens,omitempty"`
	ThinkingConfig  *wireThinkConfig `json:"thinkingConfig,omitempty"`
}

type wireThinkConfig struct {
	IncludeThoughts bool `json:"includeThoughts"`
}

type wireSystemInstruction struct {
	Parts []wirePart `json:"parts"`
}

type wireRequest struct {
	SystemInstruction *wireSystemInstruction `json:"systemInstruction,omitempty"`
	Contents          []wireContent          `json:"contents"`
	Tools             []wireTool             `json:"tools,omitempty"`
	GenerationConfig  wireGenConfig          `json:"generationConfig,omitempty"`
}

// SSE response chunk
type wireChunk struct {
	Candidates []struct {
		Content      wireContent `json:"content"`
		FinishReason string      `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		ThoughtsTokenCount   int `json:"thoughtsTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

// ---------------------------------------------------------------------------
// Stream
// ---------------------------------------------------------------------------

// StreamGenerate opens a streaming generation. Chunks surface every wire part
// as it arrives; the wait function returns the aggregated result.
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
	body, err := json.Marshal(buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("gemini: encode request: %w", err)
	}

	// Gemini SSE endpoint: /models/{model}:streamGenerateContent?alt=sse&key={apiKey}
	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s", c.BaseURL, model, c.APIKey)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("gemini: HTTP %d: %s", resp.StatusCode, string(b))
	}

	result := &ai.GenerateResult{}
	callCounter := 0
	reader := sse.NewReader(resp.Body)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		ev, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("gemini: sse read: %w", err)
		}
		if ev.Data == "" || ev.Data == "[DONE]" {
			continue
		}

		var chunk wireChunk
		if err := json.Unmarshal([]byte(ev.Data), &chunk); err != nil {
			continue
		}

		if chunk.UsageMetadata.TotalTokenCount > 0 {
			result.Usage.InputTokens = chunk.UsageMetadata.PromptTokenCount
			result.Usage.OutputTokens = chunk.UsageMetadata.CandidatesTokenCount + chunk.UsageMetadata.ThoughtsTokenCount
			result.Usage.TotalTokens = chunk.UsageMetadata.TotalTokenCount
		}

		if len(chunk.Candidates) == 0 {
			continue
		}

		cand := chunk.Candidates[0]
		finish := ai.FinishReason("")
		if cand.FinishReason != "" {
			finish = mapFinishReason(cand.FinishReason)
			result.FinishReason = finish
		}

		var parts []ai.Part
		for _, wp := range cand.Content.Parts {
			if wp.FunctionCall != nil {
				callCounter++
				id := wp.FunctionCall.ID
				if id == "" {
					id = fmt.Sprintf("%s-%d-%s", wp.FunctionCall.Name, callCounter, uuid.NewString()[:4])
				}
				parts = append(parts, ai.FunctionCall{
					ID:   id,
					Name: wp.FunctionCall.Name,
					Args: wp.FunctionCall.Args,
				})
				continue
			}
			if wp.Text != "" {
				parts = append(parts, ai.TextPart{Text: wp.Text, Thought: wp.Thought})
			}
		}

		if len(parts) == 0 && finish == "" {
			continue
		}
		result.Parts = mergeParts(result.Parts, parts)

		select {
		case chunks <- ai.StreamChunk{Parts: parts, FinishReason: finish}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if result.FinishReason == "" {
		result.FinishReason = ai.FinishStop
	}
	if len(ai.CallsOf(result.Parts)) > 0 {
		result.FinishReason = ai.FinishToolUse
	}
	return result, nil
}

// mergeParts appends new parts, gluing consecutive text parts of the same
// thought-ness together so the aggregate mirrors a non-streaming response.
func mergeParts(acc, parts []ai.Part) []ai.Part {
	for _, p := range parts {
		t, ok := p.(ai.TextPart)
		if ok && len(acc) > 0 {
			if prev, ok := acc[len(acc)-1].(ai.TextPart); ok && prev.Thought == t.Thought {
				prev.Text += t.Text
				acc[len(acc)-1] = prev
				continue
			}
		}
		acc = append(acc, p)
	}
	return acc
}

// ---------------------------------------------------------------------------
// Request building
// ---------------------------------------------------------------------------

func buildRequest(req ai.GenerateRequest) wireRequest {
	out := wireRequest{}

	if req.SystemInstruction != "" {
		out.SystemInstruction = &wireSystemInstruction{
			Parts: []wirePart{{Text: req.SystemInstruction}},
		}
	}

	out.GenerationConfig.Temperature = req.Params.Temperature
	out.GenerationConfig.TopP = req.Params.TopP
	if req.Params.MaxOutputTokens > 0 {
		out.GenerationConfig.MaxOutputTokens = req.Params.MaxOutputTokens
	}
	out.GenerationConfig.ThinkingConfig = &wireThinkConfig{IncludeThoughts: true}

	for _, m := range req.Contents {
		if wc := convertMessage(m); wc != nil {
			out.Contents = append(out.Contents, *wc)
		}
	}

	if len(req.Tools) > 0 {
		out.Tools = []wireTool{{FunctionDeclarations: req.Tools}}
	}

	return out
}

func convertMessage(m ai.Message) *wireContent {
	role := "user"
	if m.Role == ai.RoleModel {
		role = "model"
	}

	var parts []wirePart
	for _, p := range m.Parts {
		switch blk := p.(type) {
		case ai.TextPart:
			if strings.TrimSpace(blk.Text) == "" {
				continue
			}
			parts = append(parts, wirePart{Text: blk.Text, Thought: blk.Thought})
		case ai.FunctionCall:
			parts = append(parts, wirePart{FunctionCall: &wireFuncCall{
				ID: blk.ID, Name: blk.Name, Args: blk.Args,
			}})
		case ai.FunctionResponse:
			resp := blk.Response
			if blk.Error != "" {
				resp = map[string]any{"error": blk.Error}
			}
			if resp == nil {
				resp = map[string]any{}
			}
			parts = append(parts, wirePart{FunctionResponse: &wireFuncResp{
				ID: blk.ID, Name: blk.Name, Response: resp,
			}})
		}
	}

	if len(parts) == 0 {
		return nil
	}
	return &wireContent{Role: role, Parts: parts}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func mapFinishReason(r string) ai.FinishReason {
	switch r {
	case "STOP":
		return ai.FinishStop
	case "MAX_TOKENS":
		return ai.FinishLength
	case "TOOL_CODE", "FUNCTION_CALL":
		return ai.FinishToolUse
	default:
		return ai.FinishStop
	}
}

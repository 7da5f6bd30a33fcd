// Package local implements ai.ModelStreamer for an Ollama-compatible local
// model server (/api/chat, NDJSON streaming).
//
// Local models carry no native function-calling surface here: tool
// declarations are rendered into the prompt by the chat layer and calls are
// parsed back out of plain text, so this transport deliberately never sends
// a tools block. Thinking traces map to thought parts when the model emits
// them.
package local

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/delegate-dev/delegate/pkg/ai"
)

const defaultBaseURL = "http://localhost:11434"

// Client is the local model streaming backend.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// New builds a Client against baseURL (empty = localhost Ollama default).
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		HTTPClient: http.DefaultClient,
	}
}

func (c *Client) Name() string { return "local" }

// ---------------------------------------------------------------------------
// Wire types — Ollama /api/chat
// ---------------------------------------------------------------------------

type wireMessage struct {
	Role     string `json:"role"`
	Content  string `json:"content"`
	Thinking string `json:"thinking,omitempty"`
}

type wireOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
}

type wireRequest struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  *wireOptions  `json:"options,omitempty"`
}

type wireChunk struct {
	Model           string      `json:"model"`
	Message         wireMessage `json:"message"`
	Done            bool        `json:"done"`
	DoneReason      string      `json:"done_reason,omitempty"`
	PromptEvalCount int         `json:"prompt_eval_count"`
	EvalCount       int         `json:"eval_count"`
	Error           string      `json:"error,omitempty"`
}

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
	body, err := json.Marshal(buildRequest(model, req))
	if err != nil {
		return nil, fmt.Errorf("local: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/chat", bytes.NewReader(body))
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
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(b, &apiErr) == nil && apiErr.Error != "" {
			return nil, fmt.Errorf("local: %s", apiErr.Error)
		}
		return nil, fmt.Errorf("local: HTTP %d: %s", resp.StatusCode, string(b))
	}

	result := &ai.GenerateResult{}
	var text, thinking strings.Builder

	reader := bufio.NewReader(resp.Body)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		line, err := reader.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			var chunk wireChunk
			if jsonErr := json.Unmarshal(bytes.TrimSpace(line), &chunk); jsonErr == nil {
				if chunk.Error != "" {
					return nil, fmt.Errorf("local: %s", chunk.Error)
				}

				var parts []ai.Part
				if chunk.Message.Thinking != "" {
					thinking.WriteString(chunk.Message.Thinking)
					parts = append(parts, ai.TextPart{Text: chunk.Message.Thinking, Thought: true})
				}
				if chunk.Message.Content != "" {
					text.WriteString(chunk.Message.Content)
					parts = append(parts, ai.TextPart{Text: chunk.Message.Content})
				}
				if len(parts) > 0 {
					select {
					case chunks <- ai.StreamChunk{Parts: parts}:
					case <-ctx.Done():
						return nil, ctx.Err()
					}
				}

				if chunk.Done {
					result.Usage.InputTokens = chunk.PromptEvalCount
					result.Usage.OutputTokens = chunk.EvalCount
					result.Usage.TotalTokens = chunk.PromptEvalCount + chunk.EvalCount
					if chunk.DoneReason == "length" {
						result.FinishReason = ai.FinishLength
					} else {
						result.FinishReason = ai.FinishStop
					}
					break
				}
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("local: read stream: %w", err)
		}
	}

	if thinking.Len() > 0 {
		result.Parts = append(result.Parts, ai.TextPart{Text: thinking.String(), Thought: true})
	}
	if text.Len() > 0 {
		result.Parts = append(result.Parts, ai.TextPart{Text: text.String()})
	}
	if result.FinishReason == "" {
		result.FinishReason = ai.FinishStop
	}
	return result, nil
}

// ---------------------------------------------------------------------------
// Request building
// ---------------------------------------------------------------------------

func buildRequest(model string, req ai.GenerateRequest) wireRequest {
	out := wireRequest{Model: model, Stream: true}

	if req.SystemInstruction != "" {
		out.Messages = append(out.Messages, wireMessage{Role: "system", Content: req.SystemInstruction})
	}

	for _, m := range req.Contents {
		role := "user"
		if m.Role == ai.RoleModel {
			role = "assistant"
		}

		var content strings.Builder
		for _, p := range m.Parts {
			switch blk := p.(type) {
			case ai.TextPart:
				if blk.Thought {
					continue
				}
				content.WriteString(blk.Text)
			case ai.FunctionCall:
				// Local history should already be flat text; render any
				// structured leftovers so nothing silently disappears.
				args, _ := json.Marshal(blk.Args)
				fmt.Fprintf(&content, "%s(%s)", blk.Name, args)
			case ai.FunctionResponse:
				payload := blk.Response
				if blk.Error != "" {
					payload = map[string]any{"error": blk.Error}
				}
				b, _ := json.Marshal(payload)
				fmt.Fprintf(&content, "Tool %s returned: %s", blk.Name, b)
			}
		}
		if content.Len() == 0 {
			continue
		}
		out.Messages = append(out.Messages, wireMessage{Role: role, Content: content.String()})
	}

	if req.Params.Temperature != nil || req.Params.TopP != nil || req.Params.MaxOutputTokens > 0 {
		out.Options = &wireOptions{
			Temperature: req.Params.Temperature,
			TopP:        req.Params.TopP,
			NumPredict:  req.Params.MaxOutputTokens,
		}
	}

	return out
}

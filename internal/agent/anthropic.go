package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const anthropicBaseURL = "https://api.anthropic.com/v1"

// AnthropicAgent answers through the Messages API with tool_use blocks.
type AnthropicAgent struct {
	opts  Options
	tools *Toolbox
}

// NewAnthropicAgent creates an agent backed by the Anthropic Messages API.
func NewAnthropicAgent(opts Options, tools *Toolbox) *AnthropicAgent {
	return &AnthropicAgent{opts: opts.withDefaults(anthropicBaseURL), tools: tools}
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

type anthropicBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Temperature float64            `json:"temperature"`
	Messages    []anthropicMessage `json:"messages"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
}

type anthropicResponse struct {
	Content    []anthropicBlock `json:"content"`
	StopReason string           `json:"stop_reason"`
}

type anthropicErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Answer runs the tool loop until the model stops without requesting tools.
func (a *AnthropicAgent) Answer(ctx context.Context, prompt string) (string, error) {
	var tools []anthropicTool
	for _, spec := range a.tools.Specs() {
		tools = append(tools, anthropicTool{Name: spec.Name, Description: spec.Description, InputSchema: spec.Parameters})
	}

	messages := []anthropicMessage{
		{Role: "user", Content: []anthropicBlock{{Type: "text", Text: prompt}}},
	}

	for step := 0; step < a.opts.MaxSteps; step++ {
		resp, err := a.complete(ctx, anthropicRequest{
			Model:       a.opts.Model,
			MaxTokens:   a.opts.MaxTokens,
			System:      SystemPrompt,
			Temperature: a.opts.Temperature,
			Messages:    messages,
			Tools:       tools,
		})
		if err != nil {
			return "", err
		}

		var text strings.Builder
		var results []anthropicBlock
		for _, block := range resp.Content {
			switch block.Type {
			case "text":
				text.WriteString(block.Text)
			case "tool_use":
				res, err := a.tools.Call(ctx, block.Name, block.Input)
				if err != nil {
					return "", err
				}
				results = append(results, anthropicBlock{
					Type:      "tool_result",
					ToolUseID: block.ID,
					Content:   res.Content,
					IsError:   res.IsError,
				})
			}
		}

		if len(results) == 0 {
			answer := strings.TrimSpace(text.String())
			if answer == "" {
				return "", ErrEmptyAnswer
			}
			return answer, nil
		}

		messages = append(messages,
			anthropicMessage{Role: "assistant", Content: resp.Content},
			anthropicMessage{Role: "user", Content: results},
		)
		a.opts.Logger.Debug("Anthropic tool round", "step", step+1, "calls", len(results))
	}
	return "", ErrStepLimit
}

func (a *AnthropicAgent) complete(ctx context.Context, reqBody anthropicRequest) (*anthropicResponse, error) {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSuffix(a.opts.BaseURL, "/")+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.opts.APIKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := a.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{Provider: "anthropic", Status: resp.StatusCode, Message: string(respBody)}
		var errResp anthropicErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error.Message != "" {
			apiErr.Type = errResp.Error.Type
			apiErr.Message = errResp.Error.Message
		}
		return nil, apiErr
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if len(apiResp.Content) == 0 {
		return nil, ErrEmptyAnswer
	}
	return &apiResp, nil
}

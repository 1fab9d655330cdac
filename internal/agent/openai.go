package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const openAIBaseURL = "https://api.openai.com/v1"

// OpenAIAgent answers through the Chat Completions API with tool calls.
type OpenAIAgent struct {
	opts   Options
	tools  *Toolbox
	client openai.Client
}

// NewOpenAIAgent creates an agent backed by an OpenAI-compatible endpoint.
func NewOpenAIAgent(opts Options, tools *Toolbox) *OpenAIAgent {
	opts = opts.withDefaults(openAIBaseURL)
	client := openai.NewClient(
		option.WithAPIKey(opts.APIKey),
		option.WithBaseURL(opts.BaseURL),
		option.WithHTTPClient(opts.HTTPClient),
		option.WithMaxRetries(0),
	)
	return &OpenAIAgent{opts: opts, tools: tools, client: client}
}

func (a *OpenAIAgent) toolParams() []openai.ChatCompletionToolParam {
	specs := a.tools.Specs()
	tools := make([]openai.ChatCompletionToolParam, 0, len(specs))
	for _, spec := range specs {
		tools = append(tools, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        spec.Name,
				Description: openai.String(spec.Description),
				Parameters:  openai.FunctionParameters(spec.Parameters),
			},
		})
	}
	return tools
}

// Answer runs the tool loop until the model replies without tool calls.
func (a *OpenAIAgent) Answer(ctx context.Context, prompt string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(a.opts.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(SystemPrompt),
			openai.UserMessage(prompt),
		},
		Tools:               a.toolParams(),
		Temperature:         openai.Float(a.opts.Temperature),
		MaxCompletionTokens: openai.Int(int64(a.opts.MaxTokens)),
	}

	for step := 0; step < a.opts.MaxSteps; step++ {
		completion, err := a.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return "", openAIError(err)
		}
		if len(completion.Choices) == 0 {
			return "", fmt.Errorf("empty response choices")
		}
		msg := completion.Choices[0].Message

		if len(msg.ToolCalls) == 0 {
			if strings.TrimSpace(msg.Content) == "" {
				return "", ErrEmptyAnswer
			}
			return msg.Content, nil
		}

		params.Messages = append(params.Messages, msg.ToParam())
		for _, call := range msg.ToolCalls {
			res, err := a.tools.Call(ctx, call.Function.Name, json.RawMessage(call.Function.Arguments))
			if err != nil {
				return "", err
			}
			content := res.Content
			if res.IsError {
				content = "error: " + content
			}
			params.Messages = append(params.Messages, openai.ToolMessage(content, call.ID))
		}
		a.opts.Logger.Debug("OpenAI tool round", "step", step+1, "calls", len(msg.ToolCalls))
	}
	return "", ErrStepLimit
}

type openAIErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// openAIError converts SDK errors into *APIError so every provider fails the same way.
func openAIError(err error) error {
	var sdkErr *openai.Error
	if !errors.As(err, &sdkErr) {
		return fmt.Errorf("api call: %w", err)
	}
	apiErr := &APIError{Provider: "openai", Status: sdkErr.StatusCode, Type: sdkErr.Type, Message: sdkErr.Message}
	if apiErr.Message == "" {
		raw := sdkErr.RawJSON()
		apiErr.Message = raw
		var wrapped openAIErrorResponse
		if json.Unmarshal([]byte(raw), &wrapped) == nil && wrapped.Error.Message != "" {
			apiErr.Type = wrapped.Error.Type
			apiErr.Message = wrapped.Error.Message
		}
	}
	return apiErr
}

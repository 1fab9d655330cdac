package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiAgent answers through the Gemini API with function calling.
type GeminiAgent struct {
	client *genai.Client
	opts   Options
	tools  *Toolbox
	decls  []*genai.FunctionDeclaration
}

// NewGeminiAgent creates a Gemini API client.
func NewGeminiAgent(ctx context.Context, opts Options, tools *Toolbox) (*GeminiAgent, error) {
	opts = opts.withDefaults("")
	cc := &genai.ClientConfig{
		APIKey:     opts.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: opts.HTTPClient,
	}
	if opts.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: opts.BaseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	var decls []*genai.FunctionDeclaration
	for _, spec := range tools.Specs() {
		params := schemaFromMap(spec.Parameters)
		if params != nil && params.Type == genai.TypeObject && len(params.Properties) == 0 {
			params = nil
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        spec.Name,
			Description: spec.Description,
			Parameters:  params,
		})
	}

	return &GeminiAgent{client: client, opts: opts, tools: tools, decls: decls}, nil
}

// Answer runs the function-calling loop until the model replies with text only.
func (a *GeminiAgent) Answer(ctx context.Context, prompt string) (string, error) {
	temp := float32(a.opts.Temperature)
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(SystemPrompt, genai.RoleUser),
		Temperature:       &temp,
		MaxOutputTokens:   int32(a.opts.MaxTokens),
		Tools:             []*genai.Tool{{FunctionDeclarations: a.decls}},
	}

	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}

	for step := 0; step < a.opts.MaxSteps; step++ {
		res, err := a.client.Models.GenerateContent(ctx, a.opts.Model, contents, cfg)
		if err != nil {
			return "", fmt.Errorf("gemini generate content: %w", err)
		}

		calls := res.FunctionCalls()
		if len(calls) == 0 {
			text := strings.TrimSpace(res.Text())
			if text == "" {
				return "", ErrEmptyAnswer
			}
			return text, nil
		}

		if len(res.Candidates) > 0 && res.Candidates[0].Content != nil {
			contents = append(contents, res.Candidates[0].Content)
		}

		parts := make([]*genai.Part, 0, len(calls))
		for _, call := range calls {
			args, err := json.Marshal(call.Args)
			if err != nil {
				return "", fmt.Errorf("marshal function args: %w", err)
			}
			out, err := a.tools.Call(ctx, call.Name, args)
			if err != nil {
				return "", err
			}
			response := map[string]any{"output": out.Content}
			if out.IsError {
				response = map[string]any{"error": out.Content}
			}
			parts = append(parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
				ID:       call.ID,
				Name:     call.Name,
				Response: response,
			}})
		}
		contents = append(contents, &genai.Content{Role: string(genai.RoleUser), Parts: parts})
		a.opts.Logger.Debug("Gemini tool round", "step", step+1, "calls", len(calls))
	}
	return "", ErrStepLimit
}

// schemaFromMap converts the JSON schema subset used by ToolSpec.
func schemaFromMap(m map[string]any) *genai.Schema {
	if m == nil {
		return nil
	}
	s := &genai.Schema{}
	if t, ok := m["type"].(string); ok {
		s.Type = genai.Type(strings.ToUpper(t))
	}
	if d, ok := m["description"].(string); ok {
		s.Description = d
	}
	if props, ok := m["properties"].(map[string]any); ok && len(props) > 0 {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, p := range props {
			if pm, ok := p.(map[string]any); ok {
				s.Properties[name] = schemaFromMap(pm)
			}
		}
	}
	if req, ok := m["required"].([]string); ok {
		s.Required = req
	}
	if items, ok := m["items"].(map[string]any); ok {
		s.Items = schemaFromMap(items)
	}
	return s
}

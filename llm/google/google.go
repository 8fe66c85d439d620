// Package google adapts Google's generative-ai-go SDK (Gemini) to the
// llm.Model interface.
package google

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/dshills/nl2sql-go/llm"
)

const defaultModel = "gemini-1.5-flash"

// Model calls the Gemini API. Safe for concurrent use. Call Close when the
// model is no longer needed.
type Model struct {
	client *genai.Client
	model  string
}

// New creates a Gemini-backed model. An empty modelName selects a default.
func New(ctx context.Context, apiKey, modelName string) (*Model, error) {
	if modelName == "" {
		modelName = defaultModel
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &Model{client: client, model: modelName}, nil
}

// Close releases the underlying client.
func (m *Model) Close() error {
	if m.client != nil {
		return m.client.Close()
	}
	return nil
}

// Generate implements llm.Model.
func (m *Model) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return llm.Response{}, err
	}

	model := m.client.GenerativeModel(m.model)
	if req.System != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}
	if req.Temperature > 0 {
		model.SetTemperature(float32(req.Temperature))
	}
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	if req.JSONOnly {
		model.ResponseMIMEType = "application/json"
	}

	resp, err := model.GenerateContent(ctx, genai.Text(flatten(req.Messages)))
	if err != nil {
		return llm.Response{}, fmt.Errorf("gemini generation failed: %w", err)
	}

	tokensUsed := 0
	if resp.UsageMetadata != nil {
		tokensUsed = int(resp.UsageMetadata.TotalTokenCount)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return llm.Response{TokensUsed: tokensUsed}, nil
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	return llm.Response{Text: sb.String(), TokensUsed: tokensUsed}, nil
}

// flatten renders the conversation as a single prompt. Gemini's chat API
// wants alternating turns, which a workflow mid-step cannot guarantee, so
// the transcript is inlined instead.
func flatten(messages []llm.Message) string {
	var sb strings.Builder
	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleAssistant:
			sb.WriteString("Assistant: ")
		case llm.RoleSystem:
			sb.WriteString("Instructions: ")
		default:
			sb.WriteString("User: ")
		}
		sb.WriteString(msg.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}

// Package llm suggests a triage priority for an issue using the Anthropic API.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/joescharf/tracker/internal/models"
)

// Triage is a suggested priority with a short justification.
type Triage struct {
	Priority  models.IssuePriority `json:"priority"`
	Rationale string               `json:"rationale"`
}

// Client wraps the Anthropic API for issue triage.
type Client struct {
	api   *anthropic.Client
	model anthropic.Model
}

// NewClient creates an LLM client with the given API key and model.
func NewClient(apiKey, model string) *Client {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)
	return &Client{
		api:   &client,
		model: anthropic.Model(model),
	}
}

// buildTriagePrompt constructs the system and user prompts for triage.
func buildTriagePrompt(title, description string) (system string, user string) {
	system = `You triage issues for a small team's issue tracker. Given an issue's title and description, return a JSON object with exactly two fields:

- "priority": one of "Low", "Medium", "High"
- "rationale": one or two sentences explaining the choice

Rules:
- High: data loss, security problems, outages, or anything blocking most users
- Medium: broken functionality with a workaround, or a clear bug affecting some users
- Low: cosmetic problems, minor improvements, and nice-to-haves
- Return valid JSON only, no markdown fencing or explanation`

	var sb strings.Builder
	sb.WriteString("Issue title: ")
	sb.WriteString(title)
	sb.WriteString("\n")
	if description != "" {
		sb.WriteString("\nDescription:\n")
		sb.WriteString(description)
		sb.WriteString("\n")
	}
	user = sb.String()
	return
}

// stripFence removes a surrounding markdown code fence, if any.
func stripFence(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		lines := strings.SplitN(text, "\n", 2)
		if len(lines) > 1 {
			text = lines[1]
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}
	return text
}

// parseTriage decodes and validates a model response.
func parseTriage(text string) (*Triage, error) {
	text = stripFence(text)

	var t Triage
	if err := json.Unmarshal([]byte(text), &t); err != nil {
		return nil, fmt.Errorf("parse LLM response as JSON: %w\nraw response: %s", err, text)
	}
	if !t.Priority.Valid() {
		return nil, fmt.Errorf("LLM suggested unknown priority %q", t.Priority)
	}
	return &t, nil
}

// SuggestTriage asks the model for a priority for the given issue.
func (c *Client) SuggestTriage(ctx context.Context, title, description string) (*Triage, error) {
	systemPrompt, userPrompt := buildTriagePrompt(title, description)

	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 512,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic API call: %w", err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if text == "" {
		return nil, fmt.Errorf("no text content in API response")
	}

	return parseTriage(text)
}

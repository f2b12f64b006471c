// Package llm obtains triage decisions from an OpenAI-compatible
// chat-completions endpoint and validates them against a JSON schema
// before they reach the applier.
package llm

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/daviddao/mailtriage/internal/config"
	"github.com/daviddao/mailtriage/internal/types"
)

//go:embed triage_decision.schema.json
var decisionSchemaJSON string

// ErrInvalidDecision means the model's output did not validate against the
// decision schema. Callers skip the message and continue.
var ErrInvalidDecision = errors.New("decision failed schema validation")

const (
	defaultTimeout = 90 * time.Second
	maxBodyChars   = 4000
)

// Client calls the configured model and returns validated decisions.
type Client struct {
	baseURL string
	model   string
	apiKey  string
	http    *http.Client
	schema  *jsonschema.Schema
}

// New builds a client, compiling the embedded decision schema.
func New(cfg config.LLM, apiKey string) (*Client, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(decisionSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("parse decision schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("triage_decision.schema.json", doc); err != nil {
		return nil, fmt.Errorf("add decision schema: %w", err)
	}
	schema, err := compiler.Compile("triage_decision.schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile decision schema: %w", err)
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: defaultTimeout},
		schema:  schema,
	}, nil
}

// Decide classifies one message. The returned decision has passed schema
// validation and carries the message's ID.
func (c *Client) Decide(ctx context.Context, msg *types.MessageSnapshot) (*types.TriageDecision, error) {
	content, err := c.complete(ctx, systemPrompt(), userPrompt(msg))
	if err != nil {
		return nil, err
	}

	value, err := jsonschema.UnmarshalJSON(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("%w: not valid JSON: %v", ErrInvalidDecision, err)
	}
	if err := c.schema.Validate(value); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDecision, err)
	}

	var decision types.TriageDecision
	if err := json.Unmarshal([]byte(content), &decision); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDecision, err)
	}
	if decision.ID != msg.ID {
		return nil, fmt.Errorf("%w: decision id %q does not match message %q",
			ErrInvalidDecision, decision.ID, msg.ID)
	}
	return &decision, nil
}

// complete performs a single chat-completions call with JSON output mode.
func (c *Client) complete(ctx context.Context, system, user string) (string, error) {
	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature:    0,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload),
	)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("call model: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("model API error (%d): %s", resp.StatusCode, truncate(string(body), 500))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("model returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

func systemPrompt() string {
	return `You triage email for a busy professional.
You will be given one message as JSON. Output exactly one JSON decision object containing:
- id (must match the message id)
- primary_category (exact string from the list)
- secondary_categories (array, may be empty)
- flag (Today / Tomorrow / This week / Next week / No date / Mark as complete, or null)
- needs_reply (boolean)
- is_marketing (boolean)
- is_informational (boolean)
- mark_complete (boolean)
- mark_possibly_complete (boolean)
- create_task (boolean)
- task_summary (string or null)
- summary (string or null)
- draft_reply_body (string or null)

Categories (exact strings): Urgent, Priority 1, Priority 2, Priority 3, Marketing,
Informational, No reply needed, Complete, Possibly Complete.

Rules:
- Only set mark_complete=true when you are very confident there is no remaining action.
- When in doubt, set mark_possibly_complete=true instead.
- Marketing only for obvious newsletters/promotions.
- Informational for messages that provide info but don't clearly require action; give a one-line summary.
- If needs_reply=true, produce a short draft_reply_body.
- If create_task=true, task_summary must name the concrete follow-up.`
}

func userPrompt(msg *types.MessageSnapshot) string {
	body := msg.Body
	if body == "" {
		body = msg.BodyPreview
	}
	ctxObj := map[string]any{
		"id":          msg.ID,
		"subject":     msg.Subject,
		"from":        map[string]string{"address": msg.From, "name": msg.FromName},
		"received_at": msg.ReceivedAt,
		"categories":  msg.Categories,
		"importance":  msg.Importance,
		"is_read":     msg.IsRead,
		"body":        truncate(body, maxBodyChars),
	}
	b, _ := json.MarshalIndent(ctxObj, "", "  ")
	return "INPUT MESSAGE:\n" + string(b)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

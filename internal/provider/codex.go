package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"tether/internal/oauth"
)

const (
	DefaultCodexBaseURL = "https://chatgpt.com/backend-api"
	DefaultCodexModel   = "gpt-5.1-codex"

	codexDefaultInstructions = "You are a helpful assistant."
)

type codexContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type codexInputItem struct {
	Type    string         `json:"type"`
	Role    Role           `json:"role"`
	Content []codexContent `json:"content"`
}

type codexRequest struct {
	Model        string           `json:"model"`
	Instructions string           `json:"instructions"`
	Input        []codexInputItem `json:"input"`
	Stream       bool             `json:"stream"`
	Store        bool             `json:"store"`
	Include      []string         `json:"include,omitempty"`
	CacheKey     string           `json:"prompt_cache_key,omitempty"`
}

type codexEvent struct {
	Type     string `json:"type"`
	Delta    string `json:"delta"`
	Response struct {
		Model  string `json:"model"`
		Status string `json:"status"`
		Usage  struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
		Error *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	} `json:"response"`
}

// Codex streams from the ChatGPT Codex responses backend. Every request
// has to name the ChatGPT account the token was issued for.
type Codex struct {
	opts options
}

// NewCodex creates the Codex transport.
func NewCodex(opts ...Option) *Codex {
	return &Codex{opts: buildOptions(DefaultCodexBaseURL, DefaultCodexModel, opts)}
}

func (c *Codex) Provider() string {
	return oauth.ProviderOpenAICodex
}

func (c *Codex) Stream(ctx context.Context, req Request, onDelta DeltaFunc) (*Reply, error) {
	if req.Credential != nil && req.Credential.AccountID == "" {
		if id, err := oauth.AccountIDFromToken(req.Credential.AccessToken); err == nil {
			cred := req.Credential.Clone()
			cred.AccountID = id
			req.Credential = cred
		} else {
			return nil, fmt.Errorf("%s: %w: credential has no account id", c.Provider(), ErrUnauthorized)
		}
	}

	payload := codexRequest{
		Model:        firstNonEmpty(req.Model, c.opts.model),
		Instructions: firstNonEmpty(req.System, codexDefaultInstructions),
		Input:        codexInput(req.Messages),
		Stream:       true,
		Store:        false,
		Include:      []string{"reasoning.encrypted_content"},
		CacheKey:     req.SessionID,
	}

	headers := map[string]string{
		"openai-beta": "responses=experimental",
		"originator":  oauth.CodexOriginator,
	}
	if req.Credential != nil {
		headers["chatgpt-account-id"] = req.Credential.AccountID
	}
	if req.SessionID != "" {
		headers["session_id"] = req.SessionID
	}

	body, err := post(ctx, c.opts, c.Provider(), strings.TrimRight(c.opts.baseURL, "/")+"/codex/responses", req, headers, payload)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	reply := &Reply{Model: payload.Model}
	var text strings.Builder
	err = readSSE(ctx, body, func(event, data string) (bool, error) {
		var e codexEvent
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			return false, fmt.Errorf("%s: decoding %s event: %w", c.Provider(), event, err)
		}
		kind := firstNonEmpty(e.Type, event)
		switch kind {
		case "response.output_text.delta":
			text.WriteString(e.Delta)
			return false, deliver(ctx, onDelta, e.Delta)
		case "response.completed", "response.done":
			if e.Response.Model != "" {
				reply.Model = e.Response.Model
			}
			reply.StopReason = firstNonEmpty(e.Response.Status, "completed")
			reply.InputTokens = e.Response.Usage.InputTokens
			reply.OutputTokens = e.Response.Usage.OutputTokens
			return true, nil
		case "response.failed":
			apiErr := &APIError{Provider: c.Provider(), Message: "response failed"}
			if e.Response.Error != nil {
				apiErr.Code, apiErr.Message = e.Response.Error.Code, e.Response.Error.Message
			}
			return false, apiErr
		case "response.error", "error":
			return false, streamError(c.Provider(), data)
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}

	reply.Text = text.String()
	return reply, nil
}

func codexInput(messages []Message) []codexInputItem {
	items := make([]codexInputItem, 0, len(messages))
	for _, m := range messages {
		contentType := "input_text"
		if m.Role == RoleAssistant {
			contentType = "output_text"
		}
		items = append(items, codexInputItem{
			Type:    "message",
			Role:    m.Role,
			Content: []codexContent{{Type: contentType, Text: m.Content}},
		})
	}
	return items
}

package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"tether/internal/oauth"
)

const (
	DefaultAnthropicBaseURL = "https://api.anthropic.com"
	DefaultAnthropicModel   = "claude-sonnet-4-5"

	anthropicVersion = "2023-06-01"
	anthropicBeta    = "oauth-2025-04-20"

	// Subscription tokens are only accepted when the first system block
	// carries this identity.
	anthropicOAuthIdentity = "You are Claude Code, Anthropic's official CLI for Claude."

	defaultMaxTokens = 8192
)

type anthropicSystemBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicRequest struct {
	Model     string                 `json:"model"`
	MaxTokens int                    `json:"max_tokens"`
	Stream    bool                   `json:"stream"`
	System    []anthropicSystemBlock `json:"system,omitempty"`
	Messages  []Message              `json:"messages"`
}

type anthropicDelta struct {
	Type  string `json:"type"`
	Delta struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Message struct {
		Model string `json:"model"`
		Usage struct {
			InputTokens int `json:"input_tokens"`
		} `json:"usage"`
	} `json:"message"`
	Usage struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Anthropic streams from the Messages API with a subscription OAuth token.
type Anthropic struct {
	opts options
}

// NewAnthropic creates the Anthropic transport.
func NewAnthropic(opts ...Option) *Anthropic {
	return &Anthropic{opts: buildOptions(DefaultAnthropicBaseURL, DefaultAnthropicModel, opts)}
}

func (a *Anthropic) Provider() string {
	return oauth.ProviderAnthropic
}

func (a *Anthropic) Stream(ctx context.Context, req Request, onDelta DeltaFunc) (*Reply, error) {
	payload := anthropicRequest{
		Model:     firstNonEmpty(req.Model, a.opts.model),
		MaxTokens: req.MaxTokens,
		Stream:    true,
		System:    anthropicSystem(req.System),
		Messages:  req.Messages,
	}
	if payload.MaxTokens <= 0 {
		payload.MaxTokens = defaultMaxTokens
	}

	body, err := post(ctx, a.opts, a.Provider(), strings.TrimRight(a.opts.baseURL, "/")+"/v1/messages", req, map[string]string{
		"anthropic-version": anthropicVersion,
		"anthropic-beta":    anthropicBeta,
	}, payload)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	reply := &Reply{Model: payload.Model}
	var text strings.Builder
	err = readSSE(ctx, body, func(event, data string) (bool, error) {
		var d anthropicDelta
		if event != "error" {
			if err := json.Unmarshal([]byte(data), &d); err != nil {
				return false, fmt.Errorf("%s: decoding %s event: %w", a.Provider(), event, err)
			}
		}
		switch event {
		case "message_start":
			if d.Message.Model != "" {
				reply.Model = d.Message.Model
			}
			reply.InputTokens = d.Message.Usage.InputTokens
		case "content_block_delta":
			if d.Delta.Type == "text_delta" {
				text.WriteString(d.Delta.Text)
				return false, deliver(ctx, onDelta, d.Delta.Text)
			}
		case "message_delta":
			if d.Delta.StopReason != "" {
				reply.StopReason = d.Delta.StopReason
			}
			if d.Usage.OutputTokens > 0 {
				reply.OutputTokens = d.Usage.OutputTokens
			}
		case "message_stop":
			return true, nil
		case "error":
			return false, streamError(a.Provider(), data)
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}

	reply.Text = text.String()
	if reply.StopReason == "" {
		reply.StopReason = "end_turn"
	}
	return reply, nil
}

func anthropicSystem(system string) []anthropicSystemBlock {
	blocks := []anthropicSystemBlock{{Type: "text", Text: anthropicOAuthIdentity}}
	rest := strings.TrimSpace(strings.TrimPrefix(system, anthropicOAuthIdentity))
	if rest != "" {
		blocks = append(blocks, anthropicSystemBlock{Type: "text", Text: rest})
	}
	return blocks
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

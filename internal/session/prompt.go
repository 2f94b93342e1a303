package session

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

// DefaultSystemPrompt is used when no system prompt is configured.
const DefaultSystemPrompt = `You are a helpful assistant working in {{ .Cwd }}. Today is {{ now | date "2006-01-02" }}.`

// PromptData is what system prompt templates can refer to.
type PromptData struct {
	Cwd       string
	Provider  string
	Model     string
	SessionID string
	Turn      int
}

func parseSystemPrompt(text string) (*template.Template, error) {
	if text == "" {
		text = DefaultSystemPrompt
	}
	tmpl, err := template.New("system").Funcs(sprig.TxtFuncMap()).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("session: parsing system prompt: %w", err)
	}
	return tmpl, nil
}

func (s *Session) renderSystemPrompt(t *turn) (string, error) {
	var buf bytes.Buffer
	err := s.system.Execute(&buf, PromptData{
		Cwd:       s.cfg.Cwd,
		Provider:  s.cfg.Provider,
		Model:     s.cfg.Model,
		SessionID: t.sessionID,
		Turn:      t.number,
	})
	if err != nil {
		return "", fmt.Errorf("rendering system prompt: %w", err)
	}
	return buf.String(), nil
}

package provider

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"tether/internal/oauth"
)

// readSSE calls fn for every data line of a server-sent event stream with
// the most recent event name. ctx is checked before each dispatch so a
// cancelled turn stops at the next chunk.
func readSSE(ctx context.Context, body io.Reader, fn func(event, data string) (done bool, err error)) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 512*1024)

	var currentEvent string
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			currentEvent = ""
			continue
		}
		if strings.HasPrefix(line, "event:") {
			currentEvent = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			return nil
		}
		done, err := fn(currentEvent, data)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: reading event stream: %v", oauth.ErrNetwork, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return fmt.Errorf("%w: event stream ended before completion", oauth.ErrNetwork)
}

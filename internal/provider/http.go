package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"tether/internal/oauth"
	"tether/pkg/logging"
)

const maxErrorBodyBytes = 4096

// post sends payload as JSON with the request's bearer token and returns the
// response body of a successful call.
func post(ctx context.Context, o options, provider, endpoint string, req Request, headers map[string]string, payload any) (io.ReadCloser, error) {
	if req.Credential == nil || req.Credential.AccessToken == "" {
		return nil, fmt.Errorf("%s: %w: no access token", provider, ErrUnauthorized)
	}

	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(payload); err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, buf)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}
	req.Credential.ToOAuth2Token().SetAuthHeader(httpReq)

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %s: %v", oauth.ErrNetwork, provider, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		apiErr := parseAPIError(provider, resp.StatusCode, data)
		logging.Debug("Provider", "%s request failed with status %d (%s)", provider, resp.StatusCode, apiErr.Code)
		return nil, apiErr
	}
	return resp.Body, nil
}

// parseAPIError understands the error bodies of both supported APIs:
// {"error":{"type"|"code":..., "message":...}}.
func parseAPIError(provider string, status int, body []byte) *APIError {
	apiErr := &APIError{Provider: provider, StatusCode: status}
	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if json.Unmarshal(body, &envelope) != nil || len(envelope.Error) == 0 {
		return apiErr
	}
	var detail struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if json.Unmarshal(envelope.Error, &detail) == nil {
		apiErr.Code = detail.Code
		if apiErr.Code == "" {
			apiErr.Code = detail.Type
		}
		apiErr.Message = detail.Message
		return apiErr
	}
	var text string
	if json.Unmarshal(envelope.Error, &text) == nil {
		apiErr.Message = text
	}
	return apiErr
}

// streamError turns an error event payload into an APIError.
func streamError(provider, data string) error {
	apiErr := parseAPIError(provider, 0, []byte(data))
	if apiErr.Code == "" && apiErr.Message == "" {
		var flat struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal([]byte(data), &flat) == nil {
			apiErr.Code, apiErr.Message = flat.Code, flat.Message
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = "unknown error"
	}
	return apiErr
}

// deliver forwards a delta unless the turn has been cancelled.
func deliver(ctx context.Context, onDelta DeltaFunc, text string) error {
	if text == "" || onDelta == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return onDelta(text)
}

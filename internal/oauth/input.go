package oauth

import (
	"fmt"
	"net/url"
	"strings"
)

// ParseAuthorizationInput extracts the code and state from what a user pastes
// after authorizing: the full redirect URL, "code#state", a query string
// such as "code=...&state=..." or the bare code.
//
// When expectedState is non-empty and the input carries a state, the two must
// match. Input without a state is accepted; the PKCE verifier still binds the
// code to this login attempt.
func ParseAuthorizationInput(input, expectedState string) (code, state string, err error) {
	value := strings.TrimSpace(input)
	if value == "" {
		return "", "", fmt.Errorf("%w: empty input", ErrInvalidInput)
	}

	switch {
	case strings.Contains(value, "://"):
		u, perr := url.Parse(value)
		if perr != nil {
			return "", "", fmt.Errorf("%w: %v", ErrInvalidInput, perr)
		}
		q := u.Query()
		if e := q.Get("error"); e != "" {
			return "", "", fmt.Errorf("%w: authorization server returned %s", ErrInvalidInput, e)
		}
		code, state = q.Get("code"), q.Get("state")
		if code == "" && u.Fragment != "" {
			// Some providers return the parameters in the fragment.
			fq, _ := url.ParseQuery(u.Fragment)
			code, state = fq.Get("code"), fq.Get("state")
		}
	case strings.Contains(value, "#"):
		code, state, _ = strings.Cut(value, "#")
	case strings.Contains(value, "code="):
		q, perr := url.ParseQuery(strings.TrimPrefix(value, "?"))
		if perr != nil {
			return "", "", fmt.Errorf("%w: %v", ErrInvalidInput, perr)
		}
		code, state = q.Get("code"), q.Get("state")
	default:
		code = value
	}

	if code == "" {
		return "", "", fmt.Errorf("%w: no authorization code found", ErrInvalidInput)
	}
	if expectedState != "" && state != "" && state != expectedState {
		return "", "", ErrStateMismatch
	}
	return code, state, nil
}

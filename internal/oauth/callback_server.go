package oauth

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"tether/pkg/logging"
)

// CallbackTimeout is how long to wait for the OAuth callback.
const CallbackTimeout = 5 * time.Minute

//go:embed templates/callback_success.html
var callbackSuccessHTML string

//go:embed templates/callback_error.html
var callbackErrorHTML string

var (
	successTemplate = template.Must(template.New("success").Parse(callbackSuccessHTML))
	errorTemplate   = template.Must(template.New("error").Parse(callbackErrorHTML))
)

// CallbackResult represents the result of an OAuth callback.
type CallbackResult struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// IsError returns true if the callback result represents an error.
func (r *CallbackResult) IsError() bool {
	return r.Error != ""
}

// CallbackServer is a temporary loopback HTTP server that receives exactly one
// authorization redirect for a provider whose redirect URI points at
// localhost.
type CallbackServer struct {
	provider string
	host     string
	port     string
	path     string

	server   *http.Server
	listener net.Listener
	resultCh chan *CallbackResult
	errorCh  chan error
	once     sync.Once
	stopOnce sync.Once
}

// NewCallbackServer prepares a server for redirectURI. Only loopback
// redirect URIs can be served locally.
func NewCallbackServer(provider, redirectURI string) (*CallbackServer, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return nil, &ConfigError{Provider: provider, Field: "redirectURI", Reason: err.Error()}
	}
	host := u.Hostname()
	switch host {
	case "localhost", "127.0.0.1":
		host = "127.0.0.1"
	case "::1":
	default:
		return nil, &ConfigError{Provider: provider, Field: "redirectURI", Reason: fmt.Sprintf("%q is not a loopback address", u.Host)}
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	port := u.Port()
	if port == "" {
		port = "80"
	}
	return &CallbackServer{
		provider: provider,
		host:     host,
		port:     port,
		path:     path,
		resultCh: make(chan *CallbackResult, 1),
		errorCh:  make(chan error, 1),
	}, nil
}

// Start binds the listener and serves until a callback arrives, ctx is
// cancelled or Stop is called.
func (s *CallbackServer) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.host, s.port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start callback server on %s: %w", addr, err)
	}
	s.listener = listener
	s.port = fmt.Sprint(listener.Addr().(*net.TCPAddr).Port)

	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.handleCallback)
	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case s.errorCh <- err:
			default:
			}
		}
	}()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	logging.Debug("OAuth", "Callback server for %s listening on %s%s", s.provider, addr, s.path)
	return nil
}

// WaitForCallback waits for the OAuth callback or until ctx is done.
func (s *CallbackServer) WaitForCallback(ctx context.Context) (*CallbackResult, error) {
	select {
	case result := <-s.resultCh:
		return result, nil
	case err := <-s.errorCh:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Addr returns the bound host:port, useful when the configured port was 0.
func (s *CallbackServer) Addr() string {
	return net.JoinHostPort(s.host, s.port)
}

// Path returns the callback path being served.
func (s *CallbackServer) Path() string {
	return s.path
}

func (s *CallbackServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	handled := false
	s.once.Do(func() {
		handled = true
		s.processCallback(w, r)
	})
	if !handled {
		http.Error(w, "Callback already processed", http.StatusBadRequest)
	}
}

func (s *CallbackServer) processCallback(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'unsafe-inline'")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("Cache-Control", "no-store")

	query := r.URL.Query()
	result := &CallbackResult{
		Code:             query.Get("code"),
		State:            query.Get("state"),
		Error:            query.Get("error"),
		ErrorDescription: query.Get("error_description"),
	}
	if !result.IsError() && result.Code == "" {
		result.Error = "missing_code"
		result.ErrorDescription = "The redirect did not include an authorization code."
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	var err error
	if result.IsError() {
		w.WriteHeader(http.StatusBadRequest)
		err = errorTemplate.Execute(w, map[string]string{
			"Error":       result.Error,
			"Description": result.ErrorDescription,
		})
	} else {
		err = successTemplate.Execute(w, map[string]string{"Provider": s.provider})
	}
	if err != nil {
		logging.Error("OAuth", err, "Failed to render callback page")
	}

	select {
	case s.resultCh <- result:
	default:
	}

	// Let the response flush before the listener goes away.
	go func() {
		time.Sleep(500 * time.Millisecond)
		s.Stop()
	}()
}

// Stop shuts the server down. It is safe to call more than once.
func (s *CallbackServer) Stop() {
	s.stopOnce.Do(func() {
		if s.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = s.server.Shutdown(ctx)
		}
		if s.listener != nil {
			_ = s.listener.Close()
		}
	})
}

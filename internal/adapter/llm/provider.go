package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Provider is a single text-completion backend.
type Provider interface {
	Name() string
	DisplayName() string
	Model() string
	Complete(ctx context.Context, system, prompt string) (string, error)
}

const (
	temperature     = 0.3
	maxOutputTokens = 4096
	maxErrorBody    = 512
)

// StatusError is a non-2xx response from a provider API.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the request may succeed if repeated.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// ErrEmptyCompletion means the provider answered without any text.
var ErrEmptyCompletion = errors.New("provider returned an empty completion")

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 2 * time.Minute}
}

// checkStatus turns a non-2xx response into a StatusError carrying a
// truncated body.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
}

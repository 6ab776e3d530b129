package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNoProviders is returned when no AI provider credentials are configured.
var ErrNoProviders = errors.New("no AI provider configured: set GEMINI_API_KEY, DEEPSEEK_API_KEY, or GROQ_API_KEY")

// ValidationError means the query failed the static safety check.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return "query validation failed: " + strings.Join(e.Errors, "; ")
}

// ConnectionErrorKind distinguishes why the target database was unreachable.
type ConnectionErrorKind string

const (
	ConnTimeout        ConnectionErrorKind = "timeout"
	ConnAuthentication ConnectionErrorKind = "authentication"
	ConnUnreachable    ConnectionErrorKind = "unreachable"
	ConnGeneric        ConnectionErrorKind = "generic"
)

// ConnectionError means the gateway could not open a connection.
type ConnectionError struct {
	Kind ConnectionErrorKind
	Err  error
}

func (e *ConnectionError) Error() string {
	switch e.Kind {
	case ConnTimeout:
		return fmt.Sprintf("connection timeout: %v", e.Err)
	case ConnAuthentication:
		return "authentication failed: invalid username or password"
	case ConnUnreachable:
		return fmt.Sprintf("could not connect to host: %v", e.Err)
	default:
		return fmt.Sprintf("connection error: %v", e.Err)
	}
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// QueryTimeoutError means a statement exceeded its statement_timeout.
type QueryTimeoutError struct {
	Timeout time.Duration
}

func (e *QueryTimeoutError) Error() string {
	return fmt.Sprintf("query exceeded timeout of %dms", e.Timeout.Milliseconds())
}

// QueryError is any other failure while executing a query.
type QueryError struct {
	Err error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query execution error: %v", e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// SandboxError means a sandbox schema operation failed.
type SandboxError struct {
	Op     string
	Schema string
	Err    error
}

func (e *SandboxError) Error() string {
	return fmt.Sprintf("sandbox %s on %q: %v", e.Op, e.Schema, e.Err)
}

func (e *SandboxError) Unwrap() error { return e.Err }

// ProviderError means a single AI provider failed.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// AllProvidersFailedError is terminal: every configured provider failed.
type AllProvidersFailedError struct {
	Last error
}

func (e *AllProvidersFailedError) Error() string {
	return fmt.Sprintf("all AI providers failed, last error: %v", e.Last)
}

func (e *AllProvidersFailedError) Unwrap() error { return e.Last }

// IsQueryTimeout reports whether err is or wraps a QueryTimeoutError.
func IsQueryTimeout(err error) bool {
	var te *QueryTimeoutError
	return errors.As(err, &te)
}

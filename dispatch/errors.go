package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// TransportError means no HTTP response was received. Callers may retry.
type TransportError struct {
	Method string
	Path   string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: transport: %v", e.Method, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// HTTPError is any non-2xx response that is not a session failure.
type HTTPError struct {
	Method  string
	Path    string
	Status  int
	Message string
	Payload []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Status, e.Message)
}

// AuthError is a 401 that survived one refresh-and-retry cycle, or a 401 whose
// refresh failed. It always invalidates the session.
type AuthError struct {
	Path    string
	Status  int
	Retried bool
	Cause   error // *refresh.RefreshError when the refresh itself failed
}

func (e *AuthError) Error() string {
	msg := fmt.Sprintf("%s: unauthorized", e.Path)
	if e.Retried {
		msg += " after refresh"
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *AuthError) Unwrap() error { return e.Cause }

func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

func newHTTPError(method, path string, status int, payload []byte) *HTTPError {
	return &HTTPError{
		Method:  method,
		Path:    path,
		Status:  status,
		Message: errorMessage(status, payload),
		Payload: payload,
	}
}

// errorMessage prefers the backend's own description over the status text.
func errorMessage(status int, payload []byte) string {
	var body struct {
		Message          string `json:"message"`
		ErrorDescription string `json:"error_description"`
		Error            string `json:"error"`
	}
	if len(payload) > 0 && json.Unmarshal(payload, &body) == nil {
		for _, m := range []string{body.Message, body.ErrorDescription, body.Error} {
			if strings.TrimSpace(m) != "" {
				return m
			}
		}
	}
	return http.StatusText(status)
}

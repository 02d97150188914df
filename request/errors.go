package request

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Platform error codes which indicate an invalid, expired, or missing
// token. These are the only error codes that trigger the orchestrator's
// single refresh-and-retry cycle.
const (
	CodeInvalidToken  = 498
	CodeTokenRequired = 499
)

var (
	// ErrAuthRequired indicates that no valid credential is available for
	// a request and interactive sign-in is needed. Returned by token
	// providers, passed through by Do.
	ErrAuthRequired = errors.New("authentication required")
)

// APIError is a failure reported by the platform itself, either as a
// non-2xx HTTP status or as an `{"error": ...}` envelope embedded in an
// HTTP 200 response. The platform reports most failures the second way,
// so HTTP status alone is never trusted.
type APIError struct {
	StatusCode  int
	Code        int
	MessageCode string
	Message     string
	Details     []string

	// originating request, for callers that want to re-drive it
	URL  string
	Body []byte
}

func (e *APIError) Error() string {
	switch {
	case e.Code != 0 && e.Message != "":
		return fmt.Sprintf("API request failed (code %d): %s", e.Code, e.Message)
	case e.Message != "":
		return fmt.Sprintf("API request failed: %s", e.Message)
	case e.StatusCode > 0:
		return fmt.Sprintf("API request failed (HTTP %d)", e.StatusCode)
	}
	return "API request failed"
}

// AuthError reports whether this error is in the invalid/expired/missing
// token class.
func (e *APIError) AuthError() bool {
	return e.Code == CodeInvalidToken || e.Code == CodeTokenRequired
}

// TransportError is a network-level failure: connection refused, DNS,
// timeout, cancelled context. Never retried by the core, never classified
// further.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure for %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ErrorBody is the platform's JSON error envelope.
type ErrorBody struct {
	Err *ErrorDetail `json:"error"`

	// Description is the OAuth-style sibling field.
	Description string `json:"error_description,omitempty"`
}

type ErrorDetail struct {
	Code        int      `json:"code"`
	MessageCode string   `json:"messageCode,omitempty"`
	Message     string   `json:"message"`
	Details     []string `json:"details,omitempty"`
}

// The platform uses two envelope shapes: REST endpoints nest an object
// (`{"error": {"code": 498, ...}}`) while OAuth endpoints use the bare
// OAuth convention (`{"error": "invalid_client", ...}`). Both decode into
// ErrorDetail, with the OAuth error name landing in MessageCode.
func (d *ErrorDetail) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var name string
		if err := json.Unmarshal(b, &name); err != nil {
			return err
		}
		d.MessageCode = name
		d.Message = name
		return nil
	}
	type plain ErrorDetail
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*d = ErrorDetail(p)
	return nil
}

func (eb *ErrorBody) APIError(statusCode int, url string, body []byte) error {
	if eb.Err == nil {
		return &APIError{StatusCode: statusCode, URL: url, Body: body}
	}
	msg := eb.Err.Message
	if eb.Description != "" {
		msg = eb.Description
	}
	return &APIError{
		StatusCode:  statusCode,
		Code:        eb.Err.Code,
		MessageCode: eb.Err.MessageCode,
		Message:     msg,
		Details:     eb.Err.Details,
		URL:         url,
		Body:        body,
	}
}

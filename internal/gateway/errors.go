package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrNotFound is returned (via StatusError) when a backend answers 404.
var ErrNotFound = errors.New("not found")

// TransportError wraps a failure to reach a backend at all.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StatusError reports a non-2xx answer. Message carries the backend's own
// explanation when it sent one.
type StatusError struct {
	Op      string
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, msg)
}

func (e *StatusError) Unwrap() error {
	if e.Status == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

// ShapeError reports a 2xx answer whose body could not be understood.
type ShapeError struct {
	Op  string
	Err error
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("%s: unexpected response: %v", e.Op, e.Err)
}

func (e *ShapeError) Unwrap() error { return e.Err }

// Message turns any gateway error into the short text shown in a toast.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var se *StatusError
	if errors.As(err, &se) {
		if se.Message != "" {
			return se.Message
		}
		return fmt.Sprintf("request failed (%d %s)", se.Status, http.StatusText(se.Status))
	}
	var te *TransportError
	if errors.As(err, &te) {
		return "could not reach the server, try again"
	}
	var sh *ShapeError
	if errors.As(err, &sh) {
		return "the server sent an unexpected response"
	}
	return err.Error()
}

// backendMessage pulls {"error": ...} or {"message": ...} out of a body.
func backendMessage(body []byte) string {
	if !gjson.ValidBytes(body) {
		return strings.TrimSpace(string(body))
	}
	for _, key := range []string{"error", "message", "msg"} {
		if v := gjson.GetBytes(body, key); v.Type == gjson.String && strings.TrimSpace(v.String()) != "" {
			return strings.TrimSpace(v.String())
		}
	}
	return ""
}

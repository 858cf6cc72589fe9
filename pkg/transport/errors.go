package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// HTTPError is returned for responses with a status of 400 or above.
type HTTPError struct {
	StatusCode int
	Status     string

	// Message and ErrorCode are read from a JSON error body when present.
	Message   string
	ErrorCode int

	Header http.Header
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	msg := fmt.Sprintf("http %d", e.StatusCode)
	if e.Message != "" {
		msg += ": " + e.Message
	} else if e.Status != "" {
		msg += ": " + e.Status
	}
	if e.ErrorCode != 0 {
		msg += fmt.Sprintf(" (error code %d)", e.ErrorCode)
	}
	return msg
}

// HTTPStatusCode returns the response status.
func (e *HTTPError) HTTPStatusCode() int {
	return e.StatusCode
}

type errorBody struct {
	Error     string `json:"error"`
	ErrorCode int    `json:"error_code"`
}

func newHTTPError(resp *http.Response, body []byte) *HTTPError {
	e := &HTTPError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Header:     resp.Header.Clone(),
	}

	var parsed errorBody
	if json.Unmarshal(body, &parsed) == nil {
		e.Message = parsed.Error
		e.ErrorCode = parsed.ErrorCode
	}
	return e
}

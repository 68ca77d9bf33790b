package lambda

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// ErrMissingAPIKey is returned when no API key was configured.
var ErrMissingAPIKey = errors.New("missing API key: pass --api-key or set LAMBDA_API_KEY")

// CodeUnknown is used when the provider error body carries no code.
const CodeUnknown = "unknown"

// APIError is a provider response with status >= 400.
type APIError struct {
	HTTPStatus int     `json:"http_status"`
	Code       string  `json:"code"`
	Message    string  `json:"message"`
	Suggestion *string `json:"suggestion"`
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("lambda api error (http_status=%d, code=%s)", e.HTTPStatus, e.Code)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// newAPIError decodes the provider's {"error": {...}} body. Any other body
// yields code "unknown" and message "HTTP <status>".
func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{
		HTTPStatus: status,
		Code:       CodeUnknown,
		Message:    "HTTP " + strconv.Itoa(status),
	}

	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || !isObject(envelope.Error) {
		return apiErr
	}

	var detail struct {
		Code       json.RawMessage `json:"code"`
		Message    json.RawMessage `json:"message"`
		Suggestion json.RawMessage `json:"suggestion"`
	}
	if err := json.Unmarshal(envelope.Error, &detail); err != nil {
		return apiErr
	}

	if s, ok := scalar(detail.Code); ok && s != "" {
		apiErr.Code = s
	}
	if s, ok := scalar(detail.Message); ok && s != "" {
		apiErr.Message = s
	}
	if s, ok := scalar(detail.Suggestion); ok {
		apiErr.Suggestion = &s
	}
	return apiErr
}

// scalar renders a JSON scalar as text. It reports false for null or
// missing values.
func scalar(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	return string(raw), true
}

func isObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}

func isArray(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '['
}

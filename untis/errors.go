package untis

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ErrAuth is matched by every error caused by rejected credentials or an
// invalid session.
var ErrAuth = errors.New("authentication failed")

// ErrValidation is matched by backend-reported validation failures.
var ErrValidation = errors.New("request rejected by backend validation")

const maxMessageLen = 300

// APIError is a non-success HTTP response.
type APIError struct {
	Method     string
	URL        string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.URL, e.StatusCode, e.Message)
}

// Unwrap reports redirects, 401 and 403 as ErrAuth. The login endpoint
// answers wrong credentials with a redirect.
func (e *APIError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusUnauthorized, e.StatusCode == http.StatusForbidden:
		return ErrAuth
	case e.StatusCode >= 300 && e.StatusCode < 400:
		return ErrAuth
	default:
		return nil
	}
}

// ValidationError carries the backend's per-field rejection messages.
type ValidationError struct {
	StatusCode int // 0 when reported inside a successful response
	Messages   []string
}

func (e *ValidationError) Error() string {
	return "validation error: " + strings.Join(e.Messages, " | ")
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// IsAuthError reports whether err means the session or credentials were rejected.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrAuth)
}

type errorResponse struct {
	ErrorCode        string `json:"errorCode"`
	ErrorMessage     string `json:"errorMessage"`
	ValidationErrors []struct {
		Path         string `json:"path"`
		ErrorMessage string `json:"errorMessage"`
	} `json:"validationErrors"`
}

// responseError builds the error for a non-2xx response. The message prefers
// errorMessage, then the validation messages, then errorCode.
func responseError(method, url string, status int, contentType string, body []byte) error {
	var er errorResponse
	if err := json.Unmarshal(body, &er); err == nil {
		switch {
		case er.ErrorMessage != "":
			return &APIError{Method: method, URL: url, StatusCode: status, Message: er.ErrorMessage}
		case len(er.ValidationErrors) > 0:
			msgs := make([]string, 0, len(er.ValidationErrors))
			for _, v := range er.ValidationErrors {
				msgs = append(msgs, v.ErrorMessage)
			}
			return &ValidationError{StatusCode: status, Messages: msgs}
		case er.ErrorCode != "":
			return &APIError{Method: method, URL: url, StatusCode: status, Message: er.ErrorCode}
		}
		if strings.HasPrefix(strings.TrimSpace(string(body)), "{") {
			return &APIError{Method: method, URL: url, StatusCode: status, Message: "<unknown>"}
		}
	}
	return &APIError{Method: method, URL: url, StatusCode: status, Message: plainMessage(contentType, body)}
}

// plainMessage turns a non-JSON body into one readable line.
func plainMessage(contentType string, body []byte) string {
	text := string(body)
	if strings.Contains(contentType, "html") || strings.HasPrefix(strings.TrimSpace(text), "<") {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(text)); err == nil {
			doc.Find("script, style").Remove()
			text = doc.Find("body").Text()
			if strings.TrimSpace(text) == "" {
				text = doc.Find("title").Text()
			}
		}
	}
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return "<empty body>"
	}
	if len(text) > maxMessageLen {
		text = text[:maxMessageLen] + "..."
	}
	return text
}

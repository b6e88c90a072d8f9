package remote

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// DefaultFallback is shown when neither the collaborator nor the caller supply a message
const DefaultFallback = "Ocurrió un error inesperado. Por favor, intenta nuevamente."

// AdapterError is a failed collaborator call. Message is always human readable.
type AdapterError struct {
	Op         string
	StatusCode int
	Message    string
	// Body is the raw error envelope, when the collaborator answered
	Body []byte
	Err  error
}

func (e *AdapterError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.StatusCode, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// Failure builds an AdapterError for a 2xx answer whose envelope reports failure
func Failure(op string, body []byte, fallback string) *AdapterError {
	if fallback == "" {
		fallback = DefaultFallback
	}
	return &AdapterError{
		Op:      op,
		Message: ExtractMessage(body, fallback),
	}
}

// UserMessage returns the message to show for err
func UserMessage(err error) string {
	var aErr *AdapterError
	if errors.As(err, &aErr) {
		return aErr.Message
	}
	return DefaultFallback
}

// IsNotFound reports whether err is a 404 from a collaborator
func IsNotFound(err error) bool {
	var aErr *AdapterError
	return errors.As(err, &aErr) && aErr.StatusCode == http.StatusNotFound
}

type envelope struct {
	MetaData *struct {
		Message string `json:"message"`
	} `json:"metaData"`
	Message string          `json:"message"`
	Error   json.RawMessage `json:"error"`
}

// ExtractMessage reads a human readable message from a collaborator's error envelope.
// Precedence: metaData.message, message, error (string or {message}), fallback.
func ExtractMessage(body []byte, fallback string) string {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fallback
	}
	if env.MetaData != nil && strings.TrimSpace(env.MetaData.Message) != "" {
		return env.MetaData.Message
	}
	if strings.TrimSpace(env.Message) != "" {
		return env.Message
	}
	if len(env.Error) > 0 {
		var s string
		if err := json.Unmarshal(env.Error, &s); err == nil && strings.TrimSpace(s) != "" {
			return s
		}
		var nested struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(env.Error, &nested); err == nil && strings.TrimSpace(nested.Message) != "" {
			return nested.Message
		}
	}
	return fallback
}

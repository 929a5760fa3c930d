// Package llm is the model invocation primitive shared by the router, the
// matcher and the proof analyzer.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/drillsergeant/coach/internal/domain"
	"google.golang.org/genai"
)

var (
	// ErrTransport marks a failed or timed-out model call.
	ErrTransport = errors.New("llm transport failure")

	// ErrMalformedResponse marks output that does not match the requested
	// schema. It is a transport failure: callers never coerce it.
	ErrMalformedResponse = fmt.Errorf("%w: malformed response", ErrTransport)
)

// Image is an attached image for a vision call.
type Image struct {
	Data     []byte
	MIMEType string
}

// Request is one model call.
type Request struct {
	// System is the system instruction. System entries in Messages are
	// appended to it.
	System   string
	Messages []domain.Message
	// Schema, when set, asks for JSON output matching it.
	Schema *genai.Schema
	// Image is attached to the last user message.
	Image *Image
}

// Client performs a single model call and returns the raw text.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Validator is implemented by decoded responses that check their own fields.
type Validator interface {
	Validate() error
}

// DecodeJSON extracts the JSON object from raw model output, decodes it
// into v and runs v's validation. Any failure wraps ErrMalformedResponse.
func DecodeJSON(raw string, v any) error {
	content := strings.TrimSpace(raw)
	if idx := strings.Index(content, "{"); idx >= 0 {
		if end := strings.LastIndex(content, "}"); end > idx {
			content = content[idx : end+1]
		}
	}
	if content == "" {
		return fmt.Errorf("%w: empty output", ErrMalformedResponse)
	}

	if err := json.Unmarshal([]byte(content), v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if val, ok := v.(Validator); ok {
		if err := val.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
	}
	return nil
}

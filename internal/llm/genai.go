package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/drillsergeant/coach/internal/domain"
	"google.golang.org/genai"
)

// GenAIClient implements Client using the Gemini API.
type GenAIClient struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

// NewGenAIClient creates a Gemini-backed client for model. Every call is
// bounded by timeout.
func NewGenAIClient(ctx context.Context, apiKey, model string, timeout time.Duration) (*GenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GenAIClient{client: client, model: model, timeout: timeout}, nil
}

// Complete sends req and returns the model's text output.
func (c *GenAIClient) Complete(ctx context.Context, req Request) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	contents, system := buildContents(req)
	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0.2),
	}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if req.Schema != nil {
		config.ResponseMIMEType = "application/json"
		config.ResponseSchema = req.Schema
		config.Temperature = genai.Ptr[float32](0)
	}

	start := time.Now()
	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: timed out after %s", ErrTransport, time.Since(start).Round(time.Millisecond))
		}
		return "", fmt.Errorf("%w: %v", ErrTransport, err)
	}

	text := resp.Text()
	slog.Debug("Model call finished", "model", c.model, "duration", time.Since(start),
		"vision", req.Image != nil, "structured", req.Schema != nil, "chars", len(text))
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: empty candidate", ErrMalformedResponse)
	}
	return text, nil
}

// buildContents maps history onto Gemini contents. System entries are folded
// into the returned system instruction.
func buildContents(req Request) ([]*genai.Content, string) {
	systemParts := []string{}
	if s := strings.TrimSpace(req.System); s != "" {
		systemParts = append(systemParts, s)
	}

	contents := make([]*genai.Content, 0, len(req.Messages)+1)
	lastUser := -1
	for _, m := range req.Messages {
		switch m.Role {
		case domain.RoleSystem:
			systemParts = append(systemParts, m.Content)
		case domain.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
			lastUser = len(contents) - 1
		}
	}

	if req.Image != nil {
		part := genai.NewPartFromBytes(req.Image.Data, req.Image.MIMEType)
		if lastUser >= 0 {
			contents[lastUser].Parts = append(contents[lastUser].Parts, part)
		} else {
			contents = append(contents, genai.NewContentFromParts([]*genai.Part{part}, genai.RoleUser))
		}
	}

	return contents, strings.Join(systemParts, "\n\n")
}

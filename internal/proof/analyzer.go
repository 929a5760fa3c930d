// Package proof asks a vision model what an image shows and whether it is
// evidence for a named habit.
package proof

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/drillsergeant/coach/internal/domain"
	"github.com/drillsergeant/coach/internal/llm"
	"google.golang.org/genai"
)

const identifySystemPrompt = `You are an image analyzer for a habit tracking system.
Look at the image and the user's message and describe the single real-world activity the
image is evidence of, in a few words a person would use as a habit name (for example
"morning run", "reading", "meditation"). If the image shows no recognizable activity, set
habit_identified to "unknown". Extract numbers with units into key_details.`

const verifySystemPrompt = `You are a proof verification assistant. Decide whether the image is
legitimate, non-reused, non-staged evidence that the user completed the named habit.
Reason step by step: what you see, what the habit requires, whether they match.
ACCEPT clear proof that the habit was completed or surpassed.
REJECT unclear evidence, screenshots of screenshots, stock photos, or images unrelated to the
habit. When rejecting, reasoning must be one or two sentences addressed to the user.`

var identifySchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"habit_identified": {Type: genai.TypeString},
		"activity_type":    {Type: genai.TypeString},
		"key_details":      {Type: genai.TypeString},
		"confidence":       {Type: genai.TypeString, Enum: []string{"low", "medium", "high"}},
	},
	Required: []string{"habit_identified", "activity_type", "key_details", "confidence"},
}

var verifySchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"verified":   {Type: genai.TypeBoolean},
		"confidence": {Type: genai.TypeString, Enum: []string{"low", "medium", "high"}},
		"reasoning":  {Type: genai.TypeString},
	},
	Required: []string{"verified", "confidence", "reasoning"},
}

type identifyResponse struct {
	domain.ImageIdentification
}

func (r *identifyResponse) Validate() error {
	c, ok := domain.ParseConfidence(string(r.Confidence))
	if !ok {
		return fmt.Errorf("unknown confidence %q", r.Confidence)
	}
	r.Confidence = c
	r.HabitIdentified = strings.TrimSpace(r.HabitIdentified)
	return nil
}

type verifyResponse struct {
	Verified   *bool  `json:"verified"`
	Confidence string `json:"confidence"`
	Reasoning  string `json:"reasoning"`

	result domain.ProofVerification
}

func (r *verifyResponse) Validate() error {
	if r.Verified == nil {
		return errors.New("missing verified")
	}
	c, ok := domain.ParseConfidence(r.Confidence)
	if !ok {
		return fmt.Errorf("unknown confidence %q", r.Confidence)
	}
	reasoning := strings.TrimSpace(r.Reasoning)
	if !*r.Verified && reasoning == "" {
		return errors.New("rejection without reasoning")
	}
	r.result = domain.ProofVerification{Verified: *r.Verified, Confidence: c, Reasoning: reasoning}
	return nil
}

// Analyzer runs identification and verification, one vision call each.
type Analyzer struct {
	client llm.Client
}

// NewAnalyzer creates an Analyzer over a vision-capable client.
func NewAnalyzer(client llm.Client) *Analyzer {
	return &Analyzer{client: client}
}

// Identify classifies what activity img shows. hint is the user's text, if any.
func (a *Analyzer) Identify(ctx context.Context, img Image, hint string) (domain.ImageIdentification, error) {
	prompt := "Identify the activity shown in this image."
	if hint = strings.TrimSpace(hint); hint != "" {
		prompt = fmt.Sprintf("The user sent this message with the image: %q\n\n%s", hint, prompt)
	}

	raw, err := a.client.Complete(ctx, llm.Request{
		System:   identifySystemPrompt,
		Messages: []domain.Message{{Role: domain.RoleUser, Content: prompt}},
		Schema:   identifySchema,
		Image:    &llm.Image{Data: img.Data, MIMEType: img.MIMEType},
	})
	if err != nil {
		return domain.ImageIdentification{}, fmt.Errorf("identify image: %w", err)
	}

	var resp identifyResponse
	if err := llm.DecodeJSON(raw, &resp); err != nil {
		return domain.ImageIdentification{}, fmt.Errorf("identify image: %w", err)
	}

	slog.Info("Image identified", "habit_identified", resp.HabitIdentified,
		"activity_type", resp.ActivityType, "confidence", resp.Confidence)
	return resp.ImageIdentification, nil
}

// Verify judges whether img is proof for habitName. A rejection always
// carries reasoning.
func (a *Analyzer) Verify(ctx context.Context, img Image, habitName, userContext string) (domain.ProofVerification, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Verify if this image is legitimate proof for completing the habit: %q\n", habitName)
	if userContext = strings.TrimSpace(userContext); userContext != "" {
		fmt.Fprintf(&sb, "Additional context from the user: %q\n", userContext)
	}

	raw, err := a.client.Complete(ctx, llm.Request{
		System:   verifySystemPrompt,
		Messages: []domain.Message{{Role: domain.RoleUser, Content: sb.String()}},
		Schema:   verifySchema,
		Image:    &llm.Image{Data: img.Data, MIMEType: img.MIMEType},
	})
	if err != nil {
		return domain.ProofVerification{}, fmt.Errorf("verify proof for %q: %w", habitName, err)
	}

	var resp verifyResponse
	if err := llm.DecodeJSON(raw, &resp); err != nil {
		return domain.ProofVerification{}, fmt.Errorf("verify proof for %q: %w", habitName, err)
	}

	slog.Info("Proof verified", "habit", habitName, "verified", resp.result.Verified,
		"confidence", resp.result.Confidence)
	return resp.result, nil
}

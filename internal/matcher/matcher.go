// Package matcher resolves free-text habit descriptions against the current
// habit list with one model call.
package matcher

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

// ErrEmptyDescription is returned for a blank description.
var ErrEmptyDescription = errors.New("empty habit description")

// MinConfidence is the lowest reported confidence accepted as a match.
const MinConfidence = domain.ConfidenceMedium

const systemPrompt = `You are a semantic matching assistant for a habit tracker.
Match the user's description to at most one of the listed habits. Consider synonyms,
abbreviations and different phrasings. If no habit is a plausible fit, return null.
Never invent an id that is not in the list.`

var responseSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"habit_id":   {Type: genai.TypeString, Nullable: genai.Ptr(true), Description: "id of the matching habit, or null"},
		"confidence": {Type: genai.TypeString, Enum: []string{"low", "medium", "high"}},
		"reasoning":  {Type: genai.TypeString},
	},
	Required: []string{"habit_id", "confidence"},
}

type matchResponse struct {
	HabitID    *string `json:"habit_id"`
	Confidence string  `json:"confidence"`
	Reasoning  string  `json:"reasoning"`

	confidence domain.Confidence
}

func (r *matchResponse) Validate() error {
	c, ok := domain.ParseConfidence(r.Confidence)
	if !ok {
		return fmt.Errorf("unknown confidence %q", r.Confidence)
	}
	r.confidence = c
	return nil
}

// Matcher is the model-backed habit resolver.
type Matcher struct {
	client llm.Client
}

// New creates a Matcher.
func New(client llm.Client) *Matcher {
	return &Matcher{client: client}
}

// Match resolves description against candidates. An empty candidate set is
// "no match" without a model call. A reply below MinConfidence, or naming an
// id outside candidates, is also "no match".
func (m *Matcher) Match(ctx context.Context, description string, candidates []domain.Habit) (domain.MatchResult, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return domain.MatchResult{}, ErrEmptyDescription
	}
	if len(candidates) == 0 {
		return domain.MatchResult{Reasoning: "no habits to match against"}, nil
	}

	raw, err := m.client.Complete(ctx, llm.Request{
		System:   systemPrompt,
		Messages: []domain.Message{{Role: domain.RoleUser, Content: buildPrompt(description, candidates)}},
		Schema:   responseSchema,
	})
	if err != nil {
		return domain.MatchResult{}, fmt.Errorf("match %q: %w", description, err)
	}

	var resp matchResponse
	if err := llm.DecodeJSON(raw, &resp); err != nil {
		return domain.MatchResult{}, fmt.Errorf("match %q: %w", description, err)
	}

	result := domain.MatchResult{Confidence: resp.confidence, Reasoning: resp.Reasoning}
	if resp.HabitID == nil || strings.TrimSpace(*resp.HabitID) == "" {
		slog.Info("No habit matched", "description", description, "candidates", len(candidates))
		return result, nil
	}

	id := strings.TrimSpace(*resp.HabitID)
	var hit *domain.Habit
	for i := range candidates {
		if candidates[i].ID == id {
			h := candidates[i]
			hit = &h
			break
		}
	}
	if hit == nil {
		slog.Warn("Model returned an id outside the candidate set", "description", description, "habit_id", id)
		return result, nil
	}
	if !resp.confidence.AtLeast(MinConfidence) {
		slog.Info("Match below confidence threshold", "description", description,
			"habit", hit.Name, "confidence", resp.confidence)
		return result, nil
	}

	result.Habit = hit
	slog.Info("Habit matched", "description", description, "habit", hit.Name, "confidence", resp.confidence)
	return result, nil
}

func buildPrompt(description string, candidates []domain.Habit) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "User description: %q\n\nExisting habits:\n", description)
	for _, h := range candidates {
		fmt.Fprintf(&sb, "%s: %s\n", h.ID, h.Name)
	}
	sb.WriteString("\nReturn JSON: {\"habit_id\": <id or null>, \"confidence\": \"low|medium|high\", \"reasoning\": \"...\"}")
	return sb.String()
}

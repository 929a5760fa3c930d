package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/drillsergeant/coach/internal/domain"
	"github.com/drillsergeant/coach/internal/llm"
	"google.golang.org/genai"
)

// SystemPrompt seeds every new session's history.
const SystemPrompt = `You are a no-nonsense habit coach with the voice of a drill sergeant.
You help the user add, remove and complete habits and report what is left today.
Completions always need photo proof. Keep replies short, direct and motivating.`

// ImageMarker is appended to the user's text in history when an image was
// attached, so later turns know proof was sent.
const ImageMarker = "[User attached an image as proof]"

// RouteRequest is everything the router sees for one message.
type RouteRequest struct {
	History  []domain.Message
	Text     string
	HasImage bool
	// Baseline is per-turn context (time, today's habits). It is shown to the
	// router only and never stored in history.
	Baseline string
}

// Router picks one tool for a message.
type Router interface {
	Route(ctx context.Context, req RouteRequest) (Call, error)
}

const routerPrompt = `You route messages for a habit tracking assistant to exactly one tool.
Tools:
- add_habit: the user wants to start tracking a habit. habit_name required. start_time and
  deadline_time in 24h HH:MM when the user gives them.
- remove_habit: the user wants to stop tracking a habit. habit_name is their wording.
- complete_habit: the user says they completed a specific habit. habit_name is the habit
  they named. Use this when an image is attached AND the user names the habit.
- complete_habit_from_image: an image is attached and the user does not say which habit.
- status: the user asks what is done or left today.
- converse: anything else. Put your reply in reply, in character.
Completions always require an attached image; still choose a completion tool when the user
claims completion without one.`

var routeSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"tool":          {Type: genai.TypeString, Enum: toolNames()},
		"habit_name":    {Type: genai.TypeString},
		"start_time":    {Type: genai.TypeString},
		"deadline_time": {Type: genai.TypeString},
		"reply":         {Type: genai.TypeString},
	},
	Required: []string{"tool"},
}

func toolNames() []string {
	names := make([]string, len(Tools))
	for i, t := range Tools {
		names[i] = string(t)
	}
	return names
}

// LLMRouter routes with one structured model call.
type LLMRouter struct {
	client llm.Client
}

// NewLLMRouter creates a model-backed router.
func NewLLMRouter(client llm.Client) *LLMRouter {
	return &LLMRouter{client: client}
}

// Route asks the model for a tool and validates it before returning.
func (r *LLMRouter) Route(ctx context.Context, req RouteRequest) (Call, error) {
	system := routerPrompt
	if req.Baseline != "" {
		system += "\n\n" + req.Baseline
	}

	messages := append([]domain.Message(nil), req.History...)
	messages = append(messages, domain.Message{Role: domain.RoleUser, Content: UserEntry(req.Text, req.HasImage)})

	raw, err := r.client.Complete(ctx, llm.Request{
		System:   system,
		Messages: messages,
		Schema:   routeSchema,
	})
	if err != nil {
		return Call{}, fmt.Errorf("route message: %w", err)
	}

	var call Call
	if err := llm.DecodeJSON(raw, &call); err != nil {
		return Call{}, fmt.Errorf("route message: %w", err)
	}
	return call, nil
}

// UserEntry is the history text for a user message.
func UserEntry(text string, hasImage bool) string {
	text = strings.TrimSpace(text)
	if !hasImage {
		return text
	}
	if text == "" {
		return ImageMarker
	}
	return text + "\n" + ImageMarker
}

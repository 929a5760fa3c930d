package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/drillsergeant/coach/internal/domain"
	"github.com/drillsergeant/coach/internal/identity"
	"github.com/drillsergeant/coach/internal/orchestrator"
)

var errImageEncoding = errors.New("image_base64 is not valid base64")

// ChatRequest is the body of POST /api/chat and of each chat socket frame.
type ChatRequest struct {
	Type        string `json:"type,omitempty"`
	Text        string `json:"text"`
	ImageBase64 string `json:"image_base64,omitempty"`
	ImageRef    string `json:"image_ref,omitempty"`
}

// inbound converts a request into a channel-neutral message. Data URL
// prefixes such as "data:image/png;base64," are accepted.
func (req ChatRequest) inbound(userKey string) (domain.InboundMessage, error) {
	msg := domain.InboundMessage{UserKey: userKey, Text: req.Text, ImageRef: req.ImageRef}

	encoded := strings.TrimSpace(req.ImageBase64)
	if encoded == "" {
		return msg, nil
	}
	if strings.HasPrefix(encoded, "data:") {
		if i := strings.Index(encoded, ","); i >= 0 {
			encoded = encoded[i+1:]
		}
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return msg, errImageEncoding
	}
	msg.Image = data
	return msg, nil
}

// Chat handles one message and returns the single reply.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	userKey := identity.UserKeyFromContext(r.Context())
	if userKey == "" {
		Error(w, http.StatusUnauthorized, "missing user key")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes())
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	msg, err := req.inbound(userKey)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(msg.Text) == "" && !msg.HasImage() {
		Error(w, http.StatusBadRequest, "text or image_base64 is required")
		return
	}

	slog.Debug("Chat message received", "user_id", userKey, "image", msg.HasImage(), "ip", identity.IPFromRequest(r))
	JSON(w, http.StatusOK, h.coach.Handle(r.Context(), msg))
}

// habitsResponse is the body of GET /api/habits.
type habitsResponse struct {
	Date    string               `json:"date"`
	Done    int                  `json:"done"`
	Total   int                  `json:"total"`
	Habits  []domain.HabitStatus `json:"habits"`
	Summary string               `json:"summary"`
}

// Habits returns today's completion status for every active habit.
func (h *Handler) Habits(w http.ResponseWriter, r *http.Request) {
	date := h.today()
	statuses, err := h.habits.TodayStatus(r.Context(), date)
	if err != nil {
		slog.Error("Failed to load today status", "error", err)
		Error(w, http.StatusInternalServerError, "failed to load habits")
		return
	}

	resp := habitsResponse{
		Date:    date,
		Total:   len(statuses),
		Habits:  statuses,
		Summary: orchestrator.StatusReply(statuses),
	}
	if resp.Habits == nil {
		resp.Habits = []domain.HabitStatus{}
	}
	for _, s := range statuses {
		if s.Completed {
			resp.Done++
		}
	}
	JSON(w, http.StatusOK, resp)
}

// SessionInfo describes the caller's live conversation session.
func (h *Handler) SessionInfo(w http.ResponseWriter, r *http.Request) {
	userKey := identity.UserKeyFromContext(r.Context())
	info, ok := h.sessions.Info(userKey)
	if !ok {
		Error(w, http.StatusNotFound, "no active session")
		return
	}
	JSON(w, http.StatusOK, info)
}

// ResetSession discards the caller's conversation history and closes their
// open chat sockets.
func (h *Handler) ResetSession(w http.ResponseWriter, r *http.Request) {
	userKey := identity.UserKeyFromContext(r.Context())
	cleared := h.sessions.Clear(userKey)
	closed := h.conns.CloseUser(userKey)
	slog.Info("Session reset", "user_id", userKey, "cleared", cleared, "sockets_closed", closed)
	JSON(w, http.StatusOK, map[string]interface{}{"cleared": cleared})
}

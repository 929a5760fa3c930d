// Package api provides HTTP handlers for the coach API.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/drillsergeant/coach/internal/config"
	"github.com/drillsergeant/coach/internal/domain"
	"github.com/drillsergeant/coach/internal/proof"
	"github.com/drillsergeant/coach/internal/session"
	"github.com/go-chi/chi/v5"
)

// MessageHandler produces exactly one reply per inbound message.
type MessageHandler interface {
	Handle(ctx context.Context, msg domain.InboundMessage) domain.OutboundReply
}

// HabitReader is the read side of the habit store used by the API.
type HabitReader interface {
	TodayStatus(ctx context.Context, date string) ([]domain.HabitStatus, error)
	Ping(ctx context.Context) error
}

// Handler provides common handler utilities.
type Handler struct {
	coach         MessageHandler
	habits        HabitReader
	sessions      *session.Store
	conns         *ConnRegistry
	loc           *time.Location
	now           func() time.Time
	maxImageBytes int64
	allowedOrigin string
	isDev         bool
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(coach MessageHandler, habits HabitReader, sessions *session.Store, cfg *config.Config) *Handler {
	h := &Handler{
		coach:         coach,
		habits:        habits,
		sessions:      sessions,
		conns:         NewConnRegistry(),
		loc:           time.Local,
		now:           time.Now,
		maxImageBytes: proof.DefaultMaxBytes,
		isDev:         true,
	}
	if cfg != nil {
		if cfg.Timezone != nil {
			h.loc = cfg.Timezone
		}
		if cfg.Proof.MaxImageBytes > 0 {
			h.maxImageBytes = cfg.Proof.MaxImageBytes
		}
		h.allowedOrigin = cfg.FrontendURL
		h.isDev = cfg.IsDevelopment()
	}
	return h
}

// Conns returns the registry of open chat sockets.
func (h *Handler) Conns() *ConnRegistry {
	return h.conns
}

// RegisterRoutes registers the chat, habit and session routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", h.Chat)
		r.Get("/habits", h.Habits)
		r.Get("/session", h.SessionInfo)
		r.Delete("/session", h.ResetSession)
	})
	r.Get("/ws/chat", h.ChatSocket)
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

func (h *Handler) today() string {
	return domain.DayOf(h.now(), h.loc)
}

// maxBodyBytes leaves room for base64 expansion of the largest image.
func (h *Handler) maxBodyBytes() int64 {
	return h.maxImageBytes*4/3 + 64<<10
}

package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/drillsergeant/coach/internal/identity"
	"github.com/google/uuid"
)

const socketWriteTimeout = 10 * time.Second

// wsReply is a server frame on the chat socket.
type wsReply struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
}

// ChatSocket serves GET /ws/chat. Each text frame carries a ChatRequest and
// gets exactly one reply frame; frames on one socket are handled in order.
func (h *Handler) ChatSocket(w http.ResponseWriter, r *http.Request) {
	userKey := identity.UserKeyFromContext(r.Context())
	slog.Info("Chat socket request", "user_id", userKey, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userKey)
		return
	}
	ws.SetReadLimit(h.maxBodyBytes())
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "chat ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", userKey)
		}
	}()

	connID := uuid.NewString()
	h.conns.Register(userKey, connID, ws)
	defer h.conns.Unregister(userKey, connID, ws)

	h.readLoop(r.Context(), ws, userKey)
	slog.Info("Chat socket ended", "user_id", userKey)
}

func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, userKey string) {
	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || ctx.Err() != nil {
				slog.Debug("WebSocket closed by client", "user_id", userKey)
			} else {
				slog.Warn("WebSocket read error", "error", err, "user_id", userKey)
			}
			return
		}
		if typ != websocket.MessageText {
			h.send(ctx, ws, wsReply{Type: "error", Error: "expected a text frame"})
			continue
		}

		var req ChatRequest
		if err := json.Unmarshal(data, &req); err != nil {
			h.send(ctx, ws, wsReply{Type: "error", Error: "invalid message"})
			continue
		}
		if req.Type == "ping" {
			h.send(ctx, ws, wsReply{Type: "pong"})
			continue
		}

		msg, err := req.inbound(userKey)
		if err != nil {
			h.send(ctx, ws, wsReply{Type: "error", Error: err.Error()})
			continue
		}
		if strings.TrimSpace(msg.Text) == "" && !msg.HasImage() {
			h.send(ctx, ws, wsReply{Type: "error", Error: "text or image_base64 is required"})
			continue
		}

		reply := h.coach.Handle(ctx, msg)
		if err := h.send(ctx, ws, wsReply{Type: "reply", Text: reply.Text}); err != nil {
			return
		}
	}
}

func (h *Handler) send(ctx context.Context, ws *websocket.Conn, v wsReply) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, socketWriteTimeout)
	defer cancel()
	if err := ws.Write(writeCtx, websocket.MessageText, data); err != nil {
		slog.Debug("WebSocket write error", "error", err)
		return err
	}
	return nil
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

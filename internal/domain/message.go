package domain

import "time"

// Role identifies the author of a history entry.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one conversation history entry.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Session is the bounded-lifetime conversation context for one user key.
type Session struct {
	UserKey      string    `json:"user_key"`
	History      []Message `json:"history"`
	LastActivity time.Time `json:"last_activity"`
}

// InboundMessage is the channel-neutral form of one user message.
type InboundMessage struct {
	UserKey string
	Text    string
	Image   []byte
	// ImageRef is the channel's reference to the image (media URL, file path).
	ImageRef string
}

// HasImage reports whether an image is attached.
func (m InboundMessage) HasImage() bool {
	return m.Image != nil
}

// OutboundReply is the single reply produced for an inbound message.
type OutboundReply struct {
	Text string `json:"text"`
}

// Package whatsapp receives Twilio WhatsApp webhooks and answers them
// asynchronously through the Twilio REST API.
package whatsapp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/drillsergeant/coach/internal/domain"
	"github.com/drillsergeant/coach/internal/orchestrator"
	"github.com/drillsergeant/coach/internal/proof"
	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"
)

// EmptyMessageReply answers a webhook with neither text nor media.
const EmptyMessageReply = "I didn't receive any message. Please send a text message."

const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// MessageHandler produces exactly one reply per inbound message.
type MessageHandler interface {
	Handle(ctx context.Context, msg domain.InboundMessage) domain.OutboundReply
}

// Messenger is the Twilio side of the channel.
type Messenger interface {
	Send(ctx context.Context, to, body string) (string, error)
	DownloadMedia(ctx context.Context, mediaURL string, maxBytes int64) ([]byte, error)
}

// Options tune the worker pool.
type Options struct {
	Workers        int
	QueueSize      int
	MaxImageBytes  int64
	ProcessTimeout time.Duration
}

// inbound is one parsed webhook.
type inbound struct {
	From      string
	Body      string
	NumMedia  int
	MediaURL  string
	MediaType string
}

// Channel acknowledges webhooks immediately and processes them on a bounded
// pool of workers.
type Channel struct {
	coach          MessageHandler
	messenger      Messenger
	jobs           chan inbound
	workers        int
	maxImageBytes  int64
	processTimeout time.Duration
}

// New creates a WhatsApp channel. Call Run to start processing.
func New(coach MessageHandler, messenger Messenger, opts Options) *Channel {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.MaxImageBytes <= 0 {
		opts.MaxImageBytes = proof.DefaultMaxBytes
	}
	if opts.ProcessTimeout <= 0 {
		opts.ProcessTimeout = 3 * time.Minute
	}
	return &Channel{
		coach:          coach,
		messenger:      messenger,
		jobs:           make(chan inbound, opts.QueueSize),
		workers:        opts.Workers,
		maxImageBytes:  opts.MaxImageBytes,
		processTimeout: opts.ProcessTimeout,
	}
}

// RegisterRoutes registers the webhook route.
func (c *Channel) RegisterRoutes(r chi.Router) {
	r.Post("/whatsapp", c.Receive)
}

// Receive parses a Twilio webhook, queues it and acknowledges with empty
// TwiML. The reply is sent later through the REST API.
func (c *Channel) Receive(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	in, err := parseInbound(r)
	if err != nil {
		slog.Warn("Rejected WhatsApp webhook", "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	select {
	case c.jobs <- in:
	default:
		slog.Error("WhatsApp queue full, dropping message", "from", in.From)
		http.Error(w, "busy", http.StatusServiceUnavailable)
		return
	}

	slog.Info("WhatsApp message received", "from", in.From, "media", in.NumMedia)
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(emptyTwiML))
}

func parseInbound(r *http.Request) (inbound, error) {
	in := inbound{
		From:      strings.TrimSpace(r.PostForm.Get("From")),
		Body:      strings.TrimSpace(r.PostForm.Get("Body")),
		MediaURL:  strings.TrimSpace(r.PostForm.Get("MediaUrl0")),
		MediaType: strings.TrimSpace(r.PostForm.Get("MediaContentType0")),
	}
	if in.From == "" {
		return in, errors.New("missing From field")
	}
	if n := r.PostForm.Get("NumMedia"); n != "" {
		num, err := strconv.Atoi(n)
		if err != nil || num < 0 {
			return in, errors.New("invalid NumMedia field")
		}
		in.NumMedia = num
	}
	return in, nil
}

// Run processes queued webhooks until ctx is cancelled, then waits for
// in-flight messages to finish. Messages still queued at shutdown are dropped.
func (c *Channel) Run(ctx context.Context) error {
	g := new(errgroup.Group)
	g.SetLimit(c.workers)

	slog.Info("WhatsApp workers started", "workers", c.workers)
	for {
		select {
		case <-ctx.Done():
			_ = g.Wait()
			if n := len(c.jobs); n > 0 {
				slog.Warn("WhatsApp messages dropped at shutdown", "count", n)
			}
			slog.Info("WhatsApp workers stopped")
			return nil
		case in := <-c.jobs:
			// Go blocks while all workers are busy.
			g.Go(func() error {
				c.process(ctx, in)
				return nil
			})
		}
	}
}

func (c *Channel) process(ctx context.Context, in inbound) {
	// Replies in flight still go out during shutdown.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.processTimeout)
	defer cancel()

	text := c.replyFor(ctx, in)
	if _, err := c.messenger.Send(ctx, in.From, text); err != nil {
		slog.Error("Failed to send WhatsApp reply", "to", in.From, "error", err)
	}
}

func (c *Channel) replyFor(ctx context.Context, in inbound) string {
	if in.Body == "" && in.NumMedia == 0 {
		return EmptyMessageReply
	}

	msg := domain.InboundMessage{UserKey: in.From, Text: in.Body}
	if in.NumMedia > 0 && in.MediaURL != "" {
		data, err := c.fetchImage(ctx, in)
		if err != nil {
			slog.Warn("WhatsApp media unusable", "from", in.From, "url", in.MediaURL, "error", err)
			f := &orchestrator.Failure{Reason: orchestrator.ReasonInvalidImage, Err: err}
			return f.Reply()
		}
		msg.Image = data
		msg.ImageRef = in.MediaURL
	}

	return c.coach.Handle(ctx, msg).Text
}

func (c *Channel) fetchImage(ctx context.Context, in inbound) ([]byte, error) {
	if in.MediaType != "" && !strings.HasPrefix(in.MediaType, "image/") {
		return nil, errors.New("unsupported media type " + in.MediaType)
	}
	return c.messenger.DownloadMedia(ctx, in.MediaURL, c.maxImageBytes)
}

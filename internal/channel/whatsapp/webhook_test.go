package whatsapp

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/drillsergeant/coach/internal/domain"
	"github.com/drillsergeant/coach/internal/orchestrator"
	"github.com/go-chi/chi/v5"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// Idle keep-alive connections of the Twilio client's transport.
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}

type sent struct {
	To   string
	Body string
}

type fakeMessenger struct {
	mu       sync.Mutex
	sent     []sent
	sentCh   chan sent
	media    map[string][]byte
	mediaErr error
	sendErr  error
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{sentCh: make(chan sent, 16), media: map[string][]byte{}}
}

func (f *fakeMessenger) Send(ctx context.Context, to, body string) (string, error) {
	f.mu.Lock()
	s := sent{To: to, Body: body}
	f.sent = append(f.sent, s)
	f.mu.Unlock()
	f.sentCh <- s
	return "SM1", f.sendErr
}

func (f *fakeMessenger) DownloadMedia(ctx context.Context, mediaURL string, maxBytes int64) ([]byte, error) {
	if f.mediaErr != nil {
		return nil, f.mediaErr
	}
	data, ok := f.media[mediaURL]
	if !ok {
		return nil, errors.New("not found")
	}
	return data, nil
}

type fakeCoach struct {
	mu        sync.Mutex
	msgs      []domain.InboundMessage
	block     chan struct{}
	active    int
	maxActive int
}

func (c *fakeCoach) Handle(ctx context.Context, msg domain.InboundMessage) domain.OutboundReply {
	c.mu.Lock()
	c.msgs = append(c.msgs, msg)
	c.active++
	if c.active > c.maxActive {
		c.maxActive = c.active
	}
	c.mu.Unlock()

	if c.block != nil {
		<-c.block
	}

	c.mu.Lock()
	c.active--
	c.mu.Unlock()
	return domain.OutboundReply{Text: "reply to " + msg.Text}
}

func (c *fakeCoach) received() []domain.InboundMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.InboundMessage(nil), c.msgs...)
}

type harness struct {
	coach     *fakeCoach
	messenger *fakeMessenger
	channel   *Channel
	router    http.Handler
}

func newHarness(opts Options) *harness {
	h := &harness{coach: &fakeCoach{}, messenger: newFakeMessenger()}
	h.channel = New(h.coach, h.messenger, opts)
	r := chi.NewRouter()
	h.channel.RegisterRoutes(r)
	h.router = r
	return h
}

// start runs the worker pool and returns a function that stops it and waits.
func (h *harness) start(t *testing.T) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := h.channel.Run(ctx); err != nil {
			t.Errorf("Run: %v", err)
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func (h *harness) post(form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/whatsapp", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func (h *harness) waitSent(t *testing.T) sent {
	t.Helper()
	select {
	case s := <-h.messenger.sentCh:
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a reply")
		return sent{}
	}
}

func TestWebhookAcksAndReplies(t *testing.T) {
	h := newHarness(Options{Workers: 2})
	stop := h.start(t)
	defer stop()

	w := h.post(url.Values{"From": {"whatsapp:+15550001"}, "Body": {"  status  "}, "NumMedia": {"0"}})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/xml" || !strings.Contains(w.Body.String(), "<Response>") {
		t.Fatalf("expected empty TwiML ack, got %q %q", ct, w.Body.String())
	}

	s := h.waitSent(t)
	if s.To != "whatsapp:+15550001" || s.Body != "reply to status" {
		t.Fatalf("unexpected reply %+v", s)
	}
	msgs := h.coach.received()
	if len(msgs) != 1 || msgs[0].UserKey != "whatsapp:+15550001" || msgs[0].HasImage() {
		t.Fatalf("unexpected inbound %+v", msgs)
	}
}

func TestWebhookEmptyMessage(t *testing.T) {
	h := newHarness(Options{})
	stop := h.start(t)
	defer stop()

	h.post(url.Values{"From": {"whatsapp:+15550002"}, "Body": {"   "}, "NumMedia": {"0"}})

	if s := h.waitSent(t); s.Body != EmptyMessageReply {
		t.Fatalf("expected fixed empty reply, got %q", s.Body)
	}
	if n := len(h.coach.received()); n != 0 {
		t.Fatalf("empty message must not reach the coach, got %d", n)
	}
}

func TestWebhookMedia(t *testing.T) {
	h := newHarness(Options{})
	img := []byte("\x89PNG fake")
	h.messenger.media["https://api.twilio.test/media/ME1"] = img
	stop := h.start(t)
	defer stop()

	h.post(url.Values{
		"From":              {"whatsapp:+15550003"},
		"NumMedia":          {"1"},
		"MediaUrl0":         {"https://api.twilio.test/media/ME1"},
		"MediaContentType0": {"image/png"},
	})
	h.waitSent(t)

	msgs := h.coach.received()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if !bytes.Equal(msgs[0].Image, img) || msgs[0].ImageRef != "https://api.twilio.test/media/ME1" {
		t.Fatalf("media not attached: %+v", msgs[0])
	}
}

func TestWebhookMediaFailures(t *testing.T) {
	invalid := (&orchestrator.Failure{Reason: orchestrator.ReasonInvalidImage}).Reply()

	tests := []struct {
		name      string
		mediaErr  error
		mediaType string
	}{
		{"download error", errors.New("timeout"), "image/jpeg"},
		{"too large", ErrMediaTooLarge, "image/jpeg"},
		{"not an image", nil, "audio/ogg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(Options{})
			h.messenger.mediaErr = tt.mediaErr
			h.messenger.media["https://api.twilio.test/media/ME2"] = []byte("x")
			stop := h.start(t)
			defer stop()

			h.post(url.Values{
				"From":              {"whatsapp:+15550004"},
				"Body":              {"did my run"},
				"NumMedia":          {"1"},
				"MediaUrl0":         {"https://api.twilio.test/media/ME2"},
				"MediaContentType0": {tt.mediaType},
			})

			if s := h.waitSent(t); s.Body != invalid {
				t.Fatalf("expected invalid-image reply, got %q", s.Body)
			}
			if n := len(h.coach.received()); n != 0 {
				t.Fatalf("failed media must not reach the coach, got %d", n)
			}
		})
	}
}

func TestWebhookRejectsBadForms(t *testing.T) {
	h := newHarness(Options{})

	tests := []struct {
		name string
		form url.Values
	}{
		{"missing from", url.Values{"Body": {"hi"}}},
		{"bad num media", url.Values{"From": {"whatsapp:+1"}, "NumMedia": {"many"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := h.post(tt.form); w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", w.Code)
			}
		})
	}
}

func TestWebhookQueueFull(t *testing.T) {
	h := newHarness(Options{QueueSize: 1})

	form := url.Values{"From": {"whatsapp:+15550005"}, "Body": {"hi"}}
	if w := h.post(form); w.Code != http.StatusOK {
		t.Fatalf("expected first message queued, got %d", w.Code)
	}
	if w := h.post(form); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when the queue is full, got %d", w.Code)
	}
}

func TestWorkerPoolIsBounded(t *testing.T) {
	h := newHarness(Options{Workers: 2, QueueSize: 8})
	h.coach.block = make(chan struct{})
	stop := h.start(t)

	for i := 0; i < 5; i++ {
		h.post(url.Values{"From": {"whatsapp:+1555000" + string(rune('a'+i))}, "Body": {"hi"}})
	}

	deadline := time.Now().Add(5 * time.Second)
	for len(h.coach.received()) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	// Give extra workers a chance to show up if the bound were broken.
	time.Sleep(50 * time.Millisecond)
	if n := len(h.coach.received()); n != 2 {
		t.Fatalf("expected exactly 2 messages in flight, got %d", n)
	}

	close(h.coach.block)
	for i := 0; i < 5; i++ {
		h.waitSent(t)
	}
	stop()

	h.coach.mu.Lock()
	defer h.coach.mu.Unlock()
	if h.coach.maxActive > 2 {
		t.Fatalf("expected at most 2 concurrent handlers, got %d", h.coach.maxActive)
	}
}

func TestRunFinishesInFlightOnShutdown(t *testing.T) {
	h := newHarness(Options{Workers: 1})
	h.coach.block = make(chan struct{})
	stop := h.start(t)

	h.post(url.Values{"From": {"whatsapp:+15550006"}, "Body": {"slow"}})
	deadline := time.Now().Add(5 * time.Second)
	for len(h.coach.received()) < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	stopped := make(chan struct{})
	go func() {
		stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Run returned before the in-flight message finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(h.coach.block)
	<-stopped
	if s := h.waitSent(t); s.Body != "reply to slow" {
		t.Fatalf("expected in-flight reply to be sent, got %q", s.Body)
	}
}

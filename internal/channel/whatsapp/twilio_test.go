package whatsapp

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/drillsergeant/coach/internal/config"
)

func newTestClient(srv *httptest.Server) *TwilioClient {
	return NewTwilioClient(config.WhatsAppConfig{
		AccountSID:   "AC123",
		AuthToken:    "secret",
		FromNumber:   "whatsapp:+14155238886",
		APIBase:      srv.URL + "/",
		MediaTimeout: time.Second,
	})
}

func TestTwilioSend(t *testing.T) {
	var gotPath, gotUser, gotPass, gotTo, gotFrom, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUser, gotPass, _ = r.BasicAuth()
		_ = r.ParseForm()
		gotTo, gotFrom, gotBody = r.PostForm.Get("To"), r.PostForm.Get("From"), r.PostForm.Get("Body")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM42","status":"queued"}`))
	}))
	defer srv.Close()

	sid, err := newTestClient(srv).Send(context.Background(), "whatsapp:+15550001", "Completed \"Run\" for today.")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if sid != "SM42" {
		t.Fatalf("expected SM42, got %q", sid)
	}
	if gotPath != "/2010-04-01/Accounts/AC123/Messages.json" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotUser != "AC123" || gotPass != "secret" {
		t.Fatalf("expected basic auth, got %q/%q", gotUser, gotPass)
	}
	if gotTo != "whatsapp:+15550001" || gotFrom != "whatsapp:+14155238886" || gotBody != "Completed \"Run\" for today." {
		t.Fatalf("unexpected form To=%q From=%q Body=%q", gotTo, gotFrom, gotBody)
	}
}

func TestTwilioSendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":21211,"message":"Invalid 'To' Phone Number"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv).Send(context.Background(), "bogus", "hi")
	if err == nil || !strings.Contains(err.Error(), "Invalid 'To' Phone Number") {
		t.Fatalf("expected twilio error message, got %v", err)
	}
}

func TestTwilioSendTruncatesLongBodies(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		gotBody = r.PostForm.Get("Body")
		_, _ = w.Write([]byte(`{"sid":"SM1"}`))
	}))
	defer srv.Close()

	if _, err := newTestClient(srv).Send(context.Background(), "whatsapp:+1", strings.Repeat("é", 2000)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if n := len([]rune(gotBody)); n != maxBodyRunes {
		t.Fatalf("expected %d runes, got %d", maxBodyRunes, n)
	}
}

func TestTwilioDownloadMedia(t *testing.T) {
	img := bytes.Repeat([]byte{0xAB}, 100)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user, pass, ok := r.BasicAuth(); !ok || user != "AC123" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/media/ok":
			_, _ = w.Write(img)
		case "/media/slow":
			select {
			case <-r.Context().Done():
			case <-time.After(3 * time.Second):
			}
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()
	c := newTestClient(srv)
	ctx := context.Background()

	data, err := c.DownloadMedia(ctx, srv.URL+"/media/ok", 1024)
	if err != nil || !bytes.Equal(data, img) {
		t.Fatalf("expected image bytes, got %d bytes, err %v", len(data), err)
	}

	if _, err := c.DownloadMedia(ctx, srv.URL+"/media/ok", 50); !errors.Is(err, ErrMediaTooLarge) {
		t.Fatalf("expected ErrMediaTooLarge, got %v", err)
	}
	if _, err := c.DownloadMedia(ctx, srv.URL+"/media/missing", 1024); err == nil {
		t.Fatal("expected error for 404")
	}
	if _, err := c.DownloadMedia(ctx, srv.URL+"/media/slow", 1024); err == nil {
		t.Fatal("expected media timeout")
	}
}

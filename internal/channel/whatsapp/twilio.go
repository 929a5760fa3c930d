package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/drillsergeant/coach/internal/config"
)

// maxBodyRunes is the WhatsApp message body limit enforced by Twilio.
const maxBodyRunes = 1600

// ErrMediaTooLarge is returned when a media download exceeds the size limit.
var ErrMediaTooLarge = errors.New("media exceeds size limit")

// TwilioClient sends WhatsApp messages and fetches inbound media through the
// Twilio REST API.
type TwilioClient struct {
	http         *http.Client
	base         string
	accountSID   string
	authToken    string
	from         string
	mediaTimeout time.Duration
}

// NewTwilioClient creates a client from the WhatsApp configuration.
func NewTwilioClient(cfg config.WhatsAppConfig) *TwilioClient {
	timeout := cfg.MediaTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &TwilioClient{
		http:         &http.Client{Timeout: 30 * time.Second},
		base:         strings.TrimRight(cfg.APIBase, "/"),
		accountSID:   cfg.AccountSID,
		authToken:    cfg.AuthToken,
		from:         cfg.FromNumber,
		mediaTimeout: timeout,
	}
}

type twilioError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Send delivers body to the WhatsApp address to and returns the message SID.
func (c *TwilioClient) Send(ctx context.Context, to, body string) (string, error) {
	form := url.Values{}
	form.Set("From", c.from)
	form.Set("To", to)
	form.Set("Body", truncate(body, maxBodyRunes))

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", c.base, url.PathEscape(c.accountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build send request: %w", err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read send response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		var te twilioError
		if json.Unmarshal(data, &te) == nil && te.Message != "" {
			return "", fmt.Errorf("send message: twilio %d (code %d): %s", resp.StatusCode, te.Code, te.Message)
		}
		return "", fmt.Errorf("send message: twilio status %d", resp.StatusCode)
	}

	var out struct {
		SID string `json:"sid"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("decode send response: %w", err)
	}
	slog.Info("WhatsApp message sent", "to", to, "sid", out.SID)
	return out.SID, nil
}

// DownloadMedia fetches an inbound media URL with account credentials. It
// fails with ErrMediaTooLarge when the body is larger than maxBytes.
func (c *TwilioClient) DownloadMedia(ctx context.Context, mediaURL string, maxBytes int64) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.mediaTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build media request: %w", err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download media: status %d", resp.StatusCode)
	}
	if resp.ContentLength > maxBytes {
		return nil, ErrMediaTooLarge
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read media: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, ErrMediaTooLarge
	}
	return data, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

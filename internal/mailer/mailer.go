// Package mailer delivers the re-engagement email through the platform mail
// API. Send failures are transient; the advisor retries them via queue
// redelivery.
package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"citizen-identity/session-notifications/internal/failure"
)

const defaultTimeout = 15 * time.Second

// Message is one outbound email.
type Message struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
	Text    string `json:"text"`
}

// Mailer sends email messages.
type Mailer interface {
	SendMail(ctx context.Context, msg Message) error
}

// HTTPMailer implements Mailer against the platform mail API.
type HTTPMailer struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewHTTPMailer returns a mailer for the mail API at baseURL.
func NewHTTPMailer(baseURL, apiKey string) *HTTPMailer {
	return &HTTPMailer{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: defaultTimeout},
	}
}

// SendMail posts the message to the mail API. Does not log recipient data.
func (m *HTTPMailer) SendMail(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return failure.Permanentf("mailer.send", "missing recipient")
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return failure.Permanent("mailer.send", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.BaseURL+"/messages", bytes.NewReader(raw))
	if err != nil {
		return failure.Transient("mailer.send", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", m.APIKey)

	resp, err := m.HTTPClient.Do(req)
	if err != nil {
		return failure.Transient("mailer.send", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return failure.Transient("mailer.send", fmt.Errorf("status=%d body=%s", resp.StatusCode, string(b)))
	}
	return nil
}

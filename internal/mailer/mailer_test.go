package mailer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"citizen-identity/session-notifications/internal/failure"
)

func TestSendMail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %q, want POST", r.Method)
		}
		if r.URL.Path != "/messages" {
			t.Errorf("path = %q, want /messages", r.URL.Path)
		}
		var msg Message
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			t.Errorf("body decode: %v", err)
		}
		if msg.To != "citizen@example.com" {
			t.Errorf("To = %q", msg.To)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	m := NewHTTPMailer(server.URL, "key")
	err := m.SendMail(context.Background(), Message{
		From: "no-reply@example.com", To: "citizen@example.com", Subject: "s", HTML: "<p>x</p>", Text: "x",
	})
	if err != nil {
		t.Fatalf("SendMail: %v", err)
	}
}

func TestSendMail_FailureIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	m := NewHTTPMailer(server.URL, "key")
	err := m.SendMail(context.Background(), Message{From: "a", To: "b", Subject: "s"})
	if !failure.IsTransient(err) || failure.IsPermanent(err) {
		t.Errorf("err = %v, want transient", err)
	}
}

func TestSendMail_MissingRecipientIsPermanent(t *testing.T) {
	m := NewHTTPMailer("http://unused", "key")
	err := m.SendMail(context.Background(), Message{From: "a", Subject: "s"})
	if !failure.IsPermanent(err) {
		t.Errorf("err = %v, want permanent", err)
	}
}

func TestRenderReengagement(t *testing.T) {
	data := ReengagementData{
		ExpiredAt: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
		LoginURL:  "https://app.example.com/login?token=abc",
	}
	msg, err := RenderReengagement("no-reply@example.com", "citizen@example.com", data)
	if err != nil {
		t.Fatalf("RenderReengagement: %v", err)
	}
	if msg.Subject == "" {
		t.Error("Subject is empty")
	}
	if !strings.Contains(msg.HTML, "01/06/2025") {
		t.Errorf("HTML missing formatted date:\n%s", msg.HTML)
	}
	if !strings.Contains(msg.HTML, data.LoginURL) {
		t.Error("HTML missing login URL")
	}
	if !strings.Contains(msg.Text, data.LoginURL) {
		t.Error("Text missing login URL")
	}
}

func TestMagicLink_BuildURL(t *testing.T) {
	secret := []byte("test-secret")
	b := NewMagicLinkBuilder(secret, "session-notifications", "https://app.example.com/login", time.Hour)
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return fixed }

	u, err := b.BuildURL("subject-1")
	if err != nil {
		t.Fatalf("BuildURL: %v", err)
	}
	if !strings.HasPrefix(u, "https://app.example.com/login?token=") {
		t.Fatalf("url = %q", u)
	}

	raw := strings.TrimPrefix(u, "https://app.example.com/login?token=")
	parsed, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return fixed }))
	if err != nil {
		t.Fatalf("token parse: %v", err)
	}
	claims := parsed.Claims.(*jwt.RegisteredClaims)
	if claims.Subject != "subject-1" {
		t.Errorf("sub = %q", claims.Subject)
	}
	if !claims.ExpiresAt.Time.Equal(fixed.Add(time.Hour)) {
		t.Errorf("exp = %v, want %v", claims.ExpiresAt.Time, fixed.Add(time.Hour))
	}
}

func TestMagicLink_NoSecret(t *testing.T) {
	b := NewMagicLinkBuilder(nil, "iss", "https://x", time.Hour)
	if _, err := b.BuildURL("s"); err == nil {
		t.Error("BuildURL should fail without a secret")
	}
}

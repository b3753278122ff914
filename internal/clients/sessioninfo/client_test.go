package sessioninfo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"citizen-identity/session-notifications/internal/failure"
)

func TestGetSession_Active(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %q, want GET", r.Method)
		}
		if r.URL.Path != "/sessions/subject-1" {
			t.Errorf("path = %q, want /sessions/subject-1", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "test-key" {
			t.Errorf("Authorization = %q, want test-key", r.Header.Get("Authorization"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"active":true}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	state, err := client.GetSession(context.Background(), "subject-1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if !state.Active {
		t.Error("Active = false, want true")
	}
}

func TestGetSession_NotFoundIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	_, err := client.GetSession(context.Background(), "subject-1")
	if !failure.IsTransient(err) || failure.IsPermanent(err) {
		t.Errorf("err = %v, want transient", err)
	}
}

func TestGetSession_BadBodyIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"active":`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	_, err := client.GetSession(context.Background(), "subject-1")
	if !failure.IsTransient(err) || failure.IsPermanent(err) {
		t.Errorf("err = %v, want transient", err)
	}
}

func TestGetSession_ConnectionErrorIsTransient(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", "test-key")
	_, err := client.GetSession(context.Background(), "subject-1")
	if !failure.IsTransient(err) {
		t.Errorf("err = %v, want transient", err)
	}
}

func TestGetSession_EscapesSubject(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		_, _ = w.Write([]byte(`{"active":false}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "k")
	if _, err := client.GetSession(context.Background(), "a/b"); err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if gotPath != "/sessions/a%2Fb" {
		t.Errorf("path = %q, want escaped subject", gotPath)
	}
}

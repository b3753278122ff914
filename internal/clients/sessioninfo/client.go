// Package sessioninfo queries the live session-info service for a subject's
// current session state. Every failure mode of the call (transport error,
// non-2xx status, undecodable body) is classified transient: the service is a
// contractually-typed dependency and a bad answer is worth retrying.
package sessioninfo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"citizen-identity/session-notifications/internal/failure"
)

const defaultTimeout = 10 * time.Second

// SessionState is the subject's current session state.
type SessionState struct {
	Active bool `json:"active"`
}

// Client calls the session-info service.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient returns a client for the session-info service at baseURL.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: defaultTimeout},
	}
}

// GetSession returns the subject's session state.
func (c *Client) GetSession(ctx context.Context, subjectID string) (SessionState, error) {
	endpoint := fmt.Sprintf("%s/sessions/%s", c.BaseURL, url.PathEscape(subjectID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return SessionState{}, failure.Transient("sessionInfo.get", err)
	}
	req.Header.Set("Authorization", c.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return SessionState{}, failure.Transient("sessionInfo.get", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return SessionState{}, failure.Transientf("sessionInfo.get", "status=%d for subject", resp.StatusCode)
	}

	var state SessionState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return SessionState{}, failure.Transient("sessionInfo.get", fmt.Errorf("decode response: %w", err))
	}
	return state, nil
}

// Package profile fetches the subject's profile (email and its validation
// status) from the profile service. Transport, status, and decode failures
// are transient, like the session-info client.
package profile

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

// Profile is the subset of the profile the advisor needs.
type Profile struct {
	Email            string `json:"email"`
	IsEmailValidated bool   `json:"is_email_validated"`
	IsEmailEnabled   bool   `json:"is_email_enabled"`
}

// HasValidatedEmail reports whether the profile can receive email advice.
func (p Profile) HasValidatedEmail() bool {
	return p.Email != "" && p.IsEmailValidated
}

// Client calls the profile service.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient returns a client for the profile service at baseURL.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: defaultTimeout},
	}
}

// GetProfile returns the subject's profile.
func (c *Client) GetProfile(ctx context.Context, subjectID string) (Profile, error) {
	endpoint := fmt.Sprintf("%s/profiles/%s", c.BaseURL, url.PathEscape(subjectID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Profile{}, failure.Transient("profile.get", err)
	}
	req.Header.Set("Authorization", c.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return Profile{}, failure.Transient("profile.get", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Profile{}, failure.Transientf("profile.get", "status=%d for subject", resp.StatusCode)
	}

	var p Profile
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return Profile{}, failure.Transient("profile.get", fmt.Errorf("decode response: %w", err))
	}
	return p, nil
}

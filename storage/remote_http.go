package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"game-profile-engine/models"
)

// HTTPRemote talks to the remote profile service (see handlers.SetupRemoteRoutes).
type HTTPRemote struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

func NewHTTPRemote(baseURL, token string, timeout time.Duration) (*HTTPRemote, error) {
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid remote URL '%s': %w", baseURL, err)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPRemote{
		BaseURL:    baseURL,
		Token:      token,
		HTTPClient: &http.Client{Timeout: timeout},
	}, nil
}

func (c *HTTPRemote) profileURL(id string, extra ...string) (string, error) {
	parts := append([]string{"remote", "profiles", id}, extra...)
	return url.JoinPath(c.BaseURL, parts...)
}

func (c *HTTPRemote) do(ctx context.Context, method, rawURL string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Service-Token", c.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call remote profile service: %w", err)
	}
	return resp, nil
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return fmt.Errorf("remote profile service returned status %d: %s", resp.StatusCode, string(body))
}

func (c *HTTPRemote) LoadProfile(ctx context.Context, id string) ([]byte, bool, error) {
	u, err := c.profileURL(id)
	if err != nil {
		return nil, false, err
	}
	resp, err := c.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, false, fmt.Errorf("failed to read remote profile: %w", err)
		}
		return raw, true, nil
	case http.StatusNotFound:
		return nil, false, nil
	default:
		return nil, false, statusError(resp)
	}
}

func (c *HTTPRemote) SaveProfile(ctx context.Context, id string, p models.Profile) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	u, err := c.profileURL(id)
	if err != nil {
		return err
	}
	resp, err := c.do(ctx, http.MethodPut, u, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusCreated:
		return nil
	case http.StatusConflict:
		return ErrRemoteConflict
	default:
		return statusError(resp)
	}
}

func (c *HTTPRemote) HasCompletedDaily(ctx context.Context, id, day string) (bool, error) {
	u, err := c.profileURL(id, "daily", day)
	if err != nil {
		return false, err
	}
	resp, err := c.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, statusError(resp)
	}
	var out struct {
		Completed bool `json:"completed"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("failed to decode daily status: %w", err)
	}
	return out.Completed, nil
}

func (c *HTTPRemote) MarkDailyCompleted(ctx context.Context, id, day string) error {
	u, err := c.profileURL(id, "daily", day)
	if err != nil {
		return err
	}
	resp, err := c.do(ctx, http.MethodPut, u, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return statusError(resp)
	}
	return nil
}

func (c *HTTPRemote) DeleteProfile(ctx context.Context, id string) error {
	u, err := c.profileURL(id)
	if err != nil {
		return err
	}
	resp, err := c.do(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return statusError(resp)
	}
	return nil
}

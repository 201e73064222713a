package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"BookAI/pkg/config"
)

// RemoteStore is the client for the hosted session store that mirrors every
// conversation. All methods are plain request/response; retry policy lives
// in PostWithRetry and in pkg/outbox.
type RemoteStore struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

var ErrRemoteDisabled = errors.New("remote session store is not configured")

// permanentError wraps a failure that retrying cannot fix (HTTP 4xx).
type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// IsPermanent reports whether err is a non-retryable remote failure.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

func NewRemoteStore() *RemoteStore {
	return &RemoteStore{
		baseURL: strings.TrimRight(config.RemoteStoreURL, "/"),
		apiKey:  config.RemoteStoreAPIKey,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// NewRemoteStoreAt points the client at an explicit base URL (tests).
func NewRemoteStoreAt(baseURL, apiKey string) *RemoteStore {
	return &RemoteStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Enabled reports whether a remote store is configured at all.
func (r *RemoteStore) Enabled() bool { return r.baseURL != "" }

// RemoteMessage is one stored message as the hosted store returns it.
type RemoteMessage struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// MessagePayload is the outbound persistence body. ClientMessageID lets the
// backend deduplicate retried writes.
type MessagePayload struct {
	SessionToken    string    `json:"session_token"`
	Role            string    `json:"role"`
	Message         string    `json:"message"`
	CreatedAt       time.Time `json:"created_at"`
	ClientMessageID string    `json:"clientMessageId"`
}

func (r *RemoteStore) FetchHistory(ctx context.Context, sessionToken string) ([]RemoteMessage, error) {
	if !r.Enabled() {
		return nil, ErrRemoteDisabled
	}
	u := fmt.Sprintf("%s/api/customer-support/sessions?session_token=%s", r.baseURL, url.QueryEscape(sessionToken))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	r.setHeaders(req)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http error: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read error: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError(resp.StatusCode, body)
	}

	var parsed struct {
		Messages []RemoteMessage `json:"messages"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode error: %w", err)
	}
	return parsed.Messages, nil
}

// PostMessage attempts one remote write.
func (r *RemoteStore) PostMessage(ctx context.Context, p MessagePayload) error {
	if !r.Enabled() {
		return ErrRemoteDisabled
	}
	return r.post(ctx, r.baseURL+"/api/customer-support/messages", p, nil)
}

// PostWithRetry retries a remote write with exponential backoff. Permanent
// failures (4xx) return immediately; only retryable classes burn attempts.
func (r *RemoteStore) PostWithRetry(ctx context.Context, p MessagePayload, retries int) error {
	if retries < 1 {
		retries = 1
	}
	backoff := time.Duration(config.PendingBackoffMS) * time.Millisecond
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	var err error
	for attempt := 0; attempt < retries; attempt++ {
		if attempt > 0 {
			sleepWithContext(ctx, backoff)
			backoff *= 2
		}
		err = r.PostMessage(ctx, p)
		if err == nil {
			return nil
		}
		if IsPermanent(err) || errors.Is(err, ErrRemoteDisabled) {
			return err
		}
		log.Printf("[remote] post attempt %d/%d failed: %v", attempt+1, retries, err)
	}
	return err
}

func (r *RemoteStore) DeleteSession(ctx context.Context, sessionToken string) error {
	if !r.Enabled() {
		return ErrRemoteDisabled
	}
	u := fmt.Sprintf("%s/api/customer-support/messages?session_token=%s", r.baseURL, url.QueryEscape(sessionToken))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return err
	}
	r.setHeaders(req)

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("http error: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(resp.StatusCode, body)
	}
	return nil
}

// Associate reconciles an anonymous session with an authenticated user and
// returns the canonical token the store assigned.
func (r *RemoteStore) Associate(ctx context.Context, sessionToken string, userID uint) (string, error) {
	if !r.Enabled() {
		return "", ErrRemoteDisabled
	}
	var out struct {
		CanonicalToken string `json:"canonical_token"`
	}
	body := map[string]any{"session_token": sessionToken, "user_id": userID}
	if err := r.post(ctx, r.baseURL+"/api/customer-support/associate", body, &out); err != nil {
		return "", err
	}
	if out.CanonicalToken == "" {
		return sessionToken, nil
	}
	return out.CanonicalToken, nil
}

// Ping probes the store's health endpoint; the outbox watcher uses it to
// detect offline→online transitions.
func (r *RemoteStore) Ping(ctx context.Context) error {
	if !r.Enabled() {
		return ErrRemoteDisabled
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("http error: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func (r *RemoteStore) post(ctx context.Context, u string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	r.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("http error: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read error: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(resp.StatusCode, respBody)
	}
	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode error: %w", err)
		}
	}
	return nil
}

func (r *RemoteStore) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}
}

// statusError classifies the failure: 4xx (except 429) is permanent, the
// rest is retryable.
func statusError(code int, body []byte) error {
	err := fmt.Errorf("status %d: %s", code, utilsTruncateBody(body))
	if code >= 400 && code < 500 && code != http.StatusTooManyRequests {
		return &permanentError{err: err}
	}
	return err
}

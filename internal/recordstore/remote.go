package recordstore

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Additional-Code/preorder/internal/config"
)

const maxRemoteBody = 10 << 20

// ErrMissingCredential is returned by every remote call when no token is configured.
var ErrMissingCredential = errors.New("remote store credential is not configured")

// RemoteStore talks to a GitHub-style repository contents API. The blob sha
// returned by the API is the version token, and the API itself rejects a PUT
// whose sha is stale (409) or missing for an existing file (422).
type RemoteStore struct {
	client  *http.Client
	baseURL string
	owner   string
	repo    string
	branch  string
	token   string
}

type remoteContent struct {
	SHA      string `json:"sha"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

type remotePutRequest struct {
	Message string `json:"message"`
	Content string `json:"content"`
	SHA     string `json:"sha,omitempty"`
	Branch  string `json:"branch,omitempty"`
}

type remotePutResponse struct {
	Content remoteContent `json:"content"`
}

// NewRemoteStore builds a client for the configured repository. A nil
// httpClient gets one bounded by cfg.Timeout.
func NewRemoteStore(cfg config.Remote, httpClient *http.Client) (*RemoteStore, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("remote base URL is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parse remote base URL: %w", err)
	}
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, errors.New("remote owner and repo are required")
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &RemoteStore{
		client:  httpClient,
		baseURL: baseURL,
		owner:   cfg.Owner,
		repo:    cfg.Repo,
		branch:  cfg.Branch,
		token:   strings.TrimSpace(cfg.Token),
	}, nil
}

// Read fetches the file contents and blob sha.
func (s *RemoteStore) Read(ctx context.Context, key string) (Entry, error) {
	if err := ValidateKey(key); err != nil {
		return Entry{}, err
	}

	endpoint := s.contentsURL(key)
	if s.branch != "" {
		endpoint += "?ref=" + url.QueryEscape(s.branch)
	}
	status, body, err := s.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Entry{}, fmt.Errorf("remote read %s: %w", key, err)
	}

	switch {
	case status == http.StatusOK:
	case status == http.StatusNotFound:
		return Entry{}, ErrNotFound
	default:
		return Entry{}, fmt.Errorf("remote read %s: %w", key, statusError(status, body))
	}

	var content remoteContent
	if err := json.Unmarshal(body, &content); err != nil {
		return Entry{}, fmt.Errorf("remote read %s: decode response: %w", key, err)
	}
	if content.SHA == "" {
		return Entry{}, fmt.Errorf("remote read %s: response carries no sha", key)
	}
	value, err := decodeContent(content)
	if err != nil {
		return Entry{}, fmt.Errorf("remote read %s: %w", key, err)
	}
	return Entry{Value: value, Version: Version(content.SHA)}, nil
}

// Write creates or updates the file with message as the commit message.
func (s *RemoteStore) Write(ctx context.Context, key string, value []byte, message string, expected Version) (Version, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}

	payload, err := json.Marshal(remotePutRequest{
		Message: message,
		Content: base64.StdEncoding.EncodeToString(value),
		SHA:     string(expected),
		Branch:  s.branch,
	})
	if err != nil {
		return "", fmt.Errorf("remote write %s: encode request: %w", key, err)
	}

	status, body, err := s.do(ctx, http.MethodPut, s.contentsURL(key), payload)
	if err != nil {
		return "", fmt.Errorf("remote write %s: %w", key, err)
	}

	switch {
	case status == http.StatusOK || status == http.StatusCreated:
	case status == http.StatusConflict, status == http.StatusUnprocessableEntity:
		return "", ErrConflict
	case status == http.StatusNotFound && expected != "":
		// the file we expected to update is gone
		return "", ErrConflict
	default:
		return "", fmt.Errorf("remote write %s: %w", key, statusError(status, body))
	}

	var resp remotePutResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("remote write %s: decode response: %w", key, err)
	}
	if resp.Content.SHA == "" {
		return "", fmt.Errorf("remote write %s: response carries no sha", key)
	}
	return Version(resp.Content.SHA), nil
}

func (s *RemoteStore) do(ctx context.Context, method, endpoint string, payload []byte) (int, []byte, error) {
	if s.token == "" {
		return 0, nil, ErrMissingCredential
	}

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteBody))
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func (s *RemoteStore) contentsURL(key string) string {
	segments := strings.Split(key, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return fmt.Sprintf("%s/repos/%s/%s/contents/%s",
		s.baseURL, url.PathEscape(s.owner), url.PathEscape(s.repo), strings.Join(segments, "/"))
}

func decodeContent(content remoteContent) ([]byte, error) {
	switch content.Encoding {
	case "base64", "":
		// the API wraps base64 payloads at 60 columns
		cleaned := strings.NewReplacer("\n", "", "\r", "").Replace(content.Content)
		value, err := base64.StdEncoding.DecodeString(cleaned)
		if err != nil {
			return nil, fmt.Errorf("decode content: %w", err)
		}
		return value, nil
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", content.Encoding)
	}
}

func statusError(status int, body []byte) error {
	var apiErr struct {
		Message string `json:"message"`
	}
	msg := http.StatusText(status)
	if json.Unmarshal(body, &apiErr) == nil && strings.TrimSpace(apiErr.Message) != "" {
		msg = strings.TrimSpace(apiErr.Message)
	}
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("authentication failed (%d): %s", status, msg)
	default:
		return fmt.Errorf("unexpected status %d: %s", status, msg)
	}
}

var _ Store = (*RemoteStore)(nil)

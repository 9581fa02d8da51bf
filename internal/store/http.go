package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zhouzirui/cobuild/backend/internal/model/build"
)

// HTTPStore reads and writes projects through the relay's REST endpoints.
// Transport failures and 503 responses map to ErrUnavailable.
type HTTPStore struct {
	baseURL string
	client  *http.Client
}

// NewHTTPStore returns a store talking to the API rooted at baseURL, for
// example "http://localhost:8080". A nil client uses a 10s timeout.
func NewHTTPStore(baseURL string, client *http.Client) *HTTPStore {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPStore{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// BaseURLFromRelay derives the API root from a relay websocket URL such as
// "ws://host:8080/ws".
func BaseURLFromRelay(relayURL string) (string, error) {
	u, err := url.Parse(relayURL)
	if err != nil {
		return "", fmt.Errorf("parse relay url: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http", "https":
	default:
		return "", fmt.Errorf("unsupported relay scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(strings.TrimRight(u.Path, "/"), "/ws")
	u.RawQuery = ""
	return strings.TrimRight(u.String(), "/"), nil
}

func (s *HTTPStore) endpoint(projectID, resource string) string {
	return s.baseURL + "/api/projects/" + url.PathEscape(projectID) + "/" + resource
}

func (s *HTTPStore) GetDocument(ctx context.Context, projectID string) (build.Document, error) {
	var doc build.Document
	if err := s.do(ctx, http.MethodGet, s.endpoint(projectID, "config"), nil, &doc); err != nil {
		return build.Document{}, err
	}
	if doc.Selections == nil {
		doc.Selections = map[string]string{}
	}
	return doc, nil
}

func (s *HTTPStore) PutDocument(ctx context.Context, projectID string, doc build.Document) error {
	return s.do(ctx, http.MethodPut, s.endpoint(projectID, "config"), doc, nil)
}

func (s *HTTPStore) GetThreads(ctx context.Context, projectID string) (build.Threads, error) {
	threads := build.Threads{}
	if err := s.do(ctx, http.MethodGet, s.endpoint(projectID, "comments"), nil, &threads); err != nil {
		return nil, err
	}
	return threads, nil
}

func (s *HTTPStore) PutThreads(ctx context.Context, projectID string, threads build.Threads) error {
	if threads == nil {
		threads = build.Threads{}
	}
	return s.do(ctx, http.MethodPut, s.endpoint(projectID, "comments"), threads, nil)
}

func (s *HTTPStore) do(ctx context.Context, method, target string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrUnavailable, method, target, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusServiceUnavailable:
		return fmt.Errorf("%w: %s %s returned %d", ErrUnavailable, method, target, resp.StatusCode)
	case resp.StatusCode >= 300:
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("%s %s returned %d: %s", method, target, resp.StatusCode, apiErr.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Package graderclient is the worker side of the grading protocol: it lists,
// claims, downloads, and resolves submissions over HTTP with a bearer key.
package graderclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrAuth is returned for 401 and 403 responses.
	ErrAuth = errors.New("authentication failed")
	// ErrNotFound is returned for 404 responses.
	ErrNotFound = errors.New("resource not found")
	// ErrAlreadyClaimed is returned for 409 responses.
	ErrAlreadyClaimed = errors.New("submission already claimed")
)

// BadResponseError is returned for any other non-2xx response.
type BadResponseError struct {
	StatusCode int
	Body       string
}

func (e *BadResponseError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// Submission is the worker's view of a pending submission.
type Submission struct {
	ID     int64  `json:"id"`
	UserID string `json:"userId"`
	Arch   string `json:"arch"`
	Status string `json:"status"`
}

// Client talks to the portal's /api/grader endpoints.
type Client struct {
	baseURL string
	key     string
	http    *http.Client
}

// New creates a Client. A nil httpClient gets a 30 second timeout.
func New(baseURL, key string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		key:     key,
		http:    httpClient,
	}
}

// ListSubmissions returns the oldest waiting submissions for arch.
func (c *Client) ListSubmissions(ctx context.Context, arch string) ([]Submission, error) {
	var subs []Submission
	path := "/api/grader/submissions?arch=" + url.QueryEscape(arch)
	if err := c.doJSON(ctx, http.MethodGet, path, &subs); err != nil {
		return nil, err
	}
	return subs, nil
}

// Claim takes a waiting submission. It returns ErrAlreadyClaimed if another
// worker got there first.
func (c *Client) Claim(ctx context.Context, id int64) error {
	return c.doJSON(ctx, http.MethodPost, submissionPath(id, "claim"), nil)
}

// Cancel returns a grading submission to the queue. Only keys owned by an
// admin may do this. It reports whether anything was cancelled.
func (c *Client) Cancel(ctx context.Context, id int64) (bool, error) {
	var out struct {
		Cancelled bool `json:"cancelled"`
	}
	if err := c.doJSON(ctx, http.MethodPost, submissionPath(id, "cancel"), &out); err != nil {
		return false, err
	}
	return out.Cancelled, nil
}

// DownloadTarball streams a submission's archive into w.
func (c *Client) DownloadTarball(ctx context.Context, id int64, w io.Writer) (int64, error) {
	resp, err := c.do(ctx, http.MethodGet, submissionPath(id, "tarball"), nil, "")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("downloading tarball: %w", err)
	}
	return n, nil
}

// SubmitResult reports a verdict and uploads the grading log.
func (c *Client) SubmitResult(ctx context.Context, id int64, passed bool, logs io.Reader) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("passed", strconv.FormatBool(passed)); err != nil {
		return fmt.Errorf("writing passed field: %w", err)
	}
	part, err := mw.CreateFormFile("logs", "logs.txt")
	if err != nil {
		return fmt.Errorf("creating logs part: %w", err)
	}
	if _, err := io.Copy(part, logs); err != nil {
		return fmt.Errorf("copying logs: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("closing multipart body: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, submissionPath(id, "result"), &body, mw.FormDataContentType())
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Heartbeat marks the worker alive and idle.
func (c *Client) Heartbeat(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/api/grader/heartbeat", nil)
}

// GradingHeartbeat marks the worker alive and busy.
func (c *Client) GradingHeartbeat(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/api/grader/grading", nil)
}

// doJSON sends a bodiless request and decodes the envelope's data into out
// when out is non-nil.
func (c *Client) doJSON(ctx context.Context, method, path string, out any) error {
	resp, err := c.do(ctx, method, path, nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decoding response data: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.key)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	slog.Debug("grader request", "method", method, "path", path)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}

	if err := checkStatus(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp, nil
}

func checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return ErrAuth
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusConflict:
		return ErrAlreadyClaimed
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &BadResponseError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	return nil
}

func submissionPath(id int64, action string) string {
	return "/api/grader/submissions/" + strconv.FormatInt(id, 10) + "/" + action
}

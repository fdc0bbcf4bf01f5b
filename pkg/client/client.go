// Package client is a typed HTTP client for the aegis analysis daemon.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Run status values reported by the daemon.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	APIKey     string
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.HTTPClient = client
	}
}

func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.APIKey = key
	}
}

func NewClient(baseURL string, opts ...Option) *Client {
	client := &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// APIError is a structured error response from the daemon.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s (status %d)", e.Code, e.Message, e.Status)
}

type Artifact struct {
	Stage     string `json:"stage"`
	Location  string `json:"location"`
	SHA256    string `json:"sha256"`
	SizeBytes int64  `json:"size_bytes"`
}

type Digest struct {
	Kind         string `json:"kind"`
	Findings     int    `json:"findings"`
	Confirmed    int    `json:"confirmed"`
	Remediations int    `json:"remediations"`
}

type Stage struct {
	Stage       string    `json:"stage"`
	Index       int       `json:"index"`
	Status      string    `json:"status"`
	AuditSeq    int64     `json:"audit_seq"`
	Fingerprint string    `json:"fingerprint"`
	Cause       string    `json:"cause,omitempty"`
	Error       string    `json:"error,omitempty"`
	ExitCode    int       `json:"exit_code"`
	Input       *Artifact `json:"input,omitempty"`
	Artifact    *Artifact `json:"artifact,omitempty"`
	Digest      *Digest   `json:"digest,omitempty"`
	DurationMS  int64     `json:"duration_ms"`
	StartedAt   string    `json:"started_at"`
}

type Failure struct {
	Stage          string    `json:"stage"`
	Cause          string    `json:"cause"`
	Message        string    `json:"message"`
	OrphanArtifact *Artifact `json:"orphan_artifact,omitempty"`
}

type Run struct {
	RunID          string   `json:"run_id"`
	ContractRef    string   `json:"contract_ref"`
	ContractSHA256 string   `json:"contract_sha256"`
	Submitter      string   `json:"submitter,omitempty"`
	Topic          string   `json:"topic"`
	Status         string   `json:"status"`
	Stages         []Stage  `json:"stages"`
	Failure        *Failure `json:"failure,omitempty"`
	SummarySeq     int64    `json:"summary_seq,omitempty"`
	RemediationSeq int64    `json:"remediation_seq,omitempty"`
	CreatedAt      string   `json:"created_at"`
	StartedAt      string   `json:"started_at,omitempty"`
	CompletedAt    string   `json:"completed_at,omitempty"`
}

func (r Run) Terminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusFailed
}

type Entry struct {
	Topic       string          `json:"topic"`
	Seq         int64           `json:"seq"`
	Payload     json.RawMessage `json:"payload"`
	PayloadHash string          `json:"payload_hash"`
	PrevHash    string          `json:"prev_hash"`
	Fingerprint string          `json:"fingerprint"`
	CreatedAt   string          `json:"created_at"`
}

type Trail struct {
	Run     Run     `json:"run"`
	Entries []Entry `json:"entries"`
	Mirror  *Entry  `json:"mirror,omitempty"`
}

type Verification struct {
	RunID    string   `json:"run_id,omitempty"`
	Topic    string   `json:"topic"`
	Checked  int      `json:"checked"`
	OK       bool     `json:"ok"`
	Problems []string `json:"problems,omitempty"`
}

type Checkpoint struct {
	Topic    string `json:"topic"`
	TreeSize int64  `json:"tree_size"`
	RootHash string `json:"root_hash"`
	IssuedAt string `json:"issued_at"`
}

type Proof struct {
	Topic     string   `json:"topic"`
	Seq       int64    `json:"seq"`
	LeafIndex int64    `json:"leaf_index"`
	Path      []string `json:"path"`
	TreeSize  int64    `json:"tree_size"`
	RootHash  string   `json:"root_hash"`
}

type SubmitRunInput struct {
	ContractRef string `json:"contract_ref"`
	Submitter   string `json:"submitter,omitempty"`
}

func (c *Client) SubmitRun(ctx context.Context, input SubmitRunInput) (Run, error) {
	if input.ContractRef == "" {
		return Run{}, fmt.Errorf("contract_ref is required")
	}
	var run Run
	err := c.doJSON(ctx, http.MethodPost, "/v1/runs", input, &run)
	return run, err
}

func (c *Client) GetRun(ctx context.Context, runID string) (Run, error) {
	var run Run
	err := c.doJSON(ctx, http.MethodGet, "/v1/runs/"+url.PathEscape(runID), nil, &run)
	return run, err
}

func (c *Client) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	path := "/v1/runs"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp struct {
		Runs []Run `json:"runs"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Runs, nil
}

func (c *Client) CancelRun(ctx context.Context, runID string) (bool, error) {
	var resp struct {
		Cancelled bool `json:"cancelled"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/v1/runs/"+url.PathEscape(runID)+"/cancel", nil, &resp)
	return resp.Cancelled, err
}

func (c *Client) FetchTrail(ctx context.Context, runID string) (Trail, error) {
	var trail Trail
	err := c.doJSON(ctx, http.MethodGet, "/v1/runs/"+url.PathEscape(runID)+"/trail", nil, &trail)
	return trail, err
}

func (c *Client) VerifyRun(ctx context.Context, runID string) (Verification, error) {
	var v Verification
	err := c.doJSON(ctx, http.MethodGet, "/v1/runs/"+url.PathEscape(runID)+"/verify", nil, &v)
	return v, err
}

// Artifact fetches a stage's stored report bytes.
func (c *Client) Artifact(ctx context.Context, runID, stage string) ([]byte, error) {
	path := "/v1/runs/" + url.PathEscape(runID) + "/artifacts/" + url.PathEscape(stage)
	return c.doRaw(ctx, http.MethodGet, path, nil)
}

func (c *Client) TopicEntries(ctx context.Context, topic string, from, to int64) ([]Entry, error) {
	query := url.Values{}
	if from > 0 {
		query.Set("from", strconv.FormatInt(from, 10))
	}
	if to > 0 {
		query.Set("to", strconv.FormatInt(to, 10))
	}
	path := "/v1/topics/" + url.PathEscape(topic) + "/entries"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}
	var resp struct {
		Entries []Entry `json:"entries"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

func (c *Client) TopicCheckpoint(ctx context.Context, topic string) (Checkpoint, error) {
	var cp Checkpoint
	err := c.doJSON(ctx, http.MethodGet, "/v1/topics/"+url.PathEscape(topic)+"/checkpoint", nil, &cp)
	return cp, err
}

func (c *Client) TopicProof(ctx context.Context, topic string, seq int64) (Proof, error) {
	var proof Proof
	path := "/v1/topics/" + url.PathEscape(topic) + "/proof?seq=" + strconv.FormatInt(seq, 10)
	err := c.doJSON(ctx, http.MethodGet, path, nil, &proof)
	return proof, err
}

// VerifyTopic re-walks a topic's hash chain on the daemon. With from > 0 only
// the window [from, to] is checked, anchored to the preceding entry.
func (c *Client) VerifyTopic(ctx context.Context, topic string, from, to int64) (Verification, error) {
	query := url.Values{}
	if from > 0 {
		query.Set("from", strconv.FormatInt(from, 10))
	}
	if to > 0 {
		query.Set("to", strconv.FormatInt(to, 10))
	}
	path := "/v1/topics/" + url.PathEscape(topic) + "/verify"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}
	var v Verification
	err := c.doJSON(ctx, http.MethodGet, path, nil, &v)
	return v, err
}

// WaitTerminal polls the run until it completes or fails.
func (c *Client) WaitTerminal(ctx context.Context, runID string, poll time.Duration) (Run, error) {
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		run, err := c.GetRun(ctx, runID)
		if err != nil {
			return Run{}, err
		}
		if run.Terminal() {
			return run, nil
		}
		select {
		case <-ctx.Done():
			return Run{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) doRaw(ctx context.Context, method, path string, body any) ([]byte, error) {
	if c == nil || c.BaseURL == "" {
		return nil, fmt.Errorf("client base URL is required")
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("X-API-Key", c.APIKey)
	}
	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		if json.Unmarshal(data, apiErr) == nil && apiErr.Code != "" {
			return nil, apiErr
		}
		return nil, fmt.Errorf("%s %s failed: status %d body %s", method, path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	data, err := c.doRaw(ctx, method, path, body)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

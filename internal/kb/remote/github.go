package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Bestie123/PromAi/internal/kb/schema"
)

const (
	// DefaultGitHubURL is the public GitHub REST endpoint.
	DefaultGitHubURL = "https://api.github.com"

	// DefaultPath is the blob location inside the repository.
	DefaultPath = "tech-data.json"

	defaultUserAgent = "kbsync"
	githubAccept     = "application/vnd.github.v3+json"
	githubAcceptRaw  = "application/vnd.github.raw"

	// maxResponse caps how much of a response body is read.
	maxResponse = 64 << 20
)

// GitHubConfig locates the blob in a GitHub repository.
type GitHubConfig struct {
	Token  string
	Owner  string
	Repo   string
	Path   string // default tech-data.json
	Branch string // default: the repository's default branch

	BaseURL   string        // default https://api.github.com
	UserAgent string        // default kbsync
	Timeout   time.Duration // per call, default 30s

	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// Validate reports missing credentials as ErrConfiguration.
func (c GitHubConfig) Validate() error {
	var missing []string
	if c.Token == "" {
		missing = append(missing, "token")
	}
	if c.Owner == "" {
		missing = append(missing, "owner")
	}
	if c.Repo == "" {
		missing = append(missing, "repo")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: github %s required", ErrConfiguration, strings.Join(missing, ", "))
	}
	return nil
}

// GitHub stores the document through the repository contents API.
type GitHub struct {
	cfg    GitHubConfig
	client *http.Client
	now    func() time.Time
}

// NewGitHub returns a client for cfg. Missing credentials yield
// ErrConfiguration.
func NewGitHub(cfg GitHubConfig) (*GitHub, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultGitHubURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &GitHub{cfg: cfg, client: client, now: time.Now}, nil
}

func (g *GitHub) repoURL() string {
	return fmt.Sprintf("%s/repos/%s/%s", g.cfg.BaseURL, url.PathEscape(g.cfg.Owner), url.PathEscape(g.cfg.Repo))
}

func (g *GitHub) contentsURL() string {
	parts := strings.Split(strings.Trim(g.cfg.Path, "/"), "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	u := g.repoURL() + "/contents/" + strings.Join(parts, "/")
	if g.cfg.Branch != "" {
		u += "?ref=" + url.QueryEscape(g.cfg.Branch)
	}
	return u
}

func (g *GitHub) newRequest(ctx context.Context, method, u string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "token "+g.cfg.Token)
	req.Header.Set("Accept", githubAccept)
	req.Header.Set("User-Agent", g.cfg.UserAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// do sends req and returns the status and body. Transport failures are
// classified as ErrNetwork or ErrTimeout.
func (g *GitHub) do(ctx context.Context, req *http.Request) (int, http.Header, []byte, error) {
	resp, err := g.client.Do(req)
	if err != nil {
		if c := classifyContext(ctx, err); c != err {
			return 0, nil, nil, c
		}
		return 0, nil, nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponse))
	if err != nil {
		return 0, nil, nil, classifyContext(ctx, fmt.Errorf("%w: failed to read response: %v", ErrNetwork, err))
	}
	return resp.StatusCode, resp.Header, data, nil
}

// statusError maps a non-success status to the taxonomy.
func statusError(op string, status int, header http.Header, body []byte) error {
	var msg struct {
		Message string `json:"message"`
	}
	_ = json.Unmarshal(body, &msg)
	detail := msg.Message
	if detail == "" {
		detail = http.StatusText(status)
	}

	switch {
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %s: %s", ErrNotFound, op, detail)
	case status == http.StatusForbidden && header.Get("X-RateLimit-Remaining") == "0":
		return fmt.Errorf("%w: %s: rate limited: %s", ErrNetwork, op, detail)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %s: %s", ErrAuth, op, detail)
	case status == http.StatusConflict || status == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s: %s", ErrVersionConflict, op, detail)
	case status == http.StatusTooManyRequests || status >= 500:
		return fmt.Errorf("%w: %s: HTTP %d: %s", ErrNetwork, op, status, detail)
	default:
		return fmt.Errorf("%s: unexpected HTTP %d: %s", op, status, detail)
	}
}

type contentsResponse struct {
	SHA      string `json:"sha"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
	Size     int64  `json:"size"`
}

// Fetch reads the blob and its sha.
func (g *GitHub) Fetch(ctx context.Context) (*Snapshot, error) {
	ctx, cancel := withTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	req, err := g.newRequest(ctx, http.MethodGet, g.contentsURL(), nil)
	if err != nil {
		return nil, err
	}
	status, header, body, err := g.do(ctx, req)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, statusError("fetch", status, header, body)
	}

	var resp contentsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: fetch: unreadable response: %v", ErrNetwork, err)
	}

	var data []byte
	switch {
	case resp.Encoding == "base64":
		// GitHub wraps base64 at 60 columns.
		data, err = base64.StdEncoding.DecodeString(strings.ReplaceAll(resp.Content, "\n", ""))
		if err != nil {
			return &Snapshot{Tag: resp.SHA}, fmt.Errorf("%w: %w: bad base64: %v", ErrNotFound, ErrMalformed, err)
		}
	case resp.Size > 0:
		// Blobs over 1 MB come back with encoding "none"; ask for raw bytes.
		data, err = g.fetchRaw(ctx)
		if err != nil {
			return nil, err
		}
	}

	return decodeBlob(data, resp.SHA)
}

func (g *GitHub) fetchRaw(ctx context.Context) ([]byte, error) {
	req, err := g.newRequest(ctx, http.MethodGet, g.contentsURL(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", githubAcceptRaw)
	status, header, body, err := g.do(ctx, req)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, statusError("fetch raw", status, header, body)
	}
	return body, nil
}

type putRequest struct {
	Message string `json:"message"`
	Content string `json:"content"`
	SHA     string `json:"sha,omitempty"`
	Branch  string `json:"branch,omitempty"`
}

type putResponse struct {
	Content struct {
		SHA string `json:"sha"`
	} `json:"content"`
}

// Write stores doc with an auto-save commit message.
func (g *GitHub) Write(ctx context.Context, doc *schema.Document, expectedTag string) (string, error) {
	return g.WriteWithMessage(ctx, doc, expectedTag, AutoSaveMessage(g.now()))
}

// WriteWithMessage stores doc, guarded by expectedTag, as one commit.
func (g *GitHub) WriteWithMessage(ctx context.Context, doc *schema.Document, expectedTag, message string) (string, error) {
	data, tag, err := encodeBlob(doc)
	if err != nil {
		return "", err
	}

	payload, err := json.Marshal(putRequest{
		Message: message,
		Content: base64.StdEncoding.EncodeToString(data),
		SHA:     expectedTag,
		Branch:  g.cfg.Branch,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, cancel := withTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	// The branch travels in the body for PUT.
	u := strings.SplitN(g.contentsURL(), "?", 2)[0]
	req, err := g.newRequest(ctx, http.MethodPut, u, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	status, header, body, err := g.do(ctx, req)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return "", statusError("write", status, header, body)
	}

	var resp putResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.Content.SHA == "" {
		// The write landed; fall back to the locally computed blob hash.
		return tag, nil
	}
	return resp.Content.SHA, nil
}

// Verify checks that the token can read the repository.
func (g *GitHub) Verify(ctx context.Context) error {
	ctx, cancel := withTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	req, err := g.newRequest(ctx, http.MethodGet, g.repoURL(), nil)
	if err != nil {
		return err
	}
	status, header, body, err := g.do(ctx, req)
	if err != nil {
		return err
	}
	switch status {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("%w: repository %s/%s not found or not visible to this token", ErrConfiguration, g.cfg.Owner, g.cfg.Repo)
	default:
		return statusError("verify", status, header, body)
	}
}

// String identifies the blob location in logs.
func (g *GitHub) String() string {
	s := fmt.Sprintf("github:%s/%s/%s", g.cfg.Owner, g.cfg.Repo, g.cfg.Path)
	if g.cfg.Branch != "" {
		s += "@" + g.cfg.Branch
	}
	return s
}

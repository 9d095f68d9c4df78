// Package githost implements the history backend over a GitHub-compatible
// contents/commits REST API. The remote repository is the system of record;
// this client only translates the Adapter contract onto the wire API and
// maps its failure modes onto the backend sentinels.
package githost

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

	"github.com/txn2/config-store/pkg/backend"
)

const defaultTimeout = 30 * time.Second

// Config configures the client.
type Config struct {
	// BaseURL is the API root, e.g. "https://api.github.com" or a
	// GitHub Enterprise "/api/v3" root.
	BaseURL string

	// Repo is the "owner/name" repository holding the config files.
	Repo string

	// Branch is the branch all reads and writes target.
	Branch string

	// Token is the access token sent as a bearer credential.
	Token string

	// Timeout bounds each request when the caller's context carries no
	// deadline of its own.
	Timeout time.Duration
}

// Client is a backend.Adapter over the remote API.
type Client struct {
	base   string
	repo   string
	branch string
	token  string
	http   *http.Client
}

// New creates a Client. The repo and token must be set; branch defaults
// to "main".
func New(cfg Config) (*Client, error) {
	if cfg.Repo == "" {
		return nil, errors.New("githost: repo is required")
	}
	if cfg.Token == "" {
		return nil, errors.New("githost: token is required")
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://api.github.com"
	}
	branch := cfg.Branch
	if branch == "" {
		branch = "main"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		base:   base,
		repo:   cfg.Repo,
		branch: branch,
		token:  cfg.Token,
		http:   &http.Client{Timeout: timeout},
	}, nil
}

// contentsURL builds /repos/{repo}/contents/{path}.
func (c *Client) contentsURL(path string) string {
	segs := strings.Split(path, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return c.base + "/repos/" + c.repo + "/contents/" + strings.Join(segs, "/")
}

func (c *Client) do(ctx context.Context, method, rawURL string, body any) (*http.Response, error) {
	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("githost: encoding request: %w", err)
		}
		rdr = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, rdr)
	if err != nil {
		return nil, fmt.Errorf("githost: building request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := c.http.Do(req)
	if err != nil {
		return nil, mapTransportErr(err)
	}
	return res, nil
}

// mapTransportErr classifies request-level failures. Deadline and
// client-timeout errors become ErrTimeout so the engine can apply its
// no-partial-write confirmation.
func mapTransportErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", backend.ErrTimeout, err)
	}
	var ue *url.Error
	if errors.As(err, &ue) && ue.Timeout() {
		return fmt.Errorf("%w: %v", backend.ErrTimeout, err)
	}
	return fmt.Errorf("githost: %w", err)
}

// mapStatusErr classifies non-2xx responses.
func mapStatusErr(res *http.Response) error {
	msg := apiMessage(res)
	switch {
	case res.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", backend.ErrNotFound, msg)
	case res.StatusCode == http.StatusConflict:
		return fmt.Errorf("%w: %s", backend.ErrConflict, msg)
	case res.StatusCode == http.StatusUnprocessableEntity:
		if strings.Contains(strings.ToLower(msg), "already exists") {
			return fmt.Errorf("%w: %s", backend.ErrAlreadyExists, msg)
		}
		// A stale blob SHA surfaces as 422 on this API.
		return fmt.Errorf("%w: %s", backend.ErrConflict, msg)
	default:
		return fmt.Errorf("githost: unexpected status %d: %s", res.StatusCode, msg)
	}
}

func apiMessage(res *http.Response) string {
	var p struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(io.LimitReader(res.Body, 4096)).Decode(&p); err != nil || p.Message == "" {
		return res.Status
	}
	return p.Message
}

// fileInfo is the contents-API view of a file.
type fileInfo struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	Path    string `json:"path"`
	SHA     string `json:"sha"`
	Content string `json:"content"`
}

// getFile fetches path at ref ("" means the configured branch).
func (c *Client) getFile(ctx context.Context, path, ref string) (*fileInfo, error) {
	if ref == "" {
		ref = c.branch
	}
	res, err := c.do(ctx, http.MethodGet, c.contentsURL(path)+"?ref="+url.QueryEscape(ref), nil)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, mapStatusErr(res)
	}
	var fi fileInfo
	if err := json.NewDecoder(res.Body).Decode(&fi); err != nil {
		return nil, fmt.Errorf("githost: decoding contents: %w", err)
	}
	return &fi, nil
}

// Append commits content for path on the configured branch. An existing
// file is updated against its current blob SHA; the API rejects a stale
// SHA, which surfaces as ErrConflict.
func (c *Client) Append(ctx context.Context, path string, content []byte, message string) (backend.VersionID, error) {
	payload := map[string]any{
		"message": message,
		"content": base64.StdEncoding.EncodeToString(content),
		"branch":  c.branch,
	}
	fi, err := c.getFile(ctx, path, "")
	switch {
	case err == nil:
		payload["sha"] = fi.SHA
	case errors.Is(err, backend.ErrNotFound):
		// Create: no blob SHA to supply.
	default:
		return "", err
	}

	res, err := c.do(ctx, http.MethodPut, c.contentsURL(path), payload)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK && res.StatusCode != http.StatusCreated {
		return "", mapStatusErr(res)
	}
	return decodeCommitSHA(res.Body)
}

// Read returns path content at version, or at the branch tip when
// version is empty.
func (c *Client) Read(ctx context.Context, path string, version backend.VersionID) ([]byte, error) {
	fi, err := c.getFile(ctx, path, string(version))
	if err != nil {
		return nil, err
	}
	raw, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(fi.Content, "\n", ""))
	if err != nil {
		return nil, fmt.Errorf("githost: decoding content: %w", err)
	}
	return raw, nil
}

// commitInfo is the commits-API view of one commit touching a path.
type commitInfo struct {
	SHA    string `json:"sha"`
	Commit struct {
		Message string `json:"message"`
		Author  struct {
			Name string    `json:"name"`
			Date time.Time `json:"date"`
		} `json:"author"`
	} `json:"commit"`
}

// commitsPageSize is the per_page cap of the commits API.
const commitsPageSize = 100

// listCommits pages through the commits API for path, newest first,
// until a short page signals the end of history.
func (c *Client) listCommits(ctx context.Context, path string) ([]commitInfo, error) {
	var all []commitInfo
	for page := 1; ; page++ {
		u := fmt.Sprintf("%s/repos/%s/commits?sha=%s&path=%s&per_page=%d&page=%d",
			c.base, c.repo, url.QueryEscape(c.branch), url.QueryEscape(path), commitsPageSize, page)
		batch, err := c.commitsPage(ctx, u)
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < commitsPageSize {
			return all, nil
		}
	}
}

func (c *Client) commitsPage(ctx context.Context, u string) ([]commitInfo, error) {
	res, err := c.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, mapStatusErr(res)
	}
	var batch []commitInfo
	if err := json.NewDecoder(res.Body).Decode(&batch); err != nil {
		return nil, fmt.Errorf("githost: decoding commits: %w", err)
	}
	return batch, nil
}

// ListVersions returns the full commit history of path, oldest first.
// The wire API reports newest first in pages; every page is fetched and
// the order reversed here. Tombstones are detected by probing for the
// file at each commit, which costs one request per commit.
func (c *Client) ListVersions(ctx context.Context, path string) ([]backend.Commit, error) {
	commits, err := c.listCommits(ctx, path)
	if err != nil {
		return nil, err
	}
	if len(commits) == 0 {
		return nil, fmt.Errorf("%w: %s", backend.ErrNotFound, path)
	}

	out := make([]backend.Commit, 0, len(commits))
	for i := len(commits) - 1; i >= 0; i-- {
		ci := commits[i]
		tombstone := false
		if _, err := c.getFile(ctx, path, ci.SHA); err != nil {
			if !errors.Is(err, backend.ErrNotFound) {
				return nil, err
			}
			tombstone = true
		}
		out = append(out, backend.Commit{
			ID:        backend.VersionID(ci.SHA),
			Message:   ci.Commit.Message,
			Author:    ci.Commit.Author.Name,
			Timestamp: ci.Commit.Author.Date,
			Tombstone: tombstone,
		})
	}
	return out, nil
}

// Delete commits a removal of path and returns the tombstone commit id.
func (c *Client) Delete(ctx context.Context, path string, message string) (backend.VersionID, error) {
	fi, err := c.getFile(ctx, path, "")
	if err != nil {
		return "", err
	}
	payload := map[string]any{
		"message": message,
		"sha":     fi.SHA,
		"branch":  c.branch,
	}
	res, err := c.do(ctx, http.MethodDelete, c.contentsURL(path), payload)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return "", mapStatusErr(res)
	}
	return decodeCommitSHA(res.Body)
}

// ListPaths returns the live files under prefix (a directory) on the
// configured branch. A missing directory is an empty listing, not an
// error: projects exist only as path prefixes.
func (c *Client) ListPaths(ctx context.Context, prefix string) ([]string, error) {
	dir := strings.TrimRight(prefix, "/")
	res, err := c.do(ctx, http.MethodGet, c.contentsURL(dir)+"?ref="+url.QueryEscape(c.branch), nil)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if res.StatusCode != http.StatusOK {
		return nil, mapStatusErr(res)
	}
	var items []fileInfo
	if err := json.NewDecoder(res.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("githost: decoding directory listing: %w", err)
	}
	var out []string
	for _, it := range items {
		if it.Type == "file" {
			out = append(out, it.Path)
		}
	}
	return out, nil
}

func decodeCommitSHA(body io.Reader) (backend.VersionID, error) {
	var p struct {
		Commit struct {
			SHA string `json:"sha"`
		} `json:"commit"`
	}
	if err := json.NewDecoder(body).Decode(&p); err != nil {
		return "", fmt.Errorf("githost: decoding commit response: %w", err)
	}
	if p.Commit.SHA == "" {
		return "", errors.New("githost: response missing commit sha")
	}
	return backend.VersionID(p.Commit.SHA), nil
}

var _ backend.Adapter = (*Client)(nil)

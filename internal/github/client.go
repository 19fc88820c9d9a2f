// Package github is the gateway's adapter for the GitHub REST API. Every
// operation is a single authenticated GET normalized into a fixed result
// shape; failures are classified, never passed through raw.
package github

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/mcpgate/mcpgate/internal/telemetry"
)

const DefaultBaseURL = "https://api.github.com"

// Config selects the upstream endpoint and credentials. Token and the App
// fields are alternatives; when neither is set, calls go out unauthenticated
// and are subject to GitHub's anonymous rate limits.
type Config struct {
	BaseURL        string
	Token          string
	AppID          int64
	InstallationID int64
	PrivateKeyPath string
	Timeout        time.Duration
}

type Client struct {
	baseURL        string
	token          string
	appID          int64
	installationID int64
	privateKey     *rsa.PrivateKey
	httpClient     *http.Client

	mu       sync.Mutex
	appToken string
	expAt    time.Time
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 25 * time.Second
	}

	c := &Client{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		token:          cfg.Token,
		appID:          cfg.AppID,
		installationID: cfg.InstallationID,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				// One connection per outbound call; nothing lingers past it.
				DisableKeepAlives: true,
				DialContext:       (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
			},
		},
	}

	if cfg.PrivateKeyPath != "" {
		raw, err := os.ReadFile(cfg.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("read private key: %w", err)
		}
		block, _ := pem.Decode(raw)
		if block == nil {
			return nil, fmt.Errorf("no PEM block found in %s", cfg.PrivateKeyPath)
		}
		key, err := parseRSAPrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		c.privateKey = key
	}

	return c, nil
}

func parseRSAPrivateKey(der []byte) (*rsa.PrivateKey, error) {
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	pkcs8Key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := pkcs8Key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is not RSA")
	}
	return rsaKey, nil
}

// APIError is an upstream non-2xx response.
type APIError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s HTTP %d: %s", e.Operation, e.StatusCode, e.Body)
}
func (e *APIError) ErrorCode() string { return "github_api_error" }

// TransportError is a connection or timeout failure before any upstream
// status was received.
type TransportError struct {
	Operation string
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Operation, e.Err)
}
func (e *TransportError) ErrorCode() string { return "github_transport" }
func (e *TransportError) Unwrap() error     { return e.Err }

// App JWTs are RS256, max 10 min expiry; issued-at is backdated 60s to
// absorb clock skew against GitHub's servers.
func (c *Client) makeJWT() (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    strconv.FormatInt(c.appID, 10),
		IssuedAt:  jwt.NewNumericDate(now.Add(-60 * time.Second)),
		ExpiresAt: jwt.NewNumericDate(now.Add(10 * time.Minute)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	return token.SignedString(c.privateKey)
}

type installationTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (c *Client) installationToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.appToken != "" && time.Now().Before(c.expAt.Add(-time.Minute)) {
		return c.appToken, nil
	}

	jwtStr, err := c.makeJWT()
	if err != nil {
		return "", fmt.Errorf("sign JWT: %w", err)
	}

	tokenURL := fmt.Sprintf("%s/app/installations/%d/access_tokens", c.baseURL, c.installationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+jwtStr)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request installation token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("installation token HTTP %d: %s", resp.StatusCode, body)
	}

	var tok installationTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}

	c.appToken = tok.Token
	c.expAt = tok.ExpiresAt
	return c.appToken, nil
}

func (c *Client) bearer(ctx context.Context) (string, error) {
	if c.privateKey != nil {
		return c.installationToken(ctx)
	}
	return c.token, nil
}

// getJSON is the single authenticated GET primitive behind every operation.
// One attempt, no retry; failure classification happens here and nowhere else.
func (c *Client) getJSON(ctx context.Context, operation, path string, query url.Values, out any) error {
	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return &TransportError{Operation: operation, Err: err}
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	token, err := c.bearer(ctx)
	if err != nil {
		return &TransportError{Operation: operation, Err: err}
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Operation: operation, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		telemetry.IncGitHubAPIError(operation, resp.StatusCode)
		return &APIError{Operation: operation, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &TransportError{Operation: operation, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// RepoSummary is the normalized repository metadata shape.
type RepoSummary struct {
	FullName      string   `json:"full_name"`
	Description   string   `json:"description"`
	DefaultBranch string   `json:"default_branch"`
	Visibility    string   `json:"visibility"`
	Stars         int      `json:"stars"`
	Forks         int      `json:"forks"`
	OpenIssues    int      `json:"open_issues"`
	Watchers      int      `json:"watchers"`
	Archived      bool     `json:"archived"`
	License       string   `json:"license"`
	Topics        []string `json:"topics"`
	UpdatedAt     string   `json:"updated_at"`
}

type repoResponse struct {
	FullName         string `json:"full_name"`
	Description      string `json:"description"`
	DefaultBranch    string `json:"default_branch"`
	Visibility       string `json:"visibility"`
	StargazersCount  int    `json:"stargazers_count"`
	ForksCount       int    `json:"forks_count"`
	OpenIssuesCount  int    `json:"open_issues_count"`
	SubscribersCount int    `json:"subscribers_count"`
	Archived         bool   `json:"archived"`
	License          *struct {
		SPDXID string `json:"spdx_id"`
	} `json:"license"`
	Topics    []string `json:"topics"`
	UpdatedAt string   `json:"updated_at"`
}

func (c *Client) GetRepoSummary(ctx context.Context, owner, repo string) (*RepoSummary, error) {
	var raw repoResponse
	if err := c.getJSON(ctx, "repo summary", fmt.Sprintf("/repos/%s/%s", owner, repo), nil, &raw); err != nil {
		return nil, err
	}

	out := &RepoSummary{
		FullName:      raw.FullName,
		Description:   raw.Description,
		DefaultBranch: raw.DefaultBranch,
		Visibility:    raw.Visibility,
		Stars:         raw.StargazersCount,
		Forks:         raw.ForksCount,
		OpenIssues:    raw.OpenIssuesCount,
		Watchers:      raw.SubscribersCount,
		Archived:      raw.Archived,
		Topics:        raw.Topics,
		UpdatedAt:     raw.UpdatedAt,
	}
	if raw.License != nil {
		out.License = raw.License.SPDXID
	}
	if out.Topics == nil {
		out.Topics = []string{}
	}
	return out, nil
}

// Issue is one normalized issue entry. Pull requests are filtered out before
// this shape is produced.
type Issue struct {
	Number    int      `json:"number"`
	Title     string   `json:"title"`
	State     string   `json:"state"`
	Labels    []string `json:"labels"`
	Author    string   `json:"author"`
	CreatedAt string   `json:"created_at"`
	URL       string   `json:"url"`
}

type issueResponse struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	State  string `json:"state"`
	Labels []struct {
		Name string `json:"name"`
	} `json:"labels"`
	User *struct {
		Login string `json:"login"`
	} `json:"user"`
	CreatedAt   string    `json:"created_at"`
	HTMLURL     string    `json:"html_url"`
	PullRequest *struct{} `json:"pull_request"`
}

// ListIssuesInput are the validated filters for an issue listing.
type ListIssuesInput struct {
	State    string
	Labels   []string
	Assignee string
	Limit    int
}

func (c *Client) ListIssues(ctx context.Context, owner, repo string, in ListIssuesInput) ([]Issue, error) {
	query := url.Values{}
	query.Set("state", in.State)
	perPage := in.Limit
	if perPage > 100 {
		perPage = 100
	}
	query.Set("per_page", strconv.Itoa(perPage))
	if len(in.Labels) > 0 {
		query.Set("labels", strings.Join(in.Labels, ","))
	}
	if in.Assignee != "" {
		query.Set("assignee", in.Assignee)
	}

	var raw []issueResponse
	if err := c.getJSON(ctx, "list issues", fmt.Sprintf("/repos/%s/%s/issues", owner, repo), query, &raw); err != nil {
		return nil, err
	}

	out := make([]Issue, 0, len(raw))
	for _, it := range raw {
		// The issues endpoint interleaves PRs; this tool reports issues only.
		if it.PullRequest != nil {
			continue
		}
		issue := Issue{
			Number:    it.Number,
			Title:     it.Title,
			State:     it.State,
			Labels:    make([]string, 0, len(it.Labels)),
			CreatedAt: it.CreatedAt,
			URL:       it.HTMLURL,
		}
		for _, l := range it.Labels {
			issue.Labels = append(issue.Labels, l.Name)
		}
		if it.User != nil {
			issue.Author = it.User.Login
		}
		out = append(out, issue)
		if len(out) >= in.Limit {
			break
		}
	}
	return out, nil
}

// SearchResult is one normalized issue/PR search hit.
type SearchResult struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	State  string `json:"state"`
	Repo   string `json:"repo"`
	URL    string `json:"url"`
}

type searchResponse struct {
	Items []struct {
		Number        int    `json:"number"`
		Title         string `json:"title"`
		State         string `json:"state"`
		RepositoryURL string `json:"repository_url"`
		HTMLURL       string `json:"html_url"`
	} `json:"items"`
}

func (c *Client) SearchIssues(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	q := url.Values{}
	q.Set("q", query)
	perPage := limit
	if perPage > 100 {
		perPage = 100
	}
	q.Set("per_page", strconv.Itoa(perPage))

	var raw searchResponse
	if err := c.getJSON(ctx, "search issues", "/search/issues", q, &raw); err != nil {
		return nil, err
	}

	out := make([]SearchResult, 0, len(raw.Items))
	for _, it := range raw.Items {
		repo := it.RepositoryURL
		if idx := strings.LastIndex(repo, "/repos/"); idx >= 0 {
			repo = repo[idx+len("/repos/"):]
		}
		out = append(out, SearchResult{
			Number: it.Number,
			Title:  it.Title,
			State:  it.State,
			Repo:   repo,
			URL:    it.HTMLURL,
		})
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// ChecksSummary aggregates check-runs for a PR's head commit.
type ChecksSummary struct {
	Total    int      `json:"total"`
	Statuses []string `json:"statuses"`
}

// PRStatus is the normalized pull-request state shape.
type PRStatus struct {
	Number     int           `json:"number"`
	Title      string        `json:"title"`
	State      string        `json:"state"`
	Mergeable  *bool         `json:"mergeable"`
	Draft      bool          `json:"draft"`
	HeadBranch string        `json:"head_branch"`
	BaseBranch string        `json:"base_branch"`
	Checks     ChecksSummary `json:"checks_summary"`
	URL        string        `json:"url"`
}

type pullResponse struct {
	Number    int    `json:"number"`
	Title     string `json:"title"`
	State     string `json:"state"`
	Mergeable *bool  `json:"mergeable"`
	Draft     bool   `json:"draft"`
	HTMLURL   string `json:"html_url"`
	Head      struct {
		Ref string `json:"ref"`
		SHA string `json:"sha"`
	} `json:"head"`
	Base struct {
		Ref string `json:"ref"`
	} `json:"base"`
}

type checkRunsResponse struct {
	TotalCount int `json:"total_count"`
	CheckRuns  []struct {
		Conclusion string `json:"conclusion"`
	} `json:"check_runs"`
}

func (c *Client) GetPRStatus(ctx context.Context, owner, repo string, number int) (*PRStatus, error) {
	var pr pullResponse
	if err := c.getJSON(ctx, "pr status", fmt.Sprintf("/repos/%s/%s/pulls/%d", owner, repo, number), nil, &pr); err != nil {
		return nil, err
	}

	out := &PRStatus{
		Number:     pr.Number,
		Title:      pr.Title,
		State:      pr.State,
		Mergeable:  pr.Mergeable,
		Draft:      pr.Draft,
		HeadBranch: pr.Head.Ref,
		BaseBranch: pr.Base.Ref,
		Checks:     ChecksSummary{Statuses: []string{}},
		URL:        pr.HTMLURL,
	}

	// A PR without a head SHA has nothing to run checks against; that is an
	// empty summary, not an error.
	if pr.Head.SHA != "" {
		var checks checkRunsResponse
		if err := c.getJSON(ctx, "check runs", fmt.Sprintf("/repos/%s/%s/commits/%s/check-runs", owner, repo, pr.Head.SHA), nil, &checks); err != nil {
			return nil, err
		}
		out.Checks.Total = checks.TotalCount
		for _, run := range checks.CheckRuns {
			if run.Conclusion != "" {
				out.Checks.Statuses = append(out.Checks.Statuses, run.Conclusion)
			}
		}
	}
	return out, nil
}

// FileContent is the normalized file lookup shape. Content is decoded text.
type FileContent struct {
	Path    string `json:"path"`
	Type    string `json:"type"`
	Size    int    `json:"size"`
	SHA     string `json:"sha"`
	Content string `json:"content"`
}

type contentsResponse struct {
	Path     string `json:"path"`
	Type     string `json:"type"`
	Size     int    `json:"size"`
	SHA      string `json:"sha"`
	Encoding string `json:"encoding"`
	Content  string `json:"content"`
}

func isReadmePath(path string) bool {
	switch strings.ToLower(path) {
	case "readme", "readme.md", "readme.rst":
		return true
	}
	return false
}

func (c *Client) GetFile(ctx context.Context, owner, repo, path, ref string) (*FileContent, error) {
	query := url.Values{}
	if ref != "" {
		query.Set("ref", ref)
	}

	var raw contentsResponse
	err := c.getJSON(ctx, "get file", fmt.Sprintf("/repos/%s/%s/contents/%s", owner, repo, path), query, &raw)
	if err != nil {
		// Some repos expose their canonical README only under the dedicated
		// endpoint, so a 404 on a readme-looking path gets one more chance.
		var apiErr *APIError
		if isReadmePath(path) && errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			err = c.getJSON(ctx, "get readme", fmt.Sprintf("/repos/%s/%s/readme", owner, repo), query, &raw)
		}
		if err != nil {
			return nil, err
		}
	}

	content := raw.Content
	if raw.Encoding == "base64" {
		cleaned := strings.Map(func(r rune) rune {
			if r == '\n' || r == '\r' || r == ' ' {
				return -1
			}
			return r
		}, raw.Content)
		decoded, decErr := base64.StdEncoding.DecodeString(cleaned)
		if decErr != nil {
			return nil, &TransportError{Operation: "get file", Err: fmt.Errorf("decode base64 content: %w", decErr)}
		}
		content = strings.ToValidUTF8(string(decoded), "�")
	}

	return &FileContent{
		Path:    raw.Path,
		Type:    raw.Type,
		Size:    raw.Size,
		SHA:     raw.SHA,
		Content: content,
	}, nil
}

// FileChange is one changed file in a ref comparison.
type FileChange struct {
	Filename  string `json:"filename"`
	Status    string `json:"status"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Changes   int    `json:"changes"`
}

// Comparison is the normalized base...head diff summary.
type Comparison struct {
	AheadBy      int          `json:"ahead_by"`
	BehindBy     int          `json:"behind_by"`
	TotalCommits int          `json:"total_commits"`
	Files        []FileChange `json:"files"`
}

type compareResponse struct {
	AheadBy      int          `json:"ahead_by"`
	BehindBy     int          `json:"behind_by"`
	TotalCommits int          `json:"total_commits"`
	Files        []FileChange `json:"files"`
}

func (c *Client) CompareRefs(ctx context.Context, owner, repo, base, head string) (*Comparison, error) {
	var raw compareResponse
	if err := c.getJSON(ctx, "compare refs", fmt.Sprintf("/repos/%s/%s/compare/%s...%s", owner, repo, base, head), nil, &raw); err != nil {
		return nil, err
	}
	if raw.Files == nil {
		raw.Files = []FileChange{}
	}
	return &Comparison{
		AheadBy:      raw.AheadBy,
		BehindBy:     raw.BehindBy,
		TotalCommits: raw.TotalCommits,
		Files:        raw.Files,
	}, nil
}

package mcp

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mcpgate/mcpgate/internal/core"
	"github.com/mcpgate/mcpgate/internal/fsbox"
	gh "github.com/mcpgate/mcpgate/internal/github"
)

type testEnv struct {
	server   *Server
	handler  http.Handler
	upstream *http.ServeMux
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()

	upstream := http.NewServeMux()
	upstreamSrv := httptest.NewServer(upstream)
	t.Cleanup(upstreamSrv.Close)

	ghClient, err := gh.NewClient(gh.Config{BaseURL: upstreamSrv.URL})
	if err != nil {
		t.Fatalf("github client: %v", err)
	}

	sandbox, err := fsbox.NewSandbox(t.TempDir())
	if err != nil {
		t.Fatalf("sandbox: %v", err)
	}

	if cfg.Name == "" {
		cfg.Name = "mcpgate-test"
	}
	if cfg.Version == "" {
		cfg.Version = "0.0.0"
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := NewServer(cfg, ghClient, sandbox, core.NewRepoPolicy(""), logger)
	return &testEnv{server: srv, handler: srv.Router(), upstream: upstream}
}

func (e *testEnv) post(t *testing.T, body, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeRPC(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func rpcErrorOf(t *testing.T, resp map[string]any) (int, string) {
	t.Helper()
	errObj, ok := resp["error"].(map[string]any)
	if !ok {
		t.Fatalf("response has no error object: %v", resp)
	}
	return int(errObj["code"].(float64)), errObj["message"].(string)
}

func TestMalformedJSONBody(t *testing.T) {
	env := newTestEnv(t, Config{})

	rec := env.post(t, "{not json", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("want 400, got %d", rec.Code)
	}
	resp := decodeRPC(t, rec)
	if resp["id"] != nil {
		t.Fatalf("want null id, got %v", resp["id"])
	}
	code, msg := rpcErrorOf(t, resp)
	if code != core.CodeInvalidRequest || !strings.Contains(msg, "Invalid JSON") {
		t.Fatalf("want invalid request error, got %d %q", code, msg)
	}
}

func TestBearerAuth(t *testing.T) {
	env := newTestEnv(t, Config{AuthToken: "s3cret"})

	if rec := env.post(t, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing bearer: want 401, got %d", rec.Code)
	}
	if rec := env.post(t, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`, "wrong"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong bearer: want 401, got %d", rec.Code)
	}
	if rec := env.post(t, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`, "s3cret"); rec.Code != http.StatusOK {
		t.Fatalf("valid bearer: want 200, got %d", rec.Code)
	}

	// Health stays reachable without credentials.
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("health behind auth: got %d", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, Config{Name: "gw", Version: "9.9.9"})

	for _, path := range []string{"/health", "/healthz"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: want 200, got %d", path, rec.Code)
		}
		resp := decodeRPC(t, rec)
		if resp["ok"] != true {
			t.Fatalf("%s: want ok true, got %v", path, resp)
		}
		server := resp["server"].(map[string]any)
		if server["name"] != "gw" || server["version"] != "9.9.9" {
			t.Fatalf("%s: server identity wrong: %v", path, server)
		}
	}
}

func TestInitialize(t *testing.T) {
	env := newTestEnv(t, Config{Name: "gw"})

	rec := env.post(t, `{"jsonrpc":"2.0","id":7,"method":"initialize"}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}
	resp := decodeRPC(t, rec)
	if resp["id"].(float64) != 7 {
		t.Fatalf("id not echoed: %v", resp["id"])
	}
	result := resp["result"].(map[string]any)
	if result["protocolVersion"] != protocolVersion {
		t.Fatalf("protocol version wrong: %v", result)
	}
	if _, ok := result["capabilities"].(map[string]any)["tools"]; !ok {
		t.Fatalf("capabilities missing tools: %v", result)
	}
}

func TestInitializedNotification(t *testing.T) {
	env := newTestEnv(t, Config{})

	rec := env.post(t, `{"jsonrpc":"2.0","method":"initialized"}`, "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("want 204, got %d", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("notification must not carry a body: %q", rec.Body.String())
	}
}

func TestUnknownMethod(t *testing.T) {
	env := newTestEnv(t, Config{})

	rec := env.post(t, `{"jsonrpc":"2.0","id":1,"method":"bogus/thing"}`, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("want 400, got %d", rec.Code)
	}
	code, _ := rpcErrorOf(t, decodeRPC(t, rec))
	if code != core.CodeMethodNotFound {
		t.Fatalf("want method not found, got %d", code)
	}

	// Same method as a notification gets a silent acknowledgement.
	rec = env.post(t, `{"jsonrpc":"2.0","method":"bogus/thing"}`, "")
	if rec.Code != http.StatusNoContent || rec.Body.Len() != 0 {
		t.Fatalf("notification: want empty 204, got %d %q", rec.Code, rec.Body.String())
	}
}

func TestToolsListStable(t *testing.T) {
	env := newTestEnv(t, Config{})

	wantNames := []string{
		"echo", "random_pokemon", "github_repo_info", "github_list_issues",
		"github_get_file", "github_search_issues", "github_pr_status",
		"github_compare", "files_list", "files_read",
	}

	var first string
	for i := 0; i < 2; i++ {
		rec := env.post(t, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("want 200, got %d", rec.Code)
		}
		if i == 0 {
			first = rec.Body.String()
		} else if rec.Body.String() != first {
			t.Fatal("tools/list output changed between calls")
		}

		resp := decodeRPC(t, rec)
		tools := resp["result"].(map[string]any)["tools"].([]any)
		if len(tools) != len(wantNames) {
			t.Fatalf("want %d tools, got %d", len(wantNames), len(tools))
		}
		for j, tool := range tools {
			name := tool.(map[string]any)["name"].(string)
			if name != wantNames[j] {
				t.Fatalf("tool %d: want %s, got %s", j, wantNames[j], name)
			}
		}
	}
}

func TestToolNotFound(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.upstream.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unknown tool must not reach an adapter, got upstream call %s", r.URL.Path)
	})

	rec := env.post(t, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"nope","arguments":{}}}`, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("want 400, got %d", rec.Code)
	}
	code, msg := rpcErrorOf(t, decodeRPC(t, rec))
	if code != core.CodeMethodNotFound || !strings.Contains(msg, "Tool not found: nope") {
		t.Fatalf("want tool not found, got %d %q", code, msg)
	}
}

func TestEchoRoundTrip(t *testing.T) {
	env := newTestEnv(t, Config{})

	rec := env.post(t, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"echo","arguments":{"text":"hi"}}}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}
	resp := decodeRPC(t, rec)
	content := resp["result"].(map[string]any)["content"].([]any)
	block := content[0].(map[string]any)
	if block["type"] != "text" || block["text"] != "hi" {
		t.Fatalf("echo result wrong: %v", block)
	}
}

func TestInvalidParamsNeverReachAdapter(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.upstream.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("invalid params must not reach an adapter, got upstream call %s", r.URL.Path)
	})

	rec := env.post(t, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"github_repo_info","arguments":{"owner":"o"}}}`, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("want 400, got %d", rec.Code)
	}
	code, msg := rpcErrorOf(t, decodeRPC(t, rec))
	if code != core.CodeInvalidParams || !strings.Contains(msg, `missing required field "repo"`) {
		t.Fatalf("want invalid params, got %d %q", code, msg)
	}
}

func TestRandomPokemonWaterFilterDeterministic(t *testing.T) {
	env := newTestEnv(t, Config{})

	// Exactly one water type in the table, so the draw has no freedom.
	for i := 0; i < 5; i++ {
		rec := env.post(t, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"random_pokemon","arguments":{"type_filter":"water"}}}`, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("want 200, got %d", rec.Code)
		}
		resp := decodeRPC(t, rec)
		text := resp["result"].(map[string]any)["content"].([]any)[0].(map[string]any)["text"].(string)
		if !strings.Contains(text, "Gyarados") {
			t.Fatalf("water filter should always pick Gyarados, got %q", text)
		}
	}
}

func TestRandomPokemonNoMatchIsSoftFailure(t *testing.T) {
	env := newTestEnv(t, Config{})

	rec := env.post(t, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"random_pokemon","arguments":{"type_filter":"dragon"}}}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("no match must stay a success, got %d", rec.Code)
	}
	resp := decodeRPC(t, rec)
	if _, hasErr := resp["error"]; hasErr {
		t.Fatalf("no match must not be a JSON-RPC error: %v", resp)
	}
	text := resp["result"].(map[string]any)["content"].([]any)[0].(map[string]any)["text"].(string)
	if !strings.Contains(text, "No match") {
		t.Fatalf("want explanatory text, got %q", text)
	}
}

func TestGitHubListIssuesThroughRPC(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.upstream.HandleFunc("/repos/o/r/issues", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"number": 1, "title": "one", "state": "open", "html_url": "u1"},
			{"number": 2, "title": "pr", "state": "open", "pull_request": {}, "html_url": "u2"},
			{"number": 3, "title": "two", "state": "open", "html_url": "u3"},
			{"number": 4, "title": "pr2", "state": "open", "pull_request": {}, "html_url": "u4"},
			{"number": 5, "title": "three", "state": "open", "html_url": "u5"},
			{"number": 6, "title": "four", "state": "open", "html_url": "u6"},
			{"number": 7, "title": "five", "state": "open", "html_url": "u7"}
		]`))
	})

	rec := env.post(t, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"github_list_issues","arguments":{"owner":"o","repo":"r","limit":3}}}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeRPC(t, rec)
	data := resp["result"].(map[string]any)["data"].([]any)
	if len(data) != 3 {
		t.Fatalf("want exactly 3 issues, got %d", len(data))
	}
	wantTitles := []string{"one", "two", "three"}
	for i, item := range data {
		if got := item.(map[string]any)["title"]; got != wantTitles[i] {
			t.Fatalf("issue %d: want title %q, got %v (pull requests must be filtered)", i, wantTitles[i], got)
		}
	}
}

func TestUpstreamFailureMapsTo502(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.upstream.HandleFunc("/repos/o/r", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"message": "rate limited"}`))
	})

	rec := env.post(t, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"github_repo_info","arguments":{"owner":"o","repo":"r"}}}`, "")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("want 502, got %d", rec.Code)
	}
	code, msg := rpcErrorOf(t, decodeRPC(t, rec))
	if code != core.CodeUpstreamError || !strings.Contains(msg, "HTTP 403") {
		t.Fatalf("upstream classification wrong: %d %q", code, msg)
	}
}

func TestFilesReadThroughRPC(t *testing.T) {
	env := newTestEnv(t, Config{})
	if err := os.WriteFile(filepath.Join(env.server.sandbox.Root(), "notes.txt"), []byte("hello sandbox"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	rec := env.post(t, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"files_read","arguments":{"path":"notes.txt","offset":6,"limit":7}}}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeRPC(t, rec)
	data := resp["result"].(map[string]any)["data"].(map[string]any)
	if data["content"] != "sandbox" || data["eof"] != true {
		t.Fatalf("window wrong: %v", data)
	}
}

func TestFilesSandboxEscapeThroughRPC(t *testing.T) {
	env := newTestEnv(t, Config{})

	for _, tool := range []string{"files_read", "files_list"} {
		body := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"` + tool + `","arguments":{"path":"../../etc/passwd"}}}`
		rec := env.post(t, body, "")
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: want 400, got %d", tool, rec.Code)
		}
		code, msg := rpcErrorOf(t, decodeRPC(t, rec))
		if code != core.CodeResourceError || !strings.Contains(msg, "denied") {
			t.Fatalf("%s: sandbox classification wrong: %d %q", tool, code, msg)
		}
	}
}

func TestFilesNotFoundMapsTo404(t *testing.T) {
	env := newTestEnv(t, Config{})

	rec := env.post(t, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"files_read","arguments":{"path":"missing.txt"}}}`, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("want 404, got %d", rec.Code)
	}
	code, _ := rpcErrorOf(t, decodeRPC(t, rec))
	if code != core.CodeResourceError {
		t.Fatalf("want resource error code, got %d", code)
	}
}

func TestRepoAllowlistEnforced(t *testing.T) {
	upstream := http.NewServeMux()
	upstreamSrv := httptest.NewServer(upstream)
	t.Cleanup(upstreamSrv.Close)
	upstream.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("denied repo must not reach upstream, got %s", r.URL.Path)
	})

	ghClient, err := gh.NewClient(gh.Config{BaseURL: upstreamSrv.URL})
	if err != nil {
		t.Fatalf("github client: %v", err)
	}
	sandbox, err := fsbox.NewSandbox(t.TempDir())
	if err != nil {
		t.Fatalf("sandbox: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := NewServer(Config{Name: "gw", Version: "0"}, ghClient, sandbox, core.NewRepoPolicy("octocat/allowed"), logger)
	env := &testEnv{server: srv, handler: srv.Router(), upstream: upstream}

	rec := env.post(t, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"github_repo_info","arguments":{"owner":"evil","repo":"target"}}}`, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("want 400, got %d", rec.Code)
	}
	code, msg := rpcErrorOf(t, decodeRPC(t, rec))
	if code != core.CodeInvalidParams || !strings.Contains(msg, "not in allowlist") {
		t.Fatalf("policy classification wrong: %d %q", code, msg)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.post(t, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"echo","arguments":{"text":"x"}}}`, "")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "mcpgate_tool_calls_total") {
		t.Fatalf("metrics output missing counters: %q", rec.Body.String())
	}
}

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mcpgate/mcpgate/internal/core"
	"github.com/mcpgate/mcpgate/internal/fsbox"
	gh "github.com/mcpgate/mcpgate/internal/github"
	"github.com/mcpgate/mcpgate/internal/telemetry"
)

type toolCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

func (s *Server) handleToolCall(ctx context.Context, req rpcRequest, base rpcResponse) (rpcResponse, int) {
	var params toolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		base.Error = &rpcError{Code: core.CodeInvalidParams, Message: "invalid params: " + err.Error()}
		return base, 400
	}

	tool, ok := s.byName[params.Name]
	if !ok {
		base.Error = &rpcError{Code: core.CodeMethodNotFound, Message: fmt.Sprintf("Tool not found: %s", params.Name)}
		return base, 400
	}

	if params.Arguments == nil {
		params.Arguments = map[string]any{}
	}
	args, err := validateArgs(tool, params.Arguments)
	if err != nil {
		base.Error = &rpcError{Code: core.CodeInvalidParams, Message: "Invalid params: " + err.Error()}
		return base, 400
	}

	start := time.Now()
	result, err := s.callTool(ctx, params.Name, args)
	telemetry.ObserveToolDuration(params.Name, time.Since(start))

	if err != nil {
		telemetry.IncToolCall(params.Name, "error")
		info := core.MapError(err)
		base.Error = &rpcError{Code: info.RPCCode, Message: info.Message}
		return base, info.HTTPStatus
	}

	telemetry.IncToolCall(params.Name, "ok")
	base.Result = result
	return base, 200
}

func (s *Server) callTool(ctx context.Context, name string, args map[string]any) (ToolResult, error) {
	switch name {
	case "echo":
		return toolEcho(args), nil
	case "random_pokemon":
		return toolRandomPokemon(args, s.intn), nil
	case "github_repo_info":
		return s.toolRepoInfo(ctx, args)
	case "github_list_issues":
		return s.toolListIssues(ctx, args)
	case "github_get_file":
		return s.toolGetFile(ctx, args)
	case "github_search_issues":
		return s.toolSearchIssues(ctx, args)
	case "github_pr_status":
		return s.toolPRStatus(ctx, args)
	case "github_compare":
		return s.toolCompare(ctx, args)
	case "files_list":
		return s.toolFilesList(args)
	case "files_read":
		return s.toolFilesRead(args)
	}
	// Unreachable: registry lookup happens before dispatch.
	return ToolResult{}, fmt.Errorf("unregistered tool %q", name)
}

func (s *Server) toolRepoInfo(ctx context.Context, args map[string]any) (ToolResult, error) {
	owner, repo := argString(args, "owner"), argString(args, "repo")
	if err := s.policy.CheckRepo(owner, repo); err != nil {
		return ToolResult{}, err
	}

	summary, err := s.gh.GetRepoSummary(ctx, owner, repo)
	if err != nil {
		return ToolResult{}, err
	}

	text := fmt.Sprintf("%s — ⭐ %d | 🍴 %d | issues %d | default: %s",
		summary.FullName, summary.Stars, summary.Forks, summary.OpenIssues, summary.DefaultBranch)
	return textResult(text, summary), nil
}

func (s *Server) toolListIssues(ctx context.Context, args map[string]any) (ToolResult, error) {
	owner, repo := argString(args, "owner"), argString(args, "repo")
	if err := s.policy.CheckRepo(owner, repo); err != nil {
		return ToolResult{}, err
	}

	state := argString(args, "state")
	items, err := s.gh.ListIssues(ctx, owner, repo, gh.ListIssuesInput{
		State:    state,
		Labels:   argStrings(args, "labels"),
		Assignee: argString(args, "assignee"),
		Limit:    argInt(args, "limit"),
	})
	if err != nil {
		return ToolResult{}, err
	}

	if len(items) == 0 {
		return textResult(fmt.Sprintf("No issues in %s/%s with those filters.", owner, repo), items), nil
	}

	lines := make([]string, 0, listPreviewLimit)
	for i, it := range items {
		if i >= listPreviewLimit {
			break
		}
		labels := strings.Join(it.Labels, ",")
		if labels == "" {
			labels = "-"
		}
		author := it.Author
		if author == "" {
			author = "?"
		}
		lines = append(lines, fmt.Sprintf("#%d %s [%s] @%s (%s)", it.Number, it.Title, it.State, author, labels))
	}
	text := fmt.Sprintf("Issues in %s/%s (state=%s):\n%s%s",
		owner, repo, state, strings.Join(lines, "\n"), moreSuffix(len(items)))
	return textResult(text, items), nil
}

func (s *Server) toolGetFile(ctx context.Context, args map[string]any) (ToolResult, error) {
	owner, repo := argString(args, "owner"), argString(args, "repo")
	if err := s.policy.CheckRepo(owner, repo); err != nil {
		return ToolResult{}, err
	}

	path, ref := argString(args, "path"), argString(args, "ref")
	file, err := s.gh.GetFile(ctx, owner, repo, path, ref)
	if err != nil {
		return ToolResult{}, err
	}

	text := fmt.Sprintf("%s/%s@%s — %s (size=%d):\n%s",
		owner, repo, ref, path, file.Size, previewText(file.Content))
	return textResult(text, file), nil
}

func (s *Server) toolSearchIssues(ctx context.Context, args map[string]any) (ToolResult, error) {
	items, err := s.gh.SearchIssues(ctx, argString(args, "query"), argInt(args, "limit"))
	if err != nil {
		return ToolResult{}, err
	}

	body := "— empty —"
	if len(items) > 0 {
		lines := make([]string, 0, listPreviewLimit)
		for i, it := range items {
			if i >= listPreviewLimit {
				break
			}
			lines = append(lines, fmt.Sprintf("%s #%d: %s", it.Repo, it.Number, it.Title))
		}
		body = strings.Join(lines, "\n")
	}
	text := "Search results:\n" + body + moreSuffix(len(items))
	return textResult(text, items), nil
}

func (s *Server) toolPRStatus(ctx context.Context, args map[string]any) (ToolResult, error) {
	owner, repo := argString(args, "owner"), argString(args, "repo")
	if err := s.policy.CheckRepo(owner, repo); err != nil {
		return ToolResult{}, err
	}

	info, err := s.gh.GetPRStatus(ctx, owner, repo, argInt(args, "number"))
	if err != nil {
		return ToolResult{}, err
	}

	mergeable := "unknown"
	if info.Mergeable != nil {
		mergeable = fmt.Sprintf("%t", *info.Mergeable)
	}
	statuses := strings.Join(info.Checks.Statuses, ",")
	if statuses == "" {
		statuses = "-"
	}
	text := fmt.Sprintf("PR #%d %s — state=%s, mergeable=%s, draft=%t, checks=%d (%s)",
		info.Number, info.Title, info.State, mergeable, info.Draft, info.Checks.Total, statuses)
	return textResult(text, info), nil
}

func (s *Server) toolCompare(ctx context.Context, args map[string]any) (ToolResult, error) {
	owner, repo := argString(args, "owner"), argString(args, "repo")
	if err := s.policy.CheckRepo(owner, repo); err != nil {
		return ToolResult{}, err
	}

	base, head := argString(args, "base"), argString(args, "head")
	comp, err := s.gh.CompareRefs(ctx, owner, repo, base, head)
	if err != nil {
		return ToolResult{}, err
	}

	lines := make([]string, 0, listPreviewLimit)
	for i, f := range comp.Files {
		if i >= listPreviewLimit {
			break
		}
		lines = append(lines, fmt.Sprintf("%9s  +%d/-%d  %s", f.Status, f.Additions, f.Deletions, f.Filename))
	}
	text := fmt.Sprintf("Diff %s...%s — ahead %d, behind %d, commits %d\n%s%s",
		base, head, comp.AheadBy, comp.BehindBy, comp.TotalCommits,
		strings.Join(lines, "\n"), moreSuffix(len(comp.Files)))
	return textResult(text, comp), nil
}

type filesListing struct {
	Path      string        `json:"path"`
	Entries   []fsbox.Entry `json:"entries"`
	Truncated bool          `json:"truncated"`
}

func (s *Server) toolFilesList(args map[string]any) (ToolResult, error) {
	path := argString(args, "path")
	entries, truncated, err := s.sandbox.List(path, argBool(args, "recursive"), argInt(args, "limit"))
	if err != nil {
		return ToolResult{}, err
	}

	data := filesListing{Path: path, Entries: entries, Truncated: truncated}
	if len(entries) == 0 {
		return textResult(fmt.Sprintf("No entries under %s.", path), data), nil
	}

	lines := make([]string, 0, listPreviewLimit)
	for i, e := range entries {
		if i >= listPreviewLimit {
			break
		}
		if e.Dir {
			lines = append(lines, e.Path+"/")
		} else {
			lines = append(lines, fmt.Sprintf("%s (%d bytes)", e.Path, e.Size))
		}
	}
	suffix := moreSuffix(len(entries))
	if truncated {
		suffix += "\n(listing truncated at limit)"
	}
	text := fmt.Sprintf("Listing %s (%d entries):\n%s%s", path, len(entries), strings.Join(lines, "\n"), suffix)
	return textResult(text, data), nil
}

func (s *Server) toolFilesRead(args map[string]any) (ToolResult, error) {
	window, err := s.sandbox.Read(argString(args, "path"), argInt(args, "offset"), argInt(args, "limit"))
	if err != nil {
		return ToolResult{}, err
	}

	text := fmt.Sprintf("%s (bytes %d-%d of %d, eof=%t):\n%s",
		window.Path, window.Offset, window.Offset+window.Length, window.Size, window.EOF,
		previewText(window.Content))
	return textResult(text, window), nil
}

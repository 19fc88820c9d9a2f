package core

import (
	"fmt"
	"strings"
)

// RepoPolicy restricts which owner/repo pairs the GitHub-backed tools may
// query, parsed from a comma-separated env var. An empty allowlist allows
// everything: the gateway is read-only, so narrowing is an operator opt-in.
type RepoPolicy struct {
	allowedRepos map[string]bool
}

// NewRepoPolicy creates a RepoPolicy from a comma-separated "owner/repo" list.
func NewRepoPolicy(repoCSV string) *RepoPolicy {
	return &RepoPolicy{allowedRepos: parseCSV(repoCSV)}
}

type policyError struct{ msg string }

func (e *policyError) Error() string     { return e.msg }
func (e *policyError) ErrorCode() string { return "repo_not_allowed" }

// CheckRepo returns an error if owner/repo is not covered by the allowlist.
func (p *RepoPolicy) CheckRepo(owner, repo string) error {
	if len(p.allowedRepos) == 0 {
		return nil
	}
	full := owner + "/" + repo
	if !p.allowedRepos[full] {
		return &policyError{msg: fmt.Sprintf("repo %q not in allowlist", full)}
	}
	return nil
}

func parseCSV(s string) map[string]bool {
	m := make(map[string]bool)
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			m[item] = true
		}
	}
	return m
}

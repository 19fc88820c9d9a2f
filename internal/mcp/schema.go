package mcp

// Property is one field of a tool's input schema. The zero value of the
// optional members keeps them out of the marshalled schema entirely.
type Property struct {
	Type        string    `json:"type"`
	Description string    `json:"description,omitempty"`
	Enum        []string  `json:"enum,omitempty"`
	Default     any       `json:"default,omitempty"`
	Minimum     *float64  `json:"minimum,omitempty"`
	Maximum     *float64  `json:"maximum,omitempty"`
	Items       *Property `json:"items,omitempty"`
}

// Schema is the declared argument shape of a tool. AdditionalProperties is
// always false here: unknown fields are rejected, not dropped.
type Schema struct {
	Type                 string              `json:"type"`
	Properties           map[string]Property `json:"properties"`
	Required             []string            `json:"required,omitempty"`
	AdditionalProperties bool                `json:"additionalProperties"`
}

// Tool is one registry entry: a stable name, a human description, and the
// input schema arguments are validated against before dispatch.
type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema Schema `json:"inputSchema"`
}

func bound(v float64) *float64 { return &v }

// toolRegistry builds the process-wide tool list. Called once at startup; the
// result is never mutated afterwards.
func toolRegistry() []Tool {
	return []Tool{
		{
			Name:        "echo",
			Description: "Returns exactly the text sent",
			InputSchema: Schema{
				Type: "object",
				Properties: map[string]Property{
					"text": {Type: "string"},
				},
				Required: []string{"text"},
			},
		},
		{
			Name:        "random_pokemon",
			Description: "Returns a random Pokemon (optionally filtered by type)",
			InputSchema: Schema{
				Type: "object",
				Properties: map[string]Property{
					"type_filter": {Type: "string", Description: "Type to filter by (e.g. 'water', 'fire')"},
				},
			},
		},
		{
			Name:        "github_repo_info",
			Description: "Key repository metadata (stars, forks, default branch, etc.)",
			InputSchema: Schema{
				Type: "object",
				Properties: map[string]Property{
					"owner": {Type: "string"},
					"repo":  {Type: "string"},
				},
				Required: []string{"owner", "repo"},
			},
		},
		{
			Name:        "github_list_issues",
			Description: "Lists issues (not PRs) with basic filters",
			InputSchema: Schema{
				Type: "object",
				Properties: map[string]Property{
					"owner":    {Type: "string"},
					"repo":     {Type: "string"},
					"state":    {Type: "string", Enum: []string{"open", "closed", "all"}, Default: "open"},
					"labels":   {Type: "array", Items: &Property{Type: "string"}},
					"assignee": {Type: "string"},
					"limit":    {Type: "integer", Minimum: bound(1), Maximum: bound(100), Default: 20},
				},
				Required: []string{"owner", "repo"},
			},
		},
		{
			Name:        "github_get_file",
			Description: "Reads a file from a repo and returns its content if it is text",
			InputSchema: Schema{
				Type: "object",
				Properties: map[string]Property{
					"owner": {Type: "string"},
					"repo":  {Type: "string"},
					"path":  {Type: "string"},
					"ref":   {Type: "string", Default: "HEAD"},
				},
				Required: []string{"owner", "repo", "path"},
			},
		},
		{
			Name:        "github_search_issues",
			Description: "Searches issues and PRs using GitHub search syntax",
			InputSchema: Schema{
				Type: "object",
				Properties: map[string]Property{
					"query": {Type: "string"},
					"limit": {Type: "integer", Minimum: bound(1), Maximum: bound(100), Default: 20},
				},
				Required: []string{"query"},
			},
		},
		{
			Name:        "github_pr_status",
			Description: "PR state (mergeable, draft) and check-run summary",
			InputSchema: Schema{
				Type: "object",
				Properties: map[string]Property{
					"owner":  {Type: "string"},
					"repo":   {Type: "string"},
					"number": {Type: "integer"},
				},
				Required: []string{"owner", "repo", "number"},
			},
		},
		{
			Name:        "github_compare",
			Description: "Compares two refs (base...head) and summarizes changes",
			InputSchema: Schema{
				Type: "object",
				Properties: map[string]Property{
					"owner": {Type: "string"},
					"repo":  {Type: "string"},
					"base":  {Type: "string"},
					"head":  {Type: "string"},
				},
				Required: []string{"owner", "repo", "base", "head"},
			},
		},
		{
			Name:        "files_list",
			Description: "Lists directory entries under the sandbox root",
			InputSchema: Schema{
				Type: "object",
				Properties: map[string]Property{
					"path":      {Type: "string", Default: "."},
					"recursive": {Type: "boolean", Default: false},
					"limit":     {Type: "integer", Minimum: bound(1), Maximum: bound(5000), Default: 200},
				},
			},
		},
		{
			Name:        "files_read",
			Description: "Reads a byte window of a file under the sandbox root",
			InputSchema: Schema{
				Type: "object",
				Properties: map[string]Property{
					"path":   {Type: "string"},
					"offset": {Type: "integer", Minimum: bound(0), Default: 0},
					"limit":  {Type: "integer", Minimum: bound(1), Maximum: bound(1048576), Default: 65536},
				},
				Required: []string{"path"},
			},
		},
	}
}

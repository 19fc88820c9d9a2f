package mcp

import "fmt"

const (
	textPreviewLimit = 500
	listPreviewLimit = 10
)

// ContentBlock is one typed block of a tool result. The gateway only ever
// produces "text" blocks.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ToolResult pairs a complete human-readable summary with the untruncated
// structured payload behind it. Text is always usable on its own; Data always
// carries full fidelity.
type ToolResult struct {
	Content []ContentBlock `json:"content"`
	Data    any            `json:"data,omitempty"`
}

func textResult(text string, data any) ToolResult {
	return ToolResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
		Data:    data,
	}
}

// previewText bounds a long content field for the text summary. The full
// value still travels in Data.
func previewText(s string) string {
	if len(s) <= textPreviewLimit {
		return s
	}
	return s[:textPreviewLimit] + "\n…(truncated)"
}

// moreSuffix produces the "… and N more" tail for long list previews.
func moreSuffix(total int) string {
	if total <= listPreviewLimit {
		return ""
	}
	return fmt.Sprintf("\n… and %d more", total-listPreviewLimit)
}

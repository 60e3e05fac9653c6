package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/sourcegraph/go-diff/diff"

	"github.com/chefcode-ai/chefcode/internal/container"
	"github.com/chefcode-ai/chefcode/internal/logger"
	"github.com/chefcode-ai/chefcode/internal/session"
)

// EditDiffTool updates an existing file by applying a unified diff. Useful
// when an edit spans many separate locations at once; single-spot edits
// should use the edit tool instead.
type EditDiffTool struct {
	host    container.Host
	session *session.Session
}

// NewEditDiffTool creates an editDiff tool
func NewEditDiffTool(host container.Host, sess *session.Session) *EditDiffTool {
	return &EditDiffTool{host: host, session: sess}
}

func (t *EditDiffTool) Name() string {
	return ToolNameEditDiff
}

func (t *EditDiffTool) Description() string {
	return "Update an existing file by applying a unified diff (with standard hunk headers)."
}

func (t *EditDiffTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path to the file to update (relative to the project root)",
			},
			"diff": map[string]interface{}{
				"type":        "string",
				"description": "Unified diff describing the desired changes; must include hunk markers (@@ -a,b +c,d @@)",
			},
		},
		"required": []string{"path", "diff"},
	}
}

func (t *EditDiffTool) Execute(ctx context.Context, params map[string]interface{}) (string, error) {
	path := GetStringParam(params, "path", "")
	if path == "" {
		return "", fmt.Errorf("path is required")
	}

	diffText := GetStringParam(params, "diff", "")
	if diffText == "" {
		return "", fmt.Errorf("diff is required")
	}

	data, err := t.host.ReadFile(ctx, path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %v", path, err)
	}

	updated, err := applyUnifiedDiff(string(data), diffText)
	if err != nil {
		return "", fmt.Errorf("failed to apply diff to %s: %v", path, err)
	}

	if err := t.host.WriteFile(ctx, path, []byte(updated)); err != nil {
		return "", fmt.Errorf("failed to write %s: %v", path, err)
	}

	if t.session != nil {
		t.session.TrackFileModified(path)
	}

	logger.Info("editDiff: updated %s (%d bytes)", path, len(updated))
	return fmt.Sprintf("Applied diff to %s.", path), nil
}

// applyUnifiedDiff applies a unified diff using github.com/sourcegraph/go-diff
func applyUnifiedDiff(original, diffText string) (string, error) {
	// Tolerate diffs without file headers by adding minimal ones.
	if !strings.HasPrefix(diffText, "---") && !strings.HasPrefix(diffText, "diff ") {
		diffText = "--- a/file\n+++ b/file\n" + diffText
	}

	fileDiff, err := diff.ParseFileDiff([]byte(diffText))
	if err != nil {
		return "", fmt.Errorf("failed to parse unified diff: %w", err)
	}

	originalLines := strings.Split(original, "\n")
	result := make([]string, 0, len(originalLines))
	current := 0

	for _, hunk := range fileDiff.Hunks {
		hunkStart := int(hunk.OrigStartLine) - 1
		for current < hunkStart && current < len(originalLines) {
			result = append(result, originalLines[current])
			current++
		}

		for _, line := range strings.Split(string(hunk.Body), "\n") {
			if len(line) == 0 {
				continue
			}
			switch line[0] {
			case ' ':
				if current < len(originalLines) {
					result = append(result, originalLines[current])
					current++
				}
			case '-':
				if current < len(originalLines) {
					current++
				}
			case '+':
				result = append(result, line[1:])
			}
		}
	}

	for current < len(originalLines) {
		result = append(result, originalLines[current])
		current++
	}

	return strings.Join(result, "\n"), nil
}

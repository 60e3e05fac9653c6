package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/chefcode-ai/chefcode/internal/consts"
	"github.com/chefcode-ai/chefcode/internal/container"
	"github.com/chefcode-ai/chefcode/internal/logger"
	"github.com/chefcode-ai/chefcode/internal/session"
)

// EditTool replaces a single text occurrence in an existing file. The old
// text must match exactly once; zero matches and multiple matches are
// distinct failures because they call for different fixes by the agent.
type EditTool struct {
	host    container.Host
	session *session.Session
}

// NewEditTool creates an edit tool
func NewEditTool(host container.Host, sess *session.Session) *EditTool {
	return &EditTool{host: host, session: sess}
}

func (t *EditTool) Name() string {
	return ToolNameEdit
}

func (t *EditTool) Description() string {
	return `Edit an existing file by replacing a single occurrence of old text with new text.
Ensure old matches exactly (including whitespace and indentation) and occurs exactly once in the file.`
}

func (t *EditTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path to the file to edit (relative to the project root)",
			},
			"old": map[string]interface{}{
				"type":        "string",
				"description": "Exact text to replace. Must occur exactly once in the file.",
			},
			"new": map[string]interface{}{
				"type":        "string",
				"description": "Replacement text. Empty string deletes the match.",
			},
		},
		"required": []string{"path", "old", "new"},
	}
}

func (t *EditTool) Execute(ctx context.Context, params map[string]interface{}) (string, error) {
	path := GetStringParam(params, "path", "")
	if path == "" {
		return "", fmt.Errorf("path is required")
	}

	oldText, hasOld := params["old"].(string)
	newText, hasNew := params["new"].(string)
	if !hasOld || !hasNew {
		return "", fmt.Errorf("old and new are required")
	}

	if len(oldText) > consts.MaxEditTextLength {
		return "", fmt.Errorf("old text is too long (%d chars, max %d)", len(oldText), consts.MaxEditTextLength)
	}
	if len(newText) > consts.MaxEditTextLength {
		return "", fmt.Errorf("new text is too long (%d chars, max %d)", len(newText), consts.MaxEditTextLength)
	}
	if oldText == "" {
		return "", fmt.Errorf("old text must not be empty")
	}

	data, err := t.host.ReadFile(ctx, path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %v", path, err)
	}
	content := string(data)

	count := strings.Count(content, oldText)
	if count == 0 {
		return "", fmt.Errorf("old text not found in %s", path)
	}
	if count > 1 {
		return "", fmt.Errorf("old text found %d times in %s; include more surrounding context to make the edit target unique", count, path)
	}

	updated := strings.Replace(content, oldText, newText, 1)
	if err := t.host.WriteFile(ctx, path, []byte(updated)); err != nil {
		return "", fmt.Errorf("failed to write %s: %v", path, err)
	}

	if t.session != nil {
		t.session.TrackFileModified(path)
	}

	logger.Info("edit: updated %s (replaced %d chars with %d)", path, len(oldText), len(newText))
	return fmt.Sprintf("Edited %s.", path), nil
}

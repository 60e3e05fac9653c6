package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/chefcode-ai/chefcode/internal/consts"
	"github.com/chefcode-ai/chefcode/internal/container"
	"github.com/chefcode-ai/chefcode/internal/logger"
)

// ViewTool renders a directory listing or a file's content, optionally
// sliced to a line range.
type ViewTool struct {
	host container.Host
}

// NewViewTool creates a view tool against the given host
func NewViewTool(host container.Host) *ViewTool {
	return &ViewTool{host: host}
}

func (t *ViewTool) Name() string {
	return ToolNameView
}

func (t *ViewTool) Description() string {
	return "View a file or directory in the project. For files, an optional [start, end] line range limits the output."
}

func (t *ViewTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path to the file or directory to view (relative to the project root)",
			},
			"range": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "number"},
				"description": "Optional two-element [start, end] line range (1-based, inclusive)",
			},
		},
		"required": []string{"path"},
	}
}

func (t *ViewTool) Execute(ctx context.Context, params map[string]interface{}) (string, error) {
	path := GetStringParam(params, "path", "")
	if path == "" {
		return "", fmt.Errorf("path is required")
	}

	from, to, hasRange, err := parseRange(params)
	if err != nil {
		return "", err
	}

	// A path that lists as a directory is rendered as a listing.
	if entries, dirErr := t.host.ReadDir(ctx, path); dirErr == nil {
		return renderListing(path, entries), nil
	}

	data, err := t.host.ReadFile(ctx, path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %v", path, err)
	}

	content := string(data)
	if !hasRange {
		return content, nil
	}

	lines := strings.Split(content, "\n")
	if from < 1 {
		from = 1
	}
	if to > len(lines) {
		to = len(lines)
	}
	if from > len(lines) || to < from {
		return "", fmt.Errorf("line range [%d, %d] is out of bounds for %s (%d lines)", from, to, path, len(lines))
	}
	if to-from+1 > consts.MaxLinesPerView {
		to = from + consts.MaxLinesPerView - 1
	}

	logger.Debug("view: %s lines %d-%d", path, from, to)
	return strings.Join(lines[from-1:to], "\n"), nil
}

// parseRange validates the optional range argument: when present it must
// be exactly two numbers.
func parseRange(params map[string]interface{}) (from, to int, ok bool, err error) {
	raw, present := params["range"]
	if !present {
		return 0, 0, false, nil
	}

	list, isList := raw.([]interface{})
	if !isList || len(list) != 2 {
		return 0, 0, false, fmt.Errorf("range must be an array of exactly two numbers")
	}

	nums := make([]int, 2)
	for i, v := range list {
		f, isNum := v.(float64)
		if !isNum {
			return 0, 0, false, fmt.Errorf("range must be an array of exactly two numbers")
		}
		nums[i] = int(f)
	}

	return nums[0], nums[1], true, nil
}

func renderListing(path string, entries []*container.FileInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Directory %s:\n", path)
	for _, entry := range entries {
		if entry.IsDir {
			fmt.Fprintf(&b, "  %s/\n", entry.Path)
		} else {
			fmt.Fprintf(&b, "  %s (%d bytes)\n", entry.Path, entry.Size)
		}
	}
	return strings.TrimSuffix(b.String(), "\n")
}

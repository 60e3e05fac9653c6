package tools

import (
	"context"
	"testing"

	"github.com/chefcode-ai/chefcode/internal/container"
	"github.com/chefcode-ai/chefcode/internal/session"
)

func TestApplyUnifiedDiff(t *testing.T) {
	original := "line 1\nline 2\nline 3\nline 4"
	diffText := `--- a/file
+++ b/file
@@ -1,4 +1,4 @@
 line 1
-line 2
+line two
 line 3
 line 4`

	updated, err := applyUnifiedDiff(original, diffText)
	if err != nil {
		t.Fatalf("applyUnifiedDiff failed: %v", err)
	}
	if updated != "line 1\nline two\nline 3\nline 4" {
		t.Errorf("unexpected result: %q", updated)
	}
}

func TestApplyUnifiedDiffWithoutHeaders(t *testing.T) {
	original := "a\nb\nc"
	diffText := "@@ -2,1 +2,1 @@\n-b\n+B"

	updated, err := applyUnifiedDiff(original, diffText)
	if err != nil {
		t.Fatalf("applyUnifiedDiff failed: %v", err)
	}
	if updated != "a\nB\nc" {
		t.Errorf("unexpected result: %q", updated)
	}
}

func TestApplyUnifiedDiffAddition(t *testing.T) {
	original := "first\nlast"
	diffText := `--- a/file
+++ b/file
@@ -1,2 +1,3 @@
 first
+middle
 last`

	updated, err := applyUnifiedDiff(original, diffText)
	if err != nil {
		t.Fatalf("applyUnifiedDiff failed: %v", err)
	}
	if updated != "first\nmiddle\nlast" {
		t.Errorf("unexpected result: %q", updated)
	}
}

func TestApplyUnifiedDiffMalformed(t *testing.T) {
	if _, err := applyUnifiedDiff("content", "this is not a diff"); err == nil {
		t.Error("malformed diff should fail to parse")
	}
}

func TestEditDiffToolUpdatesFile(t *testing.T) {
	h := container.NewMockHost()
	ctx := context.Background()
	if err := h.WriteFile(ctx, "src/config.ts", []byte("const debug = true;\nexport { debug };")); err != nil {
		t.Fatalf("seed write failed: %v", err)
	}

	sess := session.NewSession()
	tool := NewEditDiffTool(h, sess)

	diffText := `--- a/src/config.ts
+++ b/src/config.ts
@@ -1,2 +1,2 @@
-const debug = true;
+const debug = false;
 export { debug };`

	out, err := tool.Execute(ctx, map[string]interface{}{
		"path": "src/config.ts",
		"diff": diffText,
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if out != "Applied diff to src/config.ts." {
		t.Errorf("unexpected result: %q", out)
	}

	data, _ := h.ReadFile(ctx, "src/config.ts")
	if string(data) != "const debug = false;\nexport { debug };" {
		t.Errorf("file content mismatch: %q", data)
	}

	modified := sess.ModifiedFiles()
	if len(modified) != 1 || modified[0] != "src/config.ts" {
		t.Errorf("editDiff should track the modified file, got %v", modified)
	}
}

func TestEditDiffToolMissingArguments(t *testing.T) {
	tool := NewEditDiffTool(container.NewMockHost(), session.NewSession())
	ctx := context.Background()

	if _, err := tool.Execute(ctx, map[string]interface{}{"diff": "@@"}); err == nil {
		t.Error("missing path should fail")
	}
	if _, err := tool.Execute(ctx, map[string]interface{}{"path": "a.ts"}); err == nil {
		t.Error("missing diff should fail")
	}
}

package tools

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/chefcode-ai/chefcode/internal/config"
	"github.com/chefcode-ai/chefcode/internal/container"
	"github.com/chefcode-ai/chefcode/internal/session"
	"github.com/chefcode-ai/chefcode/internal/terminal"
)

var (
	deployCommand    = config.CommandConfig{Command: "npx", Args: []string{"convex", "deploy"}}
	devServerCommand = config.CommandConfig{Command: "vite", Args: []string{"dev"}}
)

func newDeployFixture(t *testing.T) (*DeployTool, *container.MockHost, *session.Session) {
	t.Helper()
	h := container.NewMockHost()
	sess := session.NewSession()
	t.Cleanup(sess.Close)
	tool := NewDeployTool(h, terminal.NewStore(time.Millisecond), NewSanitizer(nil, 0), sess, deployCommand, devServerCommand)
	return tool, h, sess
}

func TestDeploySuccessStartsDevServer(t *testing.T) {
	tool, h, sess := newDeployFixture(t)

	h.Script("npx", &container.ProcessScript{
		Output:   []string{"Preparing Convex functions...\n", "deployed 4 functions\n"},
		ExitCode: 0,
	})
	h.Script("vite", &container.ProcessScript{
		Output:    []string{"dev server listening\n"},
		NeverExit: true,
	})

	out, err := tool.Execute(context.Background(), map[string]interface{}{})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if !strings.Contains(out, "deployed 4 functions") {
		t.Errorf("result should carry the cleaned deploy output, got %q", out)
	}
	if strings.Contains(out, "Preparing Convex functions") {
		t.Errorf("noise lines must be filtered from the result, got %q", out)
	}
	if !strings.Contains(out, "Dev server started") {
		t.Errorf("result should note the dev server start, got %q", out)
	}

	if h.SpawnCount("vite") != 1 {
		t.Errorf("expected one dev server spawn, got %d", h.SpawnCount("vite"))
	}
	if len(sess.Jobs()) != 1 {
		t.Errorf("dev server should be a session job, got %d jobs", len(sess.Jobs()))
	}
}

func TestDeployFailureSkipsDevServer(t *testing.T) {
	tool, h, sess := newDeployFixture(t)

	h.Script("npx", &container.ProcessScript{
		Output:   []string{"schema validation failed\n"},
		ExitCode: 1,
	})

	_, err := tool.Execute(context.Background(), map[string]interface{}{})
	if err == nil {
		t.Fatal("failed deploy should return an error")
	}
	if !strings.Contains(err.Error(), "schema validation failed") {
		t.Errorf("error should carry the deploy output, got %v", err)
	}

	// The dev server must never start after a failed deploy.
	if h.SpawnCount("vite") != 0 {
		t.Errorf("dev server must not start, got %d spawns", h.SpawnCount("vite"))
	}
	if len(sess.Jobs()) != 0 {
		t.Errorf("no session jobs expected, got %d", len(sess.Jobs()))
	}
}

func TestDeployErrorLineSkipsDevServer(t *testing.T) {
	tool, h, _ := newDeployFixture(t)

	// Deploy tooling that reports failure textually without exiting.
	h.Script("npx", &container.ProcessScript{
		Output:    []string{"Error: function push rejected\n"},
		NeverExit: true,
	})

	done := make(chan error, 1)
	go func() {
		_, err := tool.Execute(context.Background(), map[string]interface{}{})
		done <- err
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("Error:-prefixed deploy output should fail the deploy")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("deploy hung on a process that never exits")
	}

	if h.SpawnCount("vite") != 0 {
		t.Error("dev server must not start after a textual deploy failure")
	}
}

func TestDeployWaitsForHostBoot(t *testing.T) {
	h := container.NewBootingMockHost()
	sess := session.NewSession()
	t.Cleanup(sess.Close)
	tool := NewDeployTool(h, terminal.NewStore(time.Millisecond), NewSanitizer(nil, 0), sess, deployCommand, devServerCommand)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	if _, err := tool.Execute(ctx, map[string]interface{}{}); err == nil {
		t.Fatal("deploy against a booting host should fail once ctx expires")
	}
	if h.SpawnCount("npx") != 0 {
		t.Error("nothing must be spawned before the host is ready")
	}
}

package tools

import (
	"context"
	"fmt"

	"github.com/chefcode-ai/chefcode/internal/config"
	"github.com/chefcode-ai/chefcode/internal/container"
	"github.com/chefcode-ai/chefcode/internal/logger"
	"github.com/chefcode-ai/chefcode/internal/session"
	"github.com/chefcode-ai/chefcode/internal/terminal"
)

// DeployTool deploys the project's backend functions and, strictly after a
// successful deploy, starts the persistent dev server as a session-scoped
// background job.
type DeployTool struct {
	host      container.Host
	term      *terminal.Store
	sanitizer *Sanitizer
	session   *session.Session
	deploy    config.CommandConfig
	devServer config.CommandConfig
}

// NewDeployTool creates a deploy tool
func NewDeployTool(host container.Host, term *terminal.Store, sanitizer *Sanitizer, sess *session.Session, deploy, devServer config.CommandConfig) *DeployTool {
	return &DeployTool{
		host:      host,
		term:      term,
		sanitizer: sanitizer,
		session:   sess,
		deploy:    deploy,
		devServer: devServer,
	}
}

func (t *DeployTool) Name() string {
	return ToolNameDeploy
}

func (t *DeployTool) Description() string {
	return "Deploy the project's backend functions and start the dev server."
}

func (t *DeployTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}

func (t *DeployTool) Execute(ctx context.Context, params map[string]interface{}) (string, error) {
	if err := t.host.WaitForReady(ctx); err != nil {
		return "", fmt.Errorf("execution host is not ready: %v", err)
	}

	output, err := runStreamed(ctx, t.host, t.term, t.deploy.Command, t.deploy.Args)
	if err != nil {
		// The dev server must not start after a failed deploy.
		return "", fmt.Errorf("deploy failed: %v\n%s", err, t.sanitizer.Clean(output))
	}

	job, err := t.session.StartJob(ctx, t.host, t.devServer.Command, t.devServer.Args)
	if err != nil {
		return "", fmt.Errorf("deploy succeeded but the dev server failed to start: %v", err)
	}

	// Keep the dev server's output flowing into the terminal store for as
	// long as it runs.
	go t.drainJobOutput(job)

	logger.Info("deploy: succeeded, dev server running as job %s", job.ID)

	cleaned := t.sanitizer.Clean(output)
	note := fmt.Sprintf("Deploy succeeded. Dev server started (job %s).", job.ID)
	if cleaned == "" {
		return note, nil
	}
	return fmt.Sprintf("%s\n%s", cleaned, note), nil
}

func (t *DeployTool) drainJobOutput(job *session.BackgroundJob) {
	for chunk := range job.Process().Output() {
		if t.term != nil {
			t.term.Append(chunk)
		}
	}
}

package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/chefcode-ai/chefcode/internal/config"
	"github.com/chefcode-ai/chefcode/internal/container"
	"github.com/chefcode-ai/chefcode/internal/logger"
	"github.com/chefcode-ai/chefcode/internal/terminal"
)

// NpmInstallTool installs packages inside the execution host. Output is
// streamed to the terminal store while the command runs and sanitized
// before it becomes the tool result.
type NpmInstallTool struct {
	host      container.Host
	term      *terminal.Store
	sanitizer *Sanitizer
	command   config.CommandConfig
}

// NewNpmInstallTool creates an npmInstall tool
func NewNpmInstallTool(host container.Host, term *terminal.Store, sanitizer *Sanitizer, command config.CommandConfig) *NpmInstallTool {
	return &NpmInstallTool{host: host, term: term, sanitizer: sanitizer, command: command}
}

func (t *NpmInstallTool) Name() string {
	return ToolNameNpmInstall
}

func (t *NpmInstallTool) Description() string {
	return "Install npm packages into the project. Provide the package names separated by spaces."
}

func (t *NpmInstallTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"packages": map[string]interface{}{
				"type":        "string",
				"description": "Space-separated list of packages to install",
			},
		},
		"required": []string{"packages"},
	}
}

func (t *NpmInstallTool) Execute(ctx context.Context, params map[string]interface{}) (string, error) {
	packages := strings.Fields(GetStringParam(params, "packages", ""))
	if len(packages) == 0 {
		return "", fmt.Errorf("packages is required")
	}

	// Install must not race the host boot.
	if err := t.host.WaitForReady(ctx); err != nil {
		return "", fmt.Errorf("execution host is not ready: %v", err)
	}

	args := append(append([]string{}, t.command.Args...), packages...)
	logger.Info("npmInstall: installing %s", strings.Join(packages, " "))

	output, err := runStreamed(ctx, t.host, t.term, t.command.Command, args)
	if err != nil {
		return "", fmt.Errorf("failed to install %s: %v\n%s",
			strings.Join(packages, " "), err, t.sanitizer.Clean(output))
	}

	cleaned := t.sanitizer.Clean(output)
	if cleaned == "" {
		return fmt.Sprintf("Installed %s.", strings.Join(packages, " ")), nil
	}
	return fmt.Sprintf("Installed %s.\n%s", strings.Join(packages, " "), cleaned), nil
}

package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/chefcode-ai/chefcode/internal/container"
	"github.com/chefcode-ai/chefcode/internal/logger"
	"github.com/chefcode-ai/chefcode/internal/runner"
	"github.com/chefcode-ai/chefcode/internal/terminal"
)

// errorLinePrefix triggers the textual failure detector. Some of the
// tooling spawned in the host never reports a non-zero exit code, so a
// line starting with this prefix is treated as a failure signal in its own
// right.
const errorLinePrefix = "Error:"

// runStreamed spawns a command in the host, streams its output into the
// terminal store at the store's throttled cadence, and races three
// outcomes: process exit, an Error:-prefixed output line, and ctx
// cancellation. It returns the full captured output; the error (if any) is
// a *runner.CommandError carrying that output.
func runStreamed(ctx context.Context, host container.Host, term *terminal.Store, command string, args []string) (string, error) {
	proc, err := host.Spawn(ctx, command, args)
	if err != nil {
		return "", runner.NewCommandError(fmt.Sprintf("Failed to start %s", command), err.Error())
	}

	var (
		output  strings.Builder
		pending string
		errLine string
	)

	outputC := proc.Output()
	exitC := proc.Exit()

	appendChunk := func(chunk string) {
		output.WriteString(chunk)
		if term != nil {
			term.Append(chunk)
		}

		// Scan completed lines for the textual failure signal.
		pending += chunk
		for {
			idx := strings.IndexByte(pending, '\n')
			if idx < 0 {
				break
			}
			line := strings.TrimSuffix(pending[:idx], "\r")
			pending = pending[idx+1:]
			if errLine == "" && strings.HasPrefix(strings.TrimSpace(line), errorLinePrefix) {
				errLine = strings.TrimSpace(line)
			}
		}
	}

	finish := func() {
		if term != nil {
			term.Flush()
		}
	}

	for {
		select {
		case chunk, ok := <-outputC:
			if !ok {
				outputC = nil
				continue
			}
			appendChunk(chunk)
			if errLine != "" {
				// The process may never exit on its own after reporting
				// this; kill it and fail now.
				logger.Warn("tools: %s reported failure without exiting: %s", command, errLine)
				_ = proc.Kill()
				finish()
				return output.String(), runner.NewCommandError(
					fmt.Sprintf("%s failed: %s", command, strings.TrimPrefix(errLine, errorLinePrefix+" ")),
					output.String(),
				)
			}

		case code, ok := <-exitC:
			if !ok {
				continue
			}
			// Drain trailing output, then judge the exit code.
			if outputC != nil {
				for chunk := range outputC {
					appendChunk(chunk)
				}
			}
			finish()

			if errLine != "" {
				return output.String(), runner.NewCommandError(
					fmt.Sprintf("%s failed: %s", command, strings.TrimPrefix(errLine, errorLinePrefix+" ")),
					output.String(),
				)
			}
			if code != 0 {
				return output.String(), runner.NewCommandError(
					fmt.Sprintf("%s exited with code %d", command, code),
					output.String(),
				)
			}
			return output.String(), nil

		case <-ctx.Done():
			_ = proc.Kill()
			finish()
			return output.String(), runner.NewCommandError(
				fmt.Sprintf("%s canceled", command),
				output.String(),
			)
		}
	}
}

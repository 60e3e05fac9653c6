package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chefcode-ai/chefcode/internal/config"
	"github.com/chefcode-ai/chefcode/internal/consts"
	"github.com/chefcode-ai/chefcode/internal/container"
	"github.com/chefcode-ai/chefcode/internal/logger"
	"github.com/chefcode-ai/chefcode/internal/runner"
	"github.com/chefcode-ai/chefcode/internal/session"
	"github.com/chefcode-ai/chefcode/internal/terminal"
	"github.com/chefcode-ai/chefcode/internal/tools"
	"github.com/chefcode-ai/chefcode/internal/web"

	bridgepkg "github.com/chefcode-ai/chefcode/internal/bridge"
)

// streamEvent is one line of the JSONL protocol the agent-stream parser
// feeds the daemon on stdin.
type streamEvent struct {
	// Event is one of "open", "stream", "close", "abort"
	Event    string        `json:"event"`
	ActionID string        `json:"actionId"`
	Action   runner.Action `json:"action"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		workDir    string
		logLevel   string
	)

	flag.StringVar(&configPath, "config", "", "path to the config file")
	flag.StringVar(&workDir, "workdir", "", "execution host root (overrides config)")
	flag.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error, none")
	flag.Parse()

	if configPath == "" {
		defaultPath, err := config.DefaultPath()
		if err != nil {
			return err
		}
		configPath = defaultPath
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if workDir != "" {
		cfg.WorkDir = workDir
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	if err := logger.Init(logger.ParseLevel(cfg.LogLevel), cfg.LogPath); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Global().Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	host := container.NewLocalHost(cfg.WorkDir, 2*time.Second)
	defer host.Close()
	if err := host.Boot(ctx); err != nil {
		return fmt.Errorf("failed to boot execution host: %w", err)
	}

	sess := session.NewSession()
	defer sess.Close()

	term := terminal.NewStore(consts.TerminalThrottleInterval)
	bridge := bridgepkg.New()
	registry := runner.NewRegistry(host)

	sanitizer := tools.NewSanitizer(cfg.ExtraNoiseFilters, cfg.TokenBudget())
	toolRegistry := tools.NewRegistry()
	toolRegistry.Register(tools.NewViewTool(host))
	toolRegistry.Register(tools.NewEditTool(host, sess))
	toolRegistry.Register(tools.NewEditDiffTool(host, sess))
	toolRegistry.Register(tools.NewNpmInstallTool(host, term, sanitizer, cfg.Install))
	toolRegistry.Register(tools.NewDeployTool(host, term, sanitizer, sess, cfg.Deploy, cfg.DevServer))

	var server *web.Server
	if cfg.Server.Enabled {
		server = web.NewServer(cfg.Server.Listen, registry, term)
	}

	r := runner.New(runner.Options{
		Host:       host,
		Registry:   registry,
		Bridge:     bridge,
		Dispatcher: tools.NewDispatcher(toolRegistry, sanitizer),
		Build: runner.BuildCommand{
			Command: cfg.Build.Command,
			Args:    cfg.Build.Args,
		},
		OnAlert: func(alert runner.Alert) {
			logger.Warn("alert [%s] %s: %s", alert.Type, alert.Title, alert.Description)
			if server != nil {
				server.PublishAlert(alert)
			}
		},
	})
	defer r.Close()

	if server != nil {
		if err := server.Start(); err != nil {
			return fmt.Errorf("failed to start observer server: %w", err)
		}
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), consts.ShutdownTimeout)
			defer shutdownCancel()
			if err := server.Stop(shutdownCtx); err != nil {
				logger.Warn("observer server shutdown: %v", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received signal %v, shutting down", sig)
		cancel()
	}()

	logger.Info("chefd started (session %s, workdir %s)", sess.ID(), cfg.WorkDir)
	return feedEvents(ctx, r)
}

// feedEvents reads stream events from stdin and drives the runner. Each
// line is one event; the stream parser lives in the front end, the daemon
// only consumes its callbacks.
func feedEvents(ctx context.Context, r *runner.Runner) error {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, consts.BufferSize64KB), consts.BufferSize1MB)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var event streamEvent
		if err := json.Unmarshal(line, &event); err != nil {
			logger.Error("malformed stream event: %v", err)
			continue
		}

		actionEvent := runner.ActionEvent{ActionID: event.ActionID, Action: event.Action}

		switch event.Event {
		case "open":
			r.AddAction(ctx, actionEvent)
		case "stream":
			r.AddAction(ctx, actionEvent)
			if err := r.RunAction(ctx, actionEvent, true); err != nil {
				logger.Error("streaming action %s: %v", event.ActionID, err)
			}
		case "close":
			r.AddAction(ctx, actionEvent)
			if err := r.RunAction(ctx, actionEvent, false); err != nil {
				logger.Error("action %s: %v", event.ActionID, err)
			}
		case "abort":
			r.Abort(event.ActionID)
		default:
			logger.Error("unknown stream event %q for action %s", event.Event, event.ActionID)
		}
	}

	return scanner.Err()
}

// Artifex is an autonomous AI software engineer daemon.
//
// Given a natural-language task it plans, researches, writes, runs and
// repairs a software project, persisting conversation and execution
// state so the HTTP API and WebSocket stream can observe the process.
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	artifex serve                   Start the API server
//	artifex run <name> <prompt>     Execute a single task from the CLI
//	artifex tasks                   List known tasks and their status
//	artifex init [dir]              Initialize a working directory
//	artifex version                 Print version and build information
//	artifex -o json version         Output version information as JSON
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/artifex-labs/artifex/internal/api"
	"github.com/artifex-labs/artifex/internal/browser"
	"github.com/artifex-labs/artifex/internal/buildinfo"
	"github.com/artifex-labs/artifex/internal/config"
	"github.com/artifex-labs/artifex/internal/conversation"
	"github.com/artifex-labs/artifex/internal/events"
	"github.com/artifex-labs/artifex/internal/llm"
	"github.com/artifex-labs/artifex/internal/loop"
	"github.com/artifex-labs/artifex/internal/project"
	"github.com/artifex-labs/artifex/internal/retry"
	"github.com/artifex-labs/artifex/internal/roles"
	"github.com/artifex-labs/artifex/internal/search"
	"github.com/artifex-labs/artifex/internal/shell"
	"github.com/artifex-labs/artifex/internal/state"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so that
// the full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the artifex command. All OS-level
// dependencies are injected as parameters; arguments are parsed by hand
// because the flag package's global state interferes with parallel
// tests, and the argument surface here is small.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++ // skip the value
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "run":
		if len(cmdArgs) < 2 {
			return fmt.Errorf("usage: artifex run <name> <prompt>")
		}
		return runTask(ctx, stdout, configPath, cmdArgs[0], strings.Join(cmdArgs[1:], " "))
	case "tasks":
		return runTasks(stdout, configPath, outputFmt)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// app bundles the constructed components shared by serve and run.
type app struct {
	cfg     *config.Config
	db      *sql.DB
	bus     *events.Bus
	conv    *conversation.Store
	state   *state.Store
	writer  *project.Writer
	browser *browser.Session
	loop    *loop.Loop
	logger  *slog.Logger
}

// build wires the full component graph from configuration: SQLite
// stores, search, browser, shell, the inference gateway, the role set
// and the execution loop.
func build(cfg *config.Config, logger *slog.Logger) (*app, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	dbPath := filepath.Join(cfg.DataDir, "artifex.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	bus := events.New()

	convStore, err := conversation.NewStore(db, bus)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("conversation store: %w", err)
	}
	stateStore, err := state.NewStore(db, bus)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("state store: %w", err)
	}

	writer := project.NewWriter(cfg.Projects, logger)

	browserCfg := cfg.Browser
	if browserCfg.ScreenshotsDir == "" {
		browserCfg.ScreenshotsDir = filepath.Join(cfg.DataDir, "screenshots")
	}
	browserSession := browser.NewSession(browserCfg, logger)

	gateway := createGateway(cfg, logger)
	set := roles.NewSet(roles.Config{
		Gateway: gateway,
		Model:   cfg.Models.Default,
		Bus:     bus,
		Policy:  retry.Policy{MaxAttempts: cfg.Retry.MaxAttempts},
		OnTokens: func(task string, tokens int) {
			if err := stateStore.AddTokenUsage(task, tokens); err != nil {
				logger.Warn("record token usage", "task", task, "error", err)
				return
			}
			if latest, err := stateStore.Latest(task); err == nil && latest != nil {
				bus.Publish(events.Event{
					Channel: events.ChannelTokens,
					Task:    task,
					Payload: latest.TokenUsage,
				})
			}
		},
	}, cfg.Models.Roles)

	lp := loop.New(loop.Services{
		Conversation: convStore,
		State:        stateStore,
		Projects:     writer,
		Search:       search.FromConfig(cfg.Search),
		Browser:      browserSession,
		Shell:        shell.NewRunner(cfg.Shell),
		Bus:          bus,
		Logger:       logger,
	}, set)

	return &app{
		cfg:     cfg,
		db:      db,
		bus:     bus,
		conv:    convStore,
		state:   stateStore,
		writer:  writer,
		browser: browserSession,
		loop:    lp,
		logger:  logger,
	}, nil
}

// close releases the app's long-lived resources.
func (a *app) close() {
	if err := a.browser.Close(); err != nil {
		a.logger.Debug("browser close", "error", err)
	}
	if err := a.db.Close(); err != nil {
		a.logger.Debug("database close", "error", err)
	}
}

// createGateway builds the multi-provider inference client. Ollama is
// the default backend; an OpenAI-compatible endpoint is added when
// configured, and per-model provider routing comes from config.
func createGateway(cfg *config.Config, logger *slog.Logger) llm.Client {
	ollama := llm.NewOllamaClient(cfg.Models.OllamaURL)
	multi := llm.NewMultiClient(ollama)
	multi.AddProvider("ollama", ollama)

	if cfg.Models.OpenAI.APIKey != "" {
		multi.AddProvider("openai", llm.NewOpenAIClient(cfg.Models.OpenAI.APIKey, cfg.Models.OpenAI.BaseURL))
		logger.Info("OpenAI-compatible provider configured", "base_url", cfg.Models.OpenAI.BaseURL)
	}

	for model, provider := range cfg.Models.Providers {
		multi.AddModel(model, provider)
	}

	logger.Info("inference gateway initialized", "default_model", cfg.Models.Default)
	return multi
}

// runServe handles the "artifex serve" subcommand: loads config, wires
// the component graph, starts the API server and blocks until a
// shutdown signal arrives.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo)
	logger.Info("starting Artifex", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger = newLogger(stdout, level)
	}
	logger.Info("config loaded", "path", cfgPath, "port", cfg.Listen.Port)

	a, err := build(cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port,
		a.loop, a.conv, a.state, a.writer, a.bus, logger)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		_ = server.Shutdown(context.Background())
	}()

	if err := server.Start(ctx); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("Artifex stopped")
	return nil
}

// runTask handles "artifex run <name> <prompt>": a one-shot execution
// without the API server, printing the conversation transcript when the
// run finishes.
func runTask(ctx context.Context, stdout io.Writer, configPath, name, prompt string) error {
	logger := newLogger(stdout, slog.LevelWarn)

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	a, err := build(cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slug := project.Slug(name)
	if slug == "" {
		return fmt.Errorf("invalid task name %q", name)
	}
	if _, err := a.conv.Append(slug, conversation.OriginUser, prompt); err != nil {
		return fmt.Errorf("record prompt: %w", err)
	}

	runErr := a.loop.Execute(ctx, slug, prompt)

	messages, err := a.conv.All(slug)
	if err != nil {
		return fmt.Errorf("read transcript: %w", err)
	}
	for _, m := range messages {
		fmt.Fprintf(stdout, "[%s] %s\n", m.Origin, m.Text)
	}
	if runErr != nil {
		return fmt.Errorf("run: %w", runErr)
	}
	fmt.Fprintf(stdout, "\nProject written to %s\n", a.writer.TaskPath(slug))
	return nil
}

// runTasks prints the known tasks and their latest snapshot status.
func runTasks(stdout io.Writer, configPath, outputFmt string) error {
	logger := newLogger(io.Discard, slog.LevelError)

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	a, err := build(cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	tasks, err := a.conv.Tasks()
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}

	type row struct {
		Name      string `json:"name"`
		Step      string `json:"step,omitempty"`
		Completed bool   `json:"completed"`
	}
	rows := make([]row, 0, len(tasks))
	for _, task := range tasks {
		r := row{Name: task}
		if latest, err := a.state.Latest(task); err == nil && latest != nil {
			r.Step = latest.Step
			r.Completed = latest.Completed
		}
		rows = append(rows, r)
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}
	if len(rows) == 0 {
		fmt.Fprintln(stdout, "No tasks yet.")
		return nil
	}
	for _, r := range rows {
		status := r.Step
		if status == "" {
			status = "new"
		}
		fmt.Fprintf(stdout, "%-32s %s\n", r.Name, status)
	}
	return nil
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Artifex - Autonomous AI Software Engineer")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: artifex [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve               Start the API server")
	fmt.Fprintln(w, "  run <name> <prompt> Execute a single task from the CLI")
	fmt.Fprintln(w, "  tasks               List known tasks and their status")
	fmt.Fprintln(w, "  init [dir]          Initialize working directory with defaults (default: .)")
	fmt.Fprintln(w, "  version             Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./artifex.yaml, ~/.config/artifex/artifex.yaml, /etc/artifex/artifex.yaml")
	return nil
}

// newLogger creates a structured text logger writing to w. All log
// output goes through slog; this helper standardizes handler options
// across subcommands.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

// loadConfig locates and parses the YAML configuration file.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}

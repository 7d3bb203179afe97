package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/hpungsan/skim/internal/channel"
	"github.com/hpungsan/skim/internal/config"
	"github.com/hpungsan/skim/internal/db"
	"github.com/hpungsan/skim/internal/logging"
	"github.com/hpungsan/skim/internal/mcp"
	"github.com/hpungsan/skim/internal/page"
	"github.com/hpungsan/skim/internal/store"
	"github.com/hpungsan/skim/internal/summarizer"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"serve": true, "summarize": true, "list": true, "delete": true,
	"enable": true, "disable": true, "status": true, "key": true,
	"watch": true, "export": true, "ui": true,
	"help": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false // No args → MCP server
	}
	arg := os.Args[1]
	// Known subcommand → CLI
	if cliCommands[arg] {
		return true
	}
	// --help or --version → CLI
	if arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" {
		return true
	}
	return false // Default → MCP server
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
        _    _
   ___ | | _(_)_ __ ___
  / __|| |/ / | '_ ` + "`" + ` _ \
  \__ \|   <| | | | | | |
  |___/|_|\_\_|_| |_| |_|

  Page summaries, kept locally

  Usage: skim <command> [options]
         skim --help

  MCP server mode requires piped input.`)
}

// baseDir returns SKIM_HOME when set, else ~/.skim.
func baseDir() (string, error) {
	if dir := os.Getenv("SKIM_HOME"); dir != "" {
		return dir, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".skim"), nil
}

func main() {
	// No args + interactive terminal → show banner and exit
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	// Handle --help/--version before DB init (no DB needed)
	if isHelpOrVersion() {
		app := newCLIApp(nil)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Unknown argument + terminal → show error (don't start MCP server)
	if !isCLIMode() && len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'skim --help' for usage.\n")
		os.Exit(1)
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	dir, err := baseDir()
	if err != nil {
		return err
	}

	cfg, err := config.Load(dir)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	database, err := db.Init(dir)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()
	db.ConfigurePool(database, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.NewSQLStore(ctx, database, dir, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	e := &env{
		baseDir:    dir,
		cfg:        cfg,
		logger:     logger,
		store:      st,
		watcher:    st,
		summarizer: summarizer.New(cfg, summarizer.WithLogger(logger)),
		pages:      page.NewHTTPSource(nil),
	}

	// CLI mode: known subcommand
	if isCLIMode() {
		return newCLIApp(e).RunContext(ctx, os.Args)
	}

	// MCP server mode (default)
	return runMCP(ctx, e)
}

// runMCP serves MCP tools over stdio, backed by a coordinator on an
// in-process bus unless coordinator_url points at a running `skim serve`.
func runMCP(ctx context.Context, e *env) error {
	return e.withCoordinator(ctx, func(ctx context.Context, sender channel.Sender) error {
		return mcp.Run(sender, e.pages, e.cfg, Version, e.logger)
	})
}

package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hpungsan/skim/internal/agent"
	"github.com/hpungsan/skim/internal/channel"
	"github.com/hpungsan/skim/internal/config"
	"github.com/hpungsan/skim/internal/control"
	"github.com/hpungsan/skim/internal/coordinator"
	"github.com/hpungsan/skim/internal/errors"
	"github.com/hpungsan/skim/internal/page"
	"github.com/hpungsan/skim/internal/store"
	"github.com/hpungsan/skim/internal/summarizer"
	"github.com/hpungsan/skim/internal/summary"
	"github.com/hpungsan/skim/internal/tui"
	"github.com/hpungsan/skim/internal/web"
)

// watcher reports changes made by other processes to the store.
type watcher interface {
	Watch(ctx context.Context) error
}

// env holds what commands need. Tests build it around a temp directory.
type env struct {
	baseDir    string
	cfg        *config.Config
	logger     *zap.Logger
	store      store.Store
	watcher    watcher // nil when the store is not shared across processes
	summarizer summarizer.Summarizer
	pages      page.Source
	browser    page.Source     // used with --browser; nil means headless Chrome
	clipboard  agent.Clipboard // nil means the system clipboard
	now        func() time.Time
	out        io.Writer // nil means stdout
}

func (e *env) stdout() io.Writer {
	if e.out != nil {
		return e.out
	}
	return os.Stdout
}

func (e *env) clock() time.Time {
	if e.now != nil {
		return e.now()
	}
	return time.Now()
}

func (e *env) clip() agent.Clipboard {
	if e.clipboard != nil {
		return e.clipboard
	}
	return agent.SystemClipboard{}
}

func (e *env) newCoordinator() *coordinator.Coordinator {
	opts := []coordinator.Option{coordinator.WithLogger(e.logger)}
	if e.now != nil {
		opts = append(opts, coordinator.WithClock(e.now))
	}
	return coordinator.New(e.store, e.summarizer, opts...)
}

// withCoordinator runs fn with a sender reaching a coordinator: the one at
// coordinator_url when configured, otherwise one served on an in-process bus
// for the duration of fn.
func (e *env) withCoordinator(ctx context.Context, fn func(ctx context.Context, sender channel.Sender) error) error {
	if e.cfg.CoordinatorURL != "" {
		return fn(ctx, channel.NewHTTPClient(e.cfg.CoordinatorURL, nil))
	}

	coord := e.newCoordinator()
	if err := coord.Install(ctx); err != nil {
		return err
	}

	bus := channel.NewBus()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return bus.Serve(gctx, coord) })
	g.Go(func() error {
		defer cancel()
		<-bus.Ready()
		return fn(gctx, bus)
	})
	return g.Wait()
}

// newCLIApp creates the CLI application with all commands.
func newCLIApp(e *env) *cli.App {
	app := &cli.App{
		Name:    "skim",
		Usage:   "Summarize web pages and keep the summaries locally",
		Version: Version,
		Commands: []*cli.Command{
			serveCmd(e),
			summarizeCmd(e),
			listCmd(e),
			deleteCmd(e),
			enableCmd(e, true),
			enableCmd(e, false),
			statusCmd(e),
			keyCmd(e),
			watchCmd(e),
			exportCmd(e),
			uiCmd(e),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// serveCmd runs the coordinator, its HTTP transport and the web control surface.
func serveCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the coordinator and the web control surface",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Usage: "Address to bind (default from config)"},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Usage: "Port to listen on (default from config)"},
		},
		Action: func(c *cli.Context) error {
			bind := e.cfg.Bind
			if v := c.String("bind"); v != "" {
				bind = v
			}
			port := e.cfg.Port
			if v := c.Int("port"); v != 0 {
				port = v
			}

			ctx := c.Context
			coord := e.newCoordinator()
			if err := coord.Install(ctx); err != nil {
				return outputError(err)
			}

			bus := channel.NewBus()
			surface := control.New(e.store, bus, control.WithLogger(e.logger), control.WithClipboard(e.clip()))
			defer surface.Close()

			srv, err := web.NewServer(surface, coord, e.logger, Version, bind, port)
			if err != nil {
				return outputError(errors.NewInternal(err))
			}

			ctx, cancel := context.WithCancel(ctx)
			defer cancel()
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return bus.Serve(gctx, coord) })
			g.Go(func() error { return surface.Run(gctx) })
			if e.watcher != nil {
				g.Go(func() error { return e.watcher.Watch(gctx) })
			}
			g.Go(func() error {
				// The web server ending for any reason stops everything else
				defer cancel()
				return web.Run(gctx, srv, e.logger)
			})
			if err := g.Wait(); err != nil {
				return outputError(err)
			}
			return nil
		},
	}
}

// summarizeOutput is what `skim summarize` prints.
type summarizeOutput struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Summary string `json:"summary"`
	Saved   bool   `json:"saved"`
	Copied  bool   `json:"copied,omitempty"`
}

// summarizeCmd loads a page and drives a page agent through the summary tab.
func summarizeCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "summarize",
		Usage:     "Summarize a web page (or text piped via stdin)",
		ArgsUsage: "<url>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "browser", Aliases: []string{"b"}, Usage: "Render the page in headless Chrome first"},
			&cli.BoolFlag{Name: "save", Aliases: []string{"s"}, Usage: "Save the summary"},
			&cli.BoolFlag{Name: "copy", Aliases: []string{"c"}, Usage: "Copy the summary to the clipboard"},
			&cli.StringFlag{Name: "title", Usage: "Title to record when summarizing stdin"},
		},
		Action: func(c *cli.Context) error {
			ctx := c.Context
			doc, err := e.loadDocument(ctx, c)
			if err != nil {
				return outputError(err)
			}

			var out summarizeOutput
			err = e.withCoordinator(ctx, func(ctx context.Context, sender channel.Sender) error {
				a := agent.New(*doc, sender, e.store,
					agent.RendererFunc(func(v agent.View) {
						e.logger.Debug("view", zap.Stringer("state", v.State), zap.Stringer("tab", v.Tab))
					}),
					agent.WithClipboard(e.clip()),
					agent.WithLogger(e.logger),
				)
				defer a.Navigate()

				if err := a.Load(ctx); err != nil {
					return err
				}
				if !a.View().ControlMounted {
					return errors.NewInvalidRequest("summarizing is turned off; run 'skim enable'")
				}

				a.ClickControl()
				a.SelectTab(ctx, agent.TabSummary)
				a.Wait()

				v := a.View()
				if v.Error != "" {
					return cli.Exit(v.Error, 1)
				}
				out = summarizeOutput{URL: v.URL, Title: v.Title, Summary: v.Content}

				if c.Bool("save") {
					if err := a.Save(ctx); err != nil {
						return err
					}
					out.Saved = true
				}
				if c.Bool("copy") {
					if err := a.Share(); err != nil {
						return err
					}
					out.Copied = true
				}
				return nil
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(e.stdout(), out)
		},
	}
}

// loadDocument reads the page named by the first argument, or stdin.
func (e *env) loadDocument(ctx context.Context, c *cli.Context) (*page.Page, error) {
	if c.NArg() == 0 {
		if !stdinHasData() {
			return nil, errors.NewInvalidRequest("a url argument or text piped via stdin is required")
		}
		text, err := readStdin()
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		return &page.Page{Title: c.String("title"), Text: text}, nil
	}

	src := e.pages
	if c.Bool("browser") {
		src = e.browser
		if src == nil {
			src = &page.BrowserSource{}
		}
	}
	return src.Load(ctx, c.Args().First())
}

// listOutput is what `skim list` prints.
type listOutput struct {
	Summaries summary.Collection `json:"summaries"`
	Count     int                `json:"count"`
}

// listCmd prints saved summaries, newest first.
func listCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List saved summaries, newest first",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Usage: "Show at most this many (0 = all)"},
		},
		Action: func(c *cli.Context) error {
			var summaries summary.Collection
			err := e.withCoordinator(c.Context, func(ctx context.Context, sender channel.Sender) error {
				resp, err := channel.Call(ctx, sender, &channel.Request{Action: channel.ActionListSummaries})
				if err != nil {
					return err
				}
				summaries = resp.Summaries
				return nil
			})
			if err != nil {
				return outputError(err)
			}
			if summaries == nil {
				summaries = summary.Collection{}
			}
			if limit := c.Int("limit"); limit > 0 && len(summaries) > limit {
				summaries = summaries[:limit]
			}
			return outputJSON(e.stdout(), listOutput{Summaries: summaries, Count: len(summaries)})
		},
	}
}

// deleteCmd deletes a saved summary through the control surface.
func deleteCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "Delete a saved summary",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return outputError(errors.NewInvalidRequest("summary id is required"))
			}
			id := c.Args().First()
			err := e.withCoordinator(c.Context, func(ctx context.Context, sender channel.Sender) error {
				surface := control.New(e.store, sender, control.WithLogger(e.logger))
				defer surface.Close()
				return surface.DeleteSummary(ctx, id)
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(e.stdout(), map[string]any{"deleted": true, "id": id})
		},
	}
}

// enableCmd creates `enable` or `disable`.
func enableCmd(e *env, enabled bool) *cli.Command {
	name, usage := "enable", "Turn summarizing on for every page"
	if !enabled {
		name, usage = "disable", "Turn summarizing off for every page"
	}
	return &cli.Command{
		Name:  name,
		Usage: usage,
		Action: func(c *cli.Context) error {
			surface := control.New(e.store, nil, control.WithLogger(e.logger))
			defer surface.Close()
			if err := surface.SetEnabled(c.Context, enabled); err != nil {
				return outputError(err)
			}
			return outputJSON(e.stdout(), map[string]any{"enabled": enabled})
		},
	}
}

// statusOutput is what `skim status` prints.
type statusOutput struct {
	Enabled          bool   `json:"enabled"`
	HasCredential    bool   `json:"has_credential"`
	MaskedCredential string `json:"masked_credential,omitempty"`
	Summaries        int    `json:"summaries"`
	BaseDir          string `json:"base_dir"`
	Model            string `json:"model"`
}

// statusCmd prints the toggle, credential presence and collection size.
func statusCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show whether summarizing is on, the API key and how many summaries are saved",
		Action: func(c *cli.Context) error {
			surface := control.New(e.store, nil, control.WithLogger(e.logger))
			defer surface.Close()
			if err := surface.Open(c.Context); err != nil {
				return outputError(err)
			}
			st := surface.State()
			return outputJSON(e.stdout(), statusOutput{
				Enabled:          st.Enabled,
				HasCredential:    st.HasCredential,
				MaskedCredential: st.MaskedCredential,
				Summaries:        len(st.Summaries),
				BaseDir:          e.baseDir,
				Model:            e.cfg.Model,
			})
		},
	}
}

// keyCmd manages the API credential.
func keyCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "key",
		Usage: "Manage the API key",
		Subcommands: []*cli.Command{
			{
				Name:      "set",
				Usage:     "Save the API key (argument or stdin)",
				ArgsUsage: "[key]",
				Action: func(c *cli.Context) error {
					credential := c.Args().First()
					if credential == "" && stdinHasData() {
						text, err := readStdin()
						if err != nil {
							return outputError(errors.NewInternal(err))
						}
						credential = text
					}
					surface := control.New(e.store, nil, control.WithLogger(e.logger))
					defer surface.Close()
					if err := surface.SetCredential(c.Context, credential); err != nil {
						return outputError(err)
					}
					return outputJSON(e.stdout(), map[string]any{
						"status":            control.StatusCredentialSaved,
						"masked_credential": surface.MaskedCredential(),
					})
				},
			},
			{
				Name:  "delete",
				Usage: "Remove the API key",
				Action: func(c *cli.Context) error {
					surface := control.New(e.store, nil, control.WithLogger(e.logger))
					defer surface.Close()
					if err := surface.RemoveCredential(c.Context); err != nil {
						return outputError(err)
					}
					return outputJSON(e.stdout(), map[string]any{"status": control.StatusCredentialRemoved})
				},
			},
			{
				Name:  "show",
				Usage: "Show the API key with all but the last four characters hidden",
				Action: func(c *cli.Context) error {
					surface := control.New(e.store, nil, control.WithLogger(e.logger))
					defer surface.Close()
					if err := surface.Open(c.Context); err != nil {
						return outputError(err)
					}
					st := surface.State()
					return outputJSON(e.stdout(), map[string]any{
						"has_credential":    st.HasCredential,
						"masked_credential": st.MaskedCredential,
					})
				},
			},
		},
	}
}

// changeOutput is one line of `skim watch`. Credential values are never printed.
type changeOutput struct {
	Key     string          `json:"key"`
	Removed bool            `json:"removed,omitempty"`
	Value   json.RawMessage `json:"value,omitempty"`
}

// watchCmd streams store changes as JSON lines until interrupted.
func watchCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Print store changes as they happen",
		Action: func(c *cli.Context) error {
			changes, unsubscribe := e.store.Subscribe()
			defer unsubscribe()

			ctx, cancel := context.WithCancel(c.Context)
			defer cancel()
			g, gctx := errgroup.WithContext(ctx)
			if e.watcher != nil {
				g.Go(func() error { return e.watcher.Watch(gctx) })
			}
			g.Go(func() error {
				enc := json.NewEncoder(e.stdout())
				for {
					select {
					case <-gctx.Done():
						return nil
					case ch, ok := <-changes:
						if !ok {
							return nil
						}
						line := changeOutput{Key: ch.Key, Removed: ch.NewValue == nil, Value: ch.NewValue}
						if ch.Key == store.KeyCredential {
							line.Value = nil
						}
						if err := enc.Encode(line); err != nil {
							return err
						}
					}
				}
			})
			if err := g.Wait(); err != nil {
				return outputError(err)
			}
			return nil
		},
	}
}

// exportCmd writes the collection to a JSONL file.
func exportCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export saved summaries to a JSONL file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Output path (default: <base>/exports/summaries-<time>.jsonl)"},
		},
		Action: func(c *cli.Context) error {
			summaries, err := store.Summaries(c.Context, e.store)
			if err != nil {
				return outputError(err)
			}
			now := e.clock()
			path := c.String("output")
			if path == "" {
				path = summary.DefaultExportPath(e.baseDir, now)
			}
			out, err := summary.Export(summaries, path, now)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(e.stdout(), out)
		},
	}
}

// uiCmd opens the terminal control surface.
func uiCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "ui",
		Usage: "Open the terminal control surface",
		Action: func(c *cli.Context) error {
			err := e.withCoordinator(c.Context, func(ctx context.Context, sender channel.Sender) error {
				surface := control.New(e.store, sender, control.WithLogger(e.logger), control.WithClipboard(e.clip()))
				defer surface.Close()
				if err := surface.Open(ctx); err != nil {
					return err
				}

				ctx, cancel := context.WithCancel(ctx)
				defer cancel()
				g, gctx := errgroup.WithContext(ctx)
				g.Go(func() error { return surface.Run(gctx) })
				if e.watcher != nil {
					g.Go(func() error { return e.watcher.Watch(gctx) })
				}
				g.Go(func() error {
					defer cancel()
					return tui.Run(gctx, surface)
				})
				return g.Wait()
			})
			if err != nil {
				return outputError(err)
			}
			return nil
		},
	}
}

// Helper functions

// outputJSON marshals result to w as JSON.
func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	var exitErr cli.ExitCoder
	if stderrors.As(err, &exitErr) {
		return err
	}
	var sErr *errors.SkimError
	if stderrors.As(err, &sErr) {
		return cli.Exit(fmt.Sprintf("[%s] %s", sErr.Code, sErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// readStdin reads all content from stdin.
func readStdin() (string, error) {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

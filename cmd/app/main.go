package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/scriptorium/internal"
	"github.com/starford/scriptorium/internal/apperr"
	"github.com/starford/scriptorium/internal/printer"
	"github.com/starford/scriptorium/internal/queue"
	"github.com/starford/scriptorium/internal/router"
	pkgconfig "github.com/starford/scriptorium/pkg/config"
)

// routerSamples is the fixed set routed by "router test".
var routerSamples = []router.Document{
	{Filename: "README.md"},
	{Filename: "market-analysis.md"},
	{Filename: "pricing-strategy.md"},
	{Filename: "sprint-004-review.md"},
	{Filename: "checkout-requirements.md"},
	{Filename: "payment-service-architecture.md"},
	{Filename: "adr-001-event-store.md"},
	{Filename: "orders-api.md"},
	{Filename: "load-test-plan.md"},
	{Filename: "db-incident.md"},
	{Filename: "plan.md", Category: "operations"},
	{Filename: "onboarding-guide.md"},
	{Filename: "notes.md", Content: "# Notes\n\nDeploy pipeline monitoring and incident alerts.", Agent: "sre"},
	{Filename: "scratch.md"},
}

var out = printer.New(os.Stdout, os.Stderr)

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if _, err := pkgconfig.LoadOptional(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func cliLogger(cfg *internal.Config) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.App.LogLevel}))
}

// withStack loads config, builds the component stack and hands it to fn.
func withStack(cmd *cli.Command, fn func(*internal.Stack) error, opts ...router.Option) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	stack, err := internal.NewStack(cfg, cliLogger(cfg), opts...)
	if err != nil {
		return err
	}
	defer stack.Close()
	return fn(stack)
}

func requireArg(cmd *cli.Command, name string) (string, error) {
	v := strings.TrimSpace(cmd.Args().First())
	if v == "" {
		return "", fmt.Errorf("%s is required", name)
	}
	return v, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.RunMCP(ctx, internal.WithConfig(cfg))
}

func routeDocument(ctx context.Context, cmd *cli.Command) error {
	filename, err := requireArg(cmd, "filename")
	if err != nil {
		return err
	}
	doc := router.Document{
		Filename: filename,
		Agent:    cmd.Args().Get(1),
		Category: cmd.Args().Get(2),
	}
	if p := cmd.String("content-file"); p != "" {
		data, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("read content: %w", err)
		}
		doc.Content = string(data)
	}
	var opts []router.Option
	if cmd.Bool("dry-run") {
		opts = append(opts, router.WithDryRun())
	}
	return withStack(cmd, func(s *internal.Stack) error {
		p, err := s.Router.Route(ctx, doc)
		if err != nil {
			return err
		}
		out.Println(p)
		return nil
	}, opts...)
}

func routerStats(_ context.Context, cmd *cli.Command) error {
	return withStack(cmd, func(s *internal.Stack) error {
		rules := s.Router.Rules()
		out.Step("%d categories, %d known documents", len(rules.Categories), len(rules.KnownDocuments))
		return out.LearnedPatterns(s.Router.Learned().Patterns())
	})
}

func routerTest(ctx context.Context, cmd *cli.Command) error {
	return withStack(cmd, func(s *internal.Stack) error {
		for _, doc := range routerSamples {
			// Failures are recorded in the decision history and shown below.
			_, _ = s.Router.Route(ctx, doc)
		}
		st := s.Router.Stats()
		for i, j := 0, len(st.Recent)-1; i < j; i, j = i+1, j-1 {
			st.Recent[i], st.Recent[j] = st.Recent[j], st.Recent[i]
		}
		return out.RouterStats(st)
	}, router.WithDryRun())
}

func registryInit(ctx context.Context, cmd *cli.Command) error {
	return withStack(cmd, func(s *internal.Stack) error {
		created, err := s.Manager.Init(ctx)
		if err != nil {
			return err
		}
		if created {
			out.Success("registry created at %s", s.Manager.Paths().Registry)
		} else {
			out.Step("registry already exists at %s", s.Manager.Paths().Registry)
		}
		if !cmd.Bool("scan") {
			return nil
		}
		n, drain, err := s.Service.Scan(ctx)
		if err != nil {
			return err
		}
		if n == 0 {
			out.Step("no unregistered documents found")
			return nil
		}
		out.Success("registered %d documents (version %d)", drain.Applied, drain.Version)
		if drain.Failed > 0 {
			out.Warning("%d documents failed to register", drain.Failed)
		}
		return nil
	})
}

func registryStats(_ context.Context, cmd *cli.Command) error {
	return withStack(cmd, func(s *internal.Stack) error {
		st, err := s.Manager.GetStatistics()
		if err != nil {
			return err
		}
		return out.Statistics(st)
	})
}

func registryDisplay(_ context.Context, cmd *cli.Command) error {
	return withStack(cmd, func(s *internal.Stack) error {
		docs, err := s.Manager.Documents()
		if err != nil {
			return err
		}
		return out.Documents(docs)
	})
}

func registryFind(_ context.Context, cmd *cli.Command) error {
	term, err := requireArg(cmd, "term")
	if err != nil {
		return err
	}
	return withStack(cmd, func(s *internal.Stack) error {
		docs, err := s.Manager.FindDocument(term)
		if err != nil {
			return err
		}
		return out.Documents(docs)
	})
}

func registryQueue(ctx context.Context, cmd *cli.Command) error {
	raw, err := requireArg(cmd, "update JSON")
	if err != nil {
		return err
	}
	p, err := queue.ParseUpdate([]byte(raw))
	if err != nil {
		return err
	}
	return withStack(cmd, func(s *internal.Stack) error {
		res, err := s.Manager.QueueUpdate(ctx, p)
		if err != nil {
			return err
		}
		out.Success("applied %d, failed %d, skipped %d (version %d, %d documents)",
			res.Applied, res.Failed, res.Skipped, res.Version, res.DocumentCount)
		return nil
	})
}

func registryProcess(ctx context.Context, cmd *cli.Command) error {
	return withStack(cmd, func(s *internal.Stack) error {
		res, err := s.Manager.ProcessQueue(ctx)
		if err != nil {
			return err
		}
		if res.Applied+res.Failed+res.Skipped == 0 {
			out.Step("queue empty (version %d)", res.Version)
			return nil
		}
		out.Success("applied %d, failed %d, skipped %d (version %d, %d documents)",
			res.Applied, res.Failed, res.Skipped, res.Version, res.DocumentCount)
		return nil
	})
}

func registrySearch(ctx context.Context, cmd *cli.Command) error {
	query, err := requireArg(cmd, "query")
	if err != nil {
		return err
	}
	return withStack(cmd, func(s *internal.Stack) error {
		results, err := s.Service.Search(ctx, query, int(cmd.Int("limit")))
		if err != nil {
			return err
		}
		if len(results) == 0 {
			out.Warning("no matches for %q", query)
			return nil
		}
		for _, r := range results {
			out.Println(r.Path + "\t" + r.Summary)
		}
		return nil
	})
}

func registryDependents(ctx context.Context, cmd *cli.Command) error {
	key, err := requireArg(cmd, "key")
	if err != nil {
		return err
	}
	return withStack(cmd, func(s *internal.Stack) error {
		deps, err := s.Service.Dependents(ctx, key)
		if err != nil {
			return err
		}
		if len(deps) == 0 {
			out.Warning("nothing depends on %q", key)
			return nil
		}
		for _, d := range deps {
			out.Println(d)
		}
		return nil
	})
}

// reportError prints err with a hint for the retryable failure kinds.
func reportError(err error) {
	switch {
	case errors.Is(err, apperr.ErrLockUnavailable):
		out.Error(err.Error(), "Another process holds the registry lock; retry shortly.")
	case errors.Is(err, apperr.ErrPersistence):
		out.Error(err.Error(), "The update is still queued; run \"registry process\" once the problem is fixed.")
	default:
		out.Error(err.Error())
	}
}

func main() {
	cmd := &cli.Command{
		Name:  "scriptorium",
		Usage: "Route generated documents into a project tree and keep their registry",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("SCRIPTORIUM_CONFIG"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API and watch the routing rules",
				Action: serve,
			},
			{
				Name:   "mcp",
				Usage:  "Serve MCP tools on stdio",
				Action: serveMCP,
			},
			{
				Name:  "router",
				Usage: "Resolve document paths",
				Commands: []*cli.Command{
					{
						Name:      "route",
						Usage:     "Print the path a document would be stored at",
						ArgsUsage: "<filename> [agent] [category]",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "content-file", Usage: "File whose content is used for classification"},
							&cli.BoolFlag{Name: "dry-run", Usage: "Do not create folders or learn patterns"},
						},
						Action: routeDocument,
					},
					{
						Name:   "stats",
						Usage:  "Show persisted routing state: rules and learned patterns (live counters: GET /api/route/stats)",
						Action: routerStats,
					},
					{
						Name:   "test",
						Usage:  "Route a fixed sample set without side effects and show the per-tier counts",
						Action: routerTest,
					},
				},
			},
			{
				Name:  "registry",
				Usage: "Manage the document registry",
				Commands: []*cli.Command{
					{
						Name:  "init",
						Usage: "Create an empty registry",
						Flags: []cli.Flag{
							&cli.BoolFlag{Name: "scan", Usage: "Register every Markdown file under the store root"},
						},
						Action: registryInit,
					},
					{
						Name:   "stats",
						Usage:  "Show totals, compact coverage and token reduction",
						Action: registryStats,
					},
					{
						Name:   "display",
						Usage:  "List every registered document",
						Action: registryDisplay,
					},
					{
						Name:      "find",
						Usage:     "Find documents whose key or summary contains a term",
						ArgsUsage: "<term>",
						Action:    registryFind,
					},
					{
						Name:      "queue",
						Usage:     "Queue one update and drain the queue",
						ArgsUsage: `'{"action":"create","path":"implementation/api-design.md"}'`,
						Action:    registryQueue,
					},
					{
						Name:   "process",
						Usage:  "Apply pending updates",
						Action: registryProcess,
					},
					{
						Name:      "search",
						Usage:     "Full-text search over registered documents",
						ArgsUsage: "<query>",
						Flags: []cli.Flag{
							&cli.IntFlag{Name: "limit", Value: 20, Usage: "Maximum results"},
						},
						Action: registrySearch,
					},
					{
						Name:      "dependents",
						Usage:     "List documents that depend on a key",
						ArgsUsage: "<key>",
						Action:    registryDependents,
					},
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		reportError(err)
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

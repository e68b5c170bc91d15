// Command catalogctl runs catalog maintenance against the vector index:
// synchronous file ingest, ad-hoc search, purge and stats.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/kailas-cloud/catalogsearch/internal/app"
	"github.com/kailas-cloud/catalogsearch/internal/config"
	"github.com/kailas-cloud/catalogsearch/internal/domain/namespace"
	"github.com/kailas-cloud/catalogsearch/internal/domain/record"
	"github.com/kailas-cloud/catalogsearch/internal/domain/search/request"
	logpkg "github.com/kailas-cloud/catalogsearch/internal/logger"
	ingestuc "github.com/kailas-cloud/catalogsearch/internal/usecase/ingest"
	"github.com/kailas-cloud/catalogsearch/internal/version"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// defaultEmbedChunk batches file loads into fewer embedding calls.
const defaultEmbedChunk = 64

func newApp() *cli.App {
	return &cli.App{
		Name:    "catalogctl",
		Usage:   "Maintain the catalog vector index",
		Version: version.String(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "env",
				Usage:   "Config environment (config/{env}.yaml)",
				EnvVars: []string{"ENV"},
				Value:   "local",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "ingest",
				Usage:  "Embed and upsert a JSON array of records from a file",
				Action: ingestCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "type",
						Aliases:  []string{"t"},
						Usage:    "Record type: products, blogs or stores",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "file",
						Aliases:  []string{"f"},
						Usage:    "Path to a JSON file holding an array of records",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "location",
						Usage: "Store location id (products only)",
					},
					&cli.BoolFlag{
						Name:  "clear",
						Usage: "Delete the target namespace before ingesting",
					},
					&cli.IntFlag{
						Name:  "embed-chunk",
						Usage: "Records per embedding API call (1 embeds one by one)",
						Value: defaultEmbedChunk,
					},
				},
			},
			{
				Name:   "search",
				Usage:  "Run a semantic search",
				Action: searchCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "query",
						Aliases:  []string{"q"},
						Required: true,
					},
					&cli.StringFlag{
						Name:  "namespace",
						Usage: "products, blogs, stores or all",
						Value: string(namespace.All),
					},
					&cli.IntFlag{
						Name:  "top-k",
						Usage: "Matches per namespace",
						Value: request.DefaultTopK,
					},
					&cli.StringFlag{
						Name:  "location",
						Usage: "Store location id for product results",
					},
				},
			},
			{
				Name:   "purge",
				Usage:  "Delete all vectors, or only one namespace",
				Action: purgeCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "namespace",
						Usage: "Namespace to purge, e.g. lv-products (default: everything)",
					},
				},
			},
			{
				Name:   "stats",
				Usage:  "Print vector counts per namespace",
				Action: statsCommand,
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:  "namespace",
						Usage: "Namespaces to count (default: orphan-products, blogs, stores)",
					},
				},
			},
		},
	}
}

// withApp loads config, wires the services and closes them after fn.
func withApp(c *cli.Context, fn func(ctx context.Context, a *app.App, log *zap.Logger) error) error {
	if err := config.LoadDotEnv(); err != nil {
		return err //nolint:wrapcheck // already wrapped
	}
	env := c.String("env")
	cfg, err := config.Load(env)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if n := c.Int("embed-chunk"); n > 0 {
		cfg.Ingest.EmbedChunk = n
	}
	level := c.String("log-level")
	if level == "" {
		level = cfg.Logging.Level
	}
	log, err := logpkg.NewLogger(env, level)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx := c.Context
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			log.Warn("Shutdown error", zap.Error(err))
		}
	}()
	return fn(ctx, a, log)
}

func ingestCommand(c *cli.Context) error {
	typ := record.Type(strings.TrimSpace(c.String("type")))
	if !typ.IsValid() {
		return fmt.Errorf("--type must be products, blogs or stores, got %q", typ)
	}
	if err := record.ValidateLocation(c.String("location")); err != nil {
		return err //nolint:wrapcheck // domain validation error
	}
	records, err := loadRecords(c.String("file"))
	if err != nil {
		return err
	}
	job := ingestuc.Job{
		ID:         "cli-" + strings.TrimSuffix(filepath.Base(c.String("file")), filepath.Ext(c.String("file"))),
		Type:       typ,
		LocationID: c.String("location"),
		Records:    records,
	}

	return withApp(c, func(ctx context.Context, a *app.App, _ *zap.Logger) error {
		if c.Bool("clear") {
			n, err := a.Index.DeleteNamespace(ctx, job.Namespace())
			if err != nil {
				return fmt.Errorf("clear %s: %w", job.Namespace(), err)
			}
			fmt.Fprintf(c.App.Writer, "cleared %d vectors from %s\n", n, job.Namespace())
		}
		rep := a.Ingest.Run(ctx, job)
		fmt.Fprintf(c.App.Writer, "%s: %d/%d upserted, %d failed, %d batches in %s\n",
			rep.Namespace, rep.Upserted, rep.Total, rep.Failed, rep.Batches, rep.Duration.Round(time.Millisecond))
		if rep.Upserted == 0 && rep.Total > 0 {
			return fmt.Errorf("no records were ingested")
		}
		return nil
	})
}

func searchCommand(c *cli.Context) error {
	scope, err := namespace.ParseScope(c.String("namespace"))
	if err != nil {
		return err //nolint:wrapcheck // validation message is user-facing
	}

	return withApp(c, func(ctx context.Context, a *app.App, _ *zap.Logger) error {
		req, err := request.New(c.String("query"), scope, c.String("location"), c.Int("top-k"), a.Limits())
		if err != nil {
			return err //nolint:wrapcheck // validation message is user-facing
		}
		resp, err := a.Search.Search(ctx, &req)
		if err != nil {
			return fmt.Errorf("search: %w", err)
		}
		if resp.QueryRewritten != nil {
			fmt.Fprintf(c.App.Writer, "rewritten: %s\n", *resp.QueryRewritten)
		}
		for _, m := range resp.Results {
			fmt.Fprintf(c.App.Writer, "%.4f\t%s\t%s\t%s\n", m.Score(), m.Namespace(), m.ID(), label(m.Metadata()))
		}
		fmt.Fprintf(c.App.Writer, "%d results (cached: %v)\n", resp.TotalResults(), resp.Cached)
		return nil
	})
}

func purgeCommand(c *cli.Context) error {
	return withApp(c, func(ctx context.Context, a *app.App, _ *zap.Logger) error {
		var (
			n   int
			err error
		)
		if ns := c.String("namespace"); ns != "" {
			n, err = a.Index.DeleteNamespace(ctx, ns)
		} else {
			n, err = a.Index.DeleteAll(ctx)
		}
		if err != nil {
			return fmt.Errorf("purge: %w", err)
		}
		fmt.Fprintf(c.App.Writer, "deleted %d vectors\n", n)
		return nil
	})
}

func statsCommand(c *cli.Context) error {
	return withApp(c, func(ctx context.Context, a *app.App, _ *zap.Logger) error {
		st, err := a.Index.Stats(ctx, c.StringSlice("namespace"))
		if err != nil {
			return fmt.Errorf("stats: %w", err)
		}
		writeStats(c.App.Writer, st.Order, st.Namespaces, st.Total)
		return nil
	})
}

// loadRecords reads a JSON array of objects. Numbers stay json.Number so
// ids render exactly as written.
func loadRecords(path string) ([]map[string]any, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.UseNumber()
	var records []map[string]any
	if err := dec.Decode(&records); err != nil {
		return nil, fmt.Errorf("decode %s: expected a JSON array of objects: %w", path, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%s holds no records", path)
	}
	return records, nil
}

func writeStats(w io.Writer, order []string, counts map[string]int, total int) {
	names := append([]string(nil), order...)
	if len(names) == 0 {
		for ns := range counts {
			names = append(names, ns)
		}
		sort.Strings(names)
	}
	for _, ns := range names {
		fmt.Fprintf(w, "%-24s %d\n", ns, counts[ns])
	}
	fmt.Fprintf(w, "%-24s %d\n", "total", total)
}

// label picks a human-readable name for a match.
func label(md map[string]any) string {
	for _, k := range []string{"name", "title"} {
		if s, ok := md[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

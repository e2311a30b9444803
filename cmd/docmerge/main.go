// Command docmerge serves a repository of Word documents over HTTP and merges
// or previews them from the command line.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/fatih/color"

	"github.com/FocuswithJustin/docmerge/core/cas"
	"github.com/FocuswithJustin/docmerge/core/errors"
	"github.com/FocuswithJustin/docmerge/core/merge"
	"github.com/FocuswithJustin/docmerge/internal/api"
	"github.com/FocuswithJustin/docmerge/internal/config"
	"github.com/FocuswithJustin/docmerge/internal/preview"
	"github.com/FocuswithJustin/docmerge/internal/repository"
	"github.com/FocuswithJustin/docmerge/internal/validation"
)

// Globals are flags shared by every command. Set values override the config
// file.
type Globals struct {
	Config     string `short:"c" help:"YAML configuration file" type:"path" env:"DOCMERGE_CONFIG"`
	Repository string `short:"r" help:"Document repository root (overrides config and $DOCUMENT_REPOSITORY_PATH)" type:"path"`
	LogLevel   string `name:"log-level" help:"Log level (debug, info, warn, error)"`
	LogFormat  string `name:"log-format" help:"Log format (json, text)"`
}

// CLI defines the command-line interface for docmerge.
type CLI struct {
	Globals

	Serve   ServeCmd   `cmd:"" help:"Start the HTTP API server"`
	Merge   MergeCmd   `cmd:"" help:"Merge documents from the repository into one file"`
	List    ListCmd    `cmd:"" help:"List repository documents by category"`
	Preview PreviewCmd `cmd:"" help:"Render a repository document to PDF"`
	Version VersionCmd `cmd:"" help:"Print version information"`
}

// load reads the config file, applies global flags and validates the result.
func (g *Globals) load(apply func(*config.Config)) (config.Config, error) {
	cfg, err := config.Load(g.Config)
	if err != nil {
		return config.Config{}, err
	}
	if g.Repository != "" {
		cfg.Repository = g.Repository
	}
	if g.LogLevel != "" {
		cfg.Log.Level = g.LogLevel
	}
	if g.LogFormat != "" {
		cfg.Log.Format = g.LogFormat
	}
	if apply != nil {
		apply(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	cfg.ApplyLogging(os.Stderr)
	return cfg, nil
}

// ServeCmd runs the API server until interrupted.
type ServeCmd struct {
	Port      int    `short:"p" help:"HTTP server port (default from config, 5000)"`
	Policy    string `help:"Resource collision policy (remap, first-wins)"`
	CacheDir  string `name:"cache-dir" help:"Preview cache directory" type:"path"`
	HistoryDB string `name:"history-db" help:"SQLite file for merge history" type:"path"`
}

func (c *ServeCmd) Run(g *Globals) error {
	cfg, err := g.load(func(cfg *config.Config) {
		if c.Port != 0 {
			cfg.Port = c.Port
		}
		if c.Policy != "" {
			cfg.Merge.CollisionPolicy = c.Policy
		}
		if c.CacheDir != "" {
			cfg.CacheDir = c.CacheDir
		}
		if c.HistoryDB != "" {
			cfg.HistoryDB = c.HistoryDB
		}
	})
	if err != nil {
		return err
	}

	srv, err := api.New(cfg)
	if err != nil {
		return err
	}
	defer srv.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.ListenAndServe(ctx)
}

// MergeCmd merges repository documents in the order given.
type MergeCmd struct {
	Output    string   `short:"o" help:"Output file" default:"merged_document.docx" type:"path"`
	Policy    string   `help:"Resource collision policy (remap, first-wins)"`
	Documents []string `arg:"" help:"Document locations relative to the repository root"`
}

func (c *MergeCmd) Run(g *Globals, out io.Writer) error {
	if err := validation.ValidateFilename(filepath.Base(c.Output)); err != nil {
		return fmt.Errorf("output %s: %w", c.Output, err)
	}
	cfg, err := g.load(func(cfg *config.Config) {
		if c.Policy != "" {
			cfg.Merge.CollisionPolicy = c.Policy
		}
	})
	if err != nil {
		return err
	}

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return err
	}
	merger := merge.New(repo,
		merge.WithCollisionPolicy(cfg.Policy()),
		merge.WithPreload(cfg.Merge.Preload))

	res, err := merger.Merge(context.Background(), c.Documents)
	if err != nil {
		return err
	}
	if err := res.Document.Save(c.Output); err != nil {
		return err
	}

	printSummary(out, res, c.Output)
	return nil
}

func printSummary(out io.Writer, res *merge.Result, output string) {
	bold := color.New(color.Bold)
	warn := color.New(color.FgYellow)

	bold.Fprintf(out, "Merged %d document(s) into %s\n", len(res.Inputs), output)
	for i, in := range res.Inputs {
		fmt.Fprintf(out, "  %d. %s (%d nodes, %d resources)\n", i+1, in.Location, in.Nodes, in.Resources)
		if in.Unbound > 0 {
			warn.Fprintf(out, "     %d reference(s) to parts that were not carried over\n", in.Unbound)
		}
	}
	if len(res.Conflicts) == 0 {
		color.New(color.FgGreen).Fprintf(out, "No resource conflicts (policy %s)\n", res.Policy)
		return
	}
	warn.Fprintf(out, "%d resource conflict(s) (policy %s):\n", len(res.Conflicts), res.Policy)
	for _, cf := range res.Conflicts {
		if cf.RemappedTo != "" {
			warn.Fprintf(out, "  %s: %s %s -> %s (was %s)\n", cf.Location, cf.ID, cf.Incoming, cf.RemappedTo, cf.Existing)
		} else {
			warn.Fprintf(out, "  %s: %s kept %s, dropped %s\n", cf.Location, cf.ID, cf.Existing, cf.Incoming)
		}
	}
}

// ListCmd prints the repository listing.
type ListCmd struct {
	JSON bool `help:"Print the listing as JSON, as served by /api/get-documents"`
}

func (c *ListCmd) Run(g *Globals, out io.Writer) error {
	cfg, err := g.load(nil)
	if err != nil {
		return err
	}
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return err
	}
	listing, err := repo.List()
	if err != nil {
		return err
	}

	if c.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(listing)
	}
	for _, category := range slices.Sorted(maps.Keys(listing)) {
		color.New(color.Bold).Fprintf(out, "%s/\n", category)
		for _, name := range listing[category] {
			fmt.Fprintf(out, "  %s\n", name)
		}
	}
	return nil
}

// PreviewCmd writes the PDF preview of one document.
type PreviewCmd struct {
	Document string `arg:"" help:"Document location relative to the repository root"`
	Output   string `short:"o" help:"Output file" default:"document_preview.pdf" type:"path"`
	CacheDir string `name:"cache-dir" help:"Preview cache directory" type:"path"`
}

func (c *PreviewCmd) Run(g *Globals, out io.Writer) error {
	cfg, err := g.load(func(cfg *config.Config) {
		if c.CacheDir != "" {
			cfg.CacheDir = c.CacheDir
		}
	})
	if err != nil {
		return err
	}
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return err
	}
	path, err := repo.Resolve(c.Document)
	if err != nil {
		return err
	}
	if !repo.Exists(path) {
		return errors.NewDocumentNotFound(c.Document)
	}

	var opts []preview.Option
	if cfg.CacheDir != "" {
		store, err := cas.NewStore(cfg.CacheDir)
		if err != nil {
			return err
		}
		opts = append(opts, preview.WithCache(store))
	}
	conv := preview.New(preview.NewWkhtmltopdf(cfg.Renderer.Binary, cfg.Renderer.Timeout), opts...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	pdf, err := conv.Convert(ctx, path)
	if err != nil {
		var re *errors.RenderError
		if errors.As(err, &re) && re.Output != "" {
			fmt.Fprintln(os.Stderr, re.Output)
		}
		return err
	}
	if err := os.WriteFile(c.Output, pdf, 0644); err != nil {
		return errors.NewIO("write", c.Output, err)
	}
	fmt.Fprintf(out, "Wrote %s (%d bytes)\n", c.Output, len(pdf))
	return nil
}

type VersionCmd struct{}

func (c *VersionCmd) Run(out io.Writer) error {
	fmt.Fprintf(out, "docmerge version %s\n", api.Version)
	return nil
}

func newParser(cli *CLI, out io.Writer) (*kong.Kong, error) {
	return kong.New(cli,
		kong.Name("docmerge"),
		kong.Description("Merge and preview Word documents from a document repository"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.Bind(&cli.Globals),
		kong.BindTo(out, (*io.Writer)(nil)),
	)
}

func main() {
	var cli CLI
	parser, err := newParser(&cli, os.Stdout)
	if err != nil {
		panic(err)
	}
	ctx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)
	err = ctx.Run()
	ctx.FatalIfErrorf(err)
}

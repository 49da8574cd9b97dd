package main

import (
	"fmt"
	"io"
	"time"

	"github.com/gosuri/uiprogress"
	"github.com/spf13/cobra"

	"github.com/japaniel/tango/pkg/input"
	"github.com/japaniel/tango/pkg/pipeline"
)

func newIngestCommand(a *app) *cobra.Command {
	var articleURL string
	var progress bool

	cmd := &cobra.Command{
		Use:   "ingest [file|-]",
		Short: "Add the vocabulary of a text to the cache",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var lines []string
			var err error
			switch {
			case articleURL != "" && len(args) > 0:
				return fmt.Errorf("give either a file or --url, not both")
			case articleURL != "":
				article, ferr := input.NewFetcher().Fetch(cmd.Context(), articleURL)
				if ferr != nil {
					return ferr
				}
				a.log.Info("fetched article", "title", article.Title, "lines", len(article.Lines))
				lines = article.Lines
			case len(args) == 1:
				lines, err = input.ReadFile(args[0])
			default:
				return fmt.Errorf("nothing to ingest: give a file, - for stdin, or --url")
			}
			if err != nil {
				return err
			}
			return a.runIngest(cmd, lines, progress)
		},
	}

	f := cmd.Flags()
	f.StringVar(&articleURL, "url", "", "fetch and ingest a web article")
	f.BoolVar(&progress, "progress", true, "show progress bars")
	f.String("translation-mode", "", "per-line or batched (default batched)")
	f.String("indexing", "", "full or dictionary-only (default full)")
	f.Int("workers", 0, "tokenizer workers (default 4)")
	f.Int("batch-size", 0, "lines per translation request and per store transaction (default 25)")
	f.String("dictionary", "", "dictionary source: jisho or jmdict (default jisho)")
	f.String("dictionary-path", "", "offline JMdict file (default jmdict-eng-common.json)")
	f.String("openai-base-url", "", "OpenAI-compatible API base URL")
	a.v.BindPFlag("translation.mode", f.Lookup("translation-mode"))
	a.v.BindPFlag("indexing", f.Lookup("indexing"))
	a.v.BindPFlag("workers", f.Lookup("workers"))
	a.v.BindPFlag("translation.batch_size", f.Lookup("batch-size"))
	a.v.BindPFlag("dictionary.source", f.Lookup("dictionary"))
	a.v.BindPFlag("dictionary.path", f.Lookup("dictionary-path"))
	a.v.BindPFlag("openai.base_url", f.Lookup("openai-base-url"))
	return cmd
}

func (a *app) runIngest(cmd *cobra.Command, lines []string, progress bool) error {
	ctx := cmd.Context()
	s, err := pipeline.Open(ctx, a.cfg, a.log)
	if err != nil {
		return err
	}
	defer s.Close()

	p := pipeline.New(s)
	p.Strategy = pipeline.Strategy{TranslationMode: a.cfg.Translation.Mode, Indexing: a.cfg.Indexing}
	p.Workers = a.cfg.Workers
	p.BatchSize = a.cfg.Translation.BatchSize

	if progress && len(lines) > 0 {
		stop := attachProgress(cmd.ErrOrStderr(), p, len(lines))
		defer stop()
	}

	start := time.Now()
	rep, err := p.Run(ctx, lines)
	if err != nil {
		return err
	}
	a.log.Info("ingest finished", "lines", rep.Lines, "elapsed", time.Since(start).Round(time.Millisecond).String())
	printReport(cmd.OutOrStdout(), rep)
	return nil
}

// attachProgress renders one bar for lines and, once lookups start, one for
// dictionary lookups. Bars go to w so the report on stdout stays clean.
func attachProgress(w io.Writer, p *pipeline.Pipeline, total int) func() {
	bars := uiprogress.New()
	bars.SetOut(w)
	bars.Start()
	lineBar := bars.AddBar(total)
	lineBar.AppendCompleted()
	lineBar.PrependFunc(func(b *uiprogress.Bar) string { return "lines  " })
	p.OnProgress = func(current, _ int) { lineBar.Set(current) }

	var lookupBar *uiprogress.Bar
	p.OnLookup = func(current, total int) {
		if lookupBar == nil {
			lookupBar = bars.AddBar(total)
			lookupBar.AppendCompleted()
			lookupBar.PrependFunc(func(b *uiprogress.Bar) string { return "lookup " })
			lookupBar.PrependElapsed()
		}
		lookupBar.Set(current)
	}
	return bars.Stop
}

func printReport(w io.Writer, rep pipeline.Report) {
	fmt.Fprintf(w, "lines:          %d (%d untranslated)\n", rep.Lines, rep.Untranslated)
	fmt.Fprintf(w, "translations:   %d cached, %d new, %d failed\n",
		rep.Translation.Cached, rep.Translation.Translated, rep.Translation.Failed)
	fmt.Fprintf(w, "tokens:         %d unique, %d kept, %d dropped\n",
		rep.UniqueTokens, rep.Normalize.Kept, rep.Normalize.Dropped())
	fmt.Fprintf(w, "dictionary:     %d cached, %d resolved, %d unresolved, %d failed\n",
		rep.Dictionary.Cached, rep.Dictionary.Resolved, rep.Dictionary.Unresolved, rep.Dictionary.Failed)
	fmt.Fprintf(w, "new rows:       %d tokens, %d seen forms, %d lines, %d examples\n",
		rep.Added.Tokens, rep.Added.SeenForms, rep.Added.Lines, rep.Added.Examples)
}

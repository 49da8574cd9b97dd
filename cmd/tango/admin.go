package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/japaniel/tango/pkg/db"
	"github.com/japaniel/tango/pkg/dictionary"
)

func newUnresolvedCommand(a *app) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "unresolved",
		Short: "List tokens the dictionary had no entry for",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := a.openStore()
			if err != nil {
				return err
			}
			defer conn.Close()

			list, err := db.ListUnresolvedTokens(cmd.Context(), conn, all)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, u := range list {
				state := "open"
				if u.Resolved {
					state = "resolved"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", u.Token, state, u.CreatedAt.Format("2006-01-02"))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include tokens already marked resolved")
	return cmd
}

func newResolveCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <token>...",
		Short: "Mark unresolved tokens as handled by hand",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := a.openStore()
			if err != nil {
				return err
			}
			defer conn.Close()

			out := cmd.OutOrStdout()
			for _, tok := range args {
				ok, err := db.MarkResolved(cmd.Context(), conn, tok)
				if err != nil {
					return err
				}
				if ok {
					fmt.Fprintf(out, "resolved %s\n", tok)
				} else {
					fmt.Fprintf(out, "%s is not an unresolved token\n", tok)
				}
			}
			return nil
		},
	}
}

func newExamplesCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "examples <token>",
		Short: "Show the lines a token was seen in",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := a.openStore()
			if err != nil {
				return err
			}
			defer conn.Close()

			out := cmd.OutOrStdout()
			if err := printEntry(cmd.Context(), out, conn, args[0]); err != nil {
				return err
			}

			examples, err := db.ListExamples(cmd.Context(), conn, args[0])
			if err != nil {
				return err
			}
			for _, e := range examples {
				fmt.Fprintf(out, "[%s] %s\n    %s\n", e.Surface, e.Source, e.Translation)
			}
			return nil
		},
	}
}

// printEntry writes the cached dictionary entry for token as a header line.
func printEntry(ctx context.Context, w io.Writer, conn db.DBExecutor, token string) error {
	entry, ok, err := db.GetDictionaryEntry(ctx, conn, token)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintf(w, "%s: no dictionary entry\n", token)
		return nil
	}
	c, err := dictionary.DecodeCandidate(entry.BestMatch)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s 【%s】 %s\n", c.Identity, c.Reading, strings.Join(c.Definitions, "; "))
	if entry.MultipleResults {
		fmt.Fprintln(w, "  (other dictionary results exist)")
	}
	return nil
}

func newStatsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show row counts of the cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := a.openStore()
			if err != nil {
				return err
			}
			defer conn.Close()

			c, err := db.CountRows(cmd.Context(), conn)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "tokens\t%d\n", c.Tokens)
			fmt.Fprintf(tw, "seen forms\t%d\n", c.SeenForms)
			fmt.Fprintf(tw, "lines\t%d\n", c.Lines)
			fmt.Fprintf(tw, "examples\t%d\n", c.Examples)
			fmt.Fprintf(tw, "dictionary entries\t%d\n", c.DictionaryEntries)
			fmt.Fprintf(tw, "unresolved tokens\t%d\n", c.UnresolvedTokens)
			return tw.Flush()
		},
	}
}

func newFetchDictCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch-dict [path]",
		Short: "Download the offline JMdict dictionary if it is missing",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.cfg.Dictionary.Path
			if len(args) == 1 {
				path = args[0]
			}
			if err := dictionary.EnsureDictionary(cmd.Context(), path, a.log); err != nil {
				return err
			}
			idx, err := dictionary.LoadIndex(path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d spellings\n", path, idx.Size())
			return nil
		},
	}
}

// Command tango builds a persistent Japanese vocabulary cache from text.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/japaniel/tango/pkg/config"
	"github.com/japaniel/tango/pkg/db"
	"github.com/japaniel/tango/pkg/logger"
)

const version = "0.1.0"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand(viper.New()).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// app carries the state shared by all subcommands.
type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     *config.Config
	log     *logger.Logger
}

func newRootCommand(v *viper.Viper) *cobra.Command {
	a := &app{v: v}
	config.SetDefaults(v)

	root := &cobra.Command{
		Use:   "tango",
		Short: "Incremental Japanese vocabulary cache",
		Long: `tango extracts vocabulary from Japanese text, translates each line and
looks every new word up in a dictionary, caching everything in SQLite so
that later runs only pay for what they have not seen before.

Examples:
  tango ingest article.txt          # process a text file, one sentence per line
  cat notes.txt | tango ingest -    # read from stdin
  tango ingest --url https://...    # process a web article
  tango unresolved                  # words the dictionary did not know`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.log != nil {
				a.log.Sync()
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (default is $HOME/.tango.yaml)")
	pf.String("db", "", "path to the SQLite cache (default tango.db)")
	pf.String("log-level", "", "log level: debug, info, warn, error")
	pf.String("log-mode", "", "log format: development or production")
	v.BindPFlag("db", pf.Lookup("db"))
	v.BindPFlag("log.level", pf.Lookup("log-level"))
	v.BindPFlag("log.mode", pf.Lookup("log-mode"))

	root.AddCommand(
		newIngestCommand(a),
		newUnresolvedCommand(a),
		newResolveCommand(a),
		newExamplesCommand(a),
		newStatsCommand(a),
		newFetchDictCommand(a),
	)
	return root
}

func (a *app) init() error {
	if err := config.ReadFile(a.v, a.cfgFile); err != nil {
		return err
	}
	cfg, err := config.Load(a.v)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log.Mode, cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	a.cfg, a.log = cfg, log
	if used := a.v.ConfigFileUsed(); used != "" {
		log.Debug("using config file", "path", used)
	}
	return nil
}

// openStore opens the cache for commands that need nothing else.
func (a *app) openStore() (*sql.DB, error) {
	conn, err := db.Open(a.cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return conn, nil
}

package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/japaniel/tango/pkg/config"
	"github.com/japaniel/tango/pkg/db"
	"github.com/japaniel/tango/pkg/dictionary"
	"github.com/japaniel/tango/pkg/gate"
	"github.com/japaniel/tango/pkg/logger"
	"github.com/japaniel/tango/pkg/tokenize"
	"github.com/japaniel/tango/pkg/translate"
)

// Session holds everything one run needs: the store, the tokenizer and the
// two external services behind their gates. It is built once and closed when
// the run ends.
type Session struct {
	DB         *sql.DB
	Tokenizer  tokenize.Tokenizer
	Translator translate.Translator
	Lookup     dictionary.Lookup

	TranslateGate *gate.Gate
	LookupGate    *gate.Gate

	Log *logger.Logger
}

// Open builds a session from cfg. The translator is only required when
// examples are indexed; an offline JMdict file is downloaded when missing.
func Open(ctx context.Context, cfg *config.Config, log *logger.Logger) (_ *Session, err error) {
	if log == nil {
		log = logger.Nop()
	}

	conn, err := db.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err != nil {
			conn.Close()
		}
	}()

	analyzer, err := tokenize.NewAnalyzer()
	if err != nil {
		return nil, fmt.Errorf("build tokenizer: %w", err)
	}

	s := &Session{DB: conn, Tokenizer: analyzer, Log: log}

	if cfg.Indexing == config.FullIndex {
		if cfg.Translation.APIKey == "" {
			return nil, translate.ErrNoAPIKey
		}
		s.Translator = translate.NewOpenAI(cfg.Translation.APIKey, cfg.Translation.Model, cfg.Translation.BaseURL)
	}

	lookupDelay := cfg.Dictionary.Delay
	switch cfg.Dictionary.Source {
	case config.SourceJMdict:
		if err := dictionary.EnsureDictionary(ctx, cfg.Dictionary.Path, log); err != nil {
			return nil, fmt.Errorf("fetch dictionary: %w", err)
		}
		idx, err := dictionary.LoadIndex(cfg.Dictionary.Path)
		if err != nil {
			return nil, fmt.Errorf("load dictionary: %w", err)
		}
		log.Info("loaded offline dictionary", "path", cfg.Dictionary.Path, "spellings", idx.Size())
		s.Lookup = idx
		// Local lookups need no spacing.
		lookupDelay = 0
	default:
		s.Lookup = dictionary.NewJisho(cfg.Dictionary.BaseURL)
	}

	s.TranslateGate = gate.New(gate.Settings{
		Name:        "translate",
		Delay:       cfg.Translation.Delay,
		MaxFailures: cfg.Gate.MaxFailures,
		OpenTimeout: cfg.Gate.OpenTimeout,
	}, log)
	s.LookupGate = gate.New(gate.Settings{
		Name:        "dictionary",
		Delay:       lookupDelay,
		MaxFailures: cfg.Gate.MaxFailures,
		OpenTimeout: cfg.Gate.OpenTimeout,
	}, log)

	return s, nil
}

// Close releases the store.
func (s *Session) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	err := s.DB.Close()
	s.DB = nil
	return err
}

func (s *Session) validate(st Strategy) error {
	var errs []error
	switch st.Indexing {
	case config.FullIndex, config.DictionaryOnly:
	default:
		errs = append(errs, fmt.Errorf("unknown indexing mode %q", st.Indexing))
	}
	switch st.TranslationMode {
	case config.PerLine, config.Batched:
	default:
		errs = append(errs, fmt.Errorf("unknown translation mode %q", st.TranslationMode))
	}
	if s.DB == nil {
		errs = append(errs, errors.New("session has no store"))
	}
	if s.Tokenizer == nil {
		errs = append(errs, errors.New("session has no tokenizer"))
	}
	if s.Lookup == nil || s.LookupGate == nil {
		errs = append(errs, errors.New("session has no dictionary lookup"))
	}
	if st.Indexing == config.FullIndex && (s.Translator == nil || s.TranslateGate == nil) {
		errs = append(errs, errors.New("full indexing needs a translator"))
	}
	return errors.Join(errs...)
}

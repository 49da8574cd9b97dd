package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/japaniel/tango/pkg/config"
	"github.com/japaniel/tango/pkg/db"
	"github.com/japaniel/tango/pkg/dictionary"
	"github.com/japaniel/tango/pkg/gate"
	"github.com/japaniel/tango/pkg/tokenize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noun(s string) tokenize.Token {
	return tokenize.Token{Surface: s, BaseForm: s, POS: "名詞", POS1: "一般", POS2: "*", POS3: "*", Reading: s, Pronunciation: s}
}

func particle(s string) tokenize.Token {
	return tokenize.Token{Surface: s, BaseForm: s, POS: "助詞", POS1: "格助詞"}
}

func aux(s string) tokenize.Token {
	return tokenize.Token{Surface: s, BaseForm: s, POS: "助動詞"}
}

func verb(surface, base, form string) tokenize.Token {
	return tokenize.Token{Surface: surface, BaseForm: base, POS: "動詞", POS1: "自立", ConjugationForm: form}
}

type fakeTokenizer map[string][]tokenize.Token

func (f fakeTokenizer) Analyze(text string) ([]tokenize.Token, error) {
	toks, ok := f[text]
	if !ok {
		return nil, errors.New("unexpected line " + text)
	}
	return toks, nil
}

var corpus = fakeTokenizer{
	"猫が好きです":   {noun("猫"), particle("が"), noun("好き"), aux("です")},
	"ねこ":       {noun("ねこ")},
	"猫を見た":     {noun("猫"), particle("を"), verb("見", "見る", "連用形"), aux("た")},
	"学校に行った":   {noun("学校"), particle("に"), verb("行っ", "行く", "連用タ接続"), aux("た")},
	"学校に行きます":  {noun("学校"), particle("に"), verb("行き", "行く", "連用形"), aux("ます")},
	"。":        {{Surface: "。", BaseForm: "。", POS: "記号"}},
	"謎":        {{Surface: "謎", BaseForm: "*", POS: "名詞"}},
}

type countingTranslator struct {
	single, batch int
	fail          map[string]bool
}

func (c *countingTranslator) Translate(ctx context.Context, text string) (string, error) {
	c.single++
	if c.fail[text] {
		return "", errors.New("translation service down")
	}
	return "EN:" + text, nil
}

func (c *countingTranslator) TranslateBatch(ctx context.Context, texts []string) ([]string, error) {
	c.batch++
	out := make([]string, len(texts))
	for i, t := range texts {
		if c.fail[t] {
			return nil, errors.New("translation service down")
		}
		out[i] = "EN:" + t
	}
	return out, nil
}

func (c *countingTranslator) calls() int { return c.single + c.batch }

type countingLookup struct {
	entries map[string][]dictionary.Candidate
	calls   map[string]int
}

func (c *countingLookup) Lookup(ctx context.Context, term string) ([]dictionary.Candidate, error) {
	c.calls[term]++
	return c.entries[term], nil
}

func (c *countingLookup) total() int {
	n := 0
	for _, v := range c.calls {
		n += v
	}
	return n
}

func newLookup() *countingLookup {
	cand := func(ids ...string) []dictionary.Candidate {
		var out []dictionary.Candidate
		for _, id := range ids {
			out = append(out, dictionary.Candidate{Identity: id, Definitions: []string{"def of " + id}})
		}
		return out
	}
	return &countingLookup{
		entries: map[string][]dictionary.Candidate{
			"猫":  cand("猫", "猫舌", "猫背"),
			"好き": cand("好き"),
			"見る": cand("見る", "観る"),
			"学校": cand("学校"),
			"行く": cand("行く"),
		},
		calls: map[string]int{},
	}
}

type harness struct {
	session *Session
	tr      *countingTranslator
	lk      *countingLookup
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	conn, err := db.Open(":memory:")
	require.NoError(t, err)
	h := &harness{tr: &countingTranslator{}, lk: newLookup()}
	h.session = &Session{
		DB:            conn,
		Tokenizer:     corpus,
		Translator:    h.tr,
		Lookup:        h.lk,
		TranslateGate: gate.New(gate.Settings{Name: "translate"}, nil),
		LookupGate:    gate.New(gate.Settings{Name: "dictionary"}, nil),
	}
	t.Cleanup(func() { h.session.Close() })
	return h
}

func (h *harness) run(t *testing.T, st Strategy, lines ...string) Report {
	t.Helper()
	p := New(h.session)
	p.Strategy = st
	p.BatchSize = 2
	rep, err := p.Run(context.Background(), lines)
	require.NoError(t, err)
	return rep
}

func (h *harness) counts(t *testing.T) db.Counts {
	t.Helper()
	c, err := db.CountRows(context.Background(), h.session.DB)
	require.NoError(t, err)
	return c
}

func strategies() map[string]Strategy {
	return map[string]Strategy{
		"batched":  {TranslationMode: config.Batched, Indexing: config.FullIndex},
		"per-line": {TranslationMode: config.PerLine, Indexing: config.FullIndex},
	}
}

func TestRepeatedLine(t *testing.T) {
	for name, st := range strategies() {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			rep := h.run(t, st, "猫が好きです", "猫が好きです")

			assert.Equal(t, 2, rep.Lines)
			assert.Equal(t, 2, rep.UniqueTokens)
			assert.Equal(t, 1, h.tr.calls(), "identical lines are translated once")
			assert.Equal(t, 2, h.lk.total())
			assert.Equal(t, db.Counts{Tokens: 2, SeenForms: 2, Lines: 1, Examples: 2, DictionaryEntries: 2}, h.counts(t))
			assert.Equal(t, h.counts(t), rep.Added)

			ex, err := db.ListExamples(context.Background(), h.session.DB, "猫")
			require.NoError(t, err)
			require.Len(t, ex, 1)
			assert.Equal(t, "EN:猫が好きです", ex[0].Translation)
		})
	}
}

func TestRerunMakesNoExternalCalls(t *testing.T) {
	for name, st := range strategies() {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			input := []string{"猫が好きです", "ねこ", "学校に行った", "学校に行きます"}
			h.run(t, st, input...)
			first := h.counts(t)
			tr, lk := h.tr.calls(), h.lk.total()

			rep := h.run(t, st, input...)
			assert.Equal(t, tr, h.tr.calls())
			assert.Equal(t, lk, h.lk.total())
			assert.Equal(t, first, h.counts(t))
			assert.Equal(t, db.Counts{}, rep.Added)
			assert.Equal(t, len(input), rep.Translation.Cached)
			assert.Equal(t, 5, rep.Dictionary.Cached)
		})
	}
}

func TestFilteredTokensNeverPersist(t *testing.T) {
	h := newHarness(t)
	rep := h.run(t, DefaultStrategy(), "猫が好きです", "猫を見た", "。", "謎")

	assert.Equal(t, 5, rep.Normalize.FilteredPOS) // が です を た 。
	assert.Equal(t, 1, rep.Normalize.UnknownForm)

	ctx := context.Background()
	for _, tok := range []string{"が", "です", "を", "た", "。", "*", "謎"} {
		var n int
		require.NoError(t, h.session.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM tokens WHERE token = ?`, tok).Scan(&n))
		assert.Zero(t, n, "token %q must not be stored", tok)
		assert.Zero(t, h.lk.calls[tok])
	}
}

func TestEveryTokenResolved(t *testing.T) {
	h := newHarness(t)
	h.run(t, DefaultStrategy(), "猫が好きです", "ねこ", "猫を見た")

	ctx := context.Background()
	rows, err := h.session.DB.QueryContext(ctx, `
		SELECT t.token,
		       EXISTS(SELECT 1 FROM dictionary_entries d WHERE d.token = t.token),
		       EXISTS(SELECT 1 FROM unresolved_tokens u WHERE u.token = t.token)
		FROM tokens t`)
	require.NoError(t, err)
	defer rows.Close()
	n := 0
	for rows.Next() {
		var tok string
		var entry, unresolved bool
		require.NoError(t, rows.Scan(&tok, &entry, &unresolved))
		assert.True(t, entry != unresolved, "token %s must have exactly one of entry/unresolved", tok)
		n++
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, 4, n)
}

func TestZeroCandidatesBecomeUnresolved(t *testing.T) {
	h := newHarness(t)
	rep := h.run(t, DefaultStrategy(), "ねこ")
	assert.Equal(t, 1, rep.Dictionary.Unresolved)

	list, err := db.ListUnresolvedTokens(context.Background(), h.session.DB, false)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "ねこ", list[0].Token)
	assert.False(t, list[0].Resolved)

	h.run(t, DefaultStrategy(), "ねこ")
	assert.Equal(t, 1, h.lk.calls["ねこ"], "unresolved tokens are not queried again")
}

func TestMultipleCandidatesDirectMatch(t *testing.T) {
	h := newHarness(t)
	h.run(t, DefaultStrategy(), "猫を見た")

	ctx := context.Background()
	e, ok, err := db.GetDictionaryEntry(ctx, h.session.DB, "猫")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, e.MultipleResults)
	assert.True(t, e.DirectMatch)
	assert.Contains(t, e.BestMatch, `"identity":"猫"`)
}

func TestCachedLineNewToken(t *testing.T) {
	h := newHarness(t)
	h.run(t, DefaultStrategy(), "学校に行った")
	tr := h.tr.calls()

	// Same verb, new seen form, new line; 学校 and 行く are already resolved.
	rep := h.run(t, DefaultStrategy(), "学校に行った", "学校に行きます")
	assert.Equal(t, tr+1, h.tr.calls())
	assert.Equal(t, 1, h.lk.calls["行く"])
	assert.Equal(t, 2, rep.Dictionary.Cached)
	assert.Equal(t, db.Counts{SeenForms: 1, Lines: 1, Examples: 2}, rep.Added)
}

func TestTranslationFailureKeepsTokens(t *testing.T) {
	h := newHarness(t)
	h.tr.fail = map[string]bool{"猫を見た": true}
	st := Strategy{TranslationMode: config.PerLine, Indexing: config.FullIndex}

	rep := h.run(t, st, "猫が好きです", "猫を見た")
	assert.Equal(t, 1, rep.Untranslated)
	assert.Equal(t, 1, rep.Translation.Failed)
	c := h.counts(t)
	assert.Equal(t, 3, c.Tokens)
	assert.Equal(t, 1, c.Lines)
	assert.Equal(t, 2, c.Examples)
	assert.Equal(t, 3, c.DictionaryEntries)

	h.tr.fail = nil
	rep = h.run(t, st, "猫が好きです", "猫を見た")
	assert.Zero(t, rep.Untranslated)
	// 猫 reuses its seen form from the first line.
	assert.Equal(t, db.Counts{SeenForms: 1, Lines: 1, Examples: 2}, rep.Added)
}

func TestDictionaryOnly(t *testing.T) {
	h := newHarness(t)
	h.session.Translator = nil
	rep := h.run(t, Strategy{TranslationMode: config.Batched, Indexing: config.DictionaryOnly}, "猫が好きです", "ねこ")

	assert.Equal(t, 3, rep.UniqueTokens)
	assert.Equal(t, db.Counts{Tokens: 3, DictionaryEntries: 2, UnresolvedTokens: 1}, h.counts(t))
}

func TestRunReportsProgress(t *testing.T) {
	h := newHarness(t)
	p := New(h.session)
	var lines, lookups []int
	p.OnProgress = func(cur, total int) { lines = append(lines, cur) }
	p.OnLookup = func(cur, total int) { lookups = append(lookups, cur) }

	_, err := p.Run(context.Background(), []string{"猫が好きです", "", "  ", "ねこ"})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, lines)
	assert.Equal(t, []int{1, 2, 3}, lookups)
}

func TestRunValidation(t *testing.T) {
	h := newHarness(t)
	h.session.Translator = nil
	_, err := New(h.session).Run(context.Background(), []string{"ねこ"})
	assert.ErrorContains(t, err, "translator")

	p := New(h.session)
	p.Strategy = Strategy{TranslationMode: "carrier-pigeon", Indexing: config.DictionaryOnly}
	_, err = p.Run(context.Background(), []string{"ねこ"})
	assert.ErrorContains(t, err, "carrier-pigeon")
}

func TestRunCanceled(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(h.session).Run(ctx, []string{"猫が好きです"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, h.tr.calls())
	assert.Zero(t, h.lk.total())
}

func TestRunWithKagome(t *testing.T) {
	analyzer, err := tokenize.NewAnalyzer()
	require.NoError(t, err)

	h := newHarness(t)
	h.session.Tokenizer = analyzer
	rep := h.run(t, DefaultStrategy(), "猫が好きです")

	assert.Equal(t, 2, rep.UniqueTokens)
	assert.Equal(t, 2, rep.Normalize.FilteredPOS)
	for _, tok := range []string{"猫", "好き"} {
		_, ok, err := db.GetDictionaryEntry(context.Background(), h.session.DB, tok)
		require.NoError(t, err)
		assert.True(t, ok, tok)
	}
}

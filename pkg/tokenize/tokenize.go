package tokenize

import (
	"strings"

	"github.com/ikawaha/kagome-dict/ipa"
	"github.com/ikawaha/kagome/v2/tokenizer"
)

// Unknown is the feature value kagome reports when a field is not known,
// most notably the base form of out-of-dictionary words.
const Unknown = "*"

// Token is one raw morpheme record as produced by the tokenizer.
type Token struct {
	Surface         string // The text as it appears (e.g. "行っ")
	BaseForm        string // The dictionary form (e.g. "行く"), Unknown if not known
	POS             string // Primary part of speech (e.g. "動詞")
	POS1            string
	POS2            string
	POS3            string
	ConjugationType string // e.g. "五段・カ行促音便"
	ConjugationForm string // e.g. "連用タ接続"
	Reading         string // Katakana reading (e.g. "イッ")
	Pronunciation   string
}

// Tokenizer turns a line of text into raw token records in emission order.
type Tokenizer interface {
	Analyze(text string) ([]Token, error)
}

// Analyzer handles text segmentation using kagome with the IPA dictionary.
type Analyzer struct {
	t *tokenizer.Tokenizer
}

// NewAnalyzer creates a new tokenizer instance. Loading the dictionary is the
// expensive part, so build one Analyzer per run and share it.
func NewAnalyzer() (*Analyzer, error) {
	t, err := tokenizer.New(ipa.Dict(), tokenizer.OmitBosEos())
	if err != nil {
		return nil, err
	}
	return &Analyzer{t: t}, nil
}

// Analyze breaks text into tokens with readings and base forms.
func (a *Analyzer) Analyze(text string) ([]Token, error) {
	tokens := a.t.Tokenize(text)
	result := make([]Token, 0, len(tokens))

	for _, token := range tokens {
		if token.Class == tokenizer.DUMMY {
			continue
		}
		if strings.TrimSpace(token.Surface) == "" {
			continue
		}

		// Kagome IPA features:
		// 0: Part of Speech
		// 1-3: Sub-POS
		// 4: Conjugation Type
		// 5: Conjugation Form
		// 6: Base Form (Lemma)
		// 7: Reading
		// 8: Pronunciation
		// Unknown words only carry the first seven.
		features := token.Features()
		result = append(result, Token{
			Surface:         token.Surface,
			POS:             feature(features, 0),
			POS1:            feature(features, 1),
			POS2:            feature(features, 2),
			POS3:            feature(features, 3),
			ConjugationType: feature(features, 4),
			ConjugationForm: feature(features, 5),
			BaseForm:        feature(features, 6),
			Reading:         feature(features, 7),
			Pronunciation:   feature(features, 8),
		})
	}

	return result, nil
}

func feature(features []string, i int) string {
	if i < len(features) {
		return features[i]
	}
	return Unknown
}

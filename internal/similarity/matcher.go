package similarity

import (
	"plagiscan/internal/corpus"
	"plagiscan/internal/models"
)

// Threshold is the score a sentence's best match must exceed to be reported.
const Threshold = 0.3

// Result is the outcome of matching one document.
type Result struct {
	Similarity int
	Segments   []models.Segment
}

// Matcher compares documents against a corpus source. It holds no mutable
// state and is safe for concurrent use.
type Matcher struct {
	corpus corpus.Source
	score  Scorer
}

// Option customizes a Matcher.
type Option func(*Matcher)

// WithScorer replaces the default word Dice coefficient.
func WithScorer(s Scorer) Option {
	return func(m *Matcher) {
		if s != nil {
			m.score = s
		}
	}
}

// New builds a Matcher over src.
func New(src corpus.Source, opts ...Option) *Matcher {
	m := &Matcher{corpus: src}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Match scores text against the matcher's corpus.
func (m *Matcher) Match(text string) Result {
	return Match(text, m.corpus.Entries(), m.score)
}

type passage struct {
	source string
	units  []unit
}

// unit is one corpus sentence. tokens is only filled for the built-in scorer.
type unit struct {
	text   string
	tokens []string
}

// Match segments text into sentences, finds the best corpus entry for each, and
// aggregates the accepted matches. Each entry is scored as the best of its own
// sentences, so a verbatim copy of one sentence scores 1. Ties go to the entry
// that appears first. A nil score uses DiceScore with every corpus sentence
// tokenized once per call.
func Match(text string, entries []corpus.Entry, score Scorer) Result {
	passages := make([]passage, 0, len(entries))
	for _, e := range entries {
		texts := splitTrimmed(e.Text)
		if len(texts) == 0 {
			continue
		}
		units := make([]unit, len(texts))
		for i, t := range texts {
			units[i].text = t
			if score == nil {
				units[i].tokens = Tokens(t)
			}
		}
		passages = append(passages, passage{source: e.Source, units: units})
	}

	res := Result{Segments: []models.Segment{}}
	var total float64
	for _, sentence := range Sentences(text) {
		var tokens []string
		if score == nil {
			tokens = Tokens(sentence)
		}
		best, source := 0.0, ""
		for _, p := range passages {
			for _, u := range p.units {
				var s float64
				if score == nil {
					s = dice(tokens, u.tokens)
				} else {
					s = score(sentence, u.text)
				}
				if s > best {
					best, source = s, p.source
				}
			}
		}
		if !accepted(best) {
			continue
		}
		res.Segments = append(res.Segments, models.Segment{
			Text:        sentence,
			Similarity:  Percent(best),
			MatchedWith: source,
		})
		total += best
	}
	if n := len(res.Segments); n > 0 {
		res.Similarity = Percent(total / float64(n))
	}
	return res
}

// accepted requires the raw score to exceed Threshold and the reported
// percentage to stay above it after rounding.
func accepted(score float64) bool {
	return score > Threshold && Percent(score) > Percent(Threshold)
}

package similarity

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plagiscan/internal/corpus"
)

const (
	climateSource = "https://example.com/climate-research-paper"
	unrelated     = "This sentence is intentionally unrelated to anything in the corpus and fully original."
)

func TestSentences(t *testing.T) {
	text := "Short one. This sentence is definitely long enough!!! ok? Another sufficiently long sentence here"
	assert.Equal(t, []string{
		"This sentence is definitely long enough",
		"Another sufficiently long sentence here",
	}, Sentences(text))
}

func TestSentencesLengthBoundary(t *testing.T) {
	twenty := "abcdefghij abcdefghi"
	require.Len(t, twenty, 20)
	assert.Empty(t, Sentences(twenty+"."))
	assert.Equal(t, []string{twenty + "k"}, Sentences("  "+twenty+"k  ?"))
}

func TestDiceScore(t *testing.T) {
	assert.Equal(t, 1.0, DiceScore("The CAT sat", "the cat sat"))
	assert.InDelta(t, 2.0/3.0, DiceScore("the cat sat", "the cat ran"), 1e-9)
	assert.Equal(t, 0.0, DiceScore("", "the cat"))
	assert.Equal(t, 0.0, DiceScore("--- ...", "--- ..."))
	assert.Equal(t, 1.0, DiceScore("far-reaching effects", "Far-Reaching effects"))
}

func TestPercent(t *testing.T) {
	cases := map[float64]int{
		0:     0,
		0.3:   30,
		0.305: 31,
		0.31:  31,
		0.285: 29,
		0.994: 99,
		0.995: 100,
		1:     100,
	}
	for in, want := range cases {
		assert.Equal(t, want, Percent(in), "Percent(%v)", in)
	}
}

func TestMatchUnrelatedText(t *testing.T) {
	res := New(corpus.Default()).Match(unrelated)
	assert.Empty(t, res.Segments)
	assert.NotNil(t, res.Segments)
	assert.Equal(t, 0, res.Similarity)
}

func TestMatchExactSentence(t *testing.T) {
	text := unrelated + " The effects of climate change are far-reaching and profound."
	res := New(corpus.Default()).Match(text)

	require.Len(t, res.Segments, 1)
	seg := res.Segments[0]
	assert.Equal(t, "The effects of climate change are far-reaching and profound", seg.Text)
	assert.Equal(t, climateSource, seg.MatchedWith)
	assert.Equal(t, 100, seg.Similarity)
	assert.Equal(t, 100, res.Similarity)
}

func TestMatchParaphrasePicksBestEntry(t *testing.T) {
	res := New(corpus.Default()).Match("Climate change has far-reaching and profound effects on the planet.")
	require.Len(t, res.Segments, 1)
	assert.Equal(t, climateSource, res.Segments[0].MatchedWith)
	assert.Equal(t, 74, res.Segments[0].Similarity)
}

func TestMatchSkipsShortSentences(t *testing.T) {
	entries := []corpus.Entry{{Text: "Tiny phrase here.", Source: "short"}}
	res := Match("Tiny phrase here. Tiny phrase here!", entries, nil)
	assert.Empty(t, res.Segments)
	assert.Equal(t, 0, res.Similarity)
}

func fixedScorer(score float64) Scorer {
	return func(_, _ string) float64 { return score }
}

func TestMatchThresholdBoundary(t *testing.T) {
	entries := []corpus.Entry{
		{Text: "first passage", Source: "first"},
		{Text: "second passage", Source: "second"},
	}
	text := "A sentence that is long enough to be compared."

	res := Match(text, entries, fixedScorer(0.30))
	assert.Empty(t, res.Segments)

	res = Match(text, entries, fixedScorer(0.302))
	assert.Empty(t, res.Segments, "a score that rounds to 30 is not reported")

	res = Match(text, entries, fixedScorer(0.31))
	require.Len(t, res.Segments, 1)
	assert.Equal(t, 31, res.Segments[0].Similarity)
	assert.Equal(t, "first", res.Segments[0].MatchedWith, "ties go to the first entry")
}

func TestMatchAggregatesOnlyMatchedSentences(t *testing.T) {
	scores := map[string]float64{
		"The first sentence is long enough":  0.5,
		"The second sentence is long enough": 0.8,
		"The third sentence is long enough":  0.1,
	}
	score := func(a, _ string) float64 { return scores[a] }
	text := "The first sentence is long enough. The second sentence is long enough! The third sentence is long enough?"

	res := Match(text, []corpus.Entry{{Text: "anything", Source: "src"}}, score)
	require.Len(t, res.Segments, 2)
	assert.Equal(t, 50, res.Segments[0].Similarity)
	assert.Equal(t, 80, res.Segments[1].Similarity)
	assert.Equal(t, 65, res.Similarity)
}

func TestMatchPrefersHigherLaterEntry(t *testing.T) {
	score := func(_, b string) float64 {
		if strings.HasPrefix(b, "better") {
			return 0.9
		}
		return 0.4
	}
	entries := []corpus.Entry{
		{Text: "worse passage", Source: "worse"},
		{Text: "better passage", Source: "better"},
	}
	res := Match("A sentence that is long enough to be compared.", entries, score)
	require.Len(t, res.Segments, 1)
	assert.Equal(t, "better", res.Segments[0].MatchedWith)
}

func TestMatchIsDeterministicAndConcurrent(t *testing.T) {
	m := New(corpus.Default())
	text := "Rising global temperatures have been linked to changes in precipitation patterns. " +
		"Machine learning algorithms can be categorized as supervised, unsupervised, and reinforcement learning. " +
		unrelated
	want := m.Match(text)
	require.Len(t, want.Segments, 2)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, want, m.Match(text))
		}()
	}
	wg.Wait()
}

func TestMatchDefaultScorerAgreesWithDiceScore(t *testing.T) {
	entries := corpus.Default().Entries()
	text := "Climate change has far-reaching and profound effects on the planet. " +
		"Quantum bits can exist in multiple states at the same time. " +
		unrelated

	want := Match(text, entries, DiceScore)
	require.NotEmpty(t, want.Segments)
	assert.Equal(t, want, Match(text, entries, nil))
	assert.Equal(t, want, New(corpus.Default()).Match(text))
}

func BenchmarkMatch(b *testing.B) {
	m := New(corpus.Default())
	text := strings.Repeat("Climate change has far-reaching and profound effects on the planet. ", 50)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		m.Match(text)
	}
}

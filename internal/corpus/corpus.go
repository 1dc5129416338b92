// Package corpus holds the read-only reference passages documents are compared against.
package corpus

import (
	"slices"
)

// Entry is one reference passage and the citation it came from.
type Entry struct {
	Text   string `json:"text"`
	Source string `json:"source"`
}

// Source supplies the corpus for a matching run. Implementations must
// return the same entries for the lifetime of a run and never mutate them.
type Source interface {
	Entries() []Entry
}

// Static is a fixed in-memory corpus.
type Static []Entry

// Entries returns a copy of the passages.
func (s Static) Entries() []Entry {
	return slices.Clone(s)
}

// Default returns the built-in reference passages.
func Default() Static {
	return Static{
		{
			Text:   "The effects of climate change are far-reaching and profound. Rising global temperatures have been linked to changes in precipitation patterns, increasing frequency of extreme weather events, and rising sea levels.",
			Source: "https://example.com/climate-research-paper",
		},
		{
			Text:   "Machine learning algorithms can be categorized as supervised, unsupervised, and reinforcement learning. Each approach has its own strengths and weaknesses depending on the specific application.",
			Source: "https://example.com/machine-learning-overview",
		},
		{
			Text:   "Quantum computing leverages quantum mechanics to process information in ways that classical computers cannot. This involves the use of quantum bits or qubits, which can exist in multiple states simultaneously.",
			Source: "https://example.com/quantum-computing-basics",
		},
		{
			Text:   "The human genome project was completed in 2003, providing a complete map of all human genes. This breakthrough has led to significant advances in our understanding of genetic diseases.",
			Source: "https://example.com/human-genome-research",
		},
	}
}

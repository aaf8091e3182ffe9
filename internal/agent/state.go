package agent

import (
	"fmt"
	"strings"
)

// Hard budgets per run.
const (
	MaxToolCalls          = 5
	MaxIterations         = 10
	MaxReprompts          = 3
	MaxQuestionLength     = 1000
	MaxContextCitations   = 5    // rolling window of opened chunks kept in prompt
	MaxCitationTextForLLM = 2000 // per-chunk clip for prompt display
)

// SearchResultItem is a compressed search hit retained in run state.
type SearchResultItem struct {
	DocID      string
	ChunkID    string
	ChunkIndex int
	Snippet    string
	Score      float64
	Filename   string
	Query      string // the query that produced this result
}

// OpenedCitation is a chunk the agent has read in full.
type OpenedCitation struct {
	DocID       string
	ChunkID     string
	ChunkIndex  int
	Text        string
	Filename    string
	CitationNum int // [1], [2], ...
}

// Insufficiency records what information could not be found.
type Insufficiency struct {
	Section      string   `json:"section"`
	Missing      string   `json:"missing"`
	QueriesTried []string `json:"queriesTried"`
}

// State tracks everything the agent has done in a single run: tool budget,
// searches, opened citations, and notes. Opened citations keep a rolling
// window of MaxContextCitations for the prompt, but the citation number map
// spans the whole run so markers stay resolvable after eviction.
type State struct {
	Constraints     Constraints
	ToolCallsUsed   int
	SearchResults   []SearchResultItem
	OpenedCitations []OpenedCitation
	Notes           []string
	Insufficiencies []Insufficiency

	citationCounter int
	citationsByNum  map[int]OpenedCitation // full-lifetime, survives window eviction
	searchQueries   []string
}

func NewState(constraints Constraints) *State {
	return &State{
		Constraints:    constraints,
		citationsByNum: make(map[int]OpenedCitation),
	}
}

func (s *State) RemainingToolBudget() int {
	return MaxToolCalls - s.ToolCallsUsed
}

func (s *State) SearchCount() int {
	return len(s.searchQueries)
}

func (s *State) SearchQueries() []string {
	return s.searchQueries
}

// CitationByNum resolves a [n] marker against every citation opened this run,
// including ones evicted from the prompt window.
func (s *State) CitationByNum(num int) (OpenedCitation, bool) {
	c, ok := s.citationsByNum[num]
	return c, ok
}

// AllOpenedCitations returns every citation opened this run in open order,
// including ones evicted from the prompt window.
func (s *State) AllOpenedCitations() []OpenedCitation {
	all := make([]OpenedCitation, 0, s.citationCounter)
	for num := 1; num <= s.citationCounter; num++ {
		if c, ok := s.citationsByNum[num]; ok {
			all = append(all, c)
		}
	}
	return all
}

// AddSearchResults records a query and its hits. Snippets are capped.
func (s *State) AddSearchResults(query string, hits []SearchHit) {
	s.searchQueries = append(s.searchQueries, query)

	for _, h := range hits {
		filename := h.Filename
		if filename == "" {
			filename = "document"
		}
		snippet := clip(h.Snippet, 250)
		s.SearchResults = append(s.SearchResults, SearchResultItem{
			DocID:      h.DocID,
			ChunkID:    h.ChunkID,
			ChunkIndex: h.ChunkIndex,
			Snippet:    snippet,
			Score:      h.Score,
			Filename:   filename,
			Query:      query,
		})
	}
}

// AddOpenedCitation assigns the next citation number and appends the chunk,
// evicting the oldest entry once the window is full.
func (s *State) AddOpenedCitation(opened OpenedChunk) OpenedCitation {
	s.citationCounter++

	text := opened.Text
	if len(text) > MaxCitationTextForLLM {
		text = clip(text, MaxCitationTextForLLM) + "..."
	}

	citation := OpenedCitation{
		DocID:       opened.DocID,
		ChunkID:     opened.ChunkID,
		ChunkIndex:  opened.ChunkIndex,
		Text:        text,
		Filename:    opened.Filename,
		CitationNum: s.citationCounter,
	}

	s.citationsByNum[citation.CitationNum] = citation

	s.OpenedCitations = append(s.OpenedCitations, citation)
	if len(s.OpenedCitations) > MaxContextCitations {
		s.OpenedCitations = s.OpenedCitations[len(s.OpenedCitations)-MaxContextCitations:]
	}

	return citation
}

func (s *State) AddInsufficiency(section, missing string) {
	s.Insufficiencies = append(s.Insufficiencies, Insufficiency{
		Section:      section,
		Missing:      missing,
		QueriesTried: append([]string(nil), s.searchQueries...),
	})
}

// Snapshot produces the read-only view the validator checks.
func (s *State) Snapshot() Snapshot {
	snap := Snapshot{
		SearchCount:       s.SearchCount(),
		SearchQueries:     append([]string(nil), s.searchQueries...),
		OpenCitationCount: len(s.OpenedCitations),
	}
	for _, c := range s.OpenedCitations {
		snap.OpenedCitationTexts = append(snap.OpenedCitationTexts, c.Text)
	}
	for _, r := range s.SearchResults {
		snap.SearchSnippets = append(snap.SearchSnippets, r.Snippet)
	}
	return snap
}

// BuildContextString renders gathered information for the iteration prompt.
func (s *State) BuildContextString() string {
	var parts []string

	if len(s.SearchResults) > 0 {
		parts = append(parts, "=== SEARCH RESULTS ===")
		seenQueries := make(map[string]bool)
		for _, r := range s.SearchResults {
			if !seenQueries[r.Query] {
				parts = append(parts, fmt.Sprintf("\nQuery: %q", r.Query))
				seenQueries[r.Query] = true
			}
			snippet := clip(r.Snippet, 100)
			// Full docId and chunkId so the model can pass them to open_citation.
			parts = append(parts, fmt.Sprintf("  - %s: \"%s...\"\n    docId=%s\n    chunkId=%s",
				r.Filename, snippet, r.DocID, r.ChunkID))
		}
	}

	if len(s.OpenedCitations) > 0 {
		parts = append(parts, "\n=== OPENED CITATIONS (Full Text) ===")
		for _, c := range s.OpenedCitations {
			parts = append(parts, fmt.Sprintf("\n[%d] %s (chunk %d):\n%s",
				c.CitationNum, c.Filename, c.ChunkIndex, c.Text))
		}
	}

	if len(s.Notes) > 0 {
		parts = append(parts, "\n=== NOTES ===")
		notes := s.Notes
		if len(notes) > 3 {
			notes = notes[len(notes)-3:]
		}
		for _, note := range notes {
			parts = append(parts, "- "+note)
		}
	}

	if len(parts) == 0 {
		return "(No information gathered yet)"
	}
	return strings.Join(parts, "\n")
}

// BuildAvailableCitationsList renders the citations a FINAL may reference.
func (s *State) BuildAvailableCitationsList() string {
	if len(s.OpenedCitations) == 0 {
		return "(No citations opened yet)"
	}

	lines := make([]string, len(s.OpenedCitations))
	for i, c := range s.OpenedCitations {
		lines[i] = fmt.Sprintf("[%d] docId=%s, chunkId=%s, chunkIndex=%d, file=%s",
			c.CitationNum, c.DocID, c.ChunkID, c.ChunkIndex, c.Filename)
	}
	return strings.Join(lines, "\n")
}

package agent

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// GroundedCitation is a citation verified to come from actually retrieved data.
type GroundedCitation struct {
	DocID         string  `json:"docId"`
	ChunkID       string  `json:"chunkId"`
	ChunkIndex    int     `json:"chunkIndex"`
	Snippet       string  `json:"snippet"`
	DocumentTitle string  `json:"documentTitle"`
	Score         float64 `json:"score"`
}

var whitespaceRe = regexp.MustCompile(`\s+`)

// groundCitations maps the FINAL action's citation references to citations
// that were actually opened. Hallucinated [n] markers are stripped from the
// answer. Lookups use the full-lifetime citation map, so a marker whose text
// was evicted from the prompt window still resolves.
func groundCitations(final *FinalAction, state *State) (string, []GroundedCitation) {
	var grounded []GroundedCitation
	usedIDs := make(map[string]bool)

	all := state.AllOpenedCitations()
	byID := make(map[string]OpenedCitation, len(all))
	for _, c := range all {
		byID[c.DocID+"|"+c.ChunkID] = c
	}

	appendCitation := func(c OpenedCitation) {
		key := c.DocID + "|" + c.ChunkID
		if usedIDs[key] {
			return
		}
		usedIDs[key] = true
		grounded = append(grounded, GroundedCitation{
			DocID:         c.DocID,
			ChunkID:       c.ChunkID,
			ChunkIndex:    c.ChunkIndex,
			Snippet:       clip(c.Text, 200),
			DocumentTitle: c.Filename,
		})
	}

	// Explicit used_citations from FINAL first.
	for _, ref := range final.UsedCitations {
		if c, ok := byID[ref.DocID+"|"+ref.ChunkID]; ok {
			appendCitation(c)
		}
	}

	// Then [n] markers; unknown markers are hallucinated and removed.
	cleanedAnswer := final.Answer
	for _, ref := range ExtractCitationRefs(final.Answer) {
		if c, ok := state.CitationByNum(ref); ok {
			appendCitation(c)
		} else {
			cleanedAnswer = strings.ReplaceAll(cleanedAnswer, fmt.Sprintf("[%d]", ref), "")
		}
	}

	cleanedAnswer = strings.TrimSpace(whitespaceRe.ReplaceAllString(cleanedAnswer, " "))

	return cleanedAnswer, grounded
}

// fallbackCitationsFromSearch builds citations from raw search hits. Last
// resort when the agent never opened anything.
func fallbackCitationsFromSearch(state *State) []GroundedCitation {
	var grounded []GroundedCitation
	for _, r := range state.SearchResults {
		if len(grounded) >= 3 {
			break
		}
		grounded = append(grounded, GroundedCitation{
			DocID:         r.DocID,
			ChunkID:       r.ChunkID,
			ChunkIndex:    r.ChunkIndex,
			Snippet:       r.Snippet,
			DocumentTitle: r.Filename,
			Score:         r.Score,
		})
	}
	return grounded
}

// clip truncates s to at most n bytes, backing off so a multi-byte rune is
// never split.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

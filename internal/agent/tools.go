package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"docuchat.app/engine/common/llm"
)

// Sentinel errors tool implementations wrap so the loop can classify failures.
var (
	ErrToolValidation = errors.New("tool validation failed")
	ErrToolAccess     = errors.New("tool access denied")
)

// SearchHit is a single result from the search_docs tool.
type SearchHit struct {
	DocID      string
	ChunkID    string
	ChunkIndex int
	Snippet    string
	Score      float64
	Filename   string
}

// OpenedChunk is the full text returned by the open_citation tool.
type OpenedChunk struct {
	DocID      string
	ChunkID    string
	ChunkIndex int
	Text       string
	Filename   string
}

// ToolClient provides the two bounded tools the agent may call. Both are
// scoped to the calling user; validation and access failures wrap
// ErrToolValidation and ErrToolAccess respectively.
type ToolClient interface {
	SearchDocs(ctx context.Context, userID, query string, rerank bool) ([]SearchHit, error)
	OpenCitation(ctx context.Context, userID, docID, chunkID string) (*OpenedChunk, error)
}

// SearchDocsInput is the search_docs input contract.
type SearchDocsInput struct {
	Query string `json:"query" jsonschema:"title=query,description=Search terms (max 500 chars)"`
}

// OpenCitationInput is the open_citation input contract. Both IDs must be the
// full strings returned by search_docs.
type OpenCitationInput struct {
	DocID   string `json:"docId" jsonschema:"title=docId,description=Full document UUID from search results"`
	ChunkID string `json:"chunkId" jsonschema:"title=chunkId,description=Full chunk UUID from search results"`
}

// ToolSchemas describes both tools with generated JSON schemas. The schemas
// back the machine-readable section of the iteration prompt.
func ToolSchemas() []llm.Tool {
	return []llm.Tool{
		{
			Name:        "search_docs",
			Description: "Search the user's documents for relevant content. Returns top 5 matching chunks.",
			Parameters:  llm.GenerateSchemaFrom(SearchDocsInput{}),
		},
		{
			Name:        "open_citation",
			Description: "Retrieve the full text of a specific chunk. Required before citing.",
			Parameters:  llm.GenerateSchemaFrom(OpenCitationInput{}),
		},
	}
}

// resolveIdentifier matches a possibly truncated identifier against the set
// of identifiers seen in search results. Resolution order: case-insensitive
// exact match, unique prefix match, then (for inputs of 12+ chars) unique
// substring match.
func resolveIdentifier(input string, known []string) (string, bool) {
	lower := strings.ToLower(input)

	for _, id := range known {
		if strings.ToLower(id) == lower {
			return id, true
		}
	}

	var prefixMatch string
	prefixCount := 0
	for _, id := range known {
		if strings.HasPrefix(strings.ToLower(id), lower) {
			prefixMatch = id
			prefixCount++
		}
	}
	if prefixCount == 1 {
		return prefixMatch, true
	}
	if prefixCount > 1 {
		return "", false
	}

	if len(input) >= 12 {
		var substrMatch string
		substrCount := 0
		for _, id := range known {
			if strings.Contains(strings.ToLower(id), lower) {
				substrMatch = id
				substrCount++
			}
		}
		if substrCount == 1 {
			return substrMatch, true
		}
	}

	return "", false
}

// resolveCitationIDs maps possibly truncated docId/chunkId strings to the full
// identifiers from search results. When the docId resolves but the chunkId
// does not, it falls back to the first search hit in that document.
func resolveCitationIDs(docID, chunkID string, results []SearchResultItem) (string, string) {
	var docIDs, chunkIDs []string
	seenDoc := make(map[string]bool)
	seenChunk := make(map[string]bool)
	for _, r := range results {
		if !seenDoc[r.DocID] {
			seenDoc[r.DocID] = true
			docIDs = append(docIDs, r.DocID)
		}
		if !seenChunk[r.ChunkID] {
			seenChunk[r.ChunkID] = true
			chunkIDs = append(chunkIDs, r.ChunkID)
		}
	}

	resolvedDoc, docOK := resolveIdentifier(docID, docIDs)
	resolvedChunk, chunkOK := resolveIdentifier(chunkID, chunkIDs)

	if docOK && !chunkOK {
		for _, r := range results {
			if r.DocID == resolvedDoc {
				return resolvedDoc, r.ChunkID
			}
		}
	}

	if !docOK {
		resolvedDoc = docID
	}
	if !chunkOK {
		resolvedChunk = chunkID
	}
	return resolvedDoc, resolvedChunk
}

// citationHint enumerates up to five known (docId, chunkId, filename) triples
// for the corrective message after a failed open_citation.
func citationHint(results []SearchResultItem) string {
	if len(results) == 0 {
		return ""
	}

	var lines []string
	seen := make(map[string]bool)
	for _, r := range results {
		key := r.DocID + "|" + r.ChunkID
		if seen[key] {
			continue
		}
		seen[key] = true
		lines = append(lines, fmt.Sprintf("  docId=%s, chunkId=%s, file=%s", r.DocID, r.ChunkID, r.Filename))
		if len(lines) >= 5 {
			break
		}
	}

	return "Known citations:\n" + strings.Join(lines, "\n")
}

// searchSummary and openSummary produce the brief trace descriptions.
func searchSummary(hits []SearchHit) string {
	if len(hits) == 0 {
		return "No results found"
	}
	return fmt.Sprintf("Found %d relevant chunks", len(hits))
}

func openSummary(opened *OpenedChunk) string {
	textLen := len(opened.Text)
	if textLen >= 1000 {
		return fmt.Sprintf("Retrieved %.1fKB from %s", float64(textLen)/1000, opened.Filename)
	}
	return fmt.Sprintf("Retrieved %d chars from %s", textLen, opened.Filename)
}

package retriever

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"docuchat.app/engine/common/logger"
	"docuchat.app/engine/internal/agent"
	"docuchat.app/engine/internal/search"
	"docuchat.app/engine/internal/store"
)

// Tool-layer limits.
const (
	maxQueryLength   = 500
	maxSearchResults = 5
	maxCitationText  = 5000
	snippetLength    = 200
)

// Retriever implements the agent's two tools over the search index and the
// chunk store. Every operation is scoped to the calling user.
type Retriever struct {
	index     *search.Index
	documents *store.DocumentStore
	chunks    *store.ChunkStore
}

func New(index *search.Index, documents *store.DocumentStore, chunks *store.ChunkStore) *Retriever {
	return &Retriever{index: index, documents: documents, chunks: chunks}
}

// SearchDocs searches the user's documents. Queries are truncated to
// maxQueryLength; at most maxSearchResults hits are returned with snippets
// clipped to snippetLength.
func (r *Retriever) SearchDocs(ctx context.Context, userID, query string, rerank bool) ([]agent.SearchHit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query cannot be empty", agent.ErrToolValidation)
	}

	query = strings.TrimSpace(query)
	if len(query) > maxQueryLength {
		slog.WarnContext(ctx, "query truncated", "from", len(query), "to", maxQueryLength)
		query = query[:maxQueryLength]
	}

	hits, err := r.index.Search(ctx, userID, query, maxSearchResults)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	if rerank {
		rerankByOverlap(query, hits)
	}

	results := make([]agent.SearchHit, 0, len(hits))
	for _, h := range hits {
		snippet := h.Snippet
		if len(snippet) > snippetLength {
			snippet = snippet[:snippetLength]
		}
		results = append(results, agent.SearchHit{
			DocID:      h.DocID,
			ChunkID:    h.ChunkID,
			ChunkIndex: h.ChunkIndex,
			Snippet:    snippet,
			Score:      h.Score,
			Filename:   h.Filename,
		})
	}

	slog.InfoContext(ctx, "search_docs completed",
		"query", logger.Truncate(query, 50), "results", len(results))
	return results, nil
}

// OpenCitation retrieves the full text of a chunk, verifying that the chunk
// belongs to the named document and that the document belongs to the caller.
// Text is bounded to maxCitationText.
func (r *Retriever) OpenCitation(ctx context.Context, userID, docID, chunkID string) (*agent.OpenedChunk, error) {
	docID = strings.TrimSpace(docID)
	chunkID = strings.TrimSpace(chunkID)
	if docID == "" {
		return nil, fmt.Errorf("%w: docId is required", agent.ErrToolValidation)
	}
	if chunkID == "" {
		return nil, fmt.Errorf("%w: chunkId is required", agent.ErrToolValidation)
	}

	chunk, err := r.chunks.GetByID(ctx, chunkID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: chunk not found: %s", agent.ErrToolValidation, chunkID)
		}
		return nil, fmt.Errorf("fetching chunk: %w", err)
	}

	// Defense in depth: a valid chunkId paired with the wrong docId is rejected.
	if chunk.DocumentID != docID {
		return nil, fmt.Errorf("%w: chunkId does not belong to specified docId", agent.ErrToolValidation)
	}

	doc, err := r.documents.GetByID(ctx, docID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: document not found: %s", agent.ErrToolValidation, docID)
		}
		return nil, fmt.Errorf("fetching document: %w", err)
	}

	if doc.OwnerUserID != userID {
		slog.WarnContext(ctx, "open_citation access denied",
			"doc_id", docID, "owner", doc.OwnerUserID)
		return nil, fmt.Errorf("%w: you do not have access to this document", agent.ErrToolAccess)
	}

	text := chunk.Text
	if len(text) > maxCitationText {
		text = text[:maxCitationText] + "\n\n[...text truncated...]"
	}

	slog.InfoContext(ctx, "open_citation completed", "chunk_id", chunkID, "chars", len(text))

	return &agent.OpenedChunk{
		DocID:      docID,
		ChunkID:    chunkID,
		ChunkIndex: chunk.ChunkIndex,
		Text:       text,
		Filename:   doc.Filename,
	}, nil
}

// rerankByOverlap re-sorts hits by query-term overlap, preserving the
// original relevance order within equal overlap counts.
func rerankByOverlap(query string, hits []search.Hit) {
	terms := strings.Fields(strings.ToLower(query))

	overlap := func(h search.Hit) int {
		text := strings.ToLower(h.Snippet)
		count := 0
		for _, t := range terms {
			if strings.Contains(text, t) {
				count++
			}
		}
		return count
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return overlap(hits[i]) > overlap(hits[j])
	})
}

package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"docuchat.app/engine/common/logger"
	"docuchat.app/engine/core/db"
	"docuchat.app/engine/internal/model"
	"docuchat.app/engine/internal/queue"
	"docuchat.app/engine/internal/search"
	"docuchat.app/engine/internal/store"
)

// Chunking parameters. Overlap keeps sentences that straddle a boundary
// findable from both sides.
const (
	chunkSize    = 1200
	chunkOverlap = 150
)

// Ingester turns a pending document into indexed chunks: split, persist,
// index, mark indexed.
type Ingester struct {
	db        *db.DB
	documents *store.DocumentStore
	chunks    *store.ChunkStore
	index     *search.Index
}

func NewIngester(database *db.DB, documents *store.DocumentStore, chunks *store.ChunkStore, index *search.Index) *Ingester {
	return &Ingester{db: database, documents: documents, chunks: chunks, index: index}
}

// Handle processes one ingest job. Failures mark the document failed and
// return the error so the message stays pending for redelivery.
func (ing *Ingester) Handle(ctx context.Context, job queue.IngestJob) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		DocumentID: logger.Ptr(job.DocumentID),
		Component:  "ingest",
	})
	slog.InfoContext(ctx, "ingest started")

	doc, err := ing.documents.GetByID(ctx, job.DocumentID)
	if err != nil {
		return fmt.Errorf("loading document: %w", err)
	}

	if err := ing.ingest(ctx, doc); err != nil {
		if statusErr := ing.documents.UpdateStatus(ctx, doc.ID, "failed"); statusErr != nil {
			slog.ErrorContext(ctx, "marking document failed", "error", statusErr)
		}
		return err
	}

	if err := ing.documents.UpdateStatus(ctx, doc.ID, "indexed"); err != nil {
		return fmt.Errorf("marking document indexed: %w", err)
	}

	slog.InfoContext(ctx, "ingest completed")
	return nil
}

func (ing *Ingester) ingest(ctx context.Context, doc *model.Document) error {
	pieces := splitText(doc.Text)
	if len(pieces) == 0 {
		return fmt.Errorf("document %s has no text to index", doc.ID)
	}

	chunks := make([]*model.Chunk, len(pieces))
	for i, text := range pieces {
		chunks[i] = &model.Chunk{
			ID:         uuid.NewString(),
			DocumentID: doc.ID,
			ChunkIndex: i,
			Text:       text,
		}
	}

	// Re-ingest replaces previous chunks atomically.
	err := ing.db.WithTx(ctx, func(tx pgx.Tx) error {
		if err := ing.chunks.DeleteByDocument(ctx, tx, doc.ID); err != nil {
			return err
		}
		for _, chunk := range chunks {
			if err := ing.chunks.Create(ctx, tx, chunk); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("persisting chunks: %w", err)
	}

	if err := ing.index.DeleteByDocument(ctx, doc.ID); err != nil {
		slog.WarnContext(ctx, "clearing stale index entries", "error", err)
	}
	if err := ing.index.UpsertChunks(ctx, doc, chunks); err != nil {
		return fmt.Errorf("indexing chunks: %w", err)
	}

	slog.InfoContext(ctx, "document chunked", "chunks", len(chunks))
	return nil
}

// splitText cuts text into overlapping chunks, preferring to break at a
// paragraph or sentence boundary near the target size.
func splitText(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var pieces []string
	for start := 0; start < len(text); {
		end := start + chunkSize
		if end >= len(text) {
			piece := strings.TrimSpace(text[start:])
			if piece != "" {
				pieces = append(pieces, piece)
			}
			break
		}

		cut := findBreak(text, start, end)
		piece := strings.TrimSpace(text[start:cut])
		if piece != "" {
			pieces = append(pieces, piece)
		}

		next := cut - chunkOverlap
		if next <= start {
			next = cut
		}
		start = next
	}

	return pieces
}

// findBreak looks backwards from end for a paragraph break, then a sentence
// end, then a space. Falls back to a hard cut.
func findBreak(text string, start, end int) int {
	window := text[start:end]

	if idx := strings.LastIndex(window, "\n\n"); idx > chunkSize/2 {
		return start + idx
	}
	for _, sep := range []string{". ", ".\n", "! ", "? "} {
		if idx := strings.LastIndex(window, sep); idx > chunkSize/2 {
			return start + idx + 1
		}
	}
	if idx := strings.LastIndexByte(window, ' '); idx > chunkSize/2 {
		return start + idx
	}
	return end
}

package search

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/typesense/typesense-go/v4/typesense"
	"github.com/typesense/typesense-go/v4/typesense/api"
	"github.com/typesense/typesense-go/v4/typesense/api/pointer"

	"docuchat.app/engine/core/config"
	"docuchat.app/engine/internal/model"
)

// Hit is a single search result from the chunk index.
type Hit struct {
	DocID      string
	ChunkID    string
	ChunkIndex int
	Snippet    string
	Score      float64
	Filename   string
}

// Index provides full-text search over document chunks, scoped per owner.
type Index struct {
	client     *typesense.Client
	collection string
}

func New(cfg config.TypesenseConfig) *Index {
	client := typesense.NewClient(
		typesense.WithServer(cfg.URL),
		typesense.WithAPIKey(cfg.APIKey),
	)
	return &Index{client: client, collection: cfg.Collection}
}

// EnsureCollection creates the chunk collection if it does not already exist.
func (idx *Index) EnsureCollection(ctx context.Context) error {
	_, err := idx.client.Collection(idx.collection).Retrieve(ctx)
	if err == nil {
		return nil
	}

	schema := &api.CollectionSchema{
		Name: idx.collection,
		Fields: []api.Field{
			{Name: "id", Type: "string"},
			{Name: "document_id", Type: "string", Facet: pointer.True()},
			{Name: "owner_user_id", Type: "string", Facet: pointer.True()},
			{Name: "chunk_index", Type: "int32"},
			{Name: "text", Type: "string"},
			{Name: "filename", Type: "string"},
		},
	}

	if _, err := idx.client.Collections().Create(ctx, schema); err != nil {
		return fmt.Errorf("creating collection %s: %w", idx.collection, err)
	}

	slog.InfoContext(ctx, "created search collection", "collection", idx.collection)
	return nil
}

// Search runs a full-text query over the caller's chunks and returns the top
// hits by text relevance.
func (idx *Index) Search(ctx context.Context, ownerUserID, query string, limit int) ([]Hit, error) {
	params := &api.SearchCollectionParams{
		Q:        pointer.String(query),
		QueryBy:  pointer.String("text,filename"),
		FilterBy: pointer.String(fmt.Sprintf("owner_user_id:=%s", ownerUserID)),
		PerPage:  pointer.Int(limit),
	}

	result, err := idx.client.Collection(idx.collection).Documents().Search(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", idx.collection, err)
	}

	if result.Hits == nil {
		return nil, nil
	}

	hits := make([]Hit, 0, len(*result.Hits))
	for _, h := range *result.Hits {
		if h.Document == nil {
			continue
		}
		doc := *h.Document

		hit := Hit{
			ChunkID:  docString(doc, "id"),
			DocID:    docString(doc, "document_id"),
			Snippet:  docString(doc, "text"),
			Filename: docString(doc, "filename"),
		}
		if v, ok := doc["chunk_index"].(float64); ok {
			hit.ChunkIndex = int(v)
		}
		if h.TextMatch != nil {
			hit.Score = float64(*h.TextMatch)
		}

		hits = append(hits, hit)
	}

	return hits, nil
}

// UpsertChunks indexes a document's chunks. Existing entries with the same ID
// are replaced.
func (idx *Index) UpsertChunks(ctx context.Context, doc *model.Document, chunks []*model.Chunk) error {
	docs := idx.client.Collection(idx.collection).Documents()

	for _, chunk := range chunks {
		entry := map[string]any{
			"id":            chunk.ID,
			"document_id":   chunk.DocumentID,
			"owner_user_id": doc.OwnerUserID,
			"chunk_index":   int32(chunk.ChunkIndex),
			"text":          chunk.Text,
			"filename":      doc.Filename,
		}
		if _, err := docs.Upsert(ctx, entry, &api.DocumentIndexParameters{}); err != nil {
			return fmt.Errorf("indexing chunk %s: %w", chunk.ID, err)
		}
	}

	return nil
}

// DeleteByDocument removes all indexed chunks for a document.
func (idx *Index) DeleteByDocument(ctx context.Context, documentID string) error {
	filter := fmt.Sprintf("document_id:=%s", documentID)
	_, err := idx.client.Collection(idx.collection).Documents().Delete(ctx, &api.DeleteDocumentsParams{
		FilterBy: pointer.String(filter),
	})
	if err != nil {
		return fmt.Errorf("deleting indexed chunks for %s: %w", documentID, err)
	}
	return nil
}

func docString(doc map[string]interface{}, key string) string {
	if v, ok := doc[key].(string); ok {
		return v
	}
	return ""
}

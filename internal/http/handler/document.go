package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"docuchat.app/engine/internal/http/middleware"
	"docuchat.app/engine/internal/model"
	"docuchat.app/engine/internal/queue"
	"docuchat.app/engine/internal/store"
)

// 10MB of extracted text per document.
const maxDocumentText = 10 << 20

// DocumentHandler serves document upload and listing.
type DocumentHandler struct {
	documents *store.DocumentStore
	producer  *queue.Producer
}

func NewDocumentHandler(documents *store.DocumentStore, producer *queue.Producer) *DocumentHandler {
	return &DocumentHandler{documents: documents, producer: producer}
}

type uploadRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Text        string `json:"text"`
}

// Upload handles POST /documents: stores the extracted text and enqueues the
// document for chunking and indexing.
func (h *DocumentHandler) Upload(c *gin.Context) {
	var req uploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "code": codeValidationError})
		return
	}

	if req.Filename == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "filename is required", "code": codeValidationError})
		return
	}
	if req.Text == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is required", "code": codeValidationError})
		return
	}
	if len(req.Text) > maxDocumentText {
		c.JSON(http.StatusBadRequest, gin.H{"error": "document text too large", "code": codeValidationError})
		return
	}

	if req.ContentType == "" {
		req.ContentType = "text/plain"
	}

	user := middleware.CurrentUser(c)
	doc := &model.Document{
		ID:          uuid.NewString(),
		OwnerUserID: strconv.FormatInt(user.ID, 10),
		Filename:    req.Filename,
		ContentType: req.ContentType,
		Text:        req.Text,
		Status:      "pending",
	}

	ctx := c.Request.Context()
	if err := h.documents.Create(ctx, doc); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store document", "code": codeInternalError})
		return
	}

	if err := h.producer.EnqueueDocument(ctx, doc.ID, doc.OwnerUserID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue document", "code": codeInternalError})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"id":       doc.ID,
		"filename": doc.Filename,
		"status":   doc.Status,
	})
}

// List handles GET /documents.
func (h *DocumentHandler) List(c *gin.Context) {
	user := middleware.CurrentUser(c)

	docs, err := h.documents.ListByOwner(c.Request.Context(), strconv.FormatInt(user.ID, 10))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list documents", "code": codeInternalError})
		return
	}

	out := make([]gin.H, 0, len(docs))
	for _, d := range docs {
		out = append(out, gin.H{
			"id":          d.ID,
			"filename":    d.Filename,
			"contentType": d.ContentType,
			"status":      d.Status,
			"createdAt":   d.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{"documents": out})
}

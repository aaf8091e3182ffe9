package model

import "time"

// Document is an uploaded file whose extracted text has been chunked and indexed.
type Document struct {
	ID          string // UUID
	OwnerUserID string
	Filename    string
	ContentType string
	Text        string // extracted text, empty once chunked if not retained
	Status      string // "pending", "indexed", "failed"
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Chunk is a contiguous text segment of a document produced by the ingest pipeline.
type Chunk struct {
	ID         string // UUID
	DocumentID string
	ChunkIndex int
	Text       string
	CreatedAt  time.Time
}

// User is a local account linked to a WorkOS identity.
type User struct {
	ID        int64
	Name      string
	Email     string
	AvatarURL *string
	WorkOSID  *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Session is a server-side login session referenced by cookie.
type Session struct {
	ID        int64
	UserID    int64
	ExpiresAt time.Time
	CreatedAt time.Time
}

// AgentRun is the audit record written after each agent execution.
type AgentRun struct {
	ID               int64
	UserID           string
	QuestionLength   int
	ToolCalls        int
	TraceLength      int
	ValidationPassed bool
	PromptTokens     int
	CompletionTokens int
	CreatedAt        time.Time
}

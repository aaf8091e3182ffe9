package agent_test

import (
	"context"

	"docuchat.app/engine/common/llm"
	"docuchat.app/engine/internal/agent"
)

// mockOracle implements llm.AgentClient for testing. Responses are consumed
// in order; the last one repeats once exhausted.
type mockOracle struct {
	responses []string
	chatFn    func(ctx context.Context, req llm.AgentRequest) (*llm.AgentResponse, error)
	callCount int
	prompts   []string
}

func (m *mockOracle) ChatWithTools(ctx context.Context, req llm.AgentRequest) (*llm.AgentResponse, error) {
	m.callCount++
	if len(req.Messages) > 0 {
		m.prompts = append(m.prompts, req.Messages[len(req.Messages)-1].Content)
	}
	if m.chatFn != nil {
		return m.chatFn(ctx, req)
	}
	i := m.callCount - 1
	if i >= len(m.responses) {
		i = len(m.responses) - 1
	}
	return &llm.AgentResponse{Content: m.responses[i], FinishReason: "stop"}, nil
}

func (m *mockOracle) Model() string {
	return "mock-model"
}

// mockToolClient implements agent.ToolClient for testing.
type mockToolClient struct {
	searchFn    func(ctx context.Context, userID, query string, rerank bool) ([]agent.SearchHit, error)
	openFn      func(ctx context.Context, userID, docID, chunkID string) (*agent.OpenedChunk, error)
	searchCalls int
	openCalls   int
}

func (m *mockToolClient) SearchDocs(ctx context.Context, userID, query string, rerank bool) ([]agent.SearchHit, error) {
	m.searchCalls++
	if m.searchFn != nil {
		return m.searchFn(ctx, userID, query, rerank)
	}
	return nil, nil
}

func (m *mockToolClient) OpenCitation(ctx context.Context, userID, docID, chunkID string) (*agent.OpenedChunk, error) {
	m.openCalls++
	if m.openFn != nil {
		return m.openFn(ctx, userID, docID, chunkID)
	}
	return &agent.OpenedChunk{DocID: docID, ChunkID: chunkID, Text: "chunk text", Filename: "doc.md"}, nil
}

const (
	testDocID   = "c5bd8bfc-1234-5678-abcd-1234567890ab"
	testChunkID = "f0e1d2c3-4444-5555-6666-777788889999"
)

func testHits() []agent.SearchHit {
	return []agent.SearchHit{
		{
			DocID:      testDocID,
			ChunkID:    testChunkID,
			ChunkIndex: 0,
			Snippet:    "The connection pool limit defaults to 10 per replica.",
			Score:      0.92,
			Filename:   "operations.md",
		},
	}
}

func testChunk() *agent.OpenedChunk {
	return &agent.OpenedChunk{
		DocID:      testDocID,
		ChunkID:    testChunkID,
		ChunkIndex: 0,
		Text:       "The connection pool limit defaults to 10 per replica. Raise it via DB_MAX_CONNS.",
		Filename:   "operations.md",
	}
}

package service

import (
	"context"
	"log/slog"

	"docuchat.app/engine/common/id"
	"docuchat.app/engine/common/logger"
	"docuchat.app/engine/internal/agent"
	"docuchat.app/engine/internal/model"
	"docuchat.app/engine/internal/queue"
	"docuchat.app/engine/internal/store"
)

// AgentService orchestrates agent runs: execution, trace fan-out, and the
// audit record written after each run.
type AgentService struct {
	executor *agent.Executor
	runs     *store.RunStore
	producer *queue.Producer
}

func NewAgentService(executor *agent.Executor, runs *store.RunStore, producer *queue.Producer) *AgentService {
	return &AgentService{executor: executor, runs: runs, producer: producer}
}

// Run executes the agent loop and records the audit row.
func (s *AgentService) Run(ctx context.Context, userID, question string, rerank bool) (*agent.Result, error) {
	runID := id.New()
	ctx = logger.WithLogFields(ctx, logger.LogFields{RunID: logger.Ptr(runID)})

	result, err := s.executor.Run(ctx, question, userID, rerank)
	if err != nil {
		return nil, err
	}

	s.audit(ctx, runID, userID, question, result)
	return result, nil
}

// RunStream executes the agent loop, forwarding each trace entry to sink and
// fanning it out to the run's redis stream for out-of-process observers.
func (s *AgentService) RunStream(ctx context.Context, userID, question string, rerank bool, sink agent.Sink) (*agent.Result, error) {
	runID := id.New()
	ctx = logger.WithLogFields(ctx, logger.LogFields{RunID: logger.Ptr(runID)})

	fanOut := func(entry agent.TraceEntry) {
		if s.producer != nil {
			s.producer.PublishTrace(ctx, runID, entry)
		}
		sink(entry)
	}

	result, err := s.executor.RunStream(ctx, question, userID, rerank, fanOut)
	if err != nil {
		return nil, err
	}

	s.audit(ctx, runID, userID, question, result)
	return result, nil
}

// audit persists the run record. Best-effort: a failed insert never fails the
// run the user already received.
func (s *AgentService) audit(ctx context.Context, runID int64, userID, question string, result *agent.Result) {
	err := s.runs.Create(ctx, &model.AgentRun{
		ID:               runID,
		UserID:           userID,
		QuestionLength:   len(question),
		ToolCalls:        result.ToolCallsUsed,
		TraceLength:      len(result.Trace),
		ValidationPassed: result.ValidationPassed,
		PromptTokens:     result.PromptTokens,
		CompletionTokens: result.CompletionTokens,
	})
	if err != nil {
		slog.ErrorContext(ctx, "recording agent run", "error", err)
		return
	}

	slog.InfoContext(ctx, "agent run recorded",
		"question_length", len(question),
		"tool_calls", result.ToolCallsUsed,
		"trace_length", len(result.Trace))
}

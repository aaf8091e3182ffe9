package store

import (
	"context"
	"fmt"

	"docuchat.app/engine/core/db"
	"docuchat.app/engine/internal/model"
)

type RunStore struct {
	db *db.DB
}

// Create records the audit row written after every agent execution.
func (s *RunStore) Create(ctx context.Context, run *model.AgentRun) error {
	_, err := s.db.Pool().Exec(ctx, `
		INSERT INTO agent_runs (id, user_id, question_length, tool_calls, trace_length, validation_passed, prompt_tokens, completion_tokens, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())`,
		run.ID, run.UserID, run.QuestionLength, run.ToolCalls, run.TraceLength,
		run.ValidationPassed, run.PromptTokens, run.CompletionTokens)
	if err != nil {
		return fmt.Errorf("creating agent run: %w", err)
	}
	return nil
}

func (s *RunStore) CountByUser(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := s.db.Pool().QueryRow(ctx, `
		SELECT count(*) FROM agent_runs WHERE user_id = $1`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting agent runs: %w", err)
	}
	return count, nil
}

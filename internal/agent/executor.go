package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"docuchat.app/engine/common/llm"
	"docuchat.app/engine/common/logger"
)

// Oracle token budgets, selected from the constraint complexity estimate.
const (
	defaultOracleMaxTokens = 600
	complexOracleMaxTokens = 1000
)

// ErrEmptyQuestion is returned when a run is started without a question.
var ErrEmptyQuestion = errors.New("question is required")

// Result is the outcome of a complete agent run.
type Result struct {
	Answer           string
	Citations        []GroundedCitation
	Insufficiencies  []Insufficiency
	Trace            []TraceEntry
	ToolCallsUsed    int
	ValidationPassed bool
	PromptTokens     int
	CompletionTokens int
}

// Executor runs the bounded agent loop: constraint analysis, planning, the
// tool loop with its validation gate, reprompting, citation grounding, and
// exhaustion-safe synthesis.
type Executor struct {
	oracle    llm.AgentClient
	planner   *Planner
	tools     ToolClient
	maxTokens int
}

func NewExecutor(oracle llm.AgentClient, planner *Planner, tools ToolClient, maxTokens int) *Executor {
	if maxTokens <= 0 {
		maxTokens = defaultOracleMaxTokens
	}
	return &Executor{oracle: oracle, planner: planner, tools: tools, maxTokens: maxTokens}
}

// Run executes the agent loop and returns the complete result.
func (e *Executor) Run(ctx context.Context, question, userID string, rerank bool) (*Result, error) {
	return e.run(ctx, question, userID, rerank, nil)
}

// RunStream executes the agent loop, forwarding trace entries to sink as they
// occur. The sink also receives "thinking" and "synthesizing" pseudo-entries
// that are not part of the stored trace.
func (e *Executor) RunStream(ctx context.Context, question, userID string, rerank bool, sink Sink) (*Result, error) {
	return e.run(ctx, question, userID, rerank, sink)
}

func (e *Executor) run(ctx context.Context, question, userID string, rerank bool, sink Sink) (*Result, error) {
	if strings.TrimSpace(question) == "" {
		return nil, ErrEmptyQuestion
	}

	question = strings.TrimSpace(question)
	if len(question) > MaxQuestionLength {
		slog.WarnContext(ctx, "question truncated", "from", len(question), "to", MaxQuestionLength)
		question = clip(question, MaxQuestionLength)
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{UserID: logger.Ptr(userID), Component: "agent"})
	slog.InfoContext(ctx, "agent run starting", "question", logger.Truncate(question, 100))

	result := &Result{}
	record := func(entry TraceEntry) {
		result.Trace = append(result.Trace, entry)
		if sink != nil {
			sink(entry)
		}
	}
	emitOnly := func(entry TraceEntry) {
		if sink != nil {
			sink(entry)
		}
	}

	constraints := AnalyzeConstraints(question)

	plan := e.planner.GeneratePlan(ctx, question)
	planEntry := TraceEntry{Type: TracePlan, Steps: plan.Steps}
	if plan.IsFallback {
		planEntry.Notes = "Fallback plan used"
	}
	record(planEntry)

	planSummary := strings.Join(plan.Steps[:min(3, len(plan.Steps))], "; ")
	if len(plan.Steps) > 3 {
		planSummary += fmt.Sprintf("... (+%d more)", len(plan.Steps)-3)
	}

	state := NewState(constraints)

	oracleBudget := e.maxTokens
	if constraints.IsComplexQuery {
		oracleBudget = max(oracleBudget, complexOracleMaxTokens)
	}

	iteration := 0
	repromptCount := 0
	jsonErrorCount := 0
	var finalAction *FinalAction
	repromptMessage := ""

	for iteration < MaxIterations && state.ToolCallsUsed < MaxToolCalls {
		iteration++

		emitOnly(TraceEntry{
			Type:  TraceToolCall,
			Tool:  "thinking",
			Notes: fmt.Sprintf("Step %d: Analyzing...", iteration),
		})

		prompt := buildIterationPrompt(
			question, planSummary, constraints, state,
			min(iteration, len(plan.Steps)), len(plan.Steps),
			repromptMessage,
		)
		repromptMessage = ""

		response, err := e.callOracle(ctx, prompt, oracleBudget, result)
		if err != nil {
			slog.ErrorContext(ctx, "oracle call failed", "error", err)
			record(TraceEntry{Type: TraceError, Error: "LLM error: " + clip(err.Error(), 100)})
			break
		}

		action := ParseAction(response)

		if action.Type == ActionInvalid {
			jsonErrorCount++
			if jsonErrorCount >= 2 {
				state.Notes = append(state.Notes, "Model output malformed: "+action.Err)
				break
			}
			repromptMessage = "Invalid JSON: " + action.Err + "\nOutput ONLY valid JSON."
			continue
		}

		if action.Type == ActionToolCall {
			if state.RemainingToolBudget() <= 0 {
				state.Notes = append(state.Notes, "Tool budget exhausted")
				break
			}

			success, message := e.executeTool(ctx, userID, action.ToolCall, state, record, rerank)
			if !success {
				state.Notes = append(state.Notes, "Tool failed: "+message)
			}
			continue
		}

		// Validation gate.

		// Safety auto-open: the model searched but tried to finalize without
		// reading anything. Open the top hits for it and force another pass.
		if len(state.OpenedCitations) == 0 && len(state.SearchResults) > 0 && state.RemainingToolBudget() > 0 {
			opened := e.autoOpenCitations(ctx, userID, state, record)
			if opened > 0 {
				repromptMessage = fmt.Sprintf(
					"I have now opened %d citation(s) for you. Review the OPENED CITATIONS section and provide a proper answer with markers [1], [2], …",
					opened)
				continue
			}
		}

		citationRefs := ExtractCitationRefs(action.Final.Answer)
		validation := Validate(action.Final.Answer, citationRefs, constraints, state.Snapshot(), state.Insufficiencies)

		if validation.IsValid {
			finalAction = action.Final
			result.ValidationPassed = true
			record(TraceEntry{
				Type:  TraceFinal,
				Notes: fmt.Sprintf("Validated with %d citations", len(state.OpenedCitations)),
			})
			break
		}

		repromptCount++
		record(TraceEntry{
			Type:             TraceValidation,
			ValidationErrors: validation.ErrorMessages(),
			Notes:            fmt.Sprintf("Validation failed (attempt %d/%d)", repromptCount, MaxReprompts),
		})

		if repromptCount >= MaxReprompts {
			slog.WarnContext(ctx, "max reprompts reached, accepting answer")
			finalAction = action.Final
			record(TraceEntry{
				Type:  TraceFinal,
				Notes: "Accepted after max reprompts (may have validation issues)",
			})
			break
		}

		repromptMessage = GenerateRepromptMessage(validation, state.RemainingToolBudget())
		record(TraceEntry{Type: TraceReprompt, Notes: clip(validation.ErrorSummary(), 200)})
	}

	e.finish(ctx, question, state, finalAction, result, record, emitOnly)

	result.ToolCallsUsed = state.ToolCallsUsed
	slog.InfoContext(ctx, "agent run completed",
		"tool_calls", state.ToolCallsUsed,
		"citations", len(result.Citations),
		"insufficiencies", len(result.Insufficiencies))

	return result, nil
}

// finish handles exhaustion and grounding once the loop exits.
func (e *Executor) finish(ctx context.Context, question string, state *State, finalAction *FinalAction, result *Result, record, emitOnly func(TraceEntry)) {
	if finalAction != nil {
		answer, grounded := groundCitations(finalAction, state)
		if len(grounded) == 0 && len(state.SearchResults) > 0 {
			grounded = fallbackCitationsFromSearch(state)
		}
		result.Answer = answer
		result.Citations = grounded

		result.Insufficiencies = state.Insufficiencies
		result.Insufficiencies = append(result.Insufficiencies, finalAction.Insufficiencies...)
		return
	}

	// No valid FINAL was produced; synthesize from whatever was gathered.
	if len(state.OpenedCitations) == 0 && len(state.SearchResults) == 0 {
		result.Answer = "I don't know based on the provided documents."
		result.Insufficiencies = state.Insufficiencies
		record(TraceEntry{Type: TraceFinal, Notes: "No relevant sources found"})
		return
	}

	emitOnly(TraceEntry{Type: TraceToolCall, Tool: "synthesizing", Notes: "Generating final answer..."})

	var contextParts []string
	for _, c := range state.OpenedCitations {
		contextParts = append(contextParts, fmt.Sprintf("[%d] %s (chunk %d):\n%s", c.CitationNum, c.Filename, c.ChunkIndex, c.Text))
	}
	if len(contextParts) == 0 {
		for i, r := range state.SearchResults {
			if i >= 3 {
				break
			}
			contextParts = append(contextParts, fmt.Sprintf("[%d] %s:\n%s", i+1, r.Filename, r.Snippet))
		}
	}

	response, err := e.callOracle(ctx, buildSynthesisPrompt(question, contextParts), e.maxTokens, result)
	if err != nil {
		slog.ErrorContext(ctx, "synthesis failed", "error", err)
		result.Answer = "I encountered an error generating the answer."
		result.Insufficiencies = state.Insufficiencies
		record(TraceEntry{Type: TraceError, Error: "Synthesis failed: " + clip(err.Error(), 100)})
		return
	}

	result.Answer = strings.TrimSpace(response)

	if len(state.OpenedCitations) > 0 {
		for _, c := range state.OpenedCitations {
			result.Citations = append(result.Citations, GroundedCitation{
				DocID:         c.DocID,
				ChunkID:       c.ChunkID,
				ChunkIndex:    c.ChunkIndex,
				Snippet:       clip(c.Text, 200),
				DocumentTitle: c.Filename,
			})
		}
	} else {
		result.Citations = fallbackCitationsFromSearch(state)
	}

	result.Insufficiencies = state.Insufficiencies
	record(TraceEntry{
		Type:  TraceFinal,
		Notes: fmt.Sprintf("Synthesized from %d sources (exhaustion fallback)", len(result.Citations)),
	})
}

func (e *Executor) callOracle(ctx context.Context, prompt string, maxTokens int, result *Result) (string, error) {
	temperature := 0.1
	resp, err := e.oracle.ChatWithTools(ctx, llm.AgentRequest{
		Messages:    []llm.Message{{Role: "user", Content: prompt}},
		MaxTokens:   maxTokens,
		Temperature: &temperature,
	})
	if err != nil {
		return "", err
	}
	result.PromptTokens += resp.PromptTokens
	result.CompletionTokens += resp.CompletionTokens
	return resp.Content, nil
}

// executeTool dispatches a single tool call, updating state and trace.
// The budget is consumed before dispatch so failed calls still count.
func (e *Executor) executeTool(ctx context.Context, userID string, call *ToolCallAction, state *State, record func(TraceEntry), rerank bool) (bool, string) {
	state.ToolCallsUsed++

	switch call.Tool {
	case "search_docs":
		query := asString(call.Input["query"])
		if query == "" {
			return false, "Query is required"
		}

		ctx := logger.WithLogFields(ctx, logger.LogFields{Tool: logger.Ptr("search_docs")})
		hits, err := e.tools.SearchDocs(ctx, userID, query, rerank)
		if err != nil {
			return false, e.recordToolError(call.Tool, err, state, record, "")
		}

		state.AddSearchResults(query, hits)
		record(TraceEntry{
			Type:          TraceToolCall,
			Tool:          "search_docs",
			Input:         map[string]any{"query": clip(query, 100)},
			OutputSummary: searchSummary(hits),
		})
		return true, searchSummary(hits)

	case "open_citation":
		docID := asString(call.Input["docId"])
		chunkID := asString(call.Input["chunkId"])
		if docID == "" || chunkID == "" {
			return false, "docId and chunkId are required"
		}

		// Models routinely truncate UUIDs; resolve against search results.
		docID, chunkID = resolveCitationIDs(docID, chunkID, state.SearchResults)

		ctx := logger.WithLogFields(ctx, logger.LogFields{Tool: logger.Ptr("open_citation"), DocumentID: logger.Ptr(docID)})
		opened, err := e.tools.OpenCitation(ctx, userID, docID, chunkID)
		if err != nil {
			hint := ""
			if errors.Is(err, ErrToolValidation) {
				hint = citationHint(state.SearchResults)
			}
			return false, e.recordToolError(call.Tool, err, state, record, hint)
		}

		state.AddOpenedCitation(*opened)
		record(TraceEntry{
			Type:          TraceToolCall,
			Tool:          "open_citation",
			Input:         map[string]any{"docId": clip(docID, 20), "chunkId": clip(chunkID, 20)},
			OutputSummary: openSummary(opened),
		})
		return true, openSummary(opened)

	default:
		record(TraceEntry{Type: TraceError, Error: "Unknown tool: " + call.Tool})
		return false, "Unknown tool: " + call.Tool
	}
}

func (e *Executor) recordToolError(tool string, err error, state *State, record func(TraceEntry), hint string) string {
	record(TraceEntry{Type: TraceError, Tool: tool, Error: clip(err.Error(), 100)})

	message := err.Error()
	if hint != "" {
		message += "\n" + hint
	}

	switch {
	case errors.Is(err, ErrToolAccess):
		state.Notes = append(state.Notes, "Access denied: "+message)
	case errors.Is(err, ErrToolValidation):
		state.Notes = append(state.Notes, "Tool error: "+message)
	}

	return message
}

// autoOpenCitations opens up to 3 top search hits on the model's behalf.
// Each open consumes tool budget.
func (e *Executor) autoOpenCitations(ctx context.Context, userID string, state *State, record func(TraceEntry)) int {
	opened := 0
	for _, r := range state.SearchResults {
		if opened >= 3 || state.RemainingToolBudget() <= 0 {
			break
		}
		call := &ToolCallAction{
			Tool:  "open_citation",
			Input: map[string]any{"docId": r.DocID, "chunkId": r.ChunkID},
		}
		if ok, _ := e.executeTool(ctx, userID, call, state, record, false); ok {
			opened++
		}
	}
	return opened
}

package agent

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

const toolLoopSystemPrompt = `You are an AI assistant executing a plan to answer questions using document search tools.

STRICT OUTPUT FORMAT:
You MUST output EXACTLY ONE valid JSON object per response. No text before or after.

For tool calls:
{
  "type": "tool_call",
  "tool": "search_docs" | "open_citation",
  "input": { ... }
}

For final answer (ONLY when you have gathered enough information):
{
  "type": "final",
  "answer": "Your answer with [1], [2] citation markers",
  "used_citations": [
    {"docId": "...", "chunkId": "...", "chunkIndex": 0}
  ],
  "insufficiencies": [
    {"section": "...", "missing": "...", "queries_tried": ["..."]}
  ]
}

AVAILABLE TOOLS:
1. search_docs - Search documents
   Input: {"query": "search terms"}

2. open_citation - Read full text of a chunk (REQUIRED before citing)
   Input: {"docId": "FULL-UUID-HERE", "chunkId": "FULL-UUID-HERE"}
   IMPORTANT: You MUST use the COMPLETE UUID strings shown in search results.
   UUIDs look like: "c5bd8bfc-1234-5678-abcd-1234567890ab" (36 characters with dashes)
   Do NOT truncate or shorten the UUIDs!

CRITICAL RULES:
1. You MUST call open_citation before you can cite a source in your final answer
2. Use the FULL docId and chunkId from search results - do not truncate!
3. Citation numbers [1], [2] must match opened citations
4. Do NOT include information not found in opened citations
5. If information is missing, include it in "insufficiencies"
6. Say "I don't know based on the provided documents" if nothing relevant found
7. NEVER invent tools, commands, or procedures not in the documents`

const synthesisPrompt = `Based on the gathered information, answer the question.

STRICT RULES:
1. Use ONLY the provided context - never make up information
2. Cite sources using [1], [2] notation matching the citation numbers below
3. If the context doesn't answer the question, say: "I don't know based on the provided documents."
4. If some information is missing, explicitly state "Insufficient documentation" for those parts
5. Be factual and concise

Question: %s

Available sources:
%s

Answer (use [1], [2] etc. to cite sources):`

var (
	toolSchemaOnce    sync.Once
	toolSchemaSection string
)

// toolSchemasSection renders the generated JSON schemas for both tools.
// Built once; the schemas are static.
func toolSchemasSection() string {
	toolSchemaOnce.Do(func() {
		var lines []string
		lines = append(lines, "TOOL INPUT SCHEMAS (JSON Schema):")
		for _, tool := range ToolSchemas() {
			raw, err := json.Marshal(tool.Parameters)
			if err != nil {
				continue
			}
			lines = append(lines, fmt.Sprintf("%s: %s", tool.Name, raw))
		}
		toolSchemaSection = strings.Join(lines, "\n")
	})
	return toolSchemaSection
}

// buildIterationPrompt assembles the full prompt for one loop iteration.
func buildIterationPrompt(question, planSummary string, constraints Constraints, state *State, stepNum, totalSteps int, repromptMessage string) string {
	parts := []string{
		toolLoopSystemPrompt,
		"",
		toolSchemasSection(),
		"",
		"QUESTION: " + question,
		"",
		"PLAN: " + planSummary,
		fmt.Sprintf("CURRENT STEP: %d of %d", stepNum, totalSteps),
		"",
		SummarizeConstraints(constraints),
		"",
		fmt.Sprintf("TOOL BUDGET: %d calls remaining (max %d)", state.RemainingToolBudget(), MaxToolCalls),
		fmt.Sprintf("SEARCHES DONE: %d", state.SearchCount()),
		fmt.Sprintf("CITATIONS OPENED: %d", len(state.OpenedCitations)),
		"",
		"CURRENT CONTEXT:",
		state.BuildContextString(),
		"",
	}

	if len(state.OpenedCitations) > 0 {
		parts = append(parts,
			"AVAILABLE CITATIONS FOR FINAL:",
			state.BuildAvailableCitationsList(),
			"",
		)
	}

	if repromptMessage != "" {
		parts = append(parts,
			"=== CORRECTION REQUIRED ===",
			repromptMessage,
			"===========================",
			"",
		)
	}

	parts = append(parts, "Output your next action as JSON:")

	return strings.Join(parts, "\n")
}

// buildSynthesisPrompt renders the exhaustion-fallback prompt over whatever
// context was gathered.
func buildSynthesisPrompt(question string, contextParts []string) string {
	return fmt.Sprintf(synthesisPrompt, question, strings.Join(contextParts, "\n\n"))
}

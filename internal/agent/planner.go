package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"docuchat.app/engine/common/llm"
	"docuchat.app/engine/common/logger"
)

// Plan limits.
const (
	minPlanSteps = 2
	maxPlanSteps = 5
)

// defaultPlan is the safe fallback used when plan generation or parsing fails.
var defaultPlan = []string{
	"Search documents for relevant information",
	"Open the best matching citations",
	"Synthesize answer with citations",
}

const planSystemPrompt = `You are a planning assistant for a document Q&A system.

Your task is to create a SHORT, FOCUSED plan to answer the user's question using their uploaded documents.

AVAILABLE TOOLS:
1. search_docs(query) - Search the user's documents for relevant content. Returns top 5 matching chunks.
2. open_citation(docId, chunkId) - Retrieve the full text of a specific chunk for detailed reading.

RULES:
1. Output EXACTLY 2-5 steps. No more, no less.
2. Each step must be ONE clear, actionable instruction.
3. Steps should reference tools by name when a tool is needed.
4. The final step should always be about synthesizing/answering.
5. Be specific about what to search for.
6. Do NOT include introductions, explanations, or commentary.

OUTPUT FORMAT:
Return a JSON array of strings, each string being one step.

Example:
["Search for 'quarterly revenue figures'", "Open the top 2 citations to read details", "Synthesize the answer with specific numbers and citations"]

Now create a plan for the following question:`

// Plan is a bounded 2-5 step execution plan.
type Plan struct {
	Steps      []string
	IsFallback bool
}

// Planner generates execution plans via a small, low-temperature oracle call.
type Planner struct {
	client    llm.AgentClient
	maxTokens int
}

func NewPlanner(client llm.AgentClient, maxTokens int) *Planner {
	if maxTokens <= 0 {
		maxTokens = 300
	}
	return &Planner{client: client, maxTokens: maxTokens}
}

// GeneratePlan produces a plan for the question. Any failure falls back to
// the default plan rather than aborting the run.
func (p *Planner) GeneratePlan(ctx context.Context, question string) Plan {
	if strings.TrimSpace(question) == "" {
		slog.WarnContext(ctx, "empty question, using default plan")
		return Plan{Steps: append([]string(nil), defaultPlan...), IsFallback: true}
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "planner"})

	temperature := 0.3
	resp, err := p.client.ChatWithTools(ctx, llm.AgentRequest{
		Messages: []llm.Message{
			{Role: "user", Content: planSystemPrompt + "\n\nQuestion: " + question},
		},
		MaxTokens:   p.maxTokens,
		Temperature: &temperature,
	})
	if err != nil {
		slog.ErrorContext(ctx, "plan generation failed", "error", err)
		return Plan{Steps: append([]string(nil), defaultPlan...), IsFallback: true}
	}

	steps, err := parsePlanResponse(resp.Content)
	if err == nil {
		steps, err = validatePlanSteps(steps)
	}
	if err != nil {
		slog.WarnContext(ctx, "plan parsing failed", "error", err)
		return Plan{Steps: append([]string(nil), defaultPlan...), IsFallback: true}
	}

	slog.InfoContext(ctx, "generated plan", "steps", len(steps))
	return Plan{Steps: steps}
}

var (
	planJSONArrayRe = regexp.MustCompile(`\[[\s\S]*\]`)
	numberedStepRe  = regexp.MustCompile(`(?m)^\s*\d+[.)]\s*(.+)$`)
	bulletStepRe    = regexp.MustCompile(`(?m)^\s*[-*•]\s*(.+)$`)
)

var planMetaPrefixes = []string{"here", "plan:", "steps:", "the plan", "i will", "let me"}

// parsePlanResponse extracts plan steps trying, in order: a JSON array, a
// numbered list, bullet points, then plain lines that look like steps.
func parsePlanResponse(responseText string) ([]string, error) {
	text := strings.TrimSpace(responseText)

	if match := planJSONArrayRe.FindString(text); match != "" {
		var steps []string
		if err := json.Unmarshal([]byte(match), &steps); err == nil {
			var cleaned []string
			for _, s := range steps {
				if s = strings.TrimSpace(s); s != "" {
					cleaned = append(cleaned, s)
				}
			}
			if len(cleaned) > 0 {
				return cleaned, nil
			}
		}
	}

	if steps := collectMatches(numberedStepRe, text); len(steps) >= minPlanSteps {
		return steps, nil
	}

	if steps := collectMatches(bulletStepRe, text); len(steps) >= minPlanSteps {
		return steps, nil
	}

	var stepLines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || len(line) <= 10 || hasMetaPrefix(line) {
			continue
		}
		stepLines = append(stepLines, line)
	}
	if len(stepLines) >= minPlanSteps {
		return stepLines, nil
	}

	return nil, fmt.Errorf("could not parse plan from response: %s", clip(text, 200))
}

func collectMatches(re *regexp.Regexp, text string) []string {
	var steps []string
	for _, m := range re.FindAllStringSubmatch(text, -1) {
		if s := strings.TrimSpace(m[1]); s != "" {
			steps = append(steps, s)
		}
	}
	return steps
}

func hasMetaPrefix(line string) bool {
	lower := strings.ToLower(line)
	for _, prefix := range planMetaPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// validatePlanSteps normalizes to 2-5 actionable steps.
func validatePlanSteps(steps []string) ([]string, error) {
	var cleaned []string
	for _, s := range steps {
		if s = strings.TrimSpace(s); s != "" {
			cleaned = append(cleaned, s)
		}
	}

	if len(cleaned) < minPlanSteps {
		return nil, fmt.Errorf("plan has fewer than %d steps", minPlanSteps)
	}

	if len(cleaned) > maxPlanSteps {
		cleaned = cleaned[:maxPlanSteps]
	}

	for i, step := range cleaned {
		if len(step) < 5 {
			return nil, fmt.Errorf("step %d is too short: %q", i+1, step)
		}
		if len(step) > 500 {
			cleaned[i] = clip(step, 500) + "..."
		}
	}

	return cleaned, nil
}

package agent

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ActionType classifies a parsed model response.
type ActionType string

const (
	ActionToolCall ActionType = "tool_call"
	ActionFinal    ActionType = "final"
	ActionInvalid  ActionType = "invalid"
)

// ToolCallAction is a parsed tool_call action.
type ToolCallAction struct {
	Tool  string
	Input map[string]any
}

// UsedCitation is a citation reference the model claims to have used.
type UsedCitation struct {
	DocID      string
	ChunkID    string
	ChunkIndex int
}

// FinalAction is a parsed final action.
type FinalAction struct {
	Answer          string
	UsedCitations   []UsedCitation
	Insufficiencies []Insufficiency
}

// ParsedAction is the union of possible parse outcomes.
type ParsedAction struct {
	Type     ActionType
	ToolCall *ToolCallAction
	Final    *FinalAction
	Err      string
}

func invalidAction(msg string) ParsedAction {
	return ParsedAction{Type: ActionInvalid, Err: msg}
}

// ParseAction parses a model response expecting a single JSON action object.
// Models routinely wrap the JSON in prose, so the first balanced object is
// extracted before decoding. Concatenated objects: the first one wins.
func ParseAction(response string) ParsedAction {
	raw, ok := extractJSONObject(strings.TrimSpace(response))
	if !ok {
		return invalidAction("No JSON object found in response")
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		msg := clip(err.Error(), 50)
		return invalidAction("Invalid JSON: " + msg)
	}

	actionType := strings.ToLower(asString(data["type"]))

	switch actionType {
	case "tool_call":
		tool := asString(data["tool"])
		if tool != "search_docs" && tool != "open_citation" {
			return invalidAction(fmt.Sprintf("Unknown tool: %s. Use 'search_docs' or 'open_citation'.", tool))
		}
		input, ok := data["input"].(map[string]any)
		if !ok && data["input"] != nil {
			return invalidAction("'input' must be an object")
		}
		if input == nil {
			input = map[string]any{}
		}
		return ParsedAction{Type: ActionToolCall, ToolCall: &ToolCallAction{Tool: tool, Input: input}}

	case "final":
		if _, isString := data["answer"].(string); !isString && data["answer"] != nil {
			return invalidAction("'answer' must be a string")
		}
		return ParsedAction{Type: ActionFinal, Final: parseFinal(data)}

	default:
		// No explicit type; infer from structure.
		if tool := asString(data["tool"]); tool != "" {
			if input, ok := data["input"].(map[string]any); ok && (tool == "search_docs" || tool == "open_citation") {
				return ParsedAction{Type: ActionToolCall, ToolCall: &ToolCallAction{Tool: tool, Input: input}}
			}
		}

		if _, ok := data["answer"]; ok {
			return ParsedAction{Type: ActionFinal, Final: parseFinal(data)}
		}

		return invalidAction(fmt.Sprintf("Unknown action type: %s. Use 'tool_call' or 'final'.", actionType))
	}
}

func parseFinal(data map[string]any) *FinalAction {
	final := &FinalAction{Answer: asString(data["answer"])}

	cites := data["used_citations"]
	if cites == nil {
		cites = data["citations"]
	}
	if list, ok := cites.([]any); ok {
		for _, item := range list {
			ref, ok := item.(map[string]any)
			if !ok {
				continue
			}
			final.UsedCitations = append(final.UsedCitations, UsedCitation{
				DocID:      asString(ref["docId"]),
				ChunkID:    asString(ref["chunkId"]),
				ChunkIndex: asInt(ref["chunkIndex"]),
			})
		}
	}

	if list, ok := data["insufficiencies"].([]any); ok {
		for _, item := range list {
			entry, ok := item.(map[string]any)
			if !ok {
				continue
			}
			section := asString(entry["section"])
			if section == "" {
				section = "Unknown"
			}
			queries := asStringList(entry["queries_tried"])
			if queries == nil {
				queries = asStringList(entry["queriesTried"])
			}
			final.Insufficiencies = append(final.Insufficiencies, Insufficiency{
				Section:      section,
				Missing:      asString(entry["missing"]),
				QueriesTried: queries,
			})
		}
	}

	return final
}

// extractJSONObject returns the first balanced top-level JSON object in text,
// respecting string literals and escapes.
func extractJSONObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}

	// Unbalanced; hand the rest to the decoder for a precise error.
	return text[start:], true
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	}
	return 0
}

func asStringList(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

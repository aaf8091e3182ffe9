package agent

import (
	"fmt"
	"regexp"
	"strings"
)

// ValidationIssue is a single validation error or warning.
type ValidationIssue struct {
	Code     string
	Message  string
	Severity string // "error" or "warning"
}

// ValidationResult is the outcome of the pre-FINAL gate. Warnings never flip
// IsValid; only errors block acceptance.
type ValidationResult struct {
	IsValid  bool
	Errors   []ValidationIssue
	Warnings []ValidationIssue
}

func (r *ValidationResult) addError(code, message string) {
	r.Errors = append(r.Errors, ValidationIssue{Code: code, Message: message, Severity: "error"})
	r.IsValid = false
}

func (r *ValidationResult) addWarning(code, message string) {
	r.Warnings = append(r.Warnings, ValidationIssue{Code: code, Message: message, Severity: "warning"})
}

// ErrorSummary renders errors as reprompt bullets.
func (r *ValidationResult) ErrorSummary() string {
	if len(r.Errors) == 0 {
		return "No errors."
	}
	lines := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		lines[i] = "- " + e.Message
	}
	return strings.Join(lines, "\n")
}

// ErrorMessages returns the error messages for trace entries.
func (r *ValidationResult) ErrorMessages() []string {
	msgs := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		msgs[i] = e.Message
	}
	return msgs
}

// Snapshot is the read-only view of run state the validator checks.
type Snapshot struct {
	SearchCount         int
	SearchQueries       []string
	OpenCitationCount   int
	OpenedCitationTexts []string
	SearchSnippets      []string
}

// Technical terms that must not appear in an answer unless they appear in
// retrieved source text.
var suspiciousTerms = []string{
	// PostgreSQL operations
	"pg_reindex", "reindex", "vacuum", "vacuum analyze", "analyze table",
	// External tools
	"kubectl", "helm", "docker compose", "systemctl", "ansible",
	// Database operations
	"drop table", "truncate", "alter table", "create index",
	// Common hallucinations
	"according to best practices", "as recommended", "typically",
}

var (
	citationRefRe = regexp.MustCompile(`\[(\d+)\]`)

	dontKnowPatterns = []*regexp.Regexp{
		regexp.MustCompile(`i don't know`),
		regexp.MustCompile(`i cannot find`),
		regexp.MustCompile(`no relevant information`),
	}

	quotePatterns = []*regexp.Regexp{
		regexp.MustCompile("(?s)```[^`]*```"),
		regexp.MustCompile("`[^`]+`"),
		regexp.MustCompile(`"[^"]{10,}"`),
	}
)

var insufficiencyMarkers = []string{
	"insufficient documentation",
	"not found in documents",
	"missing from documentation",
	"no documentation available",
	"could not find",
}

// Validate runs all checks against a proposed final answer. It is the gate
// that prevents premature finalization.
func Validate(answer string, citationRefs []int, constraints Constraints, snapshot Snapshot, insufficiencies []Insufficiency) ValidationResult {
	result := ValidationResult{IsValid: true}

	validateNoEmptyAnswer(answer, snapshot, &result)
	validateMinSearches(snapshot, constraints, &result)
	validateMinOpenCitations(snapshot, constraints, &result)
	validateCitationReferences(answer, citationRefs, snapshot, &result)
	validateGroundedClaims(answer, snapshot, &result)
	validateExactQuoteRequirement(answer, constraints, snapshot, &result)
	validateInsufficiencyDisclosure(answer, constraints, insufficiencies, &result)

	return result
}

func validateNoEmptyAnswer(answer string, snapshot Snapshot, result *ValidationResult) {
	if strings.TrimSpace(answer) == "" {
		result.addError("EMPTY_ANSWER", "Answer is empty. Provide a substantive response.")
		return
	}

	if snapshot.OpenCitationCount == 0 && len(snapshot.SearchSnippets) == 0 {
		return
	}

	answerLower := strings.ToLower(answer)
	for _, re := range dontKnowPatterns {
		if re.MatchString(answerLower) && len(answer) < 100 {
			result.addWarning("UNEXPLAINED_DONT_KNOW",
				"Answer claims no information found, but sources were retrieved. "+
					"Explain what was searched and why it doesn't answer the question.")
			return
		}
	}
}

func validateMinSearches(snapshot Snapshot, constraints Constraints, result *ValidationResult) {
	if constraints.MinSearches > 1 && snapshot.SearchCount < constraints.MinSearches {
		topics := constraints.RequiredSearchTopics
		if len(topics) > 3 {
			topics = topics[:3]
		}
		result.addError("MIN_SEARCHES_UNMET", fmt.Sprintf(
			"Required at least %d separate searches, but only %d were performed. Topics to search: %v",
			constraints.MinSearches, snapshot.SearchCount, topics))
	}
}

func validateMinOpenCitations(snapshot Snapshot, constraints Constraints, result *ValidationResult) {
	if constraints.MinOpenCitations > 0 && snapshot.OpenCitationCount < constraints.MinOpenCitations {
		result.addError("MIN_OPEN_CITATIONS_UNMET", fmt.Sprintf(
			"Required to open at least %d citation(s), but only %d were opened. "+
				"Call open_citation on search results before finalizing.",
			constraints.MinOpenCitations, snapshot.OpenCitationCount))
	}
}

func validateCitationReferences(answer string, citationRefs []int, snapshot Snapshot, result *ValidationResult) {
	maxValidRef := snapshot.OpenCitationCount

	for _, ref := range citationRefs {
		if ref > maxValidRef || ref < 1 {
			result.addWarning("INVALID_CITATION_REF", fmt.Sprintf(
				"Citation reference [%d] does not correspond to an opened citation. "+
					"Only citations [1] through [%d] are valid.", ref, maxValidRef))
		}
	}

	for _, ref := range ExtractCitationRefs(answer) {
		if ref > maxValidRef || ref < 1 {
			result.addWarning("HALLUCINATED_CITATION", fmt.Sprintf(
				"Citation [%d] in answer is not a valid opened citation.", ref))
		}
	}
}

func validateGroundedClaims(answer string, snapshot Snapshot, result *ValidationResult) {
	answerLower := strings.ToLower(answer)

	var corpusParts []string
	corpusParts = append(corpusParts, snapshot.OpenedCitationTexts...)
	corpusParts = append(corpusParts, snapshot.SearchSnippets...)
	corpus := strings.ToLower(strings.Join(corpusParts, " "))

	if strings.TrimSpace(corpus) == "" {
		for _, term := range suspiciousTerms {
			if strings.Contains(answerLower, term) {
				result.addError("UNGROUNDED_CLAIM_NO_CONTEXT",
					"Answer contains specific technical claims but no source material was retrieved. "+
						"Perform searches and open citations before making claims.")
				return
			}
		}
		return
	}

	var ungrounded []string
	for _, term := range suspiciousTerms {
		if strings.Contains(answerLower, term) && !strings.Contains(corpus, term) {
			ungrounded = append(ungrounded, term)
		}
	}

	if len(ungrounded) > 0 {
		shown := ungrounded
		if len(shown) > 3 {
			shown = shown[:3]
		}
		quoted := make([]string, len(shown))
		for i, t := range shown {
			quoted[i] = "'" + t + "'"
		}
		termsStr := strings.Join(quoted, ", ")
		if len(ungrounded) > 3 {
			termsStr += fmt.Sprintf(" and %d more", len(ungrounded)-3)
		}
		result.addError("UNGROUNDED_CLAIM", fmt.Sprintf(
			"These terms appear in the answer but not in any retrieved source: %s. "+
				"Only include information that appears in the documents.", termsStr))
	}
}

func validateExactQuoteRequirement(answer string, constraints Constraints, snapshot Snapshot, result *ValidationResult) {
	if !constraints.RequiresExactQuote {
		return
	}

	if snapshot.OpenCitationCount == 0 {
		result.addError("EXACT_QUOTE_NO_SOURCE", fmt.Sprintf(
			"Exact quote is required for %v, but no citations were opened. Call open_citation first.",
			constraints.ExactQuoteIndicators))
		return
	}

	var foundQuotes []string
	for _, re := range quotePatterns {
		for _, match := range re.FindAllString(answer, -1) {
			cleaned := strings.TrimSpace(strings.Trim(match, "`\""))
			if len(cleaned) >= 10 {
				foundQuotes = append(foundQuotes, cleaned)
			}
		}
	}

	if len(foundQuotes) == 0 {
		result.addWarning("NO_QUOTED_TEXT", fmt.Sprintf(
			"Exact quote was required for %v, but no code blocks or quoted text found in answer.",
			constraints.ExactQuoteIndicators))
		return
	}

	corpus := strings.Join(snapshot.OpenedCitationTexts, "\n")
	normalizedCorpus := strings.Join(strings.Fields(corpus), " ")

	grounded := false
	for _, quote := range foundQuotes {
		normalizedQuote := strings.Join(strings.Fields(quote), " ")
		if strings.Contains(normalizedCorpus, normalizedQuote) || strings.Contains(corpus, quote) {
			grounded = true
			break
		}
	}

	if !grounded {
		result.addWarning("QUOTE_NOT_VERBATIM",
			"Found quoted text in answer, but it doesn't appear verbatim in opened citations. "+
				"Ensure quotes match the exact text from documents.")
	}
}

func validateInsufficiencyDisclosure(answer string, constraints Constraints, insufficiencies []Insufficiency, result *ValidationResult) {
	if !constraints.RequiresInsufficiencyDisclosure || len(insufficiencies) == 0 {
		return
	}

	answerLower := strings.ToLower(answer)
	for _, marker := range insufficiencyMarkers {
		if strings.Contains(answerLower, marker) {
			return
		}
	}

	sections := make([]string, len(insufficiencies))
	for i, ins := range insufficiencies {
		sections[i] = ins.Section
	}
	result.addWarning("MISSING_INSUFFICIENCY_DISCLOSURE", fmt.Sprintf(
		"Information gaps were found but not explicitly disclosed. "+
			"State 'Insufficient documentation' for: %v", sections))
}

// ExtractCitationRefs returns every [n] marker found in the answer, in order.
func ExtractCitationRefs(answer string) []int {
	var refs []int
	for _, m := range citationRefRe.FindAllStringSubmatch(answer, -1) {
		var n int
		fmt.Sscanf(m[1], "%d", &n)
		refs = append(refs, n)
	}
	return refs
}

// GenerateRepromptMessage builds the corrective message sent when validation
// fails. Its shape depends on whether tool budget remains.
func GenerateRepromptMessage(validation ValidationResult, remainingToolBudget int) string {
	lines := []string{
		"VALIDATION FAILED - Your answer does not meet requirements.",
		"",
		"ERRORS:",
		validation.ErrorSummary(),
		"",
		fmt.Sprintf("REMAINING TOOL BUDGET: %d calls", remainingToolBudget),
		"",
	}

	if remainingToolBudget > 0 {
		lines = append(lines,
			"You MUST output a TOOL_CALL to gather more information before finalizing.",
			"Output ONLY valid JSON in TOOL_CALL format.")
	} else {
		lines = append(lines,
			"Tool budget exhausted. Output FINAL with explicit insufficiency notes.",
			`Include "insufficiencies" array listing what could not be found.`)
	}

	return strings.Join(lines, "\n")
}

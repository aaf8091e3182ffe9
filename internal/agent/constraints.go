package agent

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Constraints captures the implicit and explicit requirements mined from a
// user question. The validator uses these to decide whether the agent has
// done enough work before a final answer is accepted.
type Constraints struct {
	// Search constraints
	MinSearches          int
	RequiredSearchTopics []string

	// Citation constraints
	MinOpenCitations int

	// Content constraints
	RequiresExactQuote   bool
	ExactQuoteIndicators []string // "SQL statement", "Redirect URI", ...

	// Conflict resolution
	RequiresConflictResolution bool
	ConflictResolutionRule     string // "newest", "priority", "specific", or ""

	// Output structure requirements
	RequiredSections                []string
	RequiresInsufficiencyDisclosure bool

	// Answer complexity estimate
	EstimatedMinAnswerLength int
	IsComplexQuery           bool
}

// Ordered: patterns with explicit numbers first. The numeric rules must run
// before the keyword-only rules.
var separateSearchPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\(at\s+least\s+(\d+)\s+tool\s+call`),
	regexp.MustCompile(`(?i)at\s+least\s+(\d+)\s+(?:tool\s+)?(?:call|search)`),
	regexp.MustCompile(`(?i)(\d+)\s+(?:tool\s+)?(?:calls?|searches)`),
	regexp.MustCompile(`(?i)separate\s+(?:tool\s+)?search(?:es)?`),
	regexp.MustCompile(`(?i)search\s+(?:for\s+)?(?:each|separately|individually)`),
	regexp.MustCompile(`(?i)multiple\s+search(?:es)?`),
}

var quotedTopicPatterns = []*regexp.Regexp{
	regexp.MustCompile(`"([^"]+)"`),
	regexp.MustCompile(`'([^']+)'`),
	regexp.MustCompile("`([^`]+)`"),
}

var openCitationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)open\s+(?:the\s+)?(?:top\s+)?(\d+)\s+citation`),
	regexp.MustCompile(`(?i)open_citation.*?at\s+least\s+(\d+)`),
	regexp.MustCompile(`(?i)at\s+least\s+(\w+)\s+citations?`),
	regexp.MustCompile(`(?i)must\s+(?:call\s+)?open_citation`),
	regexp.MustCompile(`(?i)retrieve\s+(?:full\s+)?text`),
	regexp.MustCompile(`(?i)read\s+(?:the\s+)?(?:full|detailed|complete)\s+(?:text|content|chunk)`),
}

var wordToNum = map[string]int{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
}

var exactQuotePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)exact\s+(?:sql\s+)?(?:statement|query|line|text|quote)`),
	regexp.MustCompile(`(?i)quote\s+(?:one|the)\s+exact`),
	regexp.MustCompile(`(?i)verbatim`),
	regexp.MustCompile(`(?i)word[- ]for[- ]word`),
	regexp.MustCompile(`(?i)exact\s+(?:redirect\s+)?(?:uri|url)`),
	regexp.MustCompile(`(?i)copy\s+(?:the\s+)?exact`),
}

var quoteTypePatterns = []struct {
	re        *regexp.Regexp
	quoteType string
}{
	{regexp.MustCompile(`(?i)sql\s+statement`), "SQL statement"},
	{regexp.MustCompile(`(?i)redirect\s+uri`), "Redirect URI"},
	{regexp.MustCompile(`(?i)url\s+(?:line|config)`), "URL configuration"},
	{regexp.MustCompile(`(?i)command(?:\s+line)?`), "command"},
	{regexp.MustCompile(`(?i)config(?:uration)?\s+(?:line|entry)`), "configuration"},
}

var conflictResolutionPatterns = []struct {
	re   *regexp.Regexp
	rule string
}{
	{regexp.MustCompile(`(?i)newest[- ]?dated?\s+(?:doc|document|note)`), "newest"},
	{regexp.MustCompile(`(?i)most\s+recent`), "newest"},
	{regexp.MustCompile(`(?i)latest\s+(?:version|doc)`), "newest"},
	{regexp.MustCompile(`(?i)highest\s+priority`), "priority"},
	{regexp.MustCompile(`(?i)most\s+specific`), "specific"},
	{regexp.MustCompile(`(?i)resolve\s+conflicts?`), ""},
}

var sectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)sections?:\s*([^.]+)`),
	regexp.MustCompile(`(?i)include\s+(?:the\s+following\s+)?sections?:\s*([^.]+)`),
	regexp.MustCompile(`(?i)output\s+(?:should\s+)?(?:have|include)\s+([^.]+)`),
}

var insufficiencyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)insufficient\s+documentation`),
	regexp.MustCompile(`(?i)explicitly\s+(?:say|state|indicate)\s+(?:when\s+)?(?:information\s+is\s+)?missing`),
	regexp.MustCompile(`(?i)if\s+(?:not\s+found|missing|unavailable)`),
	regexp.MustCompile(`(?i)list\s+what\s+(?:was\s+)?(?:searched|tried)`),
}

var complexKeywords = []string{"runbook", "guide", "comprehensive", "authoritative", "detailed", "step-by-step", "checklist"}

var (
	searchListRe = regexp.MustCompile(`(?i)search\s+(?:for\s+)?([^.\n]+)`)
	listSplitRe  = regexp.MustCompile(`,\s*(?:and\s+)?|\s+and\s+`)
)

// AnalyzeConstraints mines a user question for implicit and explicit
// requirements. It never fails; an empty question yields the defaults.
func AnalyzeConstraints(question string) Constraints {
	constraints := Constraints{MinSearches: 1, EstimatedMinAnswerLength: 50}
	text := strings.ToLower(question)

	// Search requirements. First matching pattern wins; numeric rules are
	// ordered before keyword-only rules.
	for _, re := range separateSearchPatterns {
		match := re.FindStringSubmatch(text)
		if match == nil {
			continue
		}
		constraints.MinSearches = 2
		if len(match) > 1 && match[1] != "" {
			if n, err := strconv.Atoi(match[1]); err == nil {
				constraints.MinSearches = max(2, n)
			}
		}
		break
	}

	constraints.RequiredSearchTopics = extractQuotedTopics(question)

	if topicCount := countTopicIndicators(text); topicCount > 1 {
		constraints.MinSearches = max(constraints.MinSearches, min(topicCount, 5))
	}

	// open_citation requirements
	for _, re := range openCitationPatterns {
		match := re.FindStringSubmatch(text)
		if match == nil {
			continue
		}
		constraints.MinOpenCitations = 1
		if len(match) > 1 && match[1] != "" {
			if n, err := strconv.Atoi(match[1]); err == nil {
				constraints.MinOpenCitations = max(1, n)
			} else if n, ok := wordToNum[strings.ToLower(match[1])]; ok {
				constraints.MinOpenCitations = n
			}
		}
		break
	}

	// Exact quote requirements
	for _, re := range exactQuotePatterns {
		if re.MatchString(text) {
			constraints.RequiresExactQuote = true
			constraints.MinOpenCitations = max(constraints.MinOpenCitations, 1)
			break
		}
	}

	for _, p := range quoteTypePatterns {
		if p.re.MatchString(text) {
			constraints.ExactQuoteIndicators = append(constraints.ExactQuoteIndicators, p.quoteType)
		}
	}

	// Conflict resolution
	for _, p := range conflictResolutionPatterns {
		if p.re.MatchString(text) {
			constraints.RequiresConflictResolution = true
			constraints.ConflictResolutionRule = p.rule
			break
		}
	}

	// Required sections
	for _, re := range sectionPatterns {
		match := re.FindStringSubmatch(text)
		if match == nil {
			continue
		}
		for _, s := range listSplitRe.Split(match[1], -1) {
			if s = strings.TrimSpace(s); s != "" {
				constraints.RequiredSections = append(constraints.RequiredSections, s)
			}
		}
		break
	}

	// Insufficiency disclosure
	for _, re := range insufficiencyPatterns {
		if re.MatchString(text) {
			constraints.RequiresInsufficiencyDisclosure = true
			break
		}
	}

	// Complexity estimate drives the oracle token budget.
	minLength := 100

	if len(constraints.RequiredSections) > 0 {
		minLength += len(constraints.RequiredSections) * 150
		constraints.IsComplexQuery = true
	}

	if constraints.RequiresExactQuote {
		if len(constraints.ExactQuoteIndicators) > 0 {
			minLength += 100 * len(constraints.ExactQuoteIndicators)
		} else {
			minLength += 100
		}
	}

	if constraints.RequiresConflictResolution {
		minLength += 100
	}

	if constraints.MinSearches > 2 {
		minLength += 100
		constraints.IsComplexQuery = true
	}

	for _, kw := range complexKeywords {
		if strings.Contains(text, kw) {
			minLength += 200
			constraints.IsComplexQuery = true
			break
		}
	}

	constraints.EstimatedMinAnswerLength = min(minLength, 2000)

	return constraints
}

func extractQuotedTopics(text string) []string {
	var topics []string
	for _, re := range quotedTopicPatterns {
		for _, match := range re.FindAllStringSubmatch(text, -1) {
			topic := strings.TrimSpace(match[1])
			if len(topic) >= 3 && len(topic) <= 50 {
				topics = append(topics, topic)
			}
		}
	}
	return topics
}

// countTopicIndicators estimates how many distinct search topics the prompt
// names, from quoted strings and comma/"and"-separated lists in search context.
func countTopicIndicators(text string) int {
	count := len(extractQuotedTopics(text))

	if match := searchListRe.FindStringSubmatch(text); match != nil {
		parts := listSplitRe.Split(match[1], -1)
		if len(parts) > 1 {
			usable := 0
			for _, p := range parts {
				if len(strings.TrimSpace(p)) > 3 {
					usable++
				}
			}
			count = max(count, usable)
		}
	}

	return count
}

// SummarizeConstraints renders the active constraints as the REQUIREMENTS
// block embedded in iteration prompts and reprompt messages.
func SummarizeConstraints(c Constraints) string {
	var parts []string

	if c.MinSearches > 1 {
		parts = append(parts, fmt.Sprintf("Perform at least %d separate searches", c.MinSearches))
	}

	if len(c.RequiredSearchTopics) > 0 {
		topics := c.RequiredSearchTopics
		if len(topics) > 5 {
			topics = topics[:5]
		}
		quoted := make([]string, len(topics))
		for i, t := range topics {
			quoted[i] = fmt.Sprintf("%q", t)
		}
		parts = append(parts, "Search for these topics: "+strings.Join(quoted, ", "))
	}

	if c.MinOpenCitations > 0 {
		parts = append(parts, fmt.Sprintf("Open at least %d citation(s) to read full text", c.MinOpenCitations))
	}

	if c.RequiresExactQuote {
		if len(c.ExactQuoteIndicators) > 0 {
			parts = append(parts, "Quote exact text for: "+strings.Join(c.ExactQuoteIndicators, ", "))
		} else {
			parts = append(parts, "Include verbatim quotes from the documents")
		}
	}

	if c.RequiresConflictResolution {
		rule := c.ConflictResolutionRule
		if rule == "" {
			rule = "explicit rule"
		}
		parts = append(parts, "Resolve conflicts using "+rule)
	}

	if c.RequiresInsufficiencyDisclosure {
		parts = append(parts, "Explicitly state 'Insufficient documentation' where information is missing")
	}

	if len(parts) == 0 {
		return "No special constraints detected."
	}

	return "REQUIREMENTS:\n- " + strings.Join(parts, "\n- ")
}

package agent_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"docuchat.app/engine/internal/agent"
)

func issueCodes(issues []agent.ValidationIssue) []string {
	codes := make([]string, len(issues))
	for i, issue := range issues {
		codes[i] = issue.Code
	}
	return codes
}

var _ = Describe("Validate", func() {
	var (
		constraints agent.Constraints
		snapshot    agent.Snapshot
	)

	BeforeEach(func() {
		constraints = agent.Constraints{MinSearches: 1}
		snapshot = agent.Snapshot{
			SearchCount:         1,
			SearchQueries:       []string{"backup schedule"},
			OpenCitationCount:   1,
			OpenedCitationTexts: []string{"Backups run nightly at 02:00 UTC and are retained for 30 days."},
			SearchSnippets:      []string{"Backups run nightly at 02:00 UTC"},
		}
	})

	It("accepts a grounded answer", func() {
		result := agent.Validate("Backups run nightly at 02:00 UTC [1].", []int{1}, constraints, snapshot, nil)

		Expect(result.IsValid).To(BeTrue())
		Expect(result.Errors).To(BeEmpty())
	})

	Context("empty answers", func() {
		It("rejects a blank answer", func() {
			result := agent.Validate("   ", nil, constraints, snapshot, nil)

			Expect(result.IsValid).To(BeFalse())
			Expect(issueCodes(result.Errors)).To(ContainElement("EMPTY_ANSWER"))
		})

		It("warns on a bare don't-know when sources were retrieved", func() {
			result := agent.Validate("I don't know.", nil, constraints, snapshot, nil)

			Expect(result.IsValid).To(BeTrue())
			Expect(issueCodes(result.Warnings)).To(ContainElement("UNEXPLAINED_DONT_KNOW"))
		})

		It("allows an explained don't-know", func() {
			answer := "I don't know based on the provided documents. I searched for the backup schedule " +
				"and retention policy but neither document covers offsite replication."
			result := agent.Validate(answer, nil, constraints, snapshot, nil)

			Expect(issueCodes(result.Warnings)).ToNot(ContainElement("UNEXPLAINED_DONT_KNOW"))
		})
	})

	Context("search and citation minimums", func() {
		It("rejects when too few searches were performed", func() {
			constraints.MinSearches = 3
			constraints.RequiredSearchTopics = []string{"backup", "retention", "failover", "alerting"}

			result := agent.Validate("Backups run nightly [1].", []int{1}, constraints, snapshot, nil)

			Expect(result.IsValid).To(BeFalse())
			Expect(issueCodes(result.Errors)).To(ContainElement("MIN_SEARCHES_UNMET"))
			Expect(result.Errors[0].Message).To(ContainSubstring("Required at least 3 separate searches, but only 1 were performed"))
			Expect(result.Errors[0].Message).ToNot(ContainSubstring("alerting"))
		})

		It("rejects when too few citations were opened", func() {
			constraints.MinOpenCitations = 2

			result := agent.Validate("Backups run nightly [1].", []int{1}, constraints, snapshot, nil)

			Expect(result.IsValid).To(BeFalse())
			Expect(issueCodes(result.Errors)).To(ContainElement("MIN_OPEN_CITATIONS_UNMET"))
		})
	})

	Context("citation references", func() {
		It("warns on markers beyond the opened range", func() {
			result := agent.Validate("Backups run nightly [1] per policy [3].", []int{1, 3}, constraints, snapshot, nil)

			Expect(result.IsValid).To(BeTrue())
			Expect(issueCodes(result.Warnings)).To(ContainElement("INVALID_CITATION_REF"))
			Expect(issueCodes(result.Warnings)).To(ContainElement("HALLUCINATED_CITATION"))
		})
	})

	Context("grounded claims", func() {
		It("rejects technical claims with no retrieved context", func() {
			empty := agent.Snapshot{}
			result := agent.Validate("Run kubectl rollout restart on the deployment.", nil, constraints, empty, nil)

			Expect(result.IsValid).To(BeFalse())
			Expect(issueCodes(result.Errors)).To(ContainElement("UNGROUNDED_CLAIM_NO_CONTEXT"))
		})

		It("rejects suspicious terms absent from the corpus", func() {
			result := agent.Validate("Run vacuum analyze to fix this [1].", []int{1}, constraints, snapshot, nil)

			Expect(result.IsValid).To(BeFalse())
			Expect(issueCodes(result.Errors)).To(ContainElement("UNGROUNDED_CLAIM"))
			Expect(result.Errors[0].Message).To(ContainSubstring("'vacuum'"))
		})

		It("accepts suspicious terms that appear in the corpus", func() {
			snapshot.OpenedCitationTexts = []string{"After bulk deletes, run vacuum analyze on the bookings table."}

			result := agent.Validate("Run vacuum analyze on the bookings table [1].", []int{1}, constraints, snapshot, nil)

			Expect(result.IsValid).To(BeTrue())
		})

		It("lists at most three ungrounded terms", func() {
			result := agent.Validate("Use kubectl, helm, systemctl and ansible [1].", []int{1}, constraints, snapshot, nil)

			Expect(result.IsValid).To(BeFalse())
			Expect(result.Errors[0].Message).To(ContainSubstring("and 1 more"))
		})
	})

	Context("exact quote requirements", func() {
		BeforeEach(func() {
			constraints.RequiresExactQuote = true
			constraints.ExactQuoteIndicators = []string{"SQL statement"}
		})

		It("rejects when nothing was opened", func() {
			snapshot.OpenCitationCount = 0
			snapshot.OpenedCitationTexts = nil

			result := agent.Validate("The statement is SELECT 1.", nil, constraints, snapshot, nil)

			Expect(result.IsValid).To(BeFalse())
			Expect(issueCodes(result.Errors)).To(ContainElement("EXACT_QUOTE_NO_SOURCE"))
		})

		It("warns when the answer has no quoted text", func() {
			result := agent.Validate("The backup runs nightly [1].", []int{1}, constraints, snapshot, nil)

			Expect(result.IsValid).To(BeTrue())
			Expect(issueCodes(result.Warnings)).To(ContainElement("NO_QUOTED_TEXT"))
		})

		It("warns when the quote is not verbatim", func() {
			result := agent.Validate("Run `SELECT count(*) FROM bookings` first [1].", []int{1}, constraints, snapshot, nil)

			Expect(issueCodes(result.Warnings)).To(ContainElement("QUOTE_NOT_VERBATIM"))
		})

		It("accepts a verbatim quote ignoring whitespace differences", func() {
			snapshot.OpenedCitationTexts = []string{"Reindex with:\nREINDEX   INDEX CONCURRENTLY bookings_idx;"}

			result := agent.Validate("Run `REINDEX INDEX CONCURRENTLY bookings_idx;` [1].", []int{1}, constraints, snapshot, nil)

			Expect(issueCodes(result.Warnings)).ToNot(ContainElement("QUOTE_NOT_VERBATIM"))
		})
	})

	Context("insufficiency disclosure", func() {
		BeforeEach(func() {
			constraints.RequiresInsufficiencyDisclosure = true
		})

		It("warns when gaps are found but not disclosed", func() {
			insufficiencies := []agent.Insufficiency{{Section: "Alerting", Missing: "escalation contacts"}}

			result := agent.Validate("Backups run nightly [1].", []int{1}, constraints, snapshot, insufficiencies)

			Expect(issueCodes(result.Warnings)).To(ContainElement("MISSING_INSUFFICIENCY_DISCLOSURE"))
		})

		It("passes when the answer discloses the gap", func() {
			insufficiencies := []agent.Insufficiency{{Section: "Alerting", Missing: "escalation contacts"}}
			answer := "Backups run nightly [1]. Insufficient documentation for alerting escalation."

			result := agent.Validate(answer, []int{1}, constraints, snapshot, insufficiencies)

			Expect(issueCodes(result.Warnings)).ToNot(ContainElement("MISSING_INSUFFICIENCY_DISCLOSURE"))
		})
	})
})

var _ = Describe("ExtractCitationRefs", func() {
	It("returns every marker in order", func() {
		Expect(agent.ExtractCitationRefs("See [1], then [2], then [1] again.")).To(Equal([]int{1, 2, 1}))
	})

	It("returns nothing for an unmarked answer", func() {
		Expect(agent.ExtractCitationRefs("No markers here.")).To(BeEmpty())
	})
})

var _ = Describe("GenerateRepromptMessage", func() {
	var validation agent.ValidationResult

	BeforeEach(func() {
		validation = agent.Validate("", nil, agent.Constraints{MinSearches: 1}, agent.Snapshot{}, nil)
	})

	It("demands a tool call while budget remains", func() {
		message := agent.GenerateRepromptMessage(validation, 3)

		Expect(message).To(ContainSubstring("VALIDATION FAILED"))
		Expect(message).To(ContainSubstring("REMAINING TOOL BUDGET: 3 calls"))
		Expect(message).To(ContainSubstring("You MUST output a TOOL_CALL"))
		Expect(message).To(ContainSubstring("- Answer is empty."))
	})

	It("demands insufficiency notes when the budget is spent", func() {
		message := agent.GenerateRepromptMessage(validation, 0)

		Expect(message).To(ContainSubstring("Tool budget exhausted. Output FINAL with explicit insufficiency notes."))
		Expect(message).To(ContainSubstring(`"insufficiencies"`))
	})
})

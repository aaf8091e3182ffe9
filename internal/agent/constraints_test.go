package agent_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"docuchat.app/engine/internal/agent"
)

var _ = Describe("AnalyzeConstraints", func() {
	Context("with a plain question", func() {
		It("returns the defaults", func() {
			c := agent.AnalyzeConstraints("What is the backup schedule?")

			Expect(c.MinSearches).To(Equal(1))
			Expect(c.MinOpenCitations).To(Equal(0))
			Expect(c.RequiresExactQuote).To(BeFalse())
			Expect(c.RequiresConflictResolution).To(BeFalse())
			Expect(c.RequiresInsufficiencyDisclosure).To(BeFalse())
			Expect(c.IsComplexQuery).To(BeFalse())
			Expect(c.EstimatedMinAnswerLength).To(Equal(100))
		})
	})

	Context("search requirements", func() {
		It("extracts an explicit numeric search count", func() {
			c := agent.AnalyzeConstraints("Answer using at least 4 searches.")
			Expect(c.MinSearches).To(Equal(4))
		})

		It("extracts a numeric tool call count", func() {
			c := agent.AnalyzeConstraints("Use at least 3 tool calls before answering.")
			Expect(c.MinSearches).To(Equal(3))
			Expect(c.IsComplexQuery).To(BeTrue())
		})

		It("defaults to 2 for keyword-only separate search requests", func() {
			c := agent.AnalyzeConstraints("Run separate searches for both policies.")
			Expect(c.MinSearches).To(Equal(2))
		})

		It("never drops an explicit count below 2", func() {
			c := agent.AnalyzeConstraints("Use at least 1 search.")
			Expect(c.MinSearches).To(Equal(2))
		})

		It("extracts quoted search topics", func() {
			c := agent.AnalyzeConstraints(`Search for "backup policy" and "retention policy".`)

			Expect(c.RequiredSearchTopics).To(ConsistOf("backup policy", "retention policy"))
			Expect(c.MinSearches).To(Equal(2))
		})

		It("ignores quoted fragments shorter than 3 characters", func() {
			c := agent.AnalyzeConstraints(`Search for "ab" in the docs.`)
			Expect(c.RequiredSearchTopics).To(BeEmpty())
		})
	})

	Context("citation requirements", func() {
		It("extracts a numeric open count", func() {
			c := agent.AnalyzeConstraints("Open the top 2 citations before answering.")
			Expect(c.MinOpenCitations).To(Equal(2))
		})

		It("converts word numbers", func() {
			c := agent.AnalyzeConstraints("Read at least three citations in full.")
			Expect(c.MinOpenCitations).To(Equal(3))
		})

		It("requires one open when open_citation is demanded without a count", func() {
			c := agent.AnalyzeConstraints("You must call open_citation on the best match.")
			Expect(c.MinOpenCitations).To(Equal(1))
		})
	})

	Context("exact quote requirements", func() {
		It("detects an exact SQL statement request", func() {
			c := agent.AnalyzeConstraints("Give me the exact SQL statement used in the migration.")

			Expect(c.RequiresExactQuote).To(BeTrue())
			Expect(c.ExactQuoteIndicators).To(ContainElement("SQL statement"))
			Expect(c.MinOpenCitations).To(BeNumerically(">=", 1))
		})

		It("detects verbatim requests", func() {
			c := agent.AnalyzeConstraints("Quote the error message verbatim.")
			Expect(c.RequiresExactQuote).To(BeTrue())
		})
	})

	Context("conflict resolution", func() {
		It("detects the newest-dated rule", func() {
			c := agent.AnalyzeConstraints("If documents disagree, prefer the newest-dated document.")

			Expect(c.RequiresConflictResolution).To(BeTrue())
			Expect(c.ConflictResolutionRule).To(Equal("newest"))
		})

		It("detects a generic conflict request without a rule", func() {
			c := agent.AnalyzeConstraints("Resolve conflicts between the two runbooks.")

			Expect(c.RequiresConflictResolution).To(BeTrue())
			Expect(c.ConflictResolutionRule).To(Equal(""))
		})
	})

	Context("output structure", func() {
		It("extracts required sections", func() {
			c := agent.AnalyzeConstraints("Write a summary with sections: Overview, Steps, and Rollback.")

			Expect(c.RequiredSections).To(Equal([]string{"overview", "steps", "rollback"}))
			Expect(c.IsComplexQuery).To(BeTrue())
		})

		It("detects insufficiency disclosure requirements", func() {
			c := agent.AnalyzeConstraints("Explicitly say when information is missing.")
			Expect(c.RequiresInsufficiencyDisclosure).To(BeTrue())
		})
	})

	Context("complexity estimate", func() {
		It("flags runbook-style questions as complex", func() {
			c := agent.AnalyzeConstraints("Write a comprehensive runbook for database failover.")

			Expect(c.IsComplexQuery).To(BeTrue())
			Expect(c.EstimatedMinAnswerLength).To(BeNumerically(">=", 300))
		})

		It("caps the estimated length", func() {
			c := agent.AnalyzeConstraints(
				`Write a comprehensive step-by-step runbook with sections: ` +
					`Overview, Prereqs, Steps, Verification, Rollback, Contacts, Escalation, Appendix and more. ` +
					`Quote the exact SQL statement and exact redirect URI verbatim, ` +
					`resolve conflicts using the newest-dated document, using at least 5 searches.`)

			Expect(c.EstimatedMinAnswerLength).To(Equal(2000))
		})
	})
})

var _ = Describe("SummarizeConstraints", func() {
	It("reports no constraints for a plain question", func() {
		c := agent.AnalyzeConstraints("What is the backup schedule?")
		Expect(agent.SummarizeConstraints(c)).To(Equal("No special constraints detected."))
	})

	It("renders active constraints as a requirements block", func() {
		c := agent.AnalyzeConstraints(`Search for "alpha" and "beta" with at least 2 searches, open the top 2 citations, and quote the exact SQL statement.`)
		summary := agent.SummarizeConstraints(c)

		Expect(summary).To(HavePrefix("REQUIREMENTS:"))
		// Two quoted topics raise the search floor above the literal "at least 2".
		Expect(summary).To(ContainSubstring("Perform at least 4 separate searches"))
		Expect(summary).To(ContainSubstring(`"alpha"`))
		Expect(summary).To(ContainSubstring("Open at least 2 citation(s) to read full text"))
		Expect(summary).To(ContainSubstring("Quote exact text for: SQL statement"))
	})
})

package agent_test

import (
	"fmt"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"docuchat.app/engine/internal/agent"
)

var _ = Describe("State", func() {
	var state *agent.State

	BeforeEach(func() {
		state = agent.NewState(agent.Constraints{MinSearches: 1})
	})

	It("tracks the remaining tool budget", func() {
		Expect(state.RemainingToolBudget()).To(Equal(agent.MaxToolCalls))

		state.ToolCallsUsed = 3
		Expect(state.RemainingToolBudget()).To(Equal(agent.MaxToolCalls - 3))
	})

	Describe("AddSearchResults", func() {
		It("records the query and caps snippets", func() {
			state.AddSearchResults("backup schedule", []agent.SearchHit{
				{DocID: "d1", ChunkID: "c1", Snippet: strings.Repeat("s", 400)},
				{DocID: "d1", ChunkID: "c2", Snippet: "short", Filename: "ops.md"},
			})

			Expect(state.SearchCount()).To(Equal(1))
			Expect(state.SearchQueries()).To(Equal([]string{"backup schedule"}))
			Expect(state.SearchResults).To(HaveLen(2))
			Expect(state.SearchResults[0].Snippet).To(HaveLen(250))
			Expect(state.SearchResults[0].Filename).To(Equal("document"))
			Expect(state.SearchResults[1].Query).To(Equal("backup schedule"))
		})
	})

	Describe("AddOpenedCitation", func() {
		It("assigns sequential citation numbers", func() {
			first := state.AddOpenedCitation(agent.OpenedChunk{DocID: "d1", ChunkID: "c1", Text: "one"})
			second := state.AddOpenedCitation(agent.OpenedChunk{DocID: "d1", ChunkID: "c2", Text: "two"})

			Expect(first.CitationNum).To(Equal(1))
			Expect(second.CitationNum).To(Equal(2))
		})

		It("clips oversized chunk text", func() {
			citation := state.AddOpenedCitation(agent.OpenedChunk{
				DocID: "d1", ChunkID: "c1",
				Text: strings.Repeat("x", agent.MaxCitationTextForLLM+500),
			})

			Expect(citation.Text).To(HaveLen(agent.MaxCitationTextForLLM + 3))
			Expect(citation.Text).To(HaveSuffix("..."))
		})

		It("evicts the oldest citation from the window but keeps it resolvable", func() {
			for i := 1; i <= agent.MaxContextCitations+2; i++ {
				state.AddOpenedCitation(agent.OpenedChunk{
					DocID:   "d1",
					ChunkID: fmt.Sprintf("c%d", i),
					Text:    fmt.Sprintf("text %d", i),
				})
			}

			Expect(state.OpenedCitations).To(HaveLen(agent.MaxContextCitations))
			Expect(state.OpenedCitations[0].CitationNum).To(Equal(3))

			evicted, ok := state.CitationByNum(1)
			Expect(ok).To(BeTrue())
			Expect(evicted.ChunkID).To(Equal("c1"))

			all := state.AllOpenedCitations()
			Expect(all).To(HaveLen(agent.MaxContextCitations + 2))
			Expect(all[0].CitationNum).To(Equal(1))
		})
	})

	Describe("AddInsufficiency", func() {
		It("snapshots the queries tried so far", func() {
			state.AddSearchResults("alerting", nil)
			state.AddInsufficiency("Alerting", "escalation contacts")

			Expect(state.Insufficiencies).To(HaveLen(1))
			Expect(state.Insufficiencies[0].QueriesTried).To(Equal([]string{"alerting"}))
		})
	})

	Describe("BuildContextString", func() {
		It("reports when nothing was gathered", func() {
			Expect(state.BuildContextString()).To(Equal("(No information gathered yet)"))
		})

		It("renders search results with full identifiers", func() {
			state.AddSearchResults("backup schedule", []agent.SearchHit{
				{DocID: testDocID, ChunkID: testChunkID, Snippet: "Backups run nightly", Filename: "ops.md"},
			})
			state.AddOpenedCitation(agent.OpenedChunk{DocID: testDocID, ChunkID: testChunkID, Text: "full text", Filename: "ops.md"})
			state.Notes = append(state.Notes, "Tool error: chunk not found")

			rendered := state.BuildContextString()

			Expect(rendered).To(ContainSubstring("=== SEARCH RESULTS ==="))
			Expect(rendered).To(ContainSubstring("docId=" + testDocID))
			Expect(rendered).To(ContainSubstring("chunkId=" + testChunkID))
			Expect(rendered).To(ContainSubstring("=== OPENED CITATIONS (Full Text) ==="))
			Expect(rendered).To(ContainSubstring("[1] ops.md (chunk 0):"))
			Expect(rendered).To(ContainSubstring("=== NOTES ==="))
			Expect(rendered).To(ContainSubstring("- Tool error: chunk not found"))
		})
	})

	Describe("BuildAvailableCitationsList", func() {
		It("reports when nothing is opened", func() {
			Expect(state.BuildAvailableCitationsList()).To(Equal("(No citations opened yet)"))
		})

		It("lists opened citations with identifiers", func() {
			state.AddOpenedCitation(agent.OpenedChunk{DocID: "d1", ChunkID: "c1", ChunkIndex: 4, Filename: "ops.md"})

			list := state.BuildAvailableCitationsList()
			Expect(list).To(Equal("[1] docId=d1, chunkId=c1, chunkIndex=4, file=ops.md"))
		})
	})

	Describe("Snapshot", func() {
		It("exposes counts and texts for validation", func() {
			state.AddSearchResults("backup schedule", []agent.SearchHit{
				{DocID: "d1", ChunkID: "c1", Snippet: "snippet one"},
			})
			state.AddOpenedCitation(agent.OpenedChunk{DocID: "d1", ChunkID: "c1", Text: "full text"})

			snap := state.Snapshot()

			Expect(snap.SearchCount).To(Equal(1))
			Expect(snap.OpenCitationCount).To(Equal(1))
			Expect(snap.OpenedCitationTexts).To(Equal([]string{"full text"}))
			Expect(snap.SearchSnippets).To(Equal([]string{"snippet one"}))
		})
	})
})

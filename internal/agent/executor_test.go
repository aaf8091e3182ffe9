package agent_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"docuchat.app/engine/common/llm"
	"docuchat.app/engine/internal/agent"
)

const plannerResponse = `["Search for the relevant topic", "Open the top citations", "Synthesize the final answer"]`

func searchAction(query string) string {
	return fmt.Sprintf(`{"type":"tool_call","tool":"search_docs","input":{"query":%q}}`, query)
}

func openAction(docID, chunkID string) string {
	return fmt.Sprintf(`{"type":"tool_call","tool":"open_citation","input":{"docId":%q,"chunkId":%q}}`, docID, chunkID)
}

func traceTypes(trace []agent.TraceEntry) []string {
	types := make([]string, len(trace))
	for i, entry := range trace {
		types[i] = string(entry.Type)
	}
	return types
}

var _ = Describe("Executor", func() {
	var (
		ctx     context.Context
		oracle  *mockOracle
		tools   *mockToolClient
		planner *agent.Planner
		exec    *agent.Executor
	)

	BeforeEach(func() {
		ctx = context.Background()
		oracle = &mockOracle{}
		tools = &mockToolClient{
			searchFn: func(ctx context.Context, userID, query string, rerank bool) ([]agent.SearchHit, error) {
				return testHits(), nil
			},
			openFn: func(ctx context.Context, userID, docID, chunkID string) (*agent.OpenedChunk, error) {
				return testChunk(), nil
			},
		}
		planner = agent.NewPlanner(&mockOracle{responses: []string{plannerResponse}}, 300)
		exec = agent.NewExecutor(oracle, planner, tools, 600)
	})

	It("rejects an empty question", func() {
		_, err := exec.Run(ctx, "   ", "user-1", false)
		Expect(err).To(MatchError(agent.ErrEmptyQuestion))
	})

	It("truncates oversized questions before prompting", func() {
		oracle.responses = []string{`{"type":"final","answer":""}`}
		question := strings.Repeat("a", agent.MaxQuestionLength+100)

		_, err := exec.Run(ctx, question, "user-1", false)
		Expect(err).ToNot(HaveOccurred())

		Expect(oracle.prompts[0]).To(ContainSubstring(strings.Repeat("a", agent.MaxQuestionLength)))
		Expect(oracle.prompts[0]).ToNot(ContainSubstring(strings.Repeat("a", agent.MaxQuestionLength+1)))
	})

	It("truncates at a rune boundary when the cut lands mid-character", func() {
		oracle.responses = []string{`{"type":"final","answer":""}`}
		// The two-byte "é" straddles the byte limit; truncation must back off
		// rather than emit half a rune.
		question := strings.Repeat("a", agent.MaxQuestionLength-1) + "ééé"

		_, err := exec.Run(ctx, question, "user-1", false)
		Expect(err).ToNot(HaveOccurred())

		Expect(utf8.ValidString(oracle.prompts[0])).To(BeTrue())
		Expect(oracle.prompts[0]).ToNot(ContainSubstring("é"))
	})

	Context("happy path", func() {
		BeforeEach(func() {
			oracle.responses = []string{
				searchAction("connection pool limit"),
				openAction(testDocID, testChunkID),
				`{"type":"final","answer":"The connection pool limit defaults to 10 per replica [1].",` +
					`"used_citations":[{"docId":"` + testDocID + `","chunkId":"` + testChunkID + `","chunkIndex":0}]}`,
			}
		})

		It("searches, opens, answers, and grounds the citation", func() {
			result, err := exec.Run(ctx, "What is the connection pool limit?", "user-1", false)
			Expect(err).ToNot(HaveOccurred())

			Expect(result.Answer).To(Equal("The connection pool limit defaults to 10 per replica [1]."))
			Expect(result.ValidationPassed).To(BeTrue())
			Expect(result.ToolCallsUsed).To(Equal(2))

			Expect(result.Citations).To(HaveLen(1))
			Expect(result.Citations[0].DocID).To(Equal(testDocID))
			Expect(result.Citations[0].ChunkID).To(Equal(testChunkID))
			Expect(result.Citations[0].DocumentTitle).To(Equal("operations.md"))

			Expect(result.Trace[0].Type).To(Equal(agent.TracePlan))
			last := result.Trace[len(result.Trace)-1]
			Expect(last.Type).To(Equal(agent.TraceFinal))
			Expect(last.Notes).To(Equal("Validated with 1 citations"))
		})
	})

	Context("finalizing too early against a search minimum", func() {
		BeforeEach(func() {
			oracle.responses = []string{
				searchAction("backup policy"),
				openAction(testDocID, testChunkID),
				`{"type":"final","answer":"Backups run nightly [1]."}`,
				searchAction("retention policy"),
				`{"type":"final","answer":"Backups run nightly and are retained for 30 days [1]."}`,
			}
		})

		It("reprompts until the minimum is met", func() {
			result, err := exec.Run(ctx, "Compare the backup policy and retention policy using separate searches.", "user-1", false)
			Expect(err).ToNot(HaveOccurred())

			Expect(result.ValidationPassed).To(BeTrue())
			Expect(result.ToolCallsUsed).To(Equal(3))
			Expect(result.Answer).To(ContainSubstring("retained for 30 days"))

			types := traceTypes(result.Trace)
			Expect(types).To(ContainElement(string(agent.TraceValidation)))
			Expect(types).To(ContainElement(string(agent.TraceReprompt)))

			var validationEntry agent.TraceEntry
			for _, entry := range result.Trace {
				if entry.Type == agent.TraceValidation {
					validationEntry = entry
					break
				}
			}
			Expect(validationEntry.ValidationErrors).To(HaveLen(1))
			Expect(validationEntry.ValidationErrors[0]).To(ContainSubstring("Required at least 2 separate searches"))

			// The corrective message reaches the next prompt.
			Expect(oracle.prompts[3]).To(ContainSubstring("=== CORRECTION REQUIRED ==="))
			Expect(oracle.prompts[3]).To(ContainSubstring("VALIDATION FAILED"))
		})
	})

	Context("finalizing without opening anything", func() {
		BeforeEach(func() {
			oracle.responses = []string{
				searchAction("pool limit"),
				`{"type":"final","answer":"The limit is 10."}`,
				`{"type":"final","answer":"The connection pool limit defaults to 10 per replica [1]."}`,
			}
		})

		It("auto-opens top hits and forces another pass", func() {
			result, err := exec.Run(ctx, "What is the connection pool limit?", "user-1", false)
			Expect(err).ToNot(HaveOccurred())

			Expect(tools.openCalls).To(Equal(1))
			Expect(result.ValidationPassed).To(BeTrue())
			Expect(result.ToolCallsUsed).To(Equal(2))

			Expect(oracle.prompts[2]).To(ContainSubstring("I have now opened 1 citation(s) for you."))

			types := traceTypes(result.Trace)
			Expect(types).To(ContainElement(string(agent.TraceToolCall)))
		})
	})

	Context("hallucinated citation markers", func() {
		BeforeEach(func() {
			oracle.responses = []string{
				searchAction("pool limit"),
				openAction(testDocID, testChunkID),
				`{"type":"final","answer":"The limit is 10 [1], see also [4]."}`,
			}
		})

		It("strips markers that reference nothing", func() {
			result, err := exec.Run(ctx, "What is the connection pool limit?", "user-1", false)
			Expect(err).ToNot(HaveOccurred())

			// Warnings only, so the answer is accepted with [4] removed.
			Expect(result.ValidationPassed).To(BeTrue())
			Expect(result.Answer).To(ContainSubstring("[1]"))
			Expect(result.Answer).ToNot(ContainSubstring("[4]"))
			Expect(result.Citations).To(HaveLen(1))
		})
	})

	Context("ungrounded technical claims", func() {
		BeforeEach(func() {
			oracle.responses = []string{
				searchAction("pool limit"),
				openAction(testDocID, testChunkID),
				`{"type":"final","answer":"Run vacuum analyze on the database [1]."}`,
				`{"type":"final","answer":"The connection pool limit defaults to 10 per replica [1]."}`,
			}
		})

		It("reprompts until the claim is dropped", func() {
			result, err := exec.Run(ctx, "What is the connection pool limit?", "user-1", false)
			Expect(err).ToNot(HaveOccurred())

			Expect(result.ValidationPassed).To(BeTrue())
			Expect(result.Answer).ToNot(ContainSubstring("vacuum"))

			var validationEntry agent.TraceEntry
			for _, entry := range result.Trace {
				if entry.Type == agent.TraceValidation {
					validationEntry = entry
					break
				}
			}
			Expect(validationEntry.ValidationErrors[0]).To(ContainSubstring("These terms appear in the answer but not in any retrieved source"))
		})
	})

	Context("truncated identifiers in open_citation", func() {
		var receivedDocID, receivedChunkID string

		BeforeEach(func() {
			tools.openFn = func(ctx context.Context, userID, docID, chunkID string) (*agent.OpenedChunk, error) {
				receivedDocID = docID
				receivedChunkID = chunkID
				return testChunk(), nil
			}
			oracle.responses = []string{
				searchAction("pool limit"),
				openAction(testDocID[:8], testChunkID[:8]),
				`{"type":"final","answer":"The connection pool limit defaults to 10 per replica [1].",` +
					`"used_citations":[{"docId":"` + testDocID + `","chunkId":"` + testChunkID + `","chunkIndex":0}]}`,
			}
		})

		It("resolves them against search results before calling the tool", func() {
			result, err := exec.Run(ctx, "What is the connection pool limit?", "user-1", false)
			Expect(err).ToNot(HaveOccurred())

			Expect(receivedDocID).To(Equal(testDocID))
			Expect(receivedChunkID).To(Equal(testChunkID))
			Expect(result.Citations).To(HaveLen(1))
		})
	})

	Context("persistent malformed output", func() {
		BeforeEach(func() {
			oracle.responses = []string{
				"I would like to search the documents.",
				"Still thinking about what to do next.",
			}
		})

		It("gives up after two parse failures", func() {
			result, err := exec.Run(ctx, "What is the connection pool limit?", "user-1", false)
			Expect(err).ToNot(HaveOccurred())

			Expect(oracle.callCount).To(Equal(2))
			Expect(oracle.prompts[1]).To(ContainSubstring("Invalid JSON: No JSON object found in response"))
			Expect(result.Answer).To(Equal("I don't know based on the provided documents."))
		})
	})

	Context("oracle transport failure", func() {
		BeforeEach(func() {
			oracle.chatFn = func(ctx context.Context, req llm.AgentRequest) (*llm.AgentResponse, error) {
				return nil, errors.New("connection refused")
			}
		})

		It("records the error and falls back", func() {
			result, err := exec.Run(ctx, "What is the connection pool limit?", "user-1", false)
			Expect(err).ToNot(HaveOccurred())

			Expect(result.Answer).To(Equal("I don't know based on the provided documents."))

			var errorEntry agent.TraceEntry
			for _, entry := range result.Trace {
				if entry.Type == agent.TraceError {
					errorEntry = entry
					break
				}
			}
			Expect(errorEntry.Error).To(HavePrefix("LLM error: "))
		})
	})

	Context("tool budget exhaustion with gathered context", func() {
		BeforeEach(func() {
			oracle.chatFn = func(ctx context.Context, req llm.AgentRequest) (*llm.AgentResponse, error) {
				if strings.HasPrefix(req.Messages[0].Content, "Based on the gathered information") {
					return &llm.AgentResponse{Content: "Nightly backups run at 02:00 [1]."}, nil
				}
				return &llm.AgentResponse{Content: searchAction("backup schedule")}, nil
			}
		})

		It("synthesizes an answer from search snippets", func() {
			result, err := exec.Run(ctx, "What is the backup schedule?", "user-1", false)
			Expect(err).ToNot(HaveOccurred())

			Expect(result.ToolCallsUsed).To(Equal(agent.MaxToolCalls))
			Expect(result.Answer).To(Equal("Nightly backups run at 02:00 [1]."))
			Expect(result.ValidationPassed).To(BeFalse())
			Expect(result.Citations).To(HaveLen(3))

			last := result.Trace[len(result.Trace)-1]
			Expect(last.Type).To(Equal(agent.TraceFinal))
			Expect(last.Notes).To(Equal("Synthesized from 3 sources (exhaustion fallback)"))
		})
	})

	Context("exhaustion with nothing gathered", func() {
		BeforeEach(func() {
			tools.searchFn = func(ctx context.Context, userID, query string, rerank bool) ([]agent.SearchHit, error) {
				return nil, nil
			}
			oracle.responses = []string{searchAction("nonexistent topic")}
		})

		It("returns the don't-know answer", func() {
			result, err := exec.Run(ctx, "What is the flux capacitor spec?", "user-1", false)
			Expect(err).ToNot(HaveOccurred())

			Expect(result.ToolCallsUsed).To(Equal(agent.MaxToolCalls))
			Expect(result.Answer).To(Equal("I don't know based on the provided documents."))
			Expect(result.Citations).To(BeEmpty())

			last := result.Trace[len(result.Trace)-1]
			Expect(last.Type).To(Equal(agent.TraceFinal))
			Expect(last.Notes).To(Equal("No relevant sources found"))
		})
	})

	Context("max reprompts", func() {
		BeforeEach(func() {
			oracle.responses = []string{
				searchAction("backup policy"),
				openAction(testDocID, testChunkID),
				// Never performs the second search; every FINAL fails validation.
				`{"type":"final","answer":"Backups run nightly [1]."}`,
			}
		})

		It("accepts the answer after three failed validations", func() {
			result, err := exec.Run(ctx, "Compare the backup policy and retention policy using separate searches.", "user-1", false)
			Expect(err).ToNot(HaveOccurred())

			Expect(result.ValidationPassed).To(BeFalse())
			Expect(result.Answer).To(Equal("Backups run nightly [1]."))

			last := result.Trace[len(result.Trace)-1]
			Expect(last.Type).To(Equal(agent.TraceFinal))
			Expect(last.Notes).To(Equal("Accepted after max reprompts (may have validation issues)"))

			validations := 0
			for _, entry := range result.Trace {
				if entry.Type == agent.TraceValidation {
					validations++
				}
			}
			Expect(validations).To(Equal(agent.MaxReprompts))
		})
	})

	Context("insufficiencies", func() {
		BeforeEach(func() {
			oracle.responses = []string{
				searchAction("alerting"),
				openAction(testDocID, testChunkID),
				`{"type":"final","answer":"The pool limit is 10 [1]. Insufficient documentation for alerting.",` +
					`"insufficiencies":[{"section":"Alerting","missing":"escalation contacts","queries_tried":["alerting"]}]}`,
			}
		})

		It("carries the model's insufficiency disclosures into the result", func() {
			result, err := exec.Run(ctx, "Summarize alerting. Explicitly say when information is missing.", "user-1", false)
			Expect(err).ToNot(HaveOccurred())

			Expect(result.Insufficiencies).To(HaveLen(1))
			Expect(result.Insufficiencies[0].Section).To(Equal("Alerting"))
			Expect(result.Insufficiencies[0].QueriesTried).To(Equal([]string{"alerting"}))
		})
	})

	Describe("RunStream", func() {
		BeforeEach(func() {
			oracle.responses = []string{
				searchAction("pool limit"),
				openAction(testDocID, testChunkID),
				`{"type":"final","answer":"The connection pool limit defaults to 10 per replica [1]."}`,
			}
		})

		It("streams pseudo-entries to the sink without storing them", func() {
			var streamed []agent.TraceEntry
			result, err := exec.RunStream(ctx, "What is the connection pool limit?", "user-1", false, func(entry agent.TraceEntry) {
				streamed = append(streamed, entry)
			})
			Expect(err).ToNot(HaveOccurred())

			thinking := 0
			for _, entry := range streamed {
				if entry.Tool == "thinking" {
					thinking++
				}
			}
			Expect(thinking).To(BeNumerically(">=", 1))

			for _, entry := range result.Trace {
				Expect(entry.Tool).ToNot(Equal("thinking"))
				Expect(entry.Tool).ToNot(Equal("synthesizing"))
			}
			Expect(len(streamed)).To(BeNumerically(">", len(result.Trace)))
		})
	})
})

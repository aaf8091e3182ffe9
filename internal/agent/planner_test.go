package agent_test

import (
	"context"
	"errors"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"docuchat.app/engine/common/llm"
	"docuchat.app/engine/internal/agent"
)

var _ = Describe("Planner", func() {
	var (
		oracle  *mockOracle
		planner *agent.Planner
		ctx     context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		oracle = &mockOracle{}
		planner = agent.NewPlanner(oracle, 300)
	})

	Context("when the model returns a JSON array", func() {
		BeforeEach(func() {
			oracle.responses = []string{`["Search for 'backup schedule'", "Open the top citation", "Synthesize the answer"]`}
		})

		It("parses the steps", func() {
			plan := planner.GeneratePlan(ctx, "What is the backup schedule?")

			Expect(plan.IsFallback).To(BeFalse())
			Expect(plan.Steps).To(Equal([]string{
				"Search for 'backup schedule'",
				"Open the top citation",
				"Synthesize the answer",
			}))
			Expect(oracle.callCount).To(Equal(1))
		})
	})

	Context("when the model returns a numbered list", func() {
		BeforeEach(func() {
			oracle.responses = []string{"1. Search for backup schedule\n2. Open the best match\n3) Answer with citations"}
		})

		It("parses the steps", func() {
			plan := planner.GeneratePlan(ctx, "What is the backup schedule?")

			Expect(plan.IsFallback).To(BeFalse())
			Expect(plan.Steps).To(HaveLen(3))
			Expect(plan.Steps[2]).To(Equal("Answer with citations"))
		})
	})

	Context("when the model returns bullet points", func() {
		BeforeEach(func() {
			oracle.responses = []string{"- Search for the failover runbook\n- Synthesize the answer"}
		})

		It("parses the steps", func() {
			plan := planner.GeneratePlan(ctx, "How do I fail over?")

			Expect(plan.IsFallback).To(BeFalse())
			Expect(plan.Steps).To(HaveLen(2))
		})
	})

	Context("when the model returns more than five steps", func() {
		BeforeEach(func() {
			oracle.responses = []string{`["step one a", "step two b", "step three c", "step four d", "step five e", "step six f"]`}
		})

		It("truncates to five", func() {
			plan := planner.GeneratePlan(ctx, "question")

			Expect(plan.Steps).To(HaveLen(5))
			Expect(plan.Steps[4]).To(Equal("step five e"))
		})
	})

	Context("when a step is oversized", func() {
		BeforeEach(func() {
			oracle.responses = []string{`["` + strings.Repeat("x", 600) + `", "Synthesize the answer"]`}
		})

		It("clips it", func() {
			plan := planner.GeneratePlan(ctx, "question")

			Expect(plan.IsFallback).To(BeFalse())
			Expect(plan.Steps[0]).To(HaveLen(503))
			Expect(plan.Steps[0]).To(HaveSuffix("..."))
		})
	})

	Context("when the response is unparseable", func() {
		BeforeEach(func() {
			oracle.responses = []string{"short"}
		})

		It("falls back to the default plan", func() {
			plan := planner.GeneratePlan(ctx, "question")

			Expect(plan.IsFallback).To(BeTrue())
			Expect(plan.Steps).To(HaveLen(3))
		})
	})

	Context("when a step is too short", func() {
		BeforeEach(func() {
			oracle.responses = []string{`["ok", "Synthesize the answer with citations"]`}
		})

		It("falls back to the default plan", func() {
			plan := planner.GeneratePlan(ctx, "question")
			Expect(plan.IsFallback).To(BeTrue())
		})
	})

	Context("when the model call fails", func() {
		BeforeEach(func() {
			oracle.chatFn = func(ctx context.Context, req llm.AgentRequest) (*llm.AgentResponse, error) {
				return nil, errors.New("upstream timeout")
			}
		})

		It("falls back to the default plan", func() {
			plan := planner.GeneratePlan(ctx, "question")

			Expect(plan.IsFallback).To(BeTrue())
			Expect(plan.Steps).ToNot(BeEmpty())
		})
	})

	Context("when the question is empty", func() {
		It("falls back without calling the model", func() {
			plan := planner.GeneratePlan(ctx, "   ")

			Expect(plan.IsFallback).To(BeTrue())
			Expect(oracle.callCount).To(Equal(0))
		})
	})
})

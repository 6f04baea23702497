package domain_test

import (
	"context"
	"errors"

	"github.com/alex-galey/mission-mcp/internal/server-plugins/chain/domain"
	"github.com/alex-galey/mission-mcp/internal/shared/binding"
	"github.com/alex-galey/mission-mcp/internal/shared/toolstep"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Orchestrator", func() {
	var (
		backend      *MockBackend
		resolver     *MockResolver
		orchestrator *domain.Orchestrator
		ctx          context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		backend = NewMockBackend()
		resolver = &MockResolver{workflows: map[string]domain.SubWorkflow{}}
		orchestrator = domain.NewOrchestrator(resolver, toolstep.NewExecutor(backend, nil, createTestLogger()), createTestLogger())
	})

	It("makes a phase output visible to the next phase", func() {
		backend.invokeFunc = func(ctx context.Context, toolID string, inputs map[string]any) (*toolstep.Result, error) {
			if toolID == "produce" {
				return &toolstep.Result{Success: true, Outputs: map[string]any{"value": "hello"}}, nil
			}
			return echoResult(toolID, inputs), nil
		}

		producer := domain.SubWorkflow{
			ID:      "producer",
			Outputs: []binding.Asset{{Name: "localOut"}},
			Steps: []toolstep.ToolStep{
				toolstep.New("produce", "", binding.Mappings{}, binding.Mappings{"value": binding.AssetField{StateAsset: "localOut"}}),
			},
		}
		a := domain.Phase{ID: "A", Workflow: &producer, OutputsMapping: map[string]string{"localOut": "chainVar"}}
		b := echoPhase("B", "chainVar", "result")

		state := binding.NewState(binding.Asset{Name: "chainVar", Value: "", Role: binding.RoleInput})

		first, err := orchestrator.RunPhase(ctx, &a, state, toolstep.Hooks{})
		Expect(err).NotTo(HaveOccurred())
		Expect(first.Outputs).To(Equal(map[string]any{"localOut": "hello"}))
		Expect(first.State.Value("chainVar")).To(Equal("hello"))

		second, err := orchestrator.RunPhase(ctx, &b, first.State, toolstep.Hooks{})
		Expect(err).NotTo(HaveOccurred())
		Expect(second.State.Value("result")).To(Equal("tool-B(hello)"))
	})

	It("never modifies the chain state it is given", func() {
		p := echoPhase("a", "topic", "summary")
		state := binding.NewState(binding.Asset{Name: "topic", Value: "Go"})

		result, err := orchestrator.RunPhase(ctx, &p, state, toolstep.Hooks{})
		Expect(err).NotTo(HaveOccurred())
		Expect(state).NotTo(HaveKey("summary"))
		Expect(result.State.Value("summary")).To(Equal("tool-a(Go)"))
	})

	It("only hands the sub-workflow its declared inputs", func() {
		var seen map[string]any
		backend.invokeFunc = func(ctx context.Context, toolID string, inputs map[string]any) (*toolstep.Result, error) {
			seen = inputs
			return echoResult(toolID, inputs), nil
		}
		wf := echoWorkflow("wf", "peek")
		wf.Steps[0].ParameterMapping["secret"] = binding.AssetField{StateAsset: "secret"}
		p := domain.Phase{ID: "a", Workflow: &wf, InputsMapping: map[string]string{"in": "topic"}}

		state := binding.NewState(
			binding.Asset{Name: "topic", Value: "Go"},
			binding.Asset{Name: "secret", Value: "s3cr3t"},
		)
		_, err := orchestrator.RunPhase(ctx, &p, state, toolstep.Hooks{})

		Expect(binding.IsUnresolvedAssetError(err)).To(BeTrue())
		Expect(seen).To(BeNil())
	})

	It("fails when a required input has no value in the chain", func() {
		p := echoPhase("a", "topic", "summary")

		_, err := orchestrator.RunPhase(ctx, &p, binding.State{}, toolstep.Hooks{})

		var unresolved *binding.UnresolvedAssetError
		Expect(errors.As(err, &unresolved)).To(BeTrue())
		Expect(unresolved.Asset).To(Equal("topic"))
		Expect(backend.GetCallCount("tool-a")).To(Equal(0))
	})

	It("keeps the chain state when a step fails", func() {
		backend.invokeFunc = func(ctx context.Context, toolID string, inputs map[string]any) (*toolstep.Result, error) {
			return &toolstep.Result{Success: false, Error: "quota exceeded"}, nil
		}
		p := echoPhase("a", "topic", "summary")
		state := binding.NewState(binding.Asset{Name: "topic", Value: "Go"})

		result, err := orchestrator.RunPhase(ctx, &p, state, toolstep.Hooks{})

		Expect(binding.IsToolInvocationError(err)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("quota exceeded"))
		Expect(result.FailedStep).To(Equal(0))
		Expect(result.State).To(Equal(state))
	})

	Describe("workflow resolution", func() {
		It("resolves a referenced workflow once and caches it on the phase", func() {
			resolver.workflows["echo"] = echoWorkflow("echo", "tool-echo")
			p := domain.Phase{ID: "a", WorkflowRef: "echo", InputsMapping: map[string]string{"in": "topic"}, OutputsMapping: map[string]string{"out": "summary"}}

			_, err := orchestrator.ResolveWorkflow(ctx, &p)
			Expect(err).NotTo(HaveOccurred())
			Expect(p.Workflow).NotTo(BeNil())

			result, err := orchestrator.RunPhase(ctx, &p, binding.NewState(binding.Asset{Name: "topic", Value: "Go"}), toolstep.Hooks{})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.WorkflowID).To(Equal("echo"))
			Expect(resolver.Calls()).To(Equal(1))
		})

		It("reports unknown workflows", func() {
			p := domain.Phase{ID: "a", WorkflowRef: "missing"}

			_, err := orchestrator.ResolveWorkflow(ctx, &p)
			Expect(errors.Is(err, domain.ErrWorkflowNotFound)).To(BeTrue())
			Expect(domain.IsNotFound(err)).To(BeTrue())
		})

		It("rejects a resolved workflow without steps", func() {
			resolver.workflows["empty"] = domain.SubWorkflow{ID: "empty"}
			p := domain.Phase{ID: "a", WorkflowRef: "empty"}

			_, err := orchestrator.ResolveWorkflow(ctx, &p)
			Expect(binding.IsValidationError(err)).To(BeTrue())
			Expect(p.Workflow).To(BeNil())
		})
	})
})

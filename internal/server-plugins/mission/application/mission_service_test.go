package application_test

import (
	"context"
	"errors"

	"github.com/alex-galey/mission-mcp/internal/server-plugins/mission/application"
	"github.com/alex-galey/mission-mcp/internal/server-plugins/mission/domain"
	"github.com/alex-galey/mission-mcp/internal/shared/binding"
	"github.com/alex-galey/mission-mcp/internal/shared/toolstep"
	"github.com/alex-galey/mission-mcp/pkg/config"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func researchSpec() domain.MissionSpec {
	return domain.MissionSpec{
		Name:    "research",
		Goal:    "summarize a topic",
		Inputs:  []binding.Asset{{Name: "topic", Value: "go generics"}},
		Outputs: []binding.Asset{{Name: "summary"}},
	}
}

func summarizeHop(final bool) *domain.HopSpec {
	return &domain.HopSpec{
		Name:          "summarize",
		IsFinal:       final,
		InputMapping:  map[string]string{"topic": "topic"},
		OutputMapping: map[string]string{"summary": "summary"},
	}
}

func summarizeSteps() []toolstep.ToolStep {
	return []toolstep.ToolStep{
		{
			ToolID:           "search",
			ParameterMapping: binding.Mappings{"query": binding.AssetField{StateAsset: "topic"}},
			ResultMapping:    binding.Mappings{"hits": binding.AssetField{StateAsset: "stepOneResult"}},
		},
		{
			ToolID:           "summarize",
			ParameterMapping: binding.Mappings{"hits": binding.AssetField{StateAsset: "stepOneResult"}},
			ResultMapping:    binding.Mappings{"text": binding.AssetField{StateAsset: "summary"}},
		},
	}
}

func workingTools(ctx context.Context, toolID string, inputs map[string]any) (*toolstep.Result, error) {
	switch toolID {
	case "search":
		return &toolstep.Result{Success: true, Outputs: map[string]any{"hits": []any{"a", "b"}}}, nil
	case "summarize":
		return &toolstep.Result{Success: true, Outputs: map[string]any{"text": "two hits"}}, nil
	}
	return &toolstep.Result{Success: false, Error: "unknown tool"}, nil
}

// prepareHop creates an accepted mission whose current hop is IMPL_READY.
func prepareHop(env testEnv, final bool) (string, string) {
	ctx := context.Background()
	rec, err := env.service.CreateMission(ctx, researchSpec())
	Expect(err).NotTo(HaveOccurred())
	_, err = env.service.AcceptMissionProposal(ctx, rec.ID)
	Expect(err).NotTo(HaveOccurred())

	rec, err = env.service.AcceptHopProposal(ctx, rec.ID, "", summarizeHop(final))
	Expect(err).NotTo(HaveOccurred())
	Expect(rec.CurrentHop).NotTo(BeNil())
	Expect(rec.CurrentHop.Status).To(Equal(domain.HopStatusPlanReady))

	rec, err = env.service.AcceptHopImplementation(ctx, rec.ID, rec.CurrentHop.ID, summarizeSteps())
	Expect(err).NotTo(HaveOccurred())
	Expect(rec.CurrentHop.Status).To(Equal(domain.HopStatusImplReady))
	return rec.ID, rec.CurrentHop.ID
}

var _ = Describe("MissionService", func() {
	var (
		env testEnv
		ctx context.Context
	)

	BeforeEach(func() {
		env = newTestEnv(config.ExecutionConfig{}, nil)
		ctx = context.Background()
	})

	It("should run a hop and resolve it into the mission", func() {
		env.backend.SetInvokeFunc(workingTools)
		missionID, hopID := prepareHop(env, true)

		report, err := env.service.StartHopExecution(ctx, missionID, hopID)
		Expect(err).NotTo(HaveOccurred())
		Expect(report.Resolved).To(BeTrue())
		Expect(report.Error).To(BeEmpty())
		Expect(report.Hop.Status).To(Equal(domain.HopStatusReadyToResolve))

		Expect(report.Mission.Status).To(Equal(domain.MissionStatusCompleted))
		Expect(report.Mission.CurrentHop).To(BeNil())
		Expect(report.Mission.HopHistory).To(HaveLen(1))
		Expect(report.Mission.Assets).To(ContainElement(And(
			HaveField("ID", "summary"),
			HaveField("Value", "two hits"),
		)))
	})

	It("should never run step 2 when step 1 fails", func() {
		env.backend.SetInvokeFunc(func(ctx context.Context, toolID string, inputs map[string]any) (*toolstep.Result, error) {
			return &toolstep.Result{Success: false, Error: "search index offline"}, nil
		})
		missionID, hopID := prepareHop(env, false)

		report, err := env.service.StartHopExecution(ctx, missionID, hopID)
		Expect(err).NotTo(HaveOccurred())
		Expect(report.Resolved).To(BeFalse())
		Expect(report.ErrorCode).To(Equal(binding.CodeToolInvocationFailed))
		Expect(report.Error).To(ContainSubstring("search index offline"))
		Expect(report.FailedStep).To(Equal(0))

		Expect(env.backend.GetCallCount("summarize")).To(Equal(0))
		Expect(report.Hop.Status).To(Equal(domain.HopStatusFailed))
		Expect(report.Hop.Steps[1].Status).To(Equal(toolstep.StatusPending))
		Expect(report.Mission.Status).To(Equal(domain.MissionStatusInProgress))
		Expect(report.Mission.CurrentHop).NotTo(BeNil())
	})

	It("should resume a failed hop from the failed step", func() {
		env.backend.SetInvokeFunc(func(ctx context.Context, toolID string, inputs map[string]any) (*toolstep.Result, error) {
			if toolID == "summarize" {
				return nil, errors.New("timeout")
			}
			return workingTools(ctx, toolID, inputs)
		})
		missionID, hopID := prepareHop(env, false)

		report, err := env.service.StartHopExecution(ctx, missionID, hopID)
		Expect(err).NotTo(HaveOccurred())
		Expect(report.FailedStep).To(Equal(1))

		env.backend.SetInvokeFunc(workingTools)
		report, err = env.service.RetryHopExecution(ctx, missionID, hopID, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(report.Resolved).To(BeTrue())
		Expect(env.backend.GetCallCount("search")).To(Equal(1))
		Expect(env.backend.GetCallCount("summarize")).To(Equal(2))
	})

	It("should rerun the producing step when a retried hop finished with incomplete outputs", func() {
		env.backend.SetInvokeFunc(func(ctx context.Context, toolID string, inputs map[string]any) (*toolstep.Result, error) {
			if toolID == "summarize" && env.backend.GetCallCount("summarize") == 1 {
				return &toolstep.Result{Success: true, Outputs: map[string]any{"text": nil}}, nil
			}
			return workingTools(ctx, toolID, inputs)
		})
		missionID, hopID := prepareHop(env, false)

		report, err := env.service.StartHopExecution(ctx, missionID, hopID)
		Expect(err).NotTo(HaveOccurred())
		Expect(report.ErrorCode).To(Equal(application.CodeIncompleteOutputs))
		Expect(report.Hop.Status).To(Equal(domain.HopStatusFailed))
		Expect(report.Hop.Error).To(ContainSubstring("retry_hop_execution"))

		report, err = env.service.RetryHopExecution(ctx, missionID, hopID, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(report.Error).To(BeEmpty())
		Expect(report.Resolved).To(BeTrue())
		Expect(env.backend.GetCallCount("search")).To(Equal(1))
		Expect(env.backend.GetCallCount("summarize")).To(Equal(2))
	})

	It("should restart every step when asked to", func() {
		env.backend.SetInvokeFunc(func(ctx context.Context, toolID string, inputs map[string]any) (*toolstep.Result, error) {
			if toolID == "summarize" {
				return nil, errors.New("timeout")
			}
			return workingTools(ctx, toolID, inputs)
		})
		missionID, hopID := prepareHop(env, false)
		_, err := env.service.StartHopExecution(ctx, missionID, hopID)
		Expect(err).NotTo(HaveOccurred())

		env.backend.SetInvokeFunc(workingTools)
		_, err = env.service.RetryHopExecution(ctx, missionID, hopID, domain.RetryRestart)
		Expect(err).NotTo(HaveOccurred())
		Expect(env.backend.GetCallCount("search")).To(Equal(2))
	})

	It("should rewrite malformed results into guidance", func() {
		env.backend.SetInvokeFunc(func(ctx context.Context, toolID string, inputs map[string]any) (*toolstep.Result, error) {
			return &toolstep.Result{Success: true, Outputs: map[string]any{"unexpected": 1}}, nil
		})
		missionID, hopID := prepareHop(env, false)

		report, err := env.service.StartHopExecution(ctx, missionID, hopID)
		Expect(err).NotTo(HaveOccurred())
		Expect(report.ErrorCode).To(Equal(binding.CodeMalformedResult))
		Expect(report.Guidance).NotTo(BeEmpty())
	})

	It("should fail the mission on hop failure when the policy says so", func() {
		env = newTestEnv(config.ExecutionConfig{FailMissionOnHopFailure: true}, nil)
		env.backend.SetInvokeFunc(func(ctx context.Context, toolID string, inputs map[string]any) (*toolstep.Result, error) {
			return nil, errors.New("boom")
		})
		missionID, hopID := prepareHop(env, false)

		report, err := env.service.StartHopExecution(ctx, missionID, hopID)
		Expect(err).NotTo(HaveOccurred())
		Expect(report.Mission.Status).To(Equal(domain.MissionStatusFailed))
		Expect(report.Mission.CurrentHop).To(BeNil())
		Expect(report.Mission.EscalatedHop).NotTo(BeNil())
		Expect(report.Hop.Status).To(Equal(domain.HopStatusFailed))
	})

	It("should drop the result of a step in flight when the hop is failed concurrently", func() {
		started := make(chan struct{})
		release := make(chan struct{})
		env.backend.SetInvokeFunc(func(ctx context.Context, toolID string, inputs map[string]any) (*toolstep.Result, error) {
			if toolID == "search" {
				close(started)
				<-release
			}
			return workingTools(ctx, toolID, inputs)
		})
		missionID, hopID := prepareHop(env, false)

		done := make(chan application.ExecutionReport, 1)
		go func() {
			defer GinkgoRecover()
			report, err := env.service.StartHopExecution(ctx, missionID, hopID)
			Expect(err).NotTo(HaveOccurred())
			done <- report
		}()

		Eventually(started).Should(BeClosed())
		rec, err := env.service.FailHopExecution(ctx, missionID, hopID, "operator abort")
		Expect(err).NotTo(HaveOccurred())
		Expect(rec.CurrentHop.Status).To(Equal(domain.HopStatusFailed))
		close(release)

		var report application.ExecutionReport
		Eventually(done).Should(Receive(&report))
		Expect(report.Hop.Status).To(Equal(domain.HopStatusFailed))
		Expect(report.Hop.Error).To(Equal("operator abort"))
		Expect(env.backend.GetCallCount("summarize")).To(Equal(0))

		for _, asset := range report.Hop.State {
			Expect(asset.Name).NotTo(Equal("stepOneResult"))
		}
	})

	It("should validate steps against the tool catalog before touching the hop", func() {
		env = newTestEnv(config.ExecutionConfig{}, &MockCatalog{tools: []toolstep.ToolSpec{
			{ID: "search", Required: []string{"query", "limit"}},
			{ID: "summarize"},
		}})
		rec, err := env.service.CreateMission(ctx, researchSpec())
		Expect(err).NotTo(HaveOccurred())
		_, err = env.service.AcceptMissionProposal(ctx, rec.ID)
		Expect(err).NotTo(HaveOccurred())
		rec, err = env.service.AcceptHopProposal(ctx, rec.ID, "", summarizeHop(false))
		Expect(err).NotTo(HaveOccurred())

		_, err = env.service.AcceptHopImplementation(ctx, rec.ID, rec.CurrentHop.ID, summarizeSteps())
		Expect(binding.IsValidationError(err)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("limit"))

		after, err := env.service.GetMission(ctx, rec.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(after.CurrentHop.Status).To(Equal(domain.HopStatusPlanReady))
		Expect(after.Revision).To(Equal(rec.Revision))
	})

	It("should support a separate hop proposal and acceptance", func() {
		rec, err := env.service.CreateMission(ctx, researchSpec())
		Expect(err).NotTo(HaveOccurred())
		_, err = env.service.AcceptMissionProposal(ctx, rec.ID)
		Expect(err).NotTo(HaveOccurred())

		rec, err = env.service.ProposeHop(ctx, rec.ID, *summarizeHop(false))
		Expect(err).NotTo(HaveOccurred())
		Expect(rec.ProposedHop).NotTo(BeNil())
		Expect(rec.CurrentHop).To(BeNil())

		rec, err = env.service.AcceptHopProposal(ctx, rec.ID, rec.ProposedHop.ID, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(rec.CurrentHop).NotTo(BeNil())

		rec, err = env.service.ProposeHopImplementation(ctx, rec.ID, rec.CurrentHop.ID, summarizeSteps())
		Expect(err).NotTo(HaveOccurred())
		Expect(rec.CurrentHop.Status).To(Equal(domain.HopStatusImplProposed))

		rec, err = env.service.AcceptHopImplementation(ctx, rec.ID, rec.CurrentHop.ID, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(rec.CurrentHop.Status).To(Equal(domain.HopStatusImplReady))
	})

	It("should map errors to stable codes", func() {
		_, err := env.service.AcceptMissionProposal(ctx, "missing")
		Expect(application.ErrorCode(err)).To(Equal(application.CodeNotFound))

		rec, _ := env.service.CreateMission(ctx, researchSpec())
		_, err = env.service.StartHopExecution(ctx, rec.ID, "nope")
		Expect(application.ErrorCode(err)).To(Equal(application.CodeInvalidTransition))

		_, err = env.service.Escalate(ctx, rec.ID, "stuck")
		Expect(err).NotTo(HaveOccurred())
	})

	It("should record every command in the audit history", func() {
		env.backend.SetInvokeFunc(workingTools)
		missionID, hopID := prepareHop(env, true)
		_, err := env.service.StartHopExecution(ctx, missionID, hopID)
		Expect(err).NotTo(HaveOccurred())

		actions := []string{}
		for _, e := range env.sink.History(missionID) {
			actions = append(actions, e.Action)
		}
		Expect(actions).To(Equal([]string{
			"create_mission",
			"accept_mission_proposal",
			"accept_hop_proposal",
			"accept_hop_implementation",
			"start_hop_execution",
			"resolve_hop",
		}))
	})

	Describe("snapshots", func() {
		It("should export and import a mission with its payload history", func() {
			env.backend.SetInvokeFunc(workingTools)
			missionID, _ := prepareHop(env, false)

			data, err := env.service.ExportSnapshot(ctx, missionID)
			Expect(err).NotTo(HaveOccurred())

			other := newTestEnv(config.ExecutionConfig{}, nil)
			rec, err := other.service.ImportSnapshot(ctx, data, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.ID).To(Equal(missionID))
			Expect(rec.CurrentHop.Status).To(Equal(domain.HopStatusImplReady))

			history := other.sink.History(missionID)
			Expect(history).NotTo(BeEmpty())
			Expect(history[0].Action).To(Equal("create_mission"))
			Expect(history[len(history)-1].Action).To(Equal("import_mission_snapshot"))

			other.backend.SetInvokeFunc(workingTools)
			report, err := other.service.StartHopExecution(ctx, missionID, rec.CurrentHop.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Resolved).To(BeTrue())
		})

		It("should refuse to overwrite an existing mission unless asked", func() {
			missionID, _ := prepareHop(env, false)
			data, err := env.service.ExportSnapshot(ctx, missionID)
			Expect(err).NotTo(HaveOccurred())

			_, err = env.service.ImportSnapshot(ctx, data, false)
			Expect(errors.Is(err, domain.ErrMissionAlreadyExists)).To(BeTrue())
			Expect(application.ErrorCode(err)).To(Equal(application.CodeConflict))

			_, err = env.service.ImportSnapshot(ctx, data, true)
			Expect(err).NotTo(HaveOccurred())
		})

		It("should keep a mission imported while one of its hops is running", func() {
			started := make(chan struct{})
			release := make(chan struct{})
			env.backend.SetInvokeFunc(func(ctx context.Context, toolID string, inputs map[string]any) (*toolstep.Result, error) {
				if toolID == "search" {
					close(started)
					<-release
				}
				return workingTools(ctx, toolID, inputs)
			})
			missionID, hopID := prepareHop(env, false)
			data, err := env.service.ExportSnapshot(ctx, missionID)
			Expect(err).NotTo(HaveOccurred())

			done := make(chan application.ExecutionReport, 1)
			go func() {
				defer GinkgoRecover()
				report, err := env.service.StartHopExecution(ctx, missionID, hopID)
				Expect(err).NotTo(HaveOccurred())
				done <- report
			}()

			Eventually(started).Should(BeClosed())
			imported, err := env.service.ImportSnapshot(ctx, data, true)
			Expect(err).NotTo(HaveOccurred())
			Expect(imported.CurrentHop.Status).To(Equal(domain.HopStatusImplReady))
			close(release)

			var report application.ExecutionReport
			Eventually(done).Should(Receive(&report))
			Expect(report.Resolved).To(BeFalse())
			Expect(report.ErrorCode).To(Equal(application.CodeConflict))
			Expect(env.backend.GetCallCount("summarize")).To(Equal(0))

			rec, err := env.service.GetMission(ctx, missionID)
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.CurrentHop).NotTo(BeNil())
			Expect(rec.CurrentHop.Status).To(Equal(domain.HopStatusImplReady))
			Expect(rec.HopHistory).To(BeEmpty())

			env.backend.SetInvokeFunc(workingTools)
			report, err = env.service.StartHopExecution(ctx, missionID, hopID)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Hop.Status).To(Equal(domain.HopStatusReadyToResolve))
		})

		It("should reject malformed snapshots without storing anything", func() {
			_, err := env.service.ImportSnapshot(ctx, []byte(`{"mission": {}}`), false)
			Expect(binding.IsValidationError(err)).To(BeTrue())

			missions, err := env.service.ListMissions(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(missions).To(BeEmpty())
		})
	})
})

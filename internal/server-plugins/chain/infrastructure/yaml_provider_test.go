package infrastructure_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/alex-galey/mission-mcp/internal/server-plugins/chain/domain"
	"github.com/alex-galey/mission-mcp/internal/server-plugins/chain/infrastructure"
	"github.com/alex-galey/mission-mcp/internal/shared/binding"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const researchChain = `id: research
name: Research
description: Gather notes then summarize them
state:
  - id: topic
    name: topic
    role: input
    schema:
      type: string
  - id: final_answer
    name: final_answer
    role: output
    schema:
      type: string
phases:
  - id: gather
    label: Gather notes
    workflow_ref: gather_notes
    inputs_mapping:
      query: topic
    outputs_mapping:
      notes: notes
  - id: summarize
    label: Summarize
    workflow_ref: summarize
    outputs_mapping:
      summary: final_answer
`

const gatherWorkflow = `id: gather_notes
name: Gather notes
inputs:
  - name: query
    required: true
    schema:
      type: string
outputs:
  - name: notes
    schema:
      type: string
steps:
  - tool_id: render_template
    description: Render the note
    parameter_mapping:
      template:
        type: literal
        value: "Notes on {{query}}"
      query:
        type: asset_field
        state_asset: query
    result_mapping:
      text:
        type: asset_field
        state_asset: notes
`

var _ = Describe("YAMLDefinitionProvider", func() {
	var (
		provider     *infrastructure.YAMLDefinitionProvider
		chainsDir    string
		workflowsDir string
		ctx          context.Context
	)

	write := func(dir, name, content string) {
		Expect(os.WriteFile(filepath.Join(dir, name), []byte(content), 0644)).To(Succeed())
	}

	BeforeEach(func() {
		ctx = context.Background()
		tempDir := GinkgoT().TempDir()
		chainsDir = filepath.Join(tempDir, "chains")
		workflowsDir = filepath.Join(tempDir, "workflows")
		Expect(os.MkdirAll(chainsDir, 0755)).To(Succeed())
		Expect(os.MkdirAll(workflowsDir, 0755)).To(Succeed())

		provider = infrastructure.NewYAMLDefinitionProvider(chainsDir, workflowsDir, createTestLogger())
	})

	Describe("ListChains", func() {
		It("should return an empty list for an empty directory", func() {
			chains, err := provider.ListChains(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(chains).To(BeEmpty())
		})

		It("should treat missing directories as empty", func() {
			provider = infrastructure.NewYAMLDefinitionProvider("/nonexistent/chains", "/nonexistent/workflows", createTestLogger())

			chains, err := provider.ListChains(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(chains).To(BeEmpty())
		})

		It("should parse chain files and skip other files", func() {
			write(chainsDir, "research.yaml", researchChain)
			write(chainsDir, "README.md", "# not a chain")

			chains, err := provider.ListChains(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(chains).To(HaveLen(1))

			chain := chains[0]
			Expect(chain.ID).To(Equal("research"))
			Expect(chain.Phases).To(HaveLen(2))
			Expect(chain.Phases[0].WorkflowRef).To(Equal("gather_notes"))
			Expect(chain.Phases[0].ChainVariable("query")).To(Equal("topic"))
			Expect(chain.Phases[1].OutputsMapping).To(HaveKeyWithValue("summary", "final_answer"))
			Expect(chain.State[1].Role).To(Equal(binding.RoleOutput))
		})

		It("should reject an invalid chain file", func() {
			write(chainsDir, "broken.yml", "id: broken\nphases: []\n")

			_, err := provider.ListChains(ctx)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("broken.yml"))
		})

		It("should reject malformed YAML", func() {
			write(chainsDir, "bad.yaml", "id: [unterminated")

			_, err := provider.ListChains(ctx)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("failed to parse YAML"))
		})

		It("should include registered chains", func() {
			write(chainsDir, "research.yaml", researchChain)
			inline := domain.AgentWorkflowChain{
				ID:     "adhoc",
				Phases: []domain.Phase{{ID: "only", WorkflowRef: "gather_notes"}},
			}
			Expect(provider.Register(inline)).To(Succeed())

			chains, err := provider.ListChains(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(chains).To(HaveLen(2))
			Expect(chains[0].ID).To(Equal("adhoc"))
		})

		It("should refuse to register an invalid chain", func() {
			err := provider.Register(domain.AgentWorkflowChain{ID: "x"})
			Expect(binding.IsValidationError(err)).To(BeTrue())
		})
	})

	Describe("GetChain", func() {
		It("should find a chain by id", func() {
			write(chainsDir, "research.yaml", researchChain)

			chain, err := provider.GetChain(ctx, "research")
			Expect(err).NotTo(HaveOccurred())
			Expect(chain.Name).To(Equal("Research"))
		})

		It("should report unknown chains", func() {
			_, err := provider.GetChain(ctx, "ghost")
			Expect(errors.Is(err, domain.ErrChainNotFound)).To(BeTrue())
		})
	})

	Describe("ResolveWorkflow", func() {
		It("should load a workflow with its mappings", func() {
			write(workflowsDir, "gather.yaml", gatherWorkflow)

			wf, err := provider.ResolveWorkflow(ctx, "gather_notes")
			Expect(err).NotTo(HaveOccurred())
			Expect(wf.Validate()).To(Succeed())
			Expect(wf.Inputs[0].Required).To(BeTrue())
			Expect(wf.Steps).To(HaveLen(1))

			step := wf.Steps[0]
			Expect(step.ToolID).To(Equal("render_template"))
			Expect(step.ParameterMapping["template"]).To(Equal(binding.Literal{Value: "Notes on {{query}}"}))
			Expect(step.ParameterMapping["query"]).To(Equal(binding.AssetField{StateAsset: "query"}))
			Expect(step.ResultMapping["text"]).To(Equal(binding.AssetField{StateAsset: "notes"}))
		})

		It("should report unknown workflows", func() {
			write(workflowsDir, "gather.yaml", gatherWorkflow)

			_, err := provider.ResolveWorkflow(ctx, "ghost")
			Expect(errors.Is(err, domain.ErrWorkflowNotFound)).To(BeTrue())
		})
	})
})

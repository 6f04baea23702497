package chain_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	mcpserver "github.com/alex-galey/mission-mcp/internal/server"
	"github.com/alex-galey/mission-mcp/internal/server-plugins/chain"
	"github.com/alex-galey/mission-mcp/internal/server-plugins/chain/domain"
	"github.com/alex-galey/mission-mcp/internal/shared/toolstep"
	"github.com/mark3labs/mcp-go/mcp"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// summaryChain renders a summary of topic into final_answer through one inline phase.
const summaryChain = `{
	"id": "summary",
	"name": "Summary",
	"state": [
		{"id": "topic", "name": "topic", "role": "input", "schema": {"type": "string"}},
		{"id": "final_answer", "name": "final_answer", "role": "output", "schema": {"type": "string"}}
	],
	"phases": [{
		"id": "write",
		"label": "Write summary",
		"workflow": {
			"id": "write_summary",
			"name": "Write summary",
			"inputs": [{"name": "topic", "required": true, "schema": {"type": "string"}}],
			"outputs": [{"name": "summary", "schema": {"type": "string"}}],
			"steps": [{
				"tool_id": "%s",
				"description": "Render",
				"parameter_mapping": {
					"template": {"type": "literal", "value": "Summary of {{topic}}"},
					"topic": {"type": "asset_field", "state_asset": "topic"}
				},
				"result_mapping": {
					"text": {"type": "asset_field", "state_asset": "summary"}
				}
			}]
		},
		"outputs_mapping": {"summary": "final_answer"}
	}]
}`

func chainJSON(tool string) string {
	return fmt.Sprintf(summaryChain, tool)
}

var _ = Describe("ChainServerPlugin", func() {
	var env *testEnv

	BeforeEach(func() {
		env = newTestEnv()
	})

	Describe("Plugin metadata", func() {
		It("should expose the chain tools", func() {
			Expect(env.plugin.ID()).To(Equal("chain"))

			tools, err := env.plugin.GetTools(context.Background())
			Expect(err).NotTo(HaveOccurred())

			names := make([]string, 0, len(tools))
			for _, t := range tools {
				names = append(names, t.Name)
			}
			Expect(names).To(ConsistOf(
				"execute_workflow_chain",
				"cancel_execution",
				"get_job_status",
				"get_job_events",
				"list_workflow_chains",
			))
		})
	})

	Describe("execute_workflow_chain", func() {
		It("should run an inline chain to completion when waiting", func() {
			resp := callTool(env.plugin, "execute_workflow_chain",
				`{"chain": `+chainJSON("render_template")+`, "inputs": {"topic": "Go"}, "wait": true}`)

			Expect(resp.Status).To(Equal(mcpserver.ToolStatusOK))
			job := dataField(resp, "job")
			Expect(job).To(HaveKeyWithValue("status", "completed"))
			Expect(job).To(HaveKeyWithValue("progress", BeNumerically("==", 100)))
			Expect(stateValue(job, "final_answer")).To(Equal("Summary of Go"))
		})

		It("should stream events to the attached notifier", func() {
			sink := &recordingSink{}
			env.plugin.AttachNotifier(sink)

			resp := callTool(env.plugin, "execute_workflow_chain",
				`{"chain": `+chainJSON("render_template")+`, "inputs": {"topic": "Go"}}`)
			Expect(resp.Status).To(Equal(mcpserver.ToolStatusOK))
			Expect(dataField(resp, "status")).To(Equal("running"))
			Expect(resp.Links).To(HaveLen(3))

			Expect(env.plugin.Wait(context.Background())).To(Succeed())
			Expect(sink.method).To(HaveEach(chain.WorkflowEventMethod))
			Expect(sink.Types()).To(Equal([]string{"STATUS_UPDATE", "STATUS_UPDATE", "PHASE_COMPLETE", "WORKFLOW_COMPLETE"}))

			last := sink.params[len(sink.params)-1]
			Expect(last).To(HaveKeyWithValue("sessionId", dataField(resp, "session_id")))
		})

		It("should run a registered chain by id", func() {
			resp := callTool(env.plugin, "execute_workflow_chain",
				`{"chain": `+chainJSON("render_template")+`, "inputs": {"topic": "Go"}, "register": true, "wait": true}`)
			Expect(resp.Status).To(Equal(mcpserver.ToolStatusOK))

			resp = callTool(env.plugin, "execute_workflow_chain",
				`{"chain_id": "summary", "inputs": {"topic": "Rust"}, "wait": true}`)
			Expect(resp.Status).To(Equal(mcpserver.ToolStatusOK))
			Expect(stateValue(dataField(resp, "job"), "final_answer")).To(Equal("Summary of Rust"))
		})

		It("should report a failed phase as a partial result", func() {
			Expect(env.backend.Register(toolstep.ToolSpec{ID: "explode"}, func(ctx context.Context, inputs map[string]any) (map[string]any, error) {
				return nil, errors.New("boom")
			})).To(Succeed())

			resp := callTool(env.plugin, "execute_workflow_chain",
				`{"chain": `+chainJSON("explode")+`, "inputs": {"topic": "Go"}, "wait": true}`)

			Expect(resp.Status).To(Equal(mcpserver.ToolStatusPartial))
			Expect(resp.Code).To(Equal("tool_invocation_failed"))
			Expect(resp.Message).To(ContainSubstring("boom"))
			Expect(dataField(resp, "job")).To(HaveKeyWithValue("status", "failed"))
		})

		It("should reject a missing chain", func() {
			resp := callTool(env.plugin, "execute_workflow_chain", `{"inputs": {}}`)
			Expect(resp.Status).To(Equal(mcpserver.ToolStatusError))

			resp = callTool(env.plugin, "execute_workflow_chain", `{"chain_id": "ghost"}`)
			Expect(resp.Status).To(Equal(mcpserver.ToolStatusError))
			Expect(resp.Code).To(Equal("not_found"))
		})

		It("should reject an invalid inline chain", func() {
			resp := callTool(env.plugin, "execute_workflow_chain", `{"chain": {"id": "empty", "phases": []}}`)
			Expect(resp.Status).To(Equal(mcpserver.ToolStatusError))
			Expect(resp.Code).To(Equal("validation_failed"))
		})
	})

	Describe("cancel_execution", func() {
		It("should cancel a running job and keep the in-flight step output", func() {
			started := make(chan struct{})
			release := make(chan struct{})
			Expect(env.backend.Register(toolstep.ToolSpec{ID: "slow"}, func(ctx context.Context, inputs map[string]any) (map[string]any, error) {
				close(started)
				<-release
				return map[string]any{"text": "late"}, nil
			})).To(Succeed())

			resp := callTool(env.plugin, "execute_workflow_chain",
				`{"chain": `+chainJSON("slow")+`, "inputs": {"topic": "Go"}}`)
			sessionID := dataField(resp, "session_id").(string)
			Eventually(started).Should(BeClosed())

			resp = callTool(env.plugin, "cancel_execution", `{"session_id": "`+sessionID+`"}`)
			Expect(resp.Status).To(Equal(mcpserver.ToolStatusOK))
			Expect(dataField(resp, "cancelled")).To(BeTrue())
			close(release)

			Expect(env.plugin.Wait(context.Background())).To(Succeed())

			resp = callTool(env.plugin, "get_job_status", `{"session_id": "`+sessionID+`"}`)
			Expect(resp.Data).To(HaveKeyWithValue("status", "cancelled"))
			Expect(resp.Data).To(HaveKeyWithValue("error_code", "cancelled"))
			Expect(stateValue(resp.Data, "final_answer")).To(Equal("late"))

			resp = callTool(env.plugin, "cancel_execution", `{"session_id": "`+sessionID+`"}`)
			Expect(resp.Status).To(Equal(mcpserver.ToolStatusError))
			Expect(resp.Code).To(Equal("job_not_running"))
		})

		It("should report unknown sessions", func() {
			resp := callTool(env.plugin, "cancel_execution", `{"session_id": "nope"}`)
			Expect(resp.Status).To(Equal(mcpserver.ToolStatusError))
			Expect(resp.Code).To(Equal("not_found"))
		})

		It("should require a session id", func() {
			resp := callTool(env.plugin, "cancel_execution", `{}`)
			Expect(resp.Status).To(Equal(mcpserver.ToolStatusError))
		})
	})

	Describe("job inspection", func() {
		var sessionID string

		BeforeEach(func() {
			resp := callTool(env.plugin, "execute_workflow_chain",
				`{"chain": `+chainJSON("render_template")+`, "inputs": {"topic": "Go"}, "wait": true}`)
			sessionID = dataField(resp, "session_id").(string)
		})

		It("should return the job status", func() {
			resp := callTool(env.plugin, "get_job_status", `{"session_id": "`+sessionID+`"}`)
			Expect(resp.Status).To(Equal(mcpserver.ToolStatusOK))
			Expect(resp.Data).To(HaveKeyWithValue("chain_id", "summary"))
			Expect(resp.Links).To(HaveLen(2))
		})

		It("should return events after a sequence number", func() {
			resp := callTool(env.plugin, "get_job_events", `{"session_id": "`+sessionID+`"}`)
			Expect(dataField(resp, "events")).To(HaveLen(4))

			resp = callTool(env.plugin, "get_job_events", `{"session_id": "`+sessionID+`", "after_sequence": 3}`)
			events := dataField(resp, "events").([]any)
			Expect(events).To(HaveLen(1))
			Expect(events[0]).To(HaveKeyWithValue("type", "WORKFLOW_COMPLETE"))
			Expect(events[0]).To(HaveKeyWithValue("sequence", BeNumerically("==", 4)))
		})

		It("should report unknown sessions", func() {
			resp := callTool(env.plugin, "get_job_events", `{"session_id": "nope"}`)
			Expect(resp.Code).To(Equal("not_found"))
		})

		It("should expose the job as a resource", func() {
			templates, err := env.plugin.GetResourceTemplates(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(templates).To(HaveLen(1))

			req := mcp.ReadResourceRequest{}
			req.Params.URI = "chain://jobs/" + sessionID
			req.Params.Arguments = map[string]any{"id": []string{sessionID}}
			contents, err := templates[0].Handler(context.Background(), req)
			Expect(err).NotTo(HaveOccurred())

			text := contents[0].(mcp.TextResourceContents).Text
			var body map[string]any
			Expect(json.Unmarshal([]byte(text), &body)).To(Succeed())
			Expect(body["job"]).To(HaveKeyWithValue("status", "completed"))
			Expect(body["events"]).To(HaveLen(4))
		})
	})

	Describe("chain listing", func() {
		BeforeEach(func() {
			var def domain.AgentWorkflowChain
			Expect(json.Unmarshal([]byte(chainJSON("render_template")), &def)).To(Succeed())
			Expect(env.defs.Register(def)).To(Succeed())
		})

		It("should list registered chains", func() {
			resp := callTool(env.plugin, "list_workflow_chains", `{}`)
			chains := dataField(resp, "chains").([]any)
			Expect(chains).To(HaveLen(1))
			Expect(chains[0]).To(HaveKeyWithValue("id", "summary"))
			Expect(chains[0]).To(HaveKeyWithValue("inputs", ConsistOf("topic")))
			Expect(chains[0]).To(HaveKeyWithValue("outputs", ConsistOf("final_answer")))
			Expect(chains[0]).To(HaveKeyWithValue("phases", ConsistOf("Write summary")))
		})

		It("should serve the chains resource", func() {
			resources, err := env.plugin.GetResources(context.Background())
			Expect(err).NotTo(HaveOccurred())

			req := mcp.ReadResourceRequest{}
			req.Params.URI = "chain://chains"
			contents, err := resources[0].Handler(context.Background(), req)
			Expect(err).NotTo(HaveOccurred())
			Expect(contents[0].(mcp.TextResourceContents).Text).To(ContainSubstring(`"count": 1`))
		})
	})
})

package mission_test

import (
	"context"
	"encoding/json"
	"log/slog"

	mcpserver "github.com/alex-galey/mission-mcp/internal/server"
	"github.com/alex-galey/mission-mcp/internal/server-plugins/mission"
	"github.com/alex-galey/mission-mcp/internal/shared/binding"
	"github.com/alex-galey/mission-mcp/pkg/logger"
	"github.com/mark3labs/mcp-go/mcp"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const missionJSON = `{"mission": {
	"id": "m-notes",
	"name": "notes",
	"goal": "write notes about a topic",
	"inputs": [{"id": "topic", "name": "topic", "schema": {"type": "string"}, "value": "Go"}],
	"outputs": [{"id": "notes", "name": "notes", "schema": {"type": "string"}}]
}}`

const hopJSON = `{"mission_id": "m-notes", "hop": {
	"id": "h-render",
	"name": "render notes",
	"is_final": true,
	"input_mapping": {"topic": "topic"},
	"output_mapping": {"notes": "notes"}
}}`

const stepsJSON = `{"mission_id": "m-notes", "hop_id": "h-render", "steps": [{
	"tool_id": "render_template",
	"parameter_mapping": {
		"template": {"type": "literal", "value": "Notes on {{topic}}"},
		"topic": {"type": "asset_field", "state_asset": "topic"}
	},
	"result_mapping": {
		"text": {"type": "asset_field", "state_asset": "notes"}
	}
}]}`

func readResource(contents []mcp.ResourceContents) string {
	Expect(contents).To(HaveLen(1))
	text, ok := contents[0].(mcp.TextResourceContents)
	Expect(ok).To(BeTrue())
	return text.Text
}

var _ = Describe("MissionServerPlugin", func() {
	var plugin *mission.MissionServerPlugin

	BeforeEach(func() {
		plugin = newTestPlugin(logger.NewRingBuffer(50))
	})

	It("identifies itself", func() {
		Expect(plugin.ID()).To(Equal("mission"))
		Expect(plugin.Name()).NotTo(BeEmpty())
		Expect(plugin.Version()).NotTo(BeEmpty())
	})

	Describe("command surface", func() {
		It("exposes every mission command as a tool", func() {
			tools, err := plugin.GetTools(context.Background())
			Expect(err).NotTo(HaveOccurred())

			names := make([]string, 0, len(tools))
			for _, t := range tools {
				names = append(names, t.Name)
				Expect(t.Builder().Name).To(Equal(t.Name))
			}
			Expect(names).To(ContainElements(
				"create_mission", "accept_mission_proposal", "propose_hop", "accept_hop_proposal",
				"accept_hop_implementation", "start_hop_execution", "fail_hop_execution",
				"retry_hop_execution", "escalate_mission", "get_mission",
				"export_mission_snapshot", "import_mission_snapshot",
			))
		})

		It("runs a mission to completion through the tools", func() {
			resp, _ := callTool(plugin, "create_mission", missionJSON)
			Expect(resp.Status).To(Equal(mcpserver.ToolStatusOK))
			Expect(resp.Links).To(HaveLen(1))
			Expect(resp.Links[0].Tool).To(Equal("accept_mission_proposal"))

			resp, _ = callTool(plugin, "accept_mission_proposal", `{"mission_id": "m-notes"}`)
			Expect(resp.Status).To(Equal(mcpserver.ToolStatusOK))
			Expect(dataField(resp, "status")).To(Equal("IN_PROGRESS"))

			resp, _ = callTool(plugin, "propose_hop", hopJSON)
			Expect(resp.Status).To(Equal(mcpserver.ToolStatusOK))

			resp, _ = callTool(plugin, "accept_hop_proposal", `{"mission_id": "m-notes", "hop_id": "h-render"}`)
			Expect(resp.Status).To(Equal(mcpserver.ToolStatusOK))

			resp, _ = callTool(plugin, "accept_hop_implementation", stepsJSON)
			Expect(resp.Status).To(Equal(mcpserver.ToolStatusOK), resp.Message)

			resp, res := callTool(plugin, "start_hop_execution", `{"mission_id": "m-notes", "hop_id": "h-render"}`)
			Expect(res.IsError).To(BeFalse())
			Expect(resp.Status).To(Equal(mcpserver.ToolStatusOK), resp.Message)
			Expect(dataField(resp, "resolved")).To(BeTrue())

			resp, _ = callTool(plugin, "get_mission", `{"mission_id": "m-notes"}`)
			Expect(dataField(resp, "status")).To(Equal("COMPLETED"))

			var rec struct {
				Assets []binding.Asset `json:"mission_state"`
			}
			raw, err := json.Marshal(resp.Data)
			Expect(err).NotTo(HaveOccurred())
			Expect(json.Unmarshal(raw, &rec)).To(Succeed())

			var notes any
			for _, a := range rec.Assets {
				if a.ID == "notes" {
					notes = a.Value
				}
			}
			Expect(notes).To(Equal("Notes on Go"))
		})

		It("rejects steps that miss a required tool parameter", func() {
			callTool(plugin, "create_mission", missionJSON)
			callTool(plugin, "accept_mission_proposal", `{"mission_id": "m-notes"}`)
			callTool(plugin, "accept_hop_proposal", hopJSON)

			resp, res := callTool(plugin, "accept_hop_implementation", `{"mission_id": "m-notes", "hop_id": "h-render", "steps": [{
				"tool_id": "render_template",
				"parameter_mapping": {"topic": {"type": "asset_field", "state_asset": "topic"}},
				"result_mapping": {"text": {"type": "asset_field", "state_asset": "notes"}}
			}]}`)

			Expect(res.IsError).To(BeTrue())
			Expect(resp.Code).To(Equal(binding.CodeValidationFailed))
		})

		It("reports unknown missions as not found", func() {
			resp, res := callTool(plugin, "get_mission", `{"mission_id": "ghost"}`)
			Expect(res.IsError).To(BeTrue())
			Expect(resp.Code).To(Equal("not_found"))
		})

		It("reports missing arguments as validation failures", func() {
			resp, res := callTool(plugin, "start_hop_execution", `{"mission_id": "m-notes"}`)
			Expect(res.IsError).To(BeTrue())
			Expect(resp.Code).To(Equal(binding.CodeValidationFailed))
		})

		It("reports out of order commands as invalid transitions", func() {
			callTool(plugin, "create_mission", missionJSON)

			resp, res := callTool(plugin, "propose_hop", hopJSON)
			Expect(res.IsError).To(BeTrue())
			Expect(resp.Code).To(Equal("invalid_transition"))
		})

		It("round trips a mission through a snapshot", func() {
			callTool(plugin, "create_mission", missionJSON)

			_, res := callTool(plugin, "export_mission_snapshot", `{"mission_id": "m-notes"}`)
			Expect(res.IsError).To(BeFalse())
			text, ok := mcp.AsTextContent(res.Content[0])
			Expect(ok).To(BeTrue())

			other := newTestPlugin(nil)
			resp, res := callTool(other, "import_mission_snapshot", `{"snapshot": `+text.Text+`}`)
			Expect(res.IsError).To(BeFalse(), resp.Message)
			Expect(dataField(resp, "id")).To(Equal("m-notes"))

			resp, res = callTool(other, "import_mission_snapshot", `{"snapshot": `+text.Text+`}`)
			Expect(res.IsError).To(BeTrue())
			Expect(resp.Code).To(Equal("conflict"))
		})

		It("rejects a snapshot lacking required keys", func() {
			resp, res := callTool(plugin, "import_mission_snapshot", `{"snapshot": {"mission": {}}}`)
			Expect(res.IsError).To(BeTrue())
			Expect(resp.Code).To(Equal(binding.CodeValidationFailed))
		})
	})

	Describe("resources", func() {
		It("lists missions and serves one mission by id", func() {
			callTool(plugin, "create_mission", missionJSON)

			resources, err := plugin.GetResources(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(resources).To(HaveLen(2))

			req := mcp.ReadResourceRequest{}
			req.Params.URI = resources[0].URI
			contents, err := resources[0].Handler(context.Background(), req)
			Expect(err).NotTo(HaveOccurred())
			Expect(readResource(contents)).To(ContainSubstring(`"count": 1`))

			templates, err := plugin.GetResourceTemplates(context.Background())
			Expect(err).NotTo(HaveOccurred())

			req = mcp.ReadResourceRequest{}
			req.Params.URI = "mission://missions/m-notes"
			req.Params.Arguments = map[string]any{"id": []string{"m-notes"}}
			contents, err = templates[0].Handler(context.Background(), req)
			Expect(err).NotTo(HaveOccurred())
			Expect(readResource(contents)).To(ContainSubstring(`"goal": "write notes about a topic"`))

			req = mcp.ReadResourceRequest{}
			req.Params.URI = "mission://missions/m-notes/history"
			contents, err = templates[1].Handler(context.Background(), req)
			Expect(err).NotTo(HaveOccurred())
			Expect(readResource(contents)).To(ContainSubstring("create_mission"))
		})

		It("fails for unknown missions", func() {
			templates, err := plugin.GetResourceTemplates(context.Background())
			Expect(err).NotTo(HaveOccurred())

			req := mcp.ReadResourceRequest{}
			req.Params.URI = "mission://missions/ghost"
			_, err = templates[0].Handler(context.Background(), req)
			Expect(err).To(HaveOccurred())
		})

		It("serves recent logs with credentials redacted", func() {
			logs := logger.NewRingBuffer(10)
			logs.Append(logger.Entry{Level: slog.LevelInfo, Line: "INFO backend connected token=abc123"})
			plugin = newTestPlugin(logs)

			resources, err := plugin.GetResources(context.Background())
			Expect(err).NotTo(HaveOccurred())

			req := mcp.ReadResourceRequest{}
			req.Params.URI = resources[1].URI
			contents, err := resources[1].Handler(context.Background(), req)
			Expect(err).NotTo(HaveOccurred())

			text := readResource(contents)
			Expect(text).To(ContainSubstring("token=[redacted]"))
			Expect(text).NotTo(ContainSubstring("abc123"))
		})
	})

	Describe("prompts", func() {
		It("renders a planning prompt for a mission", func() {
			callTool(plugin, "create_mission", missionJSON)

			prompts, err := plugin.GetPrompts(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(prompts).To(HaveLen(1))

			req := mcp.GetPromptRequest{}
			req.Params.Arguments = map[string]string{"mission_id": "m-notes"}
			result, err := prompts[0].Handler(context.Background(), req)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Messages).To(HaveLen(1))

			text, ok := mcp.AsTextContent(result.Messages[0].Content)
			Expect(ok).To(BeTrue())
			Expect(text.Text).To(ContainSubstring("write notes about a topic"))
			Expect(text.Text).To(ContainSubstring("notes (output, string, missing)"))
		})

		It("requires a mission id", func() {
			prompts, _ := plugin.GetPrompts(context.Background())
			_, err := prompts[0].Handler(context.Background(), mcp.GetPromptRequest{})
			Expect(err).To(HaveOccurred())
		})
	})
})

package snapshot_test

import (
	"github.com/alex-galey/mission-mcp/internal/shared/binding"
	"github.com/alex-galey/mission-mcp/internal/shared/snapshot"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const validDocument = `{
	"currentMessages": [{"role": "user", "content": "hi"}],
	"currentStreamingMessage": null,
	"collabArea": {"type": "mission", "content": {"id": "m1"}},
	"mission": {"id": "m1", "name": "Research"},
	"payload_history": [{"action": "create_mission"}]
}`

var _ = Describe("Snapshot", func() {
	Describe("Parse", func() {
		It("should decode a complete document", func() {
			snap, err := snapshot.Parse([]byte(validDocument))
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.CurrentMessages).To(HaveLen(1))
			Expect(snap.CollabArea.Type).To(Equal("mission"))
			Expect(snap.PayloadHistory).To(HaveLen(1))

			var mission struct {
				ID   string `json:"id"`
				Name string `json:"name"`
			}
			Expect(snap.DecodeMission(&mission)).To(Succeed())
			Expect(mission.ID).To(Equal("m1"))
		})

		It("should accept a collab area with only a content", func() {
			_, err := snapshot.Parse([]byte(`{
				"currentMessages": [], "currentStreamingMessage": null,
				"collabArea": {"content": "notes"}, "mission": null, "payload_history": []
			}`))
			Expect(err).NotTo(HaveOccurred())
		})

		DescribeTable("should reject structurally invalid documents",
			func(doc string, field string) {
				_, err := snapshot.Parse([]byte(doc))
				Expect(err).To(HaveOccurred())
				Expect(binding.IsValidationError(err)).To(BeTrue())
				Expect(err.Error()).To(ContainSubstring(field))
			},
			Entry("not JSON", `nope`, "snapshot"),
			Entry("missing currentMessages",
				`{"currentStreamingMessage": null, "collabArea": {"type": "x"}, "mission": {}, "payload_history": []}`,
				"currentMessages"),
			Entry("missing currentStreamingMessage",
				`{"currentMessages": [], "collabArea": {"type": "x"}, "mission": {}, "payload_history": []}`,
				"currentStreamingMessage"),
			Entry("missing collabArea",
				`{"currentMessages": [], "currentStreamingMessage": null, "mission": {}, "payload_history": []}`,
				"collabArea"),
			Entry("missing mission",
				`{"currentMessages": [], "currentStreamingMessage": null, "collabArea": {"type": "x"}, "payload_history": []}`,
				"mission"),
			Entry("missing payload_history",
				`{"currentMessages": [], "currentStreamingMessage": null, "collabArea": {"type": "x"}, "mission": {}}`,
				"payload_history"),
			Entry("collabArea without type and content",
				`{"currentMessages": [], "currentStreamingMessage": null, "collabArea": {}, "mission": {}, "payload_history": []}`,
				"collabArea"),
			Entry("currentMessages not a list",
				`{"currentMessages": {}, "currentStreamingMessage": null, "collabArea": {"type": "x"}, "mission": {}, "payload_history": []}`,
				"currentMessages"),
		)
	})

	It("should round trip through New and Marshal", func() {
		snap, err := snapshot.New(map[string]any{"id": "m2"}, []any{map[string]any{"action": "a"}})
		Expect(err).NotTo(HaveOccurred())

		data, err := snap.Marshal()
		Expect(err).NotTo(HaveOccurred())

		parsed, err := snapshot.Parse(data)
		Expect(err).NotTo(HaveOccurred())

		history, err := snapshot.DecodePayloadHistory[map[string]any](parsed)
		Expect(err).NotTo(HaveOccurred())
		Expect(history).To(ConsistOf(HaveKeyWithValue("action", "a")))
	})

	It("should refuse to decode a null mission", func() {
		snap := &snapshot.Snapshot{}
		var target map[string]any
		err := snap.DecodeMission(&target)
		Expect(binding.IsValidationError(err)).To(BeTrue())
	})
})

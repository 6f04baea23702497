// Package snapshot loads and writes the persisted session snapshot used for mission
// export and import.
package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/alex-galey/mission-mcp/internal/shared/binding"
)

// Required top-level keys of a snapshot document.
const (
	KeyCurrentMessages         = "currentMessages"
	KeyCurrentStreamingMessage = "currentStreamingMessage"
	KeyCollabArea              = "collabArea"
	KeyMission                 = "mission"
	KeyPayloadHistory          = "payload_history"
)

var requiredKeys = []string{
	KeyCurrentMessages,
	KeyCurrentStreamingMessage,
	KeyCollabArea,
	KeyMission,
	KeyPayloadHistory,
}

// CollabArea is the shared working area attached to a session.
type CollabArea struct {
	Type    string          `json:"type,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`
}

// Snapshot is the persisted session shape. Message and mission payloads are kept raw
// and decoded on demand.
type Snapshot struct {
	CurrentMessages         []json.RawMessage `json:"currentMessages"`
	CurrentStreamingMessage json.RawMessage   `json:"currentStreamingMessage"`
	CollabArea              CollabArea        `json:"collabArea"`
	Mission                 json.RawMessage   `json:"mission"`
	PayloadHistory          []json.RawMessage `json:"payload_history"`
}

// Parse validates and decodes a snapshot document. Structural problems are reported
// as *binding.ValidationError.
func Parse(data []byte) (*Snapshot, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &binding.ValidationError{Field: "snapshot", Reason: fmt.Sprintf("not a JSON object: %v", err)}
	}
	if raw == nil {
		return nil, &binding.ValidationError{Field: "snapshot", Reason: "document is null"}
	}

	for _, key := range requiredKeys {
		if _, ok := raw[key]; !ok {
			return nil, &binding.ValidationError{Field: key, Reason: "required key is missing"}
		}
	}

	var collab map[string]json.RawMessage
	if err := json.Unmarshal(raw[KeyCollabArea], &collab); err != nil || collab == nil {
		return nil, &binding.ValidationError{Field: KeyCollabArea, Reason: "must be an object"}
	}
	_, hasType := collab["type"]
	_, hasContent := collab["content"]
	if !hasType && !hasContent {
		return nil, &binding.ValidationError{Field: KeyCollabArea, Reason: "must carry a type or a content"}
	}

	snap := &Snapshot{
		CurrentStreamingMessage: raw[KeyCurrentStreamingMessage],
		Mission:                 raw[KeyMission],
	}
	if err := decodeList(raw[KeyCurrentMessages], &snap.CurrentMessages); err != nil {
		return nil, &binding.ValidationError{Field: KeyCurrentMessages, Reason: err.Error()}
	}
	if err := decodeList(raw[KeyPayloadHistory], &snap.PayloadHistory); err != nil {
		return nil, &binding.ValidationError{Field: KeyPayloadHistory, Reason: err.Error()}
	}
	if err := json.Unmarshal(raw[KeyCollabArea], &snap.CollabArea); err != nil {
		return nil, &binding.ValidationError{Field: KeyCollabArea, Reason: err.Error()}
	}

	return snap, nil
}

func decodeList(data json.RawMessage, target *[]json.RawMessage) error {
	if isNull(data) {
		*target = []json.RawMessage{}
		return nil
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("must be an ordered list")
	}
	return nil
}

func isNull(data json.RawMessage) bool {
	return len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null"))
}

// New builds a snapshot holding a mission record and its payload history. The message
// fields start empty and the collab area is typed "mission".
func New(mission any, payloadHistory []any) (*Snapshot, error) {
	missionData, err := json.Marshal(mission)
	if err != nil {
		return nil, fmt.Errorf("failed to encode mission: %w", err)
	}

	history := make([]json.RawMessage, 0, len(payloadHistory))
	for i, entry := range payloadHistory {
		data, err := json.Marshal(entry)
		if err != nil {
			return nil, fmt.Errorf("failed to encode payload history entry %d: %w", i, err)
		}
		history = append(history, data)
	}

	return &Snapshot{
		CurrentMessages:         []json.RawMessage{},
		CurrentStreamingMessage: json.RawMessage("null"),
		CollabArea:              CollabArea{Type: "mission", Content: json.RawMessage("null")},
		Mission:                 missionData,
		PayloadHistory:          history,
	}, nil
}

// Marshal encodes the snapshot with every required key present.
func (s *Snapshot) Marshal() ([]byte, error) {
	out := *s
	if out.CurrentMessages == nil {
		out.CurrentMessages = []json.RawMessage{}
	}
	if out.PayloadHistory == nil {
		out.PayloadHistory = []json.RawMessage{}
	}
	if isNull(out.CurrentStreamingMessage) {
		out.CurrentStreamingMessage = json.RawMessage("null")
	}
	if isNull(out.Mission) {
		out.Mission = json.RawMessage("null")
	}
	if out.CollabArea.Type == "" && isNull(out.CollabArea.Content) {
		out.CollabArea.Content = json.RawMessage("null")
	}
	return json.Marshal(out)
}

// DecodeMission decodes the mission payload into target.
func (s *Snapshot) DecodeMission(target any) error {
	if isNull(s.Mission) {
		return &binding.ValidationError{Field: KeyMission, Reason: "snapshot carries no mission"}
	}
	if err := json.Unmarshal(s.Mission, target); err != nil {
		return &binding.ValidationError{Field: KeyMission, Reason: err.Error()}
	}
	return nil
}

// DecodePayloadHistory decodes every payload history entry into a new T.
func DecodePayloadHistory[T any](s *Snapshot) ([]T, error) {
	out := make([]T, 0, len(s.PayloadHistory))
	for i, data := range s.PayloadHistory {
		var entry T
		if err := json.Unmarshal(data, &entry); err != nil {
			return nil, &binding.ValidationError{
				Field:  fmt.Sprintf("%s[%d]", KeyPayloadHistory, i),
				Reason: err.Error(),
			}
		}
		out = append(out, entry)
	}
	return out, nil
}

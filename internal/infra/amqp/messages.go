package amqp

import (
	"encoding/json"
	"fmt"

	"github.com/boddenberg/ledger-sync/internal/domain"
)

// ChangeMessage is the wire form of a local cache change.
type ChangeMessage struct {
	Version int                `json:"v"`
	Change  domain.StateChange `json:"change"`
}

const messageVersion = 1

// NewChangeMessage wraps a change for publishing.
func NewChangeMessage(change domain.StateChange) *ChangeMessage {
	return &ChangeMessage{Version: messageVersion, Change: change}
}

// ToJSON converts the message to JSON bytes.
func (m *ChangeMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ChangeMessageFromJSON decodes a message, rejecting unknown versions.
func ChangeMessageFromJSON(data []byte) (*ChangeMessage, error) {
	var msg ChangeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Version != messageVersion {
		return nil, fmt.Errorf("unsupported message version %d", msg.Version)
	}
	if msg.Change.Key == "" {
		return nil, fmt.Errorf("message has no key")
	}
	return &msg, nil
}

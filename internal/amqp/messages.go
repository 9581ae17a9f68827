package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"calco/internal/core"
)

// MessageVersion is bumped when the message layout changes incompatibly.
const MessageVersion = 1

// LedgerEventMessage is the wire envelope of a ledger event. The worker
// re-reads sheet state from the store; the event only says where to look.
type LedgerEventMessage struct {
	Version   int              `json:"version"`
	Event     core.LedgerEvent `json:"event"`
	Timestamp time.Time        `json:"timestamp"`
}

func NewLedgerEventMessage(ev core.LedgerEvent) *LedgerEventMessage {
	return &LedgerEventMessage{
		Version:   MessageVersion,
		Event:     ev,
		Timestamp: time.Now().UTC(),
	}
}

func (m *LedgerEventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// LedgerEventMessageFromJSON decodes and checks a message body.
func LedgerEventMessageFromJSON(data []byte) (*LedgerEventMessage, error) {
	var msg LedgerEventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Version != MessageVersion {
		return nil, fmt.Errorf("unsupported message version %d", msg.Version)
	}
	if msg.Event.Type == "" {
		return nil, fmt.Errorf("message without event type")
	}
	return &msg, nil
}

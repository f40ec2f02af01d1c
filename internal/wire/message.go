package wire

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/huddle/internal/registry"
)

// Message type tags.
const (
	TypeFullSync    = "FULL_SYNC"
	TypeSyncRequest = "SYNC_REQUEST"
)

// Message is one decoded inbound message: FullSync, SyncRequest or Plain.
type Message interface {
	messageType() string
}

// FullSync carries a complete registry snapshot from the host.
type FullSync struct {
	Snapshot *registry.Snapshot
}

// SyncRequest asks the host for an unconditional FULL_SYNC.
type SyncRequest struct {
	From string
}

// Plain is application content passed through unmodified.
type Plain struct {
	Text string
}

func (FullSync) messageType() string    { return TypeFullSync }
func (SyncRequest) messageType() string { return TypeSyncRequest }
func (Plain) messageType() string       { return "" }

// Parse classifies raw text. It never fails: malformed or untagged input,
// and FULL_SYNC bodies that do not decode, yield Plain{text}.
func Parse(text string) Message {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(text), &env); err != nil {
		return Plain{Text: text}
	}

	switch env.Type {
	case TypeFullSync:
		var body fullSyncJSON
		if err := json.Unmarshal([]byte(text), &body); err != nil {
			return Plain{Text: text}
		}
		return FullSync{Snapshot: body.snapshot()}

	case TypeSyncRequest:
		var body syncRequestJSON
		if err := json.Unmarshal([]byte(text), &body); err != nil {
			return Plain{Text: text}
		}
		return SyncRequest{From: body.From}

	default:
		return Plain{Text: text}
	}
}

// EncodeFullSync serializes a snapshot as a FULL_SYNC message.
// A nil snapshot encodes with empty lists.
func EncodeFullSync(snap *registry.Snapshot) (string, error) {
	data, err := json.Marshal(newFullSyncJSON(snap))
	if err != nil {
		return "", fmt.Errorf("encode full sync: %w", err)
	}
	return string(data), nil
}

// EncodeSyncRequest serializes a SYNC_REQUEST from the named device.
func EncodeSyncRequest(from string) (string, error) {
	data, err := json.Marshal(syncRequestJSON{Type: TypeSyncRequest, From: from})
	if err != nil {
		return "", fmt.Errorf("encode sync request: %w", err)
	}
	return string(data), nil
}

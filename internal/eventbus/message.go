/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus fans plan events out to the other fleet adapters of a
// deployment over NATS or Redis, while delivering them locally through an
// in-process events.Bus.
package eventbus

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/friendsincode/fleetplan/internal/events"
)

// message is the wire format shared by the networked buses.
type message struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"`
}

func marshalMessage(eventType events.EventType, payload events.Payload, nodeID string) ([]byte, error) {
	return json.Marshal(message{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		NodeID:    nodeID,
		MessageID: uuid.NewString(),
	})
}

func unmarshalMessage(data []byte) (*message, error) {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal bus message: %w", err)
	}
	if msg.EventType == "" {
		return nil, fmt.Errorf("unmarshal bus message: missing event type")
	}
	return &msg, nil
}

// NewNodeID returns an identifier for this process, used to drop our own
// messages when they come back from the network.
func NewNodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "node"
	}
	return host + "-" + uuid.NewString()[:8]
}

// relay holds what both networked buses share: the local bus and the echo
// filter.
type relay struct {
	local  *events.Bus
	nodeID string
}

func (r *relay) Subscribe(eventType events.EventType) events.Subscriber {
	return r.local.Subscribe(eventType)
}

func (r *relay) Unsubscribe(eventType events.EventType, sub events.Subscriber) {
	r.local.Unsubscribe(eventType, sub)
}

// deliver publishes a message received from the network to local
// subscribers. It reports whether the message was delivered.
func (r *relay) deliver(data []byte) (bool, error) {
	msg, err := unmarshalMessage(data)
	if err != nil {
		return false, err
	}
	if msg.NodeID == r.nodeID {
		return false, nil
	}
	r.local.Publish(msg.EventType, msg.Payload)
	return true, nil
}

package broker

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dukerupert/larder/internal/event"
)

// ChangeMessage is the body published for every data change.
type ChangeMessage struct {
	Entity    string    `json:"entity"`
	Action    string    `json:"action"`
	Key       string    `json:"key,omitempty"`
	Version   int64     `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

func NewChangeMessage(c event.Change, version int64, at time.Time) ChangeMessage {
	return ChangeMessage{
		Entity:    c.Entity,
		Action:    c.Action,
		Key:       c.Key,
		Version:   version,
		Timestamp: at.UTC(),
	}
}

// RoutingKey is "larder.<entity>.<action>", so consumers can bind to
// "larder.usage.#" and similar patterns on the topic exchange.
func (m ChangeMessage) RoutingKey() string {
	return fmt.Sprintf("larder.%s.%s", m.Entity, m.Action)
}

func (m ChangeMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func ChangeMessageFromJSON(data []byte) (*ChangeMessage, error) {
	var m ChangeMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal change message: %w", err)
	}
	if m.Entity == "" || m.Action == "" {
		return nil, fmt.Errorf("change message missing entity or action")
	}
	return &m, nil
}

package bus

import "time"

type EventType string

const (
	// EventStateChanged carries the supervisor's new state in State.
	EventStateChanged  EventType = "state_changed"
	EventConnectFailed EventType = "connect_failed"
	EventAuthFailed    EventType = "auth_failed"
	EventStreamFailed  EventType = "stream_failed"
	EventChannelState  EventType = "channel_state"
)

type Event struct {
	Type    EventType         `json:"type"`
	At      time.Time         `json:"at"`
	State   string            `json:"state,omitempty"`
	Channel string            `json:"channel,omitempty"`
	Payload map[string]string `json:"payload,omitempty"`
	Error   string            `json:"error,omitempty"`
}

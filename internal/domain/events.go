package domain

import "time"

// EventType names a position lifecycle transition.
type EventType string

const (
	EventOpened            EventType = "opened"
	EventClosed            EventType = "closed"
	EventProtectionUpdated EventType = "protection-updated"
)

// LifecycleEvent is emitted by the position manager on every transition.
type LifecycleEvent struct {
	Type     EventType    `json:"type"`
	Time     time.Time    `json:"time"`
	Position Position     `json:"position"`
	Trade    *TradeRecord `json:"trade,omitempty"` // Set for EventClosed
}

// internal/model/event.go
package model

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	EventSessionStarted   EventType = "SESSION_STARTED"
	EventSessionSample    EventType = "SESSION_SAMPLE"
	EventSessionCompleted EventType = "SESSION_COMPLETED"
	EventSessionFailed    EventType = "SESSION_FAILED"
)

// SessionEvent represents an event emitted by a running session
type SessionEvent struct {
	EventType EventType     `json:"event_type"`
	SessionID uuid.UUID     `json:"session_id"`
	Status    SessionStatus `json:"status,omitempty"`
	Tick      int           `json:"tick,omitempty"`
	Sample    *Sample       `json:"sample,omitempty"`
	Error     string        `json:"error,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// internal/model/session.go
package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus represents the state of a sampling session
type SessionStatus string

const (
	SessionStatusPending   SessionStatus = "PENDING"
	SessionStatusRunning   SessionStatus = "RUNNING"
	SessionStatusCompleted SessionStatus = "COMPLETED"
	SessionStatusCancelled SessionStatus = "CANCELLED"
	SessionStatusFailed    SessionStatus = "FAILED"
)

// SessionParams describes a sampling run
type SessionParams struct {
	Mode         MeasurementMode `json:"mode"`
	Ports        []string        `json:"ports,omitempty"`
	TickInterval time.Duration   `json:"tick_interval"`
	Duration     time.Duration   `json:"duration"`
	Range        RangeSpec       `json:"range"`
	Resolution   Scalar          `json:"resolution"`
	Trigger      TriggerSource   `json:"trigger,omitempty"`
}

// Session represents a sampling run managed by the service
type Session struct {
	ID           uuid.UUID     `json:"id"`
	Params       SessionParams `json:"params"`
	Status       SessionStatus `json:"status"`
	Devices      []string      `json:"devices"`
	StartedAt    time.Time     `json:"started_at"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
	ErrorMessage *string       `json:"error_message,omitempty"`
	Rows         int           `json:"rows"`
	Matrix       *Matrix       `json:"matrix,omitempty"`
}

// IsCompleted checks if the session has reached a terminal state
func (s *Session) IsCompleted() bool {
	return s.Status == SessionStatusCompleted ||
		s.Status == SessionStatusCancelled ||
		s.Status == SessionStatusFailed
}

// Duration returns how long the session ran
func (s *Session) Duration() time.Duration {
	if s.CompletedAt == nil {
		return time.Since(s.StartedAt)
	}
	return s.CompletedAt.Sub(s.StartedAt)
}

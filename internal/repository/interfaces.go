// internal/repository/interfaces.go
package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"dmm-service/internal/model"
)

// ErrSessionNotFound is returned when no session has the requested ID
var ErrSessionNotFound = errors.New("session not found")

// SessionRepository defines session data access operations
type SessionRepository interface {
	// CRUD operations
	Create(ctx context.Context, session *model.Session) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Session, error)
	Update(ctx context.Context, session *model.Session) error
	Delete(ctx context.Context, id uuid.UUID) error

	// Listing and filtering
	List(ctx context.Context, filter *SessionFilter) ([]*model.Session, int, error)
}

// SessionFilter represents session listing filters
type SessionFilter struct {
	Status  *model.SessionStatus `json:"status,omitempty"`
	Page    int                  `json:"page"`
	PerPage int                  `json:"per_page"`
}

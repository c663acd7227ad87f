// internal/repository/session_repository.go
package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dmm-service/internal/model"
)

// memorySessionRepository keeps sessions in memory. Stored and returned
// sessions are copies, so callers never share a session with the store.
type memorySessionRepository struct {
	sessions map[uuid.UUID]*model.Session
	mutex    sync.RWMutex
	logger   *zap.Logger
}

// NewMemorySessionRepository creates an in-memory session repository
func NewMemorySessionRepository(logger *zap.Logger) SessionRepository {
	return &memorySessionRepository{
		sessions: make(map[uuid.UUID]*model.Session),
		logger:   logger,
	}
}

// Create stores a new session
func (r *memorySessionRepository) Create(ctx context.Context, session *model.Session) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.sessions[session.ID]; exists {
		return fmt.Errorf("session already exists: %s", session.ID)
	}

	r.sessions[session.ID] = copySession(session)
	r.logger.Debug("Session created", zap.String("session_id", session.ID.String()))
	return nil
}

// GetByID retrieves a session by ID
func (r *memorySessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Session, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	session, exists := r.sessions[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return copySession(session), nil
}

// Update replaces a stored session
func (r *memorySessionRepository) Update(ctx context.Context, session *model.Session) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.sessions[session.ID]; !exists {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, session.ID)
	}

	r.sessions[session.ID] = copySession(session)
	return nil
}

// Delete removes a session
func (r *memorySessionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.sessions[id]; !exists {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	delete(r.sessions, id)
	return nil
}

// List returns sessions newest first. Matrices are omitted from listed sessions.
func (r *memorySessionRepository) List(ctx context.Context, filter *SessionFilter) ([]*model.Session, int, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	if filter == nil {
		filter = &SessionFilter{}
	}

	matched := make([]*model.Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		if filter.Status != nil && session.Status != *filter.Status {
			continue
		}
		matched = append(matched, session)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].StartedAt.After(matched[j].StartedAt)
	})

	total := len(matched)
	if filter.PerPage > 0 {
		page := filter.Page
		if page < 1 {
			page = 1
		}
		start := total
		if page-1 <= total/filter.PerPage {
			start = min((page-1)*filter.PerPage, total)
		}
		end := min(start+min(filter.PerPage, total), total)
		matched = matched[start:end]
	}

	sessions := make([]*model.Session, len(matched))
	for i, session := range matched {
		s := *session
		s.Matrix = nil
		sessions[i] = &s
	}
	return sessions, total, nil
}

func copySession(session *model.Session) *model.Session {
	s := *session
	s.Devices = append([]string(nil), session.Devices...)
	s.Params.Ports = append([]string(nil), session.Params.Ports...)
	if session.Matrix != nil {
		s.Matrix = session.Matrix.Clone()
	}
	if session.CompletedAt != nil {
		t := *session.CompletedAt
		s.CompletedAt = &t
	}
	if session.ErrorMessage != nil {
		msg := *session.ErrorMessage
		s.ErrorMessage = &msg
	}
	return &s
}

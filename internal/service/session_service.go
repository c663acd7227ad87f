// internal/service/session_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dmm-service/internal/discovery"
	"dmm-service/internal/driver"
	"dmm-service/internal/export"
	"dmm-service/internal/model"
	"dmm-service/internal/repository"
	"dmm-service/internal/sampler"
	"dmm-service/internal/utils"
	instrument "dmm-service/pkg/driver"
)

// EventPublisher receives session lifecycle and sample events
type EventPublisher interface {
	Publish(event model.SessionEvent)
}

// SessionService runs sampling sessions, one at a time
type SessionService struct {
	sessionRepo repository.SessionRepository
	scanner     discovery.PortScanner
	opener      instrument.Opener
	sampler     *sampler.Sampler
	exporter    *export.Exporter
	publisher   EventPublisher
	ports       *PortGuard
	defaults    model.SessionParams
	baseLogger  *zap.Logger
	logger      *utils.ServiceLogger

	mu     sync.Mutex
	active *activeSession
}

type activeSession struct {
	id     uuid.UUID
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSessionService creates a new session service. exporter and publisher may be nil.
func NewSessionService(
	sessionRepo repository.SessionRepository,
	scanner discovery.PortScanner,
	opener instrument.Opener,
	sampler *sampler.Sampler,
	exporter *export.Exporter,
	publisher EventPublisher,
	ports *PortGuard,
	defaults model.SessionParams,
	logger *zap.Logger,
) *SessionService {
	return &SessionService{
		sessionRepo: sessionRepo,
		scanner:     scanner,
		opener:      opener,
		sampler:     sampler,
		exporter:    exporter,
		publisher:   publisher,
		ports:       ports,
		defaults:    defaults,
		baseLogger:  logger,
		logger:      utils.NewServiceLogger(logger, "session-service"),
	}
}

// DefaultParams returns the configured sampling defaults
func (ss *SessionService) DefaultParams() model.SessionParams {
	return ss.defaults
}

// StartSession opens the instruments and starts sampling in the background.
// Instruments are discovered unless params.Ports names them. Every
// validation and open failure is returned before the session exists.
func (ss *SessionService) StartSession(ctx context.Context, params model.SessionParams) (*model.Session, error) {
	if !params.Mode.IsValid() {
		return nil, &model.ConfigError{Field: "mode", Value: params.Mode.String(), Reason: "unknown measurement mode"}
	}
	if params.Trigger != "" && !params.Trigger.IsValid() {
		return nil, &model.ConfigError{Field: "trigger", Value: string(params.Trigger), Reason: "expected IMM, BUS or EXT"}
	}
	if params.TickInterval < 0 || params.Duration < 0 {
		return nil, &model.ConfigError{Field: "timing", Value: fmt.Sprintf("%s/%s", params.TickInterval, params.Duration), Reason: "must not be negative"}
	}

	if !ss.ports.TryAcquire() {
		return nil, ErrPortsBusy
	}

	registry := driver.NewDeviceRegistry(ss.scannerFor(params), ss.opener, ss.baseLogger)
	instruments, err := registry.CreateAll(ctx)
	if err != nil {
		ss.ports.Release()
		return nil, err
	}

	if len(instruments) == 0 {
		ss.ports.Release()
		return nil, ErrNoInstruments
	}

	if _, err := params.Range.Resolve(len(instruments)); err != nil {
		registry.DestroyAll(instruments)
		ss.ports.Release()
		return nil, err
	}

	devices := make([]string, len(instruments))
	for i, inst := range instruments {
		devices[i] = inst.Name()
	}

	session := &model.Session{
		ID:        uuid.New(),
		Params:    params,
		Status:    model.SessionStatusRunning,
		Devices:   devices,
		StartedAt: time.Now(),
	}

	if err := ss.sessionRepo.Create(ctx, session); err != nil {
		registry.DestroyAll(instruments)
		ss.ports.Release()
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	active := &activeSession{id: session.ID, cancel: cancel, done: make(chan struct{})}

	ss.mu.Lock()
	ss.active = active
	ss.mu.Unlock()

	ss.publish(model.SessionEvent{
		EventType: model.EventSessionStarted,
		SessionID: session.ID,
		Status:    session.Status,
	})

	snapshot := *session
	go ss.run(runCtx, session, registry, instruments, active)

	return &snapshot, nil
}

// run samples until the session ends, then releases the instruments and the ports
func (ss *SessionService) run(ctx context.Context, session *model.Session, registry *driver.DeviceRegistry, instruments []instrument.Instrument, active *activeSession) {
	defer close(active.done)
	defer active.cancel()

	sessionLogger := utils.NewSessionLogger(ss.baseLogger, session.ID.String())
	sessionLogger.Start(
		zap.Stringer("mode", session.Params.Mode),
		zap.Strings("devices", session.Devices),
		zap.Duration("tick_interval", session.Params.TickInterval),
		zap.Duration("duration", session.Params.Duration),
	)

	req := sampler.Request{
		Mode:         session.Params.Mode,
		Instruments:  instruments,
		TickInterval: session.Params.TickInterval,
		Duration:     session.Params.Duration,
		Range:        session.Params.Range,
		Resolution:   session.Params.Resolution,
		Trigger:      session.Params.Trigger,
	}

	matrix, runErr := ss.sampler.Run(ctx, req, func(tick int, sample model.Sample) {
		session.Rows = tick
		if err := ss.sessionRepo.Update(context.Background(), session); err != nil {
			sessionLogger.Logger().Warn("Failed to update session progress", zap.Error(err))
		}

		s := sample
		ss.publish(model.SessionEvent{
			EventType: model.EventSessionSample,
			SessionID: session.ID,
			Status:    session.Status,
			Tick:      tick,
			Sample:    &s,
		})
	})

	if err := registry.DestroyAll(instruments); err != nil {
		sessionLogger.Logger().Warn("Failed to release instruments", zap.Error(err))
	}

	completedAt := time.Now()
	session.CompletedAt = &completedAt
	session.Matrix = matrix
	if matrix != nil {
		session.Rows = matrix.Rows()
	}

	switch {
	case runErr != nil:
		session.Status = model.SessionStatusFailed
		msg := runErr.Error()
		session.ErrorMessage = &msg
		sessionLogger.Error(runErr, zap.Int("rows", session.Rows))
	case ctx.Err() != nil:
		session.Status = model.SessionStatusCancelled
		sessionLogger.Success(zap.Int("rows", session.Rows), zap.Bool("cancelled", true))
	default:
		session.Status = model.SessionStatusCompleted
		sessionLogger.Success(zap.Int("rows", session.Rows))
	}

	if ss.exporter != nil && matrix != nil {
		if _, _, err := ss.exporter.Export(session); err != nil {
			sessionLogger.Logger().Error("Failed to export session", zap.Error(err))
		}
	}

	if err := ss.sessionRepo.Update(context.Background(), session); err != nil {
		sessionLogger.Logger().Error("Failed to store finished session", zap.Error(err))
	}

	ss.mu.Lock()
	if ss.active == active {
		ss.active = nil
	}
	ss.mu.Unlock()
	ss.ports.Release()

	event := model.SessionEvent{
		EventType: model.EventSessionCompleted,
		SessionID: session.ID,
		Status:    session.Status,
		Tick:      session.Rows,
	}
	if session.Status == model.SessionStatusFailed {
		event.EventType = model.EventSessionFailed
		event.Error = *session.ErrorMessage
	}
	ss.publish(event)
}

// GetSession returns a session, its matrix included once finished
func (ss *SessionService) GetSession(ctx context.Context, id uuid.UUID) (*model.Session, error) {
	return ss.sessionRepo.GetByID(ctx, id)
}

// ListSessions lists sessions newest first
func (ss *SessionService) ListSessions(ctx context.Context, filter *repository.SessionFilter) ([]*model.Session, *PaginationResult, error) {
	sessions, total, err := ss.sessionRepo.List(ctx, filter)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	pagination := &PaginationResult{Total: total}
	if filter != nil && filter.PerPage > 0 {
		pagination.Page = filter.Page
		pagination.PerPage = filter.PerPage
		pagination.TotalPages = (total + filter.PerPage - 1) / filter.PerPage
	}
	return sessions, pagination, nil
}

// CancelSession asks the running session to stop after its current tick.
// The collected rows are kept.
func (ss *SessionService) CancelSession(ctx context.Context, id uuid.UUID) (*model.Session, error) {
	ss.mu.Lock()
	active := ss.active
	ss.mu.Unlock()

	if active != nil && active.id == id {
		active.cancel()
		ss.logger.Info("Session cancellation requested", zap.String("session_id", id.String()))
		return ss.sessionRepo.GetByID(ctx, id)
	}

	if _, err := ss.sessionRepo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return nil, ErrSessionNotRunning
}

// DeleteOldSessions removes finished sessions completed before the cutoff
func (ss *SessionService) DeleteOldSessions(ctx context.Context, before time.Time) (int, error) {
	sessions, _, err := ss.sessionRepo.List(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to list sessions: %w", err)
	}

	deleted := 0
	for _, session := range sessions {
		if !session.IsCompleted() || session.CompletedAt == nil || !session.CompletedAt.Before(before) {
			continue
		}
		if err := ss.sessionRepo.Delete(ctx, session.ID); err != nil {
			if errors.Is(err, repository.ErrSessionNotFound) {
				continue
			}
			return deleted, fmt.Errorf("failed to delete session %s: %w", session.ID, err)
		}
		deleted++
	}
	return deleted, nil
}

// ActiveSessionID returns the ID of the running session, if any
func (ss *SessionService) ActiveSessionID() (uuid.UUID, bool) {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if ss.active == nil {
		return uuid.Nil, false
	}
	return ss.active.id, true
}

// Wait blocks until the running session, if any, has finished
func (ss *SessionService) Wait(ctx context.Context) error {
	ss.mu.Lock()
	active := ss.active
	ss.mu.Unlock()

	if active == nil {
		return nil
	}

	select {
	case <-active.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown cancels the running session and waits for it to release the ports
func (ss *SessionService) Shutdown(ctx context.Context) error {
	if id, ok := ss.ActiveSessionID(); ok {
		if _, err := ss.CancelSession(ctx, id); err != nil && !errors.Is(err, ErrSessionNotRunning) {
			ss.logger.Warn("Failed to cancel session on shutdown", zap.Error(err))
		}
	}
	return ss.Wait(ctx)
}

func (ss *SessionService) scannerFor(params model.SessionParams) discovery.PortScanner {
	if len(params.Ports) > 0 {
		return discovery.NewStaticScanner(params.Ports...)
	}
	return ss.scanner
}

func (ss *SessionService) publish(event model.SessionEvent) {
	if ss.publisher == nil {
		return
	}
	event.Timestamp = time.Now()
	ss.publisher.Publish(event)
}

// PaginationResult represents pagination information
type PaginationResult struct {
	Total      int `json:"total"`
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	TotalPages int `json:"total_pages"`
}

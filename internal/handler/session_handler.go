// internal/handler/session_handler.go
package handler

import (
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"dmm-service/internal/discovery"
	"dmm-service/internal/export"
	"dmm-service/internal/model"
	"dmm-service/internal/repository"
	"dmm-service/internal/service"
	"dmm-service/internal/utils"
)

// SessionHandler handles sampling session HTTP requests
type SessionHandler struct {
	sessionService *service.SessionService
	logger         *utils.ServiceLogger
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(sessionService *service.SessionService, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{
		sessionService: sessionService,
		logger:         utils.NewServiceLogger(logger, "session-handler"),
	}
}

// RegisterRoutes registers session routes
func (h *SessionHandler) RegisterRoutes(router *gin.RouterGroup) {
	sessions := router.Group("/sessions")
	{
		sessions.POST("", h.StartSession)
		sessions.GET("", h.ListSessions)
		sessions.GET("/defaults", h.GetDefaults)
		sessions.GET("/:id", h.GetSession)
		sessions.DELETE("/:id", h.CancelSession)
		sessions.GET("/:id/export", h.ExportSession)
	}
}

// StartSession starts a sampling session
// @Summary Start session
// @Description Open the instruments and start sampling in the background
// @Tags Sessions
// @Accept json
// @Produce json
// @Param request body StartSessionRequest false "Session parameters, merged over the configured defaults"
// @Success 202 {object} utils.APIResponse{data=model.Session} "Session started"
// @Failure 400 {object} utils.APIResponse "Invalid parameters"
// @Failure 409 {object} utils.APIResponse "Serial ports in use"
// @Failure 502 {object} utils.APIResponse "Instrument could not be opened"
// @Router /api/v1/sessions [post]
func (h *SessionHandler) StartSession(c *gin.Context) {
	var req StartSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	params, err := req.Params(h.sessionService.DefaultParams())
	if err != nil {
		respondError(c, "Invalid session parameters", err)
		return
	}

	session, err := h.sessionService.StartSession(c.Request.Context(), params)
	if err != nil {
		h.requestLogger(c).Error("Failed to start session", zap.Error(err))
		respondError(c, "Failed to start session", err)
		return
	}

	utils.SuccessResponse(c, http.StatusAccepted, "Session started", session)
}

// ListSessions lists sessions with filtering
// @Summary List sessions
// @Description Get list of sessions, newest first, without their data
// @Tags Sessions
// @Produce json
// @Param page query int false "Page number" default(1)
// @Param per_page query int false "Items per page" default(20)
// @Param status query string false "Filter by status" Enums(RUNNING, COMPLETED, CANCELLED, FAILED)
// @Success 200 {object} utils.APIResponse{data=object{sessions=[]model.Session,pagination=service.PaginationResult}} "Sessions retrieved"
// @Router /api/v1/sessions [get]
func (h *SessionHandler) ListSessions(c *gin.Context) {
	filter := &repository.SessionFilter{
		Page:    1,
		PerPage: 20,
	}

	if page := c.Query("page"); page != "" {
		if p, err := strconv.Atoi(page); err == nil && p > 0 {
			filter.Page = p
		}
	}
	if perPage := c.Query("per_page"); perPage != "" {
		if pp, err := strconv.Atoi(perPage); err == nil && pp > 0 && pp <= 100 {
			filter.PerPage = pp
		}
	}
	if status := c.Query("status"); status != "" {
		s := model.SessionStatus(strings.ToUpper(status))
		filter.Status = &s
	}

	sessions, pagination, err := h.sessionService.ListSessions(c.Request.Context(), filter)
	if err != nil {
		h.requestLogger(c).Error("Failed to list sessions", zap.Error(err))
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to list sessions", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Sessions retrieved successfully", gin.H{
		"sessions":   sessions,
		"pagination": pagination,
	})
}

// GetDefaults returns the configured session parameters
// @Summary Get default session parameters
// @Tags Sessions
// @Produce json
// @Success 200 {object} utils.APIResponse{data=model.SessionParams} "Defaults retrieved"
// @Router /api/v1/sessions/defaults [get]
func (h *SessionHandler) GetDefaults(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Session defaults retrieved", h.sessionService.DefaultParams())
}

// GetSession returns one session including its data once finished
// @Summary Get session
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} utils.APIResponse{data=model.Session} "Session retrieved"
// @Failure 404 {object} utils.APIResponse "Session not found"
// @Router /api/v1/sessions/{id} [get]
func (h *SessionHandler) GetSession(c *gin.Context) {
	id, ok := parseSessionID(c)
	if !ok {
		return
	}

	session, err := h.sessionService.GetSession(c.Request.Context(), id)
	if err != nil {
		utils.ErrorResponse(c, statusForError(err), "Failed to get session", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Session retrieved successfully", session)
}

// CancelSession cancels a running session
// @Summary Cancel session
// @Description Stop sampling; rows collected so far are kept
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} utils.APIResponse{data=model.Session} "Cancellation requested"
// @Failure 404 {object} utils.APIResponse "Session not found"
// @Failure 409 {object} utils.APIResponse "Session is not running"
// @Router /api/v1/sessions/{id} [delete]
func (h *SessionHandler) CancelSession(c *gin.Context) {
	id, ok := parseSessionID(c)
	if !ok {
		return
	}

	session, err := h.sessionService.CancelSession(c.Request.Context(), id)
	if err != nil {
		utils.ErrorResponse(c, statusForError(err), "Failed to cancel session", err)
		return
	}

	h.requestLogger(c).Info("Session cancellation requested", zap.String("session_id", id.String()))
	utils.SuccessResponse(c, http.StatusOK, "Session cancellation requested", session)
}

// ExportSession downloads the data of a finished session
// @Summary Export session
// @Tags Sessions
// @Produce octet-stream
// @Param id path string true "Session ID"
// @Param format query string false "File format" Enums(csv, npy) default(csv)
// @Param header query bool false "Include a CSV header row" default(false)
// @Success 200 {file} file "Session data"
// @Failure 404 {object} utils.APIResponse "Session not found"
// @Failure 409 {object} utils.APIResponse "Session has no data yet"
// @Router /api/v1/sessions/{id}/export [get]
func (h *SessionHandler) ExportSession(c *gin.Context) {
	id, ok := parseSessionID(c)
	if !ok {
		return
	}

	format, err := export.ParseFormat(c.DefaultQuery("format", string(export.FormatCSV)))
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid export format", err)
		return
	}
	header, _ := strconv.ParseBool(c.DefaultQuery("header", "false"))

	session, err := h.sessionService.GetSession(c.Request.Context(), id)
	if err != nil {
		utils.ErrorResponse(c, statusForError(err), "Failed to get session", err)
		return
	}

	if session.Matrix == nil {
		utils.ErrorResponse(c, http.StatusConflict, "Session has no data yet",
			fmt.Errorf("session %s is %s", id, session.Status))
		return
	}

	c.Header("Content-Type", format.ContentType())
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s%s", id, format.Extension()))
	c.Status(http.StatusOK)

	if format == export.FormatCSV {
		err = export.WriteCSV(c.Writer, session.Matrix, header)
	} else {
		err = export.Write(c.Writer, format, session.Matrix)
	}
	if err != nil {
		h.requestLogger(c).Error("Failed to write export", zap.String("session_id", id.String()), zap.Error(err))
	}
}

// StartSessionRequest is the body of POST /sessions. Omitted fields take the
// configured defaults. Durations accept Go syntax ("500ms") or seconds ("0.5").
type StartSessionRequest struct {
	Mode         string           `json:"mode,omitempty"`
	Ports        []string         `json:"ports,omitempty"`
	TickInterval string           `json:"tick_interval,omitempty"`
	Duration     string           `json:"duration,omitempty"`
	Range        *model.RangeSpec `json:"range,omitempty"`
	Resolution   *model.Scalar    `json:"resolution,omitempty"`
	Trigger      string           `json:"trigger,omitempty"`
}

// Params merges the request over defaults. Every invalid field is reported,
// each as a *model.ConfigError.
func (r *StartSessionRequest) Params(defaults model.SessionParams) (model.SessionParams, error) {
	params := defaults
	params.Ports = nil

	var errs error

	if r.Mode != "" {
		mode, err := model.ParseMode(r.Mode)
		errs = multierr.Append(errs, err)
		if err == nil {
			params.Mode = mode
		}
	}

	if len(r.Ports) > 0 {
		params.Ports = append([]string(nil), r.Ports...)
	}

	if r.TickInterval != "" {
		d, err := parseDuration("tick_interval", r.TickInterval)
		errs = multierr.Append(errs, err)
		if err == nil {
			params.TickInterval = d
		}
	}

	if r.Duration != "" {
		d, err := parseDuration("duration", r.Duration)
		errs = multierr.Append(errs, err)
		if err == nil {
			params.Duration = d
		}
	}

	if r.Range != nil {
		params.Range = *r.Range
	}
	if r.Resolution != nil {
		params.Resolution = *r.Resolution
	}

	if r.Trigger != "" {
		trigger, err := model.ParseTriggerSource(r.Trigger)
		errs = multierr.Append(errs, err)
		if err == nil {
			params.Trigger = trigger
		}
	}

	return params, errs
}

// maxDurationSeconds is the longest time.Duration expressed in seconds
const maxDurationSeconds = float64(math.MaxInt64 / int64(time.Second))

// parseDuration accepts a Go duration or a number of seconds
func parseDuration(field, value string) (time.Duration, error) {
	if d, err := time.ParseDuration(value); err == nil {
		return d, nil
	}

	seconds, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return 0, &model.ConfigError{Field: field, Value: value, Reason: "expected a duration or a number of seconds"}
	}
	if math.Abs(seconds) > maxDurationSeconds {
		return 0, &model.ConfigError{Field: field, Value: value, Reason: "duration out of range"}
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// respondError reports parameter errors field by field and everything else
// with the status statusForError picks
func respondError(c *gin.Context, message string, err error) {
	fields := map[string]string{}
	for _, e := range multierr.Errors(err) {
		var configErr *model.ConfigError
		if !errors.As(e, &configErr) {
			utils.ErrorResponse(c, statusForError(err), message, err)
			return
		}
		fields[configErr.Field] = fmt.Sprintf("%s: %q", configErr.Reason, configErr.Value)
	}
	utils.ValidationErrorResponse(c, message, fields)
}

func (h *SessionHandler) requestLogger(c *gin.Context) *zap.Logger {
	return utils.LoggerWithRequestID(h.logger.Logger, utils.RequestID(c))
}

func parseSessionID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid session ID", err)
		return uuid.Nil, false
	}
	return id, true
}

// statusForError maps service and driver errors onto HTTP status codes
func statusForError(err error) int {
	var configErr *model.ConfigError
	var rangeErr *model.RangeError
	var connErr *model.ConnectionError

	switch {
	case errors.As(err, &configErr), errors.As(err, &rangeErr):
		return http.StatusBadRequest
	case errors.Is(err, repository.ErrSessionNotFound), errors.Is(err, service.ErrNoInstruments),
		errors.Is(err, discovery.ErrUnknownScanner):
		return http.StatusNotFound
	case errors.Is(err, service.ErrPortsBusy), errors.Is(err, service.ErrSessionNotRunning):
		return http.StatusConflict
	case errors.As(err, &connErr):
		return http.StatusBadGateway
	case errors.Is(err, discovery.ErrScannerUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

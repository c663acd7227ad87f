// internal/handler/health_handler.go
package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dmm-service/internal/config"
	"dmm-service/internal/discovery"
	"dmm-service/internal/service"
	"dmm-service/internal/utils"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	scanners       *discovery.ScannerManager
	sessionService *service.SessionService
	ports          *service.PortGuard
	config         *config.Config
	startedAt      time.Time
	logger         *utils.ServiceLogger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(
	scanners *discovery.ScannerManager,
	sessionService *service.SessionService,
	ports *service.PortGuard,
	config *config.Config,
	logger *zap.Logger,
) *HealthHandler {
	return &HealthHandler{
		scanners:       scanners,
		sessionService: sessionService,
		ports:          ports,
		config:         config,
		startedAt:      time.Now(),
		logger:         utils.NewServiceLogger(logger, "health-handler"),
	}
}

// RegisterRoutes registers health check routes
func (h *HealthHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/health", h.HealthCheck)
	router.GET("/ready", h.ReadinessCheck)
	router.GET("/live", h.LivenessCheck)
}

// HealthCheck performs general health check
// @Summary Health check
// @Description Get service health including port scanner availability and the active session
// @Tags Health
// @Produce json
// @Success 200 {object} HealthResponse "Service is healthy"
// @Failure 503 {object} HealthResponse "Service is unhealthy"
// @Router /health [get]
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	health := &HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Service:   h.config.App.Name,
		Version:   h.config.App.Version,
		Uptime:    time.Since(h.startedAt).String(),
		Checks:    make(map[string]CheckResult),
	}

	available := h.scanners.GetAvailableScanners()
	if len(available) == 0 {
		health.Status = "unhealthy"
		health.Checks["scanners"] = CheckResult{
			Status:  "unhealthy",
			Message: "No port scanner available",
		}
	} else {
		health.Checks["scanners"] = CheckResult{
			Status: "healthy",
			Data: map[string]interface{}{
				"available": available,
			},
		}
	}

	serialCheck := CheckResult{
		Status: "healthy",
		Data: map[string]interface{}{
			"driver": h.config.Serial.Driver,
			"busy":   h.ports.Busy(),
		},
	}
	if id, ok := h.sessionService.ActiveSessionID(); ok {
		serialCheck.Data["active_session"] = id.String()
	}
	health.Checks["serial"] = serialCheck

	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		h.logger.Warn("Health check failed")
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, health)
}

// ReadinessCheck for Kubernetes readiness probe
// @Summary Readiness check
// @Description Check if service is ready to accept traffic
// @Tags Health
// @Produce json
// @Success 200 {object} object{status=string,timestamp=string} "Service is ready"
// @Failure 503 {object} object{status=string,reason=string} "Service is not ready"
// @Router /ready [get]
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	if len(h.scanners.GetAvailableScanners()) == 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"reason": "no port scanner available",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ready",
		"timestamp": time.Now(),
	})
}

// LivenessCheck for Kubernetes liveness probe
// @Summary Liveness check
// @Tags Health
// @Produce json
// @Success 200 {object} object{status=string,timestamp=string} "Service is alive"
// @Router /live [get]
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now(),
	})
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]CheckResult `json:"checks"`
}

// CheckResult represents individual check result
type CheckResult struct {
	Status  string                 `json:"status"`
	Message string                 `json:"message,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

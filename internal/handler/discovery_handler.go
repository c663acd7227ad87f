// internal/handler/discovery_handler.go
package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dmm-service/internal/service"
	"dmm-service/internal/utils"
)

// DiscoveryHandler handles port discovery and identification requests
type DiscoveryHandler struct {
	discoveryService *service.DiscoveryService
	logger           *utils.ServiceLogger
}

// NewDiscoveryHandler creates a new discovery handler
func NewDiscoveryHandler(discoveryService *service.DiscoveryService, logger *zap.Logger) *DiscoveryHandler {
	return &DiscoveryHandler{
		discoveryService: discoveryService,
		logger:           utils.NewServiceLogger(logger, "discovery-handler"),
	}
}

// RegisterRoutes registers discovery routes
func (h *DiscoveryHandler) RegisterRoutes(router *gin.RouterGroup) {
	discovery := router.Group("/discovery")
	{
		discovery.GET("/ports", h.ScanPorts)
		discovery.POST("/identify", h.IdentifyInstruments)
		discovery.GET("/drivers", h.GetSupportedDrivers)
	}
}

// ScanPorts lists the serial ports that look like instruments
// @Summary Scan serial ports
// @Description List serial ports matching the configured description filters
// @Tags Discovery
// @Produce json
// @Param scanner query string false "Run only this scanner type" Enums(serial, static)
// @Success 200 {object} utils.APIResponse{data=object{ports_found=int,ports=[]model.SerialEndpoint}} "Port scan completed"
// @Failure 404 {object} utils.APIResponse "Unknown scanner"
// @Failure 503 {object} utils.APIResponse "Scanner not available"
// @Router /api/v1/discovery/ports [get]
func (h *DiscoveryHandler) ScanPorts(c *gin.Context) {
	endpoints, err := h.discoveryService.ScanPorts(c.Request.Context(), c.Query("scanner"))
	if err != nil {
		utils.ErrorResponse(c, statusForError(err), "Failed to scan ports", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Port scan completed", gin.H{
		"ports_found": len(endpoints),
		"ports":       endpoints,
	})
}

// IdentifyInstruments queries *IDN? on each port
// @Summary Identify instruments
// @Description Open each port, read its identification string and close it again
// @Tags Discovery
// @Accept json
// @Produce json
// @Param request body IdentifyRequest false "Ports to identify; empty identifies every discovered port"
// @Success 200 {object} utils.APIResponse{data=[]service.IdentifyResult} "Identification completed"
// @Failure 409 {object} utils.APIResponse "Serial ports in use"
// @Router /api/v1/discovery/identify [post]
func (h *DiscoveryHandler) IdentifyInstruments(c *gin.Context) {
	var req IdentifyRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	results, err := h.discoveryService.IdentifyInstruments(c.Request.Context(), req.Ports)
	if err != nil {
		utils.LoggerWithRequestID(h.logger.Logger, utils.RequestID(c)).Error("Failed to identify instruments", zap.Error(err))
		utils.ErrorResponse(c, statusForError(err), "Failed to identify instruments", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Identification completed", results)
}

// GetSupportedDrivers returns the registered instrument drivers
// @Summary Get supported drivers
// @Tags Discovery
// @Produce json
// @Success 200 {object} utils.APIResponse{data=[]string} "Supported drivers retrieved"
// @Router /api/v1/discovery/drivers [get]
func (h *DiscoveryHandler) GetSupportedDrivers(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Supported drivers retrieved", h.discoveryService.GetSupportedDrivers())
}

// IdentifyRequest represents an identification request
type IdentifyRequest struct {
	Ports []string `json:"ports,omitempty"`
}

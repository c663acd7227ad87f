// internal/utils/response.go
package utils

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// RequestIDKey is the gin context key holding the request ID
const RequestIDKey = "request_id"

// APIResponse is the envelope of every JSON reply
type APIResponse struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"`
}

// APIError describes a failed request. Fields maps each rejected
// parameter to the reason it was rejected.
type APIError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details string            `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// errorCodes are the machine readable codes clients switch on
var errorCodes = map[int]string{
	http.StatusBadRequest:          "BAD_REQUEST",
	http.StatusNotFound:            "NOT_FOUND",
	http.StatusConflict:            "CONFLICT",
	http.StatusInternalServerError: "INTERNAL_SERVER_ERROR",
	http.StatusBadGateway:          "INSTRUMENT_UNREACHABLE",
	http.StatusServiceUnavailable:  "SERVICE_UNAVAILABLE",
}

// ValidationErrorCode marks a 400 carrying per-field reasons
const ValidationErrorCode = "VALIDATION_ERROR"

// SuccessResponse sends a successful response
func SuccessResponse(c *gin.Context, statusCode int, message string, data interface{}) {
	c.JSON(statusCode, APIResponse{
		Success:   true,
		Message:   message,
		Data:      data,
		Timestamp: time.Now(),
		RequestID: RequestID(c),
	})
}

// ErrorResponse sends an error response; err becomes the details
func ErrorResponse(c *gin.Context, statusCode int, message string, err error) {
	apiError := &APIError{
		Code:    errorCode(statusCode),
		Message: message,
	}
	if err != nil {
		apiError.Details = err.Error()
	}
	abort(c, statusCode, apiError)
}

// ValidationErrorResponse rejects a request with one reason per parameter
func ValidationErrorResponse(c *gin.Context, message string, fields map[string]string) {
	abort(c, http.StatusBadRequest, &APIError{
		Code:    ValidationErrorCode,
		Message: message,
		Fields:  fields,
	})
}

func abort(c *gin.Context, statusCode int, apiError *APIError) {
	c.JSON(statusCode, APIResponse{
		Success:   false,
		Message:   apiError.Message,
		Error:     apiError,
		Timestamp: time.Now(),
		RequestID: RequestID(c),
	})
}

// RequestID returns the ID set by the request ID middleware, or ""
func RequestID(c *gin.Context) string {
	if requestID, ok := c.Get(RequestIDKey); ok {
		if s, ok := requestID.(string); ok {
			return s
		}
	}
	return ""
}

func errorCode(statusCode int) string {
	if code, ok := errorCodes[statusCode]; ok {
		return code
	}
	return "UNKNOWN_ERROR"
}

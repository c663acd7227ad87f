// Package docs registers the OpenAPI description of the HTTP API with swag.
// gin-swagger serves it at /swagger/doc.json and renders it at /swagger/index.html.
// Keep it in step with the @Router annotations on the handlers.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/health": {
            "get": {
                "description": "Get service health including port scanner availability and the active session",
                "produces": ["application/json"],
                "tags": ["Health"],
                "summary": "Health check",
                "responses": {
                    "200": {"description": "Service is healthy", "schema": {"$ref": "#/definitions/handler.HealthResponse"}},
                    "503": {"description": "Service is unhealthy", "schema": {"$ref": "#/definitions/handler.HealthResponse"}}
                }
            }
        },
        "/ready": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Health"],
                "summary": "Readiness check",
                "responses": {
                    "200": {"description": "Service is ready", "schema": {"$ref": "#/definitions/utils.APIResponse"}},
                    "503": {"description": "Service is not ready", "schema": {"$ref": "#/definitions/utils.APIResponse"}}
                }
            }
        },
        "/live": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Health"],
                "summary": "Liveness check",
                "responses": {
                    "200": {"description": "Service is alive", "schema": {"$ref": "#/definitions/utils.APIResponse"}}
                }
            }
        },
        "/api/v1/sessions": {
            "get": {
                "description": "Get list of sessions, newest first, without their data",
                "produces": ["application/json"],
                "tags": ["Sessions"],
                "summary": "List sessions",
                "parameters": [
                    {"type": "integer", "default": 1, "description": "Page number", "name": "page", "in": "query"},
                    {"type": "integer", "default": 20, "description": "Items per page", "name": "per_page", "in": "query"},
                    {"enum": ["RUNNING", "COMPLETED", "CANCELLED", "FAILED"], "type": "string", "description": "Filter by status", "name": "status", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "Sessions retrieved", "schema": {"$ref": "#/definitions/utils.APIResponse"}}
                }
            },
            "post": {
                "description": "Open the instruments and start sampling in the background",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Sessions"],
                "summary": "Start session",
                "parameters": [
                    {"description": "Session parameters, merged over the configured defaults", "name": "request", "in": "body", "schema": {"$ref": "#/definitions/handler.StartSessionRequest"}}
                ],
                "responses": {
                    "202": {"description": "Session started", "schema": {"$ref": "#/definitions/model.Session"}},
                    "400": {"description": "Invalid parameters", "schema": {"$ref": "#/definitions/utils.APIResponse"}},
                    "404": {"description": "No instruments discovered", "schema": {"$ref": "#/definitions/utils.APIResponse"}},
                    "409": {"description": "Serial ports in use", "schema": {"$ref": "#/definitions/utils.APIResponse"}},
                    "502": {"description": "Instrument could not be opened", "schema": {"$ref": "#/definitions/utils.APIResponse"}}
                }
            }
        },
        "/api/v1/sessions/defaults": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Sessions"],
                "summary": "Get default session parameters",
                "responses": {
                    "200": {"description": "Defaults retrieved", "schema": {"$ref": "#/definitions/model.SessionParams"}}
                }
            }
        },
        "/api/v1/sessions/{id}": {
            "get": {
                "description": "Get status and, once finished, the sampled matrix",
                "produces": ["application/json"],
                "tags": ["Sessions"],
                "summary": "Get session",
                "parameters": [
                    {"type": "string", "description": "Session ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "Session retrieved", "schema": {"$ref": "#/definitions/model.Session"}},
                    "404": {"description": "Session not found", "schema": {"$ref": "#/definitions/utils.APIResponse"}}
                }
            },
            "delete": {
                "description": "Stop a running session before its next tick; collected rows are kept",
                "produces": ["application/json"],
                "tags": ["Sessions"],
                "summary": "Cancel session",
                "parameters": [
                    {"type": "string", "description": "Session ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "Cancellation requested", "schema": {"$ref": "#/definitions/model.Session"}},
                    "404": {"description": "Session not found", "schema": {"$ref": "#/definitions/utils.APIResponse"}},
                    "409": {"description": "Session is not running", "schema": {"$ref": "#/definitions/utils.APIResponse"}}
                }
            }
        },
        "/api/v1/sessions/{id}/export": {
            "get": {
                "produces": ["text/csv", "application/octet-stream"],
                "tags": ["Sessions"],
                "summary": "Download session data",
                "parameters": [
                    {"type": "string", "description": "Session ID", "name": "id", "in": "path", "required": true},
                    {"enum": ["csv", "npy"], "type": "string", "default": "csv", "description": "File format", "name": "format", "in": "query"},
                    {"type": "boolean", "default": false, "description": "Include a CSV header row", "name": "header", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "Data file", "schema": {"type": "file"}},
                    "400": {"description": "Unknown format", "schema": {"$ref": "#/definitions/utils.APIResponse"}},
                    "404": {"description": "Session not found", "schema": {"$ref": "#/definitions/utils.APIResponse"}},
                    "409": {"description": "Session has no data yet", "schema": {"$ref": "#/definitions/utils.APIResponse"}}
                }
            }
        },
        "/api/v1/discovery/ports": {
            "get": {
                "description": "List serial ports matching the configured description filters",
                "produces": ["application/json"],
                "tags": ["Discovery"],
                "summary": "Scan serial ports",
                "parameters": [
                    {"enum": ["serial", "static"], "type": "string", "description": "Run only this scanner type", "name": "scanner", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "Port scan completed", "schema": {"$ref": "#/definitions/utils.APIResponse"}},
                    "404": {"description": "Unknown scanner", "schema": {"$ref": "#/definitions/utils.APIResponse"}},
                    "503": {"description": "Scanner not available", "schema": {"$ref": "#/definitions/utils.APIResponse"}}
                }
            }
        },
        "/api/v1/discovery/identify": {
            "post": {
                "description": "Open each port, read its identification string and close it again",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Discovery"],
                "summary": "Identify instruments",
                "parameters": [
                    {"description": "Ports to identify; empty identifies every discovered port", "name": "request", "in": "body", "schema": {"$ref": "#/definitions/handler.IdentifyRequest"}}
                ],
                "responses": {
                    "200": {"description": "Identification completed", "schema": {"type": "array", "items": {"$ref": "#/definitions/service.IdentifyResult"}}},
                    "409": {"description": "Serial ports in use", "schema": {"$ref": "#/definitions/utils.APIResponse"}}
                }
            }
        },
        "/api/v1/discovery/drivers": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Discovery"],
                "summary": "Get supported drivers",
                "responses": {
                    "200": {"description": "Supported drivers retrieved", "schema": {"type": "array", "items": {"type": "string"}}}
                }
            }
        }
    },
    "definitions": {
        "handler.CheckResult": {
            "type": "object",
            "properties": {
                "status": {"type": "string"},
                "message": {"type": "string"},
                "data": {"type": "object", "additionalProperties": true}
            }
        },
        "handler.HealthResponse": {
            "type": "object",
            "properties": {
                "status": {"type": "string"},
                "timestamp": {"type": "string"},
                "service": {"type": "string"},
                "version": {"type": "string"},
                "uptime": {"type": "string"},
                "checks": {"type": "object", "additionalProperties": {"$ref": "#/definitions/handler.CheckResult"}}
            }
        },
        "handler.IdentifyRequest": {
            "type": "object",
            "properties": {
                "ports": {"type": "array", "items": {"type": "string"}}
            }
        },
        "handler.StartSessionRequest": {
            "type": "object",
            "properties": {
                "mode": {"type": "string", "enum": ["DCV", "ACV", "DCI", "ACI", "RES2", "RES4", "FREQ", "PER"]},
                "ports": {"type": "array", "items": {"type": "string"}},
                "tick_interval": {"type": "string", "example": "500ms"},
                "duration": {"type": "string", "example": "10000"},
                "range": {"description": "AUTO, MIN, MAX, DEF or a number; a list assigns one range per device"},
                "resolution": {"description": "AUTO, MIN, MAX, DEF or a number"},
                "trigger": {"type": "string", "enum": ["IMM", "BUS", "EXT"]}
            }
        },
        "driver.DeviceInfo": {
            "type": "object",
            "properties": {
                "port": {"type": "string"},
                "manufacturer": {"type": "string"},
                "model": {"type": "string"},
                "serial_number": {"type": "string"},
                "firmware_version": {"type": "string"},
                "raw": {"type": "string"}
            }
        },
        "model.Matrix": {
            "type": "object",
            "properties": {
                "devices": {"type": "array", "items": {"type": "string"}},
                "samples": {"type": "array", "items": {"$ref": "#/definitions/model.Sample"}}
            }
        },
        "model.Sample": {
            "type": "object",
            "properties": {
                "elapsed": {"type": "number"},
                "readings": {"type": "array", "items": {"type": "number"}}
            }
        },
        "model.SerialEndpoint": {
            "type": "object",
            "properties": {
                "name": {"type": "string"},
                "description": {"type": "string"},
                "is_usb": {"type": "boolean"},
                "vid": {"type": "string"},
                "pid": {"type": "string"},
                "serial_number": {"type": "string"}
            }
        },
        "model.Session": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "params": {"$ref": "#/definitions/model.SessionParams"},
                "status": {"type": "string", "enum": ["PENDING", "RUNNING", "COMPLETED", "CANCELLED", "FAILED"]},
                "devices": {"type": "array", "items": {"type": "string"}},
                "started_at": {"type": "string"},
                "completed_at": {"type": "string"},
                "error_message": {"type": "string"},
                "rows": {"type": "integer"},
                "matrix": {"$ref": "#/definitions/model.Matrix"}
            }
        },
        "model.SessionParams": {
            "type": "object",
            "properties": {
                "mode": {"type": "string"},
                "ports": {"type": "array", "items": {"type": "string"}},
                "tick_interval": {"type": "integer", "description": "nanoseconds"},
                "duration": {"type": "integer", "description": "nanoseconds"},
                "range": {},
                "resolution": {},
                "trigger": {"type": "string"}
            }
        },
        "service.IdentifyResult": {
            "type": "object",
            "properties": {
                "port": {"type": "string"},
                "endpoint": {"$ref": "#/definitions/model.SerialEndpoint"},
                "info": {"$ref": "#/definitions/driver.DeviceInfo"},
                "error": {"type": "string"}
            }
        },
        "service.PaginationResult": {
            "type": "object",
            "properties": {
                "total": {"type": "integer"},
                "page": {"type": "integer"},
                "per_page": {"type": "integer"},
                "total_pages": {"type": "integer"}
            }
        },
        "utils.APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "details": {"type": "string"},
                "fields": {"type": "object", "additionalProperties": {"type": "string"}}
            }
        },
        "utils.APIResponse": {
            "type": "object",
            "properties": {
                "success": {"type": "boolean"},
                "message": {"type": "string"},
                "data": {},
                "error": {"$ref": "#/definitions/utils.APIError"},
                "timestamp": {"type": "string"},
                "request_id": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "DMM Service API",
	Description:      "Sampling service for 34401A-compatible multimeters on serial lines",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}

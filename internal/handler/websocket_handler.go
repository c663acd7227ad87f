// internal/handler/websocket_handler.go
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"dmm-service/internal/model"
	"dmm-service/internal/repository"
	"dmm-service/internal/service"
	"dmm-service/internal/utils"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second
)

// WebSocketHandler streams session events to WebSocket clients
type WebSocketHandler struct {
	upgrader       websocket.Upgrader
	connections    *ConnectionManager
	sessionService *service.SessionService
	logger         *utils.ServiceLogger
	unsubscribe    func()
}

// NewWebSocketHandler creates a new WebSocket handler fed by the event bus
func NewWebSocketHandler(
	sessionService *service.SessionService,
	eventBus *EventBus,
	logger *zap.Logger,
) *WebSocketHandler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Origins are enforced by the CORS middleware
			return true
		},
	}

	events, unsubscribe := eventBus.Subscribe(allSessions)

	handler := &WebSocketHandler{
		upgrader:       upgrader,
		connections:    NewConnectionManager(),
		sessionService: sessionService,
		logger:         utils.NewServiceLogger(logger, "websocket-handler"),
		unsubscribe:    unsubscribe,
	}

	go handler.forwardEvents(events)

	return handler
}

// RegisterRoutes registers WebSocket routes
func (h *WebSocketHandler) RegisterRoutes(router *gin.RouterGroup) {
	// Events of one session
	router.GET("/sessions/:id", h.HandleSessionConnection)

	// Events of every session
	router.GET("/events", h.HandleEventConnection)
}

// Close stops forwarding events
func (h *WebSocketHandler) Close() {
	h.unsubscribe()
}

// HandleSessionConnection streams the events of one session
func (h *WebSocketHandler) HandleSessionConnection(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid session ID", err)
		return
	}

	session, err := h.sessionService.GetSession(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			utils.ErrorResponse(c, http.StatusNotFound, "Session not found", err)
			return
		}
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to get session", err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}

	sessionID := id.String()
	client := newClient(uuid.New().String(), conn, ClientTypeSession)
	client.SessionID = &sessionID
	client.UserAgent = c.Request.UserAgent()
	client.RemoteAddr = c.Request.RemoteAddr

	h.connections.Register(client)
	h.logger.Info("Session WebSocket client connected",
		zap.String("client_id", client.ID),
		zap.String("session_id", sessionID),
		zap.String("remote_addr", client.RemoteAddr),
	)

	// Initial status so late subscribers know where the session stands
	h.sendMessage(client, &WebSocketMessage{
		Type:      "session_status",
		Data:      session,
		Timestamp: time.Now(),
	})

	go h.handleClientRead(client)
	go h.handleClientWrite(client)
}

// HandleEventConnection streams the events of every session
func (h *WebSocketHandler) HandleEventConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}

	client := newClient(uuid.New().String(), conn, ClientTypeEvents)
	client.UserAgent = c.Request.UserAgent()
	client.RemoteAddr = c.Request.RemoteAddr

	h.connections.Register(client)
	h.logger.Info("Event WebSocket client connected",
		zap.String("client_id", client.ID),
	)

	go h.handleClientRead(client)
	go h.handleClientWrite(client)
}

// handleClientRead handles reading messages from WebSocket client
func (h *WebSocketHandler) handleClientRead(client *Client) {
	defer func() {
		h.connections.Unregister(client)
		client.Connection.Close()
	}()

	client.Connection.SetReadDeadline(time.Now().Add(pongWait))
	client.Connection.SetPongHandler(func(string) error {
		client.Connection.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, messageBytes, err := client.Connection.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Error("WebSocket read error",
					zap.Error(err),
					zap.String("client_id", client.ID),
				)
			}
			break
		}

		var message WebSocketMessage
		if err := json.Unmarshal(messageBytes, &message); err != nil {
			h.logger.Error("Failed to parse WebSocket message",
				zap.Error(err),
				zap.String("client_id", client.ID),
			)
			continue
		}

		h.handleClientMessage(client, &message)
	}
}

// handleClientWrite handles writing messages to WebSocket client
func (h *WebSocketHandler) handleClientWrite(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Connection.Close()
	}()

	for {
		select {
		case message := <-client.Send:
			client.Connection.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Connection.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Error("WebSocket write error",
					zap.Error(err),
					zap.String("client_id", client.ID),
				)
				return
			}

		case <-ticker.C:
			client.Connection.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-client.Done():
			client.Connection.SetWriteDeadline(time.Now().Add(writeWait))
			client.Connection.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// handleClientMessage handles incoming client messages
func (h *WebSocketHandler) handleClientMessage(client *Client, message *WebSocketMessage) {
	switch message.Type {
	case "ping":
		h.sendMessage(client, &WebSocketMessage{
			Type:      "pong",
			Timestamp: time.Now(),
			RequestID: message.RequestID,
		})
	case "cancel":
		h.cancelSession(client, message)
	default:
		h.logger.Warn("Unknown message type",
			zap.String("type", message.Type),
			zap.String("client_id", client.ID),
		)
	}
}

// cancelSession cancels the session a session client follows
func (h *WebSocketHandler) cancelSession(client *Client, message *WebSocketMessage) {
	if client.SessionID == nil {
		h.sendError(client, "cancel only available on session connections")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	id := uuid.MustParse(*client.SessionID)
	session, err := h.sessionService.CancelSession(ctx, id)
	if err != nil {
		h.sendError(client, err.Error())
		return
	}

	h.sendMessage(client, &WebSocketMessage{
		Type:      "cancel_response",
		Data:      session,
		Timestamp: time.Now(),
		RequestID: message.RequestID,
	})
}

// forwardEvents relays bus events to the interested clients
func (h *WebSocketHandler) forwardEvents(events <-chan model.SessionEvent) {
	for event := range events {
		messageBytes, err := json.Marshal(&WebSocketMessage{
			Type:      "session_event",
			Data:      event,
			Timestamp: event.Timestamp,
		})
		if err != nil {
			h.logger.Error("Failed to marshal session event", zap.Error(err))
			continue
		}

		for _, clientID := range h.connections.Broadcast(event.SessionID.String(), messageBytes) {
			h.logger.Warn("Client send channel full during broadcast",
				zap.String("client_id", clientID),
			)
		}
	}
}

// sendMessage sends a message to a client
func (h *WebSocketHandler) sendMessage(client *Client, message *WebSocketMessage) {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("Failed to marshal WebSocket message", zap.Error(err))
		return
	}

	select {
	case client.Send <- messageBytes:
	default:
		h.logger.Warn("Client send channel full, dropping message",
			zap.String("client_id", client.ID),
		)
	}
}

// sendError sends an error message to a client
func (h *WebSocketHandler) sendError(client *Client, errorMsg string) {
	h.sendMessage(client, &WebSocketMessage{
		Type: "error",
		Data: map[string]interface{}{
			"error": errorMsg,
		},
		Timestamp: time.Now(),
	})
}

// GetConnectionStats returns connection statistics
func (h *WebSocketHandler) GetConnectionStats() *ConnectionStats {
	return h.connections.GetStats()
}

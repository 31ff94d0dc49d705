package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"telesession/internal/core/domain"
	"telesession/internal/core/ports"
	"telesession/internal/core/services"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type ServerConfig struct {
	AuthTimeout  time.Duration
	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		AuthTimeout:  10 * time.Second,
		PingInterval: 30 * time.Second,
		ReadTimeout:  90 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// remoteClient is one authenticated websocket connection on the server side.
type remoteClient struct {
	conn *websocket.Conn
	wmu  sync.Mutex

	userID domain.UserID
	name   string
	role   domain.Role
	roomID domain.RoomID
	joined time.Time
	audio  bool
	video  bool
}

func (c *remoteClient) send(cfg ServerConfig, data interface{}) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
	return c.conn.WriteJSON(data)
}

func (c *remoteClient) participant() domain.Participant {
	return domain.Participant{
		UserID:       c.userID,
		Role:         c.role,
		Name:         c.name,
		Status:       domain.ParticipantConnected,
		AudioEnabled: c.audio,
		VideoEnabled: c.video,
		JoinedAt:     c.joined,
	}
}

// Server is the room-scoped signaling endpoint. Every connection must
// authenticate before any other message is accepted; room membership lives in
// memory only, while chat messages are written to the durable store and
// announced to the room as payload-free notifications.
type Server struct {
	auth      services.AuthService
	store     ports.SessionStore
	telemetry ports.Telemetry
	cfg       ServerConfig
	logger    *zap.SugaredLogger

	mu    sync.RWMutex
	rooms map[domain.RoomID]map[domain.UserID]*remoteClient
}

func NewServer(auth services.AuthService, store ports.SessionStore, telemetry ports.Telemetry, cfg ServerConfig, logger *zap.SugaredLogger) *Server {
	if telemetry == nil {
		telemetry = ports.NopTelemetry{}
	}
	return &Server{
		auth:      auth,
		store:     store,
		telemetry: telemetry,
		cfg:       cfg,
		logger:    logger,
		rooms:     make(map[domain.RoomID]map[domain.UserID]*remoteClient),
	}
}

func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	client, err := s.authenticate(conn)
	if err != nil {
		s.logger.Warnw("authentication failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	s.telemetry.RecordConnect(false)
	s.logger.Infow("client authenticated", "user_id", client.userID, "role", client.role)

	conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return nil
	})

	pingTicker := time.NewTicker(s.cfg.PingInterval)
	defer pingTicker.Stop()

	messageChan := make(chan ports.OutboundMessage, 16)
	errorChan := make(chan error, 1)

	go func() {
		for {
			var msg ports.OutboundMessage
			if err := conn.ReadJSON(&msg); err != nil {
				errorChan <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
			messageChan <- msg
		}
	}()

	for {
		select {
		case msg := <-messageChan:
			if err := s.handleMessage(r.Context(), client, msg); err != nil {
				s.logger.Infow("error handling message", "user_id", client.userID, "type", msg.Type, "error", err)
				s.sendError(client, err.Error())
			}

		case <-pingTicker.C:
			client.wmu.Lock()
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			client.wmu.Unlock()
			if err != nil {
				s.logger.Infow("error sending ping", "user_id", client.userID, "error", err)
				s.disconnect(client)
				return
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Infow("read error", "user_id", client.userID, "error", err)
			}
			s.disconnect(client)
			return
		}
	}
}

// authenticate requires the first message to be an authenticate envelope with
// a valid token; anything else closes the connection.
func (s *Server) authenticate(conn *websocket.Conn) (*remoteClient, error) {
	conn.SetReadDeadline(time.Now().Add(s.cfg.AuthTimeout))

	var msg ports.OutboundMessage
	if err := conn.ReadJSON(&msg); err != nil {
		return nil, fmt.Errorf("read authenticate: %w", err)
	}
	if msg.Type != "authenticate" {
		s.writeJSON(conn, map[string]interface{}{
			"type":    "auth-error",
			"message": "authentication required",
		})
		return nil, domain.ErrAuthRequired
	}

	claims, err := s.auth.ValidateToken(msg.Token)
	if err != nil {
		s.writeJSON(conn, map[string]interface{}{
			"type":    "auth-error",
			"message": "invalid or expired token",
		})
		return nil, fmt.Errorf("%w: %v", domain.ErrAuthFailed, err)
	}

	client := &remoteClient{
		conn:   conn,
		userID: claims.UserID,
		name:   claims.Name,
		role:   claims.Role,
		audio:  true,
		video:  true,
	}

	s.writeJSON(conn, map[string]interface{}{
		"type": "authenticated",
		"user": map[string]interface{}{
			"id":   claims.UserID,
			"name": claims.Name,
			"role": claims.Role,
		},
	})
	return client, nil
}

func (s *Server) handleMessage(ctx context.Context, client *remoteClient, msg ports.OutboundMessage) error {
	switch msg.Type {
	case "join-room":
		return s.handleJoinRoom(client, msg)
	case "leave-room":
		s.handleLeaveRoom(client)
		return nil
	case "chat-message":
		return s.handleChatMessage(ctx, client, msg)
	case "vitals-update":
		return s.handleVitalsUpdate(client, msg)
	case "toggle-media":
		return s.handleToggleMedia(client, msg)
	case "webrtc-signal":
		return s.handleSignalRelay(client, msg)
	case "heartbeat":
		return client.send(s.cfg, map[string]interface{}{
			"type":      "pong",
			"timestamp": msg.Timestamp,
		})
	default:
		return fmt.Errorf("unknown message type: %s", msg.Type)
	}
}

func (s *Server) handleJoinRoom(client *remoteClient, msg ports.OutboundMessage) error {
	if msg.RoomID == "" {
		return fmt.Errorf("roomId is required")
	}

	s.mu.Lock()
	if client.roomID != "" && client.roomID != msg.RoomID {
		s.removeLocked(client)
	}
	room := s.rooms[msg.RoomID]
	if room == nil {
		room = make(map[domain.UserID]*remoteClient)
		s.rooms[msg.RoomID] = room
	}

	// A rejoin from the same user replaces the old connection.
	if old, ok := room[client.userID]; ok && old != client {
		old.conn.Close()
	}
	client.roomID = msg.RoomID
	client.joined = time.Now()
	room[client.userID] = client

	participants := make([]domain.Participant, 0, len(room))
	for _, c := range room {
		participants = append(participants, c.participant())
	}
	count := len(room)
	s.mu.Unlock()

	s.telemetry.SetParticipants(count)
	s.logger.Infow("participant joined", "room_id", msg.RoomID, "user_id", client.userID, "participants", count)

	if err := client.send(s.cfg, map[string]interface{}{
		"type":         "room-joined",
		"roomId":       msg.RoomID,
		"participants": participants,
	}); err != nil {
		return err
	}

	s.broadcast(client, map[string]interface{}{
		"type":        "participant-joined",
		"participant": client.participant(),
	})
	return nil
}

func (s *Server) handleLeaveRoom(client *remoteClient) {
	s.mu.Lock()
	roomID := client.roomID
	s.removeLocked(client)
	count := 0
	if room, ok := s.rooms[roomID]; ok {
		count = len(room)
	}
	s.mu.Unlock()

	if roomID == "" {
		return
	}
	s.telemetry.SetParticipants(count)
	s.logger.Infow("participant left", "room_id", roomID, "user_id", client.userID)

	s.broadcastToRoom(roomID, client.userID, map[string]interface{}{
		"type":      "participant-left",
		"userId":    client.userID,
		"timestamp": time.Now().UnixMilli(),
	})
}

// handleChatMessage persists the message (the store assigns ID and timestamp)
// and announces its existence to the room. The announcement never carries the
// payload; receivers re-read from the store so ordering follows the server
// timestamp.
func (s *Server) handleChatMessage(ctx context.Context, client *remoteClient, msg ports.OutboundMessage) error {
	if msg.SessionID == "" {
		return fmt.Errorf("sessionId is required")
	}
	if msg.Message == "" && msg.FileURL == "" {
		return fmt.Errorf("message or fileUrl is required")
	}

	kind := domain.MessageText
	if msg.Kind == string(domain.MessageFile) {
		kind = domain.MessageFile
	}

	chat := &domain.ChatMessage{
		ID:         domain.MessageID(uuid.NewString()),
		SessionID:  msg.SessionID,
		SenderID:   client.userID,
		SenderName: client.name,
		Message:    msg.Message,
		Kind:       kind,
		FileURL:    msg.FileURL,
		FileName:   msg.FileName,
	}

	if err := s.store.AppendMessage(ctx, msg.SessionID, chat); err != nil {
		return fmt.Errorf("persist chat message: %w", err)
	}

	notify := map[string]interface{}{
		"type":      "chat-message",
		"sessionId": msg.SessionID,
	}
	s.broadcast(client, notify)
	// The sender refetches too; its own send is not an implicit ack.
	if err := client.send(s.cfg, notify); err != nil {
		s.logger.Debugw("chat notify echo failed", "user_id", client.userID, "error", err)
	}
	return nil
}

func (s *Server) handleVitalsUpdate(client *remoteClient, msg ports.OutboundMessage) error {
	if msg.Vitals == nil {
		return fmt.Errorf("vitals payload is required")
	}
	vitals := *msg.Vitals
	if vitals.Timestamp.IsZero() {
		vitals.Timestamp = time.Now()
	}

	s.broadcast(client, map[string]interface{}{
		"type":   "vitals-update",
		"from":   client.userID,
		"vitals": vitals,
	})
	return nil
}

func (s *Server) handleToggleMedia(client *remoteClient, msg ports.OutboundMessage) error {
	if msg.Kind != string(domain.MediaAudio) && msg.Kind != string(domain.MediaVideo) {
		return fmt.Errorf("kind must be audio or video")
	}
	if msg.Enabled == nil {
		return fmt.Errorf("enabled is required")
	}

	s.mu.Lock()
	if msg.Kind == string(domain.MediaAudio) {
		client.audio = *msg.Enabled
	} else {
		client.video = *msg.Enabled
	}
	s.mu.Unlock()

	s.broadcast(client, map[string]interface{}{
		"type":    "participant-toggled-media",
		"userId":  client.userID,
		"kind":    msg.Kind,
		"enabled": *msg.Enabled,
	})
	return nil
}

func (s *Server) handleSignalRelay(client *remoteClient, msg ports.OutboundMessage) error {
	if msg.Payload == nil {
		return fmt.Errorf("payload is required")
	}
	s.broadcast(client, map[string]interface{}{
		"type":    "webrtc-signal",
		"from":    client.userID,
		"payload": msg.Payload,
	})
	return nil
}

// disconnect removes the client from its room and tells the remaining
// participants, stamping the departure so late deliveries can be recognized
// as stale.
func (s *Server) disconnect(client *remoteClient) {
	s.mu.Lock()
	roomID := client.roomID
	s.removeLocked(client)
	count := 0
	if room, ok := s.rooms[roomID]; ok {
		count = len(room)
	}
	s.mu.Unlock()

	s.telemetry.RecordDisconnect(websocket.CloseAbnormalClosure)
	if roomID == "" {
		return
	}
	s.telemetry.SetParticipants(count)
	s.logger.Infow("participant disconnected", "room_id", roomID, "user_id", client.userID)

	s.broadcastToRoom(roomID, client.userID, map[string]interface{}{
		"type":      "participant-left",
		"userId":    client.userID,
		"timestamp": time.Now().UnixMilli(),
	})
}

func (s *Server) removeLocked(client *remoteClient) {
	if client.roomID == "" {
		return
	}
	if room, ok := s.rooms[client.roomID]; ok {
		if room[client.userID] == client {
			delete(room, client.userID)
		}
		if len(room) == 0 {
			delete(s.rooms, client.roomID)
		}
	}
	client.roomID = ""
}

// broadcast sends to everyone in the sender's room except the sender.
func (s *Server) broadcast(sender *remoteClient, data interface{}) {
	s.mu.RLock()
	roomID := sender.roomID
	s.mu.RUnlock()
	s.broadcastToRoom(roomID, sender.userID, data)
}

func (s *Server) broadcastToRoom(roomID domain.RoomID, exclude domain.UserID, data interface{}) {
	if roomID == "" {
		return
	}

	s.mu.RLock()
	targets := make([]*remoteClient, 0)
	for id, c := range s.rooms[roomID] {
		if id != exclude {
			targets = append(targets, c)
		}
	}
	s.mu.RUnlock()

	for _, c := range targets {
		if err := c.send(s.cfg, data); err != nil {
			s.logger.Debugw("broadcast send failed", "user_id", c.userID, "error", err)
		}
	}
}

func (s *Server) sendError(client *remoteClient, message string) {
	if err := client.send(s.cfg, map[string]interface{}{
		"type":    "error",
		"message": message,
	}); err != nil {
		s.logger.Debugw("error send failed", "user_id", client.userID, "error", err)
	}
}

func (s *Server) writeJSON(conn *websocket.Conn, data interface{}) {
	conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	if err := conn.WriteJSON(data); err != nil {
		s.logger.Debugw("write failed", "error", err)
	}
}

// RoomSize reports the current participant count of a room.
func (s *Server) RoomSize(roomID domain.RoomID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms[roomID])
}

func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	roomCount := len(s.rooms)
	participants := 0
	for _, room := range s.rooms {
		participants += len(room)
	}
	s.mu.RUnlock()

	response := map[string]interface{}{
		"status":       "healthy",
		"timestamp":    time.Now().Unix(),
		"rooms":        roomCount,
		"participants": participants,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

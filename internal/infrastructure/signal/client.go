package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"telesession/internal/core/domain"
	"telesession/internal/core/ports"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type ClientConfig struct {
	URL                  string
	ConnectTimeout       time.Duration
	HeartbeatInterval    time.Duration
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	MaxReconnectAttempts int
	SendRatePerSecond    float64
	SendBurst            int
	EventBuffer          int
}

func DefaultClientConfig(url string) ClientConfig {
	return ClientConfig{
		URL:                  url,
		ConnectTimeout:       10 * time.Second,
		HeartbeatInterval:    30 * time.Second,
		ReconnectBaseDelay:   1 * time.Second,
		ReconnectMaxDelay:    30 * time.Second,
		MaxReconnectAttempts: 5,
		SendRatePerSecond:    20,
		SendBurst:            40,
		EventBuffer:          64,
	}
}

// envelope is the inbound wire format. One flat shape covers every server
// event; unknown fields are simply absent.
type envelope struct {
	Type         string               `json:"type"`
	Message      string               `json:"message,omitempty"`
	RoomID       domain.RoomID        `json:"roomId,omitempty"`
	Participants []domain.Participant `json:"participants,omitempty"`
	Participant  *domain.Participant  `json:"participant,omitempty"`
	UserID       domain.UserID        `json:"userId,omitempty"`
	From         domain.UserID        `json:"from,omitempty"`
	Timestamp    int64                `json:"timestamp,omitempty"`
	Vitals       *domain.VitalSigns   `json:"vitals,omitempty"`
	Payload      json.RawMessage      `json:"payload,omitempty"`
	Kind         string               `json:"kind,omitempty"`
	Enabled      bool                 `json:"enabled"`
	User         *struct {
		ID   domain.UserID `json:"id"`
		Name string        `json:"name"`
		Role domain.Role   `json:"role"`
	} `json:"user,omitempty"`
}

// Client is a SignalingChannel over one gorilla/websocket connection. It owns
// authentication, the heartbeat, and reconnection with exponential backoff;
// joined rooms are tracked locally and re-issued transparently after a
// reconnect.
type Client struct {
	cfg       ClientConfig
	logger    *zap.SugaredLogger
	telemetry ports.Telemetry
	limiter   *rate.Limiter
	events    chan ports.ChannelEvent

	lifecycle context.Context
	stop      context.CancelFunc

	wmu sync.Mutex // serializes writes to the active conn

	mu     sync.Mutex
	conn   *websocket.Conn
	token  string
	joined map[domain.RoomID]domain.Role
	authed bool
	closed bool
	lost   bool
	authCh chan error
}

var _ ports.SignalingChannel = (*Client)(nil)

func NewClient(cfg ClientConfig, telemetry ports.Telemetry, logger *zap.SugaredLogger) *Client {
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 64
	}
	if telemetry == nil {
		telemetry = ports.NopTelemetry{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		cfg:       cfg,
		logger:    logger,
		telemetry: telemetry,
		limiter:   rate.NewLimiter(rate.Limit(cfg.SendRatePerSecond), cfg.SendBurst),
		events:    make(chan ports.ChannelEvent, cfg.EventBuffer),
		lifecycle: ctx,
		stop:      cancel,
		joined:    make(map[domain.RoomID]domain.Role),
	}
}

func (c *Client) Events() <-chan ports.ChannelEvent {
	return c.events
}

// Connect opens the transport, authenticates and blocks until the server
// acknowledges or the connect timeout elapses. A successful Connect clears a
// prior reconnect exhaustion: the automatic retry loop stays terminal, but an
// explicit caller retry starts over with a fresh budget.
func (c *Client) Connect(ctx context.Context, authToken string) error {
	if authToken == "" {
		return domain.ErrAuthRequired
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return domain.ErrNotConnected
	}
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.token = authToken
	c.mu.Unlock()

	if err := c.dial(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	c.lost = false
	c.mu.Unlock()

	c.telemetry.RecordConnect(false)
	return nil
}

func (c *Client) dial(ctx context.Context) error {
	dctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dctx, c.cfg.URL, nil)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return domain.ErrConnectTimeout
		}
		return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}

	authCh := make(chan error, 1)
	c.mu.Lock()
	c.conn = conn
	c.authed = false
	c.authCh = authCh
	token := c.token
	c.mu.Unlock()

	go c.readLoop(conn)

	if err := c.writeTo(conn, ports.OutboundMessage{Type: "authenticate", Token: token}); err != nil {
		conn.Close()
		return fmt.Errorf("send authenticate: %w", err)
	}

	select {
	case err := <-authCh:
		if err != nil {
			conn.Close()
			return err
		}
		return nil
	case <-time.After(c.cfg.ConnectTimeout):
		conn.Close()
		return domain.ErrConnectTimeout
	case <-ctx.Done():
		conn.Close()
		return ctx.Err()
	}
}

// JoinRoom is idempotent: a room already in the subscribed set is a no-op.
// Transient write failures are absorbed; the set drives re-joins on reconnect.
func (c *Client) JoinRoom(roomID domain.RoomID, role domain.Role) error {
	c.mu.Lock()
	if c.lost {
		c.mu.Unlock()
		return domain.ErrConnectionLost
	}
	if c.conn == nil || !c.authed {
		c.mu.Unlock()
		return domain.ErrNotConnected
	}
	if _, ok := c.joined[roomID]; ok {
		c.mu.Unlock()
		return nil
	}
	c.joined[roomID] = role
	conn := c.conn
	c.mu.Unlock()

	if err := c.writeTo(conn, ports.OutboundMessage{Type: "join-room", RoomID: roomID, Role: role}); err != nil {
		// Kept in the subscribed set; the reconnect path re-issues it.
		c.logger.Warnw("join-room send failed", "room_id", roomID, "error", err)
	}
	return nil
}

func (c *Client) LeaveRoom(roomID domain.RoomID) error {
	c.mu.Lock()
	delete(c.joined, roomID)
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	if err := c.writeTo(conn, ports.OutboundMessage{Type: "leave-room", RoomID: roomID}); err != nil {
		c.logger.Warnw("leave-room send failed", "room_id", roomID, "error", err)
	}
	return nil
}

// Send is fire-and-forget. Messages issued while the channel is not open are
// dropped with a log line, never an error; durable confirmation arrives
// through the persistence plane.
func (c *Client) Send(msg ports.OutboundMessage) error {
	c.mu.Lock()
	conn := c.conn
	open := conn != nil && c.authed
	c.mu.Unlock()

	if !open {
		c.telemetry.RecordSendFailure(msg.Type)
		c.logger.Debugw("dropping message, channel not open", "type", msg.Type)
		return nil
	}
	if !c.limiter.Allow() {
		c.telemetry.RecordSendFailure(msg.Type)
		c.logger.Warnw("dropping message, send rate exceeded", "type", msg.Type)
		return nil
	}

	if err := c.writeTo(conn, msg); err != nil {
		c.telemetry.RecordSendFailure(msg.Type)
		c.logger.Warnw("send failed", "type", msg.Type, "error", err)
	}
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	c.stop()

	if conn != nil {
		c.wmu.Lock()
		conn.SetWriteDeadline(time.Now().Add(time.Second))
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closing"))
		c.wmu.Unlock()
		conn.Close()
	}
	return nil
}

func (c *Client) writeTo(conn *websocket.Conn, msg ports.OutboundMessage) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(msg)
}

func (c *Client) emit(ev ports.ChannelEvent) {
	select {
	case c.events <- ev:
	default:
		c.logger.Warnw("event buffer full, dropping event", "event", fmt.Sprintf("%T", ev))
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleDisconnect(conn, err)
			return
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Warnw("malformed server message", "error", err)
			continue
		}
		c.handleEnvelope(conn, env)
	}
}

func (c *Client) handleEnvelope(conn *websocket.Conn, env envelope) {
	switch env.Type {
	case "authenticated":
		c.mu.Lock()
		if c.conn == conn {
			c.authed = true
			if c.authCh != nil {
				select {
				case c.authCh <- nil:
				default:
				}
			}
		}
		c.mu.Unlock()
		ev := ports.Authenticated{}
		if env.User != nil {
			ev.UserID = env.User.ID
			ev.Name = env.User.Name
			ev.Role = env.User.Role
		}
		c.emit(ev)
		go c.heartbeatLoop(conn)

	case "auth-error":
		c.mu.Lock()
		if c.conn == conn && c.authCh != nil {
			select {
			case c.authCh <- fmt.Errorf("%w: %s", domain.ErrAuthFailed, env.Message):
			default:
			}
		}
		c.mu.Unlock()
		c.emit(ports.AuthError{Reason: env.Message})

	case "room-joined":
		c.emit(ports.RoomJoined{RoomID: env.RoomID, Participants: env.Participants})

	case "participant-joined":
		if env.Participant != nil {
			c.emit(ports.ParticipantJoined{Participant: *env.Participant})
		}

	case "participant-left", "participant-disconnected":
		left := time.Time{}
		if env.Timestamp > 0 {
			left = time.UnixMilli(env.Timestamp)
		}
		c.emit(ports.ParticipantLeft{UserID: env.UserID, LeftAt: left})

	case "chat-message":
		// Notification only. The payload is re-read from the durable store.
		c.emit(ports.ChatNotify{})

	case "vitals-update":
		if env.Vitals != nil {
			v := *env.Vitals
			if v.Timestamp.IsZero() && env.Timestamp > 0 {
				v.Timestamp = time.UnixMilli(env.Timestamp)
			}
			c.emit(ports.VitalsUpdate{From: env.From, Vitals: v})
		}

	case "webrtc-signal":
		c.emit(ports.SignalRelay{From: env.From, Payload: env.Payload})

	case "participant-toggled-media":
		c.emit(ports.MediaToggled{
			UserID:  env.UserID,
			Kind:    domain.MediaKind(env.Kind),
			Enabled: env.Enabled,
		})

	case "error":
		c.emit(ports.ServerError{Message: env.Message})

	case "pong":
		if env.Timestamp > 0 {
			c.telemetry.ObserveLatency(time.Since(time.UnixMilli(env.Timestamp)))
		}

	default:
		c.logger.Debugw("unhandled server message", "type", env.Type)
	}
}

// heartbeatLoop sends a liveness ping on a fixed interval for one physical
// connection. A missed reply is not a failure; a dead transport surfaces as a
// read error instead.
func (c *Client) heartbeatLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.lifecycle.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			current := c.conn
			c.mu.Unlock()
			if current != conn {
				return
			}
			msg := ports.OutboundMessage{Type: "heartbeat", Timestamp: time.Now().UnixMilli()}
			if err := c.writeTo(conn, msg); err != nil {
				c.logger.Debugw("heartbeat write failed", "error", err)
				return
			}
		}
	}
}

func (c *Client) handleDisconnect(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		// A newer connection already replaced this one.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.authed = false
	intentional := c.closed ||
		websocket.IsCloseError(cause, websocket.CloseNormalClosure, websocket.CloseGoingAway)
	c.mu.Unlock()

	code := websocket.CloseAbnormalClosure
	reason := cause.Error()
	var closeErr *websocket.CloseError
	if errors.As(cause, &closeErr) {
		code = closeErr.Code
		reason = closeErr.Text
	}

	c.telemetry.RecordDisconnect(code)
	c.emit(ports.Disconnected{Code: code, Reason: reason, Reconnecting: !intentional})

	if !intentional {
		go c.reconnectLoop()
	}
}

// reconnectLoop retries with delay = base * 2^attempt, capped, up to the
// attempt budget. Exhaustion is terminal for this loop: the channel emits
// ConnectionLost and stops retrying; only an explicit Connect starts over.
func (c *Client) reconnectLoop() {
	for attempt := 0; attempt < c.cfg.MaxReconnectAttempts; attempt++ {
		delay := c.cfg.ReconnectBaseDelay << uint(attempt)
		if delay > c.cfg.ReconnectMaxDelay || delay <= 0 {
			delay = c.cfg.ReconnectMaxDelay
		}

		select {
		case <-c.lifecycle.Done():
			return
		case <-time.After(delay):
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		c.telemetry.RecordReconnectAttempt()
		c.logger.Infow("reconnecting", "attempt", attempt+1, "max", c.cfg.MaxReconnectAttempts)

		if err := c.dial(c.lifecycle); err != nil {
			c.logger.Warnw("reconnect failed", "attempt", attempt+1, "error", err)
			if errors.Is(err, domain.ErrAuthFailed) {
				// A rejected token will not get better with retries.
				return
			}
			continue
		}

		c.rejoinRooms()
		c.telemetry.RecordConnect(true)
		c.logger.Infow("reconnected", "attempt", attempt+1)
		return
	}

	c.mu.Lock()
	c.lost = true
	c.mu.Unlock()
	c.telemetry.RecordConnectionLost()
	c.emit(ports.ConnectionLost{Attempts: c.cfg.MaxReconnectAttempts})
	c.logger.Errorw("reconnect budget exhausted", "attempts", c.cfg.MaxReconnectAttempts)
}

// rejoinRooms re-issues join-room for every room in the subscribed set,
// restoring server-side state transparently after a reconnect.
func (c *Client) rejoinRooms() {
	c.mu.Lock()
	conn := c.conn
	rooms := make(map[domain.RoomID]domain.Role, len(c.joined))
	for id, role := range c.joined {
		rooms[id] = role
	}
	c.mu.Unlock()

	if conn == nil {
		return
	}
	for id, role := range rooms {
		if err := c.writeTo(conn, ports.OutboundMessage{Type: "join-room", RoomID: id, Role: role}); err != nil {
			c.logger.Warnw("rejoin send failed", "room_id", id, "error", err)
		}
	}
}

package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"telesession/internal/core/domain"
	"telesession/internal/core/ports"
	"telesession/pkg/retry"
	"telesession/pkg/tracing"

	"go.uber.org/zap"
)

type CoordinatorState string

const (
	StateIdle    CoordinatorState = "idle"
	StateJoining CoordinatorState = "joining"
	StateActive  CoordinatorState = "active"
	StateLeaving CoordinatorState = "leaving"
	StateErrored CoordinatorState = "errored"
)

type CoordinatorConfig struct {
	AuthToken      string
	Role           domain.Role
	InitialProfile domain.ProfileName
	// SwitchHoldDown is the minimum interval between applied profile switches.
	// The medical-critical override bypasses it.
	SwitchHoldDown time.Duration
	// UpgradeHold is how long metrics must stay clean before the profile is
	// raised one tier. Zero disables upgrades.
	UpgradeHold  time.Duration
	HistoryLimit int
	JoinTimeout  time.Duration
	SyncRetry    retry.Config
}

func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		Role:           domain.RolePatient,
		InitialProfile: domain.ProfileHigh,
		SwitchHoldDown: 10 * time.Second,
		UpgradeHold:    30 * time.Second,
		HistoryLimit:   100,
		JoinTimeout:    15 * time.Second,
		SyncRetry:      retry.DefaultConfig(),
	}
}

// Coordinator composes the signaling channel, the persistence sync and the
// optimizer into one session lifecycle. It is the single source of truth
// exposed to callers; all mutations to shared state are serialized behind one
// mutex, with live events applied by a single loop goroutine.
type Coordinator struct {
	channel   ports.SignalingChannel
	persist   ports.PersistenceSync
	optimizer *MediaOptimizer
	catalog   *ProfileCatalog
	telemetry ports.Telemetry
	logger    *zap.SugaredLogger
	cfg       CoordinatorConfig

	// Set before JoinSession; invoked outside the coordinator lock.
	onProfileChanged func(domain.QualityProfile)
	onSignal         func(from domain.UserID, payload []byte)

	mu           sync.RWMutex
	state        CoordinatorState
	lastErr      error
	sessionID    domain.SessionID
	session      *domain.Session
	messages     []domain.ChatMessage
	participants map[domain.UserID]domain.Participant
	vitals       *domain.VitalSigns
	profile      domain.ProfileName
	lastSwitch   time.Time
	cleanSince   time.Time
	history      []domain.OptimizationEvent

	loopCancel context.CancelFunc
	loopDone   chan struct{}
}

func NewCoordinator(
	channel ports.SignalingChannel,
	persist ports.PersistenceSync,
	optimizer *MediaOptimizer,
	catalog *ProfileCatalog,
	telemetry ports.Telemetry,
	logger *zap.SugaredLogger,
	cfg CoordinatorConfig,
) *Coordinator {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 100
	}
	if cfg.InitialProfile == "" {
		cfg.InitialProfile = domain.ProfileHigh
	}
	if telemetry == nil {
		telemetry = ports.NopTelemetry{}
	}
	return &Coordinator{
		channel:      channel,
		persist:      persist,
		optimizer:    optimizer,
		catalog:      catalog,
		telemetry:    telemetry,
		logger:       logger,
		cfg:          cfg,
		state:        StateIdle,
		profile:      cfg.InitialProfile,
		participants: make(map[domain.UserID]domain.Participant),
	}
}

// SetOnProfileChanged registers the media-layer handoff. Must be called
// before JoinSession.
func (c *Coordinator) SetOnProfileChanged(fn func(domain.QualityProfile)) {
	c.onProfileChanged = fn
}

// SetOnSignal registers the handler for relayed media-negotiation payloads.
// Must be called before JoinSession.
func (c *Coordinator) SetOnSignal(fn func(from domain.UserID, payload []byte)) {
	c.onSignal = fn
}

// JoinSession starts the persistence sync, then the signaling channel, in
// sequence. It fails with the first hard error from either sub-component.
func (c *Coordinator) JoinSession(ctx context.Context, sessionID domain.SessionID) error {
	ctx, span := tracing.StartSpan(ctx, "coordinator.JoinSession")
	defer span.End()

	c.mu.Lock()
	if c.state != StateIdle && c.state != StateErrored {
		c.mu.Unlock()
		return domain.ErrAlreadyJoined
	}
	c.state = StateJoining
	c.lastErr = nil
	c.sessionID = sessionID
	cancel := c.loopCancel
	done := c.loopDone
	c.loopCancel = nil
	c.loopDone = nil
	c.mu.Unlock()

	// A retry from Errored can leave the previous event loop alive, still
	// draining channel events. Stop it before subscribing again so stale
	// events cannot be applied to the new session.
	if cancel != nil {
		cancel()
		<-done
		c.persist.Unsubscribe()
	}

	sessUpd, msgUpd, syncErr, err := c.persist.Subscribe(ctx, sessionID)
	if err != nil {
		return c.failJoin(fmt.Errorf("persistence subscribe: %w", err))
	}

	// The first snapshot carries the room identifier needed for JoinRoom.
	session, err := c.awaitSession(ctx, sessUpd)
	if err != nil {
		c.persist.Unsubscribe()
		return c.failJoin(err)
	}
	c.mu.Lock()
	c.session = session
	c.mu.Unlock()

	if err := c.channel.Connect(ctx, c.cfg.AuthToken); err != nil {
		c.persist.Unsubscribe()
		return c.failJoin(fmt.Errorf("signaling connect: %w", err))
	}
	if err := c.channel.JoinRoom(session.RoomID, c.cfg.Role); err != nil {
		_ = c.channel.Close()
		c.persist.Unsubscribe()
		return c.failJoin(fmt.Errorf("join room: %w", err))
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done = make(chan struct{})

	c.mu.Lock()
	c.loopCancel = cancel
	c.loopDone = done
	c.state = StateActive
	c.mu.Unlock()

	go c.run(loopCtx, done, sessUpd, msgUpd, syncErr)

	c.logger.Infow("session joined",
		"session_id", sessionID,
		"room_id", session.RoomID,
		"role", c.cfg.Role,
	)
	return nil
}

// LeaveSession is idempotent best-effort teardown. It cancels the event loop
// and any in-flight reconnect before returning, so no live event can be
// applied after it returns. Internal errors are logged, never propagated.
func (c *Coordinator) LeaveSession(ctx context.Context) error {
	_, span := tracing.StartSpan(ctx, "coordinator.LeaveSession")
	defer span.End()

	c.mu.Lock()
	if c.state == StateIdle {
		c.mu.Unlock()
		return nil
	}
	c.state = StateLeaving
	cancel := c.loopCancel
	done := c.loopDone
	session := c.session
	c.loopCancel = nil
	c.loopDone = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	if session != nil {
		if err := c.channel.LeaveRoom(session.RoomID); err != nil {
			c.logger.Warnw("leave room failed", "room_id", session.RoomID, "error", err)
		}
	}
	if err := c.channel.Close(); err != nil {
		c.logger.Warnw("channel close failed", "error", err)
	}
	c.persist.Unsubscribe()

	c.mu.Lock()
	c.session = nil
	c.sessionID = ""
	c.messages = nil
	c.participants = make(map[domain.UserID]domain.Participant)
	c.vitals = nil
	c.lastErr = nil
	c.state = StateIdle
	c.mu.Unlock()

	c.logger.Infow("session left")
	return nil
}

// SendChatMessage writes through the signaling channel as a low-latency hint
// only. The authoritative message arrives later through the persistence
// stream; callers must not assume durability before then.
func (c *Coordinator) SendChatMessage(body string, kind domain.MessageKind, fileURL, fileName string) error {
	c.mu.RLock()
	active := c.state == StateActive && c.session != nil
	var roomID domain.RoomID
	var sessionID domain.SessionID
	if active {
		roomID = c.session.RoomID
		sessionID = c.session.ID
	}
	c.mu.RUnlock()
	if !active {
		return domain.ErrNotJoined
	}
	return c.channel.Send(ports.OutboundMessage{
		Type:      "chat-message",
		RoomID:    roomID,
		SessionID: sessionID,
		Message:   body,
		Kind:      string(kind),
		FileURL:   fileURL,
		FileName:  fileName,
	})
}

func (c *Coordinator) ReportVitals(v domain.VitalSigns) error {
	c.mu.RLock()
	id := c.sessionID
	active := c.state == StateActive
	c.mu.RUnlock()
	if !active {
		return domain.ErrNotJoined
	}
	return c.channel.Send(ports.OutboundMessage{
		Type:      "vitals-update",
		SessionID: id,
		Vitals:    &v,
	})
}

func (c *Coordinator) ToggleMedia(kind domain.MediaKind, enabled bool) error {
	c.mu.RLock()
	id := c.sessionID
	active := c.state == StateActive
	c.mu.RUnlock()
	if !active {
		return domain.ErrNotJoined
	}
	return c.channel.Send(ports.OutboundMessage{
		Type:      "toggle-media",
		SessionID: id,
		Kind:      string(kind),
		Enabled:   &enabled,
	})
}

// ReportMetrics runs one optimizer pass against the current profile and
// applies the decision, subject to the switch hold-down. The decider itself
// is pure; the hold-down and upgrade logic live here.
func (c *Coordinator) ReportMetrics(m domain.NetworkMetrics) Decision {
	now := m.Timestamp
	if now.IsZero() {
		now = time.Now()
	}

	var notify *domain.QualityProfile

	c.mu.Lock()
	d := c.optimizer.Analyze(m, c.profile)

	if len(d.Warnings) == 0 {
		if c.cleanSince.IsZero() {
			c.cleanSince = now
		}
		if c.cfg.UpgradeHold > 0 &&
			c.catalog.Rank(c.profile) > 0 &&
			now.Sub(c.cleanSince) >= c.cfg.UpgradeHold &&
			(c.lastSwitch.IsZero() || now.Sub(c.lastSwitch) >= c.cfg.UpgradeHold) {
			d.Profile = tierOrder[c.catalog.Rank(c.profile)-1]
			d.Optimizations = append(d.Optimizations, "restored quality")
		}
	} else {
		c.cleanSince = time.Time{}
	}

	if d.Profile != c.profile {
		critical := d.Profile == domain.ProfileMedicalCritical
		held := !c.lastSwitch.IsZero() && now.Sub(c.lastSwitch) < c.cfg.SwitchHoldDown
		if critical || !held {
			ev := domain.OptimizationEvent{
				Timestamp:   now,
				FromProfile: c.profile,
				ToProfile:   d.Profile,
				Reasons:     d.Warnings,
				Metrics:     m,
			}
			c.history = append(c.history, ev)
			if len(c.history) > c.cfg.HistoryLimit {
				c.history = c.history[len(c.history)-c.cfg.HistoryLimit:]
			}
			c.telemetry.RecordProfileSwitch(c.profile, d.Profile)
			c.logger.Infow("profile switch",
				"from", c.profile,
				"to", d.Profile,
				"reasons", d.Warnings,
			)
			c.profile = d.Profile
			c.lastSwitch = now
			c.cleanSince = time.Time{}
			if p, err := c.catalog.Get(d.Profile); err == nil {
				notify = &p
			}
		} else {
			// Held down: keep the current profile, surface the warnings.
			d.Profile = c.profile
		}
	}
	c.mu.Unlock()

	if notify != nil && c.onProfileChanged != nil {
		c.onProfileChanged(*notify)
	}
	return d
}

func (c *Coordinator) State() CoordinatorState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Coordinator) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

func (c *Coordinator) Session() *domain.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return nil
	}
	s := *c.session
	return &s
}

// Messages returns the chat log sorted by the durable store's timestamp.
func (c *Coordinator) Messages() []domain.ChatMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.ChatMessage, len(c.messages))
	copy(out, c.messages)
	return out
}

func (c *Coordinator) Participants() []domain.Participant {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.Participant, 0, len(c.participants))
	for _, p := range c.participants {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (c *Coordinator) CurrentVitals() *domain.VitalSigns {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vitals == nil {
		return nil
	}
	v := *c.vitals
	return &v
}

func (c *Coordinator) CurrentProfile() domain.ProfileName {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.profile
}

func (c *Coordinator) History() []domain.OptimizationEvent {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.OptimizationEvent, len(c.history))
	copy(out, c.history)
	return out
}

func (c *Coordinator) failJoin(err error) error {
	c.mu.Lock()
	c.state = StateErrored
	c.lastErr = err
	c.mu.Unlock()
	c.logger.Errorw("join session failed", "error", err)
	return err
}

func (c *Coordinator) awaitSession(ctx context.Context, sessUpd <-chan *domain.Session) (*domain.Session, error) {
	timeout := c.cfg.JoinTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case s, ok := <-sessUpd:
		if !ok || s == nil {
			return nil, domain.ErrSessionNotFound
		}
		return s, nil
	case <-timer.C:
		return nil, fmt.Errorf("waiting for session snapshot: %w", domain.ErrConnectTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// run is the single event loop. All live-plane and durable-plane updates are
// applied here, in arrival order per source.
func (c *Coordinator) run(
	ctx context.Context,
	done chan struct{},
	sessUpd <-chan *domain.Session,
	msgUpd <-chan []domain.ChatMessage,
	syncErr <-chan error,
) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-c.channel.Events():
			if !ok {
				return
			}
			c.handleChannelEvent(ev)
		case s, ok := <-sessUpd:
			if !ok {
				sessUpd = nil
				continue
			}
			c.setSession(s)
		case msgs, ok := <-msgUpd:
			if !ok {
				msgUpd = nil
				continue
			}
			c.setMessages(msgs)
		case err, ok := <-syncErr:
			if !ok {
				syncErr = nil
				continue
			}
			sessUpd, msgUpd, syncErr = c.recoverSync(ctx, err)
		}
	}
}

func (c *Coordinator) handleChannelEvent(ev ports.ChannelEvent) {
	switch e := ev.(type) {
	case ports.Authenticated:
		c.logger.Infow("authenticated", "user_id", e.UserID)

	case ports.AuthError:
		c.mu.Lock()
		c.state = StateErrored
		c.lastErr = fmt.Errorf("%w: %s", domain.ErrAuthFailed, e.Reason)
		c.mu.Unlock()

	case ports.RoomJoined:
		c.mu.Lock()
		c.participants = make(map[domain.UserID]domain.Participant, len(e.Participants))
		for _, p := range e.Participants {
			c.participants[p.UserID] = p
		}
		n := len(c.participants)
		c.mu.Unlock()
		c.telemetry.SetParticipants(n)
		c.logger.Infow("room joined", "room_id", e.RoomID, "participants", n)

	case ports.ParticipantJoined:
		c.mu.Lock()
		c.participants[e.Participant.UserID] = e.Participant
		n := len(c.participants)
		c.mu.Unlock()
		c.telemetry.SetParticipants(n)

	case ports.ParticipantLeft:
		c.mu.Lock()
		if p, ok := c.participants[e.UserID]; ok {
			// A stale leave can arrive after the same identity rejoined.
			// Compare against the join timestamp instead of applying
			// last-write-wins.
			if e.LeftAt.IsZero() || !p.JoinedAt.After(e.LeftAt) {
				delete(c.participants, e.UserID)
			} else {
				c.logger.Debugw("ignoring stale participant-left",
					"user_id", e.UserID,
					"left_at", e.LeftAt,
					"joined_at", p.JoinedAt,
				)
			}
		}
		n := len(c.participants)
		c.mu.Unlock()
		c.telemetry.SetParticipants(n)

	case ports.ChatNotify:
		// Notification only; the canonical payload comes from the store.
		c.persist.Refresh()

	case ports.VitalsUpdate:
		c.mu.Lock()
		v := e.Vitals
		c.vitals = &v
		c.mu.Unlock()

	case ports.MediaToggled:
		c.mu.Lock()
		if p, ok := c.participants[e.UserID]; ok {
			switch e.Kind {
			case domain.MediaAudio:
				p.AudioEnabled = e.Enabled
			case domain.MediaVideo:
				p.VideoEnabled = e.Enabled
			}
			c.participants[e.UserID] = p
		}
		c.mu.Unlock()

	case ports.SignalRelay:
		if c.onSignal != nil {
			c.onSignal(e.From, e.Payload)
		}

	case ports.ServerError:
		c.logger.Warnw("signaling server error", "message", e.Message)

	case ports.Disconnected:
		// The participant set is live truth only; it is rebuilt from the
		// room snapshot after a reconnect.
		c.mu.Lock()
		c.participants = make(map[domain.UserID]domain.Participant)
		c.vitals = nil
		c.mu.Unlock()
		c.telemetry.SetParticipants(0)
		c.logger.Infow("signaling disconnected",
			"code", e.Code,
			"reason", e.Reason,
			"reconnecting", e.Reconnecting,
		)

	case ports.ConnectionLost:
		c.mu.Lock()
		c.state = StateErrored
		c.lastErr = domain.ErrConnectionLost
		c.mu.Unlock()
		c.logger.Errorw("signaling connection lost", "attempts", e.Attempts)
	}
}

func (c *Coordinator) setSession(s *domain.Session) {
	if s == nil {
		return
	}
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()
}

func (c *Coordinator) setMessages(msgs []domain.ChatMessage) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})
	c.mu.Lock()
	c.messages = msgs
	c.mu.Unlock()
}

// recoverSync resubscribes to the durable store with the coordinator's own
// retry policy, independent of the signaling channel's. Exhaustion escalates
// to the Errored state.
func (c *Coordinator) recoverSync(ctx context.Context, cause error) (<-chan *domain.Session, <-chan []domain.ChatMessage, <-chan error) {
	c.logger.Warnw("persistence subscription error", "error", cause)

	c.mu.RLock()
	id := c.sessionID
	c.mu.RUnlock()

	var (
		sessUpd <-chan *domain.Session
		msgUpd  <-chan []domain.ChatMessage
		syncErr <-chan error
	)
	err := retry.Retry(ctx, c.cfg.SyncRetry, func() error {
		c.persist.Unsubscribe()
		s, m, e, err := c.persist.Subscribe(ctx, id)
		if err != nil {
			return err
		}
		sessUpd, msgUpd, syncErr = s, m, e
		return nil
	})
	if err != nil {
		c.mu.Lock()
		c.state = StateErrored
		c.lastErr = fmt.Errorf("persistence resubscribe: %w", err)
		c.mu.Unlock()
		c.logger.Errorw("persistence resubscribe exhausted", "error", err)
		return nil, nil, nil
	}

	c.logger.Infow("persistence resubscribed", "session_id", id)
	return sessUpd, msgUpd, syncErr
}

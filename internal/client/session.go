package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"qchat/pkg/protocol"
)

// State is the connection lifecycle state of a Session.
type State string

const (
	// StateDisconnected is the initial state and the resting terminal after
	// an explicit disconnect, a supersession, or a final connect failure.
	StateDisconnected State = "DISCONNECTED"
	StateConnecting   State = "CONNECTING"
	StateConnected    State = "CONNECTED"
	StateReconnecting State = "RECONNECTING"
)

// Defaults match the original deployment: a 10s heartbeat, a 3s reconnect
// backoff, and a 5s bound on every connect attempt.
const (
	DefaultDialTimeout       = 5 * time.Second
	DefaultHeartbeatInterval = 10 * time.Second
	DefaultReconnectInterval = 3 * time.Second
)

// Config describes how a session reaches the relay.
type Config struct {
	// Endpoints is the ordered candidate list, e.g. the configured relay
	// followed by a local-network fallback. Candidates race; the first
	// completed AUTH round-trip wins and the rest are closed.
	Endpoints []string

	// DialTimeout bounds each candidate's transport open plus AUTH
	// round-trip. No connect attempt ever blocks past it.
	DialTimeout time.Duration

	HeartbeatInterval time.Duration
	ReconnectInterval time.Duration

	// Dialer defaults to a WebsocketDialer.
	Dialer Dialer

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = DefaultReconnectInterval
	}
	if c.Dialer == nil {
		c.Dialer = &WebsocketDialer{HandshakeTimeout: c.DialTimeout}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Handlers receive session events. All callbacks run synchronously on session
// goroutines and must not block; they may call back into the Session.
type Handlers struct {
	// OnState fires on every state transition. reason is non-nil when the
	// transition was caused by a failure and always distinguishes timeout,
	// rejection, unreachable relay and supersession.
	OnState func(state State, reason error)

	// OnFrame receives inbound application frames (CHAT, FRIEND_*).
	OnFrame func(f *protocol.Frame)

	// OnPresence receives STATUS_UPDATE broadcasts.
	OnPresence func(userID, status string)

	// OnOnlineUsers receives the point-in-time snapshot answered to AUTH.
	OnOnlineUsers func(userIDs []string)
}

// link is the per-connection state of one established generation. done is
// closed exactly once, on teardown, to stop the heartbeat.
type link struct {
	transport Transport
	done      chan struct{}
}

// Session is the client connection state machine: one logical session over a
// sequence of transports. All timers are tied to an epoch; any timer that
// fires after the epoch moved on is a no-op, so a stale reconnect can never
// resurrect a session that was explicitly disconnected or superseded.
type Session struct {
	cfg      Config
	handlers Handlers
	log      *slog.Logger

	mu        sync.Mutex
	state     State
	epoch     uint64
	identity  string
	link      *link
	reconnect *time.Timer
	lastErr   error
}

// NewSession creates a session in StateDisconnected.
func NewSession(cfg Config, handlers Handlers) *Session {
	cfg = cfg.withDefaults()
	return &Session{
		cfg:      cfg,
		handlers: handlers,
		log:      cfg.Logger,
		state:    StateDisconnected,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastError returns the reason for the most recent failure transition, nil
// after a clean disconnect or while connected.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Identity returns the identity of the current or last connect attempt.
func (s *Session) Identity() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// Connect authenticates identity against the candidate endpoints. It blocks
// until the session is CONNECTED or the attempt definitively failed; the
// returned error distinguishes timeout, explicit rejection and no endpoint
// reachable. Legal from DISCONNECTED and RECONNECTING only.
func (s *Session) Connect(ctx context.Context, identity string) error {
	return s.connect(ctx, identity, nil)
}

// connect runs one full connect attempt. expectEpoch, when non-nil, makes the
// attempt conditional: it proceeds only if the session epoch still matches,
// which is how auto-reconnect timers are prevented from acting after an
// explicit Disconnect already settled the session.
func (s *Session) connect(ctx context.Context, identity string, expectEpoch *uint64) error {
	s.mu.Lock()
	if expectEpoch != nil && (s.epoch != *expectEpoch || s.state != StateReconnecting) {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.state == StateConnecting || s.state == StateConnected {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	if len(s.cfg.Endpoints) == 0 {
		s.mu.Unlock()
		return ErrNoEndpoints
	}
	if s.reconnect != nil {
		s.reconnect.Stop()
		s.reconnect = nil
	}
	s.epoch++
	epoch := s.epoch
	s.identity = identity
	s.state = StateConnecting
	s.lastErr = nil
	s.mu.Unlock()
	s.notifyState(StateConnecting, nil)

	transport, snapshot, err := s.race(ctx, identity)

	s.mu.Lock()
	if s.epoch != epoch {
		// Disconnect won the race; settle without touching the new state.
		s.mu.Unlock()
		if transport != nil {
			_ = transport.Close()
		}
		return ErrSessionClosed
	}
	if err != nil {
		s.state = StateDisconnected
		s.lastErr = err
		s.mu.Unlock()
		s.notifyState(StateDisconnected, err)
		return err
	}

	l := &link{transport: transport, done: make(chan struct{})}
	s.link = l
	s.state = StateConnected
	s.mu.Unlock()
	s.notifyState(StateConnected, nil)

	go s.readLoop(epoch, l)
	go s.heartbeatLoop(l)

	if h := s.handlers.OnOnlineUsers; h != nil {
		h(snapshot)
	}
	return nil
}

// Disconnect settles the session to DISCONNECTED from any state: timers
// cancelled, transport closed, epoch advanced so anything still in flight
// becomes a no-op. A disconnect racing a reconnect attempt always wins.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.epoch++
	if s.reconnect != nil {
		s.reconnect.Stop()
		s.reconnect = nil
	}
	l := s.link
	s.link = nil
	changed := s.state != StateDisconnected
	s.state = StateDisconnected
	s.lastErr = nil
	s.mu.Unlock()

	if l != nil {
		close(l.done)
		_ = l.transport.Close()
	}
	if changed {
		s.notifyState(StateDisconnected, nil)
	}
}

// Send writes one frame to the relay. Fails with ErrNotConnected outside
// CONNECTED; a transport-level error is returned as-is for the durability
// layer to classify.
func (s *Session) Send(f *protocol.Frame) error {
	s.mu.Lock()
	if s.state != StateConnected || s.link == nil {
		s.mu.Unlock()
		return ErrNotConnected
	}
	transport := s.link.transport
	s.mu.Unlock()

	data, err := protocol.Encode(f)
	if err != nil {
		return err
	}
	return transport.WriteMessage(data)
}

// race opens all candidate endpoints concurrently. The first completed AUTH
// round-trip wins; every other attempt is cancelled and its transport closed,
// not merely ignored, so the relay never sees duplicate sessions from one
// connect call.
func (s *Session) race(ctx context.Context, identity string) (Transport, []string, error) {
	rctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		transport Transport
		snapshot  []string
		err       error
	}
	results := make(chan result, len(s.cfg.Endpoints))
	for _, endpoint := range s.cfg.Endpoints {
		go func(endpoint string) {
			transport, snapshot, err := s.attempt(rctx, endpoint, identity)
			results <- result{transport, snapshot, err}
		}(endpoint)
	}

	var failures []error
	for remaining := len(s.cfg.Endpoints); remaining > 0; remaining-- {
		res := <-results
		if res.err == nil {
			cancel()
			// Drain and close the losers in the background; they were
			// cancelled but may still surface an open transport.
			go func(n int) {
				for i := 0; i < n; i++ {
					if late := <-results; late.transport != nil {
						_ = late.transport.Close()
					}
				}
			}(remaining - 1)
			return res.transport, res.snapshot, nil
		}
		failures = append(failures, res.err)
	}
	return nil, nil, classifyConnectFailure(failures)
}

// attempt opens one endpoint and runs the AUTH round-trip: AUTH out, then
// frames in until the ONLINE_USERS_LIST snapshot (success) or FORCE_LOGOUT
// (rejection) arrives, bounded by DialTimeout end to end.
func (s *Session) attempt(ctx context.Context, endpoint, identity string) (Transport, []string, error) {
	dctx, cancel := context.WithTimeout(ctx, s.cfg.DialTimeout)
	defer cancel()

	transport, err := s.cfg.Dialer.Dial(dctx, endpoint)
	if err != nil {
		if isTimeout(err) {
			return nil, nil, fmt.Errorf("%w: %s", ErrAuthTimeout, endpoint)
		}
		return nil, nil, fmt.Errorf("%w: %s: %v", ErrEndpointUnreachable, endpoint, err)
	}

	auth, err := protocol.Encode(protocol.NewAuth(identity))
	if err != nil {
		_ = transport.Close()
		return nil, nil, err
	}
	if err := transport.WriteMessage(auth); err != nil {
		_ = transport.Close()
		return nil, nil, fmt.Errorf("%w: %s: %v", ErrEndpointUnreachable, endpoint, err)
	}

	_ = transport.SetReadDeadline(time.Now().Add(s.cfg.DialTimeout))
	for {
		data, err := transport.ReadMessage()
		if err != nil {
			_ = transport.Close()
			if isTimeout(err) {
				return nil, nil, fmt.Errorf("%w: %s", ErrAuthTimeout, endpoint)
			}
			return nil, nil, fmt.Errorf("%w: %s: %v", ErrEndpointUnreachable, endpoint, err)
		}

		frame, derr := protocol.Decode(data)
		if derr != nil {
			continue
		}
		switch frame.Type {
		case protocol.FrameOnlineUsers:
			_ = transport.SetReadDeadline(time.Time{})
			return transport, frame.UserIDs, nil
		case protocol.FrameForceLogout:
			_ = transport.Close()
			return nil, nil, fmt.Errorf("%w: %s", ErrAuthRejected, frame.Reason)
		default:
			// Broadcasts may interleave before the snapshot; the snapshot
			// carries the authoritative state, so skip them here.
		}
	}
}

// readLoop pumps inbound frames for one connection generation.
func (s *Session) readLoop(epoch uint64, l *link) {
	for {
		data, err := l.transport.ReadMessage()
		if err != nil {
			s.onTransportLost(epoch, err)
			return
		}

		frame, derr := protocol.Decode(data)
		if derr != nil {
			s.log.Warn("dropping bad frame from relay", "error", derr)
			continue
		}

		switch frame.Type {
		case protocol.FramePong:
			// Keepalive ack; nothing to do.
		case protocol.FrameForceLogout:
			s.onForceLogout(epoch, frame.Reason)
			return
		case protocol.FrameStatusUpdate:
			if h := s.handlers.OnPresence; h != nil {
				h(frame.UserID, frame.Status)
			}
		case protocol.FrameOnlineUsers:
			if h := s.handlers.OnOnlineUsers; h != nil {
				h(frame.UserIDs)
			}
		case protocol.FrameChat, protocol.FrameFriendRequest, protocol.FrameFriendAccept, protocol.FrameFriendRemove:
			if h := s.handlers.OnFrame; h != nil {
				h(frame)
			}
		default:
			s.log.Warn("unexpected frame from relay", "type", frame.Type)
		}
	}
}

// heartbeatLoop emits PING on a fixed interval until its link is torn down.
func (s *Session) heartbeatLoop(l *link) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	ping, err := protocol.Encode(protocol.NewPing())
	if err != nil {
		return
	}
	for {
		select {
		case <-ticker.C:
			if err := l.transport.WriteMessage(ping); err != nil {
				// The read loop will observe the broken transport.
				return
			}
		case <-l.done:
			return
		}
	}
}

// onTransportLost moves CONNECTED to RECONNECTING and schedules one
// epoch-guarded reconnect attempt after the fixed backoff.
func (s *Session) onTransportLost(epoch uint64, cause error) {
	s.mu.Lock()
	if s.epoch != epoch || s.state != StateConnected {
		s.mu.Unlock()
		return
	}
	l := s.link
	s.link = nil
	s.state = StateReconnecting
	s.lastErr = cause
	identity := s.identity
	timerEpoch := s.epoch
	s.reconnect = time.AfterFunc(s.cfg.ReconnectInterval, func() {
		if err := s.connect(context.Background(), identity, &timerEpoch); err != nil && !errors.Is(err, ErrSessionClosed) {
			s.log.Warn("reconnect attempt failed", "identity", identity, "error", err)
		}
	})
	s.mu.Unlock()

	close(l.done)
	_ = l.transport.Close()
	s.notifyState(StateReconnecting, cause)
}

// onForceLogout settles the session terminally: supersession is an
// authentication-level signal, surfaced distinctly from network failures and
// never auto-retried, so the caller can force a re-login flow.
func (s *Session) onForceLogout(epoch uint64, reason string) {
	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return
	}
	s.epoch++
	if s.reconnect != nil {
		s.reconnect.Stop()
		s.reconnect = nil
	}
	l := s.link
	s.link = nil
	s.state = StateDisconnected
	err := fmt.Errorf("%w: %s", ErrSuperseded, reason)
	s.lastErr = err
	s.mu.Unlock()

	if l != nil {
		close(l.done)
		_ = l.transport.Close()
	}
	s.notifyState(StateDisconnected, err)
}

func (s *Session) notifyState(state State, reason error) {
	if h := s.handlers.OnState; h != nil {
		h(state, reason)
	}
}

// classifyConnectFailure reduces per-endpoint failures to the single most
// telling reason: an explicit rejection beats a timeout beats unreachable.
func classifyConnectFailure(failures []error) error {
	for _, err := range failures {
		if errors.Is(err, ErrAuthRejected) {
			return err
		}
	}
	for _, err := range failures {
		if errors.Is(err, ErrAuthTimeout) {
			return err
		}
	}
	return errors.Join(failures...)
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

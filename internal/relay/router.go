package relay

import (
	"errors"
	"log/slog"

	"qchat/pkg/interfaces"
	"qchat/pkg/protocol"
)

// Router classifies inbound frames by type and performs authentication,
// relay, and presence broadcast against the registry. It holds no state of
// its own; every decision reads the registry at dispatch time.
type Router struct {
	registry *Registry
	log      *slog.Logger
}

// NewRouter creates a router over the given registry.
func NewRouter(registry *Registry, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{registry: registry, log: log}
}

// HandleFrame dispatches one raw inbound frame. Malformed frames and unknown
// types are logged and dropped; a single bad frame never tears the connection
// down.
func (rt *Router) HandleFrame(conn interfaces.Conn, data []byte) {
	frame, err := protocol.Decode(data)
	if err != nil {
		rt.log.Warn("dropping bad frame", "identity", conn.Identity(), "error", err)
		return
	}

	switch frame.Type {
	case protocol.FramePing:
		// Pure keepalive echo, no state mutation. Absent PINGs are never
		// checked: liveness is the client's problem, detected via transport
		// close.
		if err := conn.WriteFrame(protocol.NewPong()); err != nil {
			rt.log.Debug("pong not deliverable", "identity", conn.Identity(), "error", err)
		}

	case protocol.FrameAuth:
		rt.handleAuth(conn, frame)

	case protocol.FrameChat, protocol.FrameFriendRequest, protocol.FrameFriendAccept, protocol.FrameFriendRemove:
		rt.handleRelay(conn, frame)

	default:
		// PONG, STATUS_UPDATE, ONLINE_USERS_LIST and FORCE_LOGOUT are
		// server→client only; a client sending them is a protocol violation
		// handled at frame granularity.
		rt.log.Warn("unexpected frame direction", "type", frame.Type, "identity", conn.Identity())
	}
}

// handleAuth registers the claimed identity (superseding any prior session),
// answers with a point-in-time snapshot of the other online identities, and
// broadcasts the new presence to every registered connection, the fresh one
// included.
func (rt *Router) handleAuth(conn interfaces.Conn, frame *protocol.Frame) {
	identity := frame.UserID
	conn.SetIdentity(identity)

	if evicted := rt.registry.Register(identity, conn); evicted != nil {
		rt.log.Info("session superseded", "identity", identity)
	}
	rt.log.Info("user connected", "identity", identity)

	if err := conn.WriteFrame(protocol.NewOnlineUsers(rt.registry.Others(identity))); err != nil {
		rt.log.Warn("online users snapshot not deliverable", "identity", identity, "error", err)
	}

	rt.broadcast(protocol.NewStatusUpdate(identity, protocol.StatusOnline))
}

// handleRelay forwards an application frame to its target, stripped of
// addressing. A missing or unwritable target drops the frame with no error to
// the sender: best-effort, fire-and-forget by design.
func (rt *Router) handleRelay(conn interfaces.Conn, frame *protocol.Frame) {
	target, ok := rt.registry.Lookup(frame.TargetUserID)
	if !ok {
		rt.log.Debug("relay target offline, dropping",
			"type", frame.Type, "from", conn.Identity(), "target", frame.TargetUserID)
		return
	}

	if err := target.WriteFrame(frame.Forwarded()); err != nil {
		rt.log.Debug("relay target not writable, dropping",
			"type", frame.Type, "from", conn.Identity(), "target", frame.TargetUserID, "error", err)
		return
	}
	rt.log.Debug("relayed frame", "type", frame.Type, "from", conn.Identity(), "target", frame.TargetUserID)
}

// HandleClose processes a transport close. Presence goes offline only when
// the closing connection was still the identity's current mapping; a
// superseded session's late close must not shadow its successor, whose own
// online broadcast already represents the latest truth.
func (rt *Router) HandleClose(conn interfaces.Conn) {
	identity := conn.Identity()
	if identity == "" {
		return
	}

	if rt.registry.Unregister(identity, conn) {
		rt.log.Info("user disconnected", "identity", identity)
		rt.broadcast(protocol.NewStatusUpdate(identity, protocol.StatusOffline))
	}
}

func (rt *Router) broadcast(frame *protocol.Frame) {
	for _, c := range rt.registry.Connections() {
		if err := c.WriteFrame(frame); err != nil && !errors.Is(err, ErrConnectionClosed) {
			rt.log.Debug("broadcast not deliverable", "identity", c.Identity(), "error", err)
		}
	}
}

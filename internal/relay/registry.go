package relay

import (
	"log/slog"
	"sync"
	"time"

	"github.com/samber/lo"

	"qchat/pkg/interfaces"
	"qchat/pkg/protocol"
)

// ForceLogoutReason is sent to a session evicted by a newer AUTH for the same
// identity.
const ForceLogoutReason = "Account logged in from another location"

type session struct {
	conn        interfaces.Conn
	connectedAt time.Time
}

// Registry maps identities to live connections and enforces the single-session
// invariant: at most one connection per identity at any instant. All mutation
// goes through one mutex; the supersession and stale-close guarantees depend
// on that serialization.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*session
	log      *slog.Logger
	now      func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		sessions: make(map[string]*session),
		log:      log,
		now:      time.Now,
	}
}

// Register binds identity to conn. If another connection currently holds the
// identity, the newest AUTH wins: the old connection is sent FORCE_LOGOUT,
// closed, and returned so the caller can log the takeover. Registering the
// same connection again is a no-op.
func (r *Registry) Register(identity string, conn interfaces.Conn) interfaces.Conn {
	r.mu.Lock()
	var evicted interfaces.Conn
	if existing, ok := r.sessions[identity]; ok && existing.conn != conn {
		evicted = existing.conn
	}
	r.sessions[identity] = &session{conn: conn, connectedAt: r.now()}
	r.mu.Unlock()

	if evicted != nil {
		// Write and close happen off the lock; WriteFrame only queues, so the
		// loser sees FORCE_LOGOUT before its socket drops (best effort).
		if err := evicted.WriteFrame(protocol.NewForceLogout(ForceLogoutReason)); err != nil {
			r.log.Debug("force logout not deliverable", "identity", identity, "error", err)
		}
		_ = evicted.Close()
	}
	return evicted
}

// Unregister removes the identity's mapping only if conn is referentially the
// connection currently mapped. The guard keeps a superseded session's late
// transport-close event from evicting its successor. Returns whether the
// mapping was removed.
func (r *Registry) Unregister(identity string, conn interfaces.Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.sessions[identity]
	if !ok || existing.conn != conn {
		return false
	}
	delete(r.sessions, identity)
	return true
}

// Lookup returns the connection currently bound to identity.
func (r *Registry) Lookup(identity string) (interfaces.Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[identity]
	if !ok {
		return nil, false
	}
	return s.conn, true
}

// Others returns every registered identity except the given one, the
// point-in-time snapshot answered to a fresh AUTH.
func (r *Registry) Others(identity string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Filter(lo.Keys(r.sessions), func(id string, _ int) bool {
		return id != identity
	})
}

// Connections returns every currently registered connection, used for
// presence broadcasts.
func (r *Registry) Connections() []interfaces.Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Map(lo.Values(r.sessions), func(s *session, _ int) interfaces.Conn {
		return s.conn
	})
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

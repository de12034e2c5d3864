package relay

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Handler upgrades HTTP requests to websocket connections and runs the read
// pump that feeds the router. Authentication happens in-band via AUTH frames,
// so the upgrade itself is unconditional.
type Handler struct {
	router   *Router
	upgrader websocket.Upgrader
	log      *slog.Logger
}

// NewHandler creates a websocket handler feeding the given router.
func NewHandler(router *Router, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		router: router,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 10 * time.Second,
			CheckOrigin: func(r *http.Request) bool {
				// Desktop clients connect from app origins; no origin policy.
				return true
			},
		},
		log: log,
	}
}

// ServeHTTP upgrades the request and pumps frames until the transport closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	conn := NewConnection(ws)
	h.log.Debug("client connected", "remote", r.RemoteAddr)

	defer func() {
		h.router.HandleClose(conn)
		_ = conn.Close()
		h.log.Debug("client gone", "remote", r.RemoteAddr)
	}()

	for {
		data, err := conn.ReadFrame()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("read error", "remote", r.RemoteAddr, "error", err)
			}
			return
		}
		h.router.HandleFrame(conn, data)
	}
}

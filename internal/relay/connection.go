package relay

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"qchat/pkg/protocol"
)

const (
	writeBuffer  = 100
	writeTimeout = 5 * time.Second
)

// Connection wraps one websocket peer with a single-writer goroutine so that
// broadcasts and direct relays from different handler goroutines never race on
// the underlying socket.
type Connection struct {
	conn      *websocket.Conn
	writeCh   chan []byte
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	mu       sync.RWMutex
	identity string
}

// NewConnection wraps an upgraded websocket connection and starts its writer.
func NewConnection(conn *websocket.Conn) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:    conn,
		writeCh: make(chan []byte, writeBuffer),
		ctx:     ctx,
		cancel:  cancel,
	}
	go c.writeLoop()
	return c
}

// writeLoop owns the socket: it is the only writer and performs the final
// close, after draining anything still queued. A superseded peer must see its
// FORCE_LOGOUT before the socket goes away.
func (c *Connection) writeLoop() {
	defer func() { _ = c.conn.Close() }()

	for {
		select {
		case data := <-c.writeCh:
			if err := c.write(data); err != nil {
				return
			}
		case <-c.ctx.Done():
			c.drain()
			return
		}
	}
}

func (c *Connection) write(data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Connection) drain() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.write(data); err != nil {
				return
			}
		default:
			return
		}
	}
}

// WriteFrame encodes and queues a frame for the peer. It fails once the
// connection is closed or when the write buffer stays full past the write
// timeout, which the relay treats as "not writable".
func (c *Connection) WriteFrame(f *protocol.Frame) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := protocol.Encode(f)
	if err != nil {
		return err
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-time.After(writeTimeout):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// ReadFrame blocks for the next raw frame from the peer.
func (c *Connection) ReadFrame() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

// Close stops the writer, which drains queued frames and then closes the
// socket. Safe to call repeatedly, including for a connection that was
// superseded and will still deliver its transport-close event later.
func (c *Connection) Close() error {
	c.closeOnce.Do(c.cancel)
	return nil
}

// SetIdentity binds the identity claimed by a successful AUTH.
func (c *Connection) SetIdentity(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.identity = userID
}

// Identity returns the bound identity, or "" before AUTH.
func (c *Connection) Identity() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity
}

// Authenticated reports whether AUTH has completed on this connection.
func (c *Connection) Authenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity != ""
}

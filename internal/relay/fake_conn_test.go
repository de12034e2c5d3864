package relay

import (
	"sync"

	"qchat/pkg/protocol"
)

// fakeConn records frames instead of writing to a socket. It satisfies
// interfaces.Conn so registry and router logic can be exercised without a
// transport.
type fakeConn struct {
	mu       sync.Mutex
	identity string
	frames   []*protocol.Frame
	closed   bool
	writeErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{}
}

func (f *fakeConn) WriteFrame(frame *protocol.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	if f.closed {
		return ErrConnectionClosed
	}
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) SetIdentity(userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.identity = userID
}

func (f *fakeConn) Identity() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.identity
}

func (f *fakeConn) Authenticated() bool {
	return f.Identity() != ""
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeConn) received() []*protocol.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*protocol.Frame, len(f.frames))
	copy(out, f.frames)
	return out
}

func (f *fakeConn) receivedOfType(t protocol.FrameType) []*protocol.Frame {
	var out []*protocol.Frame
	for _, fr := range f.received() {
		if fr.Type == t {
			out = append(out, fr)
		}
	}
	return out
}

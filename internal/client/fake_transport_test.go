package client

import (
	"context"
	"net"
	"os"
	"sync"
	"time"

	"qchat/pkg/protocol"
)

// fakeTransport is an in-memory Transport. Inbound frames are injected with
// inject; outbound writes are recorded and passed to onWrite so a scripted
// endpoint can answer the AUTH round-trip.
type fakeTransport struct {
	mu       sync.Mutex
	inbound  chan []byte
	writes   [][]byte
	deadline time.Time
	closed   bool
	closedCh chan struct{}
	onWrite  func(data []byte)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbound:  make(chan []byte, 16),
		closedCh: make(chan struct{}),
	}
}

func (t *fakeTransport) ReadMessage() ([]byte, error) {
	t.mu.Lock()
	deadline := t.deadline
	t.mu.Unlock()

	var timeout <-chan time.Time
	if !deadline.IsZero() {
		wait := time.Until(deadline)
		if wait <= 0 {
			return nil, os.ErrDeadlineExceeded
		}
		timer := time.NewTimer(wait)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case data := <-t.inbound:
		return data, nil
	case <-t.closedCh:
		return nil, net.ErrClosed
	case <-timeout:
		return nil, os.ErrDeadlineExceeded
	}
}

func (t *fakeTransport) WriteMessage(data []byte) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return net.ErrClosed
	}
	t.writes = append(t.writes, data)
	onWrite := t.onWrite
	t.mu.Unlock()

	if onWrite != nil {
		onWrite(data)
	}
	return nil
}

func (t *fakeTransport) SetReadDeadline(deadline time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.deadline = deadline
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.closedCh)
	}
	return nil
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *fakeTransport) inject(f *protocol.Frame) {
	data, err := protocol.Encode(f)
	if err != nil {
		panic(err)
	}
	select {
	case t.inbound <- data:
	case <-t.closedCh:
	}
}

// dropFromRelaySide simulates the relay closing the connection: subsequent
// reads fail but the session has not called Close itself.
func (t *fakeTransport) dropFromRelaySide() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.closedCh)
	}
}

// framesOfType returns the recorded outbound frames matching ft.
func (t *fakeTransport) framesOfType(ft protocol.FrameType) []*protocol.Frame {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*protocol.Frame
	for _, data := range t.writes {
		if f, err := protocol.Decode(data); err == nil && f.Type == ft {
			out = append(out, f)
		}
	}
	return out
}

// endpointScript describes how a fake endpoint behaves across dials.
type endpointScript struct {
	dialErr   error
	dialDelay time.Duration

	// Exactly one of accept / reject / silent governs the AUTH reply.
	accept   bool
	snapshot []string
	reject   string
	silent   bool
}

// fakeDialer hands out scripted fakeTransports per endpoint and records them.
type fakeDialer struct {
	mu      sync.Mutex
	scripts map[string]*endpointScript
	dialed  map[string][]*fakeTransport
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{
		scripts: make(map[string]*endpointScript),
		dialed:  make(map[string][]*fakeTransport),
	}
}

func (d *fakeDialer) script(endpoint string, s *endpointScript) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scripts[endpoint] = s
}

func (d *fakeDialer) Dial(ctx context.Context, endpoint string) (Transport, error) {
	d.mu.Lock()
	script, ok := d.scripts[endpoint]
	d.mu.Unlock()
	if !ok {
		return nil, net.ErrClosed
	}

	if script.dialDelay > 0 {
		timer := time.NewTimer(script.dialDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if script.dialErr != nil {
		return nil, script.dialErr
	}

	transport := newFakeTransport()
	transport.onWrite = func(data []byte) {
		f, err := protocol.Decode(data)
		if err != nil || f.Type != protocol.FrameAuth {
			return
		}
		switch {
		case script.accept:
			transport.inject(protocol.NewOnlineUsers(script.snapshot))
		case script.reject != "":
			transport.inject(protocol.NewForceLogout(script.reject))
		case script.silent:
		}
	}

	d.mu.Lock()
	d.dialed[endpoint] = append(d.dialed[endpoint], transport)
	d.mu.Unlock()
	return transport, nil
}

func (d *fakeDialer) transports(endpoint string) []*fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*fakeTransport(nil), d.dialed[endpoint]...)
}

func (d *fakeDialer) dialCount(endpoint string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dialed[endpoint])
}

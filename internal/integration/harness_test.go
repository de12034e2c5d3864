package integration

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"

	"qchat/internal/chat"
	"qchat/internal/client"
	"qchat/internal/relay"
	"qchat/internal/store"
	"qchat/pkg/protocol"
)

func discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// relayServer hosts a full relay over httptest.
type relayServer struct {
	server   *httptest.Server
	registry *relay.Registry
	wsURL    string
}

func newRelayServer(t *testing.T) *relayServer {
	t.Helper()
	log := discard()
	registry := relay.NewRegistry(log)
	router := relay.NewRouter(registry, log)
	handler := relay.NewHandler(router, log)

	mux := http.NewServeMux()
	mux.Handle("/ws", handler)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &relayServer{
		server:   server,
		registry: registry,
		wsURL:    "ws" + strings.TrimPrefix(server.URL, "http") + "/ws",
	}
}

// testClient is one fully wired client: session, stores, messenger.
type testClient struct {
	identity  string
	session   *client.Session
	messenger *chat.Messenger
	messages  *store.SQLiteStore
	contacts  *store.KVStore
	presence  *chat.PresenceCache

	states        chan client.State
	stateReasons  chan error
	received      chan *protocol.Message
	friendSignals chan string
	presenceEvts  chan presenceEvent
}

type presenceEvent struct {
	userID string
	status string
}

func newTestClient(t *testing.T, identity string, endpoints ...string) *testClient {
	t.Helper()
	log := discard()

	messages, err := store.OpenSQLite(filepath.Join(t.TempDir(), identity+".db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = messages.Close() })

	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	contacts := store.NewKVStore(db, log)
	t.Cleanup(func() { _ = contacts.Close() })

	c := &testClient{
		identity:      identity,
		messages:      messages,
		contacts:      contacts,
		states:        make(chan client.State, 32),
		stateReasons:  make(chan error, 32),
		received:      make(chan *protocol.Message, 32),
		friendSignals: make(chan string, 32),
		presenceEvts:  make(chan presenceEvent, 64),
	}
	c.presence = chat.NewPresenceCache(func(userID, status string) {
		c.presenceEvts <- presenceEvent{userID, status}
	})

	c.session = client.NewSession(client.Config{
		Endpoints:         endpoints,
		DialTimeout:       2 * time.Second,
		HeartbeatInterval: time.Hour,
		ReconnectInterval: 50 * time.Millisecond,
		Logger:            log,
	}, client.Handlers{
		OnState: func(state client.State, reason error) {
			c.states <- state
			c.stateReasons <- reason
		},
		OnFrame: func(f *protocol.Frame) { c.messenger.HandleFrame(f) },
		OnPresence: func(userID, status string) {
			// The relay echoes our own online broadcast; not interesting.
			if userID != identity {
				c.presence.Apply(userID, status)
			}
		},
		OnOnlineUsers: c.presence.SetSnapshot,
	})
	t.Cleanup(c.session.Disconnect)

	c.messenger = chat.NewMessenger(
		protocol.Contact{ID: identity, Username: strings.ToUpper(identity[:1]) + identity[1:]},
		c.session, messages, contacts,
		chat.Events{
			OnMessage:       func(m *protocol.Message) { c.received <- m },
			OnFriendRequest: func(r *protocol.FriendRequestPayload) { c.friendSignals <- "request:" + r.FromUser.ID },
			OnFriendAccept:  func(contact *protocol.Contact) { c.friendSignals <- "accept:" + contact.ID },
			OnFriendRemove:  func(userID string) { c.friendSignals <- "remove:" + userID },
		}, log)
	return c
}

func (c *testClient) connect(t *testing.T) {
	t.Helper()
	require.NoError(t, c.session.Connect(context.Background(), c.identity))
}

func (c *testClient) waitState(t *testing.T, want client.State) error {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case state := <-c.states:
			reason := <-c.stateReasons
			if state == want {
				return reason
			}
		case <-deadline:
			t.Fatalf("%s: timed out waiting for state %s", c.identity, want)
		}
	}
}

func (c *testClient) waitPresence(t *testing.T, userID, status string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case evt := <-c.presenceEvts:
			if evt.userID == userID && evt.status == status {
				return
			}
		case <-deadline:
			t.Fatalf("%s: timed out waiting for %s to be %s", c.identity, userID, status)
		}
	}
}

func (c *testClient) waitMessage(t *testing.T) *protocol.Message {
	t.Helper()
	select {
	case m := <-c.received:
		return m
	case <-time.After(5 * time.Second):
		t.Fatalf("%s: timed out waiting for a message", c.identity)
		return nil
	}
}

func (c *testClient) waitFriendSignal(t *testing.T, want string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case got := <-c.friendSignals:
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("%s: timed out waiting for friend signal %q", c.identity, want)
		}
	}
}

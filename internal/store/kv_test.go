package store

import (
	"log/slog"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"

	"qchat/pkg/protocol"
)

func newKVStore(t *testing.T) *KVStore {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	s := NewKVStore(db, slog.New(slog.DiscardHandler))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestKVStore_ContactBook(t *testing.T) {
	req := require.New(t)
	s := newKVStore(t)

	bob := &protocol.Contact{ID: "bob", Username: "Bob", Status: protocol.StatusOnline}
	carol := &protocol.Contact{ID: "carol", Username: "Carol"}
	req.NoError(s.PutContact(bob))
	req.NoError(s.PutContact(carol))

	got, found, err := s.Contact("bob")
	req.NoError(err)
	req.True(found)
	req.Equal("Bob", got.Username)

	contacts, err := s.Contacts()
	req.NoError(err)
	ids := lo.Map(contacts, func(c *protocol.Contact, _ int) string { return c.ID })
	req.ElementsMatch([]string{"bob", "carol"}, ids)

	// Same ID overwrites.
	bob.Username = "Bobby"
	req.NoError(s.PutContact(bob))
	contacts, err = s.Contacts()
	req.NoError(err)
	req.Len(contacts, 2)

	req.NoError(s.RemoveContact("bob"))
	_, found, err = s.Contact("bob")
	req.NoError(err)
	req.False(found)
}

func TestKVStore_FriendRequestInbox(t *testing.T) {
	req := require.New(t)
	s := newKVStore(t)

	r := &protocol.FriendRequestPayload{
		FromUser:  protocol.Contact{ID: "dave", Username: "Dave"},
		Timestamp: time.Now().UnixMilli(),
	}
	req.NoError(s.PutFriendRequest(r))

	// A repeated request from the same user replaces the pending one.
	r.Timestamp++
	req.NoError(s.PutFriendRequest(r))

	pending, err := s.FriendRequests()
	req.NoError(err)
	req.Len(pending, 1)
	req.Equal("dave", pending[0].FromUser.ID)
	req.Equal(r.Timestamp, pending[0].Timestamp)

	req.NoError(s.RemoveFriendRequest("dave"))
	pending, err = s.FriendRequests()
	req.NoError(err)
	req.Empty(pending)

	// Removing an absent request is a no-op.
	req.NoError(s.RemoveFriendRequest("dave"))
}

func TestKVStore_Settings(t *testing.T) {
	req := require.New(t)
	s := newKVStore(t)

	req.NoError(s.PutSetting("identity", "alice"))

	var identity string
	found, err := s.Setting("identity", &identity)
	req.NoError(err)
	req.True(found)
	req.Equal("alice", identity)

	found, err = s.Setting("missing", &identity)
	req.NoError(err)
	req.False(found)
}

func TestKVStore_PrefixesDoNotCollide(t *testing.T) {
	req := require.New(t)
	s := newKVStore(t)

	req.NoError(s.PutContact(&protocol.Contact{ID: "x", Username: "X"}))
	req.NoError(s.PutFriendRequest(&protocol.FriendRequestPayload{FromUser: protocol.Contact{ID: "x"}}))
	req.NoError(s.PutSetting("x", 1))

	contacts, err := s.Contacts()
	req.NoError(err)
	req.Len(contacts, 1)

	pending, err := s.FriendRequests()
	req.NoError(err)
	req.Len(pending, 1)
}

package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
	"github.com/samber/lo"

	"qchat/pkg/protocol"
)

// Key prefixes. Contacts and friend requests are keyed by user ID so a
// repeated signal from the same user overwrites rather than duplicates.
const (
	prefixContact = "contact:"
	prefixRequest = "freq:"
	prefixSetting = "setting:"
)

// KVStore holds the contact book, the pending friend-request inbox, and
// free-form settings in a BadgerDB instance. Values are JSON.
type KVStore struct {
	db  *badger.DB
	log *slog.Logger
}

// OpenKV opens (creating if needed) a badger store at path.
func OpenKV(path string, log *slog.Logger) (*KVStore, error) {
	db, err := badger.Open(badger.DefaultOptions(path).WithLoggingLevel(badger.ERROR))
	if err != nil {
		return nil, fmt.Errorf("failed to open kv store: %w", err)
	}
	return NewKVStore(db, log), nil
}

// NewKVStore wraps an already-open badger instance.
func NewKVStore(db *badger.DB, log *slog.Logger) *KVStore {
	return &KVStore{db: db, log: log}
}

func (s *KVStore) put(key string, value any) error {
	bytes, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), bytes)
	})
}

// get unmarshals the value at key into out. found is false when absent.
func (s *KVStore) get(key string, out any) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(value []byte) error {
			return json.Unmarshal(value, out)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *KVStore) delete(key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

// scan collects the raw values under prefix.
func (s *KVStore) scan(prefix string) ([][]byte, error) {
	var values [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			err := it.Item().Value(func(value []byte) error {
				values = append(values, append([]byte(nil), value...))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return values, nil
}

func (s *KVStore) PutContact(c *protocol.Contact) error {
	return s.put(prefixContact+c.ID, c)
}

func (s *KVStore) Contact(id string) (*protocol.Contact, bool, error) {
	var c protocol.Contact
	found, err := s.get(prefixContact+id, &c)
	if !found || err != nil {
		return nil, false, err
	}
	return &c, true, nil
}

func (s *KVStore) Contacts() ([]*protocol.Contact, error) {
	values, err := s.scan(prefixContact)
	if err != nil {
		return nil, err
	}
	return decodeAll[protocol.Contact](values)
}

func (s *KVStore) RemoveContact(id string) error {
	return s.delete(prefixContact + id)
}

func (s *KVStore) PutFriendRequest(r *protocol.FriendRequestPayload) error {
	return s.put(prefixRequest+r.FromUser.ID, r)
}

func (s *KVStore) FriendRequests() ([]*protocol.FriendRequestPayload, error) {
	values, err := s.scan(prefixRequest)
	if err != nil {
		return nil, err
	}
	return decodeAll[protocol.FriendRequestPayload](values)
}

func (s *KVStore) RemoveFriendRequest(fromUserID string) error {
	return s.delete(prefixRequest + fromUserID)
}

func (s *KVStore) PutSetting(key string, value any) error {
	return s.put(prefixSetting+key, value)
}

func (s *KVStore) Setting(key string, out any) (bool, error) {
	return s.get(prefixSetting+key, out)
}

func (s *KVStore) Close() error {
	return s.db.Close()
}

func decodeAll[T any](values [][]byte) ([]*T, error) {
	out := make([]*T, 0, len(values))
	for _, bytes := range values {
		var item T
		if err := json.Unmarshal(bytes, &item); err != nil {
			return nil, err
		}
		out = append(out, lo.ToPtr(item))
	}
	return out, nil
}

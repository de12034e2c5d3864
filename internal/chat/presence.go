package chat

import (
	"sort"
	"sync"

	"github.com/samber/lo"

	"qchat/pkg/protocol"
)

// PresenceCache tracks which users are currently online, fed by the
// ONLINE_USERS_LIST snapshot at connect and the STATUS_UPDATE stream after.
// The snapshot is authoritative: applying one replaces the whole view.
type PresenceCache struct {
	mu       sync.RWMutex
	online   map[string]struct{}
	onChange func(userID, status string)
}

// NewPresenceCache creates an empty cache. onChange, if non-nil, fires once
// per user whose visible status actually changed; it runs outside the lock.
func NewPresenceCache(onChange func(userID, status string)) *PresenceCache {
	return &PresenceCache{
		online:   make(map[string]struct{}),
		onChange: onChange,
	}
}

// SetSnapshot replaces the view with the given online set.
func (p *PresenceCache) SetSnapshot(userIDs []string) {
	next := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		next[id] = struct{}{}
	}

	p.mu.Lock()
	previous := p.online
	p.online = next
	p.mu.Unlock()

	if p.onChange == nil {
		return
	}
	for id := range previous {
		if _, still := next[id]; !still {
			p.onChange(id, protocol.StatusOffline)
		}
	}
	for id := range next {
		if _, was := previous[id]; !was {
			p.onChange(id, protocol.StatusOnline)
		}
	}
}

// Apply folds one STATUS_UPDATE into the view.
func (p *PresenceCache) Apply(userID, status string) {
	p.mu.Lock()
	_, was := p.online[userID]
	nowOnline := status == protocol.StatusOnline
	if nowOnline {
		p.online[userID] = struct{}{}
	} else {
		delete(p.online, userID)
	}
	p.mu.Unlock()

	if p.onChange != nil && was != nowOnline {
		p.onChange(userID, status)
	}
}

// IsOnline reports whether userID is currently visible as online.
func (p *PresenceCache) IsOnline(userID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.online[userID]
	return ok
}

// Online returns the online user IDs, sorted for stable display.
func (p *PresenceCache) Online() []string {
	p.mu.RLock()
	ids := lo.Keys(p.online)
	p.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"maps"
	"sync"
	"time"

	"github.com/nerrad567/plcwatch-core/internal/auth"
)

const (
	ticketTTL   = time.Minute
	ticketBytes = 32
)

type ticketHolder struct {
	userID    string
	role      auth.Role
	expiresAt time.Time
}

// ticketStore keeps WebSocket tickets between issue and the upgrade
// request. A ticket is removed on first use whether or not it is still
// valid.
type ticketStore struct {
	mu      sync.Mutex
	pending map[string]ticketHolder
	now     func() time.Time
}

func newTicketStore() *ticketStore {
	return &ticketStore{pending: map[string]ticketHolder{}, now: time.Now}
}

func (t *ticketStore) issue(userID string, role auth.Role) string {
	buf := make([]byte, ticketBytes)
	//nolint:errcheck // crypto/rand.Read never fails on supported platforms
	rand.Read(buf)
	ticket := hex.EncodeToString(buf)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[ticket] = ticketHolder{userID: userID, role: role, expiresAt: t.now().Add(ticketTTL)}
	return ticket
}

func (t *ticketStore) consume(ticket string) (ticketHolder, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, ok := t.pending[ticket]
	delete(t.pending, ticket)
	if !ok || !t.now().Before(h.expiresAt) {
		return ticketHolder{}, false
	}
	return h, true
}

func (t *ticketStore) cleanExpired() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	maps.DeleteFunc(t.pending, func(_ string, h ticketHolder) bool {
		return !now.Before(h.expiresAt)
	})
}

func (t *ticketStore) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// cleanLoop sweeps expired tickets once per TTL until ctx ends.
func (t *ticketStore) cleanLoop(ctx context.Context) {
	tick := time.NewTicker(ticketTTL)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			t.cleanExpired()
		}
	}
}

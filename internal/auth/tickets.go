package auth

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTicketTTL is how long a WebSocket ticket stays redeemable.
const DefaultTicketTTL = 60 * time.Second

// Tickets hands out single-use WebSocket tickets.
type Tickets struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	pending map[string]ticket
}

type ticket struct {
	subject string
	expires time.Time
}

// NewTickets returns a ticket store. A zero ttl uses DefaultTicketTTL.
func NewTickets(ttl time.Duration) *Tickets {
	if ttl <= 0 {
		ttl = DefaultTicketTTL
	}
	return &Tickets{ttl: ttl, now: time.Now, pending: make(map[string]ticket)}
}

// Issue creates a ticket for subject.
func (t *Tickets) Issue(subject string) (string, time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for id, tk := range t.pending {
		if !now.Before(tk.expires) {
			delete(t.pending, id)
		}
	}

	id := uuid.NewString()
	expires := now.Add(t.ttl)
	t.pending[id] = ticket{subject: subject, expires: expires}
	return id, expires
}

// Redeem consumes a ticket and returns its subject.
func (t *Tickets) Redeem(id string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tk, ok := t.pending[id]
	if !ok {
		return "", ErrTicketInvalid
	}
	delete(t.pending, id)
	if !t.now().Before(tk.expires) {
		return "", ErrTicketInvalid
	}
	return tk.subject, nil
}

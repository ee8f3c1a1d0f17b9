package auth

import (
	"errors"
	"testing"
	"time"
)

func TestTickets_SingleUse(t *testing.T) {
	tickets := NewTickets(0)

	id, expires := tickets.Issue("admin")
	if id == "" {
		t.Fatal("Issue() returned empty ticket")
	}
	if d := time.Until(expires); d <= 0 || d > DefaultTicketTTL {
		t.Errorf("expires in %v, want within %v", d, DefaultTicketTTL)
	}

	subject, err := tickets.Redeem(id)
	if err != nil {
		t.Fatalf("Redeem() error = %v", err)
	}
	if subject != "admin" {
		t.Errorf("subject = %q, want admin", subject)
	}

	if _, err := tickets.Redeem(id); !errors.Is(err, ErrTicketInvalid) {
		t.Errorf("second Redeem() error = %v, want ErrTicketInvalid", err)
	}
}

func TestTickets_Expiry(t *testing.T) {
	tickets := NewTickets(time.Minute)
	now := time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)
	tickets.now = func() time.Time { return now }

	id, _ := tickets.Issue("admin")
	now = now.Add(2 * time.Minute)

	if _, err := tickets.Redeem(id); !errors.Is(err, ErrTicketInvalid) {
		t.Errorf("Redeem() of expired ticket error = %v, want ErrTicketInvalid", err)
	}
}

func TestTickets_IssuePrunesExpired(t *testing.T) {
	tickets := NewTickets(time.Minute)
	now := time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)
	tickets.now = func() time.Time { return now }

	tickets.Issue("a")
	tickets.Issue("b")
	now = now.Add(time.Hour)
	tickets.Issue("c")

	if n := len(tickets.pending); n != 1 {
		t.Errorf("pending = %d, want 1 after prune", n)
	}
}

func TestTickets_UnknownTicket(t *testing.T) {
	if _, err := NewTickets(0).Redeem("nope"); !errors.Is(err, ErrTicketInvalid) {
		t.Errorf("Redeem() error = %v, want ErrTicketInvalid", err)
	}
}

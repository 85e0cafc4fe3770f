package split

import (
	"errors"
	"math"
	"testing"

	"github.com/jonboulle/clockwork"
)

func newTestSession(t *testing.T, names []string) *PaymentSession {
	t.Helper()
	session, err := NewEqualSession(19.99, 0, names)
	if err != nil {
		t.Fatalf("NewEqualSession: %v", err)
	}
	return session
}

func TestNewEqualSessionShares(t *testing.T) {
	session := newTestSession(t, []string{"Alice", "Bob", "Chloe"})

	want := []float64{6.67, 6.66, 6.66}
	for i, p := range session.Portions {
		if p.Amount != want[i] {
			t.Errorf("portion %d (%s) = %v, want %v", i, p.Name, p.Amount, want[i])
		}
		if p.Paid {
			t.Errorf("portion %d starts paid", i)
		}
	}
	if session.SplitType != TypeEqual {
		t.Errorf("SplitType = %v, want %v", session.SplitType, TypeEqual)
	}
}

func TestNewCustomSessionValidation(t *testing.T) {
	_, err := NewCustomSession(20.00, 0, []CustomPortion{
		{Name: "Alice", Amount: 12.00},
		{Name: "Bob", Amount: 5.00},
	})
	if err == nil {
		t.Fatal("expected error for mismatched custom amounts")
	}

	session, err := NewCustomSession(20.00, 2.00, []CustomPortion{
		{Name: "Alice", Amount: 12.00},
		{Name: "Bob", Amount: 10.00},
	})
	if err != nil {
		t.Fatalf("NewCustomSession: %v", err)
	}
	if session.SplitType != TypeCustom {
		t.Errorf("SplitType = %v, want %v", session.SplitType, TypeCustom)
	}
}

func TestTrackerPayPortion(t *testing.T) {
	clock := clockwork.NewFakeClock()
	session := newTestSession(t, []string{"Alice", "Bob", "Chloe"})
	mine := session.Portions[1].ID
	tracker := NewTracker(session, mine).WithClock(clock)

	// Paying someone else's portion is rejected.
	if err := tracker.PayPortion(session.Portions[0].ID); !errors.Is(err, ErrNotOwnPortion) {
		t.Fatalf("PayPortion(other) error = %v, want ErrNotOwnPortion", err)
	}

	if err := tracker.PayPortion(mine); err != nil {
		t.Fatalf("PayPortion(mine): %v", err)
	}
	if !session.Portions[1].Paid {
		t.Fatal("portion not marked paid")
	}
	if session.Portions[1].PaidAt == nil || !session.Portions[1].PaidAt.Equal(clock.Now()) {
		t.Fatal("PaidAt not stamped from clock")
	}

	// Paid portions are immutable.
	if err := tracker.PayPortion(mine); !errors.Is(err, ErrPortionPaid) {
		t.Fatalf("second PayPortion error = %v, want ErrPortionPaid", err)
	}

	if got := tracker.PaidAmount(); got != 6.66 {
		t.Errorf("PaidAmount = %v, want 6.66", got)
	}
	if got := tracker.UnpaidAmount(); math.Abs(got-13.33) > 0.001 {
		t.Errorf("UnpaidAmount = %v, want 13.33", got)
	}
	if got := tracker.Progress(); math.Abs(got-33.32) > 0.1 {
		t.Errorf("Progress = %v, want about 33.3", got)
	}
}

func TestTrackerPayRemaining(t *testing.T) {
	session := newTestSession(t, []string{"Alice", "Bob", "Chloe"})
	tracker := NewTracker(session, session.Portions[0].ID).WithClock(clockwork.NewFakeClock())

	if err := tracker.PayRemaining(); err != nil {
		t.Fatalf("PayRemaining: %v", err)
	}
	if got := tracker.UnpaidAmount(); got != 0 {
		t.Errorf("UnpaidAmount = %v, want 0", got)
	}
	if got := tracker.Progress(); got != 100 {
		t.Errorf("Progress = %v, want 100", got)
	}

	// Nothing left to proxy-pay.
	if err := tracker.PayRemaining(); !errors.Is(err, ErrProxyPayNotAllowed) {
		t.Fatalf("PayRemaining on settled session error = %v, want ErrProxyPayNotAllowed", err)
	}
}

func TestTrackerPayRemainingRequiresTwoUnpaid(t *testing.T) {
	session := newTestSession(t, []string{"Alice", "Bob"})
	tracker := NewTracker(session, session.Portions[0].ID).WithClock(clockwork.NewFakeClock())

	if err := tracker.PayPortion(session.Portions[0].ID); err != nil {
		t.Fatalf("PayPortion: %v", err)
	}
	if err := tracker.PayRemaining(); !errors.Is(err, ErrProxyPayNotAllowed) {
		t.Fatalf("PayRemaining with one unpaid error = %v, want ErrProxyPayNotAllowed", err)
	}
}

func TestTrackerComplete(t *testing.T) {
	clock := clockwork.NewFakeClock()
	session := newTestSession(t, []string{"Alice", "Bob", "Chloe"})
	tracker := NewTracker(session, session.Portions[0].ID).WithClock(clock)

	// Completing with money outstanding is refused.
	if err := tracker.Complete(); err == nil {
		t.Fatal("Complete succeeded with unpaid portions")
	}

	if err := tracker.PayRemaining(); err != nil {
		t.Fatalf("PayRemaining: %v", err)
	}
	if err := tracker.Complete(); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if !session.Completed || session.CompletedAt == nil {
		t.Fatal("session not marked completed with timestamp")
	}

	// Terminal: no further mutation.
	if err := tracker.Complete(); !errors.Is(err, ErrSessionCompleted) {
		t.Fatalf("second Complete error = %v, want ErrSessionCompleted", err)
	}
	if err := tracker.PayPortion(session.Portions[0].ID); !errors.Is(err, ErrSessionCompleted) {
		t.Fatalf("PayPortion after completion error = %v, want ErrSessionCompleted", err)
	}
}

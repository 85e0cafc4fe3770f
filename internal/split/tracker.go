package split

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Type identifies how a bill is divided among payers.
type Type string

const (
	TypeNone   Type = "none"
	TypeEqual  Type = "equal"
	TypeCustom Type = "custom"
)

var (
	// ErrPortionPaid is returned when paying a portion that is already paid.
	// Paid portions are immutable.
	ErrPortionPaid = errors.New("portion is already paid")

	// ErrNotOwnPortion is returned when a payer tries to pay a portion that
	// belongs to someone else through the single-portion path.
	ErrNotOwnPortion = errors.New("portion belongs to another participant")

	// ErrSessionCompleted is returned when mutating a completed payment
	// session.
	ErrSessionCompleted = errors.New("payment session is completed")

	// ErrProxyPayNotAllowed is returned when pay-all-remaining is requested
	// with fewer than two unpaid portions left.
	ErrProxyPayNotAllowed = errors.New("pay remaining requires at least two unpaid portions")

	// ErrPortionNotFound is returned when the referenced portion does not
	// exist in the session.
	ErrPortionNotFound = errors.New("portion not found")
)

// Portion is one payer's share of a bill.
type Portion struct {
	ID     string
	Name   string
	Amount float64
	Paid   bool
	PaidAt *time.Time
}

// PaymentSession holds the split state for settling a single order. It exists
// only while the bill is being settled and is discarded once paid in full.
type PaymentSession struct {
	Total       float64
	Tip         float64
	SplitType   Type
	Portions    []Portion
	Completed   bool
	CompletedAt *time.Time
}

// NewEqualSession builds a payment session dividing total+tip equally among
// the named payers, cent-exact, in the given order.
func NewEqualSession(total, tip float64, names []string) (*PaymentSession, error) {
	shares, err := EqualSplit(total+tip, len(names))
	if err != nil {
		return nil, err
	}

	portions := make([]Portion, len(names))
	for i, name := range names {
		portions[i] = Portion{
			ID:     uuid.New().String(),
			Name:   name,
			Amount: shares[i],
		}
	}

	return &PaymentSession{
		Total:     total,
		Tip:       tip,
		SplitType: TypeEqual,
		Portions:  portions,
	}, nil
}

// CustomPortion is a user-entered share used to build a custom session.
type CustomPortion struct {
	Name   string
	Amount float64
}

// NewCustomSession builds a payment session from user-entered portions. The
// amounts must pass ConfirmCustom.
func NewCustomSession(total, tip float64, entries []CustomPortion) (*PaymentSession, error) {
	amounts := make([]float64, len(entries))
	for i, e := range entries {
		amounts[i] = e.Amount
	}
	if err := ConfirmCustom(amounts, total, tip); err != nil {
		return nil, err
	}

	portions := make([]Portion, len(entries))
	for i, e := range entries {
		portions[i] = Portion{
			ID:     uuid.New().String(),
			Name:   e.Name,
			Amount: e.Amount,
		}
	}

	return &PaymentSession{
		Total:     total,
		Tip:       tip,
		SplitType: TypeCustom,
		Portions:  portions,
	}, nil
}

// Tracker overlays paid/unpaid progress onto a payment session and enforces
// who may pay what. The local portion ID identifies the share owned by this
// device's participant.
type Tracker struct {
	session        *PaymentSession
	localPortionID string
	clock          clockwork.Clock
}

// NewTracker creates a tracker for session. localPortionID may be empty when
// the local participant holds no share (e.g. a host collecting cash).
func NewTracker(session *PaymentSession, localPortionID string) *Tracker {
	return &Tracker{
		session:        session,
		localPortionID: localPortionID,
		clock:          clockwork.NewRealClock(),
	}
}

// WithClock overrides the tracker's clock. Intended for tests.
func (t *Tracker) WithClock(clock clockwork.Clock) *Tracker {
	t.clock = clock
	return t
}

// Session returns the underlying payment session.
func (t *Tracker) Session() *PaymentSession {
	return t.session
}

// PaidAmount returns the sum of paid portions.
func (t *Tracker) PaidAmount() float64 {
	var sum float64
	for _, p := range t.session.Portions {
		if p.Paid {
			sum += p.Amount
		}
	}
	return sum
}

// UnpaidAmount returns the sum of unpaid portions.
func (t *Tracker) UnpaidAmount() float64 {
	var sum float64
	for _, p := range t.session.Portions {
		if !p.Paid {
			sum += p.Amount
		}
	}
	return sum
}

// Progress returns the paid fraction of the bill as a percentage in [0, 100].
func (t *Tracker) Progress() float64 {
	total := t.PaidAmount() + t.UnpaidAmount()
	if total == 0 {
		return 0
	}
	return t.PaidAmount() / total * 100
}

// PayPortion marks the local participant's portion as paid. Paying someone
// else's share goes through PayRemaining.
func (t *Tracker) PayPortion(portionID string) error {
	if t.session.Completed {
		return ErrSessionCompleted
	}
	if portionID != t.localPortionID {
		return ErrNotOwnPortion
	}
	return t.markPaid(portionID)
}

// PayRemaining marks every unpaid portion as paid on behalf of their owners.
// It is only permitted while at least two portions remain unpaid; with a
// single portion left the owner pays it directly.
func (t *Tracker) PayRemaining() error {
	if t.session.Completed {
		return ErrSessionCompleted
	}

	unpaid := 0
	for _, p := range t.session.Portions {
		if !p.Paid {
			unpaid++
		}
	}
	if unpaid < 2 {
		return ErrProxyPayNotAllowed
	}

	now := t.clock.Now()
	for i := range t.session.Portions {
		if !t.session.Portions[i].Paid {
			t.session.Portions[i].Paid = true
			t.session.Portions[i].PaidAt = &now
		}
	}
	return nil
}

// Complete marks the session as fully settled. The transition is terminal: no
// portion may be paid afterwards.
func (t *Tracker) Complete() error {
	if t.session.Completed {
		return ErrSessionCompleted
	}
	if t.UnpaidAmount() > Tolerance {
		return fmt.Errorf("cannot complete: %.2f remains unpaid", t.UnpaidAmount())
	}
	now := t.clock.Now()
	t.session.Completed = true
	t.session.CompletedAt = &now
	return nil
}

func (t *Tracker) markPaid(portionID string) error {
	for i := range t.session.Portions {
		if t.session.Portions[i].ID != portionID {
			continue
		}
		if t.session.Portions[i].Paid {
			return ErrPortionPaid
		}
		now := t.clock.Now()
		t.session.Portions[i].Paid = true
		t.session.Portions[i].PaidAt = &now
		return nil
	}
	return ErrPortionNotFound
}

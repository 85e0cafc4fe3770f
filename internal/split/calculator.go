package split

import (
	"errors"
	"fmt"
	"math"
)

// Tolerance is the maximum absolute difference, in currency units, between the
// sum of custom portions and the amount owed for the split to be accepted.
const Tolerance = 0.01

var (
	// ErrTooFewShares is returned when a split is attempted with fewer than
	// two shares. A single payer settles the bill directly without splitting.
	ErrTooFewShares = errors.New("split requires at least two shares")

	// ErrNegativeTotal is returned when the amount to split is negative.
	ErrNegativeTotal = errors.New("total cannot be negative")
)

// EqualSplit divides total into n shares that sum to total exactly.
//
// The total is converted to integer cents, floor-divided by n, and the
// remainder cents are handed out one each to the first shares in index order.
// The assignment is deterministic: for total 19.99 and n 3 the shares are
// [6.67, 6.66, 6.66].
func EqualSplit(total float64, n int) ([]float64, error) {
	if n < 2 {
		return nil, ErrTooFewShares
	}
	if total < 0 {
		return nil, ErrNegativeTotal
	}

	cents := int64(math.Round(total * 100))
	base := cents / int64(n)
	remainder := cents % int64(n)

	shares := make([]float64, n)
	for i := range shares {
		c := base
		if int64(i) < remainder {
			c++
		}
		shares[i] = float64(c) / 100
	}
	return shares, nil
}

// CustomValidation is the outcome of checking user-entered portion amounts
// against the amount owed.
type CustomValidation struct {
	// Valid reports whether the portions sum to total+tip within Tolerance.
	Valid bool

	// Difference is the signed discrepancy (entered minus owed). Zero when
	// Valid.
	Difference float64

	// Message is a human-readable description of the outcome, suitable for
	// surfacing directly to the user.
	Message string
}

// ValidateCustom checks that user-entered portions cover total+tip.
func ValidateCustom(portions []float64, total, tip float64) CustomValidation {
	owed := total + tip

	var sum float64
	for _, p := range portions {
		sum += p
	}

	diff := sum - owed
	switch {
	case math.Abs(diff) <= Tolerance:
		return CustomValidation{Valid: true, Message: "amounts match the bill"}
	case diff > 0:
		return CustomValidation{
			Difference: diff,
			Message:    fmt.Sprintf("amounts exceed the bill by %.2f", diff),
		}
	default:
		return CustomValidation{
			Difference: diff,
			Message:    fmt.Sprintf("amounts fall short of the bill by %.2f", -diff),
		}
	}
}

// ConfirmCustom validates a custom split for confirmation. Beyond the amounts
// matching, at least two portions must be non-zero; otherwise the selection is
// really a single payer and splitting does not apply.
func ConfirmCustom(portions []float64, total, tip float64) error {
	v := ValidateCustom(portions, total, tip)
	if !v.Valid {
		return fmt.Errorf("invalid custom split: %s", v.Message)
	}

	nonZero := 0
	for _, p := range portions {
		if p > 0 {
			nonZero++
		}
	}
	if nonZero < 2 {
		return ErrTooFewShares
	}
	return nil
}

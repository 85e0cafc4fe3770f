// Package cart maintains the shared list of table-order line items. Mutations
// are optimistic-free: a command is issued to the order API and local state
// only changes when the authoritative broadcast echoes back, so concurrent
// editors never diverge.
package cart

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
)

var (
	// ErrNotItemOwner is returned when a participant tries to mutate an item
	// owned by someone else. Items are visible to all but writable only by
	// their owner.
	ErrNotItemOwner = errors.New("item belongs to another participant")

	// ErrItemNotFound is returned when the referenced item is not in the
	// cart.
	ErrItemNotFound = errors.New("item not found in cart")
)

// Item is one line of the shared cart.
type Item struct {
	ID            string  `json:"id"`
	ParticipantID string  `json:"participant_id"`
	MenuItemID    string  `json:"menu_item_id"`
	Name          string  `json:"name"`
	Quantity      int     `json:"quantity"`
	Note          string  `json:"note,omitempty"`
	UnitPrice     float64 `json:"unit_price"`
	TotalPrice    float64 `json:"total_price"`
}

// API is the slice of the order service the synchronizer issues commands
// through. Implementations are external collaborators; the synchronizer never
// applies their effect locally.
type API interface {
	AddItem(ctx context.Context, sessionID string, item Item) error
	UpdateItemQuantity(ctx context.Context, sessionID, itemID string, quantity int) error
	RemoveItem(ctx context.Context, sessionID, itemID string) error
}

// Group is the per-participant view of the cart used for display.
type Group struct {
	ParticipantID string
	Items         []Item
	Subtotal      float64
}

// Sync synchronizes the shared cart for one session.
type Sync struct {
	api                API
	sessionID          string
	localParticipantID string

	mu    sync.RWMutex
	items []Item
}

// NewSync creates a synchronizer for the given session, acting as the given
// participant.
func NewSync(api API, sessionID, localParticipantID string) *Sync {
	return &Sync{
		api:                api,
		sessionID:          sessionID,
		localParticipantID: localParticipantID,
	}
}

// Apply replaces the local cart with the authoritative item list from a
// server broadcast.
func (s *Sync) Apply(items []Item) {
	s.mu.Lock()
	s.items = append([]Item(nil), items...)
	s.mu.Unlock()

	log.Debug().Str("session_id", s.sessionID).Int("items", len(items)).
		Msg("cart replaced from broadcast")
}

// Items returns a copy of the cart in server order.
func (s *Sync) Items() []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Item(nil), s.items...)
}

// Total returns the sum of all item totals.
func (s *Sync) Total() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total float64
	for _, item := range s.items {
		total += item.TotalPrice
	}
	return total
}

// Count returns the number of units in the cart (quantities, not lines).
func (s *Sync) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, item := range s.items {
		count += item.Quantity
	}
	return count
}

// GroupByParticipant groups items by owner for display, preserving the order
// in which owners first appear in the cart.
func (s *Sync) GroupByParticipant() []Group {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var groups []Group
	index := make(map[string]int)
	for _, item := range s.items {
		i, ok := index[item.ParticipantID]
		if !ok {
			i = len(groups)
			index[item.ParticipantID] = i
			groups = append(groups, Group{ParticipantID: item.ParticipantID})
		}
		groups[i].Items = append(groups[i].Items, item)
		groups[i].Subtotal += item.TotalPrice
	}
	return groups
}

// SetQuantity issues a quantity change for an item owned by the local
// participant. A quantity at or below zero is equivalent to removal. The
// local cart is untouched until the server echoes the change.
func (s *Sync) SetQuantity(ctx context.Context, itemID string, quantity int) error {
	if err := s.authorize(itemID); err != nil {
		return err
	}
	if quantity <= 0 {
		return s.api.RemoveItem(ctx, s.sessionID, itemID)
	}
	return s.api.UpdateItemQuantity(ctx, s.sessionID, itemID, quantity)
}

// Remove issues a removal for an item owned by the local participant.
func (s *Sync) Remove(ctx context.Context, itemID string) error {
	if err := s.authorize(itemID); err != nil {
		return err
	}
	return s.api.RemoveItem(ctx, s.sessionID, itemID)
}

// Add issues an add command for a new item owned by the local participant.
func (s *Sync) Add(ctx context.Context, item Item) error {
	item.ParticipantID = s.localParticipantID
	return s.api.AddItem(ctx, s.sessionID, item)
}

func (s *Sync) authorize(itemID string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, item := range s.items {
		if item.ID == itemID {
			if item.ParticipantID != s.localParticipantID {
				return ErrNotItemOwner
			}
			return nil
		}
	}
	return ErrItemNotFound
}

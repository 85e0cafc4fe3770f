package session

import "github.com/Fingerliing/payquick-sub007/internal/cart"

// Status is the lifecycle state of a table session. Transitions are
// server-authoritative and mirrored locally.
type Status string

const (
	StatusActive    Status = "active"
	StatusLocked    Status = "locked"
	StatusCompleted Status = "completed"
	// StatusArchived is terminal: the session is read-only.
	StatusArchived Status = "archived"
)

// ParticipantStatus is the membership state of a participant.
type ParticipantStatus string

const (
	ParticipantPending ParticipantStatus = "pending"
	ParticipantActive  ParticipantStatus = "active"
	ParticipantRemoved ParticipantStatus = "removed"
)

// Participant is one device/person in a table session. Exactly one active
// participant holds IsHost at any time.
type Participant struct {
	ID          string            `json:"id"`
	DisplayName string            `json:"display_name"`
	IsHost      bool              `json:"is_host"`
	Status      ParticipantStatus `json:"status"`
}

// Session is the shared table-order state of one restaurant table.
type Session struct {
	ID           string        `json:"id"`
	Status       Status        `json:"status"`
	ShareCode    string        `json:"share_code"`
	HostID       string        `json:"host_id"`
	TotalAmount  float64       `json:"total_amount"`
	Participants []Participant `json:"participants"`
	Items        []cart.Item   `json:"items"`
}

// CanTransition reports whether a session may move from one status to
// another. active and locked flip freely, both may complete, and completed
// sessions archive. Archived is terminal.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusActive:
		return to == StatusLocked || to == StatusCompleted
	case StatusLocked:
		return to == StatusActive || to == StatusCompleted
	case StatusCompleted:
		return to == StatusArchived
	default:
		return false
	}
}

// Participant returns the participant with the given id, or nil.
func (s *Session) Participant(id string) *Participant {
	for i := range s.Participants {
		if s.Participants[i].ID == id {
			return &s.Participants[i]
		}
	}
	return nil
}

// Host returns the participant currently holding the host flag, or nil.
func (s *Session) Host() *Participant {
	for i := range s.Participants {
		if s.Participants[i].IsHost {
			return &s.Participants[i]
		}
	}
	return nil
}

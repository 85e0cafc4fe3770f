package session

import "github.com/Fingerliing/payquick-sub007/internal/cart"

// Wire payloads for session channel events. Envelopes are flat JSON objects
// with a "type" discriminator; the router hands the whole frame to the typed
// decoder.

type sessionPayload struct {
	Session *Session `json:"session"`
}

type participantPayload struct {
	Participant *Participant `json:"participant"`
}

type participantRefPayload struct {
	ParticipantID string `json:"participant_id"`
}

type archivedPayload struct {
	RedirectTo string `json:"redirect_to"`
}

type orderPayload struct {
	Items       []cart.Item `json:"items"`
	TotalAmount *float64    `json:"total_amount"`
}

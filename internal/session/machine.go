package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/Fingerliing/payquick-sub007/internal/cart"
	"github.com/Fingerliing/payquick-sub007/internal/realtime"
)

var (
	// ErrNoSession is returned when a command is issued before any session
	// state has been received.
	ErrNoSession = errors.New("no active session")

	// ErrNotHost is returned when a non-host issues a management command.
	// The command is rejected locally and never sent over the wire.
	ErrNotHost = errors.New("only the host may perform this action")

	// ErrSessionArchived is returned for any mutating command against an
	// archived session. Archived sessions are terminal and read-only.
	ErrSessionArchived = errors.New("session is archived")

	// ErrInvalidTransition is returned when the requested status change is
	// not allowed from the current status.
	ErrInvalidTransition = errors.New("invalid session status transition")

	// ErrUnknownParticipant is returned when a participant command targets
	// an id not present in the session.
	ErrUnknownParticipant = errors.New("participant not in session")
)

// Session and participant management actions routed through the REST action
// endpoint.
const (
	ActionLock     = "lock"
	ActionUnlock   = "unlock"
	ActionComplete = "complete"
	ActionApprove  = "approve"
	ActionReject   = "reject"
	ActionRemove   = "remove"
	ActionMakeHost = "make_host"
)

// API is the slice of the REST collaborators the machine issues validated
// commands through. The server remains the final authority and may still
// reject host-issued commands.
type API interface {
	SessionAction(ctx context.Context, sessionID, action string) error
	ParticipantAction(ctx context.Context, participantID, action string) error
	LeaveSession(ctx context.Context, sessionID, participantID string) error
}

// AssociationStore drops the persisted session→participant association when
// the local participant leaves or the table is released.
type AssociationStore interface {
	Forget(ctx context.Context, sessionID string) error
}

// Machine owns the local mirror of one table session: status, participant
// list and host assignment. It applies inbound events in receipt order and
// validates outbound commands before they reach the network.
//
// Host transfer is never applied optimistically: the flag swap happens only
// when the server echoes the new state.
type Machine struct {
	api          API
	associations AssociationStore
	cartSync     *cart.Sync

	mu                 sync.RWMutex
	session            *Session
	localParticipantID string
	redirect           string
	unsubscribes       []func()
}

// NewMachine creates a machine acting as the given local participant.
func NewMachine(api API, localParticipantID string) *Machine {
	return &Machine{api: api, localParticipantID: localParticipantID}
}

// WithAssociations attaches the persisted identity store.
func (m *Machine) WithAssociations(store AssociationStore) *Machine {
	m.associations = store
	return m
}

// WithCart attaches the cart synchronizer so broadcasts carrying items reach
// it.
func (m *Machine) WithCart(c *cart.Sync) *Machine {
	m.cartSync = c
	return m
}

// SetSession seeds the machine with state obtained over REST (create/join).
func (m *Machine) SetSession(s *Session) {
	m.mu.Lock()
	m.session = s
	m.mu.Unlock()
	if s != nil && m.cartSync != nil {
		m.cartSync.Apply(s.Items)
	}
}

// Bind subscribes the machine's event handlers on the router. Unbind reverses
// it.
func (m *Machine) Bind(r *realtime.Router) {
	sub := func(event string, h realtime.Handler) {
		m.unsubscribes = append(m.unsubscribes, r.Subscribe(event, h))
	}
	sub(realtime.EventSessionState, m.applySession)
	sub(realtime.EventSessionUpdate, m.applySession)
	sub(realtime.EventParticipantJoined, m.applyParticipantJoined)
	sub(realtime.EventParticipantApproved, m.applyParticipantApproved)
	sub(realtime.EventParticipantLeft, m.applyParticipantLeft)
	sub(realtime.EventSessionLocked, func([]byte) { m.applyStatus(StatusLocked) })
	sub(realtime.EventSessionUnlocked, func([]byte) { m.applyStatus(StatusActive) })
	sub(realtime.EventSessionCompleted, func([]byte) { m.applyStatus(StatusCompleted) })
	sub(realtime.EventSessionArchived, m.applyArchived)
	sub(realtime.EventTableReleased, m.applyTableReleased)
	sub(realtime.EventOrderCreated, m.applyOrder)
	sub(realtime.EventOrderUpdated, m.applyOrder)
}

// Unbind removes the machine's handlers from the router.
func (m *Machine) Unbind() {
	for _, unsubscribe := range m.unsubscribes {
		unsubscribe()
	}
	m.unsubscribes = nil
}

// Session returns a copy of the current session state, or nil.
func (m *Machine) Session() *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return nil
	}
	copied := *m.session
	copied.Participants = append([]Participant(nil), m.session.Participants...)
	copied.Items = append([]cart.Item(nil), m.session.Items...)
	return &copied
}

// IsHost reports whether the local participant currently holds the host flag.
func (m *Machine) IsHost() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return false
	}
	local := m.session.Participant(m.localParticipantID)
	return local != nil && local.IsHost
}

// RedirectSuggestion returns the redirect target carried by a
// session_archived event, if any.
func (m *Machine) RedirectSuggestion() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.redirect
}

// Lock freezes the cart for ordering. Host only, from active.
func (m *Machine) Lock(ctx context.Context) error {
	return m.sessionAction(ctx, ActionLock, StatusActive)
}

// Unlock reopens a locked session. Host only, from locked.
func (m *Machine) Unlock(ctx context.Context) error {
	return m.sessionAction(ctx, ActionUnlock, StatusLocked)
}

// Complete finishes the session. Host only, from active or locked.
func (m *Machine) Complete(ctx context.Context) error {
	return m.sessionAction(ctx, ActionComplete, StatusActive, StatusLocked)
}

// Approve admits a pending participant. Host only.
func (m *Machine) Approve(ctx context.Context, participantID string) error {
	return m.participantAction(ctx, participantID, ActionApprove)
}

// Reject turns away a pending participant. Host only.
func (m *Machine) Reject(ctx context.Context, participantID string) error {
	return m.participantAction(ctx, participantID, ActionReject)
}

// Remove kicks a participant. Host only.
func (m *Machine) Remove(ctx context.Context, participantID string) error {
	return m.participantAction(ctx, participantID, ActionRemove)
}

// TransferHost hands the host role to another active participant. Host only;
// the swap is applied from the server broadcast, never locally.
func (m *Machine) TransferHost(ctx context.Context, participantID string) error {
	return m.participantAction(ctx, participantID, ActionMakeHost)
}

// Leave withdraws the local participant from the session and drops the
// persisted association. Any participant may leave.
func (m *Machine) Leave(ctx context.Context) error {
	m.mu.RLock()
	if m.session == nil {
		m.mu.RUnlock()
		return ErrNoSession
	}
	sessionID := m.session.ID
	m.mu.RUnlock()

	if err := m.api.LeaveSession(ctx, sessionID, m.localParticipantID); err != nil {
		return err
	}
	m.forgetAssociation(ctx, sessionID)
	return nil
}

func (m *Machine) sessionAction(ctx context.Context, action string, from ...Status) error {
	m.mu.RLock()
	err := m.authorizeManageLocked()
	var sessionID string
	var status Status
	if err == nil {
		sessionID = m.session.ID
		status = m.session.Status
	}
	m.mu.RUnlock()
	if err != nil {
		return err
	}

	allowed := false
	for _, s := range from {
		if status == s {
			allowed = true
		}
	}
	if !allowed {
		return ErrInvalidTransition
	}

	return m.api.SessionAction(ctx, sessionID, action)
}

func (m *Machine) participantAction(ctx context.Context, participantID, action string) error {
	m.mu.RLock()
	err := m.authorizeManageLocked()
	if err == nil && m.session.Participant(participantID) == nil {
		err = ErrUnknownParticipant
	}
	m.mu.RUnlock()
	if err != nil {
		return err
	}

	return m.api.ParticipantAction(ctx, participantID, action)
}

// authorizeManageLocked rejects management commands before any network send:
// the session must exist, must not be archived, and the local participant
// must currently hold the host flag.
func (m *Machine) authorizeManageLocked() error {
	if m.session == nil {
		return ErrNoSession
	}
	if m.session.Status == StatusArchived {
		return ErrSessionArchived
	}
	local := m.session.Participant(m.localParticipantID)
	if local == nil || !local.IsHost {
		return ErrNotHost
	}
	return nil
}

func (m *Machine) applySession(raw []byte) {
	var payload sessionPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.Session == nil {
		log.Warn().Err(err).Msg("dropping session payload")
		return
	}

	m.mu.Lock()
	// Replacing the whole session applies any host swap as one atomic
	// update.
	m.session = payload.Session
	items := payload.Session.Items
	m.mu.Unlock()

	if m.cartSync != nil {
		m.cartSync.Apply(items)
	}
}

func (m *Machine) applyParticipantJoined(raw []byte) {
	var payload participantPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.Participant == nil {
		log.Warn().Err(err).Msg("dropping participant_joined payload")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return
	}
	// Idempotent upsert: a duplicate delivery replaces in place.
	if existing := m.session.Participant(payload.Participant.ID); existing != nil {
		*existing = *payload.Participant
		return
	}
	m.session.Participants = append(m.session.Participants, *payload.Participant)
}

func (m *Machine) applyParticipantApproved(raw []byte) {
	var payload participantRefPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.ParticipantID == "" {
		log.Warn().Err(err).Msg("dropping participant_approved payload")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return
	}
	if p := m.session.Participant(payload.ParticipantID); p != nil {
		p.Status = ParticipantActive
	}
}

func (m *Machine) applyParticipantLeft(raw []byte) {
	var payload participantRefPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.ParticipantID == "" {
		log.Warn().Err(err).Msg("dropping participant_left payload")
		return
	}

	m.mu.Lock()
	var sessionID string
	if m.session != nil {
		sessionID = m.session.ID
		kept := m.session.Participants[:0]
		for _, p := range m.session.Participants {
			if p.ID != payload.ParticipantID {
				kept = append(kept, p)
			}
		}
		m.session.Participants = kept
	}
	isLocal := payload.ParticipantID == m.localParticipantID
	m.mu.Unlock()

	if isLocal && sessionID != "" {
		m.forgetAssociation(context.Background(), sessionID)
	}
}

func (m *Machine) applyStatus(status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil || m.session.Status == StatusArchived {
		return
	}
	m.session.Status = status
}

func (m *Machine) applyArchived(raw []byte) {
	var payload archivedPayload
	// The redirect suggestion is advisory; a missing payload is fine.
	_ = json.Unmarshal(raw, &payload)

	m.mu.Lock()
	if m.session != nil {
		m.session.Status = StatusArchived
	}
	m.redirect = payload.RedirectTo
	m.mu.Unlock()

	log.Info().Str("redirect_to", payload.RedirectTo).Msg("session archived")
}

func (m *Machine) applyTableReleased([]byte) {
	m.mu.Lock()
	var sessionID string
	if m.session != nil {
		sessionID = m.session.ID
		m.session.Status = StatusArchived
	}
	m.mu.Unlock()

	if sessionID != "" {
		m.forgetAssociation(context.Background(), sessionID)
	}
}

func (m *Machine) applyOrder(raw []byte) {
	var payload orderPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		log.Warn().Err(err).Msg("dropping order payload")
		return
	}

	m.mu.Lock()
	if m.session != nil {
		if payload.TotalAmount != nil {
			m.session.TotalAmount = *payload.TotalAmount
		}
		if payload.Items != nil {
			m.session.Items = payload.Items
		}
	}
	m.mu.Unlock()

	if payload.Items != nil && m.cartSync != nil {
		m.cartSync.Apply(payload.Items)
	}
}

func (m *Machine) forgetAssociation(ctx context.Context, sessionID string) {
	if m.associations == nil {
		return
	}
	if err := m.associations.Forget(ctx, sessionID); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).
			Msg("failed to drop persisted session association")
	}
}

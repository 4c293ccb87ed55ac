// Package session holds the negotiation state machine for the single local
// WebRTC session.
//
// State is not safe for concurrent use. The coordinator confines it to its
// event loop.
package session

import (
	"errors"
	"fmt"
)

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseOfferPending
	PhaseOfferSent
	PhaseAnswerApplied
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseOfferPending:
		return "offer_pending"
	case PhaseOfferSent:
		return "offer_sent"
	case PhaseAnswerApplied:
		return "answer_applied"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

var (
	ErrInvalidTransition = errors.New("invalid session transition")
	ErrUnexpectedAnswer  = errors.New("unexpected answer")
	ErrSessionFailed     = errors.New("session failed")
)

// TransitionError reports an operation that was not valid from the session's
// current phase. It unwraps to one of the package sentinels.
type TransitionError struct {
	Op   string
	From Phase
	Err  error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s from %s: %v", e.Op, e.From, e.Err)
}

func (e *TransitionError) Unwrap() error { return e.Err }

// Candidate is an ICE candidate record. The session never inspects it.
type Candidate struct {
	Candidate        string
	SDPMLineIndex    uint16
	SDPMid           *string
	UsernameFragment *string
}

type State struct {
	phase Phase

	localDescription  string
	hasLocal          bool
	remoteDescription string
	hasRemote         bool

	pendingRemote []Candidate
	// localCandidates is kept for the whole session so that clients connecting
	// late can be sent every candidate.
	localCandidates []Candidate

	failure error
}

func New() *State {
	return &State{phase: PhaseIdle}
}

func (s *State) Phase() Phase { return s.phase }

// BeginOffer moves Idle to OfferPending.
func (s *State) BeginOffer() error {
	if s.phase != PhaseIdle {
		return &TransitionError{Op: "begin offer", From: s.phase, Err: ErrInvalidTransition}
	}
	s.phase = PhaseOfferPending
	return nil
}

// RecordLocalOffer commits the local offer and moves OfferPending to
// OfferSent. It returns the local candidates that were queued while the offer
// was outstanding; they become sendable now.
func (s *State) RecordLocalOffer(sdp string) ([]Candidate, error) {
	if s.phase != PhaseOfferPending {
		return nil, &TransitionError{Op: "record local offer", From: s.phase, Err: ErrInvalidTransition}
	}
	s.localDescription = sdp
	s.hasLocal = true
	s.phase = PhaseOfferSent
	return append([]Candidate(nil), s.localCandidates...), nil
}

// CheckAnswer reports whether ApplyRemoteAnswer would succeed, without
// changing anything.
func (s *State) CheckAnswer() error {
	switch s.phase {
	case PhaseOfferSent:
		return nil
	case PhaseFailed:
		return &TransitionError{Op: "apply remote answer", From: s.phase, Err: ErrSessionFailed}
	default:
		return &TransitionError{Op: "apply remote answer", From: s.phase, Err: ErrUnexpectedAnswer}
	}
}

// ApplyRemoteAnswer stores the remote answer and moves OfferSent to
// AnswerApplied. The remote candidates buffered so far are returned in receipt
// order and the buffer is cleared.
func (s *State) ApplyRemoteAnswer(sdp string) ([]Candidate, error) {
	if err := s.CheckAnswer(); err != nil {
		return nil, err
	}
	s.remoteDescription = sdp
	s.hasRemote = true
	s.phase = PhaseAnswerApplied

	drained := s.pendingRemote
	s.pendingRemote = nil
	return drained, nil
}

// AddRemoteCandidate accepts c in any phase. It returns true when c must be
// applied to the transport now, and false when it was buffered until the
// answer is applied.
func (s *State) AddRemoteCandidate(c Candidate) bool {
	if s.hasRemote {
		return true
	}
	s.pendingRemote = append(s.pendingRemote, c)
	return false
}

// QueueLocalCandidate records c. It returns true when c may be forwarded to
// clients immediately.
func (s *State) QueueLocalCandidate(c Candidate) bool {
	s.localCandidates = append(s.localCandidates, c)
	return s.forwarding()
}

// LocalOffer returns the committed local offer, if any.
func (s *State) LocalOffer() (string, bool) {
	if !s.hasLocal {
		return "", false
	}
	return s.localDescription, true
}

// RemoteAnswer returns the applied remote answer, if any.
func (s *State) RemoteAnswer() (string, bool) {
	if !s.hasRemote {
		return "", false
	}
	return s.remoteDescription, true
}

// LocalCandidates returns the candidates a newly connected client should
// receive after the offer. It is empty until the offer is sent.
func (s *State) LocalCandidates() []Candidate {
	if !s.forwarding() {
		return nil
	}
	return append([]Candidate(nil), s.localCandidates...)
}

// Fail moves the session to the terminal Failed phase. The first cause is kept.
func (s *State) Fail(cause error) {
	if s.phase == PhaseFailed {
		return
	}
	if cause == nil {
		cause = ErrSessionFailed
	}
	s.phase = PhaseFailed
	s.failure = cause
}

// Failure returns the cause passed to Fail.
func (s *State) Failure() error { return s.failure }

func (s *State) forwarding() bool {
	return s.phase == PhaseOfferSent || s.phase == PhaseAnswerApplied
}

type Snapshot struct {
	Phase                   string `json:"phase"`
	HasLocalDescription     bool   `json:"hasLocalDescription"`
	HasRemoteDescription    bool   `json:"hasRemoteDescription"`
	PendingRemoteCandidates int    `json:"pendingRemoteCandidates"`
	LocalCandidates         int    `json:"localCandidates"`
	Failure                 string `json:"failure,omitempty"`
}

func (s *State) Snapshot() Snapshot {
	snap := Snapshot{
		Phase:                   s.phase.String(),
		HasLocalDescription:     s.hasLocal,
		HasRemoteDescription:    s.hasRemote,
		PendingRemoteCandidates: len(s.pendingRemote),
		LocalCandidates:         len(s.localCandidates),
	}
	if s.failure != nil {
		snap.Failure = s.failure.Error()
	}
	return snap
}

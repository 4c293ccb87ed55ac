package signaling

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/wilsonzlin/aero/proxy/webrtc-audio-source/internal/session"
)

const (
	messageTypeOffer  = "offer"
	messageTypeAnswer = "answer"
)

var (
	errEmptyMessage    = errors.New("empty message")
	errMissingSDP      = errors.New("missing sdp")
	errMissingMLine    = errors.New("ice message missing sdpMLineIndex")
	errAmbiguousFields = errors.New("message has both type and ice")
)

type iceCandidate struct {
	Candidate        string  `json:"candidate"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

func candidateToWire(c session.Candidate) iceCandidate {
	// sdpMid and usernameFragment are not sent.
	return iceCandidate{
		Candidate:     c.Candidate,
		SDPMLineIndex: ptr(c.SDPMLineIndex),
	}
}

func (c iceCandidate) toSession() session.Candidate {
	return session.Candidate{
		Candidate:        c.Candidate,
		SDPMLineIndex:    *c.SDPMLineIndex,
		SDPMid:           c.SDPMid,
		UsernameFragment: c.UsernameFragment,
	}
}

type wireMessage struct {
	Type string        `json:"type,omitempty"`
	SDP  *string       `json:"sdp,omitempty"`
	ICE  *iceCandidate `json:"ice,omitempty"`
}

// Inbound is a message received from a client: *AnswerMessage,
// *ICECandidateMessage or *UnknownMessage.
type Inbound interface {
	inbound()
}

type AnswerMessage struct {
	SDP string
}

type ICECandidateMessage struct {
	Candidate session.Candidate
}

// UnknownMessage is any payload that is not a well-formed answer or ICE
// candidate.
type UnknownMessage struct {
	Err error
}

func (*AnswerMessage) inbound()       {}
func (*ICECandidateMessage) inbound() {}
func (*UnknownMessage) inbound()      {}

// ParseInbound classifies data. It never fails; malformed input yields an
// *UnknownMessage.
func ParseInbound(data []byte) Inbound {
	msg, err := decodeWireMessage(data)
	if err != nil {
		return &UnknownMessage{Err: err}
	}

	switch {
	case msg.Type != "" && msg.ICE != nil:
		return &UnknownMessage{Err: errAmbiguousFields}
	case msg.ICE != nil:
		if msg.SDP != nil {
			return &UnknownMessage{Err: fmt.Errorf("ice message has unexpected sdp")}
		}
		if msg.ICE.SDPMLineIndex == nil {
			return &UnknownMessage{Err: errMissingMLine}
		}
		return &ICECandidateMessage{Candidate: msg.ICE.toSession()}
	case msg.Type == messageTypeAnswer:
		if msg.SDP == nil || *msg.SDP == "" {
			return &UnknownMessage{Err: errMissingSDP}
		}
		return &AnswerMessage{SDP: *msg.SDP}
	case msg.Type == "":
		return &UnknownMessage{Err: errEmptyMessage}
	default:
		return &UnknownMessage{Err: fmt.Errorf("unsupported message type %q", msg.Type)}
	}
}

func decodeWireMessage(data []byte) (wireMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var msg wireMessage
	if err := dec.Decode(&msg); err != nil {
		return wireMessage{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return wireMessage{}, fmt.Errorf("unexpected trailing data")
	}
	return msg, nil
}

// EncodeOffer renders {"type":"offer","sdp":...}.
func EncodeOffer(sdp string) ([]byte, error) {
	return json.Marshal(wireMessage{Type: messageTypeOffer, SDP: &sdp})
}

// EncodeCandidate renders {"ice":{"candidate":...,"sdpMLineIndex":...}}.
func EncodeCandidate(c session.Candidate) ([]byte, error) {
	wire := candidateToWire(c)
	return json.Marshal(wireMessage{ICE: &wire})
}

func ptr[T any](v T) *T { return &v }

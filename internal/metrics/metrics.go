// Package metrics holds the process-wide event counters exported on /metrics.
package metrics

import (
	"sync"
	"sync/atomic"
)

// Event names. The Prometheus handler exports each as an `event` label value.
const (
	ClientRegistered      = "client_registered"
	ClientUnregistered    = "client_unregistered"
	ClientSendFailed      = "client_send_failed"
	ClientRateLimited     = "client_rate_limited"
	ClientMessageTooLarge = "client_message_too_large"

	OfferCreated = "offer_created"
	OfferFailed  = "offer_failed"
	OfferIgnored = "offer_trigger_ignored"

	AnswerApplied  = "answer_applied"
	AnswerRejected = "answer_rejected"

	ProtocolViolation = "protocol_violation"
	UnknownMessage    = "unknown_message"

	RemoteCandidateBuffered = "remote_candidate_buffered"
	RemoteCandidateApplied  = "remote_candidate_applied"
	LocalCandidateQueued    = "local_candidate_queued"
	LocalCandidateSent      = "local_candidate_sent"

	SinkLinked         = "sink_linked"
	SinkLinkDuplicate  = "sink_link_duplicate"
	SinkLinkFailed     = "sink_link_failed"
	SessionFailed      = "session_failed"
	TransportFailed    = "transport_failed"
	RTPPacketsSent     = "rtp_packets_sent"
	RTPPacketsGated    = "rtp_packets_gated"
	RTPWriteFailed     = "rtp_write_failed"
	RTCPReceiverReport = "rtcp_receiver_report"
)

// Metrics is a set of named counters. The media pump bumps counters per
// packet, so increments after the first are lock-free. A nil *Metrics
// discards everything.
type Metrics struct {
	counters sync.Map // string -> *atomic.Uint64
}

func New() *Metrics {
	return &Metrics{}
}

func (m *Metrics) counter(name string) *atomic.Uint64 {
	if c, ok := m.counters.Load(name); ok {
		return c.(*atomic.Uint64)
	}
	c, _ := m.counters.LoadOrStore(name, new(atomic.Uint64))
	return c.(*atomic.Uint64)
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, n uint64) {
	if m == nil {
		return
	}
	m.counter(name).Add(n)
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	if c, ok := m.counters.Load(name); ok {
		return c.(*atomic.Uint64).Load()
	}
	return 0
}

// Snapshot returns a copy of every counter.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return nil
	}
	out := make(map[string]uint64)
	m.counters.Range(func(k, v any) bool {
		out[k.(string)] = v.(*atomic.Uint64).Load()
		return true
	})
	return out
}

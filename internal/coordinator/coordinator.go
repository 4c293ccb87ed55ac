// Package coordinator drives the single negotiation session. It owns the
// event loop on which session state and the signaling client set live, and
// translates transport and signaling events into state transitions.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/wilsonzlin/aero/proxy/webrtc-audio-source/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-audio-source/internal/readiness"
	"github.com/wilsonzlin/aero/proxy/webrtc-audio-source/internal/session"
	"github.com/wilsonzlin/aero/proxy/webrtc-audio-source/internal/signaling"
)

// Mode selects what triggers offer creation.
type Mode string

const (
	// ModeAsync creates the offer when the transport signals that
	// negotiation is needed; the sink is linked whenever the transport binds it.
	ModeAsync Mode = "async"
	// ModeEager treats the sink as wired once the pipeline is built and
	// creates the offer right away.
	ModeEager Mode = "eager"
)

func ParseMode(raw string) (Mode, error) {
	switch Mode(raw) {
	case ModeAsync:
		return ModeAsync, nil
	case ModeEager:
		return ModeEager, nil
	default:
		return "", fmt.Errorf("invalid negotiation mode %q (expected %s or %s)", raw, ModeAsync, ModeEager)
	}
}

var ErrSessionFailed = errors.New("negotiation session failed")

// Peer is the transport the coordinator negotiates through.
type Peer interface {
	CreateOffer() (string, error)
	SetLocalDescription(sdp string) error
	SetRemoteDescription(sdp string) error
	AddICECandidate(c session.Candidate) error
	AttachTransportSink(pad readiness.Pad) error
}

type Config struct {
	Mode      Mode
	Peer      Peer
	Readiness *readiness.Tracker
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
}

type Status struct {
	Mode    Mode             `json:"mode"`
	Session session.Snapshot `json:"session"`
	Ready   bool             `json:"ready"`
	Pad     string           `json:"pad,omitempty"`
	Clients int              `json:"clients"`
}

type Coordinator struct {
	mode    Mode
	peer    Peer
	ready   *readiness.Tracker
	log     *slog.Logger
	metrics *metrics.Metrics

	// Loop-confined.
	state *session.State
	hub   *signaling.Hub

	tasks     *taskQueue
	stopped   chan struct{}
	runOnce   sync.Once
	status    atomic.Pointer[Status]
	failedSet atomic.Bool
}

func New(cfg Config) (*Coordinator, error) {
	if cfg.Peer == nil {
		return nil, errors.New("coordinator: peer is required")
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeAsync
	}
	if _, err := ParseMode(string(cfg.Mode)); err != nil {
		return nil, err
	}
	if cfg.Readiness == nil {
		cfg.Readiness = readiness.New()
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "coordinator")

	c := &Coordinator{
		mode:    cfg.Mode,
		peer:    cfg.Peer,
		ready:   cfg.Readiness,
		log:     log,
		metrics: cfg.Metrics,
		state:   session.New(),
		hub:     signaling.NewHub(log, cfg.Metrics),
		tasks:   newTaskQueue(),
		stopped: make(chan struct{}),
	}
	c.hub.OnRegister(c.flushTo)
	c.ready.OnReady(func() {
		c.log.Info("transport sink ready; releasing media", "pad", c.ready.Pad().ID)
	})
	c.publishStatus()
	return c, nil
}

// Run processes events until ctx is done or the session fails. A failed
// session is reported as an error wrapping ErrSessionFailed.
func (c *Coordinator) Run(ctx context.Context) error {
	started := false
	c.runOnce.Do(func() { started = true })
	if !started {
		return errors.New("coordinator: Run called twice")
	}
	defer close(c.stopped)

	c.log.Info("negotiation loop started", "mode", c.mode)
	for {
		select {
		case <-ctx.Done():
			c.log.Info("negotiation loop stopped", "phase", c.state.Phase())
			return nil
		case <-c.tasks.signal:
		}

		for _, task := range c.tasks.drain() {
			task()
			if c.state.Phase() == session.PhaseFailed {
				c.publishStatus()
				return fmt.Errorf("%w: %v", ErrSessionFailed, c.state.Failure())
			}
		}
		c.publishStatus()
	}
}

func (c *Coordinator) post(fn func()) {
	select {
	case <-c.stopped:
		return
	default:
	}
	c.tasks.push(fn)
}

// Status returns the state as of the last processed batch of events.
func (c *Coordinator) Status() Status {
	return *c.status.Load()
}

// Failed reports whether the session reached the terminal failed phase.
func (c *Coordinator) Failed() bool {
	return c.failedSet.Load()
}

func (c *Coordinator) publishStatus() {
	st := Status{
		Mode:    c.mode,
		Session: c.state.Snapshot(),
		Ready:   c.ready.Ready(),
		Clients: c.hub.Len(),
	}
	if pad := c.ready.Pad(); pad.ID != "" {
		st.Pad = pad.String()
	}
	c.status.Store(&st)
}

// Transport events. Safe to call from any goroutine.

func (c *Coordinator) NegotiationNeeded() {
	c.post(func() { c.handleOfferTrigger(ModeAsync, "negotiation_needed") })
}

// PipelineBuilt reports that the media pipeline and its sink were wired
// synchronously. In eager mode this marks the sink ready and creates the offer.
func (c *Coordinator) PipelineBuilt() {
	c.post(func() {
		if c.mode == ModeEager && c.ready.MarkReady() {
			c.log.Debug("transport sink wired at pipeline construction")
		}
		c.handleOfferTrigger(ModeEager, "pipeline_built")
	})
}

func (c *Coordinator) LocalCandidate(cand session.Candidate) {
	c.post(func() { c.handleLocalCandidate(cand) })
}

func (c *Coordinator) TransportPadAvailable(pad readiness.Pad) {
	c.post(func() { c.handlePad(pad) })
}

func (c *Coordinator) TransportFailed(cause error) {
	c.post(func() {
		c.metrics.Inc(metrics.TransportFailed)
		c.fail(fmt.Errorf("transport failed: %w", cause))
	})
}

// Signaling events. Safe to call from any goroutine.

func (c *Coordinator) ClientConnected(client signaling.Client) {
	c.post(func() { c.hub.Register(client) })
}

func (c *Coordinator) ClientMessage(id string, data []byte) {
	c.post(func() { c.handleClientMessage(id, data) })
}

func (c *Coordinator) ClientDisconnected(id string) {
	c.post(func() { c.hub.Unregister(id) })
}

// Loop handlers.

func (c *Coordinator) handleOfferTrigger(source Mode, trigger string) {
	if source != c.mode {
		c.log.Debug("offer trigger ignored in this mode", "trigger", trigger, "mode", c.mode)
		return
	}
	if err := c.state.BeginOffer(); err != nil {
		c.metrics.Inc(metrics.OfferIgnored)
		c.log.Debug("offer already created; ignoring trigger", "trigger", trigger, "phase", c.state.Phase())
		return
	}
	c.log.Info("creating offer", "trigger", trigger)

	go func() {
		sdp, err := c.peer.CreateOffer()
		if err == nil {
			err = c.peer.SetLocalDescription(sdp)
		}
		c.post(func() { c.handleOfferCreated(sdp, err) })
	}()
}

func (c *Coordinator) handleOfferCreated(sdp string, err error) {
	if err != nil {
		c.metrics.Inc(metrics.OfferFailed)
		c.log.Error("offer creation failed", "err", err, "phase", c.state.Phase())
		return
	}
	released, err := c.state.RecordLocalOffer(sdp)
	if err != nil {
		c.log.Error("failed to record local offer", "err", err)
		return
	}
	payload, err := signaling.EncodeOffer(sdp)
	if err != nil {
		c.log.Error("failed to encode offer", "err", err)
		return
	}
	n := c.hub.Broadcast(payload)
	c.metrics.Inc(metrics.OfferCreated)
	c.log.Info("offer sent", "clients", n, "queued_candidates", len(released))

	for _, cand := range released {
		c.broadcastCandidate(cand)
	}
}

func (c *Coordinator) handleClientMessage(id string, data []byte) {
	if !c.hub.Has(id) {
		c.log.Debug("dropping message from unregistered client", "client_id", id)
		return
	}
	switch msg := c.hub.Dispatch(id, data).(type) {
	case *signaling.AnswerMessage:
		c.handleAnswer(id, msg.SDP)
	case *signaling.ICECandidateMessage:
		c.handleRemoteCandidate(id, msg.Candidate)
	}
}

func (c *Coordinator) handleAnswer(id, sdp string) {
	if err := c.state.CheckAnswer(); err != nil {
		c.metrics.Inc(metrics.AnswerRejected)
		c.protocolViolation(id, "answer", err)
		return
	}
	if err := c.peer.SetRemoteDescription(sdp); err != nil {
		c.metrics.Inc(metrics.AnswerRejected)
		c.protocolViolation(id, "answer", err)
		return
	}
	pending, err := c.state.ApplyRemoteAnswer(sdp)
	if err != nil {
		c.log.Error("failed to record remote answer", "client_id", id, "err", err)
		return
	}
	c.metrics.Inc(metrics.AnswerApplied)
	c.log.Info("remote answer applied", "client_id", id, "buffered_candidates", len(pending))

	for _, cand := range pending {
		c.applyRemoteCandidate(id, cand)
	}
}

func (c *Coordinator) handleRemoteCandidate(id string, cand session.Candidate) {
	if cand.Candidate == "" {
		c.log.Debug("remote end of candidates", "client_id", id)
		return
	}
	if c.state.Phase() == session.PhaseFailed {
		return
	}
	if !c.state.AddRemoteCandidate(cand) {
		c.metrics.Inc(metrics.RemoteCandidateBuffered)
		c.log.Debug("remote candidate buffered until answer", "client_id", id)
		return
	}
	c.applyRemoteCandidate(id, cand)
}

func (c *Coordinator) applyRemoteCandidate(id string, cand session.Candidate) {
	if err := c.peer.AddICECandidate(cand); err != nil {
		c.protocolViolation(id, "ice", err)
		return
	}
	c.metrics.Inc(metrics.RemoteCandidateApplied)
}

func (c *Coordinator) handleLocalCandidate(cand session.Candidate) {
	c.metrics.Inc(metrics.LocalCandidateQueued)
	if !c.state.QueueLocalCandidate(cand) {
		c.log.Debug("local candidate queued until offer is sent", "phase", c.state.Phase())
		return
	}
	c.broadcastCandidate(cand)
}

func (c *Coordinator) broadcastCandidate(cand session.Candidate) {
	payload, err := signaling.EncodeCandidate(cand)
	if err != nil {
		c.log.Error("failed to encode candidate", "err", err)
		return
	}
	c.hub.Broadcast(payload)
	c.metrics.Inc(metrics.LocalCandidateSent)
}

func (c *Coordinator) handlePad(pad readiness.Pad) {
	if c.state.Phase() == session.PhaseFailed {
		return
	}
	linked, err := c.ready.Attach(pad, c.peer.AttachTransportSink)
	if err != nil {
		c.metrics.Inc(metrics.SinkLinkFailed)
		c.fail(err)
		return
	}
	if !linked {
		c.metrics.Inc(metrics.SinkLinkDuplicate)
		c.log.Debug("transport pad already linked; ignoring", "pad", pad.ID)
		return
	}
	c.metrics.Inc(metrics.SinkLinked)
	c.log.Info("transport sink linked", "pad", pad.String())
}

// flushTo replays the offer and local candidates to a newly registered client.
func (c *Coordinator) flushTo(client signaling.Client) {
	sdp, ok := c.state.LocalOffer()
	if !ok || c.state.Phase() == session.PhaseFailed {
		return
	}
	payload, err := signaling.EncodeOffer(sdp)
	if err != nil {
		c.log.Error("failed to encode offer", "err", err)
		return
	}
	if !c.hub.SendTo(client.ID(), payload) {
		return
	}
	cands := c.state.LocalCandidates()
	for _, cand := range cands {
		payload, err := signaling.EncodeCandidate(cand)
		if err != nil {
			continue
		}
		if !c.hub.SendTo(client.ID(), payload) {
			return
		}
	}
	c.log.Debug("replayed offer to client", "client_id", client.ID(), "candidates", len(cands))
}

func (c *Coordinator) protocolViolation(id, kind string, err error) {
	c.metrics.Inc(metrics.ProtocolViolation)
	c.log.Warn("signaling protocol violation; message dropped", "client_id", id, "message", kind, "err", err)
}

func (c *Coordinator) fail(err error) {
	if c.state.Phase() == session.PhaseFailed {
		return
	}
	from := c.state.Phase()
	c.state.Fail(err)
	c.failedSet.Store(true)
	c.metrics.Inc(metrics.SessionFailed)
	c.log.Error("negotiation session failed; restart required", "from", from, "err", err)
}

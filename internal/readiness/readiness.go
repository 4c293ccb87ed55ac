// Package readiness tracks whether the transport sink has been attached to the
// outgoing media stream.
//
// The flag moves from false to true at most once. Duplicate attach
// notifications are expected (transports may re-announce a binding) and are
// no-ops.
package readiness

import (
	"errors"
	"fmt"
	"sync"
)

var ErrLinkFailed = errors.New("transport sink link failed")

// Pad identifies one transport binding of the sink.
type Pad struct {
	ID          string
	Codec       string
	PayloadType uint8
	SSRC        uint32
}

func (p Pad) String() string {
	return fmt.Sprintf("%s(%s pt=%d ssrc=%d)", p.ID, p.Codec, p.PayloadType, p.SSRC)
}

// LinkError is returned when the transport refuses the sink. It is not
// retried.
type LinkError struct {
	Pad Pad
	Err error
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("link pad %s: %v", e.Pad, e.Err)
}

func (e *LinkError) Unwrap() []error { return []error{ErrLinkFailed, e.Err} }

// Linker connects the outgoing media to pad.
type Linker func(pad Pad) error

type Tracker struct {
	mu      sync.Mutex
	linked  bool
	pad     Pad
	err     *LinkError
	subs    []func()
	ready   chan struct{}
	attempt int
}

func New() *Tracker {
	return &Tracker{ready: make(chan struct{})}
}

// Attach links pad if nothing has been linked yet. It reports whether this
// call performed the link. Once a link has failed, every later call returns
// the same error.
func (t *Tracker) Attach(pad Pad, link Linker) (bool, error) {
	t.mu.Lock()
	if t.err != nil {
		err := t.err
		t.mu.Unlock()
		return false, err
	}
	if t.linked {
		t.mu.Unlock()
		return false, nil
	}
	t.attempt++
	if err := link(pad); err != nil {
		t.err = &LinkError{Pad: pad, Err: err}
		err := t.err
		t.mu.Unlock()
		return false, err
	}
	t.pad = pad
	subs := t.markLocked()
	t.mu.Unlock()

	for _, fn := range subs {
		fn()
	}
	return true, nil
}

// MarkReady flips the flag without a link step, for sinks that are wired
// before any binding exists. It reports whether the flag changed.
func (t *Tracker) MarkReady() bool {
	t.mu.Lock()
	if t.linked || t.err != nil {
		t.mu.Unlock()
		return false
	}
	subs := t.markLocked()
	t.mu.Unlock()

	for _, fn := range subs {
		fn()
	}
	return true
}

func (t *Tracker) markLocked() []func() {
	t.linked = true
	close(t.ready)
	subs := t.subs
	t.subs = nil
	return subs
}

func (t *Tracker) Ready() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.linked
}

// OnReady registers fn to run once when the sink becomes ready. If it is
// already ready, fn runs before OnReady returns.
func (t *Tracker) OnReady(fn func()) {
	t.mu.Lock()
	if !t.linked {
		t.subs = append(t.subs, fn)
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()
	fn()
}

// Done is closed when the sink becomes ready.
func (t *Tracker) Done() <-chan struct{} {
	return t.ready
}

// Pad returns the linked pad. It is the zero Pad when readiness came from
// MarkReady or nothing is linked yet.
func (t *Tracker) Pad() Pad {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pad
}

func (t *Tracker) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err == nil {
		return nil
	}
	return t.err
}

// Attempts returns how many times the link step has run.
func (t *Tracker) Attempts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempt
}

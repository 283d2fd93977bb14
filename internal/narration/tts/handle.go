package tts

import (
	"sync"
)

// Handle tracks a submitted utterance. Start and completion are single-shot:
// the channels close at most once each, and completion always closes, even
// when the utterance fails or is cancelled.
type Handle struct {
	started chan struct{}
	done    chan struct{}

	startOnce sync.Once
	endOnce   sync.Once

	mu     sync.Mutex
	err    error
	cancel func()
}

// NewHandle returns a pending handle. cancel, if set, is invoked by Cancel
// to interrupt the underlying speech.
func NewHandle(cancel func()) *Handle {
	return &Handle{
		started: make(chan struct{}),
		done:    make(chan struct{}),
		cancel:  cancel,
	}
}

func (h *Handle) Started() <-chan struct{} { return h.started }

func (h *Handle) Done() <-chan struct{} { return h.done }

// Err reports why the utterance ended early. Valid after Done closes.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// MarkStarted signals that audio has begun.
func (h *Handle) MarkStarted() {
	h.startOnce.Do(func() { close(h.started) })
}

// Finish completes the handle. Calls after the first are ignored. A handle
// that finishes without starting is marked started first so waiters on
// Started never hang.
func (h *Handle) Finish(err error) {
	h.endOnce.Do(func() {
		h.mu.Lock()
		h.err = err
		h.mu.Unlock()
		h.MarkStarted()
		close(h.done)
	})
}

// Cancel interrupts the utterance. Completion still fires.
func (h *Handle) Cancel() {
	h.mu.Lock()
	cancel := h.cancel
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	h.Finish(ErrCancelled)
}

package vad

import (
	"context"
	"sync/atomic"
	"time"
)

// DefaultPollTimeout bounds how long the worker waits for a verdict
const DefaultPollTimeout = 50 * time.Millisecond

// Classifier produces a speech verdict for a chunk of samples. Implementations may
// be slow or remote; they must honor ctx cancellation.
type Classifier interface {
	Classify(ctx context.Context, samples []float32) (bool, error)
}

// Verdict is the outcome of one poll
type Verdict struct {
	Speech bool
	Stale  bool  // The previous verdict was reused
	Err    error // Classifier error, if any
}

type outcome struct {
	speech bool
	err    error
}

// Future is a pending classification
type Future struct {
	done   chan outcome
	cancel context.CancelFunc
}

// Poll waits up to timeout for the classification. ok is false when the deadline
// passed first; the classification is then cancelled.
func (f *Future) Poll(timeout time.Duration) (speech bool, ok bool, err error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-f.done:
		f.cancel()
		return res.speech, true, res.err
	case <-timer.C:
		f.cancel()
		return false, false, nil
	}
}

// Poller turns a Classifier into a synchronous per-chunk verdict with a bounded
// wait. When the classifier is late or fails, the previous verdict is returned
// marked stale. Verdict is called from a single goroutine.
type Poller struct {
	classifier Classifier
	timeout    time.Duration
	last       bool

	timeouts atomic.Uint64
	errors   atomic.Uint64
}

// NewPoller creates a poller; a non-positive timeout selects DefaultPollTimeout
func NewPoller(classifier Classifier, timeout time.Duration) *Poller {
	if timeout <= 0 {
		timeout = DefaultPollTimeout
	}

	return &Poller{
		classifier: classifier,
		timeout:    timeout,
	}
}

// Submit starts classifying a private copy of samples
func (p *Poller) Submit(samples []float32) *Future {
	chunk := make([]float32, len(samples))
	copy(chunk, samples)

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	f := &Future{
		done:   make(chan outcome, 1),
		cancel: cancel,
	}

	go func() {
		speech, err := p.classifier.Classify(ctx, chunk)
		f.done <- outcome{speech: speech, err: err}
	}()

	return f
}

// Verdict classifies samples, waiting at most the poll timeout
func (p *Poller) Verdict(samples []float32) Verdict {
	speech, ok, err := p.Submit(samples).Poll(p.timeout)

	switch {
	case !ok:
		p.timeouts.Add(1)
		return Verdict{Speech: p.last, Stale: true}
	case err != nil:
		p.errors.Add(1)
		return Verdict{Speech: p.last, Stale: true, Err: err}
	}

	p.last = speech
	return Verdict{Speech: speech}
}

// Last returns the most recent fresh verdict
func (p *Poller) Last() bool {
	return p.last
}

// Reset forgets the previous verdict
func (p *Poller) Reset() {
	p.last = false
}

// Timeouts returns how many polls exceeded the deadline
func (p *Poller) Timeouts() uint64 {
	return p.timeouts.Load()
}

// Errors returns how many polls failed
func (p *Poller) Errors() uint64 {
	return p.errors.Load()
}

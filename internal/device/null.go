package device

import (
	"errors"
	"sync"
	"time"
)

// Null is a backend without hardware. Its streams call the callbacks on a ticker at
// the buffer rate; Fill, when set, supplies the captured samples (silence otherwise)
// and rendered output is discarded.
type Null struct {
	Fill func(in []float32)
}

// Open implements Backend
func (n *Null) Open(config StreamConfig, input func([]float32), output func([]float32)) (Stream, error) {
	return &nullStream{
		interval: config.BufferDuration(),
		in:       make([]float32, config.FramesPerBuffer),
		out:      make([]float32, config.FramesPerBuffer),
		fill:     n.Fill,
		input:    input,
		output:   output,
	}, nil
}

type nullStream struct {
	interval time.Duration
	in, out  []float32
	fill     func([]float32)
	input    func([]float32)
	output   func([]float32)

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	closed  bool
	running bool
}

func (s *nullStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("stream is closed")
	}
	if s.running {
		return nil
	}

	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.running = true

	go s.run(s.stop, s.done)
	return nil
}

func (s *nullStream) run(stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if s.input != nil {
				if s.fill != nil {
					s.fill(s.in)
				} else {
					clear(s.in)
				}
				s.input(s.in)
			}
			if s.output != nil {
				s.output(s.out)
			}
		}
	}
}

func (s *nullStream) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	stop, done := s.stop, s.done
	s.mu.Unlock()

	close(stop)
	<-done
	return nil
}

func (s *nullStream) Close() error {
	if err := s.Stop(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *nullStream) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

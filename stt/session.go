package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"node.town/subtitler/etc"
)

type State int

const (
	Idle State = iota
	Handshaking
	Streaming
	Draining
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Handshaking:
		return "handshaking"
	case Streaming:
		return "streaming"
	case Draining:
		return "draining"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is one recognition attempt over a single stream.
//
// Audio writes and the drain transition share mu, so once Drain has
// returned no write can reach the half-closed stream.
type Session struct {
	id     string
	stream Stream
	log    *log.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	state        State
	writeAllowed bool

	events chan Event
	done   chan struct{}
	err    error
}

// Start opens a stream, performs the config handshake and begins reading
// responses. The stream outlives cancellation of ctx; it is torn down by
// Close.
func Start(
	ctx context.Context,
	recognizer Recognizer,
	cfg Config,
	logger *log.Logger,
) (*Session, error) {
	s := newSession(ctx, logger)
	if err := s.open(recognizer, cfg); err != nil {
		s.cancel()
		return nil, err
	}

	go s.read()

	s.log.Debug("streaming", "locale", cfg.LanguageCode)
	return s, nil
}

func newSession(ctx context.Context, logger *log.Logger) *Session {
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	id := etc.NewFreshID()
	return &Session{
		id:     id,
		log:    logger.With("session", etc.ShortID(id)),
		ctx:    streamCtx,
		cancel: cancel,
		state:  Idle,
		events: make(chan Event),
		done:   make(chan struct{}),
	}
}

// open moves Idle to Handshaking, sends the one config message and opens
// the write gate.
func (s *Session) open(recognizer Recognizer, cfg Config) error {
	s.setState(Handshaking)

	stream, err := recognizer.Open(s.ctx)
	if err != nil {
		return err
	}
	s.stream = stream

	if err := stream.SendConfig(cfg); err != nil {
		return fmt.Errorf("send recognition config: %w", err)
	}

	s.mu.Lock()
	s.state = Streaming
	s.writeAllowed = true
	s.mu.Unlock()
	return nil
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Events delivers transcript events in service order. It is closed when the
// response reader finishes.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Err blocks until the response reader has finished and reports why it
// stopped. It is nil for a clean end of stream.
func (s *Session) Err() error {
	<-s.done
	return s.err
}

// WriteAudio forwards PCM to the service while the write gate is open.
// Audio arriving after Drain is dropped.
func (s *Session) WriteAudio(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.writeAllowed {
		return nil
	}

	if err := s.stream.SendAudio(data); err != nil {
		return fmt.Errorf("send audio: %w", err)
	}
	return nil
}

// Drain closes the write gate and half-closes the stream. Calling it again
// is a no-op. A write stuck in the transport holds the gate; if ctx expires
// first the stream is cancelled to release it.
func (s *Session) Drain(ctx context.Context) error {
	s.lockGate(ctx)
	if s.state != Streaming {
		s.mu.Unlock()
		return nil
	}
	s.writeAllowed = false
	s.state = Draining
	s.mu.Unlock()

	if err := s.stream.CloseSend(); err != nil {
		return fmt.Errorf("half-close recognition stream: %w", err)
	}
	return nil
}

// lockGate takes mu, cancelling the stream if ctx ends while a send holds it.
func (s *Session) lockGate(ctx context.Context) {
	if s.mu.TryLock() {
		return
	}

	locked := make(chan struct{})
	go func() {
		s.mu.Lock()
		close(locked)
	}()

	select {
	case <-locked:
	case <-ctx.Done():
		s.log.Warn("audio write stalled, cancelling stream")
		s.cancel()
		<-locked
	}
}

// Close drains the session if needed and waits for the response reader.
// When ctx expires first the stream is cancelled.
func (s *Session) Close(ctx context.Context) error {
	drainErr := s.Drain(ctx)

	select {
	case <-s.done:
	case <-ctx.Done():
		s.log.Warn("drain timed out, cancelling stream")
		s.cancel()
		<-s.done
	}
	s.cancel()

	s.setState(Closed)

	return drainErr
}

func (s *Session) read() {
	defer close(s.done)
	defer close(s.events)

	finalSeen := false
	for {
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			s.log.Debug("stream ended")
			return
		}
		if err != nil {
			// Cancellation from Close is how a stuck drain ends, not a failure.
			if s.ctx.Err() != nil {
				s.log.Debug("stream cancelled")
				return
			}
			if status.Code(err) == codes.Canceled {
				s.log.Warn("stream cancelled by transport", "error", err)
			} else {
				s.log.Error("receive failed", "error", err)
			}
			s.err = fmt.Errorf("receive recognition response: %w", err)
			return
		}

		if resp.Error != nil {
			s.log.Error(
				"recognition",
				"code", codes.Code(resp.Error.Code).String(),
				"message", resp.Error.Message,
			)
			s.err = resp.Error
			return
		}

		for _, result := range resp.Results {
			if finalSeen {
				break
			}

			ev, ok := eventFromResult(result)
			if !ok {
				continue
			}
			if ev.Kind == Final {
				finalSeen = true
			}

			select {
			case s.events <- ev:
			case <-s.ctx.Done():
				return
			}
		}
	}
}

// eventFromResult maps the top alternative of a result to an event.
func eventFromResult(r Result) (Event, bool) {
	if len(r.Alternatives) == 0 {
		return Event{}, false
	}

	text := strings.TrimSpace(r.Alternatives[0].Transcript)
	if text == "" {
		return Event{}, false
	}

	if r.IsFinal {
		return Event{Kind: Final, Text: text}, true
	}
	return Event{Kind: Partial, Text: text, Stability: r.Stability}, true
}

// Package stttest provides scripted recognition streams for tests.
package stttest

import (
	"context"
	"errors"
	"io"
	"sync"

	"node.town/subtitler/stt"
)

// Stream replays a fixed list of responses, then blocks until it is
// half-closed (io.EOF) or its context is cancelled.
type Stream struct {
	ctx    context.Context
	script []stt.Response

	mu               sync.Mutex
	next             int
	configs          []stt.Config
	audio            [][]byte
	halfClosed       bool
	writesAfterClose int
	closed           chan struct{}
}

func NewStream(ctx context.Context, script []stt.Response) *Stream {
	return &Stream{
		ctx:    ctx,
		script: script,
		closed: make(chan struct{}),
	}
}

func (s *Stream) SendConfig(cfg stt.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs = append(s.configs, cfg)
	return nil
}

func (s *Stream) SendAudio(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.halfClosed {
		s.writesAfterClose++
		return errors.New("send on half-closed stream")
	}
	s.audio = append(s.audio, data)
	return nil
}

func (s *Stream) CloseSend() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.halfClosed {
		s.halfClosed = true
		close(s.closed)
	}
	return nil
}

func (s *Stream) Recv() (*stt.Response, error) {
	s.mu.Lock()
	if s.next < len(s.script) {
		resp := s.script[s.next]
		s.next++
		s.mu.Unlock()
		return &resp, nil
	}
	s.mu.Unlock()

	select {
	case <-s.closed:
		return nil, io.EOF
	case <-s.ctx.Done():
		return nil, s.ctx.Err()
	}
}

// Configs returns every handshake received.
func (s *Stream) Configs() []stt.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]stt.Config(nil), s.configs...)
}

// Audio returns the audio payloads accepted before the half-close.
func (s *Stream) Audio() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.audio...)
}

// WritesAfterClose counts audio sent after CloseSend.
func (s *Stream) WritesAfterClose() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writesAfterClose
}

func (s *Stream) HalfClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.halfClosed
}

// Recognizer hands out one scripted stream per Open, in order. Opens past
// the last script get an empty script.
type Recognizer struct {
	OpenErr error

	mu      sync.Mutex
	scripts [][]stt.Response
	streams []*Stream
}

func NewRecognizer(scripts ...[]stt.Response) *Recognizer {
	return &Recognizer{scripts: scripts}
}

func (r *Recognizer) Open(ctx context.Context) (stt.Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.OpenErr != nil {
		return nil, r.OpenErr
	}

	var script []stt.Response
	if n := len(r.streams); n < len(r.scripts) {
		script = r.scripts[n]
	}
	s := NewStream(ctx, script)
	r.streams = append(r.streams, s)
	return s, nil
}

func (r *Recognizer) Streams() []*Stream {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Stream(nil), r.streams...)
}

// Partial builds an interim response.
func Partial(text string, stability float32) stt.Response {
	return stt.Response{Results: []stt.Result{{
		Alternatives: []stt.Alternative{{Transcript: text}},
		Stability:    stability,
	}}}
}

// Final builds a final response.
func Final(text string) stt.Response {
	return stt.Response{Results: []stt.Result{{
		Alternatives: []stt.Alternative{{Transcript: text, Confidence: 0.9}},
		IsFinal:      true,
	}}}
}

// Failure builds a response carrying a service error.
func Failure(code int32, message string) stt.Response {
	return stt.Response{Error: &stt.ServiceError{Code: code, Message: message}}
}

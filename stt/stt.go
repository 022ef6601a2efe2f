package stt

import (
	"context"
	"fmt"

	"google.golang.org/grpc/codes"
)

type Encoding int

const (
	EncodingLinear16 Encoding = iota + 1
)

// Config is the handshake sent once at the start of every stream.
type Config struct {
	Encoding             Encoding
	SampleRateHertz      int32
	LanguageCode         string
	AutomaticPunctuation bool
	InterimResults       bool
	SingleUtterance      bool
}

// NewConfig returns the captioning handshake for a locale.
func NewConfig(locale string) Config {
	return Config{
		Encoding:             EncodingLinear16,
		SampleRateHertz:      16000,
		LanguageCode:         locale,
		AutomaticPunctuation: true,
		InterimResults:       true,
		SingleUtterance:      true,
	}
}

type Alternative struct {
	Transcript string
	Confidence float32
}

type Result struct {
	Alternatives []Alternative
	IsFinal      bool
	Stability    float32
}

// Response is one inbound message of a recognition stream.
type Response struct {
	Results []Result
	Error   *ServiceError
}

// ServiceError is an error reported by the recognition service mid-stream.
type ServiceError struct {
	Code    int32
	Message string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("recognition error %s: %q", codes.Code(e.Code), e.Message)
}

// Stream is a bidirectional recognition stream.
type Stream interface {
	SendConfig(cfg Config) error
	SendAudio(data []byte) error
	// CloseSend half-closes the stream: no more audio will follow.
	CloseSend() error
	// Recv blocks for the next response and returns io.EOF once the
	// service has closed its side.
	Recv() (*Response, error)
}

type Recognizer interface {
	Open(ctx context.Context) (Stream, error)
}

type EventKind int

const (
	Partial EventKind = iota + 1
	Final
)

func (k EventKind) String() string {
	switch k {
	case Partial:
		return "partial"
	case Final:
		return "final"
	default:
		return "unknown"
	}
}

// Event is a transcript update from one session.
type Event struct {
	Kind EventKind
	Text string
	// Stability is only meaningful for partial events.
	Stability float32
}

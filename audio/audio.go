package audio

import (
	"encoding/binary"
	"errors"
	"time"
)

// ErrNoDevices is returned when the host has no audio input device.
var ErrNoDevices = errors.New("no audio input devices")

// Format describes how a microphone is captured.
type Format struct {
	SampleRate     int
	Channels       int
	BufferDuration time.Duration
}

// DefaultFormat is 16 kHz mono PCM16 in 100 ms buffers.
var DefaultFormat = Format{
	SampleRate:     16000,
	Channels:       1,
	BufferDuration: 100 * time.Millisecond,
}

// FramesPerBuffer is the number of sample frames in one capture buffer.
func (f Format) FramesPerBuffer() int {
	n := int(int64(f.SampleRate) * int64(f.BufferDuration) / int64(time.Second))
	if n < 1 {
		return 1
	}
	return n
}

// Chunk is one captured buffer of little-endian PCM16 audio.
type Chunk struct {
	Data    []byte
	Samples int
}

// Duration reports how much audio the chunk holds.
func (c Chunk) Duration(f Format) time.Duration {
	if f.SampleRate == 0 || f.Channels == 0 {
		return 0
	}
	frames := c.Samples / f.Channels
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}

// NewChunk copies samples into a fresh PCM16 chunk.
func NewChunk(samples []int16) Chunk {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	return Chunk{Data: data, Samples: len(samples)}
}

// Device is an input-capable audio device.
type Device struct {
	Index             int
	Name              string
	Channels          int
	DefaultSampleRate float64
	HostAPI           string
}

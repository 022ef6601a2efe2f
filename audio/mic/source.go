package mic

import (
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/gordonklaus/portaudio"
	"node.town/subtitler/audio"
)

// capture is the blocking-read part of a portaudio stream.
type capture interface {
	Start() error
	Read() error
	Stop() error
	Close() error
}

// Source pushes microphone buffers to a handler as they fill.
type Source struct {
	device audio.Device
	format audio.Format
	stream capture
	buf    []int16
	log    *log.Logger

	mu      sync.Mutex
	running bool
	closed  bool
	done    chan struct{}
}

// Init must be called once before any device is listed or opened.
func Init() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("initialize portaudio: %w", err)
	}
	return nil
}

// Terminate releases the audio subsystem.
func Terminate() error {
	return portaudio.Terminate()
}

// ListDevices returns input devices indexed by their position among inputs.
func ListDevices() ([]audio.Device, error) {
	infos, err := inputDevices()
	if err != nil {
		return nil, err
	}

	devices := make([]audio.Device, 0, len(infos))
	for i, info := range infos {
		devices = append(devices, deviceFromInfo(i, info))
	}
	return devices, nil
}

func inputDevices() ([]*portaudio.DeviceInfo, error) {
	all, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list audio devices: %w", err)
	}

	var inputs []*portaudio.DeviceInfo
	for _, info := range all {
		if info.MaxInputChannels > 0 {
			inputs = append(inputs, info)
		}
	}
	return inputs, nil
}

func deviceFromInfo(index int, info *portaudio.DeviceInfo) audio.Device {
	d := audio.Device{
		Index:             index,
		Name:              info.Name,
		Channels:          info.MaxInputChannels,
		DefaultSampleRate: info.DefaultSampleRate,
	}
	if info.HostApi != nil {
		d.HostAPI = info.HostApi.Name
	}
	return d
}

// Open prepares the input device with the given index for capture.
func Open(index int, format audio.Format, logger *log.Logger) (*Source, error) {
	infos, err := inputDevices()
	if err != nil {
		return nil, err
	}
	if len(infos) == 0 {
		return nil, audio.ErrNoDevices
	}
	if index < 0 || index >= len(infos) {
		return nil, fmt.Errorf(
			"input device %d out of range (have %d)",
			index,
			len(infos),
		)
	}

	info := infos[index]
	params := portaudio.LowLatencyParameters(info, nil)
	params.Input.Channels = format.Channels
	params.SampleRate = float64(format.SampleRate)
	params.FramesPerBuffer = format.FramesPerBuffer()

	buf := make([]int16, format.FramesPerBuffer()*format.Channels)
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return nil, fmt.Errorf("open input stream on %q: %w", info.Name, err)
	}

	return newSource(deviceFromInfo(index, info), format, stream, buf, logger), nil
}

func newSource(
	device audio.Device,
	format audio.Format,
	stream capture,
	buf []int16,
	logger *log.Logger,
) *Source {
	return &Source{
		device: device,
		format: format,
		stream: stream,
		buf:    buf,
		log:    logger,
	}
}

// Device reports the device being captured.
func (s *Source) Device() audio.Device {
	return s.device
}

// Format reports the capture format.
func (s *Source) Format() audio.Format {
	return s.format
}

// Start begins capture. Each filled buffer is handed to handler exactly once,
// from a single goroutine.
func (s *Source) Start(handler func(audio.Chunk)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("capture already running on %q", s.device.Name)
	}
	if s.closed {
		return fmt.Errorf("capture on %q already stopped", s.device.Name)
	}

	if err := s.stream.Start(); err != nil {
		return fmt.Errorf("start capture on %q: %w", s.device.Name, err)
	}

	s.running = true
	s.done = make(chan struct{})
	go s.loop(handler, s.done)

	s.log.Info("recording", "device", s.device.Name, "rate", s.format.SampleRate)
	return nil
}

func (s *Source) loop(handler func(audio.Chunk), done chan struct{}) {
	defer close(done)

	for {
		err := s.stream.Read()
		if err == portaudio.InputOverflowed {
			s.log.Warn("input overflowed", "device", s.device.Name)
		} else if err != nil {
			if s.isRunning() {
				s.log.Error("capture read failed", "error", err)
			}
			return
		}

		if !s.isRunning() {
			return
		}

		handler(audio.NewChunk(s.buf))
	}
}

func (s *Source) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Stop ends capture, waits for the capture goroutine and closes the device.
// It also releases a device that was opened but never started.
func (s *Source) Stop() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	running := s.running
	s.running = false
	done := s.done
	s.mu.Unlock()

	var stopErr error
	if running {
		stopErr = s.stream.Stop()
		<-done
	}

	if err := s.stream.Close(); err != nil && stopErr == nil {
		stopErr = err
	}
	if stopErr != nil {
		return fmt.Errorf("stop capture on %q: %w", s.device.Name, stopErr)
	}

	s.log.Info("recording stopped", "device", s.device.Name)
	return nil
}

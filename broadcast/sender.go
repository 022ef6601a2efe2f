// Package broadcast publishes rendered caption frames to network viewers.
//
// Frames are encoded as still images and pushed over WebSocket at the video
// frame rate. A small HTML viewer is served at the root.
package broadcast

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"image/jpeg"
	"image/png"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"node.town/subtitler/render"
)

var ErrClosed = errors.New("broadcast sender closed")

type Codec string

const (
	CodecJPEG Codec = "jpeg"
	CodecPNG  Codec = "png"
)

func (c Codec) ContentType() string {
	if c == CodecPNG {
		return "image/png"
	}
	return "image/jpeg"
}

func ParseCodec(s string) (Codec, error) {
	switch Codec(s) {
	case "", CodecJPEG:
		return CodecJPEG, nil
	case CodecPNG:
		return CodecPNG, nil
	default:
		return "", fmt.Errorf("unknown frame codec %q", s)
	}
}

type Config struct {
	Name        string
	Addr        string
	Format      render.Format
	Codec       Codec
	JPEGQuality int
}

type Info struct {
	Name        string  `json:"name"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	FrameRateN  int     `json:"frameRateN"`
	FrameRateD  int     `json:"frameRateD"`
	Aspect      float64 `json:"aspect"`
	Codec       Codec   `json:"codec"`
	Connections int     `json:"connections"`
}

//go:embed viewer.html
var viewerHTML string

var viewerPage = template.Must(template.New("viewer").Parse(viewerHTML))

// Sender serves frames to viewers and paces Send at the frame rate.
type Sender struct {
	cfg      Config
	log      *log.Logger
	router   *chi.Mux
	upgrader websocket.Upgrader
	interval time.Duration

	mu      sync.Mutex
	viewers map[*viewer]struct{}
	closed  bool
	failure error
	server  *http.Server
	addr    net.Addr

	latest    []byte
	latestSeq uint64
	encoded   bool

	// Owned by Send.
	clock sync.Mutex
	next  time.Time
}

func NewSender(cfg Config, logger *log.Logger) (*Sender, error) {
	codec, err := ParseCodec(string(cfg.Codec))
	if err != nil {
		return nil, err
	}
	cfg.Codec = codec
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = jpeg.DefaultQuality
	}
	if cfg.Format.Width == 0 {
		cfg.Format = render.HD1080
	}
	if cfg.Name == "" {
		cfg.Name = "subtitler"
	}

	s := &Sender{
		cfg:      cfg,
		log:      logger,
		interval: cfg.Format.FrameInterval(),
		viewers:  make(map[*viewer]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/", s.handleViewer)
	r.Get("/ws", s.handleStream)
	r.Get("/frame", s.handleFrame)
	r.Get("/info", s.handleInfo)
	s.router = r

	return s, nil
}

// Handler exposes the routes without binding a listener.
func (s *Sender) Handler() http.Handler {
	return s.router
}

// Start binds the listen address and serves in the background. The server
// is shut down when ctx is done. A serve failure makes later Sends fail.
func (s *Sender) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return ErrClosed
	}
	s.server = srv
	s.addr = ln.Addr()
	s.mu.Unlock()

	s.log.Info(
		"broadcasting",
		"name", s.cfg.Name,
		"url", fmt.Sprintf("http://%s", ln.Addr()),
		"codec", s.cfg.Codec,
	)

	go func() {
		err := srv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("server failed", "error", err)
			s.mu.Lock()
			s.failure = err
			s.mu.Unlock()
		}
	}()

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	return nil
}

// Addr is the bound listen address, or nil before Start.
func (s *Sender) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *Sender) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.viewers)
}

// Send waits for the next frame slot, then hands the frame to every viewer.
// The frame is only re-encoded when its Seq changed.
func (s *Sender) Send(ctx context.Context, frame render.Frame) error {
	s.clock.Lock()
	defer s.clock.Unlock()

	if err := s.check(); err != nil {
		return err
	}

	if err := s.waitSlot(ctx); err != nil {
		return err
	}

	data, err := s.encode(frame)
	if err != nil {
		return err
	}

	s.mu.Lock()
	for v := range s.viewers {
		v.offer(data)
	}
	s.mu.Unlock()

	return nil
}

func (s *Sender) check() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.failure != nil {
		return fmt.Errorf("broadcast server: %w", s.failure)
	}
	return nil
}

// waitSlot sleeps until the next tick of the frame clock. A sender that
// fell behind by more than a frame resynchronizes instead of bursting.
func (s *Sender) waitSlot(ctx context.Context) error {
	now := time.Now()
	if s.next.IsZero() || now.Sub(s.next) > s.interval {
		s.next = now
	}

	if wait := time.Until(s.next); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	s.next = s.next.Add(s.interval)
	return nil
}

func (s *Sender) encode(frame render.Frame) ([]byte, error) {
	s.mu.Lock()
	if s.encoded && s.latestSeq == frame.Seq {
		data := s.latest
		s.mu.Unlock()
		return data, nil
	}
	s.mu.Unlock()

	var buf bytes.Buffer
	var err error
	switch s.cfg.Codec {
	case CodecPNG:
		err = png.Encode(&buf, frame.Image)
	default:
		err = jpeg.Encode(&buf, frame.Image, &jpeg.Options{Quality: s.cfg.JPEGQuality})
	}
	if err != nil {
		return nil, fmt.Errorf("encode frame %d as %s: %w", frame.Seq, s.cfg.Codec, err)
	}

	data := buf.Bytes()
	s.mu.Lock()
	s.latest = data
	s.latestSeq = frame.Seq
	s.encoded = true
	s.mu.Unlock()

	return data, nil
}

// Close stops the server and disconnects every viewer.
func (s *Sender) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	srv := s.server
	for v := range s.viewers {
		v.stop()
	}
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shut down broadcast server: %w", err)
	}
	return nil
}

func (s *Sender) info() Info {
	return Info{
		Name:        s.cfg.Name,
		Width:       s.cfg.Format.Width,
		Height:      s.cfg.Format.Height,
		FrameRateN:  s.cfg.Format.FrameRateN,
		FrameRateD:  s.cfg.Format.FrameRateD,
		Aspect:      s.cfg.Format.Aspect,
		Codec:       s.cfg.Codec,
		Connections: s.Connections(),
	}
}

func (s *Sender) handleViewer(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := viewerPage.Execute(w, struct {
		Info
		ContentType string
	}{s.info(), s.cfg.Codec.ContentType()})
	if err != nil {
		http.Error(w, "Failed to render viewer", http.StatusInternalServerError)
	}
}

func (s *Sender) handleInfo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.info()); err != nil {
		s.log.Warn("info response", "error", err)
	}
}

func (s *Sender) handleFrame(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	data, ok := s.latest, s.encoded
	s.mu.Unlock()

	if !ok {
		http.Error(w, "No frame yet", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", s.cfg.Codec.ContentType())
	w.Header().Set("Cache-Control", "no-store")
	w.Write(data)
}

func (s *Sender) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade failed", "error", err)
		return
	}

	v := newViewer(conn, s.log.With("viewer", r.RemoteAddr))

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.viewers[v] = struct{}{}
	n := len(s.viewers)
	data, ok := s.latest, s.encoded
	s.mu.Unlock()

	s.log.Info("viewer joined", "remote", r.RemoteAddr, "connections", n)
	if ok {
		v.offer(data)
	}

	go v.writePump(func() { s.remove(v, r.RemoteAddr) })
	v.readPump()
}

func (s *Sender) remove(v *viewer, remote string) {
	s.mu.Lock()
	_, ok := s.viewers[v]
	delete(s.viewers, v)
	n := len(s.viewers)
	s.mu.Unlock()

	if ok {
		s.log.Info("viewer left", "remote", remote, "connections", n)
	}
}

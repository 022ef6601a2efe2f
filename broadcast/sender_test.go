package broadcast

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"node.town/subtitler/render"
)

func newTestSender(t *testing.T, codec Codec) *Sender {
	t.Helper()
	s, err := NewSender(Config{
		Name:   "test",
		Addr:   "127.0.0.1:0",
		Format: render.Format{Width: 32, Height: 18, FrameRateN: 30000, FrameRateD: 1001, Aspect: 16.0 / 9.0},
		Codec:  codec,
	}, log.New(io.Discard))
	if err != nil {
		t.Fatalf("NewSender: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testFrame(seq uint64) render.Frame {
	img := image.NewRGBA(image.Rect(0, 0, 32, 18))
	img.SetRGBA(1, 1, color.RGBA{R: 0xff, A: 0xff})
	return render.Frame{Image: img, Seq: seq}
}

func dialViewer(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitConnections(t *testing.T, s *Sender, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.Connections() != want {
		if time.Now().After(deadline) {
			t.Fatalf("Connections() = %d, want %d", s.Connections(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestParseCodec(t *testing.T) {
	tests := []struct {
		in      string
		want    Codec
		wantErr bool
	}{
		{"", CodecJPEG, false},
		{"jpeg", CodecJPEG, false},
		{"png", CodecPNG, false},
		{"ndi", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseCodec(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseCodec(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseCodec(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestViewerReceivesFrames(t *testing.T) {
	s := newTestSender(t, CodecPNG)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn := dialViewer(t, srv)
	waitConnections(t, s, 1)

	if err := s.Send(context.Background(), testFrame(1)); err != nil {
		t.Fatalf("Send: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if kind != websocket.BinaryMessage {
		t.Errorf("message type = %d, want binary", kind)
	}

	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if got := img.Bounds().Size(); got != image.Pt(32, 18) {
		t.Errorf("frame size = %v, want 32x18", got)
	}
	if _, _, _, a := img.At(1, 1).RGBA(); a == 0 {
		t.Error("drawn pixel lost in encoding")
	}
}

func TestViewerDisconnect(t *testing.T) {
	s := newTestSender(t, CodecJPEG)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn := dialViewer(t, srv)
	waitConnections(t, s, 1)

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()
	waitConnections(t, s, 0)
}

func TestSendReusesEncodingForSameSeq(t *testing.T) {
	s := newTestSender(t, CodecJPEG)

	frame := testFrame(7)
	if err := s.Send(context.Background(), frame); err != nil {
		t.Fatalf("Send: %v", err)
	}
	first := s.latest

	// Changing the pixels without a new Seq must not trigger an encode.
	frame.Image.SetRGBA(2, 2, color.RGBA{G: 0xff, A: 0xff})
	if err := s.Send(context.Background(), frame); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if &s.latest[0] != &first[0] {
		t.Error("frame with unchanged Seq was re-encoded")
	}

	if err := s.Send(context.Background(), testFrame(8)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if s.latestSeq != 8 {
		t.Errorf("latestSeq = %d, want 8", s.latestSeq)
	}
	if _, err := jpeg.Decode(bytes.NewReader(s.latest)); err != nil {
		t.Errorf("latest frame is not a JPEG: %v", err)
	}
}

func TestSendPacesAtFrameRate(t *testing.T) {
	s := newTestSender(t, CodecJPEG)

	start := time.Now()
	for i := 0; i < 4; i++ {
		if err := s.Send(context.Background(), testFrame(1)); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	// The first send goes out immediately, the next three wait a slot each.
	if elapsed := time.Since(start); elapsed < 3*s.interval-5*time.Millisecond {
		t.Errorf("4 sends took %v, want at least %v", elapsed, 3*s.interval)
	}
}

func TestSendHonoursContext(t *testing.T) {
	s := newTestSender(t, CodecJPEG)
	if err := s.Send(context.Background(), testFrame(1)); err != nil {
		t.Fatalf("Send: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Send(ctx, testFrame(2)); !errors.Is(err, context.Canceled) {
		t.Errorf("Send error = %v, want context.Canceled", err)
	}
}

func TestSendAfterClose(t *testing.T) {
	s := newTestSender(t, CodecJPEG)
	s.Close()
	if err := s.Send(context.Background(), testFrame(1)); !errors.Is(err, ErrClosed) {
		t.Errorf("Send error = %v, want ErrClosed", err)
	}
}

func TestInfoAndFrameRoutes(t *testing.T) {
	s := newTestSender(t, CodecJPEG)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/frame")
	if err != nil {
		t.Fatalf("GET /frame: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("GET /frame before any send = %d, want 503", resp.StatusCode)
	}

	if err := s.Send(context.Background(), testFrame(1)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	resp, err = http.Get(srv.URL + "/frame")
	if err != nil {
		t.Fatalf("GET /frame: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("Content-Type = %q, want image/jpeg", ct)
	}
	if !bytes.Equal(body, s.latest) {
		t.Error("GET /frame did not return the latest encoded frame")
	}

	resp, err = http.Get(srv.URL + "/info")
	if err != nil {
		t.Fatalf("GET /info: %v", err)
	}
	defer resp.Body.Close()
	var info Info
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		t.Fatalf("decode /info: %v", err)
	}
	want := Info{
		Name: "test", Width: 32, Height: 18,
		FrameRateN: 30000, FrameRateD: 1001, Aspect: 16.0 / 9.0,
		Codec: CodecJPEG,
	}
	if info != want {
		t.Errorf("info = %+v, want %+v", info, want)
	}

	resp, err = http.Get(srv.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	page, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(page), "<title>test</title>") {
		t.Errorf("viewer page missing title: %s", page)
	}
}

func TestStartReportsBindError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	s, err := NewSender(Config{Addr: ln.Addr().String()}, log.New(io.Discard))
	if err != nil {
		t.Fatalf("NewSender: %v", err)
	}
	defer s.Close()

	if err := s.Start(context.Background()); err == nil {
		t.Error("expected Start to fail on an address in use")
	}
}

func TestStartServesUntilCancelled(t *testing.T) {
	s := newTestSender(t, CodecJPEG)

	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	resp, err := http.Get("http://" + s.Addr().String() + "/info")
	if err != nil {
		t.Fatalf("GET /info: %v", err)
	}
	resp.Body.Close()

	cancel()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if err := s.Send(context.Background(), testFrame(1)); errors.Is(err, ErrClosed) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("sender still open after its context was cancelled")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

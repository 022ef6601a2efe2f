package render

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/time/rate"
)

// Format is the fixed geometry and clock of the broadcast video.
type Format struct {
	Width      int
	Height     int
	FrameRateN int
	FrameRateD int
	Aspect     float64
}

// HD1080 is 1920x1080, 16:9, 29.97 fps progressive.
var HD1080 = Format{
	Width:      1920,
	Height:     1080,
	FrameRateN: 30000,
	FrameRateD: 1001,
	Aspect:     16.0 / 9.0,
}

// FrameInterval is the time between frames at the nominal rate.
func (f Format) FrameInterval() time.Duration {
	if f.FrameRateN == 0 {
		return 0
	}
	return time.Duration(int64(time.Second) * int64(f.FrameRateD) / int64(f.FrameRateN))
}

type Style struct {
	FontSize         float64
	LiveColor        color.Color
	TranslationColor color.Color
}

var DefaultStyle = Style{
	FontSize:         36,
	LiveColor:        color.White,
	TranslationColor: color.RGBA{R: 0x9a, G: 0xcd, B: 0x32, A: 0xff},
}

// CaptionState is what the frame currently shows.
type CaptionState struct {
	LiveText       string
	TranslatedText string
}

// Frame is a fully drawn video frame. Seq grows with every completed redraw.
// Image is reused by the renderer, so senders must not keep it after Send
// returns.
type Frame struct {
	Image *image.RGBA
	Seq   uint64
}

// Sender is the downstream broadcast sink. Send is expected to block until
// the sink's next frame slot.
type Sender interface {
	Connections() int
	Send(ctx context.Context, frame Frame) error
}

type Config struct {
	Format Format
	Style  Style
	// IdlePoll is how long Run sleeps while nobody is connected.
	IdlePoll time.Duration
	// IdleLogInterval limits the "no connections" diagnostic.
	IdleLogInterval time.Duration
}

var DefaultConfig = Config{
	Format:          HD1080,
	Style:           DefaultStyle,
	IdlePoll:        50 * time.Millisecond,
	IdleLogInterval: 10 * time.Second,
}

// Renderer keeps the caption frame and feeds it to a Sender.
//
// Redraws are serialized by drawMu. The drawn flag is cleared before a
// redraw touches the buffer and set once it is complete, both under frameMu;
// Run only copies the buffer while drawn is set.
type Renderer struct {
	cfg     Config
	log     *log.Logger
	idleLog *rate.Limiter

	drawMu  sync.Mutex
	face    font.Face
	caption CaptionState
	live    image.Rectangle
	transl  image.Rectangle

	frameMu sync.Mutex
	buf     *image.RGBA
	drawn   bool
	seq     uint64

	// Owned by Run.
	snap    *image.RGBA
	snapSeq uint64
}

func New(cfg Config, logger *log.Logger) (*Renderer, error) {
	if cfg.Format.Width <= 0 || cfg.Format.Height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", cfg.Format.Width, cfg.Format.Height)
	}

	ttf, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse caption font: %w", err)
	}
	face, err := opentype.NewFace(ttf, &opentype.FaceOptions{
		Size:    cfg.Style.FontSize,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("create caption face: %w", err)
	}

	w, h := cfg.Format.Width, cfg.Format.Height
	bounds := image.Rect(0, 0, w, h)
	r := &Renderer{
		cfg:     cfg,
		log:     logger,
		idleLog: rate.NewLimiter(rate.Every(cfg.IdleLogInterval), 1),
		face:    face,
		live:    image.Rect(10, h-130, w-10, h-10),
		transl:  image.Rect(10, h-250, w-10, h-130),
		buf:     image.NewRGBA(bounds),
		snap:    image.NewRGBA(bounds),
	}

	r.drawMu.Lock()
	r.redraw()
	r.drawMu.Unlock()

	return r, nil
}

func (r *Renderer) UpdatePartialText(text string) {
	r.drawMu.Lock()
	defer r.drawMu.Unlock()

	r.caption.LiveText = text
	r.redraw()
}

func (r *Renderer) UpdateTranslatedText(text string) {
	r.drawMu.Lock()
	defer r.drawMu.Unlock()

	r.caption.TranslatedText = text
	r.redraw()
}

func (r *Renderer) Caption() CaptionState {
	r.drawMu.Lock()
	defer r.drawMu.Unlock()
	return r.caption
}

// redraw must be called with drawMu held.
func (r *Renderer) redraw() {
	r.frameMu.Lock()
	r.drawn = false
	r.frameMu.Unlock()

	draw.Draw(r.buf, r.buf.Bounds(), image.Transparent, image.Point{}, draw.Src)
	drawText(r.buf, r.face, r.cfg.Style.LiveColor, r.live, r.caption.LiveText)
	drawText(r.buf, r.face, r.cfg.Style.TranslationColor, r.transl, r.caption.TranslatedText)

	r.frameMu.Lock()
	r.drawn = true
	r.seq++
	r.frameMu.Unlock()
}

// snapshot returns the newest fully drawn frame. While a redraw is in
// progress the previous snapshot is returned again.
func (r *Renderer) snapshot() Frame {
	r.frameMu.Lock()
	defer r.frameMu.Unlock()

	if r.drawn && r.seq != r.snapSeq {
		copy(r.snap.Pix, r.buf.Pix)
		r.snapSeq = r.seq
	}
	return Frame{Image: r.snap, Seq: r.snapSeq}
}

// Run feeds the sender until ctx is cancelled. A failed send ends the loop
// with an error.
func (r *Renderer) Run(ctx context.Context, sender Sender) error {
	r.log.Info(
		"rendering",
		"size", fmt.Sprintf("%dx%d", r.cfg.Format.Width, r.cfg.Format.Height),
		"fps", fmt.Sprintf("%d/%d", r.cfg.Format.FrameRateN, r.cfg.Format.FrameRateD),
	)

	idle := time.NewTimer(0)
	defer idle.Stop()
	<-idle.C

	for {
		if ctx.Err() != nil {
			return nil
		}

		if sender.Connections() < 1 {
			if r.idleLog.Allow() {
				r.log.Debug("no current connections, so no rendering needed")
			}
			idle.Reset(r.cfg.IdlePoll)
			select {
			case <-ctx.Done():
				return nil
			case <-idle.C:
			}
			continue
		}

		frame := r.snapshot()
		if err := sender.Send(ctx, frame); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("send frame %d: %w", frame.Seq, err)
		}
	}
}

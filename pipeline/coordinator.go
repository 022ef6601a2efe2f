// Package pipeline ties recognition sessions, translation and the caption
// renderer together.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"node.town/subtitler/audio"
	"node.town/subtitler/stt"
	"node.town/subtitler/translate"
)

// StabilityThreshold is the stability a partial needs before it is shown.
const StabilityThreshold = 0.8

// journalTimeout bounds each journal write.
const journalTimeout = 2 * time.Second

// Captions receives text for display.
type Captions interface {
	UpdatePartialText(text string)
	UpdateTranslatedText(text string)
}

// Journal records what was said and how it was translated.
type Journal interface {
	RecordUtterance(ctx context.Context, sessionID, locale, text string) (int64, error)
	RecordTranslation(ctx context.Context, utteranceID int64, target, text string) error
}

type RetryPolicy struct {
	// MaxConsecutiveFailures stops RunForever after that many failed
	// sessions in a row. Zero means keep trying.
	MaxConsecutiveFailures int
	// Backoff is the pause after a failed session.
	Backoff time.Duration
}

type Options struct {
	Locale         string
	TargetLanguage string
	Seconds        int

	Retry            RetryPolicy
	GraceTimeout     time.Duration
	TranslateTimeout time.Duration
}

var DefaultOptions = Options{
	Locale:           "de",
	TargetLanguage:   "de",
	Seconds:          30,
	Retry:            RetryPolicy{Backoff: 5 * time.Second},
	GraceTimeout:     5 * time.Second,
	TranslateTimeout: 10 * time.Second,
}

type Deps struct {
	Recognizer stt.Recognizer
	Translator translate.Translator
	Captions   Captions
	// Journal is optional.
	Journal Journal
	Log     *log.Logger
}

// Coordinator runs recognition sessions one after another and routes their
// events. At most one session accepts audio at a time.
type Coordinator struct {
	opts Options
	deps Deps
	log  *log.Logger

	mu      sync.Mutex
	session *stt.Session

	// Only touched by the session loop.
	lastPartial string

	translations sync.WaitGroup
}

func New(opts Options, deps Deps) (*Coordinator, error) {
	if deps.Recognizer == nil {
		return nil, errors.New("pipeline: recognizer is required")
	}
	if deps.Translator == nil {
		return nil, errors.New("pipeline: translator is required")
	}
	if deps.Captions == nil {
		return nil, errors.New("pipeline: captions sink is required")
	}
	if _, _, err := translate.ParsePair(opts.Locale, opts.TargetLanguage); err != nil {
		return nil, err
	}
	if deps.Log == nil {
		deps.Log = log.Default()
	}

	return &Coordinator{
		opts: opts,
		deps: deps,
		log:  deps.Log,
	}, nil
}

// HandleAudio forwards one captured buffer to the current session. Audio
// that arrives between sessions is dropped.
func (c *Coordinator) HandleAudio(chunk audio.Chunk) {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()

	if s == nil {
		return
	}
	if err := s.WriteAudio(chunk.Data); err != nil {
		c.log.Warn("audio write failed", "session", s.ID(), "error", err)
	}
}

func (c *Coordinator) setSession(s *stt.Session) {
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()
}

// RunSession runs one recognition session. The session listens for at most
// seconds, ends early on a final transcript or a service error, and is
// drained gracefully when ctx is cancelled.
func (c *Coordinator) RunSession(ctx context.Context, seconds int, locale string) error {
	session, err := stt.Start(ctx, c.deps.Recognizer, stt.NewConfig(locale), c.log)
	if err != nil {
		return fmt.Errorf("start recognition session: %w", err)
	}
	c.setSession(session)

	c.log.Info("listening", "seconds", seconds, "locale", locale)
	c.wait(ctx, session, seconds)

	// Stop feeding audio before the half-close so HandleAudio cannot race
	// a new session.
	c.setSession(nil)

	graceCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.GraceTimeout)
	defer cancel()

	if err := session.Drain(graceCtx); err != nil {
		c.log.Warn("drain", "error", err)
	}
	c.drainEvents(graceCtx, session)
	if err := session.Close(graceCtx); err != nil {
		c.log.Warn("close", "error", err)
	}

	return session.Err()
}

func (c *Coordinator) wait(ctx context.Context, session *stt.Session, seconds int) {
	if seconds <= 0 {
		return
	}

	timer := time.NewTimer(time.Duration(seconds) * time.Second)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			c.log.Debug("listening window elapsed")
			return
		case <-ctx.Done():
			c.log.Info("interrupted, draining session")
			return
		case ev, ok := <-session.Events():
			if !ok {
				return
			}
			if c.route(session, ev) {
				return
			}
		}
	}
}

// drainEvents routes whatever the service still sends after the half-close.
func (c *Coordinator) drainEvents(ctx context.Context, session *stt.Session) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-session.Events():
			if !ok {
				return
			}
			c.route(session, ev)
		}
	}
}

// route dispatches one event and reports whether it was final.
func (c *Coordinator) route(session *stt.Session, ev stt.Event) bool {
	switch ev.Kind {
	case stt.Partial:
		if ev.Stability <= StabilityThreshold {
			return false
		}
		if ev.Text != c.lastPartial {
			c.deps.Captions.UpdatePartialText(ev.Text)
		}
		c.lastPartial = ev.Text
		return false

	case stt.Final:
		c.log.Info("heard", "text", ev.Text)
		c.deps.Captions.UpdatePartialText(ev.Text)
		c.translations.Add(1)
		go func() {
			defer c.translations.Done()
			c.translate(session.ID(), ev.Text)
		}()
		return true
	}
	return false
}

// translate runs detached from process cancellation so an utterance heard
// just before shutdown still gets its translation.
func (c *Coordinator) translate(sessionID, text string) {
	utteranceID := c.recordUtterance(sessionID, text)

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.TranslateTimeout)
	defer cancel()

	result, err := c.deps.Translator.Translate(ctx, text, c.opts.Locale, c.opts.TargetLanguage)
	if err != nil && translate.Retryable(err) {
		c.log.Warn("translation failed, retrying", "error", err)
		result, err = c.deps.Translator.Translate(ctx, text, c.opts.Locale, c.opts.TargetLanguage)
	}
	if err != nil {
		c.log.Error("translation dropped", "text", text, "error", err)
		return
	}

	c.log.Info("translated", "text", result.Text, "target", result.Target)
	c.deps.Captions.UpdateTranslatedText(result.Text)

	if c.deps.Journal != nil && utteranceID != 0 {
		jctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
		defer cancel()
		if err := c.deps.Journal.RecordTranslation(jctx, utteranceID, result.Target, result.Text); err != nil {
			c.log.Warn("journal translation", "error", err)
		}
	}
}

// recordUtterance journals a final transcript on its own deadline so a slow
// write does not eat into the translation budget. It returns 0 when there is
// no journal or the write failed.
func (c *Coordinator) recordUtterance(sessionID, text string) int64 {
	if c.deps.Journal == nil {
		return 0
	}

	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()

	id, err := c.deps.Journal.RecordUtterance(ctx, sessionID, c.opts.Locale, text)
	if err != nil {
		c.log.Warn("journal utterance", "error", err)
		return 0
	}
	return id
}

// RunForever runs sessions back to back until ctx is cancelled or the
// retry policy gives up. Before returning it waits, bounded by the grace
// timeout, for translations still in flight.
func (c *Coordinator) RunForever(ctx context.Context, seconds int, locale string) error {
	defer c.waitTranslations()

	failures := 0
	for ctx.Err() == nil {
		err := c.RunSession(ctx, seconds, locale)
		if err == nil {
			failures = 0
			continue
		}

		failures++
		c.log.Error("session failed", "error", err, "failures", failures)
		if limit := c.opts.Retry.MaxConsecutiveFailures; limit > 0 && failures >= limit {
			return fmt.Errorf("giving up after %d failed sessions: %w", failures, err)
		}

		backoff := time.NewTimer(c.opts.Retry.Backoff)
		select {
		case <-ctx.Done():
			backoff.Stop()
			return nil
		case <-backoff.C:
		}
	}
	return nil
}

func (c *Coordinator) waitTranslations() {
	done := make(chan struct{})
	go func() {
		c.translations.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(c.opts.GraceTimeout):
		c.log.Warn("translations still running at shutdown")
	}
}

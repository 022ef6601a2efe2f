package translate

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	gtranslate "cloud.google.com/go/translate"
	"golang.org/x/text/language"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// Result is a translated utterance together with the locale pair that
// produced it.
type Result struct {
	Text   string
	Source string
	Target string
}

type Translator interface {
	Translate(ctx context.Context, text, source, target string) (Result, error)
}

// GoogleTranslator calls Cloud Translation (v2).
type GoogleTranslator struct {
	client *gtranslate.Client
}

func NewGoogleTranslator(
	ctx context.Context,
	opts ...option.ClientOption,
) (*GoogleTranslator, error) {
	client, err := gtranslate.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create translation client: %w", err)
	}
	return &GoogleTranslator{client: client}, nil
}

func (g *GoogleTranslator) Translate(
	ctx context.Context,
	text, source, target string,
) (Result, error) {
	src, tgt, err := ParsePair(source, target)
	if err != nil {
		return Result{}, err
	}

	translations, err := g.client.Translate(
		ctx,
		[]string{text},
		tgt,
		&gtranslate.Options{Source: src, Format: gtranslate.Text},
	)
	if err != nil {
		return Result{}, fmt.Errorf("translate %s->%s: %w", source, target, err)
	}
	if len(translations) == 0 {
		return Result{}, fmt.Errorf("translate %s->%s: empty response", source, target)
	}

	return Result{
		Text:   translations[0].Text,
		Source: source,
		Target: target,
	}, nil
}

func (g *GoogleTranslator) Close() error {
	return g.client.Close()
}

// ParsePair validates a source/target pair of BCP 47 tags.
func ParsePair(source, target string) (language.Tag, language.Tag, error) {
	src, err := language.Parse(source)
	if err != nil {
		return language.Und, language.Und, fmt.Errorf("parse source language %q: %w", source, err)
	}
	tgt, err := language.Parse(target)
	if err != nil {
		return language.Und, language.Und, fmt.Errorf("parse target language %q: %w", target, err)
	}
	return src, tgt, nil
}

// Retryable reports whether a failed call is worth one more attempt.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

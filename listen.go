package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"

	"node.town/subtitler/audio"
	"node.town/subtitler/audio/mic"
	"node.town/subtitler/broadcast"
	"node.town/subtitler/config"
	"node.town/subtitler/db"
	"node.town/subtitler/pipeline"
	"node.town/subtitler/render"
	"node.town/subtitler/stt"
	"node.town/subtitler/translate"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Transcribe, translate and broadcast captions",
	RunE:  runListen,
}

func runListen(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logs := createLoggers()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := mic.Init(); err != nil {
		return err
	}
	defer mic.Terminate()

	device := cfg.Device
	if pick, _ := cmd.Flags().GetBool("pick"); pick {
		device, err = pickDevice()
		if err != nil {
			return err
		}
	}

	source, err := mic.Open(device, audio.DefaultFormat, logs.hear)
	if err != nil {
		return err
	}
	defer source.Stop()
	logs.main.Info(
		"microphone",
		"device", source.Device().Index,
		"name", source.Device().Name,
		"host", source.Device().HostAPI,
	)

	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	recognizer, err := stt.NewGoogleRecognizer(ctx, clientOpts...)
	if err != nil {
		return err
	}
	defer recognizer.Close()

	translator, err := translate.NewGoogleTranslator(ctx, clientOpts...)
	if err != nil {
		return err
	}
	defer translator.Close()

	renderer, err := render.New(render.DefaultConfig, logs.draw)
	if err != nil {
		return err
	}

	sender, err := broadcast.NewSender(broadcast.Config{
		Name:        cfg.Broadcast.Name,
		Addr:        cfg.Broadcast.Addr,
		Format:      render.HD1080,
		Codec:       broadcast.Codec(cfg.Broadcast.Codec),
		JPEGQuality: cfg.Broadcast.JPEGQuality,
	}, logs.cast)
	if err != nil {
		return err
	}
	defer sender.Close()

	deps := pipeline.Deps{
		Recognizer: recognizer,
		Translator: translator,
		Captions:   renderer,
		Log:        logs.hear,
	}
	if cfg.History.Path != "" {
		journal, err := db.Open(cfg.History.Path, logs.data)
		if err != nil {
			return err
		}
		defer journal.Close()
		deps.Journal = journal
	}

	coordinator, err := pipeline.New(pipelineOptions(cfg), deps)
	if err != nil {
		return err
	}

	logs.tran.Info("translating", "from", cfg.Locale, "to", cfg.TargetLanguage)

	g, gctx := errgroup.WithContext(ctx)

	if err := sender.Start(gctx); err != nil {
		return err
	}

	if err := source.Start(coordinator.HandleAudio); err != nil {
		return err
	}

	g.Go(func() error {
		return renderer.Run(gctx, sender)
	})
	g.Go(func() error {
		return coordinator.RunForever(gctx, cfg.Seconds, cfg.Locale)
	})

	err = g.Wait()
	if ctx.Err() != nil {
		logs.main.Info("stopped")
	}
	return err
}

func pipelineOptions(cfg config.Config) pipeline.Options {
	return pipeline.Options{
		Locale:         cfg.Locale,
		TargetLanguage: cfg.TargetLanguage,
		Seconds:        cfg.Seconds,
		Retry: pipeline.RetryPolicy{
			MaxConsecutiveFailures: cfg.Retry.MaxFailures,
			Backoff:                cfg.Retry.Backoff,
		},
		GraceTimeout:     cfg.GraceTimeout,
		TranslateTimeout: cfg.TranslateTimeout,
	}
}

func pickDevice() (int, error) {
	devices, err := mic.ListDevices()
	if err != nil {
		return 0, err
	}
	if len(devices) == 0 {
		return 0, audio.ErrNoDevices
	}

	options := make([]huh.Option[int], len(devices))
	for i, d := range devices {
		options[i] = huh.NewOption(fmt.Sprintf("%d: %s (%s)", d.Index, d.Name, d.HostAPI), d.Index)
	}

	var selected int
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[int]().
				Title("Choose a microphone").
				Options(options...).
				Value(&selected),
		),
	)
	if err := form.Run(); err != nil {
		return 0, fmt.Errorf("pick device: %w", err)
	}
	return selected, nil
}

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"node.town/subtitler/audio"
	"node.town/subtitler/config"
)

const (
	exitOK        = 0
	exitFailure   = 1
	exitNoDevices = 2
)

var logger = log.New(os.Stderr)

func init() {
	listenCmd.Flags().StringP("locale", "l", "de", "Language of the speaker (BCP 47)")
	listenCmd.Flags().StringP("target-language", "t", "de", "Language to translate into")
	listenCmd.Flags().IntP("seconds", "s", 30, "Maximum length of one recognition session")
	listenCmd.Flags().IntP("device", "w", 0, "Index of the input device (see list-devices)")
	listenCmd.Flags().Bool("pick", false, "Choose the input device interactively")

	historyCmd.Flags().IntP("limit", "n", 20, "Number of utterances to show")

	rootCmd.PersistentFlags().String("credentials", "", "Google service account JSON file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("history", "subtitler.db", "SQLite journal path, empty to disable")

	viper.BindPFlag("locale", listenCmd.Flags().Lookup("locale"))
	viper.BindPFlag("target_language", listenCmd.Flags().Lookup("target-language"))
	viper.BindPFlag("seconds", listenCmd.Flags().Lookup("seconds"))
	viper.BindPFlag("device", listenCmd.Flags().Lookup("device"))
	viper.BindPFlag("credentials_file", rootCmd.PersistentFlags().Lookup("credentials"))
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("history.path", rootCmd.PersistentFlags().Lookup("history"))

	rootCmd.AddCommand(listenCmd)
	rootCmd.AddCommand(listDevicesCmd)
	rootCmd.AddCommand(historyCmd)
}

var rootCmd = &cobra.Command{
	Use:   "subtitler",
	Short: "Live subtitles and translation for a video overlay",
	Long: `subtitler listens to a microphone, transcribes speech with Google Cloud
Speech, translates it with Google Cloud Translation and broadcasts both as
a 1920x1080 caption overlay.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// loadConfig reads settings and configures the shared logger.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return config.Config{}, err
	}
	logger.SetLevel(cfg.LogLevel())
	return cfg, nil
}

type loggers struct {
	main, hear, tran, draw, cast, data *log.Logger
}

func createLoggers() loggers {
	logger.SetReportCaller(true)
	logger.SetCallerFormatter(
		func(file string, line int, funcName string) string {
			path, err := filepath.Rel(".", file)
			if err != nil {
				path = file
			}
			return fmt.Sprintf("%s:%d", path, line)
		},
	)

	styles := log.DefaultStyles()
	styles.Prefix = styles.Prefix.MarginTop(1).
		Bold(false).Transform(func(s string) string {
		return strings.TrimSuffix(s, ":")
	})
	styles.Levels[log.InfoLevel] = styles.Levels[log.InfoLevel].
		MaxWidth(6).
		MarginRight(1).
		Bold(false)
	styles.Levels[log.ErrorLevel] = styles.Levels[log.ErrorLevel].
		MaxWidth(6).
		MarginRight(1).
		Bold(false)
	styles.Message = styles.Message.Bold(true).Width(24)
	styles.Key = styles.Key.MarginLeft(1).
		Bold(false).
		Foreground(lipgloss.Color("#ff8800"))

	logger.SetStyles(styles)

	return loggers{
		main: logger.With().WithPrefix("main"),
		hear: logger.With().WithPrefix("hear"),
		tran: logger.With().WithPrefix("tran"),
		draw: logger.With().WithPrefix("draw"),
		cast: logger.With().WithPrefix("cast"),
		data: logger.With().WithPrefix("data"),
	}
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, audio.ErrNoDevices):
		return exitNoDevices
	default:
		return exitFailure
	}
}

func main() {
	err := rootCmd.Execute()
	if err != nil {
		if errors.Is(err, audio.ErrNoDevices) {
			logger.Error("no microphone found")
		} else {
			logger.Error("fatal", "error", err)
		}
	}
	os.Exit(exitCode(err))
}

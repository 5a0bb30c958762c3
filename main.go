package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"ghostquant/internal/bootstrap"
	"ghostquant/internal/config"
	"ghostquant/internal/domain"
	"ghostquant/internal/logging"
	"ghostquant/internal/watchdog"
)

var version = "dev"

type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

func main() {
	if err := newRootCommand(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand(out io.Writer) *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:          "ghostquant-voice",
		Short:        "Voice copilot for the GhostQuant market watchdog",
		Version:      version,
		SilenceUsage: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default ~/.config/ghostquant/voice.yaml)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "log format: console or json")

	root.AddCommand(
		newRunCommand(opts),
		newSayCommand(opts),
		newWatchCommand(opts),
		newWakeCommand(opts),
		newModeCommand(opts),
	)
	return root
}

func (o *rootOptions) load() (config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, zerolog.Nop(), err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Log.Format = o.logFormat
	}
	logger := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	return cfg, logger, nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// startApp opens the playback device and builds the runtime.
func startApp(cmd *cobra.Command, cfg config.Config, logger zerolog.Logger) (*App, func(), error) {
	player, err := bootstrap.OpenPlayer(cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open audio output: %w", err)
	}
	app := NewApp(cfg, logger, cmd.OutOrStdout())
	app.startup(player)
	if err := app.requireReady(); err != nil {
		_ = player.Close()
		return nil, nil, err
	}
	return app, func() { _ = player.Close() }, nil
}

func newRunCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Listen for the wake phrase, answer questions and speak watchdog alerts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			app, closePlayer, err := startApp(cmd, cfg, logger)
			if err != nil {
				return err
			}
			defer closePlayer()
			return app.Run(ctx)
		},
	}
}

func newSayCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "say <text>",
		Short: "Speak text once through the synthesis pipeline",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			app, closePlayer, err := startApp(cmd, cfg, logger)
			if err != nil {
				return err
			}
			defer closePlayer()
			return app.Say(ctx, strings.Join(args, " "))
		},
	}
}

func newWatchCommand(opts *rootOptions) *cobra.Command {
	var (
		inputs string
		once   bool
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run the watchdog over a JSON inputs file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			if inputs == "" {
				inputs = cfg.Watchdog.InputsFile
			}
			if once {
				return scanOnce(cmd, cfg, logger, inputs)
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			sink := NewApp(cfg, logger, cmd.OutOrStdout())
			orchestrator := bootstrap.NewWatchdog(cfg, logger,
				watchdog.WithFeed(watchdog.NewFileFeed(inputs)),
				watchdog.WithObserver(sink.WatchdogSynthesis),
				watchdog.WithAnnouncer(func(s domain.Synthesis) {
					fmt.Fprintf(cmd.OutOrStdout(), "[%s %.0f] %s\n", s.State, s.ThreatLevel, s.SpeechText)
				}),
			)
			if err := orchestrator.Start(ctx); err != nil {
				return err
			}
			<-ctx.Done()
			orchestrator.Stop()
			return nil
		},
	}
	cmd.Flags().StringVar(&inputs, "inputs", "", "watchdog inputs JSON file")
	cmd.Flags().BoolVar(&once, "once", false, "scan once and print the synthesis as JSON")
	return cmd
}

func scanOnce(cmd *cobra.Command, cfg config.Config, logger zerolog.Logger, path string) error {
	in, err := watchdog.ReadInputs(path)
	if err != nil {
		return err
	}
	synthesis := bootstrap.NewWatchdog(cfg, logger).Scan(cmd.Context(), in)

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(synthesis)
}

func newWakeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "wake <text>",
		Short: "Show how a transcript matches the wake phrase",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			normalizer, err := bootstrap.LoadWake(cfg, logger)
			if err != nil {
				return err
			}

			text := strings.Join(args, " ")
			out := cmd.OutOrStdout()
			match, ok := normalizer.Match(text)
			if !ok {
				fmt.Fprintln(out, "no wake phrase")
				return nil
			}
			query, _ := normalizer.ExtractQuery(text)
			fmt.Fprintf(out, "alias:      %s (%s)\n", match.Alias.Phrase, match.Alias.Tier)
			fmt.Fprintf(out, "confidence: %.2f\n", match.Confidence)
			fmt.Fprintf(out, "normalized: %s\n", normalizer.Normalize(text))
			fmt.Fprintf(out, "query:      %s\n", query)
			return nil
		},
	}
}

func newModeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "mode [default|mission]",
		Short:     "Show or set the persisted voice mode",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{string(domain.VoiceModeDefault), string(domain.VoiceModeMission)},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			settings, store, err := bootstrap.OpenSettings(cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			if len(args) == 1 {
				mode, ok := domain.ParseVoiceMode(strings.ToLower(args[0]))
				if !ok {
					return errors.New("mode must be default or mission")
				}
				if err := settings.SetMode(ctx, mode); err != nil {
					return err
				}
			}
			mode, err := settings.Load(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), mode)
			return nil
		},
	}
}

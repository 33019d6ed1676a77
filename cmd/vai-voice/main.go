package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/vango-go/vai-voice/pkg/client/config"
	"github.com/vango-go/vai-voice/pkg/client/console"
	"github.com/vango-go/vai-voice/pkg/client/localstore"
	"github.com/vango-go/vai-voice/pkg/client/transport"
	"github.com/vango-go/vai-voice/pkg/client/turn"
)

type clientFlags struct {
	ConfigPath string
	Required   bool
	ServerURL  string
	Language   string
}

func parseClientFlags(args []string, getenv func(string) string) (clientFlags, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	var f clientFlags
	fs := flag.NewFlagSet("vai-voice", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	envPath := strings.TrimSpace(getenv("VAI_VOICE_CONFIG"))
	defaultPath := config.DefaultPath
	if envPath != "" {
		defaultPath = envPath
	}
	fs.StringVar(&f.ConfigPath, "config", defaultPath, "TOML config file (or VAI_VOICE_CONFIG)")
	fs.StringVar(&f.ServerURL, "server-url", "", "override server_url")
	fs.StringVar(&f.Language, "lang", "", "override language")

	if err := fs.Parse(args); err != nil {
		return clientFlags{}, err
	}
	// A path the user named must exist.
	f.Required = envPath != ""
	fs.Visit(func(fl *flag.Flag) {
		if fl.Name == "config" {
			f.Required = true
		}
	})
	return f, nil
}

func loadConfig(f clientFlags) (config.Config, error) {
	cfg, err := config.Load(f.ConfigPath, f.Required)
	if err != nil {
		return config.Config{}, err
	}
	if f.ServerURL == "" && f.Language == "" {
		return cfg, nil
	}
	if f.ServerURL != "" {
		cfg.ServerURL = f.ServerURL
	}
	if f.Language != "" {
		cfg.Language = f.Language
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// openLog sends client logs to a file so they stay out of the chat.
func openLog(cfg config.Config) (*slog.Logger, io.Closer, error) {
	level, err := cfg.LogLevel()
	if err != nil {
		return nil, nil, err
	}
	if cfg.Log.File == "" {
		return slog.New(slog.NewTextHandler(io.Discard, nil)), io.NopCloser(nil), nil
	}
	f, err := os.OpenFile(cfg.Log.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: level})), f, nil
}

func runClient(ctx context.Context, cfg config.Config, logger *slog.Logger, stdin io.Reader, stdout io.Writer) error {
	store, err := localstore.Open(cfg.Store.Driver, cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	conn, err := transport.New(transport.Options{
		URL:     cfg.ServerURL,
		Backoff: cfg.ReconnectBackoff,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	ui := console.NewUI(stdout)
	mic := console.NewMic(console.MicOptions{SilenceTimeout: cfg.SilenceTimeout, Logger: logger})
	synthOpts := console.SynthOptions{
		WordDuration: cfg.Speech.WordDuration,
		VoicesAfter:  cfg.Speech.VoicesAfter,
	}
	if cfg.Speech.Echo {
		synthOpts.Out = stdout
	}
	synth := console.NewSynth(synthOpts)

	ctrl := turn.New(turn.Options{
		Sender:        conn,
		Synthesizer:   synth,
		NewRecognizer: mic.Factory(),
		UI:            ui,
		Logger:        logger,
		Store:         store,
		BackupModel:   cfg.BackupModel,
		Language:      cfg.Language,
		SettleDelay:   cfg.SettleDelay,
		IdleTimeout:   cfg.IdleTimeout,
		Speech: turn.SpeechParams{
			Rate:   cfg.Speech.Rate,
			Pitch:  cfg.Speech.Pitch,
			Volume: cfg.Speech.Volume,
		},
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return conn.Run(gctx, ctrl) })
	g.Go(func() error { return ctrl.Run(gctx) })
	g.Go(func() error {
		// Leaving the command loop ends the session.
		defer cancel()
		loop := &console.Loop{In: stdin, Out: stdout, Controller: ctrl, Mic: mic, Logger: logger}
		return loop.Run(gctx)
	})

	logger.Info("voice client started", "server_url", cfg.ServerURL, "language", cfg.Language, "store", cfg.Store.Driver)
	fmt.Fprintln(stdout, "Type /start to talk, /help for commands.")
	ctrl.Greet()

	err = g.Wait()
	logger.Info("voice client stopped", "error", err)
	return err
}

func runMain(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	flags, err := parseClientFlags(args, os.Getenv)
	if err != nil {
		fmt.Fprintf(stderr, "vai-voice: %v\n", err)
		return 2
	}
	cfg, err := loadConfig(flags)
	if err != nil {
		fmt.Fprintf(stderr, "vai-voice: %v\n", err)
		return 1
	}
	logger, closer, err := openLog(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "vai-voice: %v\n", err)
		return 1
	}
	defer closer.Close()

	if err := runClient(ctx, cfg, logger, stdin, stdout); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(stderr, "vai-voice: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

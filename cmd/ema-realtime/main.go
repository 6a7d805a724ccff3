package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/dimiro1/banner"
	"github.com/spf13/pflag"

	orchestration "github.com/koscakluka/ema-realtime/core"
	"github.com/koscakluka/ema-realtime/core/audio/miniaudio"
	"github.com/koscakluka/ema-realtime/core/audio/portaudio"
	"github.com/koscakluka/ema-realtime/core/config"
	"github.com/koscakluka/ema-realtime/core/transport"
	"github.com/koscakluka/ema-realtime/internal/logging"
)

const version = "dev"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "ema-realtime:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet("ema-realtime", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "", "path to a config file (yaml, toml or json)")
	headless := flags.Bool("headless", false, "serve the HTTP control API instead of the terminal UI")
	printSchema := flags.Bool("print-config-schema", false, "print the config JSON schema and exit")
	flags.String("model", config.DefaultModel, "realtime model")
	flags.String("endpoint", config.DefaultEndpoint, "realtime websocket endpoint")
	flags.String("audio-backend", config.BackendMiniaudio, "audio backend: miniaudio or portaudio")
	flags.String("voice", "alloy", "assistant voice")
	flags.String("log-level", "info", "log level: debug, info, warn or error")
	flags.String("log-format", "text", "log format: text or json")
	flags.String("http-addr", "127.0.0.1:8089", "listen address of the headless control API")
	flags.Bool("manual-turns", false, "disable server voice detection and commit turns by hand")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if *printSchema {
		schema, err := config.Schema()
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(append(schema, '\n'))
		return err
	}

	cfg, err := config.Load(*configPath, flags)
	if err != nil {
		return err
	}
	if err := cfg.RequireCredential(); err != nil {
		return err
	}

	// The terminal UI owns stdout, so logs go to a file.
	var logOut io.Writer = os.Stderr
	if !*headless {
		f, err := os.OpenFile(filepath.Join(os.TempDir(), "ema-realtime.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		logOut = f
	}
	logger := logging.New(logOut, cfg.Log.Level, cfg.Log.Format)

	devices, err := openAudio(cfg, logging.Component(logger, "audio"))
	if err != nil {
		return err
	}
	defer func() {
		if err := devices.close(); err != nil {
			logger.Warn("failed to close audio devices", slog.Any("error", err))
		}
	}()

	controller, err := newController(cfg, devices, logger)
	if err != nil {
		return err
	}
	defer controller.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *headless {
		printBanner(cfg)
		return serveAPI(ctx, cfg.HTTP.Addr, controller, logging.Component(logger, "api"))
	}
	return runTUI(ctx, controller, cfg)
}

type audioDevices struct {
	capture  orchestration.AudioCaptureSource
	playback orchestration.AudioPlaybackSink
	close    func() error
}

func openAudio(cfg config.Config, logger *slog.Logger) (audioDevices, error) {
	switch cfg.AudioBackend {
	case config.BackendPortaudio:
		client, err := portaudio.NewClient(
			portaudio.WithDeviceRate(cfg.Audio.DeviceRate),
			portaudio.WithPlaybackBuffer(cfg.Audio.PlaybackBuffer),
			portaudio.WithLogger(logger),
		)
		if err != nil {
			return audioDevices{}, err
		}
		return audioDevices{capture: client.Capture(), playback: client.Playback(), close: client.Close}, nil
	default:
		client, err := miniaudio.NewClient(
			miniaudio.WithPlaybackBuffer(cfg.Audio.PlaybackBuffer),
			miniaudio.WithCapturePoolSize(cfg.Audio.CaptureFrames),
			miniaudio.WithLogger(logger),
		)
		if err != nil {
			return audioDevices{}, err
		}
		return audioDevices{capture: client.Capture, playback: client.Playback, close: client.Close}, nil
	}
}

func newController(cfg config.Config, devices audioDevices, logger *slog.Logger) (*orchestration.Controller, error) {
	transportConfig, err := cfg.TransportConfig()
	if err != nil {
		return nil, err
	}
	sessionConfig, err := cfg.SessionUpdate()
	if err != nil {
		return nil, err
	}

	channel := transport.NewChannel(
		transport.WithConfig(transportConfig),
		transport.WithLogger(logging.Component(logger, "transport")),
	)

	opts := []orchestration.SessionOption{
		orchestration.WithAudioCapture(devices.capture),
		orchestration.WithAudioPlayback(devices.playback),
		orchestration.WithTransport(channel),
		orchestration.WithEndpoint(cfg.EndpointURL(), cfg.Credential),
		orchestration.WithSessionConfig(sessionConfig),
		orchestration.WithAllowInterruptions(cfg.AllowInterruptions),
		orchestration.WithTranscriptLimit(cfg.Transcript.Limit, cfg.Transcript.Trim),
		orchestration.WithLogger(logging.Component(logger, "session")),
	}
	if cfg.Audio.CaptureFrames > 0 {
		opts = append(opts, orchestration.WithCaptureQueue(cfg.Audio.CaptureFrames*2))
	}
	if greeting := cfg.GreetingResponse(); greeting != nil {
		opts = append(opts, orchestration.WithGreeting(*greeting))
	}
	return orchestration.NewController(opts...), nil
}

func printBanner(cfg config.Config) {
	tpl := "{{ .Title \"ema-realtime\" \"\" 0 }}\n" +
		"Version: " + version + "\n" +
		"Model:   " + cfg.Model + "\n" +
		"Audio:   " + cfg.AudioBackend + "\n" +
		"API:     http://" + cfg.HTTP.Addr + "\n"
	banner.Init(os.Stdout, true, true, bytes.NewBufferString(tpl))
}

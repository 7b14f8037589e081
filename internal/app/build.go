package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/rbright/glimpse/internal/capture"
	"github.com/rbright/glimpse/internal/config"
	"github.com/rbright/glimpse/internal/describe"
	"github.com/rbright/glimpse/internal/detect"
	"github.com/rbright/glimpse/internal/fsm"
	"github.com/rbright/glimpse/internal/loop"
	"github.com/rbright/glimpse/internal/speech"
	"github.com/rbright/glimpse/internal/store"
)

// wiring overrides parts of the config-driven component graph per command.
type wiring struct {
	inMemory  bool
	capture   capture.Source
	player    func(*store.Store) speech.Player
	announcer loop.Announcer
	notifier  loop.Notifier
}

// components is everything one command needs to drive a session.
type components struct {
	store      *store.Store
	controller *loop.Controller
	closers    []io.Closer
}

func (c *components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func build(ctx context.Context, cfg config.Config, logger *slog.Logger, w wiring) (_ *components, err error) {
	c := &components{}
	defer func() {
		if err != nil {
			_ = c.Close()
		}
	}()

	storeDir := ""
	inMemory := w.inMemory || cfg.Store.InMemory
	if !inMemory {
		storeDir, err = config.ResolveStoreDir(cfg.Store)
		if err != nil {
			return nil, err
		}
	}
	c.store, err = store.Open(store.Options{Dir: storeDir, InMemory: inMemory, Logger: logger})
	if err != nil {
		return nil, err
	}
	c.closers = append(c.closers, c.store)

	vocab, err := buildVocabulary(cfg.Vocabulary)
	if err != nil {
		return nil, err
	}

	source := w.capture
	if source == nil {
		source, err = buildCapture(cfg.Capture, &c.closers)
		if err != nil {
			return nil, err
		}
	}

	detector, err := buildDetector(ctx, cfg.Detector, vocab, &c.closers)
	if err != nil {
		return nil, err
	}

	var player speech.Player
	if w.player != nil {
		player = w.player(c.store)
	} else {
		player = speech.Pulse{SinkID: cfg.Speech.Sink, SampleRate: cfg.Speech.SampleRate}
	}
	speaker, err := buildSpeaker(cfg.Speech, player, logger)
	if err != nil {
		return nil, err
	}

	deps := loop.Deps{
		Store:     c.store,
		Capture:   source,
		Detector:  detector,
		Speaker:   speaker,
		Announcer: w.announcer,
		Notifier:  w.notifier,
	}

	c.controller, err = loop.NewController(logger, deps, loop.Options{
		Timing:         buildTiming(cfg.Loop),
		Threshold:      cfg.Loop.Threshold,
		Vocabulary:     vocab,
		DetectTimeout:  config.Milliseconds(cfg.Detector.TimeoutMS),
		CaptureTimeout: config.Milliseconds(cfg.Capture.TimeoutMS),
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func buildTiming(cfg config.LoopConfig) fsm.Timing {
	return fsm.Timing{
		PollInterval:    config.Milliseconds(cfg.PollIntervalMS),
		MaxPollInterval: config.Milliseconds(cfg.MaxPollIntervalMS),
		Dwell:           config.Milliseconds(cfg.DwellMS),
	}
}

func buildVocabulary(cfg config.VocabularyConfig) (describe.Vocabulary, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return describe.DefaultVocabulary(), nil
	}
	return describe.LoadVocabulary(cfg.Path)
}

func buildCapture(cfg config.CaptureConfig, closers *[]io.Closer) (capture.Source, error) {
	switch strings.ToLower(cfg.Backend) {
	case "directory":
		return capture.NewDirectory(cfg.Path), nil
	case "snapshot":
		return capture.NewSnapshot(cfg.URL, config.Milliseconds(cfg.TimeoutMS)), nil
	case "static":
		return capture.OpenStatic(cfg.Path)
	case "camera":
		camera, err := capture.NewCamera(cfg.Device)
		if err != nil {
			return nil, err
		}
		*closers = append(*closers, camera)
		return camera, nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported capture backend %q", cfg.Backend)
	}
}

// buildDetector returns nil for the "none" backend; the loop then describes
// brightness only.
func buildDetector(ctx context.Context, cfg config.DetectorConfig, vocab describe.Vocabulary, closers *[]io.Closer) (detect.Detector, error) {
	switch strings.ToLower(cfg.Backend) {
	case "grpc":
		client, err := detect.NewGRPC(detect.GRPCConfig{
			Endpoint:    cfg.Endpoint,
			DialTimeout: config.Milliseconds(cfg.DialTimeoutMS),
			CallTimeout: config.Milliseconds(cfg.TimeoutMS),
			Vocabulary:  vocab,
		})
		if err != nil {
			return nil, err
		}
		*closers = append(*closers, client)
		return client, nil
	case "gemini":
		return detect.NewGemini(ctx, detect.GeminiConfig{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
			Timeout: config.Milliseconds(cfg.TimeoutMS),
		})
	case "simulated":
		return &detect.Simulated{Seed: cfg.Seed, Vocabulary: vocab}, nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported detector backend %q", cfg.Backend)
	}
}

// buildSpeaker chains the configured synthesizers. Backends that cannot be
// constructed are skipped with a warning; none at all means text only.
func buildSpeaker(cfg config.SpeechConfig, player speech.Player, logger *slog.Logger) (*speech.Dispatcher, error) {
	opts := speech.DispatcherOptions{Muted: cfg.Muted, Timeout: config.Milliseconds(cfg.TimeoutMS)}
	if cfg.Muted {
		return speech.NewDispatcher(nil, player, opts), nil
	}

	synths := make([]speech.Synthesizer, 0, len(cfg.Backends))
	for _, backend := range cfg.Backends {
		synth, err := buildSynthesizer(backend, cfg)
		if err != nil {
			logger.Warn("speech backend unavailable", "backend", backend, "error", err.Error())
			continue
		}
		synths = append(synths, synth)
	}
	if len(synths) == 0 {
		logger.Warn("no speech backend available; utterances are text only")
		opts.Muted = true
		return speech.NewDispatcher(nil, player, opts), nil
	}

	chain, err := speech.NewChain(logger, synths...)
	if err != nil {
		return nil, err
	}
	return speech.NewDispatcher(chain, player, opts), nil
}

func buildSynthesizer(backend string, cfg config.SpeechConfig) (speech.Synthesizer, error) {
	switch strings.ToLower(backend) {
	case "openai":
		return speech.NewOpenAI(speech.OpenAIConfig{
			APIKey:  cfg.OpenAI.APIKey,
			BaseURL: cfg.OpenAI.BaseURL,
			Model:   cfg.OpenAI.Model,
			Voice:   cfg.OpenAI.Voice,
			Speed:   cfg.OpenAI.Speed,
		})
	case "command":
		return speech.NewCommand(cfg.Command.Argv, cfg.CommandSampleRate)
	default:
		return nil, fmt.Errorf("unsupported speech backend %q", backend)
	}
}

package speech

import (
	"context"
	"errors"
	"log/slog"
)

// Chain tries synthesizers in order. The first success wins.
type Chain struct {
	synths []Synthesizer
	logger *slog.Logger
}

func NewChain(logger *slog.Logger, synths ...Synthesizer) (*Chain, error) {
	if len(synths) == 0 {
		return nil, ErrNoSynthesizer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{synths: synths, logger: logger.With("component", "speech.chain")}, nil
}

func (c *Chain) Synthesize(ctx context.Context, text string) (Audio, error) {
	var errs []error
	for i, synth := range c.synths {
		audio, err := synth.Synthesize(ctx, text)
		if err == nil {
			if i > 0 {
				c.logger.Info("fallback synthesizer succeeded", "index", i, "chars", len(text))
			}
			return audio, nil
		}

		errs = append(errs, err)
		c.logger.Warn("synthesizer failed, trying next", "index", i, "error", err)

		if ctx.Err() != nil {
			return Audio{}, wrapSynthesis(ctx.Err())
		}
	}
	return Audio{}, wrapSynthesis(errors.Join(errs...))
}

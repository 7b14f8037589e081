package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Command runs a local TTS program that reads text on stdin and writes raw
// s16le mono PCM to stdout, e.g. `piper --model en_US-amy-medium.onnx --output-raw`.
type Command struct {
	Argv       []string
	SampleRate int
}

func NewCommand(argv []string, sampleRate int) (*Command, error) {
	if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
		return nil, errors.New("speech command is empty")
	}
	if sampleRate <= 0 {
		return nil, errors.New("speech command sample rate must be positive")
	}
	return &Command{Argv: append([]string(nil), argv...), SampleRate: sampleRate}, nil
}

func (c *Command) Synthesize(ctx context.Context, text string) (Audio, error) {
	cmd := exec.CommandContext(ctx, c.Argv[0], c.Argv[1:]...)
	cmd.Stdin = strings.NewReader(text + "\n")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return Audio{}, fmt.Errorf("%w: run %s: %w (%s)", ErrSynthesisFailed, c.Argv[0], err, detail)
		}
		return Audio{}, fmt.Errorf("%w: run %s: %w", ErrSynthesisFailed, c.Argv[0], err)
	}

	pcm := DecodePCM16LE(stdout.Bytes())
	if len(pcm) == 0 {
		return Audio{}, fmt.Errorf("%w: %s produced no audio", ErrSynthesisFailed, c.Argv[0])
	}
	return Audio{PCM: pcm, SampleRate: c.SampleRate}, nil
}

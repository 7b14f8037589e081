package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// openAIPCMRate is the fixed sample rate of OpenAI's raw pcm response format.
const openAIPCMRate = 24000

// OpenAIConfig configures the hosted text-to-speech synthesizer.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Voice   string
	Speed   float64
}

// OpenAI synthesizes speech with the OpenAI audio API.
type OpenAI struct {
	client openai.Client
	model  string
	voice  string
	speed  float64
}

func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openai api key is empty")
	}
	if cfg.Model == "" {
		cfg.Model = string(openai.SpeechModelTTS1)
	}
	if cfg.Voice == "" {
		cfg.Voice = string(openai.AudioSpeechNewParamsVoiceAlloy)
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAI{
		client: openai.NewClient(opts...),
		model:  cfg.Model,
		voice:  cfg.Voice,
		speed:  cfg.Speed,
	}, nil
}

func (o *OpenAI) Synthesize(ctx context.Context, text string) (Audio, error) {
	params := openai.AudioSpeechNewParams{
		Model:          openai.SpeechModel(o.model),
		Input:          text,
		Voice:          openai.AudioSpeechNewParamsVoice(o.voice),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatPCM,
	}
	if o.speed > 0 {
		params.Speed = openai.Float(o.speed)
	}

	resp, err := o.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return Audio{}, fmt.Errorf("%w: openai speech: %w", ErrSynthesisFailed, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Audio{}, fmt.Errorf("%w: read openai speech: %w", ErrSynthesisFailed, err)
	}
	pcm := DecodePCM16LE(raw)
	if len(pcm) == 0 {
		return Audio{}, fmt.Errorf("%w: openai returned no audio", ErrSynthesisFailed)
	}
	return Audio{PCM: pcm, SampleRate: openAIPCMRate}, nil
}

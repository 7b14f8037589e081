package detect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"
	"github.com/rbright/glimpse/internal/capture"
	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.0-flash"

const geminiPrompt = "List every distinct physical object visible in this photo. " +
	"Use short lowercase common nouns as labels (for example person, chair, laptop). " +
	"Report one entry per object instance with a confidence between 0 and 1."

// GeminiConfig configures the hosted multimodal detector.
type GeminiConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// Gemini asks a Gemini model for structured detections of a frame.
type Gemini struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("gemini api key is empty")
	}
	if cfg.Model == "" {
		cfg.Model = defaultGeminiModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Gemini{client: client, model: cfg.Model, timeout: cfg.Timeout}, nil
}

func (g *Gemini) Detect(ctx context.Context, frame capture.Frame) ([]Detection, error) {
	mimeType := frame.MIMEType
	if mimeType == "" || !strings.HasPrefix(mimeType, "image/") {
		mimeType = "image/jpeg"
	}

	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			genai.NewPartFromText(geminiPrompt),
			genai.NewPartFromBytes(frame.Data, mimeType),
		},
	}}
	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   detectionSchema(),
	}

	var text string
	err := runWithTimeout(ctx, g.timeout, func(callCtx context.Context) error {
		resp, err := g.client.Models.GenerateContent(callCtx, g.model, contents, cfg)
		if err != nil {
			return err
		}
		text = responseText(resp)
		return nil
	})
	if err != nil {
		return nil, wrapUnavailable("gemini generate", err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, unavailable("gemini returned no content")
	}

	var detections []Detection
	if err := unmarshalJSON([]byte(text), &detections); err != nil {
		return nil, wrapUnavailable("decode gemini detections", err)
	}
	return detections, nil
}

func detectionSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeArray,
		Items: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"label":      {Type: genai.TypeString},
				"confidence": {Type: genai.TypeNumber},
			},
			Required: []string{"label", "confidence"},
		},
	}
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}

// unmarshalJSON retries once through jsonrepair when the model emits malformed JSON.
func unmarshalJSON(data []byte, v any) error {
	err := json.Unmarshal(data, v)
	if err == nil {
		return nil
	}
	var syntaxErr *json.SyntaxError
	if !errors.As(err, &syntaxErr) {
		return err
	}
	fixed, repairErr := jsonrepair.JSONRepair(string(data))
	if repairErr != nil {
		return fmt.Errorf("repair json: %w", repairErr)
	}
	return json.Unmarshal([]byte(fixed), v)
}

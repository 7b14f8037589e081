package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

type jsoncConfig struct {
	Loop       *jsoncLoop       `json:"loop"`
	Capture    *jsoncCapture    `json:"capture"`
	Detector   *jsoncDetector   `json:"detector"`
	Speech     *jsoncSpeech     `json:"speech"`
	Vocabulary *jsoncVocabulary `json:"vocabulary"`
	Store      *jsoncStore      `json:"store"`
	Server     *jsoncServer     `json:"server"`
	Indicator  *jsoncIndicator  `json:"indicator"`
	Log        *jsoncLog        `json:"log"`
}

type jsoncLoop struct {
	SessionID         *string  `json:"session_id"`
	PollIntervalMS    *int     `json:"poll_interval_ms"`
	MaxPollIntervalMS *int     `json:"max_poll_interval_ms"`
	DwellMS           *int     `json:"dwell_ms"`
	Threshold         *float64 `json:"threshold"`
}

type jsoncCapture struct {
	Backend   *string `json:"backend"`
	Path      *string `json:"path"`
	URL       *string `json:"url"`
	Device    *int    `json:"device"`
	TimeoutMS *int    `json:"timeout_ms"`
}

type jsoncDetector struct {
	Backend       *string `json:"backend"`
	Endpoint      *string `json:"endpoint"`
	DialTimeoutMS *int    `json:"dial_timeout_ms"`
	TimeoutMS     *int    `json:"timeout_ms"`
	Model         *string `json:"model"`
	APIKey        *string `json:"api_key"`
	BaseURL       *string `json:"base_url"`
	Seed          *uint64 `json:"seed"`
}

type jsoncSpeech struct {
	Backends          *jsoncStringList `json:"backends"`
	Muted             *bool            `json:"muted"`
	Sink              *string          `json:"sink"`
	SampleRate        *int             `json:"sample_rate"`
	TimeoutMS         *int             `json:"timeout_ms"`
	OpenAI            *jsoncOpenAI     `json:"openai"`
	Command           *string          `json:"command"`
	CommandSampleRate *int             `json:"command_sample_rate"`
}

type jsoncOpenAI struct {
	APIKey  *string  `json:"api_key"`
	BaseURL *string  `json:"base_url"`
	Model   *string  `json:"model"`
	Voice   *string  `json:"voice"`
	Speed   *float64 `json:"speed"`
}

type jsoncVocabulary struct {
	Path *string `json:"path"`
}

type jsoncStore struct {
	Dir      *string `json:"dir"`
	InMemory *bool   `json:"in_memory"`
}

type jsoncServer struct {
	Addr          *string `json:"addr"`
	MaxBodyBytes  *int    `json:"max_body_bytes"`
	ReadTimeoutMS *int    `json:"read_timeout_ms"`
}

type jsoncIndicator struct {
	Enable         *bool   `json:"enable"`
	DesktopAppName *string `json:"desktop_app_name"`
	SoundEnable    *bool   `json:"sound_enable"`
	SoundStartFile *string `json:"sound_start_file"`
	SoundStopFile  *string `json:"sound_stop_file"`
}

type jsoncLog struct {
	Level *string `json:"level"`
}

type jsoncStringList []string

func (l *jsoncStringList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*l = list
		return nil
	}

	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		parts := strings.Split(single, ",")
		out := make([]string, 0, len(parts))
		for _, part := range parts {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			out = append(out, part)
		}
		*l = out
		return nil
	}

	return fmt.Errorf("expected string array or comma-delimited string")
}

func parseJSONC(content string, base Config) (Config, []Warning, error) {
	normalized, err := normalizeJSONC(content)
	if err != nil {
		return Config{}, nil, err
	}

	decoder := json.NewDecoder(strings.NewReader(normalized))
	decoder.DisallowUnknownFields()

	var payload jsoncConfig
	if err := decoder.Decode(&payload); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}
	if err := ensureSingleJSONValue(decoder); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}

	cfg := base
	warnings, err := payload.applyTo(&cfg)
	if err != nil {
		return Config{}, nil, err
	}

	validatedWarnings, err := Validate(cfg)
	if err != nil {
		return Config{}, nil, err
	}
	warnings = append(warnings, validatedWarnings...)
	return cfg, warnings, nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = strings.TrimSpace(*src)
	}
}

func setValue[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func (payload jsoncConfig) applyTo(cfg *Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if l := payload.Loop; l != nil {
		setString(&cfg.Loop.SessionID, l.SessionID)
		setValue(&cfg.Loop.PollIntervalMS, l.PollIntervalMS)
		setValue(&cfg.Loop.MaxPollIntervalMS, l.MaxPollIntervalMS)
		setValue(&cfg.Loop.DwellMS, l.DwellMS)
		setValue(&cfg.Loop.Threshold, l.Threshold)
	}

	if c := payload.Capture; c != nil {
		setString(&cfg.Capture.Backend, c.Backend)
		setString(&cfg.Capture.Path, c.Path)
		setString(&cfg.Capture.URL, c.URL)
		setValue(&cfg.Capture.Device, c.Device)
		setValue(&cfg.Capture.TimeoutMS, c.TimeoutMS)
	}

	if d := payload.Detector; d != nil {
		setString(&cfg.Detector.Backend, d.Backend)
		setString(&cfg.Detector.Endpoint, d.Endpoint)
		setValue(&cfg.Detector.DialTimeoutMS, d.DialTimeoutMS)
		setValue(&cfg.Detector.TimeoutMS, d.TimeoutMS)
		setString(&cfg.Detector.Model, d.Model)
		setString(&cfg.Detector.APIKey, d.APIKey)
		setString(&cfg.Detector.BaseURL, d.BaseURL)
		setValue(&cfg.Detector.Seed, d.Seed)
		if d.APIKey != nil && *d.APIKey != "" {
			warnings = append(warnings, Warning{Message: "detector.api_key is stored in plain text; prefer GEMINI_API_KEY"})
		}
	}

	if s := payload.Speech; s != nil {
		if s.Backends != nil {
			cfg.Speech.Backends = append([]string(nil), (*s.Backends)...)
		}
		setValue(&cfg.Speech.Muted, s.Muted)
		setString(&cfg.Speech.Sink, s.Sink)
		setValue(&cfg.Speech.SampleRate, s.SampleRate)
		setValue(&cfg.Speech.TimeoutMS, s.TimeoutMS)
		setValue(&cfg.Speech.CommandSampleRate, s.CommandSampleRate)
		if o := s.OpenAI; o != nil {
			setString(&cfg.Speech.OpenAI.APIKey, o.APIKey)
			setString(&cfg.Speech.OpenAI.BaseURL, o.BaseURL)
			setString(&cfg.Speech.OpenAI.Model, o.Model)
			setString(&cfg.Speech.OpenAI.Voice, o.Voice)
			setValue(&cfg.Speech.OpenAI.Speed, o.Speed)
			if o.APIKey != nil && *o.APIKey != "" {
				warnings = append(warnings, Warning{Message: "speech.openai.api_key is stored in plain text; prefer OPENAI_API_KEY"})
			}
		}
		if s.Command != nil {
			raw := *s.Command
			argv, err := parseArgv(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid speech.command: %w", err)
			}
			cfg.Speech.Command = CommandConfig{Raw: raw, Argv: argv}
		}
	}

	if v := payload.Vocabulary; v != nil {
		setString(&cfg.Vocabulary.Path, v.Path)
	}

	if s := payload.Store; s != nil {
		setString(&cfg.Store.Dir, s.Dir)
		setValue(&cfg.Store.InMemory, s.InMemory)
	}

	if s := payload.Server; s != nil {
		setString(&cfg.Server.Addr, s.Addr)
		setValue(&cfg.Server.MaxBodyBytes, s.MaxBodyBytes)
		setValue(&cfg.Server.ReadTimeoutMS, s.ReadTimeoutMS)
	}

	if i := payload.Indicator; i != nil {
		setValue(&cfg.Indicator.Enable, i.Enable)
		setString(&cfg.Indicator.DesktopAppName, i.DesktopAppName)
		setValue(&cfg.Indicator.SoundEnable, i.SoundEnable)
		setString(&cfg.Indicator.SoundStartFile, i.SoundStartFile)
		setString(&cfg.Indicator.SoundStopFile, i.SoundStopFile)
	}

	if l := payload.Log; l != nil {
		setString(&cfg.Log.Level, l.Level)
	}

	return warnings, nil
}

func normalizeJSONC(content string) (string, error) {
	withoutComments, err := stripJSONCComments(content)
	if err != nil {
		return "", err
	}
	return stripJSONCTrailingCommas(withoutComments), nil
}

func stripJSONCComments(content string) (string, error) {
	var out strings.Builder
	out.Grow(len(content))

	inString := false
	escape := false
	lineComment := false
	blockComment := false

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if lineComment {
			if ch == '\n' {
				lineComment = false
				out.WriteByte(ch)
				continue
			}
			if ch == '\r' {
				lineComment = false
				out.WriteByte(ch)
				continue
			}
			out.WriteByte(' ')
			continue
		}

		if blockComment {
			if ch == '*' && i+1 < len(content) && content[i+1] == '/' {
				blockComment = false
				out.WriteString("  ")
				i++
				continue
			}
			if ch == '\n' || ch == '\r' || ch == '\t' {
				out.WriteByte(ch)
			} else {
				out.WriteByte(' ')
			}
			continue
		}

		if inString {
			out.WriteByte(ch)
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		if ch == '"' {
			inString = true
			out.WriteByte(ch)
			continue
		}

		if ch == '/' && i+1 < len(content) {
			next := content[i+1]
			if next == '/' {
				lineComment = true
				out.WriteString("  ")
				i++
				continue
			}
			if next == '*' {
				blockComment = true
				out.WriteString("  ")
				i++
				continue
			}
		}

		out.WriteByte(ch)
	}

	if blockComment {
		return "", fmt.Errorf("unterminated block comment in JSONC")
	}

	return out.String(), nil
}

func stripJSONCTrailingCommas(content string) string {
	var out strings.Builder
	out.Grow(len(content))

	inString := false
	escape := false

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if inString {
			out.WriteByte(ch)
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		if ch == '"' {
			inString = true
			out.WriteByte(ch)
			continue
		}

		if ch == ',' {
			j := i + 1
			for j < len(content) && isJSONWhitespace(content[j]) {
				j++
			}
			if j < len(content) && (content[j] == '}' || content[j] == ']') {
				continue
			}
		}

		out.WriteByte(ch)
	}

	return out.String()
}

func isJSONWhitespace(ch byte) bool {
	switch ch {
	case ' ', '\n', '\r', '\t':
		return true
	default:
		return false
	}
}

func ensureSingleJSONValue(decoder *json.Decoder) error {
	var extra struct{}
	err := decoder.Decode(&extra)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err == nil {
		return fmt.Errorf("multiple JSON values are not allowed")
	}
	return err
}

func wrapJSONDecodeError(content string, err error) error {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		line, col := offsetToLineCol(content, syntaxErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		line, col := offsetToLineCol(content, typeErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	return err
}

func offsetToLineCol(content string, offset int64) (int, int) {
	if offset <= 0 {
		return 1, 1
	}

	limit := int(offset)
	if limit > len(content) {
		limit = len(content)
	}

	line := 1
	col := 1
	for i := 0; i < limit-1; i++ {
		if content[i] == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return line, col
}

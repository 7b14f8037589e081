// Package config resolves, parses, validates, and defaults glimpse configuration.
package config

// Config is the fully materialized runtime configuration used by glimpse.
type Config struct {
	Loop       LoopConfig
	Capture    CaptureConfig
	Detector   DetectorConfig
	Speech     SpeechConfig
	Vocabulary VocabularyConfig
	Store      StoreConfig
	Server     ServerConfig
	Indicator  IndicatorConfig
	Log        LogConfig
}

// LoopConfig controls loop pacing and description filtering.
type LoopConfig struct {
	SessionID         string
	PollIntervalMS    int
	MaxPollIntervalMS int
	DwellMS           int
	Threshold         float64
}

// CaptureConfig selects where frames come from.
type CaptureConfig struct {
	// Backend is one of: directory, snapshot, camera, static, none.
	Backend   string
	Path      string
	URL       string
	Device    int
	TimeoutMS int
}

// DetectorConfig selects the object detection backend.
type DetectorConfig struct {
	// Backend is one of: grpc, gemini, simulated, none.
	Backend       string
	Endpoint      string
	DialTimeoutMS int
	TimeoutMS     int
	Model         string
	APIKey        string
	BaseURL       string
	Seed          uint64
}

// SpeechConfig controls synthesis backends and playback.
type SpeechConfig struct {
	// Backends are tried in order; supported: openai, command.
	Backends   []string
	Muted      bool
	Sink       string
	SampleRate int
	TimeoutMS  int
	OpenAI     OpenAIConfig
	Command    CommandConfig
	// CommandSampleRate is the rate of raw PCM written by Command.
	CommandSampleRate int
}

// OpenAIConfig configures the OpenAI speech backend.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Voice   string
	Speed   float64
}

type VocabularyConfig struct {
	// Path is an optional YAML label file; empty uses the built-in COCO labels.
	Path string
}

// StoreConfig controls where session state is persisted.
type StoreConfig struct {
	Dir      string
	InMemory bool
}

// ServerConfig controls the HTTP host.
type ServerConfig struct {
	Addr          string
	MaxBodyBytes  int
	ReadTimeoutMS int
}

// IndicatorConfig controls desktop notifications and audio cues.
type IndicatorConfig struct {
	Enable         bool
	DesktopAppName string
	SoundEnable    bool
	SoundStartFile string
	SoundStopFile  string
}

type LogConfig struct {
	Level string
}

// CommandConfig stores a raw command string and its parsed argv form.
type CommandConfig struct {
	Raw  string
	Argv []string
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}

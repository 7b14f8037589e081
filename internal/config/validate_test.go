package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	warnings, err := Validate(Default())
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	require.Contains(t, warnings[0].Message, "capture.path")
}

func TestValidateRejectsInvalidCoreFields(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "empty session", mutate: func(c *Config) { c.Loop.SessionID = " " }, wantErr: "loop.session_id"},
		{name: "slash in session", mutate: func(c *Config) { c.Loop.SessionID = "a/b" }, wantErr: "loop.session_id"},
		{name: "zero poll", mutate: func(c *Config) { c.Loop.PollIntervalMS = 0 }, wantErr: "loop.poll_interval_ms"},
		{name: "max below poll", mutate: func(c *Config) { c.Loop.MaxPollIntervalMS = 10 }, wantErr: "loop.max_poll_interval_ms"},
		{name: "threshold one", mutate: func(c *Config) { c.Loop.Threshold = 1 }, wantErr: "loop.threshold"},
		{name: "unknown capture", mutate: func(c *Config) { c.Capture.Backend = "webcam" }, wantErr: "capture.backend"},
		{name: "snapshot without url", mutate: func(c *Config) { c.Capture.Backend = "snapshot" }, wantErr: "capture.url"},
		{name: "unknown detector", mutate: func(c *Config) { c.Detector.Backend = "yolo" }, wantErr: "detector.backend"},
		{name: "grpc without endpoint", mutate: func(c *Config) { c.Detector.Endpoint = "" }, wantErr: "detector.endpoint"},
		{name: "unknown speech", mutate: func(c *Config) { c.Speech.Backends = []string{"espeak"} }, wantErr: "speech.backends"},
		{name: "command without argv", mutate: func(c *Config) { c.Speech.Backends = []string{"command"} }, wantErr: "speech.command"},
		{name: "bad speed", mutate: func(c *Config) { c.Speech.OpenAI.Speed = 9 }, wantErr: "speech.openai.speed"},
		{name: "empty server", mutate: func(c *Config) { c.Server.Addr = "" }, wantErr: "server.addr"},
		{name: "indicator name", mutate: func(c *Config) { c.Indicator.DesktopAppName = "" }, wantErr: "desktop_app_name"},
		{name: "log level", mutate: func(c *Config) { c.Log.Level = "trace" }, wantErr: "log.level"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			cfg.Capture.Path = "/tmp/frames"
			tc.mutate(&cfg)

			_, err := Validate(cfg)
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestValidateWarnsForDemoDetectorAndSilentSpeech(t *testing.T) {
	cfg := Default()
	cfg.Capture.Path = "/tmp/frames"
	cfg.Detector.Backend = "simulated"
	cfg.Speech.Backends = nil

	warnings, err := Validate(cfg)
	require.NoError(t, err)
	require.Len(t, warnings, 2)
}

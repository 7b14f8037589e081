package config

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

var (
	captureBackends  = []string{"directory", "snapshot", "camera", "static", "none"}
	detectorBackends = []string{"grpc", "gemini", "simulated", "none"}
	speechBackends   = []string{"openai", "command"}
	logLevels        = []string{"debug", "info", "warn", "error"}
)

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if strings.TrimSpace(cfg.Loop.SessionID) == "" {
		return nil, fmt.Errorf("loop.session_id must not be empty")
	}
	if strings.ContainsAny(cfg.Loop.SessionID, "/\x00") {
		return nil, fmt.Errorf("loop.session_id must not contain '/'")
	}
	if cfg.Loop.PollIntervalMS <= 0 {
		return nil, fmt.Errorf("loop.poll_interval_ms must be > 0")
	}
	if cfg.Loop.MaxPollIntervalMS < cfg.Loop.PollIntervalMS {
		return nil, fmt.Errorf("loop.max_poll_interval_ms must be >= loop.poll_interval_ms")
	}
	if cfg.Loop.DwellMS < 0 {
		return nil, fmt.Errorf("loop.dwell_ms must be >= 0")
	}
	if cfg.Loop.Threshold < 0 || cfg.Loop.Threshold >= 1 {
		return nil, fmt.Errorf("loop.threshold must be in [0, 1)")
	}

	capture := strings.ToLower(cfg.Capture.Backend)
	if !slices.Contains(captureBackends, capture) {
		return nil, fmt.Errorf("capture.backend must be one of: %s", strings.Join(captureBackends, ", "))
	}
	if (capture == "directory" || capture == "static") && strings.TrimSpace(cfg.Capture.Path) == "" {
		warnings = append(warnings, Warning{Message: fmt.Sprintf("capture.path is empty; %s capture needs a path", capture)})
	}
	if capture == "snapshot" && !strings.HasPrefix(cfg.Capture.URL, "http") {
		return nil, fmt.Errorf("capture.url must be an http(s) URL when capture.backend=snapshot")
	}
	if cfg.Capture.TimeoutMS <= 0 {
		return nil, fmt.Errorf("capture.timeout_ms must be > 0")
	}

	detector := strings.ToLower(cfg.Detector.Backend)
	if !slices.Contains(detectorBackends, detector) {
		return nil, fmt.Errorf("detector.backend must be one of: %s", strings.Join(detectorBackends, ", "))
	}
	if detector == "grpc" && strings.TrimSpace(cfg.Detector.Endpoint) == "" {
		return nil, fmt.Errorf("detector.endpoint must not be empty when detector.backend=grpc")
	}
	if detector == "simulated" {
		warnings = append(warnings, Warning{Message: "detector.backend=simulated describes random objects; use it for demos only"})
	}
	if cfg.Detector.TimeoutMS <= 0 || cfg.Detector.DialTimeoutMS <= 0 {
		return nil, fmt.Errorf("detector timeouts must be > 0")
	}

	for _, backend := range cfg.Speech.Backends {
		if !slices.Contains(speechBackends, strings.ToLower(backend)) {
			return nil, fmt.Errorf("speech.backends entry %q must be one of: %s", backend, strings.Join(speechBackends, ", "))
		}
		if strings.EqualFold(backend, "command") && len(cfg.Speech.Command.Argv) == 0 {
			return nil, fmt.Errorf("speech.command must be set when speech.backends includes command")
		}
	}
	if len(cfg.Speech.Backends) == 0 && !cfg.Speech.Muted {
		warnings = append(warnings, Warning{Message: "speech.backends is empty; utterances will only be announced"})
	}
	if cfg.Speech.SampleRate < 0 || cfg.Speech.CommandSampleRate <= 0 {
		return nil, fmt.Errorf("speech sample rates must be positive")
	}
	if cfg.Speech.OpenAI.Speed != 0 && (cfg.Speech.OpenAI.Speed < 0.25 || cfg.Speech.OpenAI.Speed > 4) {
		return nil, fmt.Errorf("speech.openai.speed must be in [0.25, 4]")
	}

	if strings.TrimSpace(cfg.Server.Addr) == "" {
		return nil, fmt.Errorf("server.addr must not be empty")
	}
	if cfg.Server.MaxBodyBytes <= 0 {
		return nil, fmt.Errorf("server.max_body_bytes must be > 0")
	}

	if cfg.Indicator.Enable && strings.TrimSpace(cfg.Indicator.DesktopAppName) == "" {
		return nil, fmt.Errorf("indicator.desktop_app_name must not be empty when indicator.enable=true")
	}

	if !slices.Contains(logLevels, strings.ToLower(cfg.Log.Level)) {
		return nil, fmt.Errorf("log.level must be one of: %s", strings.Join(logLevels, ", "))
	}

	return warnings, nil
}

// Milliseconds converts a config millisecond field to a duration.
func Milliseconds(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

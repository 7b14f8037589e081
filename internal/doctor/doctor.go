// Package doctor runs runtime readiness diagnostics for config, capture, detector, speech, and storage.
package doctor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rbright/glimpse/internal/audio"
	"github.com/rbright/glimpse/internal/capture"
	"github.com/rbright/glimpse/internal/config"
	"github.com/rbright/glimpse/internal/detect"
)

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// selectSink is swapped in tests to avoid a live Pulse server.
var selectSink = audio.SelectDevice

// Run executes environment/config/runtime checks for a loaded config.
func Run(ctx context.Context, cfg config.Loaded) Report {
	checks := []Check{}

	checks = append(checks, Check{
		Name:    "config",
		Pass:    true,
		Message: fmt.Sprintf("loaded %q", cfg.Path),
	})

	checks = append(checks, checkEnv("XDG_RUNTIME_DIR", func(v string) bool {
		return strings.TrimSpace(v) != ""
	}, "runtime dir available for the control socket", "XDG_RUNTIME_DIR is empty"))

	checks = append(checks, checkCapture(cfg.Config.Capture))
	checks = append(checks, checkDetector(ctx, cfg.Config.Detector))
	checks = append(checks, checkSpeech(cfg.Config.Speech)...)
	if !cfg.Config.Speech.Muted {
		checks = append(checks, checkAudioSelection(ctx, cfg.Config.Speech))
	}
	if cfg.Config.Indicator.SoundEnable &&
		(cfg.Config.Indicator.SoundStartFile != "" || cfg.Config.Indicator.SoundStopFile != "") {
		checks = append(checks, checkBinary("pw-play", "custom cue files require pw-play"))
	}
	checks = append(checks, checkStore(cfg.Config.Store))

	return Report{Checks: checks}
}

// checkEnv validates an environment variable through a caller-supplied predicate.
func checkEnv(name string, predicate func(string) bool, okMsg, failMsg string) Check {
	value := os.Getenv(name)
	if predicate(value) {
		return Check{Name: name, Pass: true, Message: okMsg}
	}
	return Check{Name: name, Pass: false, Message: failMsg}
}

// checkCommand validates that argv contains a runnable command.
func checkCommand(argv []string, name string) Check {
	if len(argv) == 0 {
		return Check{Name: name, Pass: false, Message: "command is empty"}
	}
	return checkBinary(argv[0], fmt.Sprintf("%s command is available", name))
}

// checkBinary validates that a binary exists in PATH.
func checkBinary(bin string, okMsg string) Check {
	path, err := exec.LookPath(bin)
	if err != nil {
		return Check{Name: bin, Pass: false, Message: fmt.Sprintf("binary not found in PATH: %s", bin)}
	}
	return Check{Name: bin, Pass: true, Message: fmt.Sprintf("found at %s (%s)", path, okMsg)}
}

func checkCapture(cfg config.CaptureConfig) Check {
	const name = "capture"
	switch strings.ToLower(cfg.Backend) {
	case "directory":
		info, err := os.Stat(cfg.Path)
		if err != nil {
			return Check{Name: name, Pass: false, Message: fmt.Sprintf("capture.path: %v", err)}
		}
		if !info.IsDir() {
			return Check{Name: name, Pass: false, Message: fmt.Sprintf("capture.path %q is not a directory", cfg.Path)}
		}
		return Check{Name: name, Pass: true, Message: fmt.Sprintf("watching %s", cfg.Path)}
	case "static":
		if _, err := capture.OpenStatic(cfg.Path); err != nil {
			return Check{Name: name, Pass: false, Message: err.Error()}
		}
		return Check{Name: name, Pass: true, Message: fmt.Sprintf("static image %s", cfg.Path)}
	case "snapshot":
		if strings.TrimSpace(cfg.URL) == "" {
			return Check{Name: name, Pass: false, Message: "capture.url is empty"}
		}
		return Check{Name: name, Pass: true, Message: fmt.Sprintf("snapshot from %s", cfg.URL)}
	case "camera":
		if !capture.CameraSupported {
			return Check{Name: name, Pass: false, Message: "binary built without camera support (gocv build tag)"}
		}
		return Check{Name: name, Pass: true, Message: fmt.Sprintf("camera device %d", cfg.Device)}
	case "none":
		return Check{Name: name, Pass: true, Message: "disabled; frames must be submitted over HTTP"}
	default:
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("unknown backend %q", cfg.Backend)}
	}
}

func checkDetector(ctx context.Context, cfg config.DetectorConfig) Check {
	const name = "detector"
	switch strings.ToLower(cfg.Backend) {
	case "grpc":
		return checkDetectorReady(ctx, cfg)
	case "gemini":
		if strings.TrimSpace(cfg.APIKey) == "" {
			return Check{Name: name, Pass: false, Message: "gemini backend needs detector.api_key or GEMINI_API_KEY"}
		}
		return Check{Name: name, Pass: true, Message: fmt.Sprintf("gemini model %s", cfg.Model)}
	case "simulated":
		return Check{Name: name, Pass: true, Message: "simulated detections (demo only)"}
	case "none":
		return Check{Name: name, Pass: true, Message: "disabled; descriptions fall back to brightness"}
	default:
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("unknown backend %q", cfg.Backend)}
	}
}

// checkDetectorReady waits for the configured detector gRPC endpoint.
func checkDetectorReady(ctx context.Context, cfg config.DetectorConfig) Check {
	const name = "detector.ready"
	client, err := detect.NewGRPC(detect.GRPCConfig{
		Endpoint:    cfg.Endpoint,
		DialTimeout: config.Milliseconds(cfg.DialTimeoutMS),
	})
	if err != nil {
		return Check{Name: name, Pass: false, Message: err.Error()}
	}
	defer client.Close()

	if err := client.Ready(ctx); err != nil {
		return Check{Name: name, Pass: false, Message: err.Error()}
	}
	return Check{Name: name, Pass: true, Message: fmt.Sprintf("ready at %s", cfg.Endpoint)}
}

func checkSpeech(cfg config.SpeechConfig) []Check {
	if cfg.Muted {
		return []Check{{Name: "speech", Pass: true, Message: "muted; utterances are text only"}}
	}
	if len(cfg.Backends) == 0 {
		return []Check{{Name: "speech", Pass: false, Message: "no speech backends configured"}}
	}

	checks := make([]Check, 0, len(cfg.Backends))
	for _, backend := range cfg.Backends {
		switch strings.ToLower(backend) {
		case "openai":
			if strings.TrimSpace(cfg.OpenAI.APIKey) == "" {
				checks = append(checks, Check{Name: "speech.openai", Pass: false, Message: "needs speech.openai.api_key or OPENAI_API_KEY"})
				continue
			}
			checks = append(checks, Check{Name: "speech.openai", Pass: true, Message: fmt.Sprintf("%s voice %s", cfg.OpenAI.Model, cfg.OpenAI.Voice)})
		case "command":
			checks = append(checks, checkCommand(cfg.Command.Argv, "speech.command"))
		default:
			checks = append(checks, Check{Name: "speech", Pass: false, Message: fmt.Sprintf("unknown backend %q", backend)})
		}
	}
	return checks
}

// checkAudioSelection runs live sink selection to surface selection/fallback issues.
func checkAudioSelection(ctx context.Context, cfg config.SpeechConfig) Check {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	selection, err := selectSink(ctx, cfg.Sink, "default")
	if err != nil {
		return Check{Name: "audio.sink", Pass: false, Message: err.Error()}
	}
	message := fmt.Sprintf("selected %q", selection.Device.ID)
	if selection.Warning != "" {
		message = message + " (" + selection.Warning + ")"
	}
	return Check{Name: "audio.sink", Pass: true, Message: message}
}

// checkStore verifies the session store directory is writable.
func checkStore(cfg config.StoreConfig) Check {
	const name = "store"
	if cfg.InMemory {
		return Check{Name: name, Pass: true, Message: "in-memory; sessions are lost on exit"}
	}
	dir, err := config.ResolveStoreDir(cfg)
	if err != nil {
		return Check{Name: name, Pass: false, Message: err.Error()}
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("create %s: %v", dir, err)}
	}
	probe, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("%s is not writable: %v", dir, err)}
	}
	_ = probe.Close()
	_ = os.Remove(filepath.Clean(probe.Name()))
	return Check{Name: name, Pass: true, Message: fmt.Sprintf("writable at %s", dir)}
}

package config

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	return Config{
		Loop: LoopConfig{
			SessionID:         "local",
			PollIntervalMS:    1000,
			MaxPollIntervalMS: 8000,
			DwellMS:           4000,
			Threshold:         0.5,
		},
		Capture: CaptureConfig{
			Backend:   "directory",
			TimeoutMS: 2000,
		},
		Detector: DetectorConfig{
			Backend:       "grpc",
			Endpoint:      "127.0.0.1:50061",
			DialTimeoutMS: 3000,
			TimeoutMS:     8000,
			Model:         "gemini-2.0-flash",
		},
		Speech: SpeechConfig{
			Backends:          []string{"openai"},
			Sink:              "default",
			SampleRate:        24000,
			TimeoutMS:         15000,
			CommandSampleRate: 22050,
			OpenAI: OpenAIConfig{
				Model: "tts-1",
				Voice: "alloy",
				Speed: 1.0,
			},
		},
		Store: StoreConfig{},
		Server: ServerConfig{
			Addr:          "127.0.0.1:8787",
			MaxBodyBytes:  16 << 20,
			ReadTimeoutMS: 10000,
		},
		Indicator: IndicatorConfig{
			Enable:         true,
			DesktopAppName: "glimpse",
			SoundEnable:    true,
		},
		Log: LogConfig{Level: "info"},
	}
}

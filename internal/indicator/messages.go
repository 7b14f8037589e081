package indicator

import (
	"os"
	"strings"

	"github.com/rbright/glimpse/internal/fsm"
)

type locale string

const (
	localeEnglish locale = "en"
)

type messages struct {
	started             string
	stopped             string
	captureUnavailable  string
	detectorUnavailable string
	synthesisFailed     string
}

func indicatorMessagesFromEnv() messages {
	return indicatorMessages(resolveLocale(os.Getenv("LANG")))
}

func resolveLocale(raw string) locale {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if strings.HasPrefix(raw, "en") {
		return localeEnglish
	}
	return localeEnglish
}

func indicatorMessages(tag locale) messages {
	switch tag {
	case localeEnglish:
		fallthrough
	default:
		return messages{
			started:             "Describing your surroundings",
			stopped:             "Stopped describing",
			captureUnavailable:  "Camera unavailable",
			detectorUnavailable: "Scene analysis unavailable",
			synthesisFailed:     "Speech output unavailable",
		}
	}
}

// describe maps a notify command to its cue and notification body.
func (m messages) describe(status fsm.Status, text string) (cueKind, string) {
	switch status {
	case fsm.StatusCaptureUnavailable:
		return cueAlert, withDetail(m.captureUnavailable, text)
	case fsm.StatusDetectorUnavailable:
		return cueAlert, withDetail(m.detectorUnavailable, text)
	case fsm.StatusSynthesisFailed:
		return cueAlert, withDetail(m.synthesisFailed, text)
	}
	switch text {
	case "started":
		return cueStart, m.started
	case "stopped":
		return cueStop, m.stopped
	default:
		return cueNone, text
	}
}

func withDetail(message, detail string) string {
	detail = strings.TrimSpace(detail)
	if detail == "" {
		return message
	}
	return message + ": " + detail
}

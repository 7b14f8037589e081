// Package ipc carries single-owner control requests over a unix socket as
// newline-delimited JSON.
package ipc

type Request struct {
	Command string `json:"command"`
}

// Response reports the loop after a command. State is the loop mode and
// Status its persistent health.
type Response struct {
	OK        bool   `json:"ok"`
	State     string `json:"state,omitempty"`
	Status    string `json:"status,omitempty"`
	Utterance string `json:"utterance,omitempty"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
}

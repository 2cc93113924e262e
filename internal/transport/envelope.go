package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// envelope is the notification wrapper around the inbound SMS event. The
// interesting payload sits JSON-encoded inside Message.
type envelope struct {
	Message string `json:"Message"`
}

// Inbound is one decoded SMS: who sent it, which number it hit, and the text.
type Inbound struct {
	Body        string `json:"messageBody"`
	Origination string `json:"originationNumber"`
	Destination string `json:"destinationNumber"`
}

// DecodeEnvelope unwraps a queue body into an Inbound. Bodies arrive either
// as the envelope object directly or as a JSON string carrying it, depending
// on the delivery path; both are accepted.
func DecodeEnvelope(body string) (*Inbound, error) {
	raw := []byte(body)
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		raw = []byte(s)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if strings.TrimSpace(env.Message) == "" {
		return nil, errors.New("envelope has no Message")
	}
	var in Inbound
	if err := json.Unmarshal([]byte(env.Message), &in); err != nil {
		return nil, fmt.Errorf("decode inner message: %w", err)
	}
	if strings.TrimSpace(in.Origination) == "" {
		return nil, errors.New("message has no origination number")
	}
	return &in, nil
}

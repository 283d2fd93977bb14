// Package remote lets a browser page act as a player. The page hosts the
// HTML5, Vimeo or YouTube player, connects over a WebSocket, and exchanges
// the JSON messages defined here.
package remote

import (
	"encoding/json"

	"audiodesc/internal/domain/cue"
	"audiodesc/internal/narration/session"
)

// Message types sent by the page.
const (
	TypeHello  = "hello"
	TypeState  = "state"
	TypeCue    = "cue"
	TypeToggle = "toggle"
	TypePing   = "ping"
)

// Message types sent to the page.
const (
	TypeControl = "control"
	TypeVolume  = "volume"
	TypeSource  = "source"
	TypeStatus  = "status"
	TypePong    = "pong"
	TypeError   = "error"
)

// Message is the envelope of every frame in both directions.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Hello is the first frame of a connection. Cues arrive already parsed from
// the page's description track.
type Hello struct {
	ID         string             `json:"id"`
	Kind       string             `json:"kind"`
	Cues       []cue.Cue          `json:"cues"`
	Attributes session.Attributes `json:"attributes"`
	State      *State             `json:"state,omitempty"`
}

// State is a playback report. Volume is nil when the player cannot read it.
type State struct {
	Time   float64  `json:"time"`
	Paused bool     `json:"paused"`
	Volume *float64 `json:"volume,omitempty"`
	// Ready is false while the player SDK is still loading.
	Ready bool `json:"ready"`
}

type ControlPayload struct {
	Action string `json:"action"`
}

type VolumePayload struct {
	Volume float64 `json:"volume"`
}

type SourcePayload struct {
	Source string  `json:"source"`
	At     float64 `json:"at"`
	Paused bool    `json:"paused"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func encode(msgType string, payload interface{}) (Message, error) {
	if payload == nil {
		return Message{Type: msgType}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: msgType, Payload: raw}, nil
}

package types

import "github.com/ethanchen143/LoopBop-sub001/internal/engine"

// ClientMessage is what a websocket client may send. The sender is the
// connection's viewer, never a field of the message.
type ClientMessage struct {
	Type        string   `json:"type"` // "Submit" | "SetReady" | "Start" | "StartRound"
	RoundNumber int      `json:"roundNumber,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Ready       bool     `json:"ready,omitempty"`
}

type ServerMessage struct {
	Type        string          `json:"type"` // "StateSnapshot" | "Error"
	Version     int             `json:"version,omitempty"`
	State       *engine.State   `json:"state,omitempty"`
	Leaderboard []engine.Player `json:"leaderboard,omitempty"`
	Error       string          `json:"error,omitempty"`
}

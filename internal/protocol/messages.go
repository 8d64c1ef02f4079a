package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	Name            string            `json:"name"`
	Capabilities    HelloCapabilities `json:"capabilities,omitempty"`
}

type HelloCapabilities struct {
	MaxQueue int `json:"max_queue,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	SessionID       string      `json:"session_id"`
	ParticipantID   string      `json:"participant_id"`
	Name            string      `json:"name"`
	World           WorldParams `json:"world"`
	Lives           int         `json:"lives"`
	Mode            string      `json:"mode"`
	Commands        []string    `json:"commands,omitempty"`
}

type WorldParams struct {
	Name        string `json:"name"`
	Seed        int64  `json:"seed"`
	SpawnRange  int    `json:"spawn_range"`
	DeathLimit  int    `json:"death_limit"`
	RevivalSecs int64  `json:"revival_seconds"`
	NextResetMs int64  `json:"next_reset_ms"`
}

// Event kinds carried by EVENT.
const (
	EventChat     = "chat"
	EventDirect   = "direct"
	EventTeleport = "teleport"
	EventMode     = "mode"
	EventRespawn  = "respawn"
)

// EVENT (server -> client)
type EventMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	Kind            string     `json:"kind"`
	Text            string     `json:"text,omitempty"`
	World           string     `json:"world,omitempty"`
	Pos             [3]float64 `json:"pos,omitempty"`
	Mode            string     `json:"mode,omitempty"`
}

// ACT actions.
const (
	ActDie     = "die"
	ActCommand = "command"
	ActRespawn = "respawn"
)

// ACT (client -> server)
type ActMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ID              string `json:"id,omitempty"`
	Action          string `json:"action"`
	Line            string `json:"line,omitempty"`
}

// ERROR (server -> client), answering a rejected ACT.
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	AckFor          string `json:"ack_for,omitempty"`
	Code            string `json:"code"`
	Message         string `json:"message,omitempty"`
}

func NewEvent(kind, text string) EventMsg {
	return EventMsg{Type: TypeEvent, ProtocolVersion: Version, Kind: kind, Text: text}
}

func NewError(ackFor, code, msg string) ErrorMsg {
	return ErrorMsg{Type: TypeError, ProtocolVersion: Version, AckFor: ackFor, Code: code, Message: msg}
}

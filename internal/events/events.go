package events

import "time"

type Kind string

const (
	KindJoin      Kind = "JOIN"
	KindDeath     Kind = "DEATH"
	KindLock      Kind = "LOCK"
	KindRelease   Kind = "RELEASE"
	KindAdjust    Kind = "ADJUST"
	KindPlacement Kind = "PLACEMENT"
	KindFallback  Kind = "FALLBACK"
	KindReset     Kind = "RESET"
)

// Event is one lifecycle fact, written to the audit log and the index.
type Event struct {
	Time        time.Time `json:"time"`
	Kind        Kind      `json:"kind"`
	Participant string    `json:"participant,omitempty"`
	Name        string    `json:"name,omitempty"`
	Lives       int       `json:"lives"`
	Reason      string    `json:"reason,omitempty"`
	Pos         [3]int    `json:"pos,omitempty"`
	Attempts    int       `json:"attempts,omitempty"`
	Detail      string    `json:"detail,omitempty"`
}

type Sink interface {
	WriteEvent(e Event) error
}

type Multi []Sink

func (m Multi) WriteEvent(e Event) error {
	var first error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.WriteEvent(e); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type Discard struct{}

func (Discard) WriteEvent(Event) error { return nil }

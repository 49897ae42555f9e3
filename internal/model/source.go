package model

import "fmt"

// Source identifies the write path that authored a value entry. It is a closed
// set; write paths and the resolver switch exhaustively rather than comparing
// strings at use sites.
type Source string

const (
	SourceAutomatic      Source = "automatic"
	SourceSystem         Source = "system"
	SourceAI             Source = "ai"
	SourceUser           Source = "user"
	SourceManualOverride Source = "manual_override"
	SourceAIRejected     Source = "ai_rejected"
	SourceUserRejected   Source = "user_rejected"
)

// ParseSource validates a stored source tag.
func ParseSource(s string) (Source, error) {
	switch src := Source(s); src {
	case SourceAutomatic, SourceSystem, SourceAI, SourceUser,
		SourceManualOverride, SourceAIRejected, SourceUserRejected:
		return src, nil
	default:
		return "", fmt.Errorf("unknown source %q", s)
	}
}

// Rejected reports whether the source is a terminal rejected variant.
func (s Source) Rejected() bool {
	return s == SourceAIRejected || s == SourceUserRejected
}

// RejectedVariant returns the terminal rejected form of the source. Only ai and
// user rows can be rejected; other sources return false.
func (s Source) RejectedVariant() (Source, bool) {
	switch s {
	case SourceAI:
		return SourceAIRejected, true
	case SourceUser:
		return SourceUserRejected, true
	default:
		return "", false
	}
}

// Gated reports whether a write from this source can require human approval.
// Automatic, system, and manual_override rows are authoritative as written.
func (s Source) Gated() bool {
	return s == SourceAI || s == SourceUser
}

// sourcePrecedence orders sources for canonical resolution when approvals tie
// on recency. Higher value wins. Kept as a single table so precedence changes
// happen in one place.
var sourcePrecedence = map[Source]int{
	SourceManualOverride: 5,
	SourceUser:           4,
	SourceAutomatic:      3,
	SourceSystem:         2,
	SourceAI:             1,
}

// Precedence returns the resolution rank of the source. Rejected variants rank
// zero; they never participate in resolution.
func (s Source) Precedence() int {
	return sourcePrecedence[s]
}

// Producer identifies the actor type that authored a value.
type Producer string

const (
	ProducerAI     Producer = "ai"
	ProducerUser   Producer = "user"
	ProducerSystem Producer = "system"
)

// ParseProducer validates a stored producer tag.
func ParseProducer(s string) (Producer, error) {
	switch p := Producer(s); p {
	case ProducerAI, ProducerUser, ProducerSystem:
		return p, nil
	default:
		return "", fmt.Errorf("unknown producer %q", s)
	}
}

// PopulationMode declares how a field's value is normally produced.
type PopulationMode string

const (
	ModeManual    PopulationMode = "manual"
	ModeAutomatic PopulationMode = "automatic"
	ModeAI        PopulationMode = "ai"
	ModeSystem    PopulationMode = "system"
	ModeHybrid    PopulationMode = "hybrid"
)

// ParsePopulationMode validates a configured population mode.
func ParsePopulationMode(s string) (PopulationMode, error) {
	switch m := PopulationMode(s); m {
	case ModeManual, ModeAutomatic, ModeAI, ModeSystem, ModeHybrid:
		return m, nil
	default:
		return "", fmt.Errorf("unknown population mode %q", s)
	}
}

// Authoritative reports whether values in this mode are canonical the moment
// they exist, without any approval gate.
func (m PopulationMode) Authoritative() bool {
	return m == ModeAutomatic || m == ModeSystem
}

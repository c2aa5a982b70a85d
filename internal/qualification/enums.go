package qualification

import (
	"github.com/wolfman30/leadqual/internal/apperrors"
)

// Status is the qualification outcome derived from the score.
type Status string

const (
	StatusInitial      Status = "initial"
	StatusQualifying   Status = "qualifying"
	StatusQualified    Status = "qualified"
	StatusNotQualified Status = "not_qualified"
	StatusCompleted    Status = "completed"
)

// ParseStatus validates s against the known statuses.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusInitial, StatusQualifying, StatusQualified, StatusNotQualified, StatusCompleted:
		return st, nil
	}
	return "", &apperrors.ValidationError{Field: "qualification_status", Value: s, Reason: "unknown status"}
}

func (s Status) String() string { return string(s) }

// UnmarshalText rejects unknown statuses so corrupt records fail loudly.
func (s *Status) UnmarshalText(b []byte) error {
	parsed, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Stage is the dialogue phase. Stages only move forward.
type Stage string

const (
	StageGreeting      Stage = "greeting"
	StageDiscovery     Stage = "discovery"
	StageQualification Stage = "qualification"
	StagePresentation  Stage = "presentation"
	StageClosing       Stage = "closing"
	StageCompleted     Stage = "completed"
)

var stageOrder = map[Stage]int{
	StageGreeting:      0,
	StageDiscovery:     1,
	StageQualification: 2,
	StagePresentation:  3,
	StageClosing:       4,
	StageCompleted:     5,
}

// ParseStage validates s against the known stages.
func ParseStage(s string) (Stage, error) {
	st := Stage(s)
	if _, ok := stageOrder[st]; ok {
		return st, nil
	}
	return "", &apperrors.ValidationError{Field: "conversation_stage", Value: s, Reason: "unknown stage"}
}

func (s Stage) String() string { return string(s) }

// Rank orders stages from greeting (0) to completed (5).
func (s Stage) Rank() int {
	if r, ok := stageOrder[s]; ok {
		return r
	}
	return -1
}

// Before reports whether s comes earlier in the dialogue than other.
func (s Stage) Before(other Stage) bool {
	return s.Rank() < other.Rank()
}

// UnmarshalText rejects unknown stages.
func (s *Stage) UnmarshalText(b []byte) error {
	parsed, err := ParseStage(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// engagement weight per stage
func (s Stage) weight() float64 {
	switch s {
	case StageGreeting:
		return 1
	case StageDiscovery:
		return 2
	case StageQualification:
		return 3
	case StagePresentation:
		return 4
	case StageClosing, StageCompleted:
		return 5
	}
	return 1
}

// Channel is an outbound messaging channel.
type Channel string

const (
	ChannelSMS      Channel = "SMS"
	ChannelEmail    Channel = "Email"
	ChannelWhatsApp Channel = "WhatsApp"
)

// ParseChannel accepts channel names case-insensitively and defaults to SMS.
func ParseChannel(s string) (Channel, error) {
	switch {
	case s == "":
		return ChannelSMS, nil
	case equalFold(s, "sms"):
		return ChannelSMS, nil
	case equalFold(s, "email"):
		return ChannelEmail, nil
	case equalFold(s, "whatsapp"):
		return ChannelWhatsApp, nil
	}
	return "", &apperrors.ValidationError{Field: "channel", Value: s, Reason: "unsupported channel"}
}

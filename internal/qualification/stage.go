package qualification

// Flags are the dialogue outcomes that move a presentation to closing.
type Flags struct {
	FollowUpScheduled bool
	NeedsHumanHandoff bool
}

// AdvanceStage applies at most one transition. It never returns a stage
// earlier than current, even if the score has since dropped.
func AdvanceStage(current Stage, b BusinessInfo, q QualificationData, f Flags) Stage {
	switch current {
	case StageGreeting:
		if len(b.PainPoints) > 0 {
			return StageDiscovery
		}
	case StageDiscovery:
		if q.Score >= 3 {
			return StageQualification
		}
	case StageQualification:
		switch q.Status {
		case StatusQualified:
			return StagePresentation
		case StatusNotQualified:
			return StageCompleted
		}
	case StagePresentation:
		if f.FollowUpScheduled || f.NeedsHumanHandoff {
			return StageClosing
		}
	case StageClosing:
		return StageCompleted
	}
	return current
}

// ResolveStage advances until no rule fires. Entering closing ends the pass
// so the closing turn is delivered before the thread completes.
func ResolveStage(current Stage, b BusinessInfo, q QualificationData, f Flags) Stage {
	stage := current
	for {
		next := AdvanceStage(stage, b, q, f)
		if next == stage || next.Before(stage) {
			return stage
		}
		stage = next
		if stage == StageClosing {
			return stage
		}
	}
}

// Advance recomputes the stage for the state in place and reports whether it moved.
func (s *ConversationState) Advance() bool {
	next := ResolveStage(s.Stage, s.Business, s.Qualification, s.Flags())
	if next == s.Stage {
		return false
	}
	s.Stage = next
	return true
}

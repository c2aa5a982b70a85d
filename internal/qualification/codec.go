package qualification

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/wolfman30/leadqual/internal/apperrors"
)

// Encode serializes the state as the stored JSON blob.
func Encode(s *ConversationState) ([]byte, error) {
	if s == nil {
		return nil, errors.New("qualification: nil state")
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("qualification: encode state: %w", err)
	}
	return data, nil
}

// Decode parses a stored blob. Unknown or missing enum values are rejected
// with a *apperrors.ValidationError.
func Decode(data []byte) (*ConversationState, error) {
	var s ConversationState
	if err := json.Unmarshal(data, &s); err != nil {
		var vErr *apperrors.ValidationError
		if errors.As(err, &vErr) {
			return nil, vErr
		}
		return nil, fmt.Errorf("qualification: decode state: %w", err)
	}
	if s.ThreadID == "" {
		return nil, &apperrors.ValidationError{Field: "thread_id", Reason: "missing"}
	}
	if s.Stage == "" {
		return nil, &apperrors.ValidationError{Field: "conversation_stage", Reason: "missing"}
	}
	if s.Qualification.Status == "" {
		return nil, &apperrors.ValidationError{Field: "qualification_status", Reason: "missing"}
	}
	return &s, nil
}

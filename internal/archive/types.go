package archive

import (
	"encoding/json"
	"time"

	"github.com/wolfman30/leadqual/internal/qualification"
)

// recordVersion is bumped when Record changes shape.
const recordVersion = "1.0"

// Record is the object written to S3 for one reaped thread. State holds the
// thread exactly as the state store serialized it.
type Record struct {
	Version             string               `json:"version"`
	ThreadID            string               `json:"thread_id"`
	ContactID           string               `json:"contact_id"`
	ArchivedAt          time.Time            `json:"archived_at"`
	LastActivity        time.Time            `json:"last_activity"`
	QualificationStatus qualification.Status `json:"qualification_status"`
	ConversationStage   qualification.Stage  `json:"conversation_stage"`
	QualificationScore  int                  `json:"qualification_score"`
	MessageCount        int                  `json:"message_count"`
	State               json.RawMessage      `json:"state"`
}

// ManifestEntry is one JSONL line in the monthly manifest file.
type ManifestEntry struct {
	ThreadID            string               `json:"thread_id"`
	S3Key               string               `json:"s3_key"`
	QualificationStatus qualification.Status `json:"qualification_status"`
	QualificationScore  int                  `json:"qualification_score"`
	ArchivedAt          string               `json:"archived_at"`
	MessageCount        int                  `json:"message_count"`
}

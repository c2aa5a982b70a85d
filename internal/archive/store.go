// Package archive copies conversation states to S3 before the reaper
// deletes them.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/leadqual/internal/apperrors"
	"github.com/wolfman30/leadqual/internal/qualification"
	"github.com/wolfman30/leadqual/pkg/logging"
)

// S3API is the subset of the S3 client used by Store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Store archives conversation states to S3.
type Store struct {
	bucket   string
	s3Client S3API
	logger   *logging.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// NewStore creates an archive Store. If bucket is empty, all operations are no-ops.
func NewStore(s3Client S3API, bucket string, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{
		bucket:   strings.TrimSpace(bucket),
		s3Client: s3Client,
		logger:   logger,
		tracer:   otel.Tracer("leadqual.internal.archive"),
		now:      time.Now,
	}
}

// Enabled returns true if archival is configured (bucket is set).
func (s *Store) Enabled() bool {
	return s != nil && s.bucket != "" && s.s3Client != nil
}

// ObjectKey is where a thread archived at t is stored.
func ObjectKey(threadID string, t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("conversation-states/%d/%02d/%02d/%s.json", t.Year(), t.Month(), t.Day(), threadID)
}

func manifestKey(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("conversation-states/manifests/%d-%02d.jsonl", t.Year(), t.Month())
}

// Archive writes state to S3 and appends it to the monthly manifest. A
// manifest failure is logged; the state object is what matters.
func (s *Store) Archive(ctx context.Context, state *qualification.ConversationState) error {
	if !s.Enabled() {
		return nil
	}
	if state == nil || state.ThreadID == "" {
		return errors.New("archive: state with thread id required")
	}

	ctx, span := s.tracer.Start(ctx, "archive.put")
	defer span.End()

	encoded, err := qualification.Encode(state)
	if err != nil {
		return fmt.Errorf("archive: encode state: %w", err)
	}
	now := s.now().UTC()
	record := Record{
		Version:             recordVersion,
		ThreadID:            state.ThreadID,
		ContactID:           state.Customer.ContactID,
		ArchivedAt:          now,
		LastActivity:        state.LastActivity,
		QualificationStatus: state.Qualification.Status,
		ConversationStage:   state.Stage,
		QualificationScore:  state.Qualification.Score,
		MessageCount:        state.Metrics.MessageCount,
		State:               encoded,
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("archive: marshal record: %w", err)
	}

	key := ObjectKey(state.ThreadID, now)
	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		span.RecordError(err)
		return &apperrors.ExternalServiceError{Service: "s3", Op: "put_object", Err: err}
	}

	s.logger.WithThread(state.ThreadID).Info("archived conversation state",
		"object", key,
		"qualification_status", record.QualificationStatus,
		"message_count", record.MessageCount,
	)

	entry := ManifestEntry{
		ThreadID:            state.ThreadID,
		S3Key:               key,
		QualificationStatus: record.QualificationStatus,
		QualificationScore:  record.QualificationScore,
		ArchivedAt:          now.Format(time.RFC3339),
		MessageCount:        record.MessageCount,
	}
	if err := s.AppendManifest(ctx, entry); err != nil {
		s.logger.WithThread(state.ThreadID).Warn("failed to append manifest", "error", err)
	}
	return nil
}

// AppendManifest appends a JSONL line to the monthly manifest file.
// S3 has no append, so this is a read-modify-write.
func (s *Store) AppendManifest(ctx context.Context, entry ManifestEntry) error {
	if !s.Enabled() {
		return nil
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("archive: marshal manifest entry: %w", err)
	}

	key := manifestKey(s.now())
	var existing []byte
	getResp, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	switch {
	case err == nil:
		existing, err = io.ReadAll(getResp.Body)
		_ = getResp.Body.Close()
		if err != nil {
			return fmt.Errorf("archive: read manifest: %w", err)
		}
	case isNotFound(err):
		s.logger.Debug("manifest not found, creating new", "object", key)
	default:
		return fmt.Errorf("archive: get manifest: %w", err)
	}

	var buf bytes.Buffer
	if len(existing) > 0 {
		buf.Write(existing)
		if existing[len(existing)-1] != '\n' {
			buf.WriteByte('\n')
		}
	}
	buf.Write(line)
	buf.WriteByte('\n')

	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("archive: s3 put manifest: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "NoSuchKey") || strings.Contains(msg, "StatusCode: 404")
}

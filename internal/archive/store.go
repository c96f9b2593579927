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

	"github.com/wolfman30/safeguard/internal/incidents"
	"github.com/wolfman30/safeguard/pkg/logging"
)

// S3API is the subset of the S3 client used by Store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Store exports incidents discarded by emergency cleanup to S3.
type Store struct {
	bucket   string
	s3Client S3API
	logger   *logging.Logger
	now      func() time.Time
}

var _ incidents.Archiver = (*Store)(nil)

// NewStore creates an archive Store. If bucket is empty, all operations are no-ops.
func NewStore(s3Client S3API, bucket string, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{
		bucket:   bucket,
		s3Client: s3Client,
		logger:   logger.Component("archive"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Enabled returns true if archival is configured (bucket is set).
func (s *Store) Enabled() bool {
	return s != nil && s.bucket != "" && s.s3Client != nil
}

// Batch is the object written for one cleanup pass.
type Batch struct {
	Reason     string               `json:"reason"`
	ArchivedAt time.Time            `json:"archivedAt"`
	Incidents  []incidents.Incident `json:"incidents"`
}

// ArchiveIncidents writes the batch as one JSON object and appends a line to
// the monthly manifest. Contact details in content are scrubbed first.
func (s *Store) ArchiveIncidents(ctx context.Context, reason string, batch []incidents.Incident) error {
	if !s.Enabled() || len(batch) == 0 {
		return nil
	}
	now := s.now()

	scrubbed := make([]incidents.Incident, len(batch))
	copy(scrubbed, batch)
	for i := range scrubbed {
		scrubbed[i].Content = ScrubPII(scrubbed[i].Content)
	}

	data, err := json.Marshal(Batch{Reason: reason, ArchivedAt: now, Incidents: scrubbed})
	if err != nil {
		return fmt.Errorf("archive: marshal batch: %w", err)
	}

	key := fmt.Sprintf("incidents/v1/by-date/%d/%02d/%02d/%s-%d.json",
		now.Year(), now.Month(), now.Day(), reason, now.UnixNano())

	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("archive: s3 put %s: %w", key, err)
	}

	s.logger.Info("archived discarded incidents", "s3_key", key, "count", len(batch), "reason", reason)

	entry := ManifestEntry{
		S3Key:         key,
		Reason:        reason,
		IncidentCount: len(batch),
		MaxLevel:      maxLevel(batch),
		ArchivedAt:    now.Format(time.RFC3339),
	}
	if err := s.AppendManifest(ctx, entry); err != nil {
		// The batch itself is already archived.
		s.logger.Warn("failed to append manifest", "error", err, "s3_key", key)
	}
	return nil
}

// ManifestEntry is one JSONL line of the monthly manifest.
type ManifestEntry struct {
	S3Key         string `json:"s3_key"`
	Reason        string `json:"reason"`
	IncidentCount int    `json:"incident_count"`
	MaxLevel      int    `json:"max_level"`
	ArchivedAt    string `json:"archived_at"`
}

// AppendManifest appends a JSONL line to the monthly manifest file.
// Uses read-modify-write since S3 doesn't support append.
func (s *Store) AppendManifest(ctx context.Context, entry ManifestEntry) error {
	if !s.Enabled() {
		return nil
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("archive: marshal manifest entry: %w", err)
	}

	now := s.now()
	manifestKey := fmt.Sprintf("incidents/v1/manifests/%d-%02d.jsonl", now.Year(), now.Month())

	var existing []byte
	getResp, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(manifestKey),
	})
	if err != nil {
		if !isNotFoundErr(err) {
			return fmt.Errorf("archive: s3 get manifest: %w", err)
		}
		s.logger.Debug("manifest not found, creating new", "key", manifestKey)
	} else {
		existing, _ = io.ReadAll(getResp.Body)
		getResp.Body.Close()
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
		Key:         aws.String(manifestKey),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("archive: s3 put manifest: %w", err)
	}
	return nil
}

func maxLevel(batch []incidents.Incident) int {
	level := 0
	for _, inc := range batch {
		level = max(level, inc.Level)
	}
	return level
}

func isNotFoundErr(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "NoSuchKey") || strings.Contains(msg, "404") || strings.Contains(msg, "not found")
}

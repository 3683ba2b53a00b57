package audit

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/url"
	"strconv"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrNothingToArchive is returned when the requested range holds no entries.
var ErrNothingToArchive = errors.New("no audit entries in range")

// ObjectUploader is the part of *minio.Client the archiver needs.
type ObjectUploader interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// EntrySource loads one organization's stored entries for a time range,
// oldest first.
type EntrySource interface {
	Range(ctx context.Context, organizationID string, from, to time.Time) ([]Entry, error)
}

// ArchiveResult describes an uploaded archive object.
type ArchiveResult struct {
	OrganizationID string    `json:"organization_id"`
	Bucket         string    `json:"bucket"`
	ObjectKey      string    `json:"object_key"`
	SHA256         string    `json:"sha256"`
	EntryCount     int       `json:"entry_count"`
	Size           int64     `json:"size"`
	From           time.Time `json:"from"`
	To             time.Time `json:"to"`
}

// MinIOOptions mirrors the object storage settings read from config.
type MinIOOptions struct {
	ServerURL string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

// ConnectMinIO creates a client and makes sure the archive bucket exists.
func ConnectMinIO(ctx context.Context, opts MinIOOptions) (*minio.Client, error) {
	parsedURL, err := url.Parse(opts.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid MinIO endpoint: %w", err)
	}
	endpoint := parsedURL.Host
	if endpoint == "" {
		endpoint = opts.ServerURL
	}

	log.Printf("🔗 Connecting to MinIO: %s (SSL: %v)", endpoint, opts.UseSSL)

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
		log.Printf("✅ MinIO bucket '%s' created successfully", opts.Bucket)
	}

	return client, nil
}

// Archiver exports stored audit entries to object storage as
// newline-delimited JSON. The SHA-256 of the object body is kept in the
// object metadata so later tampering can be detected.
type Archiver struct {
	uploader ObjectUploader
	source   EntrySource
	bucket   string
}

// NewArchiver creates an Archiver writing to bucket.
func NewArchiver(uploader ObjectUploader, source EntrySource, bucket string) *Archiver {
	return &Archiver{uploader: uploader, source: source, bucket: bucket}
}

// Archive uploads every entry of organizationID with a timestamp in
// [from, to). Each organization gets its own object prefix.
func (a *Archiver) Archive(ctx context.Context, organizationID string, from, to time.Time) (ArchiveResult, error) {
	if organizationID == "" {
		return ArchiveResult{}, errors.New("organization id is required")
	}
	if !from.Before(to) {
		return ArchiveResult{}, fmt.Errorf("invalid archive range: %s is not before %s", from, to)
	}

	entries, err := a.source.Range(ctx, organizationID, from, to)
	if err != nil {
		return ArchiveResult{}, fmt.Errorf("failed to load audit entries: %w", err)
	}
	if len(entries) == 0 {
		return ArchiveResult{}, ErrNothingToArchive
	}

	body, err := EncodeNDJSON(entries)
	if err != nil {
		return ArchiveResult{}, err
	}

	sum := sha256.Sum256(body)
	digest := hex.EncodeToString(sum[:])
	objectKey := archiveObjectKey(organizationID, from.UTC(), to.UTC())

	_, err = a.uploader.PutObject(ctx, a.bucket, objectKey, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "application/x-ndjson",
		UserMetadata: map[string]string{
			"sha256":          digest,
			"entry-count":     strconv.Itoa(len(entries)),
			"organization-id": organizationID,
		},
	})
	if err != nil {
		return ArchiveResult{}, fmt.Errorf("failed to upload audit archive: %w", err)
	}

	log.Printf("📦 Archived %d audit entries to %s/%s", len(entries), a.bucket, objectKey)

	return ArchiveResult{
		OrganizationID: organizationID,
		Bucket:         a.bucket,
		ObjectKey:      objectKey,
		SHA256:         digest,
		EntryCount:     len(entries),
		Size:           int64(len(body)),
		From:           from,
		To:             to,
	}, nil
}

// EncodeNDJSON writes one JSON document per line.
func EncodeNDJSON(entries []Entry) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	for _, entry := range entries {
		if err := encoder.Encode(entry); err != nil {
			return nil, fmt.Errorf("failed to encode audit entry %s: %w", entry.ID, err)
		}
	}
	return buf.Bytes(), nil
}

func archiveObjectKey(organizationID string, from, to time.Time) string {
	return fmt.Sprintf("audit/%s/%s/audit-%s-%s.ndjson",
		organizationID,
		from.Format("2006/01/02"),
		from.Format("20060102T150405Z"),
		to.Format("20060102T150405Z"),
	)
}

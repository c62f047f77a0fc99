package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/nOOne-is-hier/AgentFlow/pkg/api"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

type (
	// Store persists run artifacts and uploaded source files in a blob
	// bucket. Artifacts carry a JSON sidecar with display metadata so the
	// download surface can restore a human-readable filename
	Store struct {
		bucket *blob.Bucket
	}

	// Meta is the sidecar record written next to each artifact
	Meta struct {
		DisplayName string    `json:"display_name"`
		ContentType string    `json:"content_type"`
		RunID       api.RunID `json:"runId,omitempty"`
		Size        int64     `json:"size"`
	}
)

const (
	artifactPrefix = "artifacts/"
	uploadPrefix   = "uploads/"
	metaSuffix     = ".meta.json"

	// XLSXContentType is the MIME type for exported spreadsheets
	XLSXContentType = "application/vnd.openxmlformats-officedocument" +
		".spreadsheetml.sheet"
)

var (
	ErrArtifactNotFound = errors.New("artifact not found")
	ErrUploadNotFound   = errors.New("upload not found")
)

// OpenStore opens the bucket at the given gocloud URL. The caller owns the
// returned Store and must Close it
func OpenStore(ctx context.Context, bucketURL string) (*Store, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", bucketURL, err)
	}
	return NewStore(bucket), nil
}

func NewStore(bucket *blob.Bucket) *Store {
	return &Store{
		bucket: bucket,
	}
}

func (s *Store) Close() error {
	return s.bucket.Close()
}

// IDForRun derives the deterministic artifact id for a run
func IDForRun(runID api.RunID) api.ArtifactID {
	r := string(runID)
	if len(r) > 8 {
		r = r[:8]
	}
	return api.ArtifactID("art-" + r)
}

// SaveArtifact writes the artifact bytes and their sidecar metadata
func (s *Store) SaveArtifact(
	ctx context.Context, id api.ArtifactID, runID api.RunID,
	data []byte, displayName, contentType string,
) error {
	key := artifactPrefix + string(id)
	if err := s.bucket.WriteAll(ctx, key, data, &blob.WriterOptions{
		ContentType: contentType,
	}); err != nil {
		return fmt.Errorf("write artifact %s: %w", id, err)
	}
	meta := Meta{
		DisplayName: displayName,
		ContentType: contentType,
		RunID:       runID,
		Size:        int64(len(data)),
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	if err := s.bucket.WriteAll(ctx, key+metaSuffix, raw, nil); err != nil {
		return fmt.Errorf("write artifact meta %s: %w", id, err)
	}
	return nil
}

// LoadArtifact reads the artifact bytes and sidecar. A missing sidecar is
// tolerated; the artifact id doubles as display name in that case
func (s *Store) LoadArtifact(
	ctx context.Context, id api.ArtifactID,
) ([]byte, Meta, error) {
	key := artifactPrefix + string(id)
	data, err := s.bucket.ReadAll(ctx, key)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, Meta{}, fmt.Errorf("%w: %s", ErrArtifactNotFound, id)
		}
		return nil, Meta{}, err
	}
	meta := Meta{
		DisplayName: string(id) + ".xlsx",
		ContentType: XLSXContentType,
		Size:        int64(len(data)),
	}
	if raw, err := s.bucket.ReadAll(ctx, key+metaSuffix); err == nil {
		_ = json.Unmarshal(raw, &meta)
	}
	return data, meta, nil
}

// FindByRun scans for an artifact whose id carries the run's prefix.
// Returns false when no artifact was produced for the run
func (s *Store) FindByRun(
	ctx context.Context, runID api.RunID,
) (api.ArtifactID, bool, error) {
	want := artifactPrefix + string(IDForRun(runID))
	it := s.bucket.List(&blob.ListOptions{Prefix: want})
	for {
		obj, err := it.Next(ctx)
		if err == io.EOF {
			return "", false, nil
		}
		if err != nil {
			return "", false, err
		}
		if strings.HasSuffix(obj.Key, metaSuffix) {
			continue
		}
		return api.ArtifactID(strings.TrimPrefix(obj.Key, artifactPrefix)),
			true, nil
	}
}

// SaveObject stores derived run data, such as merged tables, under an
// arbitrary bucket key
func (s *Store) SaveObject(
	ctx context.Context, key string, data []byte, contentType string,
) error {
	if err := s.bucket.WriteAll(ctx, key, data, &blob.WriterOptions{
		ContentType: contentType,
	}); err != nil {
		return fmt.Errorf("write object %s: %w", key, err)
	}
	return nil
}

func (s *Store) LoadObject(
	ctx context.Context, key string,
) ([]byte, error) {
	return s.bucket.ReadAll(ctx, key)
}

// SaveUpload stores an uploaded source file under its assigned file id
func (s *Store) SaveUpload(
	ctx context.Context, fileID string, data []byte, contentType string,
) error {
	key := uploadPrefix + fileID
	if err := s.bucket.WriteAll(ctx, key, data, &blob.WriterOptions{
		ContentType: contentType,
	}); err != nil {
		return fmt.Errorf("write upload %s: %w", fileID, err)
	}
	return nil
}

// LoadUpload reads back an uploaded source file
func (s *Store) LoadUpload(
	ctx context.Context, fileID string,
) ([]byte, error) {
	data, err := s.bucket.ReadAll(ctx, uploadPrefix+fileID)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, fmt.Errorf("%w: %s", ErrUploadNotFound, fileID)
		}
		return nil, err
	}
	return data, nil
}

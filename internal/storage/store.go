// Package storage publishes star-schema snapshots (parquet files plus a
// manifest) to object storage.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"github.com/withObsrvr/sparkify-dwh/internal/source"
)

const (
	manifestFile = "_manifest.json"
	tempDir      = "_tmp"
)

// ErrSnapshotExists is returned when a run already has a published manifest.
var ErrSnapshotExists = errors.New("snapshot already exists")

// SnapshotRef describes one table file within a run's snapshot.
type SnapshotRef struct {
	RunID string
	Table string
}

// Path returns the storage path for this table's parquet file.
func (r SnapshotRef) Path(prefix string) string {
	return fmt.Sprintf("%s%s/%s.parquet", prefix, r.RunID, r.Table)
}

// TempPath returns the staging path used before Finalize.
func (r SnapshotRef) TempPath(prefix string) string {
	return fmt.Sprintf("%s%s/%s/%s.parquet", prefix, tempDir, r.RunID, r.Table)
}

// ManifestPath returns the storage path for a run's manifest.
func ManifestPath(prefix, runID string) string {
	return fmt.Sprintf("%s%s/%s", prefix, runID, manifestFile)
}

// Manifest describes the contents of a snapshot directory.
type Manifest struct {
	Snapshot  SnapshotInfo         `json:"snapshot"`
	Tables    map[string]TableInfo `json:"tables"`
	Producer  ProducerInfo         `json:"producer"`
	CreatedAt time.Time            `json:"created_at"`
}

// SnapshotInfo identifies the ETL run the snapshot was taken from.
type SnapshotInfo struct {
	RunID         string `json:"run_id"`
	Dialect       string `json:"dialect"`
	SchemaVersion string `json:"schema_version"`
}

// TableInfo describes a single table in the snapshot.
type TableInfo struct {
	File     string `json:"file"`
	Checksum string `json:"checksum"`
	RowCount int64  `json:"row_count"`
	ByteSize int64  `json:"byte_size"`
}

// ProducerInfo describes the software that produced the snapshot.
type ProducerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	GitSHA  string `json:"git_sha,omitempty"`
}

// MarshalJSON returns the manifest as JSON bytes.
func (m *Manifest) MarshalJSON() ([]byte, error) {
	type Alias Manifest
	return json.MarshalIndent((*Alias)(m), "", "  ")
}

// Store writes snapshots to a gocloud bucket. Table files are written under
// a temp prefix and moved into place by Finalize, so readers only ever see a
// run directory once every table is present.
type Store struct {
	bucket *blob.Bucket
	base   string
	prefix string
}

// Open opens the snapshot target, for example s3://bucket/snapshots,
// gs://bucket/snapshots or file:///var/lib/sparkify/snapshots.
func Open(ctx context.Context, target string, opts source.Options) (*Store, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("parse target %q: %w", target, err)
	}

	base := u.Scheme + "://" + u.Host
	if u.Scheme == "file" {
		dir := filepath.FromSlash(u.Path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create base directory %s: %w", dir, err)
		}
		base = "file://" + filepath.ToSlash(dir)
	}

	bucketURL, prefix, err := source.BucketURL(target, opts)
	if err != nil {
		return nil, err
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket for %s: %w", target, err)
	}

	return &Store{bucket: bucket, base: base, prefix: prefix}, nil
}

// Prefix returns the key prefix all snapshot paths are rooted at.
func (s *Store) Prefix() string { return s.prefix }

// WriteParquetTemp writes parquet bytes to the temp location for ref and
// returns the temp key to pass to Finalize or Abort.
func (s *Store) WriteParquetTemp(ctx context.Context, ref SnapshotRef, data []byte) (string, error) {
	key := ref.TempPath(s.prefix)
	opts := &blob.WriterOptions{ContentType: "application/vnd.apache.parquet"}
	if err := s.bucket.WriteAll(ctx, key, data, opts); err != nil {
		return "", fmt.Errorf("write %s: %w", key, err)
	}
	return key, nil
}

// Finalize moves every temp file into its canonical location. On failure the
// files already moved are removed again.
func (s *Store) Finalize(ctx context.Context, refs []SnapshotRef) error {
	var moved []string
	for _, ref := range refs {
		src, dst := ref.TempPath(s.prefix), ref.Path(s.prefix)
		if err := s.bucket.Copy(ctx, dst, src, nil); err != nil {
			_ = s.Abort(ctx, moved)
			return fmt.Errorf("copy %s to %s: %w", src, dst, err)
		}
		moved = append(moved, dst)
		if err := s.bucket.Delete(ctx, src); err != nil {
			return fmt.Errorf("delete temp %s: %w", src, err)
		}
	}
	return nil
}

// Abort removes the given keys. Missing keys are ignored.
func (s *Store) Abort(ctx context.Context, keys []string) error {
	var errs []error
	for _, key := range keys {
		if err := s.bucket.Delete(ctx, key); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
			errs = append(errs, fmt.Errorf("delete %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

// WriteManifest writes the manifest for a run. It is written last; its
// presence marks the snapshot as complete.
func (s *Store) WriteManifest(ctx context.Context, m *Manifest) error {
	data, err := m.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	key := ManifestPath(s.prefix, m.Snapshot.RunID)
	if err := s.bucket.WriteAll(ctx, key, data, &blob.WriterOptions{ContentType: "application/json"}); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// ReadManifest reads a published manifest.
func (s *Store) ReadManifest(ctx context.Context, runID string) (*Manifest, error) {
	key := ManifestPath(s.prefix, runID)
	data, err := s.bucket.ReadAll(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest %s: %w", key, err)
	}
	return &m, nil
}

// ReadParquet returns the published parquet bytes for ref.
func (s *Store) ReadParquet(ctx context.Context, ref SnapshotRef) ([]byte, error) {
	key := ref.Path(s.prefix)
	data, err := s.bucket.ReadAll(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// Exists reports whether a run's snapshot has been published.
func (s *Store) Exists(ctx context.Context, runID string) (bool, error) {
	ok, err := s.bucket.Exists(ctx, ManifestPath(s.prefix, runID))
	if err != nil {
		return false, fmt.Errorf("check manifest for %s: %w", runID, err)
	}
	return ok, nil
}

// URI returns the canonical URI for the given key.
// For local: file:///path, GCS: gs://bucket/path, S3: s3://bucket/path
func (s *Store) URI(key string) string {
	return s.base + "/" + key
}

// Close releases the bucket.
func (s *Store) Close() error {
	return s.bucket.Close()
}

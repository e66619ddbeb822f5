package unload

import (
	"errors"
	"strings"
	"testing"

	"github.com/withObsrvr/sparkify-dwh/internal/storage"
)

func validManifest() (*storage.Manifest, map[string]int64) {
	m := &storage.Manifest{Tables: map[string]storage.TableInfo{}}
	counts := map[string]int64{}
	for i, name := range []string{"users", "songs", "artists", "time", "songplays"} {
		m.Tables[name] = storage.TableInfo{
			File:     name + ".parquet",
			Checksum: "sha256:abc123def456",
			RowCount: int64(i + 1),
			ByteSize: 100,
		}
		counts[name] = int64(i + 1)
	}
	return m, counts
}

func TestValidateSnapshot_Valid(t *testing.T) {
	m, counts := validManifest()

	result := ValidateSnapshot(m, counts)

	if !result.Passed {
		t.Errorf("Valid snapshot should pass. Errors: %v", result.Errors)
	}
	if result.RowCount != 15 {
		t.Errorf("Expected 15 total rows, got %d", result.RowCount)
	}
	if result.ByteSize != 500 {
		t.Errorf("Expected 500 total bytes, got %d", result.ByteSize)
	}
	if result.Err() != nil {
		t.Errorf("Err should be nil, got %v", result.Err())
	}
}

func TestValidateSnapshot_MissingTable(t *testing.T) {
	m, counts := validManifest()
	delete(m.Tables, "time")

	result := ValidateSnapshot(m, counts)

	if result.Passed {
		t.Error("Snapshot without time table should fail validation")
	}
	if !errors.Is(result.Err(), ErrValidationFailed) {
		t.Errorf("Expected ErrValidationFailed, got %v", result.Err())
	}
	if !strings.Contains(result.Err().Error(), "missing table time") {
		t.Errorf("Unexpected error: %v", result.Err())
	}
}

func TestValidateSnapshot_EmptyParquet(t *testing.T) {
	m, counts := validManifest()
	info := m.Tables["songs"]
	info.ByteSize = 0 // Empty!
	m.Tables["songs"] = info

	result := ValidateSnapshot(m, counts)

	if result.Passed {
		t.Error("Empty parquet should fail validation")
	}
}

func TestValidateSnapshot_MissingChecksum(t *testing.T) {
	m, counts := validManifest()
	info := m.Tables["artists"]
	info.Checksum = ""
	m.Tables["artists"] = info

	result := ValidateSnapshot(m, counts)

	if result.Passed {
		t.Error("Missing checksum should fail validation")
	}
}

func TestValidateSnapshot_NonStandardChecksum(t *testing.T) {
	m, counts := validManifest()
	info := m.Tables["users"]
	info.Checksum = "md5:abc123" // Non-standard format
	m.Tables["users"] = info

	result := ValidateSnapshot(m, counts)

	if !result.Passed {
		t.Errorf("Non-standard checksum should only warn. Errors: %v", result.Errors)
	}
	if len(result.Warnings) != 1 {
		t.Errorf("Expected 1 warning, got %v", result.Warnings)
	}
}

func TestValidateSnapshot_RowCountMismatch(t *testing.T) {
	m, counts := validManifest()
	counts["songplays"] = 99

	result := ValidateSnapshot(m, counts)

	if result.Passed {
		t.Error("Row count mismatch should fail validation")
	}
}

func TestValidateSnapshot_MissingWarehouseCount(t *testing.T) {
	m, counts := validManifest()
	delete(counts, "songs")

	result := ValidateSnapshot(m, counts)

	if !result.Passed {
		t.Errorf("Missing warehouse count should only warn. Errors: %v", result.Errors)
	}
	if len(result.Warnings) != 1 {
		t.Errorf("Expected 1 warning, got %v", result.Warnings)
	}
}

func TestValidateSnapshot_NilManifest(t *testing.T) {
	result := ValidateSnapshot(nil, nil)
	if result.Passed {
		t.Error("Nil manifest should fail validation")
	}
}

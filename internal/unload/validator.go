package unload

import (
	"errors"
	"fmt"
	"strings"

	"github.com/withObsrvr/sparkify-dwh/internal/queries"
	"github.com/withObsrvr/sparkify-dwh/internal/storage"
)

// ErrValidationFailed is returned when a snapshot fails its pre-publish checks.
var ErrValidationFailed = errors.New("snapshot validation failed")

// ValidationResult contains the outcome of snapshot validation.
type ValidationResult struct {
	Passed   bool
	Errors   []string
	Warnings []string
	RowCount int64
	ByteSize int64
}

// Err returns nil when the snapshot passed, otherwise ErrValidationFailed
// carrying every error message.
func (r ValidationResult) Err() error {
	if r.Passed {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrValidationFailed, strings.Join(r.Errors, "; "))
}

// ValidateSnapshot performs quality checks on a snapshot before it is published.
// This validates:
// - Every star table is present
// - Checksum presence and format
// - Parquet integrity (non-empty output)
// - Exported row counts match the warehouse
func ValidateSnapshot(m *storage.Manifest, warehouseRows map[string]int64) ValidationResult {
	result := ValidationResult{
		Passed: true,
	}
	fail := func(format string, args ...any) {
		result.Errors = append(result.Errors, fmt.Sprintf(format, args...))
		result.Passed = false
	}

	if m == nil {
		fail("no manifest provided")
		return result
	}

	for _, t := range queries.StarSchema {
		info, ok := m.Tables[t.Name]
		if !ok {
			fail("missing table %s", t.Name)
			continue
		}

		if info.Checksum == "" {
			fail("missing checksum for table %s", t.Name)
		} else if !strings.HasPrefix(info.Checksum, "sha256:") {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("checksum for %s may be in non-standard format: %s",
					t.Name, info.Checksum[:min(20, len(info.Checksum))]))
		}

		if info.ByteSize == 0 {
			fail("empty parquet data for table %s", t.Name)
		}
		result.ByteSize += info.ByteSize

		if want, ok := warehouseRows[t.Name]; !ok {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("missing warehouse row count for table %s", t.Name))
		} else if want != info.RowCount {
			fail("row count mismatch for %s: exported %d, warehouse has %d", t.Name, info.RowCount, want)
		}
		result.RowCount += info.RowCount
	}

	return result
}

package archive

import (
	"fmt"

	"github.com/stratadb/strata/internal/compression"
	strataerrors "github.com/stratadb/strata/internal/errors"
)

// DefaultRowGroupSize is the number of rows per row group unless configured.
const DefaultRowGroupSize = 50000

// ProbeMode selects how column physical types are chosen.
type ProbeMode string

const (
	// ProbeFirstGroup chooses types from the values of the first row group.
	ProbeFirstGroup ProbeMode = "first_group"

	// ProbeFull chooses types from the storage classes of the whole column.
	ProbeFull ProbeMode = "full"
)

// ParseProbeMode parses a probe mode name. The empty string is ProbeFirstGroup.
func ParseProbeMode(s string) (ProbeMode, error) {
	switch ProbeMode(s) {
	case "", ProbeFirstGroup:
		return ProbeFirstGroup, nil
	case ProbeFull:
		return ProbeFull, nil
	}
	return "", fmt.Errorf("unknown type probe %q", s)
}

// Options configures an Archiver.
type Options struct {
	RowGroupSize int
	Codec        compression.Codec
	Level        compression.Level
	Dictionary   bool
	Bloom        bool
	BloomFPR     float64
	Probe        ProbeMode

	// Tables restricts archival to the listed tables. Each table maps to its
	// column allow-list; an empty list keeps every column. A nil map archives
	// every table.
	Tables map[string][]string

	// FailFast stops ArchiveDatabase after the first failed table.
	FailFast bool
}

// DefaultOptions returns the default archival options.
func DefaultOptions() Options {
	return Options{
		RowGroupSize: DefaultRowGroupSize,
		Codec:        compression.Zstd,
		Level:        compression.Default,
		Dictionary:   true,
		Bloom:        true,
		BloomFPR:     0.01,
		Probe:        ProbeFirstGroup,
	}
}

// Validate checks the options.
func (o Options) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return strataerrors.NewValidationError(strataerrors.CodeInvalidConfig, fmt.Sprintf(format, args...))
	}
	if o.RowGroupSize <= 0 {
		return invalid("row group size must be positive, got %d", o.RowGroupSize)
	}
	if !o.Codec.Valid() {
		return invalid("unknown codec id %d", uint8(o.Codec))
	}
	if o.Bloom && (o.BloomFPR <= 0 || o.BloomFPR >= 1) {
		return invalid("bloom false positive rate must be in (0,1), got %g", o.BloomFPR)
	}
	if _, err := ParseProbeMode(string(o.Probe)); err != nil {
		return invalid("%v", err)
	}
	return nil
}

package vector

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrUnknownDataset     = errors.New("unknown dataset")
	ErrCollectionNotFound = errors.New("collection not found")
	ErrInvalidQuery       = errors.New("invalid query")
	ErrUnsupported        = errors.New("unsupported by vector backend")
)

// maxReportedMissing caps the ids listed by MissingIDsError.
const maxReportedMissing = 10

// MissingIDsError reports ids absent from a collection.
type MissingIDsError struct {
	Collection string
	IDs        []string
}

func (e *MissingIDsError) Error() string {
	shown := e.IDs
	suffix := ""
	if len(shown) > maxReportedMissing {
		shown = shown[:maxReportedMissing]
		suffix = " ..."
	}
	return fmt.Sprintf("some ids were not found in collection %q: [%s]%s", e.Collection, strings.Join(shown, ", "), suffix)
}

func unknownDatasetError(dataset string, known []string) error {
	return fmt.Errorf("%w: %s. expected one of: %s", ErrUnknownDataset, dataset, strings.Join(known, ", "))
}

// collectionNotFoundError reads as "milvus collection not found: orf_profiles (dataset=orf)".
func collectionNotFoundError(engine, name, dataset string) error {
	return fmt.Errorf("%s %w: %s (dataset=%s)", engine, ErrCollectionNotFound, name, dataset)
}

package graph

import (
	"fmt"

	"github.com/vhalberd/tracegraph/api/schemas"
)

// Small wrappers so every store surfaces the shared taxonomy consistently.

func invalidQueryf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", schemas.ErrInvalidQuery, fmt.Sprintf(format, args...))
}

func notFoundf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", schemas.ErrNotFound, fmt.Sprintf(format, args...))
}

func versionConflictf(id, expected, actual string) error {
	return fmt.Errorf("%w: node %s expected version %q, found %q",
		schemas.ErrVersionConflict, id, expected, actual)
}

func deleteVetoedf(id string) error {
	return fmt.Errorf("%w: node %s", schemas.ErrDeleteVetoed, id)
}

func unavailablef(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", schemas.ErrStoreUnavailable, op, err)
}

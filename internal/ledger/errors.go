package ledger

import (
	"errors"
	"fmt"
)

// CorruptRecordError reports a stored value that could not be parsed.
// Ancillary readers treat it as absent; the money-tracking path surfaces it.
type CorruptRecordError struct {
	Key   string
	Cause error
}

func (e *CorruptRecordError) Error() string {
	return fmt.Sprintf("corrupt record %s: %v", e.Key, e.Cause)
}

func (e *CorruptRecordError) Unwrap() error {
	return e.Cause
}

func isCorrupt(err error, target **CorruptRecordError) bool {
	return errors.As(err, target)
}

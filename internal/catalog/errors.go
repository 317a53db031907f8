package catalog

import (
	"errors"
	"fmt"
)

var (
	ErrRecordNotFound = errors.New("media record does not exist")
	ErrInvalidRecord  = errors.New("media record is invalid")
)

// CatalogError wraps any failure which originates from the catalogs backing
// store. The operation is included in the message, but the underlying cause
// (which may include driver details) is only available via Unwrap.
type CatalogError struct {
	Op  string
	Err error
}

func (e *CatalogError) Error() string {
	if errors.Is(e.Err, ErrInvalidRecord) {
		return fmt.Sprintf("catalog %s rejected record: %s", e.Op, e.Err)
	}

	return fmt.Sprintf("catalog %s failed", e.Op)
}

func (e *CatalogError) Unwrap() error { return e.Err }

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}

	return &CatalogError{Op: op, Err: err}
}

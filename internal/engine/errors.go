package engine

import (
	"fmt"

	"github.com/quantmind-br/pahkat/internal/core"
)

// PackageError is a failure attributable to one package
type PackageError struct {
	Key core.PackageKey
	Op  string
	Err error
}

func (e *PackageError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Key.ID, e.Err)
}

func (e *PackageError) Unwrap() error {
	return e.Err
}

// PackageKey implements transaction.PackageFailure
func (e *PackageError) PackageKey() core.PackageKey {
	return e.Key
}

func packageErr(key core.PackageKey, op string, err error) error {
	return &PackageError{Key: key, Op: op, Err: err}
}

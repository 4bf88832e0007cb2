package transfer

import (
	"errors"
	"fmt"
)

var (
	// ErrCancelled is delivered when a transfer is cancelled before it finishes.
	ErrCancelled = errors.New("cancelled")
	// ErrInvalidURL is delivered when the target URL cannot be used.
	ErrInvalidURL = errors.New("invalid url")
	// ErrFileNotFound is delivered when an upload source file does not exist.
	ErrFileNotFound = errors.New("file not found")
	// ErrCannotMoveFile is delivered when a finished download could not be
	// moved into the file cache.
	ErrCannotMoveFile = errors.New("cannot move file")
	// ErrAlreadyExists is reserved for duplicate registrations of
	// non-coalescing transfers.
	ErrAlreadyExists = errors.New("already exists")
	// ErrOther wraps any failure reported by the transport.
	ErrOther = errors.New("transfer failed")
)

var kinds = []error{
	ErrAlreadyExists,
	ErrOther,
	ErrCancelled,
	ErrFileNotFound,
	ErrInvalidURL,
	ErrCannotMoveFile,
}

// Error carries one of the sentinel kinds above together with the
// transfer key and the underlying cause, if any.
type Error struct {
	Kind error
	Key  string
	Err  error
}

// NewError builds an *Error of the given kind.
func NewError(kind error, key string, cause error) *Error {
	return &Error{Kind: kind, Key: key, Err: cause}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v: %s", e.Kind, e.Key)
	}
	return fmt.Sprintf("%v: %s: %v", e.Kind, e.Key, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Failure classifies err as a transport failure for key. Errors that
// already belong to the taxonomy are returned untouched.
func Failure(key string, err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range kinds {
		if errors.Is(err, kind) {
			return err
		}
	}
	return NewError(ErrOther, key, err)
}

// Code maps err onto the stable numeric error codes. It returns 0 for
// nil and the code of ErrOther for errors outside the taxonomy.
func Code(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrAlreadyExists):
		return -10000
	case errors.Is(err, ErrCancelled):
		return -9998
	case errors.Is(err, ErrFileNotFound):
		return -9997
	case errors.Is(err, ErrInvalidURL):
		return -9996
	case errors.Is(err, ErrCannotMoveFile):
		return -9995
	default:
		return -9999
	}
}

package relationship

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidLink   = errors.New("invalid link")
	ErrDuplicateLink = errors.New("link already exists")
	ErrNotFound      = errors.New("link not found")
	ErrInvalidKind   = errors.New("invalid relationship")
	ErrUpstream      = errors.New("upstream failure")
)

// UpstreamError wraps a transport or storage failure from a collaborator.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func (e *UpstreamError) Is(target error) bool { return target == ErrUpstream }

// Upstream wraps err unless it is nil or already classified.
func Upstream(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUpstream) {
		return err
	}
	return &UpstreamError{Op: op, Err: err}
}

// classify passes domain errors through and marks everything else upstream.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrInvalidLink), errors.Is(err, ErrDuplicateLink),
		errors.Is(err, ErrNotFound), errors.Is(err, ErrInvalidKind):
		return err
	}
	return Upstream(op, err)
}

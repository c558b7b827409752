package core

import (
	"errors"
	"fmt"
)

// The worker distinguishes two failure classes. Permanent failures produce
// the same outcome on every redelivery, so the task is marked FAILED and the
// message is acked. Everything else is transient: the message is nacked and
// the broker redelivers it.

var ErrEmptyIndex = errors.New("embedding index has no entries")

type EncodingError struct {
	Err error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("failed to encode query: %v", e.Err)
}

func (e *EncodingError) Unwrap() error {
	return e.Err
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string {
	return e.err.Error()
}

func (e *permanentError) Unwrap() error {
	return e.err
}

func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

package engine

import (
	"errors"
	"fmt"

	"atelier/internal/repo"
)

type Kind string

const (
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindExternal   Kind = "external"
	KindValidation Kind = "validation"
)

// Error is a classified engine failure. Msg is safe to show to callers.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Kind != KindExternal {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind, so errors.Is(err, &Error{Kind: KindConflict}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && t.Msg == ""
}

func NotFound(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...any) error {
	return &Error{Kind: KindConflict, Msg: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

// External wraps a payment rail failure. Only msg is rendered.
func External(err error, format string, args ...any) error {
	return &Error{Kind: KindExternal, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf classifies err. Unclassified errors return the empty Kind.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, repo.ErrNotFound) {
		return KindNotFound
	}
	if errors.Is(err, repo.ErrDuplicate) {
		return KindConflict
	}
	return ""
}

// notFoundAs turns repo.ErrNotFound into a NotFound naming the entity.
func notFoundAs(err error, entity, id string) error {
	if errors.Is(err, repo.ErrNotFound) {
		return NotFound("%s %s not found", entity, id)
	}
	return err
}

// Package apperr defines the error kinds surfaced by the content store.
//
// Every failure carries a Kind with a stable code so that adapters (HTTP, MCP)
// can map it to a specific user-visible outcome. Callers compare against the
// exported sentinels with errors.Is:
//
//	if errors.Is(err, apperr.ErrNotFound) { ... }
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error. The string value is the stable code.
type Kind string

const (
	KindInvalidPath         Kind = "invalid_path"
	KindPathTraversal       Kind = "path_traversal"
	KindNotFound            Kind = "not_found"
	KindCorruptNode         Kind = "corrupt_node"
	KindConflict            Kind = "conflict"
	KindNotEmpty            Kind = "not_empty"
	KindDisallowedPlacement Kind = "disallowed_placement"
	KindCyclicMove          Kind = "cyclic_move"
	KindNameCollision       Kind = "name_collision"
	KindBusy                Kind = "busy"
	KindAttachmentTooLarge  Kind = "attachment_too_large"
	KindTooManyAttachments  Kind = "too_many_attachments"
	KindIOFailure           Kind = "io_failure"
	KindInvalidInput        Kind = "invalid_input"
)

// Code returns the stable code of the kind.
func (k Kind) Code() string { return string(k) }

// Error is a classified store error.
type Error struct {
	Kind Kind
	Op   string // operation, e.g. "save"
	Path string // logical node path, if any
	Msg  string
	Err  error // underlying cause
}

func (e *Error) Error() string {
	msg := e.Msg
	cause := e.Err
	if msg == "" {
		if cause != nil {
			msg, cause = cause.Error(), nil
		} else {
			msg = string(e.Kind)
		}
	}
	if e.Op != "" && e.Path != "" {
		msg = fmt.Sprintf("%s %q: %s", e.Op, e.Path, msg)
	} else if e.Op != "" {
		msg = e.Op + ": " + msg
	} else if e.Path != "" {
		msg = fmt.Sprintf("%q: %s", e.Path, msg)
	}
	if cause != nil {
		msg += ": " + cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.sentinel() && t.Kind == e.Kind
}

func (e *Error) sentinel() bool {
	return e.Op == "" && e.Path == "" && e.Msg == "" && e.Err == nil
}

// Sentinels, one per kind.
var (
	ErrInvalidPath         = &Error{Kind: KindInvalidPath}
	ErrPathTraversal       = &Error{Kind: KindPathTraversal}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrCorruptNode         = &Error{Kind: KindCorruptNode}
	ErrConflict            = &Error{Kind: KindConflict}
	ErrNotEmpty            = &Error{Kind: KindNotEmpty}
	ErrDisallowedPlacement = &Error{Kind: KindDisallowedPlacement}
	ErrCyclicMove          = &Error{Kind: KindCyclicMove}
	ErrNameCollision       = &Error{Kind: KindNameCollision}
	ErrBusy                = &Error{Kind: KindBusy}
	ErrAttachmentTooLarge  = &Error{Kind: KindAttachmentTooLarge}
	ErrTooManyAttachments  = &Error{Kind: KindTooManyAttachments}
	ErrIOFailure           = &Error{Kind: KindIOFailure}
	ErrInvalidInput        = &Error{Kind: KindInvalidInput}
)

// New returns an error of the given kind.
func New(kind Kind, path, format string, args ...any) error {
	return &Error{Kind: kind, Path: path, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind. A nil err yields nil.
func Wrap(kind Kind, path string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Path: path, Err: err}
}

// WithOp returns err annotated with the operation name. Errors that are not
// *Error are classified as io_failure. When the *Error sits deeper in the
// chain, err is wrapped rather than copied so that outer types (such as a
// taxonomy violation) stay reachable with errors.As.
func WithOp(op string, err error) error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		if e.Op != "" {
			return err
		}
		cp := *e
		cp.Op = op
		return &cp
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Op != "" {
			return err
		}
		return &Error{Kind: e.Kind, Op: op, Path: e.Path, Err: err}
	}
	return &Error{Kind: KindIOFailure, Op: op, Err: err}
}

// KindOf returns the kind of err, or io_failure for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindIOFailure
}

// Retryable reports whether retrying the whole operation may succeed.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindConflict, KindBusy:
		return true
	}
	return false
}

// Validation reports whether err was detected before any disk mutation and is
// safe to retry after correcting the input.
func Validation(err error) bool {
	switch KindOf(err) {
	case KindInvalidPath, KindPathTraversal, KindDisallowedPlacement,
		KindCyclicMove, KindNameCollision, KindInvalidInput:
		return true
	}
	return false
}

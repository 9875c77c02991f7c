package apperrors

import (
	"errors"
	"strings"
)

type appError struct {
	msg         string
	base        error
	wrapped     []error
	statuscode  int
	kind        Kind
	expandError bool
}

func (e *appError) Error() string {
	return e.msg
}

// ErrorAll returns the message followed by every wrapped error when expansion is on.
func (e *appError) ErrorAll() string {
	if !e.expandError {
		return e.Error()
	}
	var b strings.Builder
	b.WriteString(e.msg)
	for _, err := range e.wrapped {
		b.WriteString("; ")
		b.WriteString(err.Error())
	}
	return b.String()
}

func (e *appError) Unwrap() error {
	return e.base
}

func (e *appError) UnwrapAll() []error {
	return e.wrapped
}

func (e *appError) derive(msg string, errs []error) *appError {
	return &appError{
		msg:         msg,
		base:        e,
		wrapped:     append([]error{e}, errs...),
		statuscode:  e.statuscode,
		kind:        e.kind,
		expandError: e.expandError,
	}
}

func (e *appError) Msg(msg string) Error {
	return e.derive(msg, nil)
}

func (e *appError) New(msg string) Error {
	return &appError{
		msg:         msg,
		base:        e,
		statuscode:  e.statuscode,
		kind:        e.kind,
		expandError: e.expandError,
	}
}

func (e *appError) MsgErr(msg string, errs ...error) Error {
	return e.derive(msg, errs)
}

func (e *appError) Err(errs ...error) Error {
	return e.derive(e.msg, errs)
}

func (e *appError) SetExpandError(flag bool) Error {
	cp := *e
	cp.expandError = flag
	return &cp
}

func (e *appError) SetStatusCode(code int) Error {
	cp := *e
	cp.statuscode = code
	return &cp
}

func (e *appError) SetKind(k Kind) Error {
	cp := *e
	cp.kind = k
	return &cp
}

func (e *appError) StatusCode() int {
	return e.statuscode
}

func (e *appError) Kind() Kind {
	return e.kind
}

// Is matches the target against the base chain and every wrapped error.
func (e *appError) Is(target error) bool {
	if target == nil {
		return false
	}
	if t, ok := target.(*appError); ok && t == e {
		return true
	}
	if errors.Is(e.base, target) {
		return true
	}
	for _, err := range e.wrapped {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// New creates a root error.
func New(msg string) Error {
	return &appError{msg: msg}
}

// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package fault holds the transportable fault types exchanged between a GXO
// server and its clients.
//
// A server-side error is never sent as-is: its concrete type may not exist on
// the client. Flatten turns any error chain into a chain of RemoteFaults that
// only carry strings.
package fault

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/juju/errors"
)

const (
	// ValidationFailed is the cause of faults raised by call validators.
	ValidationFailed = errors.ConstError("call rejected")

	// Undefined is the cause of faults for unresolved services, methods
	// and instantiatables.
	Undefined = errors.ConstError("undefined")

	// Internal is the cause of faults for unexpected server failures.
	Internal = errors.ConstError("internal server error")
)

// MaxCauseDepth bounds the number of faults Flatten will produce for one
// chain. Self-referencing cause chains stop here.
const MaxCauseDepth = 32

// RemoteFault is a type-erased server-side failure.
type RemoteFault struct {
	Message string
	Cause   *RemoteFault
	Stack   []string
}

// Error implements error.
func (f *RemoteFault) Error() string {
	return f.Message
}

// Unwrap returns the cause of the fault, so errors.As and errors.Is can walk
// the chain on the client side.
func (f *RemoteFault) Unwrap() error {
	if f.Cause == nil {
		return nil
	}
	return f.Cause
}

// Chain returns the fault followed by its causes.
func (f *RemoteFault) Chain() []*RemoteFault {
	var chain []*RemoteFault
	for c := f; c != nil && len(chain) < MaxCauseDepth; c = c.Cause {
		chain = append(chain, c)
	}
	return chain
}

// New returns a RemoteFault with the given message and no cause.
func New(format string, args ...interface{}) *RemoteFault {
	return &RemoteFault{Message: fmt.Sprintf(format, args...)}
}

// Wrapf returns a fault with a formatted message whose cause is the
// flattened kind, one of the taxonomy constants above.
func Wrapf(kind error, format string, args ...interface{}) *RemoteFault {
	return &RemoteFault{
		Message: fmt.Sprintf(format, args...),
		Cause:   Flatten(kind),
	}
}

// SessionExpired is raised when a call carries a session id that is unknown
// or idle for too long. It travels to the client unchanged.
type SessionExpired struct {
	SessionID string
}

// Error implements error.
func (e *SessionExpired) Error() string {
	if e.SessionID == "" {
		return "session expired"
	}
	return fmt.Sprintf("session %q expired", e.SessionID)
}

// IsSessionExpired reports whether err is or wraps a SessionExpired.
func IsSessionExpired(err error) bool {
	var expired *SessionExpired
	return errors.As(err, &expired)
}

// messager is implemented by errors that keep their own message apart from
// their cause, like juju errors.
type messager interface {
	Message() string
}

type stackTracer interface {
	StackTrace() []string
}

// Flatten converts err and its causes into a RemoteFault chain. Each fault's
// message is "<type>: <message>".
func Flatten(err error) *RemoteFault {
	if err == nil {
		return nil
	}
	seen := make(map[error]bool)
	return flatten(err, seen, 0)
}

func flatten(err error, seen map[error]bool, depth int) *RemoteFault {
	if err == nil || depth >= MaxCauseDepth {
		return nil
	}
	if hashable(err) {
		if seen[err] {
			return nil
		}
		seen[err] = true
	}
	if rf, ok := err.(*RemoteFault); ok {
		// Already flat: keep the message, the cause may still need flattening
		// if it was built by hand.
		out := &RemoteFault{Message: rf.Message, Stack: rf.Stack}
		if rf.Cause != nil {
			out.Cause = flatten(rf.Cause, seen, depth+1)
		}
		return out
	}
	out := &RemoteFault{
		Message: TypeName(err) + ": " + ownMessage(err),
	}
	if st, ok := err.(stackTracer); ok {
		out.Stack = append([]string(nil), st.StackTrace()...)
	}
	out.Cause = flatten(errors.Unwrap(err), seen, depth+1)
	return out
}

// TypeName returns the Go type name of err, the analogue of an exception
// class name.
func TypeName(err error) string {
	return reflect.TypeOf(err).String()
}

func ownMessage(err error) string {
	if m, ok := err.(messager); ok && m.Message() != "" {
		return m.Message()
	}
	msg := err.Error()
	// Wrapping errors usually end with ": <cause>"; the cause gets its own
	// fault so drop it from this one.
	if cause := errors.Unwrap(err); cause != nil {
		msg = strings.TrimSuffix(msg, ": "+cause.Error())
	}
	return msg
}

func hashable(err error) bool {
	return reflect.TypeOf(err).Comparable()
}

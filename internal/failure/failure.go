// Package failure defines the error taxonomy shared by every pipeline step.
//
// Each step returns a plain Go error; when the step knows why it failed it
// wraps the cause in an *Error carrying a Kind and the name of the step. The
// orchestrator recovers the kind with KindOf and switches over it.
package failure

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure.
type Kind int

const (
	// Unknown is reported for errors that were not produced by a step.
	Unknown Kind = iota
	PermissionDenied
	NoImagePath
	ReadFailure
	NetworkFailure
	EmptyResponse
	InvalidBlob
	EncodingFailure
	WriteFailure
	InvalidLocator
)

var kindNames = map[Kind]string{
	Unknown:          "Unknown",
	PermissionDenied: "PermissionDenied",
	NoImagePath:      "NoImagePath",
	ReadFailure:      "ReadFailure",
	NetworkFailure:   "NetworkFailure",
	EmptyResponse:    "EmptyResponse",
	InvalidBlob:      "InvalidBlob",
	EncodingFailure:  "EncodingFailure",
	WriteFailure:     "WriteFailure",
	InvalidLocator:   "InvalidLocator",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// MarshalText lets kinds appear by name in JSON snapshots.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Kinds returns every kind a step can report, in declaration order.
func Kinds() []Kind {
	return []Kind{
		PermissionDenied, NoImagePath, ReadFailure,
		NetworkFailure, EmptyResponse,
		InvalidBlob, EncodingFailure,
		WriteFailure, InvalidLocator,
	}
}

// Error is a classified step failure.
type Error struct {
	Kind Kind
	Step string // step that produced the failure, e.g. "camera", "store"
	Err  error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Step, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Step, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind, so sentinel comparisons like
// errors.Is(err, failure.Sentinel(failure.WriteFailure)) work.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Step == "" && t.Err == nil && t.Kind == e.Kind
}

// New classifies err as kind, produced by step.
func New(kind Kind, step string, err error) *Error {
	return &Error{Kind: kind, Step: step, Err: err}
}

// Newf is New with a formatted cause.
func Newf(kind Kind, step, format string, args ...any) *Error {
	return &Error{Kind: kind, Step: step, Err: fmt.Errorf(format, args...)}
}

// Sentinel returns a comparable value for errors.Is checks against kind.
func Sentinel(kind Kind) error {
	return &Error{Kind: kind}
}

// KindOf returns the kind of the first *Error in err's chain, or Unknown.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Unknown
}

// StepOf returns the step recorded in err's chain, or "".
func StepOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Step
	}
	return ""
}

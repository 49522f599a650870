package harness

import (
	"errors"
	"fmt"
)

// FailureKind categorizes why a run did not pass.
type FailureKind string

const (
	// KindStartup: the simulator could not be spawned, or exited or timed
	// out before printing the readiness sentinel.
	KindStartup FailureKind = "STARTUP_FAILURE"

	// KindConnection: dialing, sending or receiving failed after readiness.
	KindConnection FailureKind = "CONNECTION_FAILURE"

	// KindIncomplete: the simulator hung up before the expected line count.
	KindIncomplete FailureKind = "INCOMPLETE_TRANSCRIPT"

	// KindMismatch: a full response was received but differs.
	KindMismatch FailureKind = "CONTENT_MISMATCH"
)

// Failure describes a run that did not pass.
type Failure struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
	Err     error       `json:"-"`
}

// Error implements the error interface.
func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Message, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Verdict maps the failure kind to a run verdict.
func (f *Failure) Verdict() Verdict {
	switch f.Kind {
	case KindIncomplete, KindMismatch:
		return VerdictFail
	default:
		return VerdictError
	}
}

func isKind(err error, kind FailureKind) bool {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind == kind
	}
	return false
}

// IsStartupFailure reports whether err is a STARTUP_FAILURE.
func IsStartupFailure(err error) bool { return isKind(err, KindStartup) }

// IsConnectionFailure reports whether err is a CONNECTION_FAILURE.
func IsConnectionFailure(err error) bool { return isKind(err, KindConnection) }

// IsIncompleteTranscript reports whether err is an INCOMPLETE_TRANSCRIPT.
func IsIncompleteTranscript(err error) bool { return isKind(err, KindIncomplete) }

// IsContentMismatch reports whether err is a CONTENT_MISMATCH.
func IsContentMismatch(err error) bool { return isKind(err, KindMismatch) }

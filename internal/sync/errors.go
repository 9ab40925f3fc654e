package sync

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/tildaslashalef/ewsync/internal/ews"
)

// StatusOK is stored on accounts and folders after a successful pass. It
// never collides with a failure reason.
const StatusOK = "OK"

// Failure reasons stored as account or folder status
const (
	ReasonNoFolders       = "no-folders-found-on-server"
	ReasonNoTargets       = "notargets"
	ReasonNoLightning     = "nolightning"
	ReasonNotSupported    = "notsupported"
	ReasonTimeout         = "timeout"
	ReasonAuthFailed      = "auth-failed"
	ReasonNotFound        = "not-found"
	ReasonServerError     = "server-error"
	ReasonPushRejected    = "push-rejected"
	ReasonResyncRequested = "resync-requested"
	ReasonDisabled        = "disabled"
	ReasonAborted         = "aborted"
	ReasonNoEndpoint      = "no-endpoint"
	ReasonUnexpected      = "unexpected-error"
)

// FailureClass groups protocol failures by how the engine reacts to them
type FailureClass string

const (
	ClassTransient FailureClass = "transient"
	ClassTimeout   FailureClass = "timeout"
	ClassAuth      FailureClass = "auth"
	ClassNotFound  FailureClass = "notfound"
	ClassResync    FailureClass = "resync"
	ClassPermanent FailureClass = "permanent"
)

// ProtocolFailure is a recognized failure. Inside a folder sync it fails
// only that folder; during account setup it fails the account pass.
type ProtocolFailure struct {
	Reason string
	Class  FailureClass
	Err    error
}

// Failed returns a permanent protocol failure with the given reason
func Failed(reason string) *ProtocolFailure {
	return &ProtocolFailure{Reason: reason, Class: ClassPermanent}
}

func (f *ProtocolFailure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %v", f.Reason, f.Err)
	}
	return f.Reason
}

func (f *ProtocolFailure) Unwrap() error {
	return f.Err
}

// Retryable reports whether the engine reruns after this failure
func (f *ProtocolFailure) Retryable() bool {
	switch f.Class {
	case ClassTransient, ClassTimeout, ClassResync:
		return true
	default:
		return false
	}
}

// UnexpectedFailure is any error outside the protocol taxonomy. It always
// aborts the rest of the pass.
type UnexpectedFailure struct {
	Err error
}

func (f *UnexpectedFailure) Error() string {
	return fmt.Sprintf("%s: %v", ReasonUnexpected, f.Err)
}

func (f *UnexpectedFailure) Unwrap() error {
	return f.Err
}

// Classify maps err to a protocol failure, or returns nil when err is
// unexpected
func Classify(err error) *ProtocolFailure {
	if err == nil {
		return nil
	}

	var pf *ProtocolFailure
	if errors.As(err, &pf) {
		return pf
	}

	if errors.Is(err, context.Canceled) {
		return &ProtocolFailure{Reason: ReasonAborted, Class: ClassPermanent, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ProtocolFailure{Reason: ReasonTimeout, Class: ClassTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ProtocolFailure{Reason: ReasonTimeout, Class: ClassTimeout, Err: err}
	}

	var ewsErr *ews.Error
	if !errors.As(err, &ewsErr) {
		return nil
	}
	switch {
	case ewsErr.Code == ews.CodeInvalidSyncStateData:
		return &ProtocolFailure{Reason: ReasonResyncRequested, Class: ClassResync, Err: err}
	case ewsErr.Code == ews.CodeNoEndpoint || ewsErr.Code == ews.CodeAutodiscoverFailed:
		return &ProtocolFailure{Reason: ReasonNoEndpoint, Class: ClassPermanent, Err: err}
	case ewsErr.Unauthorized():
		return &ProtocolFailure{Reason: ReasonAuthFailed, Class: ClassAuth, Err: err}
	case ewsErr.NotFound():
		return &ProtocolFailure{Reason: ReasonNotFound, Class: ClassNotFound, Err: err}
	case ewsErr.Code == ews.CodeTimeoutExpired:
		return &ProtocolFailure{Reason: ReasonTimeout, Class: ClassTimeout, Err: err}
	case ewsErr.Temporary():
		return &ProtocolFailure{Reason: ReasonServerError, Class: ClassTransient, Err: err}
	default:
		return &ProtocolFailure{Reason: ReasonServerError, Class: ClassPermanent, Err: err}
	}
}

// reason returns the status string recorded for err
func reason(err error) string {
	if pf := Classify(err); pf != nil {
		return pf.Reason
	}
	return ReasonUnexpected
}

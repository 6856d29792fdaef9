// Package agenterr provides the closed error taxonomy shared by every
// AgentGate component (spec.md §7). Errors preserve a cause chain so
// errors.Is/As continue to work across retries and across the executor's
// phase boundaries, following the same shape as the teacher's
// runtime/agent/toolerrors.ToolError.
package agenterr

import (
	"errors"
	"fmt"
)

// Kind is a closed taxonomy tag. Every Error carries exactly one Kind.
type Kind string

const (
	KindSystem           Kind = "SYSTEM_ERROR"
	KindGitHub           Kind = "GITHUB_ERROR"
	KindNetwork          Kind = "NETWORK_ERROR"
	KindAgentTimeout     Kind = "AGENT_TIMEOUT"
	KindAgentCrash       Kind = "AGENT_CRASH"
	KindWorkspace        Kind = "WORKSPACE_ERROR"
	KindBuildFailed      Kind = "BUILD_FAILED"
	KindTypecheckFailed  Kind = "TYPECHECK_FAILED"
	KindTestFailed       Kind = "TEST_FAILED"
	KindVerification     Kind = "VERIFICATION_FAILED"
	KindPolicyViolation  Kind = "POLICY_VIOLATION"
	KindIllegalTransition Kind = "ILLEGAL_TRANSITION"
	KindBackpressure     Kind = "BACKPRESSURE"
	KindCancelled        Kind = "CANCELLED"
)

// retryableKinds are the kinds the Retry Policy Engine (package retry) may
// retry on its own, independent of any caller-supplied policy override.
var retryableKinds = map[Kind]bool{
	KindSystem:       true,
	KindGitHub:       true,
	KindNetwork:      true,
	KindAgentTimeout: true,
}

// Retryable reports whether errors of this kind are, in general, worth
// retrying. The Retry Policy Engine still consults its own configured
// retryableErrors set (spec.md §4.4); this is the default classification
// used when a caller does not override it.
func (k Kind) Retryable() bool { return retryableKinds[k] }

// Error is a structured failure carrying a Kind, a human-readable message,
// and an optional cause chain. It implements error, Unwrap, and therefore
// composes with errors.Is/As.
type Error struct {
	Kind    Kind
	Message string
	Cause   *Error
}

// New constructs an Error of the given kind with the provided message.
func New(kind Kind, message string) *Error {
	if message == "" {
		message = string(kind)
	}
	return &Error{Kind: kind, Message: message}
}

// Newf formats according to a format specifier and returns the result as an Error.
func Newf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with a Kind and message, converting the cause
// into an Error chain so Kind metadata survives across retries.
func Wrap(kind Kind, message string, cause error) *Error {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return &Error{Kind: kind, Message: message, Cause: FromError(cause)}
}

// FromError converts an arbitrary error into an Error chain, preserving any
// existing Kind via errors.As. Errors with no Kind information are tagged
// KindSystem, since an unclassified failure is conservatively treated as a
// system error for retry purposes.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindSystem, Message: err.Error(), Cause: FromError(errors.Unwrap(err))}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// Unwrap returns the underlying cause to support errors.Is/As.
func (e *Error) Unwrap() error {
	if e == nil || e.Cause == nil {
		return nil
	}
	return e.Cause
}

// RetryHint carries structured retry guidance a domain-specific error can
// surface to the Retry Policy Engine and to loop strategies, without the
// caller having to parse error strings.
type RetryHint struct {
	Reason       string
	DelayMs      int64
	MissingInfo  []string
}

// RetryHintProvider can be implemented by a concrete Verifier/AgentDriver/
// CIMonitor error to surface a RetryHint. Mirrors the teacher's
// planner.RetryHintProvider.
type RetryHintProvider interface {
	RetryHint() *RetryHint
}

// Package errors provides coded errors shared by the session, mailbox and
// notification packages.
package errors

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// CodeNotFound marks an absent session, group, participant or record.
	CodeNotFound Code = "NOT_FOUND"
	// CodeInvalidArgument marks input rejected before any remote call.
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	// CodeRemoteUnavailable marks a timed out or failed object store call.
	CodeRemoteUnavailable Code = "REMOTE_UNAVAILABLE"
	// CodeWriteConflict marks a conditional write that lost a race.
	CodeWriteConflict Code = "WRITE_CONFLICT"

	// Session lifecycle errors
	CodeNoActiveSession      Code = "NO_ACTIVE_SESSION"
	CodeSessionAlreadyActive Code = "SESSION_ALREADY_ACTIVE"
	CodeDreamActive          Code = "DREAM_ACTIVE"
)

// Exit codes used by command-line front ends.
const (
	ExitOK           = 0
	ExitFailure      = 1
	ExitInvalidUsage = 2
)

// ExitCode maps a code to the process exit status a CLI reports for it.
func (c Code) ExitCode() int {
	switch c {
	case CodeInvalidArgument:
		return ExitInvalidUsage
	default:
		return ExitFailure
	}
}

package socket

import "errors"

var (
	// ErrUpdateRejected is returned when a participant without write access
	// submits content. The update is dropped and the sender stays connected.
	ErrUpdateRejected = errors.New("update rejected: read-only access")

	// ErrPersistenceFault wraps store failures. Autosave retries on the next
	// debounce cycle; manual saves report it to the requester.
	ErrPersistenceFault = errors.New("persistence fault")

	// ErrTransportFault wraps abnormal socket closures. Cleanup is the same as a
	// graceful leave.
	ErrTransportFault = errors.New("transport fault")

	ErrSessionClosed      = errors.New("session closed")
	ErrUnknownParticipant = errors.New("unknown participant")
)

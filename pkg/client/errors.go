package client

import "fmt"

// ProgrammingError reports an illegal use of the connection or cursor API:
// a transition the transaction state machine forbids, or an operation on a
// resource that cannot accept it. It is always raised locally, before
// anything is sent to the server. Server rejections are different: they come
// back verbatim from the session layer (with pgx, as *pgconn.PgError) and
// are never wrapped or retried here.
type ProgrammingError struct {
	Reason string
}

// Error returns the failure reason.
func (e *ProgrammingError) Error() string {
	return e.Reason
}

func programmingErrorf(format string, args ...any) error {
	return &ProgrammingError{Reason: fmt.Sprintf(format, args...)}
}

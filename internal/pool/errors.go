package pool

import "fmt"

// errSpawn signals a worker that could not be started or handshaken.
type errSpawn struct {
	model string
	cause error
}

func (e errSpawn) Error() string { return fmt.Sprintf("spawn failed: %s: %v", e.model, e.cause) }
func (e errSpawn) Unwrap() error { return e.cause }

// IsSpawnFailure reports whether err indicates a failed worker spawn.
func IsSpawnFailure(err error) bool {
	_, ok := err.(errSpawn)
	return ok
}

// errProtocol signals a malformed worker output frame.
type errProtocol struct {
	model string
	cause error
}

func (e errProtocol) Error() string {
	return fmt.Sprintf("protocol violation: %s: %v", e.model, e.cause)
}
func (e errProtocol) Unwrap() error { return e.cause }

// IsProtocolViolation reports whether err indicates a malformed worker frame.
func IsProtocolViolation(err error) bool {
	_, ok := err.(errProtocol)
	return ok
}

// errCrashed signals a worker that died mid-stream.
type errCrashed struct {
	model string
	cause error
}

func (e errCrashed) Error() string { return fmt.Sprintf("worker crashed: %s: %v", e.model, e.cause) }
func (e errCrashed) Unwrap() error { return e.cause }

// IsWorkerCrashed reports whether err indicates a dead worker.
func IsWorkerCrashed(err error) bool {
	_, ok := err.(errCrashed)
	return ok
}

// errTooBusy signals queue timeout/overflow on a worker.
type errTooBusy struct{ model string }

func (e errTooBusy) Error() string { return "too busy: " + e.model }

// IsTooBusy reports whether err indicates admission backpressure.
func IsTooBusy(err error) bool {
	_, ok := err.(errTooBusy)
	return ok
}

// Exported constructors so fakes outside this package can reproduce the
// taxonomy.

// ErrSpawnFailure constructs a spawn failure for model.
func ErrSpawnFailure(model string, cause error) error { return errSpawn{model: model, cause: cause} }

// ErrProtocolViolation constructs a protocol violation for model.
func ErrProtocolViolation(model string, cause error) error {
	return errProtocol{model: model, cause: cause}
}

// ErrWorkerCrashed constructs a crash error for model.
func ErrWorkerCrashed(model string, cause error) error { return errCrashed{model: model, cause: cause} }

// ErrTooBusy constructs a backpressure error for model.
func ErrTooBusy(model string) error { return errTooBusy{model: model} }

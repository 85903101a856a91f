package manager

import (
	"github.com/maceip/rlitert-lm/internal/download"
	"github.com/maceip/rlitert-lm/internal/pool"
)

// modelNotFoundError signals a model id with no catalog entry (404 mapping).
type modelNotFoundError struct{ id string }

func (e modelNotFoundError) Error() string { return "model not found: " + e.id }

// ErrModelNotFound returns an error for a model id absent from the registry.
func ErrModelNotFound(id string) error { return modelNotFoundError{id: id} }

// IsModelNotFound reports whether the error indicates a missing model id.
func IsModelNotFound(err error) bool {
	_, ok := err.(modelNotFoundError)
	return ok
}

// The remaining predicates delegate to the packages that mint the errors,
// so HTTP handlers only ever import manager.

// IsSpawnFailure reports a worker that could not start or handshake (502).
func IsSpawnFailure(err error) bool { return pool.IsSpawnFailure(err) }

// IsProtocolViolation reports malformed worker output (502).
func IsProtocolViolation(err error) bool { return pool.IsProtocolViolation(err) }

// IsWorkerCrashed reports a worker that died mid-turn (502).
func IsWorkerCrashed(err error) bool { return pool.IsWorkerCrashed(err) }

// IsTooBusy reports admission backpressure (429).
func IsTooBusy(err error) bool { return pool.IsTooBusy(err) }

// IsDownloadFailure reports a terminal failed pull (502).
func IsDownloadFailure(err error) bool { return download.IsDownloadFailed(err) }

// IsAlreadyInProgress reports a duplicate concurrent pull (409).
func IsAlreadyInProgress(err error) bool { return download.IsPullInProgress(err) }

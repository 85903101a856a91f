package download

import "fmt"

// errPullInProgress rejects a duplicate pull for a model already fetching.
type errPullInProgress struct{ model string }

func (e errPullInProgress) Error() string { return "pull already in progress: " + e.model }

// IsPullInProgress reports whether err indicates a duplicate concurrent pull.
func IsPullInProgress(err error) bool {
	_, ok := err.(errPullInProgress)
	return ok
}

// errDownloadFailed is the terminal failure of a pull attempt.
type errDownloadFailed struct {
	model string
	cause error
}

func (e errDownloadFailed) Error() string {
	return fmt.Sprintf("download failed: %s: %v", e.model, e.cause)
}

func (e errDownloadFailed) Unwrap() error { return e.cause }

// IsDownloadFailed reports whether err is a terminal download failure.
func IsDownloadFailed(err error) bool {
	_, ok := err.(errDownloadFailed)
	return ok
}

// ErrPullInProgress constructs a duplicate-pull error for model.
func ErrPullInProgress(model string) error { return errPullInProgress{model: model} }

// ErrDownloadFailed constructs a terminal download failure for model.
func ErrDownloadFailed(model string, cause error) error {
	return errDownloadFailed{model: model, cause: cause}
}

package types

// Model represents an entry in the model catalog. A model is "downloaded"
// when its artifact file exists under the models directory.
type Model struct {
	// Stable identifier used as the key across the pool, tracker, and broker.
	// example: gemma-3n-E4B
	ID string `json:"id" yaml:"id" example:"gemma-3n-E4B"`
	// Human readable name.
	// example: Gemma 3n E4B
	Name string `json:"name,omitempty" yaml:"name,omitempty" example:"Gemma 3n E4B"`
	// Absolute path to the local artifact, empty until downloaded.
	Path string `json:"path,omitempty" yaml:"-"`
	// Source URL the artifact is pulled from.
	URL string `json:"url,omitempty" yaml:"url,omitempty"`
	// Artifact filename under the models directory. Defaults to ID + ".litertlm".
	Filename string `json:"filename,omitempty" yaml:"filename,omitempty"`
	// Approximate artifact size in MB (catalog metadata, may be zero).
	// example: 4200
	SizeMB int `json:"size_mb,omitempty" yaml:"size_mb,omitempty" example:"4200"`
	// Whether pulling this model requires an access token.
	RequiresAuth bool `json:"requires_auth,omitempty" yaml:"requires_auth,omitempty"`
	// Whether the artifact is present locally.
	Downloaded bool `json:"downloaded" yaml:"-"`
}

// DownloadState is the lifecycle state of a model pull.
type DownloadState string

const (
	DownloadNotStarted  DownloadState = "not_started"
	DownloadInProgress  DownloadState = "downloading"
	DownloadComplete    DownloadState = "complete"
	DownloadFailed      DownloadState = "failed"
)

// Terminal reports whether the state ends a pull attempt.
func (s DownloadState) Terminal() bool {
	return s == DownloadComplete || s == DownloadFailed
}

// DownloadEvent is a single progress update for a model pull. Events for one
// attempt are non-decreasing in Progress and end in exactly one terminal state.
type DownloadEvent struct {
	// Model identifier the event applies to.
	// example: gemma-3n-E4B
	Model string `json:"model" example:"gemma-3n-E4B"`
	// Current state of the pull.
	// example: downloading
	State DownloadState `json:"state" example:"downloading"`
	// Percent complete, 0-100.
	// example: 42.5
	Progress float64 `json:"progress" example:"42.5"`
	// Bytes transferred so far.
	BytesDone int64 `json:"bytes_done,omitempty"`
	// Total bytes when known, zero otherwise.
	BytesTotal int64 `json:"bytes_total,omitempty"`
	// Failure reason, set only when State is "failed".
	Error string `json:"error,omitempty"`
}

// CompletionRequest is one inference call against a local model.
type CompletionRequest struct {
	// Model identifier. Required.
	// example: gemma-3n-E4B
	Model string `json:"model" example:"gemma-3n-E4B"`
	// Prompt text to complete.
	// example: Write a haiku about the ocean.
	Prompt string `json:"prompt" example:"Write a haiku about the ocean."`
	// If true, stream chunks as they are produced.
	// example: true
	Stream bool `json:"stream,omitempty" example:"true"`
}

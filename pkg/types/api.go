package types

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: model not found: gemma-3n-E4B
	Error string `json:"error" example:"model not found: gemma-3n-E4B"`
	// HTTP status code.
	// example: 404
	Code int `json:"code" example:"404"`
}

// ModelsResponse wraps the list of models returned by GET /v1/models.
type ModelsResponse struct {
	Models []Model `json:"models"`
}

// PullRequest starts a model download.
type PullRequest struct {
	// Model identifier or direct artifact URL.
	// example: gemma-3n-E4B
	Model string `json:"model" example:"gemma-3n-E4B"`
	// Optional alias to register a URL pull under.
	Alias string `json:"alias,omitempty"`
	// Optional access token for gated artifacts.
	Token string `json:"token,omitempty"`
}

// WorkerStatus summarizes one live worker process for GET /status.
type WorkerStatus struct {
	// Model the worker serves.
	// example: gemma-3n-E4B
	ModelID string `json:"model_id" example:"gemma-3n-E4B"`
	// Whether the worker passed its readiness handshake and has not failed.
	Alive bool `json:"alive"`
	// Process ID of the worker.
	// example: 12345
	PID int `json:"pid,omitempty" example:"12345"`
	// Last time this worker served a request (unix seconds).
	// example: 1700000000
	LastUsed int64 `json:"last_used_unix,omitempty" example:"1700000000"`
	// Queued requests waiting on this worker.
	// example: 0
	QueueLen int `json:"queue_len" example:"0"`
	// Requests currently generating (0 or 1).
	// example: 1
	Inflight int `json:"inflight" example:"1"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Live worker processes.
	Workers []WorkerStatus `json:"workers"`
	// Latest known download state per model that has seen a pull.
	Downloads []DownloadEvent `json:"downloads,omitempty"`
	// Uptime of the daemon in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
}

// ChatMessage is one turn in an OpenAI-shaped chat request.
type ChatMessage struct {
	// example: user
	Role string `json:"role" example:"user"`
	// example: Hello!
	Content string `json:"content" example:"Hello!"`
}

// ChatCompletionRequest is the OpenAI-compatible request body for
// POST /v1/chat/completions.
type ChatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream,omitempty"`
}

// ChatChoice is one completion alternative in a non-streaming response.
type ChatChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// ChatUsage reports token accounting. The worker protocol does not expose
// token counts, so fields may be zero.
type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatCompletionResponse is the non-streaming response body.
type ChatCompletionResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   ChatUsage    `json:"usage"`
}

// ChatDelta carries incremental content in a streaming chunk.
type ChatDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// ChatChunkChoice is one choice in a streaming chunk.
type ChatChunkChoice struct {
	Index        int       `json:"index"`
	Delta        ChatDelta `json:"delta"`
	FinishReason *string   `json:"finish_reason"`
}

// ChatCompletionChunk is one SSE event in a streaming response.
type ChatCompletionChunk struct {
	ID      string            `json:"id"`
	Object  string            `json:"object"`
	Created int64             `json:"created"`
	Model   string            `json:"model"`
	Choices []ChatChunkChoice `json:"choices"`
}

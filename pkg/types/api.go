package types

// GenerateRequest is the payload of POST /generate.
type GenerateRequest struct {
	// Required prompt text.
	// example: a cat sitting on a windowsill, watercolor
	Prompt string `json:"prompt" example:"a cat sitting on a windowsill, watercolor"`
	// Number of images; 0 or omitted uses the server default.
	// example: 2
	Images int `json:"images,omitempty" example:"2"`
	// Base noise seed; image i uses seed+i. Omitted lets the server choose.
	// example: 42
	Seed *uint64 `json:"seed,omitempty" example:"42"`
	// Output encoding: png, bmp or tiff. Omitted uses the server default.
	// example: png
	Format string `json:"format,omitempty" example:"png"`
}

// ImageTiming is the per-image time breakdown in milliseconds.
type ImageTiming struct {
	// example: 310.5
	DenoiseMS float64 `json:"denoise_ms" example:"310.5"`
	// example: 120.2
	DecodeMS float64 `json:"decode_ms" example:"120.2"`
	// Includes the shared text encode time.
	// example: 480.9
	TotalMS float64 `json:"total_ms" example:"480.9"`
}

// ImageData is one encoded image.
type ImageData struct {
	// example: 0
	Index int `json:"index" example:"0"`
	// example: 512
	Width int `json:"width" example:"512"`
	// example: 512
	Height int `json:"height" example:"512"`
	// example: png
	Format string `json:"format" example:"png"`
	// Seed the image's noise was drawn from.
	// example: 42
	Seed uint64 `json:"seed" example:"42"`
	// Base64-encoded image bytes.
	Data   string      `json:"data"`
	Timing ImageTiming `json:"timing"`
}

// GenerateResponse is returned by POST /generate.
type GenerateResponse struct {
	// Generation id.
	// example: 6f1c2c3e-5b0e-4b8e-9d3a-2f7c1b9e0a11
	ID     string      `json:"id" example:"6f1c2c3e-5b0e-4b8e-9d3a-2f7c1b9e0a11"`
	Images []ImageData `json:"images"`
	// Text encoder run time in milliseconds, shared by all images.
	// example: 45.3
	TextEncodeMS float64 `json:"text_encode_ms" example:"45.3"`
}

// ModelsResponse wraps the list of models returned by GET /models.
type ModelsResponse struct {
	// The three pipeline models in load order.
	Models []Model `json:"models"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Pipeline state: idle, loading, ready, generating or failed.
	// example: ready
	State string `json:"state" example:"ready"`
	// Execution provider.
	// example: webgpu
	Provider string `json:"provider" example:"webgpu"`
	// Load progress in percent.
	// example: 100
	Progress float64 `json:"progress" example:"100"`
	// Last load error, if any.
	Error  string        `json:"error,omitempty"`
	Models []ModelStatus `json:"models"`
	// Generate calls admitted since start.
	// example: 3
	Generations uint64 `json:"generations" example:"3"`
	// Completion time of the last load (unix seconds, 0 if never loaded).
	// example: 1700000000
	LastLoadUnix int64 `json:"last_load_unix" example:"1700000000"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
}

// LoadResponse is returned by POST /load.
type LoadResponse struct {
	// example: ready
	State string `json:"state" example:"ready"`
	// example: 8123
	DurationMS int64 `json:"duration_ms" example:"8123"`
}

// ProgressEvent is one NDJSON line of GET /progress.
type ProgressEvent struct {
	// Model the update concerns; empty for resets and the final line.
	// example: unet
	Model string `json:"model,omitempty" example:"unet"`
	// fetch or compile.
	// example: fetch
	Stage string `json:"stage,omitempty" example:"fetch"`
	// Overall progress in percent.
	// example: 42.5
	Total float64 `json:"total" example:"42.5"`
	// True on the final line of a load.
	Done bool `json:"done,omitempty"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

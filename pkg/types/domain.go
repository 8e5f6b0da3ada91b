package types

// Model describes one pipeline model artifact.
type Model struct {
	// Role of the model in the pipeline.
	// example: unet
	Name string `json:"name" example:"unet"`
	// Human-friendly label.
	// example: UNet
	Label string `json:"label" example:"UNet"`
	// Location the artifact is fetched from.
	// example: https://example.com/sd-turbo/unet/model_layernorm.onnx
	URL string `json:"url" example:"https://example.com/sd-turbo/unet/model_layernorm.onnx"`
	// Approximate download size.
	// example: 1.61GB
	Size string `json:"size" example:"1.61GB"`
}

// ModelStatus is the per-model part of GET /status.
type ModelStatus struct {
	Model
	// Lifecycle state: not_loaded, fetching, fetched, compiling, ready or failed.
	// example: ready
	State string `json:"state" example:"ready"`
	// Failure message when State is failed.
	Error string `json:"error,omitempty"`
	// Fetch time in milliseconds (cache hits are near zero).
	// example: 1200
	FetchMS int64 `json:"fetch_ms" example:"1200"`
	// Session compile time in milliseconds.
	// example: 5400
	CompileMS int64 `json:"compile_ms" example:"5400"`
}

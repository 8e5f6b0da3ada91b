// Package pipeline orchestrates the single-step text-to-image pipeline. It
// is structured into small files by concern:
//
//   - pipeline.go: Pipeline type, collaborator interfaces and constructor.
//   - config.go: Config and package defaults.
//   - types.go: lifecycle states, requests, images and status views.
//   - errors.go: error types and helpers (IsNotReady, IsBusy, IsGenerationError).
//   - load.go: capability check, fetch and compile of the three models.
//   - admission.go: single in-flight generation admission.
//   - generate.go: text encoding, the per-image loop and post-processing.
//   - events.go, eventpub_memory.go: lifecycle event publishing.
//   - metrics.go: Prometheus run, generation and readiness metrics.
//   - status.go: Status snapshot for the HTTP layer and CLI.
//
// A Pipeline is safe for concurrent use. Load and Generate exclude each
// other; a second Generate while one is running fails fast with ErrBusy.
package pipeline

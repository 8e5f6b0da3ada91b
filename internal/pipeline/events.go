package pipeline

// Event is a pipeline lifecycle event: a name, the model or generation it
// concerns, and optional fields.
type Event struct {
	Name   string
	Model  string
	ID     string
	Fields map[string]any
}

// Event names.
const (
	EventLoadStart      = "load_start"
	EventModelReady     = "model_ready"
	EventModelFailed    = "model_failed"
	EventLoadDone       = "load_done"
	EventGenerateStart  = "generate_start"
	EventImageDone      = "image_done"
	EventGenerateDone   = "generate_done"
	EventGenerateFailed = "generate_failed"
)

// EventPublisher receives events from the pipeline. Implementations should
// be lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

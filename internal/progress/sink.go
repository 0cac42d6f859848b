package progress

import "context"

// Sink consumes batches of progress events. The hub calls Consume from a
// single goroutine; Close is called once after the last batch.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events.
type Emitter interface {
	Emit(evt Event)
}

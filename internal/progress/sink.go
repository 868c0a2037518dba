package progress

import "context"

// Sink consumes batches of progress events. Implementations must tolerate
// repeated calls, honor ctx deadlines, and may be invoked from the hub's
// single flush goroutine.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events. Hub satisfies this interface so the
// run controller stays agnostic about buffering and persistence.
type Emitter interface {
	Emit(evt Event)
}

package emit

// Emitter receives observability events from the conversation engine.
//
// Implementations must be safe for concurrent use, must not block turn
// processing, and must not panic; backend failures are swallowed or logged
// internally.
type Emitter interface {
	Emit(event Event)
}

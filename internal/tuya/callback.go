package tuya

import "sync"

// EventKind distinguishes the three notifications a Device fires
// (Design Notes §9, "Callbacks vs message passing").
type EventKind uint8

const (
	EventKindConnected EventKind = iota
	EventKindDisconnected
	EventKindDatapointsUpdated
)

// Event is one notification broadcast to registered callbacks. Datapoints
// is populated only for EventKindDatapointsUpdated.
type Event struct {
	Kind       EventKind
	Datapoints []*Datapoint
}

// Unregister removes a previously registered callback. Calling it more
// than once is a no-op, matching "unregister returns an idempotent
// remover" (Concurrency & Resource Model §5).
type Unregister func()

// callbackBus fans out session events to registered callbacks. Handler
// lists are append-only during registration; removal tombstones the
// slot rather than mutating indices so concurrent iteration stays safe.
// Events are queued on a small buffered channel fed by the session
// goroutine and drained by one dedicated fan-out goroutine, mirroring
// the source's list-of-function-pointers pattern expressed as message
// passing instead of a raw mutex-guarded slice of closures.
type callbackBus struct {
	mu         sync.Mutex
	connected  []func()
	disconnect []func()
	datapoints []func([]*Datapoint)

	events chan Event
	done   chan struct{}
}

func newCallbackBus() *callbackBus {
	b := &callbackBus{
		events: make(chan Event, 16),
		done:   make(chan struct{}),
	}
	go b.run()
	return b
}

// run is the fan-out goroutine: it invokes every live callback for each
// event, synchronously and in registration order. Callbacks must not
// block (Concurrency & Resource Model §5).
func (b *callbackBus) run() {
	for {
		select {
		case ev, ok := <-b.events:
			if !ok {
				return
			}
			b.dispatch(ev)
		case <-b.done:
			return
		}
	}
}

func (b *callbackBus) dispatch(ev Event) {
	b.mu.Lock()
	conn := append([]func(){}, b.connected...)
	disc := append([]func(){}, b.disconnect...)
	dps := append([]func([]*Datapoint){}, b.datapoints...)
	b.mu.Unlock()

	switch ev.Kind {
	case EventKindConnected:
		for _, fn := range conn {
			if fn != nil {
				fn()
			}
		}
	case EventKindDisconnected:
		for _, fn := range disc {
			if fn != nil {
				fn()
			}
		}
	case EventKindDatapointsUpdated:
		for _, fn := range dps {
			if fn != nil {
				fn(ev.Datapoints)
			}
		}
	}
}

// emit queues an event for the fan-out goroutine.
func (b *callbackBus) emit(ev Event) {
	select {
	case b.events <- ev:
	case <-b.done:
	}
}

// close stops the fan-out goroutine. Subsequent emit calls are no-ops.
func (b *callbackBus) close() {
	select {
	case <-b.done:
	default:
		close(b.done)
	}
}

// OnConnected registers fn to run whenever the device reaches
// Operational state.
func (b *callbackBus) OnConnected(fn func()) Unregister {
	b.mu.Lock()
	idx := len(b.connected)
	b.connected = append(b.connected, fn)
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		b.connected[idx] = nil
		b.mu.Unlock()
	}
}

// OnDisconnected registers fn to run whenever the device disconnects.
func (b *callbackBus) OnDisconnected(fn func()) Unregister {
	b.mu.Lock()
	idx := len(b.disconnect)
	b.disconnect = append(b.disconnect, fn)
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		b.disconnect[idx] = nil
		b.mu.Unlock()
	}
}

// OnDatapointsUpdated registers fn to run once per inbound message that
// carried datapoints, after all of that message's datapoints have been
// applied.
func (b *callbackBus) OnDatapointsUpdated(fn func([]*Datapoint)) Unregister {
	b.mu.Lock()
	idx := len(b.datapoints)
	b.datapoints = append(b.datapoints, fn)
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		b.datapoints[idx] = nil
		b.mu.Unlock()
	}
}

package server

import (
	"net"
	"sync"
)

// EventType names something observable that happened to a Listener.
type EventType string

const (
	// EventListen fires once the listening socket is bound.
	EventListen EventType = "listen"
	// EventConnection fires when a socket is accepted.
	EventConnection EventType = "connection"
	// EventClientConnect fires once an accepted socket is tracked and reading.
	EventClientConnect EventType = "client.connect"
	// EventClientError fires on a transport failure of a single connection.
	EventClientError EventType = "client.error"
	// EventClientClose fires exactly once for every accepted socket.
	EventClientClose EventType = "client.close"
	// EventDataError fires when a frame could not be turned into a request or
	// the handler failed. The connection stays open.
	EventDataError EventType = "data.error"
	// EventError fires on failures of the listening socket itself, such as
	// the port already being in use.
	EventError EventType = "error"
)

// Event describes one occurrence. RemoteAddr is set for connection scoped
// events and Err for the error events.
type Event struct {
	Type       EventType
	Listener   string
	Addr       net.Addr
	RemoteAddr net.Addr
	Err        error
}

// Observer receives Listener events. Observers are called from the
// goroutine that produced the event, so they must be safe for concurrent
// use and should return quickly.
type Observer func(Event)

// observers is the subscription list of a single Listener.
type observers struct {
	mu   sync.RWMutex
	next int
	subs map[int]Observer
}

func (o *observers) subscribe(fn Observer) func() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.subs == nil {
		o.subs = make(map[int]Observer)
	}
	id := o.next
	o.next++
	o.subs[id] = fn

	return func() {
		o.mu.Lock()
		delete(o.subs, id)
		o.mu.Unlock()
	}
}

func (o *observers) emit(ev Event) {
	o.mu.RLock()
	subs := make([]Observer, 0, len(o.subs))
	for _, fn := range o.subs {
		subs = append(subs, fn)
	}
	o.mu.RUnlock()

	for _, fn := range subs {
		fn(ev)
	}
}

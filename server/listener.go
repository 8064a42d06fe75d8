package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dcrodman/hl7mllp/internal/cache"
	"github.com/dcrodman/hl7mllp/internal/charset"
)

const (
	readBufferSize   = 4096
	acceptRetryDelay = 50 * time.Millisecond
)

type listenerState int

const (
	stateConstructed listenerState = iota
	stateListening
	stateClosed
)

// ListenerOption customizes a Listener at creation time.
type ListenerOption func(*Listener)

// WithObserver subscribes fn before the Listener starts binding, so that
// the listen or error event of the bind attempt can't be missed.
func WithObserver(fn Observer) ListenerOption {
	return func(l *Listener) { l.observers.subscribe(fn) }
}

// Listener implements the concurrent connection logic of one inbound port.
//
// Bytes read from every connected client are reassembled into frames and
// passed to the Handler, abstracting the lower level connection details
// away from it.
type Listener struct {
	cfg     ListenerConfig
	name    string
	handler Handler
	server  *Server
	codec   *charset.Codec
	seen    *cache.Cache
	logger  logrus.FieldLogger

	observers observers
	clients   *clientList

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	state   listenerState
	socket  net.Listener
	addr    net.Addr
	bindErr error
	ready   chan struct{}
	done    chan struct{}
}

func newListener(s *Server, cfg ListenerConfig, h Handler, opts ...ListenerOption) (*Listener, error) {
	codec, err := cfg.validate()
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, configError("handler", "handler is not defined")
	}
	cfg = cfg.withDefaults()

	name := cfg.Name
	if name == "" {
		name = strconv.Itoa(cfg.Port)
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &Listener{
		cfg:     cfg,
		name:    name,
		handler: h,
		server:  s,
		codec:   codec,
		logger:  s.logger.WithField("listener", name),
		clients: newClientList(),
		ctx:     ctx,
		cancel:  cancel,
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}
	if cfg.DuplicateWindow > 0 {
		l.seen = cache.New(cfg.DuplicateWindow)
	}

	l.observers.subscribe(s.metrics.observe)
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Name returns the configured name, or the port when none was given. An
// unnamed Listener on port 0 takes the name of the port it binds.
func (l *Listener) Name() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.name
}

func (l *Listener) log() logrus.FieldLogger {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.logger
}

// Subscribe registers fn for every event emitted after the call. The
// returned function removes the subscription.
func (l *Listener) Subscribe(fn Observer) (cancel func()) {
	return l.observers.subscribe(fn)
}

// Addr returns the bound address, or nil while binding or after a failed bind.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.addr
}

// Connections returns the number of currently connected clients.
func (l *Listener) Connections() int { return l.clients.len() }

// WaitListening blocks until the bind attempt finished and returns the
// bound address or the reason binding failed.
func (l *Listener) WaitListening(ctx context.Context) (net.Addr, error) {
	select {
	case <-l.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.bindErr != nil {
		return nil, l.bindErr
	}
	return l.addr, nil
}

// Done is closed once the accept loop has exited.
func (l *Listener) Done() <-chan struct{} { return l.done }

// Close destroys every connected client without waiting for in-flight
// handlers, then closes the listening socket. Closing an already closed
// Listener is a no-op.
func (l *Listener) Close() error {
	l.mu.Lock()
	if l.state == stateClosed {
		l.mu.Unlock()
		return nil
	}
	l.state = stateClosed
	socket := l.socket
	l.mu.Unlock()

	l.cancel()
	for _, c := range l.clients.drain() {
		if err := c.destroy(); err != nil && !errors.Is(err, net.ErrClosed) {
			l.log().Debugf("error closing client %v: %v", c.remoteAddr, err)
		}
	}

	if socket != nil {
		if err := socket.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			l.log().Warnf("error closing socket: %v", err)
		}
	}

	l.log().Info("closed")
	return nil
}

func (l *Listener) emit(ev Event) {
	l.mu.Lock()
	ev.Listener = l.name
	if ev.Addr == nil {
		ev.Addr = l.addr
	}
	l.mu.Unlock()
	l.observers.emit(ev)
}

func (l *Listener) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state == stateClosed
}

// start opens the socket and, if that worked, enters the accept loop. Bind
// failures are reported as events since the caller already has the Listener.
func (l *Listener) start() {
	defer close(l.done)

	socket, err := l.createSocket()

	l.mu.Lock()
	closedEarly := false
	switch {
	case err != nil:
		l.bindErr = err
	case l.state == stateClosed:
		closedEarly = true
		l.bindErr = ErrListenerClosed
		_ = socket.Close()
	default:
		l.socket = socket
		l.addr = socket.Addr()
		l.state = stateListening
		if tcpAddr, ok := l.addr.(*net.TCPAddr); ok && l.cfg.Name == "" {
			l.name = strconv.Itoa(tcpAddr.Port)
			l.logger = l.server.logger.WithField("listener", l.name)
		}
	}
	close(l.ready)
	l.mu.Unlock()

	if err != nil {
		l.log().Errorf("error listening on port %d: %v", l.cfg.Port, err)
		l.emit(Event{Type: EventError, Err: err})
		return
	}
	if closedEarly {
		return
	}

	l.log().Infof("waiting for connections on %v", socket.Addr())
	l.emit(Event{Type: EventListen})

	l.startBlockingLoop(socket)
}

// createSocket opens a TCP socket on the configured port using the bind
// settings of the Server.
func (l *Listener) createSocket() (net.Listener, error) {
	address := net.JoinHostPort(l.server.cfg.BindAddress, strconv.Itoa(l.cfg.Port))

	var lc net.ListenConfig
	socket, err := lc.Listen(l.ctx, l.server.cfg.network(), address)
	if err != nil {
		return nil, fmt.Errorf("error listening on socket: %w", err)
	}
	return socket, nil
}

// startBlockingLoop accepts new connections and spins off a goroutine to
// handle each of them until the socket is closed.
func (l *Listener) startBlockingLoop(socket net.Listener) {
	for {
		connection, err := socket.Accept()
		if err != nil {
			if l.isClosed() || errors.Is(err, net.ErrClosed) {
				return
			}
			l.log().Warnf("failed to accept connection: %v", err)
			l.emit(Event{Type: EventError, Err: err})
			time.Sleep(acceptRetryDelay)
			continue
		}

		// Note: If there is eventually a need to implement worker pooling rather than spawning
		// new goroutines for each client, this is where it should be implemented.
		go l.acceptClient(connection)
	}
}

// acceptClient tracks the connection and moves into the frame processing
// loop, which only returns once the connection is gone.
func (l *Listener) acceptClient(connection net.Conn) {
	// Flush small frames (mostly ACKs) immediately instead of coalescing them.
	if tcpConn, ok := connection.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}
	if l.server.tlsConfig != nil {
		connection = tls.Server(connection, l.server.tlsConfig)
	}

	c := newClient(l.ctx, connection, l.cfg.MaxFrameSize)
	if !l.clients.add(c) {
		// Raced with Close.
		_ = c.destroy()
		return
	}

	l.log().Infof("accepted connection from %v", c.remoteAddr)
	l.emit(Event{Type: EventConnection, RemoteAddr: c.remoteAddr})
	l.emit(Event{Type: EventClientConnect, RemoteAddr: c.remoteAddr})

	defer l.closeConnectionAndRecover(c)
	l.processFrames(c)
}

// processFrames reads from the client until the connection closes, handing
// every complete frame to dispatch in the order the terminators arrived.
func (l *Listener) processFrames(c *client) {
	buffer := make([]byte, readBufferSize)

	for {
		n, err := c.Read(buffer)
		if n > 0 {
			frames, frameErr := c.decoder.Feed(buffer[:n])
			for _, frame := range frames {
				if c.isDestroyed() {
					return
				}
				l.dispatch(c, frame)
			}
			if frameErr != nil {
				l.log().Warnf("dropping client %v: %v", c.remoteAddr, frameErr)
				l.emit(Event{Type: EventClientError, RemoteAddr: c.remoteAddr, Err: frameErr})
				return
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) || c.isDestroyed() {
				return
			}
			l.log().Warnf("socket error (%v): %v", c.remoteAddr, err)
			l.emit(Event{Type: EventClientError, RemoteAddr: c.remoteAddr, Err: err})
			return
		}
	}
}

// dispatch turns one frame into a Request/Response pair and runs the
// Handler. Failures are reported as data.error and never close the connection.
func (l *Listener) dispatch(c *client, frame []byte) {
	text, err := l.codec.Decode(frame)
	if err != nil {
		l.dataError(c, err)
		return
	}

	req, err := newRequest(text, l.Name(), c.remoteAddr)
	if err != nil {
		l.dataError(c, err)
		return
	}
	if l.seen != nil {
		if id := req.ControlID(); id != "" {
			req.duplicate = l.seen.Remember(id)
		}
	}
	l.server.metrics.frames.WithLabelValues(l.Name()).Inc()

	res := newResponse(c, req, l)
	if err := l.invoke(c.ctx, req, res); err != nil {
		l.dataError(c, err)
	}
}

// invoke runs the Handler, converting a panic into an error.
func (l *Listener) invoke(ctx context.Context, req *Request, res *Response) (err error) {
	defer func() {
		if r := recover(); r != nil {
			l.log().Errorf("handler panic for client %v: %v\n%s", req.RemoteAddr(), r, debug.Stack())
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return l.handler.ServeHL7(ctx, req, res)
}

func (l *Listener) dataError(c *client, err error) {
	l.log().WithField("remote_addr", c.remoteAddr).Warnf("error processing message: %v", err)
	l.emit(Event{Type: EventDataError, RemoteAddr: c.remoteAddr, Err: err})
}

// closeConnectionAndRecover is the failsafe that catches any panics, disconnects the
// client, and removes them from the list regardless of the state of the connection.
func (l *Listener) closeConnectionAndRecover(c *client) {
	if r := recover(); r != nil {
		l.log().Errorf("error in client communication with %v: error=%v, trace: %s",
			c.remoteAddr, r, debug.Stack())
		l.emit(Event{Type: EventClientError, RemoteAddr: c.remoteAddr, Err: fmt.Errorf("%v", r)})
	}

	if err := c.destroy(); err != nil && !errors.Is(err, net.ErrClosed) {
		l.log().Debugf("failed to close client connection: %v", err)
	}
	l.clients.remove(c)

	l.log().Infof("disconnected client %v", c.remoteAddr)
	l.emit(Event{Type: EventClientClose, RemoteAddr: c.remoteAddr})
}

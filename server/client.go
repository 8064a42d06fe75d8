package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/dcrodman/hl7mllp/internal/mllp"
)

// client is a single accepted connection.
type client struct {
	connection net.Conn
	remoteAddr net.Addr

	// Accumulates the bytes of the frame currently being received.
	decoder *mllp.Decoder

	ctx    context.Context
	cancel context.CancelFunc

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

func newClient(ctx context.Context, connection net.Conn, maxFrameSize int) *client {
	ctx, cancel := context.WithCancel(ctx)
	return &client{
		connection: connection,
		remoteAddr: connection.RemoteAddr(),
		decoder:    mllp.NewDecoder(maxFrameSize),
		ctx:        ctx,
		cancel:     cancel,
		closed:     make(chan struct{}),
	}
}

// Read consumes the available bytes directly from the client's connection.
func (c *client) Read(b []byte) (int, error) {
	return c.connection.Read(b)
}

// send writes a complete frame to the connection. Writes from concurrent
// handlers never interleave. A deadline on ctx bounds the write.
func (c *client) send(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.isDestroyed() {
		return fmt.Errorf("failed to send to client %v: %w", c.remoteAddr, net.ErrClosed)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.connection.SetWriteDeadline(deadline)
		defer c.connection.SetWriteDeadline(time.Time{})
	}

	return c.transmit(data)
}

// transmit writes the contents of data to the connection until every byte
// has been written.
func (c *client) transmit(data []byte) error {
	bytesSent := 0

	for bytesSent < len(data) {
		b, err := c.connection.Write(data[bytesSent:])
		if err != nil {
			return fmt.Errorf("failed to send to client %v: %w", c.remoteAddr, err)
		}
		bytesSent += b
	}

	return nil
}

// destroy closes the connection immediately, abandoning anything buffered.
// Safe to call more than once.
func (c *client) destroy() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.cancel()
		err = c.connection.Close()
	})
	return err
}

func (c *client) isDestroyed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

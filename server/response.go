package server

import (
	"context"
	"fmt"
	"sync"

	"github.com/dcrodman/hl7mllp/hl7"
	"github.com/dcrodman/hl7mllp/internal/mllp"
)

// Response writes the acknowledgement of a single Request back to the
// connection it arrived on.
type Response struct {
	client   *client
	req      *Request
	listener *Listener

	mu   sync.Mutex
	sent bool
	ack  *hl7.Message
}

func newResponse(c *client, req *Request, l *Listener) *Response {
	return &Response{client: c, req: req, listener: l}
}

// SendResponse builds an ACK carrying code in MSA-1 (for example
// hl7.ApplicationAccept), frames it and writes it to the connection. It
// returns once the bytes were handed to the transport. A Response can only
// be sent once; later calls return ErrResponseAlreadySent.
func (r *Response) SendResponse(ctx context.Context, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sent {
		return ErrResponseAlreadySent
	}

	msg, err := r.req.Message()
	if err != nil {
		return err
	}
	ack, err := hl7.BuildACK(msg, code, hl7.AckOptions{
		OverrideMessageType: r.listener.cfg.OverrideMessageHeaderAckType,
	})
	if err != nil {
		return fmt.Errorf("building acknowledgement: %w", err)
	}

	data, err := r.listener.codec.Encode(ack.String())
	if err != nil {
		return fmt.Errorf("building acknowledgement: %w", err)
	}
	if err := r.client.send(ctx, mllp.Encode(data)); err != nil {
		return err
	}

	r.sent = true
	r.ack = ack
	r.listener.server.metrics.acks.WithLabelValues(r.listener.Name(), code).Inc()
	return nil
}

// AckMessage returns the acknowledgement written by SendResponse, or nil if
// nothing was sent yet.
func (r *Response) AckMessage() *hl7.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ack
}

// Sent reports whether an acknowledgement was written.
func (r *Response) Sent() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sent
}

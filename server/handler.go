package server

import "context"

// Handler processes one inbound message. It is called on the connection's
// goroutine, so frames from a single connection are handled strictly in the
// order they arrived; a slow handler delays the following frames of that
// connection only.
//
// A returned error, or a panic, is reported as a data.error event and leaves
// the connection open. ctx is cancelled once the connection or the Listener
// closes.
type Handler interface {
	ServeHL7(ctx context.Context, req *Request, res *Response) error
}

// HandlerFunc adapts an ordinary function to the Handler interface.
type HandlerFunc func(ctx context.Context, req *Request, res *Response) error

func (f HandlerFunc) ServeHL7(ctx context.Context, req *Request, res *Response) error {
	return f(ctx, req, res)
}

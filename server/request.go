package server

import (
	"fmt"
	"net"
	"time"

	"github.com/dcrodman/hl7mllp/hl7"
)

// Request is one fully framed inbound message. It is only valid for the
// duration of the handler call it was passed to.
type Request struct {
	raw        string
	msg        *hl7.Message
	listener   string
	remoteAddr net.Addr
	receivedAt time.Time
	duplicate  bool
}

func newRequest(raw string, listener string, remoteAddr net.Addr) (*Request, error) {
	if raw == "" {
		return nil, ErrMessageNotDefined
	}
	msg, err := hl7.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing message: %w", err)
	}

	return &Request{
		raw:        raw,
		msg:        msg,
		listener:   listener,
		remoteAddr: remoteAddr,
		receivedAt: time.Now(),
	}, nil
}

// Message returns the parsed message.
func (r *Request) Message() (*hl7.Message, error) {
	if r == nil || r.msg == nil {
		return nil, ErrMessageNotDefined
	}
	return r.msg, nil
}

// Raw returns the message text exactly as received, without framing bytes.
func (r *Request) Raw() string { return r.raw }

// ControlID returns MSH-10 of the message.
func (r *Request) ControlID() string {
	if r.msg == nil {
		return ""
	}
	return r.msg.Get("MSH.10")
}

func (r *Request) ListenerName() string  { return r.listener }
func (r *Request) RemoteAddr() net.Addr  { return r.remoteAddr }
func (r *Request) ReceivedAt() time.Time { return r.receivedAt }

// Duplicate reports whether the listener already received a message with the
// same control ID within its ListenerConfig.DuplicateWindow. Always false
// when the window is disabled.
func (r *Request) Duplicate() bool { return r.duplicate }

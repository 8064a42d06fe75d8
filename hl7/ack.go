package hl7

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Acknowledgement codes defined by table 0008.
const (
	ApplicationAccept = "AA"
	ApplicationError  = "AE"
	ApplicationReject = "AR"
	CommitAccept      = "CA"
	CommitError       = "CE"
	CommitReject      = "CR"
)

// AckMessageType is the literal written to MSH-9.1 (and MSH-9.3 when overridden).
const AckMessageType = "ACK"

const timestampLayout = "20060102150405"

// controlIDLength keeps generated IDs within the 20 character limit of
// MSH-10 in the older versions of the standard.
const controlIDLength = 20

var ErrMissingAckCode = errors.New("hl7: acknowledgement code must not be empty")

// AckOptions customizes BuildACK.
type AckOptions struct {
	// OverrideMessageType forces MSH-9.3 of the acknowledgement to "ACK"
	// instead of echoing the message structure of the original.
	OverrideMessageType bool
	// ControlID is written to MSH-10. A random one is generated when empty.
	ControlID string
	// Now returns the timestamp written to MSH-7. Defaults to time.Now.
	Now func() time.Time
}

// BuildACK constructs the acknowledgement for original, reporting code in MSA-1.
func BuildACK(original *Message, code string, opts AckOptions) (*Message, error) {
	if code == "" {
		return nil, ErrMissingAckCode
	}
	if original == nil {
		return nil, ErrEmptyMessage
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ControlID == "" {
		opts.ControlID = NewControlID()
	}

	ack := NewMessage(original.Delimiters())

	// The acknowledgement travels in the opposite direction so sender and
	// receiver trade places.
	setIfPresent(ack, "MSH.3", original.Get("MSH.5"))
	setIfPresent(ack, "MSH.4", original.Get("MSH.6"))
	setIfPresent(ack, "MSH.5", original.Get("MSH.3"))
	setIfPresent(ack, "MSH.6", original.Get("MSH.4"))
	setIfPresent(ack, "MSH.7", opts.Now().Format(timestampLayout))
	setIfPresent(ack, "MSH.9.1", AckMessageType)
	setIfPresent(ack, "MSH.9.2", original.Get("MSH.9.2"))
	if opts.OverrideMessageType {
		setIfPresent(ack, "MSH.9.3", AckMessageType)
	} else {
		setIfPresent(ack, "MSH.9.3", original.Get("MSH.9.3"))
	}
	setIfPresent(ack, "MSH.10", opts.ControlID)
	setIfPresent(ack, "MSH.11", original.Get("MSH.11"))
	setIfPresent(ack, "MSH.12", original.Get("MSH.12"))

	ack.AddSegment("MSA")
	setIfPresent(ack, "MSA.1", code)
	setIfPresent(ack, "MSA.2", original.Get("MSH.10"))

	return ack, nil
}

// NewControlID returns a random identifier suitable for MSH-10.
func NewControlID() string {
	id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return id[:controlIDLength]
}

// The addresses used by BuildACK are static and always valid, so errors from
// Set can't occur here.
func setIfPresent(m *Message, address, value string) {
	if value == "" {
		return
	}
	_ = m.Set(address, value)
}

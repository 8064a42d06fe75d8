// Package hl7 implements the small subset of the HL7v2 grammar needed by the
// inbound server: splitting a message into segments, looking up values by
// hierarchical address and building acknowledgements.
package hl7

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// SegmentTerminator separates segments on the wire.
const SegmentTerminator = "\r"

var (
	ErrEmptyMessage   = errors.New("hl7: message is empty")
	ErrMissingHeader  = errors.New("hl7: message does not start with an MSH segment")
	ErrInvalidAddress = errors.New("hl7: invalid address")
)

// Delimiters holds the encoding characters declared in MSH-1 and MSH-2.
type Delimiters struct {
	Field        byte
	Component    byte
	Repetition   byte
	Escape       byte
	Subcomponent byte
}

// DefaultDelimiters are the encoding characters recommended by the standard.
var DefaultDelimiters = Delimiters{
	Field:        '|',
	Component:    '^',
	Repetition:   '~',
	Escape:       '\\',
	Subcomponent: '&',
}

func (d Delimiters) encodingCharacters() string {
	return string([]byte{d.Component, d.Repetition, d.Escape, d.Subcomponent})
}

// Segment is a single line of a message. fields[0] is the segment name and for
// every segment except MSH, fields[n] is field n. MSH is special since MSH-1 is
// the field separator itself, so MSH-n lives at fields[n-1].
type Segment struct {
	fields []string
}

// Name returns the three character segment identifier.
func (s *Segment) Name() string { return s.fields[0] }

func (s *Segment) isHeader() bool { return s.fields[0] == "MSH" }

func (s *Segment) fieldIndex(n int) int {
	if s.isHeader() {
		return n - 1
	}
	return n
}

// Message is a parsed HL7v2 message.
type Message struct {
	delims   Delimiters
	segments []*Segment
}

// NewMessage returns a message containing only an MSH segment declaring delims.
func NewMessage(delims Delimiters) *Message {
	m := &Message{delims: delims}
	m.segments = append(m.segments, &Segment{fields: []string{"MSH", delims.encodingCharacters()}})
	return m
}

// Parse splits text into segments. Segments may be separated by CR, LF or CRLF.
func Parse(text string) (*Message, error) {
	text = strings.ReplaceAll(text, "\r\n", "\r")
	text = strings.ReplaceAll(text, "\n", "\r")
	text = strings.Trim(text, "\r")
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}

	if len(text) < 8 || !strings.HasPrefix(text, "MSH") {
		return nil, ErrMissingHeader
	}

	delims := Delimiters{Field: text[3]}
	encEnd := strings.IndexByte(text[4:], delims.Field)
	if encEnd < 0 {
		encEnd = len(text) - 4
	}
	enc := text[4 : 4+encEnd]
	if len(enc) < 3 {
		return nil, fmt.Errorf("%w: encoding characters %q are incomplete", ErrMissingHeader, enc)
	}
	delims.Component, delims.Repetition, delims.Escape = enc[0], enc[1], enc[2]
	delims.Subcomponent = DefaultDelimiters.Subcomponent
	if len(enc) > 3 {
		delims.Subcomponent = enc[3]
	}

	m := &Message{delims: delims}
	for _, line := range strings.Split(text, SegmentTerminator) {
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, string(delims.Field))
		if len(fields[0]) != 3 {
			return nil, fmt.Errorf("hl7: invalid segment name %q", fields[0])
		}
		m.segments = append(m.segments, &Segment{fields: fields})
	}
	return m, nil
}

// Delimiters returns the encoding characters of the message.
func (m *Message) Delimiters() Delimiters { return m.delims }

// Segments returns every segment named name, in message order.
func (m *Message) Segments(name string) []*Segment {
	var found []*Segment
	for _, s := range m.segments {
		if s.Name() == name {
			found = append(found, s)
		}
	}
	return found
}

// AddSegment appends an empty segment named name.
func (m *Message) AddSegment(name string) *Segment {
	s := &Segment{fields: []string{name}}
	m.segments = append(m.segments, s)
	return s
}

// Get returns the value found at address, e.g. "MSH.12", "PID.5.1" or
// "OBX[2].5". Missing values and malformed addresses yield "".
func (m *Message) Get(address string) string {
	v, _ := m.Lookup(address)
	return v
}

// Lookup is Get with the address error exposed.
func (m *Message) Lookup(address string) (string, error) {
	addr, err := ParseAddress(address)
	if err != nil {
		return "", err
	}

	seg := m.segment(addr.Segment, addr.Index)
	if seg == nil {
		return "", nil
	}
	if addr.Field == 0 {
		return strings.Join(seg.fields, string(m.delims.Field)), nil
	}

	if seg.isHeader() && addr.Field == 1 {
		return string(m.delims.Field), nil
	}
	idx := seg.fieldIndex(addr.Field)
	if idx >= len(seg.fields) {
		return "", nil
	}
	value := seg.fields[idx]
	// MSH-2 holds the delimiters themselves and can't be split further.
	if addr.Component == 0 || (seg.isHeader() && addr.Field == 2) {
		return value, nil
	}

	value = strings.SplitN(value, string(m.delims.Repetition), 2)[0]
	components := strings.Split(value, string(m.delims.Component))
	if addr.Component > len(components) {
		return "", nil
	}
	value = components[addr.Component-1]
	if addr.Subcomponent == 0 {
		return value, nil
	}

	subcomponents := strings.Split(value, string(m.delims.Subcomponent))
	if addr.Subcomponent > len(subcomponents) {
		return "", nil
	}
	return subcomponents[addr.Subcomponent-1], nil
}

// Set stores value at address, creating the segment and padding fields or
// components as needed. Setting a component replaces the first repetition.
func (m *Message) Set(address, value string) error {
	addr, err := ParseAddress(address)
	if err != nil {
		return err
	}
	if addr.Field == 0 {
		return fmt.Errorf("%w: %q does not name a field", ErrInvalidAddress, address)
	}
	if addr.Segment == "MSH" && addr.Field <= 2 {
		return fmt.Errorf("%w: MSH-1 and MSH-2 are defined by the delimiters", ErrInvalidAddress)
	}

	seg := m.segment(addr.Segment, addr.Index)
	for seg == nil {
		m.AddSegment(addr.Segment)
		seg = m.segment(addr.Segment, addr.Index)
	}

	idx := seg.fieldIndex(addr.Field)
	for len(seg.fields) <= idx {
		seg.fields = append(seg.fields, "")
	}
	if addr.Component == 0 {
		seg.fields[idx] = value
		return nil
	}

	repetitions := strings.Split(seg.fields[idx], string(m.delims.Repetition))
	components := padded(strings.Split(repetitions[0], string(m.delims.Component)), addr.Component)
	if addr.Subcomponent == 0 {
		components[addr.Component-1] = value
	} else {
		subs := padded(strings.Split(components[addr.Component-1], string(m.delims.Subcomponent)), addr.Subcomponent)
		subs[addr.Subcomponent-1] = value
		components[addr.Component-1] = strings.Join(subs, string(m.delims.Subcomponent))
	}
	repetitions[0] = strings.Join(components, string(m.delims.Component))
	seg.fields[idx] = strings.Join(repetitions, string(m.delims.Repetition))
	return nil
}

// String renders the message with segments separated by carriage returns.
func (m *Message) String() string {
	lines := make([]string, 0, len(m.segments))
	for _, s := range m.segments {
		lines = append(lines, strings.Join(s.fields, string(m.delims.Field)))
	}
	return strings.Join(lines, SegmentTerminator)
}

func (m *Message) segment(name string, index int) *Segment {
	n := 0
	for _, s := range m.segments {
		if s.Name() != name {
			continue
		}
		n++
		if n == index {
			return s
		}
	}
	return nil
}

func padded(values []string, n int) []string {
	for len(values) < n {
		values = append(values, "")
	}
	return values
}

// Address identifies a value inside a message. Zero-valued positions were
// not present in the textual form.
type Address struct {
	Segment      string
	Index        int
	Field        int
	Component    int
	Subcomponent int
}

// ParseAddress parses "SEG[n].field.component.subcomponent"; everything after
// the segment name is optional and positions are 1-based.
func ParseAddress(address string) (Address, error) {
	parts := strings.Split(address, ".")
	if len(parts) > 4 {
		return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}

	addr := Address{Segment: parts[0], Index: 1}
	if open := strings.IndexByte(addr.Segment, '['); open >= 0 {
		if !strings.HasSuffix(addr.Segment, "]") {
			return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
		}
		idx, err := strconv.Atoi(addr.Segment[open+1 : len(addr.Segment)-1])
		if err != nil || idx < 1 {
			return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
		}
		addr.Segment, addr.Index = addr.Segment[:open], idx
	}
	if len(addr.Segment) != 3 {
		return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}

	positions := []*int{&addr.Field, &addr.Component, &addr.Subcomponent}
	for i, p := range parts[1:] {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 {
			return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
		}
		*positions[i] = n
	}
	return addr, nil
}

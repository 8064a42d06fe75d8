// Package sniffer extracts MLLP frames from captured TCP traffic so that
// exchanges with a listener can be inspected offline.
package sniffer

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/sirupsen/logrus"

	"github.com/dcrodman/hl7mllp/hl7"
	"github.com/dcrodman/hl7mllp/internal/mllp"
)

// Frame is one MLLP frame seen in a single direction of a TCP flow.
type Frame struct {
	Timestamp time.Time
	Src       string
	Dst       string
	Payload   []byte
	// Message is nil when the payload isn't a parseable HL7 message.
	Message *hl7.Message
}

// Sniffer reassembles frames per flow direction. Segments are consumed in
// capture order; retransmitted or reordered segments are not corrected.
type Sniffer struct {
	// Port restricts decoding to flows with this port on either end. Zero
	// decodes every TCP flow.
	Port uint16
	// MaxFrameSize is passed to the per-flow decoders.
	MaxFrameSize int
	Logger       logrus.FieldLogger

	decoders map[string]*mllp.Decoder
}

// ReadPcap decodes a pcap capture from r, calling fn for every complete
// frame in capture order. Reading stops at the first error returned by fn.
func (s *Sniffer) ReadPcap(r io.Reader, fn func(Frame) error) error {
	reader, err := pcapgo.NewReader(r)
	if err != nil {
		return fmt.Errorf("error opening capture: %w", err)
	}

	source := gopacket.NewPacketSource(reader, reader.LinkType())
	for {
		packet, err := source.NextPacket()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("error reading packet: %w", err)
		}
		if err := s.handlePacket(packet, fn); err != nil {
			return err
		}
	}
}

func (s *Sniffer) handlePacket(packet gopacket.Packet, fn func(Frame) error) error {
	tcpLayer := packet.Layer(layers.LayerTypeTCP)
	netLayer := packet.NetworkLayer()
	if tcpLayer == nil || netLayer == nil {
		return nil
	}
	tcp := tcpLayer.(*layers.TCP)
	if s.Port != 0 && uint16(tcp.SrcPort) != s.Port && uint16(tcp.DstPort) != s.Port {
		return nil
	}
	if len(tcp.Payload) == 0 {
		return nil
	}

	netFlow := netLayer.NetworkFlow()
	src := fmt.Sprintf("%v:%d", netFlow.Src(), uint16(tcp.SrcPort))
	dst := fmt.Sprintf("%v:%d", netFlow.Dst(), uint16(tcp.DstPort))
	key := src + "->" + dst

	if s.decoders == nil {
		s.decoders = make(map[string]*mllp.Decoder)
	}
	decoder, ok := s.decoders[key]
	if !ok {
		decoder = mllp.NewDecoder(s.MaxFrameSize)
		s.decoders[key] = decoder
	}

	frames, err := decoder.Feed(tcp.Payload)
	if err != nil {
		s.logger().Warnf("discarding partial frame on %s: %v", key, err)
	}

	for _, payload := range frames {
		frame := Frame{
			Timestamp: packet.Metadata().Timestamp,
			Src:       src,
			Dst:       dst,
			Payload:   payload,
		}
		if msg, err := hl7.Parse(string(payload)); err == nil {
			frame.Message = msg
		}
		if err := fn(frame); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sniffer) logger() logrus.FieldLogger {
	if s.Logger == nil {
		return logrus.StandardLogger()
	}
	return s.Logger
}

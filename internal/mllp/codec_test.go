package mllp

import (
	"bytes"
	"errors"
	"testing"

	"github.com/go-test/deep"
)

const testMessage = "MSH|^~\\&|||||||ADT^A01|1|P|2.7\rPID|1"

func TestEncode(t *testing.T) {
	got := Encode([]byte("MSH|^~\\&"))
	want := []byte{0x0B, 'M', 'S', 'H', '|', '^', '~', '\\', '&', 0x1C, 0x0D}
	if !bytes.Equal(got, want) {
		t.Errorf("Encode() want = %v, got = %v", want, got)
	}
}

func TestDecoder_Feed(t *testing.T) {
	frame := Encode([]byte(testMessage))

	tests := []struct {
		name    string
		chunks  [][]byte
		want    []string
		pending int
	}{
		{
			name:   "single frame",
			chunks: [][]byte{frame},
			want:   []string{testMessage},
		},
		{
			name:   "frame split byte by byte",
			chunks: splitEvery(frame, 1),
			want:   []string{testMessage},
		},
		{
			name:   "terminator split across reads",
			chunks: [][]byte{frame[:len(frame)-1], frame[len(frame)-1:]},
			want:   []string{testMessage},
		},
		{
			name:   "two frames in one read",
			chunks: [][]byte{append(Encode([]byte("first")), Encode([]byte("second"))...)},
			want:   []string{"first", "second"},
		},
		{
			name:    "frame followed by partial frame",
			chunks:  [][]byte{append(Encode([]byte("first")), StartBlock, 'M', 'S')},
			want:    []string{"first"},
			pending: 3,
		},
		{
			name:   "noise between frames is discarded",
			chunks: [][]byte{append([]byte("\n\n"), Encode([]byte("first"))...)},
			want:   []string{"first"},
		},
		{
			name:   "missing start block drops the leading byte",
			chunks: [][]byte{[]byte("XMSH|^~\\&\x1c\x0d")},
			want:   []string{"MSH|^~\\&"},
		},
		{
			name:   "start block inside a body without one is kept",
			chunks: [][]byte{[]byte("XMSH|^~\\&|\x0bTEXT\x1c\x0d")},
			want:   []string{"MSH|^~\\&|\x0bTEXT"},
		},
		{
			name:   "empty frame",
			chunks: [][]byte{Encode(nil)},
			want:   []string{""},
		},
		{
			name:    "no terminator yet",
			chunks:  [][]byte{[]byte("\x0bMSH|^~\\&\x1c")},
			want:    nil,
			pending: 10,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDecoder(0)

			var got []string
			for _, chunk := range tt.chunks {
				frames, err := d.Feed(chunk)
				if err != nil {
					t.Fatalf("Feed() returned an unexpected error: %v", err)
				}
				for _, f := range frames {
					got = append(got, string(f))
				}
			}

			if diff := deep.Equal(got, tt.want); diff != nil {
				t.Error(diff)
			}
			if d.Pending() != tt.pending {
				t.Errorf("Pending() want = %d, got = %d", tt.pending, d.Pending())
			}
		})
	}
}

func TestDecoder_FrameTooLarge(t *testing.T) {
	t.Run("pending bytes", func(t *testing.T) {
		d := NewDecoder(8)
		if _, err := d.Feed([]byte("\x0b12345678")); !errors.Is(err, ErrFrameTooLarge) {
			t.Fatalf("Feed() want = ErrFrameTooLarge, got = %v", err)
		}
		if d.Pending() != 0 {
			t.Errorf("decoder should be reset after overflow, %d bytes pending", d.Pending())
		}
	})

	t.Run("complete frame", func(t *testing.T) {
		d := NewDecoder(8)
		frames, err := d.Feed(append(Encode([]byte("ok")), Encode([]byte("much too long"))...))
		if !errors.Is(err, ErrFrameTooLarge) {
			t.Fatalf("Feed() want = ErrFrameTooLarge, got = %v", err)
		}
		if len(frames) != 1 || string(frames[0]) != "ok" {
			t.Errorf("frames completed before the oversized one should be returned, got %q", frames)
		}
	})
}

func TestDecoder_FrameAtLimit(t *testing.T) {
	frame := Encode(bytes.Repeat([]byte{'A'}, 63))

	tests := []struct {
		name   string
		chunks [][]byte
	}{
		{"one read", [][]byte{frame}},
		{"carriage return in a separate read", [][]byte{frame[:len(frame)-1], frame[len(frame)-1:]}},
		{"terminator in a separate read", [][]byte{frame[:len(frame)-2], frame[len(frame)-2:]}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDecoder(64)

			var got [][]byte
			for _, chunk := range tt.chunks {
				frames, err := d.Feed(chunk)
				if err != nil {
					t.Fatalf("Feed() returned an unexpected error: %v", err)
				}
				got = append(got, frames...)
			}
			if len(got) != 1 || len(got[0]) != 63 {
				t.Errorf("expected one 63 byte payload, got %q", got)
			}
		})
	}

	t.Run("one byte over", func(t *testing.T) {
		d := NewDecoder(64)
		over := Encode(bytes.Repeat([]byte{'A'}, 64))
		if _, err := d.Feed(over[:len(over)-1]); !errors.Is(err, ErrFrameTooLarge) {
			t.Errorf("Feed() want = ErrFrameTooLarge, got = %v", err)
		}
	})
}

func TestDecoder_PayloadDoesNotAliasBuffer(t *testing.T) {
	d := NewDecoder(0)
	frames, err := d.Feed(append(Encode([]byte("first")), StartBlock, 'x'))
	if err != nil {
		t.Fatalf("Feed() returned an unexpected error: %v", err)
	}
	if _, err := d.Feed([]byte("yyyyy")); err != nil {
		t.Fatalf("Feed() returned an unexpected error: %v", err)
	}
	if string(frames[0]) != "first" {
		t.Errorf("earlier payload was modified by a later Feed: %q", frames[0])
	}
}

func splitEvery(b []byte, n int) [][]byte {
	var chunks [][]byte
	for len(b) > n {
		chunks = append(chunks, b[:n])
		b = b[n:]
	}
	return append(chunks, b)
}

// Package charset converts message text between the character set used on
// the wire by a sender and the UTF-8 strings used everywhere else.
package charset

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
)

// Default is used when no encoding is configured.
const Default = "utf-8"

// Codec decodes inbound bytes into UTF-8 text and encodes outbound text.
type Codec struct {
	name string
	enc  encoding.Encoding
}

// Lookup resolves an IANA character set name such as "ISO-8859-1",
// "windows-1252" or "UTF-8". An empty name selects Default.
func Lookup(name string) (*Codec, error) {
	if strings.TrimSpace(name) == "" {
		name = Default
	}

	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil {
		return nil, fmt.Errorf("unknown text encoding %q: %w", name, err)
	}
	// The index knows some names it has no implementation for.
	if enc == nil {
		return nil, fmt.Errorf("unsupported text encoding %q", name)
	}
	if enc == unicode.UTF8 {
		enc = nil
	}

	canonical, err := ianaindex.MIME.Name(orUTF8(enc))
	if err != nil || canonical == "" {
		canonical = name
	}
	return &Codec{name: canonical, enc: enc}, nil
}

// Name returns the canonical IANA name of the character set.
func (c *Codec) Name() string { return c.name }

// Decode converts raw wire bytes to a UTF-8 string.
func (c *Codec) Decode(raw []byte) (string, error) {
	if c.enc == nil {
		return string(raw), nil
	}
	out, err := c.enc.NewDecoder().Bytes(raw)
	if err != nil {
		return "", fmt.Errorf("decoding %s text: %w", c.name, err)
	}
	return string(out), nil
}

// Encode converts a UTF-8 string to wire bytes. Characters the target set
// can't represent are an error rather than silently replaced.
func (c *Codec) Encode(text string) ([]byte, error) {
	if c.enc == nil {
		return []byte(text), nil
	}
	out, err := c.enc.NewEncoder().Bytes([]byte(text))
	if err != nil {
		return nil, fmt.Errorf("encoding %s text: %w", c.name, err)
	}
	return out, nil
}

func orUTF8(enc encoding.Encoding) encoding.Encoding {
	if enc == nil {
		return unicode.UTF8
	}
	return enc
}

package serial

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
)

var escapes = strings.NewReplacer(
	`\\`, `\`,
	`\r`, "\r",
	`\n`, "\n",
	`\t`, "\t",
	`\0`, "\x00",
)

// DecodeDelimiter turns the escape notation used in configuration
// (\r, \n, \t, \0 and \\) into the raw delimiter bytes.
func DecodeDelimiter(s string) []byte {
	return []byte(escapes.Replace(s))
}

// LookupCharset returns the decoder for an IANA charset name.
func LookupCharset(name string) (encoding.Encoding, error) {
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil {
		return nil, fmt.Errorf("charset %q: %w", name, err)
	}

	if enc == nil {
		return nil, fmt.Errorf("charset %q: %w", name, errUnsupportedCharset)
	}

	return enc, nil
}

// Framer accumulates read chunks into delimiter-terminated frames.
type Framer struct {
	delimiter []byte
	buf       []byte
}

// NewFramer creates a framer for the raw delimiter.
func NewFramer(delimiter []byte) *Framer {
	return &Framer{delimiter: delimiter}
}

// Feed appends chunk and returns the buffered frame once the buffer ends with
// the delimiter. The frame includes the delimiter and the buffer is reset.
func (f *Framer) Feed(chunk []byte) ([]byte, bool) {
	f.buf = append(f.buf, chunk...)

	if len(f.delimiter) == 0 || !bytes.HasSuffix(f.buf, f.delimiter) {
		return nil, false
	}

	frame := f.buf
	f.buf = nil

	return frame, true
}

// Buffered returns the number of bytes waiting for a delimiter.
func (f *Framer) Buffered() int {
	return len(f.buf)
}

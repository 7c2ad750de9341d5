package mail

import (
	"encoding/binary"

	"github.com/zeebo/blake3"
)

// DefaultWindowSize is how many recent fingerprints are remembered.
const DefaultWindowSize = 3

// Fingerprint identifies a message by content.
type Fingerprint [32]byte

// FingerprintOf hashes subject, sender, text and html in that order.
// Fields are length-prefixed so that moving bytes between them changes the
// result.
func FingerprintOf(msg *Message) Fingerprint {
	hasher := blake3.New()

	var prefix [binary.MaxVarintLen64]byte

	for _, field := range []string{msg.Subject, msg.Sender, msg.Text, msg.HTML} {
		n := binary.PutUvarint(prefix[:], uint64(len(field)))
		_, _ = hasher.Write(prefix[:n])
		_, _ = hasher.Write([]byte(field))
	}

	var fp Fingerprint

	copy(fp[:], hasher.Sum(nil))

	return fp
}

// Window remembers the most recent fingerprints, oldest evicted first.
// It is used by the single consumer only and is not safe for concurrent use.
type Window struct {
	size    int
	entries []Fingerprint
}

// NewWindow creates a window of the given size.
func NewWindow(size int) *Window {
	if size <= 0 {
		size = DefaultWindowSize
	}

	return &Window{
		size:    size,
		entries: make([]Fingerprint, 0, size),
	}
}

// Add records fp and reports whether it was not in the window yet.
// A repeat is not re-recorded.
func (w *Window) Add(fp Fingerprint) bool {
	for _, seen := range w.entries {
		if seen == fp {
			return false
		}
	}

	if len(w.entries) == w.size {
		copy(w.entries, w.entries[1:])
		w.entries = w.entries[:w.size-1]
	}

	w.entries = append(w.entries, fp)

	return true
}

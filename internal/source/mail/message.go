package mail

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset" // Registers legacy charsets for header and body decoding.
	msgmail "github.com/emersion/go-message/mail"
)

// ErrMalformedMessage is returned when a raw message cannot be parsed as MIME.
var ErrMalformedMessage = errors.New("malformed message")

const (
	mediaTypePlain = "text/plain"
	mediaTypeHTML  = "text/html"
)

// Message is the part of a mail the listener works with.
type Message struct {
	// ID is the Message-Id header.
	ID string
	// Subject is the decoded Subject header.
	Subject string
	// From is the raw From header.
	From string
	// Sender is the bare address extracted from From.
	Sender string
	// Date is the Date header or the receipt time when it is missing.
	Date time.Time
	// Text holds the concatenated text/plain parts.
	Text string
	// HTML holds the concatenated text/html parts.
	HTML string
}

// ParseMessage reads an RFC 822 message.
func ParseMessage(raw []byte, receivedAt time.Time) (*Message, error) {
	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !tolerable(err) {
		return nil, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}

	header := msgmail.Header{Header: entity.Header}

	subject, err := header.Subject()
	if err != nil {
		subject = header.Get("Subject")
	}

	date, err := header.Date()
	if err != nil || date.IsZero() {
		date = receivedAt
	}

	from := header.Get("From")

	msg := &Message{
		ID:      strings.Trim(header.Get("Message-Id"), "<> "),
		Subject: strings.TrimSpace(subject),
		From:    from,
		Sender:  ExtractAddress(from),
		Date:    date,
	}

	if err = collectBodies(entity, msg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}

	return msg, nil
}

// tolerable reports errors after which the entity is still readable as-is.
func tolerable(err error) bool {
	return message.IsUnknownCharset(err) || message.IsUnknownEncoding(err)
}

// collectBodies walks the MIME tree depth-first and appends every text leaf.
func collectBodies(entity *message.Entity, msg *Message) error {
	if mr := entity.MultipartReader(); mr != nil {
		for {
			part, err := mr.NextPart()
			if errors.Is(err, io.EOF) {
				return nil
			}

			if err != nil && (part == nil || !tolerable(err)) {
				return err
			}

			if err = collectBodies(part, msg); err != nil {
				return err
			}
		}
	}

	mediaType, _, err := entity.Header.ContentType()
	if err != nil || mediaType == "" {
		mediaType = mediaTypePlain
	}

	if mediaType != mediaTypePlain && mediaType != mediaTypeHTML {
		return nil
	}

	body, err := io.ReadAll(entity.Body)
	if err != nil {
		return fmt.Errorf("read %s part: %w", mediaType, err)
	}

	if mediaType == mediaTypePlain {
		msg.Text += string(body)
	} else {
		msg.HTML += string(body)
	}

	return nil
}

// ExtractAddress returns the address inside the last <...> of a From value
// or the trimmed value itself.
func ExtractAddress(from string) string {
	start := strings.LastIndex(from, "<")
	end := strings.LastIndex(from, ">")

	if start >= 0 && end > start {
		return strings.TrimSpace(from[start+1 : end])
	}

	return strings.TrimSpace(from)
}

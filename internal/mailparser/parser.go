package mailparser

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/oshokin/alarm-relay/internal/config"
	"github.com/oshokin/alarm-relay/internal/domain/alarm"
)

// Parser extracts alarm fields from mail bodies.
type Parser interface {
	Parse(text, htmlBody string, a *alarm.Alarm, src *config.MailSource) (string, error)
}

// ParserFunc adapts a function to Parser.
type ParserFunc func(text, htmlBody string, a *alarm.Alarm, src *config.MailSource) (string, error)

// Parse calls f.
func (f ParserFunc) Parse(text, htmlBody string, a *alarm.Alarm, src *config.MailSource) (string, error) {
	return f(text, htmlBody, a, src)
}

// Schema identifiers of the built-in parsers.
const (
	SchemaPlaintext = "plaintext"
	SchemaMock      = "mock"
)

var (
	// ErrUnknownSchema is returned by Lookup for unregistered schemas.
	ErrUnknownSchema = errors.New("unknown mail schema")
	// ErrEmptyBody is returned when a mail carries neither text nor html.
	ErrEmptyBody = errors.New("mail has no body")
)

// Lookup returns the parser registered for schema.
//
//nolint:ireturn // Parsers are selected by schema at runtime.
func Lookup(schema string) (Parser, error) {
	switch strings.ToLower(strings.TrimSpace(schema)) {
	case SchemaPlaintext, "":
		return ParserFunc(parsePlaintext), nil
	case SchemaMock:
		return ParserFunc(parseMock), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSchema, schema)
	}
}

// blockTags end a line of text.
var blockTags = map[atom.Atom]bool{
	atom.Br: true, atom.P: true, atom.Div: true, atom.Tr: true, atom.Li: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Table: true, atom.Ul: true, atom.Ol: true,
}

// stripHTML reduces an html body to its text lines. Comments, script and
// style content are skipped.
func stripHTML(body string) string {
	var (
		out     strings.Builder
		skipped int
	)

	tokenizer := html.NewTokenizer(strings.NewReader(body))

	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return strings.ReplaceAll(out.String(), "\u00a0", " ")
		case html.TextToken:
			if skipped == 0 {
				out.Write(tokenizer.Text())
			}
		case html.StartTagToken:
			name, _ := tokenizer.TagName()

			switch tag := atom.Lookup(name); {
			case tag == atom.Script || tag == atom.Style:
				skipped++
			case tag == atom.Br:
				out.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := tokenizer.TagName()

			switch tag := atom.Lookup(name); {
			case tag == atom.Script || tag == atom.Style:
				if skipped > 0 {
					skipped--
				}
			case blockTags[tag]:
				out.WriteByte('\n')
			}
		case html.SelfClosingTagToken:
			name, _ := tokenizer.TagName()
			if blockTags[atom.Lookup(name)] {
				out.WriteByte('\n')
			}
		case html.CommentToken, html.DoctypeToken:
		}
	}
}

// parsePlaintext appends the text body (or the stripped html body) to the
// alarm text and takes the first non-empty line as title when none is set.
func parsePlaintext(text, htmlBody string, a *alarm.Alarm, _ *config.MailSource) (string, error) {
	body := strings.TrimSpace(text)
	if body == "" {
		body = strings.TrimSpace(stripHTML(htmlBody))
	}

	if body == "" {
		return "", ErrEmptyBody
	}

	lines := make([]string, 0)

	for _, line := range strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}

	if a.Title == "" {
		a.Title = lines[0]
	}

	a.AppendText(strings.Join(lines, "\n"))

	return fmt.Sprintf("plaintext parser: %d lines", len(lines)), nil
}

// parseMock leaves the alarm untouched.
func parseMock(text, _ string, _ *alarm.Alarm, _ *config.MailSource) (string, error) {
	return fmt.Sprintf("mock parser: %d bytes", len(text)), nil
}

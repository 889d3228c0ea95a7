// Package mailparse converts raw RFC 5322 bytes into the structured record
// the store persists: decoded headers, recipients by kind, text/html bodies
// and a display snippet.
package mailparse

import (
	"bytes"
	"fmt"
	stdhtml "html"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset" // registers charset decoding
	"github.com/emersion/go-message/mail"
	"github.com/pkg/errors"

	"github.com/HierarchThurs/Argus/pkg/base"
)

const (
	snippetRunes    = 200
	messageIDMaxLen = 255
)

// Address is a decoded mailbox with optional display name.
type Address struct {
	Name    string
	Address string
}

// Recipient is one decoded recipient entry.
type Recipient struct {
	Kind    string // base.RecipientTo, Cc, Bcc, ReplyTo
	Name    string
	Address string
}

// ParsedMessage is the structured form of one email.
type ParsedMessage struct {
	MessageID  string // empty when the header is absent; caller synthesizes
	Subject    string
	Sender     Address
	Recipients []Recipient
	Text       string
	HTML       string
	Date       time.Time // zero when the header is absent or malformed
	Snippet    string
}

var recipientHeaders = []struct {
	header string
	kind   string
}{
	{"To", base.RecipientTo},
	{"Cc", base.RecipientCc},
	{"Bcc", base.RecipientBcc},
	{"Reply-To", base.RecipientReplyTo},
}

// Parse decodes raw message bytes. Unknown charsets degrade to the raw bytes
// rather than failing the whole message.
func Parse(raw []byte) (*ParsedMessage, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, errors.Wrap(err, "read message")
	}

	parsed := &ParsedMessage{}
	header := mr.Header

	if id, err := header.MessageID(); err == nil {
		parsed.MessageID = truncate(id, messageIDMaxLen)
	}
	if subject, err := header.Subject(); err == nil {
		parsed.Subject = subject
	}
	if date, err := header.Date(); err == nil {
		parsed.Date = date
	}

	if from, err := header.AddressList("From"); err == nil && len(from) > 0 {
		parsed.Sender = Address{Name: from[0].Name, Address: strings.TrimSpace(from[0].Address)}
	}

	for _, rh := range recipientHeaders {
		list, err := header.AddressList(rh.header)
		if err != nil {
			continue
		}
		for _, addr := range list {
			address := strings.TrimSpace(addr.Address)
			if address == "" {
				continue
			}
			parsed.Recipients = append(parsed.Recipients, Recipient{
				Kind:    rh.kind,
				Name:    addr.Name,
				Address: address,
			})
		}
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			if message.IsUnknownCharset(err) {
				continue
			}
			// Remaining parts are unreadable; keep what was decoded.
			break
		}

		inline, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		mediaType, _, err := inline.ContentType()
		if err != nil {
			continue
		}

		switch mediaType {
		case "text/plain":
			if parsed.Text == "" {
				body, _ := io.ReadAll(part.Body)
				parsed.Text = string(body)
			}
		case "text/html":
			if parsed.HTML == "" {
				body, _ := io.ReadAll(part.Body)
				parsed.HTML = string(body)
			}
		}
	}

	parsed.Snippet = BuildSnippet(parsed.Text, parsed.HTML)
	return parsed, nil
}

// FallbackMessageID synthesizes a stable identifier for messages that carry
// no Message-ID header.
func FallbackMessageID(folder string, uid uint32) string {
	return truncate(fmt.Sprintf("missing-%s-%d", folder, uid), messageIDMaxLen)
}

var (
	scriptStyleRe = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)\s*>`)
	tagRe         = regexp.MustCompile(`<[^>]+>`)
)

// StripHTML removes script and style element contents, then all remaining
// tags, and unescapes entities.
func StripHTML(html string) string {
	out := scriptStyleRe.ReplaceAllString(html, " ")
	out = tagRe.ReplaceAllString(out, " ")
	return stdhtml.UnescapeString(out)
}

// BuildSnippet produces the listing preview: the text body (or HTML stripped
// of markup as a fallback) with whitespace runs collapsed, truncated to 200
// characters.
func BuildSnippet(text, html string) string {
	source := text
	if strings.TrimSpace(source) == "" {
		source = StripHTML(html)
	}
	collapsed := strings.Join(strings.Fields(source), " ")
	return truncate(collapsed, snippetRunes)
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

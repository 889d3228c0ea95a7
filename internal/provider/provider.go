// Package provider supplies per-vendor IMAP behavior: default endpoints,
// post-login requirements, UID-search dialect and connect timeouts.
package provider

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
)

type Kind string

const (
	KindQQ          Kind = "QQ"
	KindNetease163  Kind = "NETEASE_163"
	KindNetease126  Kind = "NETEASE_126"
	KindNeteaseYeah Kind = "NETEASE_YEAH"
	KindSchool      Kind = "SCHOOL_DEFAULT"
	KindCustom      Kind = "CUSTOM"
)

// SearchDialect selects how uid_search_since is issued on the wire.
type SearchDialect int

const (
	// SequenceThenFetchUID sends SEARCH UID N:*, receives sequence numbers
	// and resolves them to UIDs with a FETCH (UID).
	SequenceThenFetchUID SearchDialect = iota
	// RawUIDSearch sends UID SEARCH N:* at the protocol layer and treats the
	// result as UIDs. Netease servers reject the CHARSET parameter generic
	// search encoders inject, so the Netease family requires this dialect.
	RawUIDSearch
)

// Endpoints are the default connection coordinates for a provider.
type Endpoints struct {
	IMAPHost string
	IMAPPort int
	SMTPHost string
	SMTPPort int
	UseSSL   bool
}

// Provider describes one vendor profile.
type Provider struct {
	Kind       Kind
	Endpoints  *Endpoints // nil when the account must supply its own
	RequiresID bool       // post-login ID command is mandatory
	Dialect    SearchDialect
	Timeout    time.Duration
}

// Client identification sent with the post-login ID command. Netease rejects
// SELECT with "Unsafe Login" unless the client identifies itself first.
const (
	idName    = "argus"
	idVersion = "1.0.0"
	idVendor  = "argusmail"
)

// IDArguments renders the ID command argument as a single parenthesized list
// of key/value pairs. The exact tokenization matters: nested lists or a NIL
// are not accepted by the Netease servers.
func (p Provider) IDArguments() string {
	return fmt.Sprintf(`("name" %q "version" %q "vendor" %q)`, idName, idVersion, idVendor)
}

var ErrUnknownKind = errors.New("unknown provider kind")

var registry = map[Kind]Provider{
	KindQQ: {
		Kind:      KindQQ,
		Endpoints: &Endpoints{IMAPHost: "imap.qq.com", IMAPPort: 993, SMTPHost: "smtp.qq.com", SMTPPort: 465, UseSSL: true},
		Dialect:   SequenceThenFetchUID,
		Timeout:   30 * time.Second,
	},
	KindNetease163: {
		Kind:       KindNetease163,
		Endpoints:  &Endpoints{IMAPHost: "imap.163.com", IMAPPort: 993, SMTPHost: "smtp.163.com", SMTPPort: 465, UseSSL: true},
		RequiresID: true,
		Dialect:    RawUIDSearch,
		Timeout:    60 * time.Second,
	},
	KindNetease126: {
		Kind:       KindNetease126,
		Endpoints:  &Endpoints{IMAPHost: "imap.126.com", IMAPPort: 993, SMTPHost: "smtp.126.com", SMTPPort: 465, UseSSL: true},
		RequiresID: true,
		Dialect:    RawUIDSearch,
		Timeout:    60 * time.Second,
	},
	KindNeteaseYeah: {
		Kind:       KindNeteaseYeah,
		Endpoints:  &Endpoints{IMAPHost: "imap.yeah.net", IMAPPort: 993, SMTPHost: "smtp.yeah.net", SMTPPort: 465, UseSSL: true},
		RequiresID: true,
		Dialect:    RawUIDSearch,
		Timeout:    60 * time.Second,
	},
	KindSchool: {
		Kind:      KindSchool,
		Endpoints: &Endpoints{IMAPHost: "mail.hhstu.edu.cn", IMAPPort: 993, SMTPHost: "mail.hhstu.edu.cn", SMTPPort: 465, UseSSL: true},
		Dialect:   SequenceThenFetchUID,
		Timeout:   30 * time.Second,
	},
	KindCustom: {
		Kind:    KindCustom,
		Dialect: SequenceThenFetchUID,
		Timeout: 30 * time.Second,
	},
}

var domainKinds = map[string]Kind{
	"qq.com":       KindQQ,
	"163.com":      KindNetease163,
	"126.com":      KindNetease126,
	"yeah.net":     KindNeteaseYeah,
	"hhstu.edu.cn": KindSchool,
}

// ForKind returns the provider registered under kind.
func ForKind(kind Kind) (Provider, error) {
	p, ok := registry[kind]
	if !ok {
		return Provider{}, errors.Wrapf(ErrUnknownKind, "%q", kind)
	}
	return p, nil
}

// ForAddress resolves a provider from the domain part of an email address,
// falling back to CUSTOM for unknown domains.
func ForAddress(address string) Provider {
	at := strings.LastIndex(address, "@")
	if at >= 0 {
		domain := strings.ToLower(strings.TrimSpace(address[at+1:]))
		if kind, ok := domainKinds[domain]; ok {
			return registry[kind]
		}
	}
	return registry[KindCustom]
}

// QuoteMailbox wraps a mailbox name in double quotes when it contains a space
// or a quote, escaping backslashes and quotes. Names that arrive already
// quoted are left alone.
func QuoteMailbox(name string) string {
	if len(name) >= 2 && strings.HasPrefix(name, `"`) && strings.HasSuffix(name, `"`) {
		return name
	}
	if !strings.ContainsAny(name, ` "`) {
		return name
	}
	escaped := strings.ReplaceAll(name, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	return `"` + escaped + `"`
}

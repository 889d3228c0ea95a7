// Package whitelist holds the in-memory rule matcher consulted synchronously
// by the detection pipeline, plus URL extraction helpers.
package whitelist

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/HierarchThurs/Argus/internal/store"
	"github.com/HierarchThurs/Argus/pkg/base"
)

// Rule is one active whitelist entry in matcher form.
type Rule struct {
	Kind  string
	Value string
}

// RuleSource supplies the active rules; satisfied by *store.Store.
type RuleSource interface {
	ActiveSenderRules(ctx context.Context) ([]store.SenderWhitelistRule, error)
	ActiveURLRules(ctx context.Context) ([]store.URLWhitelistRule, error)
}

// Matcher caches the full active rule set in memory. Reads are lock-free
// behind an RW lock; writes happen only through Refresh.
type Matcher struct {
	source RuleSource
	logger *slog.Logger

	mu          sync.RWMutex
	senderRules []Rule
	urlRules    []Rule
}

func NewMatcher(source RuleSource, logger *slog.Logger) *Matcher {
	return &Matcher{source: source, logger: logger}
}

// Refresh reloads both rule sets. Call after any rule mutation.
func (m *Matcher) Refresh(ctx context.Context) error {
	senderRows, err := m.source.ActiveSenderRules(ctx)
	if err != nil {
		return err
	}
	urlRows, err := m.source.ActiveURLRules(ctx)
	if err != nil {
		return err
	}

	senders := make([]Rule, 0, len(senderRows))
	for _, r := range senderRows {
		senders = append(senders, Rule{Kind: r.RuleKind, Value: normalizeValue(r.RuleValue)})
	}
	urls := make([]Rule, 0, len(urlRows))
	for _, r := range urlRows {
		urls = append(urls, Rule{Kind: r.RuleKind, Value: normalizeValue(r.RuleValue)})
	}

	m.mu.Lock()
	m.senderRules = senders
	m.urlRules = urls
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "whitelist cache refreshed",
		slog.Int("sender_rules", len(senders)), slog.Int("url_rules", len(urls)))
	return nil
}

// SenderWhitelisted reports whether the sender address matches any active
// sender rule.
func (m *Matcher) SenderWhitelisted(address string) bool {
	address = strings.ToLower(strings.TrimSpace(address))
	if address == "" {
		return false
	}
	domain := addressDomain(address)

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, rule := range m.senderRules {
		if rule.Kind == base.RuleEmail {
			if address == rule.Value {
				return true
			}
			continue
		}
		if matchDomain(rule, domain) {
			return true
		}
	}
	return false
}

// URLWhitelisted reports whether the URL's hostname matches any active URL
// rule.
func (m *Matcher) URLWhitelisted(raw string) bool {
	host := Hostname(raw)
	if host == "" {
		return false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, rule := range m.urlRules {
		if matchDomain(rule, host) {
			return true
		}
	}
	return false
}

// AllURLsWhitelisted reports whether the set is non-empty and every URL in it
// matches at least one active rule. An empty set never counts as whitelisted.
func (m *Matcher) AllURLsWhitelisted(urls []string) bool {
	if len(urls) == 0 {
		return false
	}
	for _, u := range urls {
		if !m.URLWhitelisted(u) {
			return false
		}
	}
	return true
}

// matchDomain applies the domain rule semantics. DOMAIN-SUFFIX deliberately
// requires equality or a "." boundary so evilqq.com never matches qq.com.
func matchDomain(rule Rule, domain string) bool {
	if domain == "" || rule.Value == "" {
		return false
	}
	switch rule.Kind {
	case base.RuleDomain:
		return domain == rule.Value
	case base.RuleDomainSuffix:
		return domain == rule.Value || strings.HasSuffix(domain, "."+rule.Value)
	case base.RuleDomainKeyword:
		return strings.Contains(domain, rule.Value)
	}
	return false
}

func addressDomain(address string) string {
	at := strings.LastIndex(address, "@")
	if at < 0 || at == len(address)-1 {
		return ""
	}
	return address[at+1:]
}

func normalizeValue(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

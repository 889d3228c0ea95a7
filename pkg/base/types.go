package base

import (
	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/responses"
)

// Phishing classification levels, ordered NORMAL < SUSPICIOUS < HIGH_RISK.
const (
	LevelNormal     = "NORMAL"
	LevelSuspicious = "SUSPICIOUS"
	LevelHighRisk   = "HIGH_RISK"
)

// Detection lifecycle states for a message.
const (
	StatusPending   = "PENDING"
	StatusCompleted = "COMPLETED"
)

// Recipient kinds as stored alongside a message.
const (
	RecipientTo      = "TO"
	RecipientCc      = "CC"
	RecipientBcc     = "BCC"
	RecipientReplyTo = "REPLY_TO"
)

// Whitelist rule kinds shared by sender and URL rules.
const (
	RuleEmail         = "EMAIL"
	RuleDomain        = "DOMAIN"
	RuleDomainSuffix  = "DOMAIN-SUFFIX"
	RuleDomainKeyword = "DOMAIN-KEYWORD"
)

// LevelRank orders phishing levels for max-combination.
func LevelRank(level string) int {
	switch level {
	case LevelHighRisk:
		return 2
	case LevelSuspicious:
		return 1
	default:
		return 0
	}
}

// Client is an interface to abstract the client.Client methods used.
type Client interface {
	Execute(cmdr imap.Commander, h responses.Handler) (*imap.StatusResp, error)
	Fetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
	List(ref, name string, ch chan *imap.MailboxInfo) error
	Login(username string, password string) error
	Logout() error
	Search(criteria *imap.SearchCriteria) (seqNums []uint32, err error)
	Select(name string, readOnly bool) (*imap.MailboxStatus, error)
	State() imap.ConnState
	Status(name string, items []imap.StatusItem) (*imap.MailboxStatus, error)
	UidFetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
	UidSearch(criteria *imap.SearchCriteria) (uids []uint32, err error)
}

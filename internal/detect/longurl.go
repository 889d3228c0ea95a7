package detect

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/HierarchThurs/Argus/internal/whitelist"
	"github.com/HierarchThurs/Argus/pkg/base"
)

// Default URL length thresholds.
const (
	DefaultHighRiskURLLength   = 150
	DefaultSuspiciousURLLength = 100
)

// domainLikeRe recognizes anchor display text that itself looks like a bare
// domain, the bait half of a disguised hyperlink.
var domainLikeRe = regexp.MustCompile(`^(www\.)?[\w\-]+\.[a-z]{2,}$`)

// LongURLDetector flags messages carrying suspiciously long URLs or anchors
// whose visible text names one domain while the href leads to another.
type LongURLDetector struct {
	HighRiskLength   int
	SuspiciousLength int
	mapper           ScoreMapper
}

func NewLongURLDetector(mapper ScoreMapper) *LongURLDetector {
	return &LongURLDetector{
		HighRiskLength:   DefaultHighRiskURLLength,
		SuspiciousLength: DefaultSuspiciousURLLength,
		mapper:           mapper,
	}
}

func (d *LongURLDetector) Name() string { return "long_url" }

// Detect inspects every extracted URL, whitelist rules deliberately not
// applied. Length comparison is strict: exactly HighRiskLength does not fire.
func (d *LongURLDetector) Detect(ctx context.Context, in Input) Result {
	urls := whitelist.ExtractURLs(in.Text, in.HTML)

	var overlong, middling []int
	for _, u := range urls {
		n := len(u)
		switch {
		case n > d.HighRiskLength:
			overlong = append(overlong, n)
		case n > d.SuspiciousLength:
			middling = append(middling, n)
		}
	}

	if len(overlong) > 0 {
		return Result{
			Level: base.LevelHighRisk,
			Score: 1.0,
			Reason: fmt.Sprintf("%d url(s) longer than %d chars (lengths %v)",
				len(overlong), d.HighRiskLength, sample(overlong, 3)),
		}
	}

	if anchor, ok := d.disguisedAnchor(in.HTML); ok {
		return Result{
			Level: base.LevelHighRisk,
			Score: 0.9,
			Reason: fmt.Sprintf("disguised hyperlink: text %q links to %q",
				anchor.Text, whitelist.Hostname(anchor.Href)),
		}
	}

	if len(middling) > 0 {
		return Result{
			Level: base.LevelSuspicious,
			Score: d.mapper.SuspiciousThreshold,
			Reason: fmt.Sprintf("%d url(s) longer than %d chars",
				len(middling), d.SuspiciousLength),
		}
	}

	return normalResult()
}

// disguisedAnchor finds an anchor whose display text reads as a domain while
// the href points somewhere else and is itself a long URL.
func (d *LongURLDetector) disguisedAnchor(htmlBody string) (whitelist.Anchor, bool) {
	for _, anchor := range whitelist.ExtractAnchors(htmlBody) {
		text := strings.ToLower(strings.TrimSpace(anchor.Text))
		if !domainLikeRe.MatchString(text) {
			continue
		}
		if len(anchor.Href) <= d.SuspiciousLength {
			continue
		}
		textDomain := strings.TrimPrefix(text, "www.")
		hrefDomain := strings.TrimPrefix(whitelist.Hostname(anchor.Href), "www.")
		if hrefDomain != "" && hrefDomain != textDomain {
			return anchor, true
		}
	}
	return whitelist.Anchor{}, false
}

func sample(values []int, max int) []int {
	if len(values) <= max {
		return values
	}
	return values[:max]
}

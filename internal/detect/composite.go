package detect

import (
	"context"
	"strings"

	"github.com/HierarchThurs/Argus/pkg/base"
)

// Composite runs every detector and combines the verdicts pessimistically:
// the highest level wins, the highest score wins, and the reasons of every
// non-NORMAL verdict are joined.
type Composite struct {
	detectors []Detector
}

func NewComposite(detectors ...Detector) *Composite {
	return &Composite{detectors: detectors}
}

func (c *Composite) Name() string { return "composite" }

func (c *Composite) Detect(ctx context.Context, in Input) Result {
	combined := normalResult()
	var reasons []string

	for _, d := range c.detectors {
		r := d.Detect(ctx, in)
		if base.LevelRank(r.Level) > base.LevelRank(combined.Level) {
			combined.Level = r.Level
		}
		if r.Score > combined.Score {
			combined.Score = r.Score
		}
		if r.Level != base.LevelNormal && r.Reason != "" {
			reasons = append(reasons, r.Reason)
		}
	}

	combined.Reason = strings.Join(reasons, "; ")
	return combined
}

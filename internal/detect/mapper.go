package detect

import "github.com/HierarchThurs/Argus/pkg/base"

// Default score thresholds. Fixed configuration of the mapper, never tuned
// per message.
const (
	DefaultSuspiciousThreshold = 0.6
	DefaultHighRiskThreshold   = 0.8
)

// ScoreMapper translates raw scores into phishing levels.
type ScoreMapper struct {
	SuspiciousThreshold float64
	HighRiskThreshold   float64
}

func NewScoreMapper() ScoreMapper {
	return ScoreMapper{
		SuspiciousThreshold: DefaultSuspiciousThreshold,
		HighRiskThreshold:   DefaultHighRiskThreshold,
	}
}

// Clamp bounds a score to [0,1].
func (m ScoreMapper) Clamp(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// Level maps a score onto a level. Thresholds are inclusive: exactly 0.6 is
// SUSPICIOUS, exactly 0.8 is HIGH_RISK.
func (m ScoreMapper) Level(score float64) string {
	score = m.Clamp(score)
	switch {
	case score >= m.HighRiskThreshold:
		return base.LevelHighRisk
	case score >= m.SuspiciousThreshold:
		return base.LevelSuspicious
	default:
		return base.LevelNormal
	}
}

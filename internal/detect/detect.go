// Package detect implements the phishing classification pipeline: whitelist
// short-circuits, the long-URL rule detector, the ML classifier and the
// composite combiner that writes results and emits events.
package detect

import (
	"context"
	"strings"

	"github.com/HierarchThurs/Argus/pkg/base"
)

// Input is the analyzable content of one message.
type Input struct {
	Subject string
	Text    string
	HTML    string
}

// JoinedText concatenates the non-empty parts with single spaces, the form
// the ML classifier scores.
func (in Input) JoinedText() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{in.Subject, in.Text, in.HTML} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// Result is one detector's verdict.
type Result struct {
	Level  string
	Score  float64
	Reason string
}

// Detector scores message content. Detectors degrade internally rather than
// failing: a detector that cannot run returns a NORMAL result with a reason.
type Detector interface {
	Name() string
	Detect(ctx context.Context, in Input) Result
}

func normalResult() Result {
	return Result{Level: base.LevelNormal, Score: 0}
}

package detect_test

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/HierarchThurs/Argus/internal/detect"
	"github.com/HierarchThurs/Argus/pkg/base"
)

// urlOfLength builds a URL whose total length is exactly n.
func urlOfLength(t *testing.T, n int) string {
	t.Helper()
	prefix := "https://example.com/"
	if n < len(prefix) {
		t.Fatalf("length %d shorter than prefix", n)
	}
	return prefix + strings.Repeat("a", n-len(prefix))
}

func TestLongURLDetectorOverlong(t *testing.T) {
	d := detect.NewLongURLDetector(detect.NewScoreMapper())

	text := "click " + urlOfLength(t, 151)
	result := d.Detect(context.Background(), detect.Input{Text: text})

	assert.Equal(t, base.LevelHighRisk, result.Level)
	assert.Equal(t, 1.0, result.Score)
	assert.Contains(t, result.Reason, "longer than 150 chars")
}

func TestLongURLDetectorBoundaryIsStrict(t *testing.T) {
	d := detect.NewLongURLDetector(detect.NewScoreMapper())

	// Exactly 150 is not overlong, but it exceeds the suspicious cut.
	text := "click " + urlOfLength(t, 150)
	result := d.Detect(context.Background(), detect.Input{Text: text})

	assert.Equal(t, base.LevelSuspicious, result.Level)
	assert.Equal(t, 0.6, result.Score)
}

func TestLongURLDetectorMiddling(t *testing.T) {
	d := detect.NewLongURLDetector(detect.NewScoreMapper())

	text := fmt.Sprintf("see %s and %s", urlOfLength(t, 101), urlOfLength(t, 120))
	result := d.Detect(context.Background(), detect.Input{Text: text})

	assert.Equal(t, base.LevelSuspicious, result.Level)
	assert.Equal(t, 0.6, result.Score)
	assert.Contains(t, result.Reason, "2 url(s) longer than 100 chars")
}

func TestLongURLDetectorDisguisedAnchor(t *testing.T) {
	d := detect.NewLongURLDetector(detect.NewScoreMapper())

	href := urlOfLength(t, 110)
	body := fmt.Sprintf(`<a href=%q>www.mybank.com</a>`, href)
	result := d.Detect(context.Background(), detect.Input{HTML: body})

	assert.Equal(t, base.LevelHighRisk, result.Level)
	assert.Equal(t, 0.9, result.Score)
	assert.Contains(t, result.Reason, "disguised hyperlink")
	assert.Contains(t, result.Reason, "www.mybank.com")
}

func TestLongURLDetectorAnchorMatchingHostIsFine(t *testing.T) {
	d := detect.NewLongURLDetector(detect.NewScoreMapper())

	// The display text names the same host the href leads to, so only the
	// plain length rule applies.
	href := "https://example.com/" + strings.Repeat("a", 90)
	body := fmt.Sprintf(`<a href=%q>example.com</a>`, href)
	result := d.Detect(context.Background(), detect.Input{HTML: body})

	assert.Equal(t, base.LevelSuspicious, result.Level)
	assert.NotContains(t, result.Reason, "disguised")
}

func TestLongURLDetectorNormal(t *testing.T) {
	d := detect.NewLongURLDetector(detect.NewScoreMapper())

	result := d.Detect(context.Background(), detect.Input{
		Text: "plain text with https://example.com/short",
		HTML: `<a href="https://example.com/x">click here</a>`,
	})

	assert.Equal(t, base.LevelNormal, result.Level)
	assert.Equal(t, 0.0, result.Score)
	assert.Empty(t, result.Reason)
}

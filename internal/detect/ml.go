package detect

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"regexp"
	"strings"

	"github.com/pkg/errors"

	"github.com/HierarchThurs/Argus/pkg/base"
)

// ErrClassifierUnavailable marks a missing or unreadable model artifact.
var ErrClassifierUnavailable = errors.New("ml classifier unavailable")

const unavailableReason = "ml classifier unavailable"

// tokenRe mirrors the vectorizer's token pattern: runs of at least two word
// characters, unicode-aware.
var tokenRe = regexp.MustCompile(`[\p{L}\p{N}_]{2,}`)

// mlArtifact is the JSON export of the fitted TF-IDF vectorizer and the
// dense network weights. Dropout layers carry no weights and are not part of
// the artifact; they are inference no-ops anyway.
type mlArtifact struct {
	Vocabulary map[string]int `json:"vocabulary"`
	IDF        []float64      `json:"idf"`
	Layers     []mlLayer      `json:"layers"`
}

type mlLayer struct {
	Weights    [][]float64 `json:"weights"` // [input][output]
	Bias       []float64   `json:"bias"`
	Activation string      `json:"activation"` // relu | sigmoid | linear
}

// MLClassifier scores text with the trained artifact. When the artifact is
// missing the classifier stays registered but contributes a zero score, so
// the rule detectors still run.
type MLClassifier struct {
	artifact *mlArtifact
	mapper   ScoreMapper
	logger   *slog.Logger
}

// NewMLClassifier loads the artifact at path. Load failure is non-fatal and
// logged once; the classifier then runs in degraded mode.
func NewMLClassifier(path string, mapper ScoreMapper, logger *slog.Logger) *MLClassifier {
	c := &MLClassifier{mapper: mapper, logger: logger}

	artifact, err := loadArtifact(path)
	if err != nil {
		logger.Warn("ml artifact unavailable, detection degrades to rule detectors",
			slog.String("path", path), slog.Any("error", err))
		return c
	}
	c.artifact = artifact
	return c
}

func loadArtifact(path string) (*mlArtifact, error) {
	if path == "" {
		return nil, errors.Wrap(ErrClassifierUnavailable, "no artifact path configured")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(ErrClassifierUnavailable, "read artifact: %v", err)
	}

	var artifact mlArtifact
	if err := json.Unmarshal(raw, &artifact); err != nil {
		return nil, errors.Wrapf(ErrClassifierUnavailable, "decode artifact: %v", err)
	}
	if len(artifact.Vocabulary) == 0 || len(artifact.IDF) == 0 || len(artifact.Layers) == 0 {
		return nil, errors.Wrap(ErrClassifierUnavailable, "artifact incomplete")
	}
	return &artifact, nil
}

// Available reports whether the artifact loaded.
func (c *MLClassifier) Available() bool { return c.artifact != nil }

func (c *MLClassifier) Name() string { return "ml" }

// Detect vectorizes the joined subject/text/html and runs the forward pass.
func (c *MLClassifier) Detect(ctx context.Context, in Input) Result {
	if c.artifact == nil {
		r := normalResult()
		r.Reason = unavailableReason
		return r
	}

	score := c.mapper.Clamp(c.predict(in.JoinedText()))
	level := c.mapper.Level(score)

	r := Result{Level: level, Score: score}
	if level != base.LevelNormal {
		r.Reason = fmt.Sprintf("ml classifier score %.2f", score)
	}
	return r
}

// predict runs TF-IDF vectorization and the dense forward pass.
func (c *MLClassifier) predict(text string) float64 {
	x := c.vectorize(text)
	for _, layer := range c.artifact.Layers {
		x = forward(x, layer)
	}
	if len(x) == 0 {
		return 0
	}
	return x[0]
}

// vectorize builds the L2-normalized TF-IDF row for the text.
func (c *MLClassifier) vectorize(text string) []float64 {
	x := make([]float64, len(c.artifact.IDF))
	for _, token := range tokenRe.FindAllString(strings.ToLower(text), -1) {
		if col, ok := c.artifact.Vocabulary[token]; ok && col < len(x) {
			x[col]++
		}
	}

	var norm float64
	for i, count := range x {
		x[i] = count * c.artifact.IDF[i]
		norm += x[i] * x[i]
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range x {
			x[i] /= norm
		}
	}
	return x
}

func forward(in []float64, layer mlLayer) []float64 {
	out := make([]float64, len(layer.Bias))
	copy(out, layer.Bias)
	for i, v := range in {
		if v == 0 || i >= len(layer.Weights) {
			continue
		}
		row := layer.Weights[i]
		for j := range out {
			if j < len(row) {
				out[j] += v * row[j]
			}
		}
	}

	switch layer.Activation {
	case "relu":
		for j, v := range out {
			if v < 0 {
				out[j] = 0
			}
		}
	case "sigmoid":
		for j, v := range out {
			out[j] = 1 / (1 + math.Exp(-v))
		}
	}
	return out
}

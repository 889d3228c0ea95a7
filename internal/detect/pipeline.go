package detect

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/HierarchThurs/Argus/internal/store"
	"github.com/HierarchThurs/Argus/internal/whitelist"
	"github.com/HierarchThurs/Argus/pkg/base"
)

// Event names pushed to stream subscribers.
const (
	EventDetectionUpdate = "detection_update"
	EventBatchCompleted  = "batch_completed"
)

// Whitelist short-circuit reasons.
const (
	reasonSenderWhitelisted = "sender whitelisted"
	reasonURLsWhitelisted   = "all urls whitelisted"
)

// PipelineStore is the persistence surface the pipeline needs; satisfied by
// *store.Store.
type PipelineStore interface {
	MessageForDetection(ctx context.Context, messageID uint) (*store.DetectionTarget, error)
	UpdateClassification(ctx context.Context, messageID uint, level string, score float64, reason, status string) error
}

// SettingsSource supplies the current system settings; satisfied by
// *store.SettingsService.
type SettingsSource interface {
	Get(ctx context.Context) (*store.SystemSettings, error)
}

// SenderMatcher answers the two whitelist questions the pipeline asks;
// satisfied by *whitelist.Matcher.
type SenderMatcher interface {
	SenderWhitelisted(address string) bool
	AllURLsWhitelisted(urls []string) bool
}

// EventPublisher pushes a named event to every stream subscriber of a user.
type EventPublisher interface {
	Publish(userID uint, event string, payload interface{})
}

// DetectionUpdate is the per-message event payload.
type DetectionUpdate struct {
	EmailID        uint    `json:"email_id"`
	PhishingLevel  string  `json:"phishing_level"`
	PhishingScore  float64 `json:"phishing_score"`
	PhishingStatus string  `json:"phishing_status"`
	PhishingReason string  `json:"phishing_reason"`
}

// BatchCompleted is the end-of-batch event payload.
type BatchCompleted struct {
	Total int `json:"total"`
}

// Pipeline classifies persisted messages: whitelist short-circuits first,
// then the detector set, then the result write and the subscriber event.
type Pipeline struct {
	store    PipelineStore
	settings SettingsSource
	matcher  SenderMatcher
	ml       Detector
	longURL  Detector
	events   EventPublisher
	logger   *slog.Logger
}

type PipelineOption func(*Pipeline)

func WithEvents(events EventPublisher) PipelineOption {
	return func(p *Pipeline) { p.events = events }
}

func WithMLDetector(d Detector) PipelineOption {
	return func(p *Pipeline) { p.ml = d }
}

func WithLongURLDetector(d Detector) PipelineOption {
	return func(p *Pipeline) { p.longURL = d }
}

// NewPipeline wires the pipeline. The ML detector defaults to a classifier
// loaded from mlArtifactPath; pass WithMLDetector to override.
func NewPipeline(st PipelineStore, settings SettingsSource, matcher SenderMatcher, mlArtifactPath string, logger *slog.Logger, opts ...PipelineOption) (*Pipeline, error) {
	if st == nil {
		return nil, errors.New("store is required")
	}
	if settings == nil {
		return nil, errors.New("settings source is required")
	}
	if matcher == nil {
		return nil, errors.New("whitelist matcher is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}

	mapper := NewScoreMapper()
	p := &Pipeline{
		store:    st,
		settings: settings,
		matcher:  matcher,
		longURL:  NewLongURLDetector(mapper),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.ml == nil {
		p.ml = NewMLClassifier(mlArtifactPath, mapper, logger)
	}
	return p, nil
}

// DetectOne classifies a single message and publishes its update event. The
// owning user id is returned for batch accounting.
func (p *Pipeline) DetectOne(ctx context.Context, messageID uint) (uint, error) {
	target, err := p.store.MessageForDetection(ctx, messageID)
	if err != nil {
		return 0, err
	}

	result := p.classify(ctx, target)

	err = p.store.UpdateClassification(ctx, messageID,
		result.Level, result.Score, result.Reason, base.StatusCompleted)
	if err != nil {
		return target.OwnerUserID, err
	}

	if p.events != nil {
		p.events.Publish(target.OwnerUserID, EventDetectionUpdate, DetectionUpdate{
			EmailID:        messageID,
			PhishingLevel:  result.Level,
			PhishingScore:  result.Score,
			PhishingStatus: base.StatusCompleted,
			PhishingReason: result.Reason,
		})
	}
	return target.OwnerUserID, nil
}

// classify applies the whitelist short-circuits, then the detector set. The
// sender check runs first so whitelisted senders never reach the detectors.
func (p *Pipeline) classify(ctx context.Context, target *store.DetectionTarget) Result {
	if p.matcher.SenderWhitelisted(target.Message.SenderAddress) {
		return Result{Level: base.LevelNormal, Score: 0, Reason: reasonSenderWhitelisted}
	}

	urls := whitelist.ExtractURLs(target.Body.Text, target.Body.HTML)
	if p.matcher.AllURLsWhitelisted(urls) {
		return Result{Level: base.LevelNormal, Score: 0, Reason: reasonURLsWhitelisted}
	}

	in := Input{
		Subject: target.Message.Subject,
		Text:    target.Body.Text,
		HTML:    target.Body.HTML,
	}
	return NewComposite(p.detectors(ctx)...).Detect(ctx, in)
}

// detectors assembles the active set per current settings. The ML classifier
// always runs; the long-URL detector is toggleable.
func (p *Pipeline) detectors(ctx context.Context) []Detector {
	active := []Detector{p.ml}

	settings, err := p.settings.Get(ctx)
	if err != nil {
		p.logger.WarnContext(ctx, "settings unavailable, long url detector stays on",
			slog.Any("error", err))
		return append(active, p.longURL)
	}
	if settings.EnableLongURLDetection {
		active = append(active, p.longURL)
	}
	return active
}

// RunBatch classifies every message in ids. Per-message failures are logged
// and skipped; the message stays PENDING for a later pass. Each distinct
// owning user gets one batch_completed event carrying the size of the whole
// batch, failed detections included.
func (p *Pipeline) RunBatch(ctx context.Context, ids []uint) {
	users := make(map[uint]struct{})

	for _, id := range ids {
		userID, err := p.DetectOne(ctx, id)
		if err != nil {
			p.logger.ErrorContext(ctx, "detection failed",
				slog.Uint64("message_id", uint64(id)), slog.Any("error", err))
		}
		if userID != 0 {
			users[userID] = struct{}{}
		}
	}

	if p.events != nil {
		for userID := range users {
			p.events.Publish(userID, EventBatchCompleted, BatchCompleted{Total: len(ids)})
		}
	}
}

package store

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const settingsRowID = 1

// GetSettings loads the settings singleton.
func (s *Store) GetSettings(ctx context.Context) (*SystemSettings, error) {
	var settings SystemSettings
	if err := s.db.WithContext(ctx).First(&settings, settingsRowID).Error; err != nil {
		return nil, errors.Wrap(err, "load settings")
	}
	return &settings, nil
}

// SaveSettings updates the settings singleton.
func (s *Store) SaveSettings(ctx context.Context, enableLongURLDetection bool) (*SystemSettings, error) {
	err := s.db.WithContext(ctx).
		Model(&SystemSettings{}).
		Where("id = ?", settingsRowID).
		Update("enable_long_url_detection", enableLongURLDetection).Error
	if err != nil {
		return nil, errors.Wrap(err, "save settings")
	}
	return s.GetSettings(ctx)
}

// SettingsService caches the settings singleton for a short TTL so the
// detection pipeline does not hit the database per message. Writes invalidate
// the cache immediately.
type SettingsService struct {
	store *Store
	ttl   time.Duration

	mu      sync.Mutex
	cached  *SystemSettings
	expires time.Time
}

const settingsCacheTTL = 30 * time.Second

func NewSettingsService(store *Store) *SettingsService {
	return &SettingsService{store: store, ttl: settingsCacheTTL}
}

// Get returns the cached settings, refreshing after the TTL lapses.
func (c *SettingsService) Get(ctx context.Context) (*SystemSettings, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cached != nil && time.Now().Before(c.expires) {
		return c.cached, nil
	}

	settings, err := c.store.GetSettings(ctx)
	if err != nil {
		return nil, err
	}
	c.cached = settings
	c.expires = time.Now().Add(c.ttl)
	return settings, nil
}

// Update persists new settings and replaces the cache in the same breath.
func (c *SettingsService) Update(ctx context.Context, enableLongURLDetection bool) (*SystemSettings, error) {
	settings, err := c.store.SaveSettings(ctx, enableLongURLDetection)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cached = settings
	c.expires = time.Now().Add(c.ttl)
	c.mu.Unlock()

	return settings, nil
}

package store

import (
	"context"

	"github.com/pkg/errors"
)

// ActiveSenderRules returns the active sender whitelist rules.
func (s *Store) ActiveSenderRules(ctx context.Context) ([]SenderWhitelistRule, error) {
	var rules []SenderWhitelistRule
	if err := s.db.WithContext(ctx).Where("active = ?", true).Find(&rules).Error; err != nil {
		return nil, errors.Wrap(err, "sender rules")
	}
	return rules, nil
}

// ActiveURLRules returns the active URL whitelist rules.
func (s *Store) ActiveURLRules(ctx context.Context) ([]URLWhitelistRule, error) {
	var rules []URLWhitelistRule
	if err := s.db.WithContext(ctx).Where("active = ?", true).Find(&rules).Error; err != nil {
		return nil, errors.Wrap(err, "url rules")
	}
	return rules, nil
}

// ListSenderRules returns every sender rule regardless of active flag.
func (s *Store) ListSenderRules(ctx context.Context) ([]SenderWhitelistRule, error) {
	var rules []SenderWhitelistRule
	if err := s.db.WithContext(ctx).Order("id").Find(&rules).Error; err != nil {
		return nil, errors.Wrap(err, "list sender rules")
	}
	return rules, nil
}

// ListURLRules returns every URL rule regardless of active flag.
func (s *Store) ListURLRules(ctx context.Context) ([]URLWhitelistRule, error) {
	var rules []URLWhitelistRule
	if err := s.db.WithContext(ctx).Order("id").Find(&rules).Error; err != nil {
		return nil, errors.Wrap(err, "list url rules")
	}
	return rules, nil
}

// CreateSenderRule adds one sender whitelist rule.
func (s *Store) CreateSenderRule(ctx context.Context, rule *SenderWhitelistRule) error {
	return errors.Wrap(s.db.WithContext(ctx).Create(rule).Error, "create sender rule")
}

// CreateURLRule adds one URL whitelist rule.
func (s *Store) CreateURLRule(ctx context.Context, rule *URLWhitelistRule) error {
	return errors.Wrap(s.db.WithContext(ctx).Create(rule).Error, "create url rule")
}

// DeleteSenderRule removes one sender whitelist rule.
func (s *Store) DeleteSenderRule(ctx context.Context, id uint) error {
	return errors.Wrap(s.db.WithContext(ctx).Delete(&SenderWhitelistRule{}, id).Error, "delete sender rule")
}

// DeleteURLRule removes one URL whitelist rule.
func (s *Store) DeleteURLRule(ctx context.Context, id uint) error {
	return errors.Wrap(s.db.WithContext(ctx).Delete(&URLWhitelistRule{}, id).Error, "delete url rule")
}

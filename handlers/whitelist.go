package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/HierarchThurs/Argus/internal/store"
	"github.com/HierarchThurs/Argus/pkg/base"
)

type ruleRequest struct {
	RuleKind    string `json:"rule_kind"`
	RuleValue   string `json:"rule_value"`
	Description string `json:"description"`
}

func (r ruleRequest) validKind() bool {
	switch r.RuleKind {
	case base.RuleEmail, base.RuleDomain, base.RuleDomainSuffix, base.RuleDomainKeyword:
		return true
	}
	return false
}

type ruleView struct {
	ID          uint   `json:"id"`
	RuleKind    string `json:"rule_kind"`
	RuleValue   string `json:"rule_value"`
	Description string `json:"description,omitempty"`
	Active      bool   `json:"active"`
}

// ListSenderRules returns every sender whitelist rule, inactive included.
func (s *Server) ListSenderRules(c *fiber.Ctx) error {
	if _, err := s.principal(c); err != nil {
		return unauthorized(c)
	}

	rules, err := s.store.ListSenderRules(c.Context())
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "rules unavailable")
	}

	views := make([]ruleView, 0, len(rules))
	for _, r := range rules {
		views = append(views, ruleView{
			ID: r.ID, RuleKind: r.RuleKind, RuleValue: r.RuleValue,
			Description: r.Description, Active: r.Active,
		})
	}
	return c.JSON(fiber.Map{"rules": views})
}

// CreateSenderRule adds a sender rule and refreshes the matcher cache.
func (s *Server) CreateSenderRule(c *fiber.Ctx) error {
	if _, err := s.principal(c); err != nil {
		return unauthorized(c)
	}

	var req ruleRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "malformed body")
	}
	if !req.validKind() || req.RuleValue == "" {
		return jsonError(c, fiber.StatusBadRequest, "rule_kind and rule_value are required")
	}

	rule := store.SenderWhitelistRule{
		RuleKind:    req.RuleKind,
		RuleValue:   req.RuleValue,
		Description: req.Description,
		Active:      true,
	}
	if err := s.store.CreateSenderRule(c.Context(), &rule); err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "rule not created")
	}
	s.refreshMatcher(c)

	return c.Status(fiber.StatusCreated).JSON(ruleView{
		ID: rule.ID, RuleKind: rule.RuleKind, RuleValue: rule.RuleValue,
		Description: rule.Description, Active: rule.Active,
	})
}

// DeleteSenderRule removes a sender rule and refreshes the matcher cache.
func (s *Server) DeleteSenderRule(c *fiber.Ctx) error {
	if _, err := s.principal(c); err != nil {
		return unauthorized(c)
	}
	id, err := idParam(c)
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad rule id")
	}

	if err := s.store.DeleteSenderRule(c.Context(), id); err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "rule not deleted")
	}
	s.refreshMatcher(c)
	return c.JSON(fiber.Map{"status": "deleted"})
}

// ListURLRules returns every URL whitelist rule.
func (s *Server) ListURLRules(c *fiber.Ctx) error {
	if _, err := s.principal(c); err != nil {
		return unauthorized(c)
	}

	rules, err := s.store.ListURLRules(c.Context())
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "rules unavailable")
	}

	views := make([]ruleView, 0, len(rules))
	for _, r := range rules {
		views = append(views, ruleView{
			ID: r.ID, RuleKind: r.RuleKind, RuleValue: r.RuleValue,
			Description: r.Description, Active: r.Active,
		})
	}
	return c.JSON(fiber.Map{"rules": views})
}

// CreateURLRule adds a URL rule and refreshes the matcher cache.
func (s *Server) CreateURLRule(c *fiber.Ctx) error {
	if _, err := s.principal(c); err != nil {
		return unauthorized(c)
	}

	var req ruleRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "malformed body")
	}
	if !req.validKind() || req.RuleKind == base.RuleEmail || req.RuleValue == "" {
		return jsonError(c, fiber.StatusBadRequest, "rule_kind and rule_value are required")
	}

	rule := store.URLWhitelistRule{
		RuleKind:    req.RuleKind,
		RuleValue:   req.RuleValue,
		Description: req.Description,
		Active:      true,
	}
	if err := s.store.CreateURLRule(c.Context(), &rule); err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "rule not created")
	}
	s.refreshMatcher(c)

	return c.Status(fiber.StatusCreated).JSON(ruleView{
		ID: rule.ID, RuleKind: rule.RuleKind, RuleValue: rule.RuleValue,
		Description: rule.Description, Active: rule.Active,
	})
}

// DeleteURLRule removes a URL rule and refreshes the matcher cache.
func (s *Server) DeleteURLRule(c *fiber.Ctx) error {
	if _, err := s.principal(c); err != nil {
		return unauthorized(c)
	}
	id, err := idParam(c)
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad rule id")
	}

	if err := s.store.DeleteURLRule(c.Context(), id); err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "rule not deleted")
	}
	s.refreshMatcher(c)
	return c.JSON(fiber.Map{"status": "deleted"})
}

// RefreshWhitelist reloads the matcher cache from the database on demand.
func (s *Server) RefreshWhitelist(c *fiber.Ctx) error {
	if _, err := s.principal(c); err != nil {
		return unauthorized(c)
	}
	if err := s.matcher.Refresh(c.Context()); err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "refresh failed")
	}
	return c.JSON(fiber.Map{"status": "refreshed"})
}

// refreshMatcher reloads the cache after a rule mutation. A failed reload is
// logged; the mutation itself already succeeded.
func (s *Server) refreshMatcher(c *fiber.Ctx) {
	if err := s.matcher.Refresh(c.Context()); err != nil {
		s.logger.Error("whitelist cache refresh failed", "error", err)
	}
}

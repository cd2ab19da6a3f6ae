// Package blocklist filters inbound senders against operator-managed rules
// persisted in the settings store.
package blocklist

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/mixelka/mailtriage/internal/database"
)

// Rule kinds.
const (
	RuleExact  = "exact"
	RuleDomain = "domain"
	RuleRegex  = "regex"
)

const settingKey = "sender_blocklist"

// Rule matches a sender address: exact equality, suffix match for domain
// rules, or a case-insensitive regular expression.
type Rule struct {
	Type  string `json:"type"`
	Value string `json:"value"`
	Label string `json:"label,omitempty"`
}

// Seeded on first use so automated senders never reach the classifier.
var defaultRules = []Rule{
	{Type: RuleRegex, Value: `^noreply@`, Label: "noreply addresses"},
	{Type: RuleRegex, Value: `^no-reply@`, Label: "no-reply addresses"},
	{Type: RuleRegex, Value: `^mailer-daemon@`, Label: "mailer daemon"},
	{Type: RuleRegex, Value: `^postmaster@`, Label: "postmaster"},
	{Type: RuleDomain, Value: "@newsletter.", Label: "newsletter domains"},
}

// Service manages the sender filtering rules.
type Service struct {
	db     *database.DB
	logger *slog.Logger
}

// New creates a new blocklist service
func New(db *database.DB, logger *slog.Logger) *Service {
	return &Service{
		db:     db,
		logger: logger.With("component", "blocklist"),
	}
}

// Rules returns the current rule set, seeding the defaults on first use.
func (s *Service) Rules(ctx context.Context) ([]Rule, error) {
	raw, err := s.db.GetSetting(ctx, settingKey)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		if err := s.save(ctx, defaultRules); err != nil {
			return nil, err
		}
		return append([]Rule(nil), defaultRules...), nil
	}

	var rules []Rule
	if err := json.Unmarshal([]byte(raw), &rules); err != nil {
		return nil, fmt.Errorf("failed to parse blocklist rules: %w", err)
	}
	return rules, nil
}

// Add appends a rule and returns the updated set.
func (s *Service) Add(ctx context.Context, rule Rule) ([]Rule, error) {
	rules, err := s.Rules(ctx)
	if err != nil {
		return nil, err
	}
	rules = append(rules, rule)
	if err := s.save(ctx, rules); err != nil {
		return nil, err
	}
	return rules, nil
}

// Remove deletes the rule at the given position. ErrNotFound when the index
// is out of range.
func (s *Service) Remove(ctx context.Context, index int) ([]Rule, error) {
	rules, err := s.Rules(ctx)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(rules) {
		return nil, database.ErrNotFound
	}
	rules = append(rules[:index], rules[index+1:]...)
	if err := s.save(ctx, rules); err != nil {
		return nil, err
	}
	return rules, nil
}

// ShouldBlock reports whether a sender address matches any rule. Rules that
// fail to compile are skipped, never fatal.
func (s *Service) ShouldBlock(ctx context.Context, sender string) bool {
	rules, err := s.Rules(ctx)
	if err != nil {
		s.logger.Warn("failed to load blocklist rules", "error", err)
		return false
	}

	sender = strings.ToLower(strings.TrimSpace(sender))
	for _, rule := range rules {
		switch rule.Type {
		case RuleExact:
			if sender == strings.ToLower(rule.Value) {
				return true
			}
		case RuleDomain:
			if strings.HasSuffix(sender, strings.ToLower(rule.Value)) {
				return true
			}
		case RuleRegex:
			re, err := regexp.Compile("(?i)" + rule.Value)
			if err != nil {
				s.logger.Warn("skipping invalid blocklist regex", "value", rule.Value, "error", err)
				continue
			}
			if re.MatchString(sender) {
				return true
			}
		}
	}
	return false
}

func (s *Service) save(ctx context.Context, rules []Rule) error {
	data, err := json.Marshal(rules)
	if err != nil {
		return fmt.Errorf("failed to marshal blocklist rules: %w", err)
	}
	return s.db.SetSetting(ctx, settingKey, string(data))
}

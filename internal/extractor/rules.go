package extractor

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/raaihank/llm-pseudonymizer/internal/logger"
	"github.com/raaihank/llm-pseudonymizer/internal/privacy"
)

// DetectionRule represents a single pattern based detector
type DetectionRule struct {
	Name    string
	Type    privacy.EntityType
	Pattern *regexp.Regexp
}

// GetDefaultRules returns the built-in detectors in priority order
func GetDefaultRules() []DetectionRule {
	return []DetectionRule{
		{
			Name:    "email",
			Type:    privacy.EntityEmail,
			Pattern: regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`),
		},
		{
			Name:    "credit_card",
			Type:    privacy.EntityOtherSensitiveData,
			Pattern: regexp.MustCompile(`\b(?:\d{4}[ -]?){3}\d{4}\b`),
		},
		{
			Name:    "ssn",
			Type:    privacy.EntityDocumentID,
			Pattern: regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
		},
		{
			Name:    "cpf",
			Type:    privacy.EntityDocumentID,
			Pattern: regexp.MustCompile(`\b\d{3}\.\d{3}\.\d{3}-\d{2}\b`),
		},
		{
			Name:    "phone",
			Type:    privacy.EntityPhoneNumber,
			Pattern: regexp.MustCompile(`(?:\+\d{1,3}[\s.-]?)?\(?\d{2,4}\)?[\s.-]?\d{3,5}[\s.-]?\d{4}\b`),
		},
		{
			Name:    "date_iso",
			Type:    privacy.EntityDate,
			Pattern: regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`),
		},
		{
			Name:    "date_slash",
			Type:    privacy.EntityDate,
			Pattern: regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{2,4}\b`),
		},
		{
			Name:    "ipv4",
			Type:    privacy.EntityOtherSensitiveData,
			Pattern: regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`),
		},
	}
}

// RuleExtractor finds structured identifiers with regular expressions. It cannot
// recognise names, organizations or free-form addresses.
type RuleExtractor struct {
	rules  []DetectionRule
	name   string
	logger *logger.Logger
}

// NewRuleExtractor enables the named detectors; "all" enables every built-in one
func NewRuleExtractor(names []string, log *logger.Logger) (*RuleExtractor, error) {
	available := GetDefaultRules()
	enabled := make(map[string]bool, len(available))

	for _, name := range names {
		if name == "all" {
			for _, rule := range available {
				enabled[rule.Name] = true
			}
			continue
		}

		found := false
		for _, rule := range available {
			if rule.Name == name {
				enabled[rule.Name] = true
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown detector: %s", name)
		}
	}

	if len(enabled) == 0 {
		return nil, fmt.Errorf("no detectors enabled")
	}

	e := &RuleExtractor{logger: log}
	ruleNames := make([]string, 0, len(enabled))
	for _, rule := range available {
		if enabled[rule.Name] {
			e.rules = append(e.rules, rule)
			ruleNames = append(ruleNames, rule.Name)
		}
	}
	sort.Strings(ruleNames)
	e.name = "rules:" + strings.Join(ruleNames, ",")

	log.Info("Rule extractor initialized", zap.Strings("rules", ruleNames))

	return e, nil
}

// Name implements Extractor
func (e *RuleExtractor) Name() string {
	return e.name
}

// EnabledRules returns the names of the active detectors in priority order
func (e *RuleExtractor) EnabledRules() []string {
	names := make([]string, len(e.rules))
	for i, rule := range e.rules {
		names[i] = rule.Name
	}
	return names
}

type ruleMatch struct {
	start, end int
	rule       int
}

// Extract implements Extractor. Overlapping matches are resolved in favour of the
// earliest start, then the longest span, then rule priority.
func (e *RuleExtractor) Extract(ctx context.Context, text string) ([]privacy.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var matches []ruleMatch
	for i, rule := range e.rules {
		for _, loc := range rule.Pattern.FindAllStringIndex(text, -1) {
			matches = append(matches, ruleMatch{start: loc[0], end: loc[1], rule: i})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].start != matches[j].start {
			return matches[i].start < matches[j].start
		}
		return matches[i].end-matches[i].start > matches[j].end-matches[j].start
	})

	entities := make([]privacy.Entity, 0, len(matches))
	seen := make(map[privacy.Entity]bool)
	lastEnd := 0

	for _, m := range matches {
		if m.start < lastEnd {
			continue
		}
		lastEnd = m.end

		entity := privacy.Entity{Text: text[m.start:m.end], Type: e.rules[m.rule].Type}
		if seen[entity] {
			continue
		}
		seen[entity] = true
		entities = append(entities, entity)
	}

	e.logger.Debug("Rules applied",
		zap.Int("rules", len(e.rules)),
		zap.Int("entities", len(entities)),
	)

	return entities, nil
}

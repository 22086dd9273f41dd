// Package config provides configuration management for the alerting engine.
package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"alert-engine/internal/alerterr"
	"alert-engine/internal/model"
)

// LoadRules reads thresholds, channels, templates and escalation rules from a YAML file.
// Malformed items are skipped and returned as config errors; the remaining items load.
// A missing or unparsable file is returned as a hard error.
func LoadRules(rulesPath string) (*model.RuleSet, []error, error) {
	if rulesPath == "" {
		return nil, nil, fmt.Errorf("rules file path is required")
	}

	if _, err := os.Stat(rulesPath); os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("rules file not found: %s", rulesPath)
	}

	data, err := os.ReadFile(rulesPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read rules file: %w", err)
	}

	return ParseRules(data)
}

// ParseRules parses and validates a rule set document.
func ParseRules(data []byte) (*model.RuleSet, []error, error) {
	var raw model.RuleSet
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("failed to parse rules file: %w", err)
	}

	set, problems := SanitizeRules(&raw)
	return set, problems, nil
}

// CurrentValuePrefix prefixes the per-cycle template variables holding the
// latest reading of each metric, e.g. current_cpu_usage_percent.
const CurrentValuePrefix = "current_"

// SanitizeRules validates every item of raw and returns a rule set holding only
// the valid ones, together with one config error per rejected item.
func SanitizeRules(raw *model.RuleSet) (*model.RuleSet, []error) {
	var problems []error
	set := &model.RuleSet{}

	if len(raw.TemplateContext) > 0 {
		set.TemplateContext = make(map[string]string, len(raw.TemplateContext))
		for k, v := range raw.TemplateContext {
			if strings.HasPrefix(k, CurrentValuePrefix) {
				problems = append(problems, alerterr.Config("template_context",
					"key %q uses the reserved %q prefix", k, CurrentValuePrefix))
				continue
			}
			set.TemplateContext[k] = v
		}
	}

	channelIDs := make(map[string]bool)
	for i, ch := range raw.Channels {
		if ch == nil {
			continue
		}
		if ch.ID == "" {
			problems = append(problems, alerterr.Config("channel", "channel at index %d has no id", i))
			continue
		}
		if channelIDs[ch.ID] {
			problems = append(problems, alerterr.Config("channel", "duplicate channel id %q", ch.ID))
			continue
		}
		if err := ch.ValidateConfig(); err != nil {
			problems = append(problems, alerterr.New(alerterr.KindConfig, "channel", "", err))
			continue
		}
		channelIDs[ch.ID] = true
		set.Channels = append(set.Channels, ch)
	}

	metrics := make(map[string]bool)
	for i, th := range raw.Thresholds {
		if th == nil {
			continue
		}
		if err := validateThreshold(th, i, metrics); err != nil {
			problems = append(problems, err)
			continue
		}
		for _, id := range th.NotificationChannels {
			if !channelIDs[id] {
				problems = append(problems, alerterr.Config("threshold", "metric %q references unknown channel %q", th.MetricName, id))
			}
		}
		metrics[th.MetricName] = true
		set.Thresholds = append(set.Thresholds, th)
	}

	for i, tpl := range raw.Templates {
		if tpl == nil {
			continue
		}
		if err := validateTemplate(tpl, i); err != nil {
			problems = append(problems, err)
			continue
		}
		set.Templates = append(set.Templates, tpl)
	}

	for i, rule := range raw.EscalationRules {
		if rule == nil {
			continue
		}
		if err := validateEscalationRule(rule, i, channelIDs); err != nil {
			problems = append(problems, err)
			continue
		}
		if other := firstOverlap(set.EscalationRules, rule); other != nil {
			problems = append(problems, alerterr.Config("escalation_rule",
				"rule %q overlaps rule %q on severity/type/metric filters", rule.Name, other.Name))
			continue
		}
		set.EscalationRules = append(set.EscalationRules, rule)
	}

	return set, problems
}

func validateThreshold(th *model.AlertThreshold, idx int, seen map[string]bool) error {
	if th.MetricName == "" {
		return alerterr.Config("threshold", "threshold at index %d has no metric_name", idx)
	}
	if seen[th.MetricName] {
		return alerterr.Config("threshold", "duplicate threshold for metric %q", th.MetricName)
	}
	if th.ComparisonMode == "" {
		th.ComparisonMode = model.ComparisonGreaterIsBad
	}
	if !th.ComparisonMode.IsValid() {
		return alerterr.Config("threshold", "metric %q has unknown comparison %q", th.MetricName, th.ComparisonMode)
	}

	// Warning must be reached before critical in the bad direction.
	switch th.ComparisonMode {
	case model.ComparisonGreaterIsBad:
		if th.WarningLevel >= th.CriticalLevel {
			return alerterr.Config("threshold", "metric %q: warning (%.2f) must be less than critical (%.2f)",
				th.MetricName, th.WarningLevel, th.CriticalLevel)
		}
	case model.ComparisonLowerIsBad:
		if th.WarningLevel <= th.CriticalLevel {
			return alerterr.Config("threshold", "metric %q: warning (%.2f) must be greater than critical (%.2f) for lower_is_bad",
				th.MetricName, th.WarningLevel, th.CriticalLevel)
		}
	}

	if th.RequiredConsecutiveBreaches < 0 {
		return alerterr.Config("threshold", "metric %q: required_consecutive_breaches must not be negative", th.MetricName)
	}
	if th.AutoResolve && th.AutoResolveAfter < 0 {
		return alerterr.Config("threshold", "metric %q: auto_resolve_after must not be negative", th.MetricName)
	}
	return nil
}

func validateTemplate(tpl *model.NotificationTemplate, idx int) error {
	if tpl.Name == "" {
		return alerterr.Config("template", "template at index %d has no name", idx)
	}
	if tpl.AlertType == "" {
		tpl.AlertType = model.AlertTypeCustom
	}
	if !tpl.Severity.IsValid() {
		return alerterr.Config("template", "template %q has invalid severity %q", tpl.Name, tpl.Severity)
	}
	if !tpl.ChannelType.IsValid() {
		return alerterr.Config("template", "template %q has invalid channel_type %q", tpl.Name, tpl.ChannelType)
	}
	if tpl.BodyTemplate == "" {
		return alerterr.Config("template", "template %q has an empty body", tpl.Name)
	}
	if tpl.Format == "" {
		tpl.Format = model.FormatText
	}
	switch tpl.Format {
	case model.FormatText, model.FormatMarkdown, model.FormatHTML, model.FormatJSON:
	default:
		return alerterr.Config("template", "template %q has unknown format %q", tpl.Name, tpl.Format)
	}
	return nil
}

func validateEscalationRule(rule *model.EscalationRule, idx int, channelIDs map[string]bool) error {
	if rule.Name == "" {
		return alerterr.Config("escalation_rule", "rule at index %d has no name", idx)
	}
	if rule.DelayMinutes <= 0 {
		return alerterr.Config("escalation_rule", "rule %q: delay_minutes must be positive", rule.Name)
	}
	if rule.MaxLevel <= 0 {
		return alerterr.Config("escalation_rule", "rule %q: max_level must be positive", rule.Name)
	}
	if len(rule.ChannelsByLevel) != rule.MaxLevel {
		return alerterr.Config("escalation_rule", "rule %q: channels_by_level has %d levels, max_level is %d",
			rule.Name, len(rule.ChannelsByLevel), rule.MaxLevel)
	}
	for level, ids := range rule.ChannelsByLevel {
		if len(ids) == 0 {
			return alerterr.Config("escalation_rule", "rule %q: level %d has no channels", rule.Name, level+1)
		}
		for _, id := range ids {
			if !channelIDs[id] {
				return alerterr.Config("escalation_rule", "rule %q: level %d references unknown channel %q", rule.Name, level+1, id)
			}
		}
	}
	for _, s := range rule.SeverityFilter {
		if !s.IsValid() {
			return alerterr.Config("escalation_rule", "rule %q: invalid severity filter %q", rule.Name, s)
		}
	}
	return nil
}

func firstOverlap(accepted []*model.EscalationRule, rule *model.EscalationRule) *model.EscalationRule {
	for _, other := range accepted {
		if other.Overlaps(rule) {
			return other
		}
	}
	return nil
}

// FileRuleProvider serves the rule set from a YAML file on every Load call.
type FileRuleProvider struct {
	Path string
}

// NewFileRuleProvider creates a provider reading rulesPath.
func NewFileRuleProvider(rulesPath string) *FileRuleProvider {
	return &FileRuleProvider{Path: rulesPath}
}

// Load reads the rule set from disk.
func (p *FileRuleProvider) Load(_ context.Context) (*model.RuleSet, []error, error) {
	return LoadRules(p.Path)
}

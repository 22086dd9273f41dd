package service

import (
	"encoding/json"
	"fmt"
	"html"
	"regexp"
	"strings"
	"sync"
	"time"

	"alert-engine/internal/model"
)

// placeholderPattern matches {{ name }} with optional inner whitespace.
var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}`)

// Variables supported for every alert.
const (
	VarAlertID     = "alert_id"
	VarTitle       = "title"
	VarDescription = "description"
	VarSeverity    = "severity"
	VarMetricName  = "metric_name"
	VarMetricValue = "metric_value"
	VarThreshold   = "threshold"
	VarTimestamp   = "timestamp"
	VarHoursActive = "hours_active"
)

// AlertVariables lists the built-in placeholder names.
var AlertVariables = []string{
	VarAlertID, VarTitle, VarDescription, VarSeverity, VarMetricName,
	VarMetricValue, VarThreshold, VarTimestamp, VarHoursActive,
}

// defaultTemplate is used when no configured template matches.
var defaultTemplate = &model.NotificationTemplate{
	Name:            "builtin",
	AlertType:       model.AlertTypeCustom,
	SubjectTemplate: "[{{severity}}] {{title}}",
	BodyTemplate: "{{description}}\n" +
		"metric: {{metric_name}} = {{metric_value}} (threshold {{threshold}})\n" +
		"alert: {{alert_id}} raised at {{timestamp}}, active {{hours_active}}h",
	Format: model.FormatText,
}

// Renderer selects templates and substitutes alert variables.
type Renderer struct {
	loc *time.Location
	now Clock

	mu        sync.RWMutex
	templates map[model.TemplateKey]*model.NotificationTemplate
}

// NewRenderer creates a renderer that formats timestamps in loc.
func NewRenderer(templates []*model.NotificationTemplate, loc *time.Location, now Clock) *Renderer {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = systemClock
	}
	r := &Renderer{loc: loc, now: now}
	r.SetTemplates(templates)
	return r
}

// SetTemplates replaces the configured templates. Later entries win on key conflicts.
func (r *Renderer) SetTemplates(templates []*model.NotificationTemplate) {
	m := make(map[model.TemplateKey]*model.NotificationTemplate, len(templates))
	for _, t := range templates {
		if t != nil {
			m[t.Key()] = t
		}
	}
	r.mu.Lock()
	r.templates = m
	r.mu.Unlock()
}

// Select returns the best template: exact match, then the generic custom
// template for the same severity and channel type, then the built-in one.
func (r *Renderer) Select(alertType model.AlertType, severity model.Severity, channelType model.ChannelType) *model.NotificationTemplate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.templates[model.TemplateKey{AlertType: alertType, Severity: severity, ChannelType: channelType}]; ok {
		return t
	}
	if t, ok := r.templates[model.TemplateKey{AlertType: model.AlertTypeCustom, Severity: severity, ChannelType: channelType}]; ok {
		return t
	}
	return defaultTemplate
}

// Variables returns the built-in variables of an alert.
func (r *Renderer) Variables(alert *model.Alert) map[string]string {
	hours := r.now().Sub(alert.CreatedAt).Hours()
	if hours < 0 {
		hours = 0
	}
	return map[string]string{
		VarAlertID:     alert.ID,
		VarTitle:       alert.Title,
		VarDescription: alert.Description,
		VarSeverity:    string(alert.Severity),
		VarMetricName:  alert.MetricName,
		VarMetricValue: formatValue(alert.Value),
		VarThreshold:   formatValue(alert.ThresholdValue),
		VarTimestamp:   alert.CreatedAt.In(r.loc).Format("2006-01-02 15:04:05 MST"),
		VarHoursActive: fmt.Sprintf("%.1f", hours),
	}
}

// Render substitutes variables into the template. Caller context keys are
// available alongside the built-in variables, which take precedence.
// Unknown placeholders are left verbatim.
func (r *Renderer) Render(tpl *model.NotificationTemplate, alert *model.Alert, context map[string]string) (subject, body string) {
	if tpl == nil {
		tpl = defaultTemplate
	}
	vars := make(map[string]string, len(context)+len(AlertVariables))
	for k, v := range context {
		vars[k] = v
	}
	for k, v := range r.Variables(alert) {
		vars[k] = v
	}

	subject = substitute(tpl.SubjectTemplate, vars, nil)
	subject = subjectFlattener.Replace(subject)
	body = substitute(tpl.BodyTemplate, vars, escaperFor(tpl.Format))
	return subject, body
}

func substitute(text string, vars map[string]string, escape func(string) string) string {
	return placeholderPattern.ReplaceAllStringFunc(text, func(m string) string {
		name := placeholderPattern.FindStringSubmatch(m)[1]
		v, ok := vars[name]
		if !ok {
			return m
		}
		if escape != nil {
			return escape(v)
		}
		return v
	})
}

// subjectFlattener keeps subjects on one line.
var subjectFlattener = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`, "*", `\*`, "_", `\_`, "`", "\\`", "[", `\[`, "]", `\]`,
)

func escaperFor(format model.TemplateFormat) func(string) string {
	switch format {
	case model.FormatHTML:
		return html.EscapeString
	case model.FormatJSON:
		return jsonEscape
	case model.FormatMarkdown:
		return markdownEscaper.Replace
	default:
		return nil
	}
}

// jsonEscape returns s escaped for use inside a JSON string literal.
func jsonEscape(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return s
	}
	return string(b[1 : len(b)-1])
}

// Package html provides HTML history export for the alerting engine.
// It implements the report.ReportWriter interface to generate .html files
// with an overview, the alerts and the notification records.
package html

import (
	"embed"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"alert-engine/internal/model"
)

//go:embed templates/*.html
var embeddedTemplates embed.FS

const timeLayout = "2006-01-02 15:04:05"

// Writer implements report.ReportWriter for HTML format.
type Writer struct {
	timezone     *time.Location
	templatePath string // User-defined template path (optional)
}

// TemplateData holds all data passed to the HTML template.
type TemplateData struct {
	Title        string
	Since        string
	GeneratedAt  string
	Version      string
	AlertSummary *model.AlertSummary
	StatusCounts []*StatusCount
	Alerts       []*AlertData
	Records      []*RecordData
}

// StatusCount is one notification outcome with its record count.
type StatusCount struct {
	Status string
	Class  string
	Count  int
}

// AlertData represents an alert formatted for template rendering.
type AlertData struct {
	ID               string
	Type             string
	MetricName       string
	Value            string
	Threshold        string
	Title            string
	Severity         string
	SeverityClass    string
	Status           string
	CreatedAt        string
	ResolvedAt       string
	ResolvedBy       string
	AcknowledgedBy   string
	NotifiedChannels string
}

// RecordData represents a notification record formatted for template rendering.
type RecordData struct {
	AlertID     string
	ChannelID   string
	ChannelType string
	Recipient   string
	Status      string
	StatusClass string
	SentAt      string
	Latency     string
	Attempts    int
	Forced      bool
	Error       string
}

// NewWriter creates a new HTML report writer.
// If timezone is nil, UTC is used. If templatePath is empty, the embedded
// template is used.
func NewWriter(timezone *time.Location, templatePath string) *Writer {
	if timezone == nil {
		timezone = time.UTC
	}
	return &Writer{
		timezone:     timezone,
		templatePath: templatePath,
	}
}

// Format returns the format identifier for this writer.
func (w *Writer) Format() string {
	return "html"
}

// Write generates an HTML report from the export.
func (w *Writer) Write(export *model.HistoryExport, outputPath string) error {
	if export == nil {
		return fmt.Errorf("history export is nil")
	}

	if !strings.HasSuffix(strings.ToLower(outputPath), ".html") {
		outputPath = outputPath + ".html"
	}

	tmpl, err := w.loadTemplate()
	if err != nil {
		return fmt.Errorf("failed to load template: %w", err)
	}

	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer file.Close()

	if err := tmpl.Execute(file, w.prepareTemplateData(export)); err != nil {
		return fmt.Errorf("failed to execute template: %w", err)
	}
	return nil
}

// loadTemplate loads the user-defined template if present, else the embedded one.
func (w *Writer) loadTemplate() (*template.Template, error) {
	if w.templatePath != "" {
		if _, err := os.Stat(w.templatePath); err == nil {
			tmpl, err := template.New(filepath.Base(w.templatePath)).ParseFiles(w.templatePath)
			if err != nil {
				return nil, fmt.Errorf("failed to parse user template: %w", err)
			}
			return tmpl, nil
		}
	}

	tmpl, err := template.New("history.html").ParseFS(embeddedTemplates, "templates/history.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse embedded template: %w", err)
	}
	return tmpl, nil
}

// prepareTemplateData converts the export for template rendering.
func (w *Writer) prepareTemplateData(export *model.HistoryExport) *TemplateData {
	summary := export.Summary
	if summary == nil {
		summary = model.NewAlertSummary(export.Alerts)
	}

	counts := export.CountByStatus()
	statusCounts := make([]*StatusCount, 0, 4)
	for _, s := range []model.NotificationStatus{
		model.NotificationSent, model.NotificationFailed, model.NotificationSkipped, model.NotificationThrottled,
	} {
		statusCounts = append(statusCounts, &StatusCount{
			Status: notificationStatusText(s),
			Class:  notificationStatusClass(s),
			Count:  counts[s],
		})
	}

	records := make([]*RecordData, 0, len(export.Records))
	for _, r := range export.Records {
		records = append(records, &RecordData{
			AlertID:     r.AlertID,
			ChannelID:   r.ChannelID,
			ChannelType: string(r.ChannelType),
			Recipient:   r.Recipient,
			Status:      notificationStatusText(r.Status),
			StatusClass: notificationStatusClass(r.Status),
			SentAt:      r.SentAt.In(w.timezone).Format(timeLayout),
			Latency:     fmt.Sprintf("%dms", r.LatencyMs),
			Attempts:    r.Attempts,
			Forced:      r.Forced,
			Error:       r.Error,
		})
	}

	return &TemplateData{
		Title:        "告警历史报告",
		Since:        export.Since.In(w.timezone).Format(timeLayout),
		GeneratedAt:  export.GeneratedAt.In(w.timezone).Format(timeLayout),
		Version:      export.Version,
		AlertSummary: summary,
		StatusCounts: statusCounts,
		Alerts:       w.convertAlerts(export.Alerts),
		Records:      records,
	}
}

// convertAlerts converts and sorts alerts, critical first then newest first.
func (w *Writer) convertAlerts(alerts []*model.Alert) []*AlertData {
	sorted := make([]*model.Alert, len(alerts))
	copy(sorted, alerts)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Severity != sorted[j].Severity {
			return severityPriority(sorted[i].Severity) > severityPriority(sorted[j].Severity)
		}
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})

	result := make([]*AlertData, 0, len(sorted))
	for _, a := range sorted {
		resolvedAt := ""
		if a.ResolvedAt != nil {
			resolvedAt = a.ResolvedAt.In(w.timezone).Format(timeLayout)
		}
		result = append(result, &AlertData{
			ID:               a.ID,
			Type:             alertTypeText(a.Type),
			MetricName:       a.MetricName,
			Value:            formatNumber(a.Value),
			Threshold:        formatNumber(a.ThresholdValue),
			Title:            a.Title,
			Severity:         severityText(a.Severity),
			SeverityClass:    severityClass(a.Severity),
			Status:           statusText(a.Status),
			CreatedAt:        a.CreatedAt.In(w.timezone).Format(timeLayout),
			ResolvedAt:       resolvedAt,
			ResolvedBy:       a.ResolvedBy,
			AcknowledgedBy:   a.AcknowledgedBy,
			NotifiedChannels: strings.Join(a.NotifiedChannels, ", "),
		})
	}
	return result
}

// Helper functions

func formatNumber(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%.2f", v)
}

func severityText(s model.Severity) string {
	switch s {
	case model.SeverityCritical:
		return "严重"
	case model.SeverityWarning:
		return "警告"
	default:
		return "正常"
	}
}

func severityClass(s model.Severity) string {
	switch s {
	case model.SeverityCritical:
		return "critical"
	case model.SeverityWarning:
		return "warning"
	default:
		return "normal"
	}
}

func severityPriority(s model.Severity) int {
	switch s {
	case model.SeverityCritical:
		return 2
	case model.SeverityWarning:
		return 1
	default:
		return 0
	}
}

func statusText(s model.AlertStatus) string {
	switch s {
	case model.AlertStatusActive:
		return "活跃"
	case model.AlertStatusResolved:
		return "已恢复"
	case model.AlertStatusSuppressed:
		return "已抑制"
	default:
		return "未知"
	}
}

func alertTypeText(t model.AlertType) string {
	switch t {
	case model.AlertTypeThreshold:
		return "阈值越限"
	case model.AlertTypeFloodEscalation:
		return "告警风暴"
	default:
		return "通用"
	}
}

func notificationStatusText(s model.NotificationStatus) string {
	switch s {
	case model.NotificationSent:
		return "成功"
	case model.NotificationFailed:
		return "失败"
	case model.NotificationSkipped:
		return "跳过"
	case model.NotificationThrottled:
		return "限流"
	default:
		return "未知"
	}
}

func notificationStatusClass(s model.NotificationStatus) string {
	switch s {
	case model.NotificationSent:
		return "normal"
	case model.NotificationFailed:
		return "critical"
	default:
		return "warning"
	}
}

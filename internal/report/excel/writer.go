// Package excel provides Excel history export for the alerting engine.
// It implements the report.ReportWriter interface to generate .xlsx files
// with an overview, the alerts and the notification records.
package excel

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"alert-engine/internal/model"
)

const (
	// Sheet names
	sheetSummary = "告警概览"
	sheetAlerts  = "告警明细"
	sheetRecords = "通知记录"

	// Default sheet to remove
	defaultSheet = "Sheet1"

	// Colors for conditional formatting (RGB without #)
	colorWarningBg  = "FFEB9C" // Yellow background for warning
	colorWarningFg  = "9C6500" // Dark yellow text for warning
	colorCriticalBg = "FFC7CE" // Red background for critical
	colorCriticalFg = "9C0006" // Dark red text for critical
	colorHeaderBg   = "4472C4" // Blue background for header
	colorHeaderFg   = "FFFFFF" // White text for header
	colorNormalBg   = "C6EFCE" // Green background for sent/resolved
	colorNormalFg   = "006100" // Dark green text for sent/resolved

	timeLayout = "2006-01-02 15:04:05"
)

// Writer implements report.ReportWriter for Excel format.
type Writer struct {
	timezone *time.Location
}

// NewWriter creates a new Excel report writer. If timezone is nil, UTC is used.
func NewWriter(timezone *time.Location) *Writer {
	if timezone == nil {
		timezone = time.UTC
	}
	return &Writer{
		timezone: timezone,
	}
}

// Format returns the format identifier for this writer.
func (w *Writer) Format() string {
	return "excel"
}

// Write generates an Excel workbook from the export.
func (w *Writer) Write(export *model.HistoryExport, outputPath string) error {
	if export == nil {
		return fmt.Errorf("history export is nil")
	}

	if !strings.HasSuffix(strings.ToLower(outputPath), ".xlsx") {
		outputPath = outputPath + ".xlsx"
	}

	f := excelize.NewFile()
	defer f.Close()

	styles, err := newStyleSet(f)
	if err != nil {
		return fmt.Errorf("failed to create styles: %w", err)
	}

	if err := w.createSummarySheet(f, export, styles); err != nil {
		return fmt.Errorf("failed to create summary sheet: %w", err)
	}
	if err := w.createAlertsSheet(f, export.Alerts, styles); err != nil {
		return fmt.Errorf("failed to create alerts sheet: %w", err)
	}
	if err := w.createRecordsSheet(f, export.Records, styles); err != nil {
		return fmt.Errorf("failed to create records sheet: %w", err)
	}

	// Sheet1 always exists in a new workbook
	_ = f.DeleteSheet(defaultSheet)

	idx, _ := f.GetSheetIndex(sheetSummary)
	f.SetActiveSheet(idx)

	if err := f.SaveAs(outputPath); err != nil {
		return fmt.Errorf("failed to save Excel file: %w", err)
	}
	return nil
}

// styleSet holds the style ids shared by all sheets.
type styleSet struct {
	header   int
	title    int
	value    int
	warning  int
	critical int
	normal   int
}

func newStyleSet(f *excelize.File) (*styleSet, error) {
	s := &styleSet{}
	var err error
	if s.header, err = f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11, Color: colorHeaderFg},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{colorHeaderBg}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	}); err != nil {
		return nil, err
	}
	if s.title, err = f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 18},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	}); err != nil {
		return nil, err
	}
	if s.value, err = f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Size: 12},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	}); err != nil {
		return nil, err
	}
	if s.warning, err = fillStyle(f, colorWarningFg, colorWarningBg); err != nil {
		return nil, err
	}
	if s.critical, err = fillStyle(f, colorCriticalFg, colorCriticalBg); err != nil {
		return nil, err
	}
	if s.normal, err = fillStyle(f, colorNormalFg, colorNormalBg); err != nil {
		return nil, err
	}
	return s, nil
}

func fillStyle(f *excelize.File, fg, bg string) (int, error) {
	return f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Color: fg},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{bg}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
}

// createSummarySheet writes the overview key/value table.
func (w *Writer) createSummarySheet(f *excelize.File, export *model.HistoryExport, styles *styleSet) error {
	idx, err := f.NewSheet(sheetSummary)
	if err != nil {
		return err
	}
	f.SetActiveSheet(idx)

	f.SetColWidth(sheetSummary, "A", "A", 20)
	f.SetColWidth(sheetSummary, "B", "B", 30)

	f.MergeCell(sheetSummary, "A1", "B1")
	f.SetCellValue(sheetSummary, "A1", "告警历史报告")
	f.SetCellStyle(sheetSummary, "A1", "B1", styles.title)
	f.SetRowHeight(sheetSummary, 1, 30)

	summary := export.Summary
	if summary == nil {
		summary = model.NewAlertSummary(export.Alerts)
	}
	counts := export.CountByStatus()

	summaryData := []struct {
		label string
		value any
	}{
		{"导出起点", export.Since.In(w.timezone).Format(timeLayout)},
		{"生成时间", export.GeneratedAt.In(w.timezone).Format(timeLayout)},
		{"告警总数", summary.TotalAlerts},
		{"警告告警", summary.WarningCount},
		{"严重告警", summary.CriticalCount},
		{"通知记录", len(export.Records)},
		{"发送成功", counts[model.NotificationSent]},
		{"发送失败", counts[model.NotificationFailed]},
		{"跳过", counts[model.NotificationSkipped]},
		{"限流", counts[model.NotificationThrottled]},
	}
	if export.Version != "" {
		summaryData = append(summaryData, struct {
			label string
			value any
		}{"工具版本", export.Version})
	}

	for i, item := range summaryData {
		row := i + 3
		f.SetCellValue(sheetSummary, fmt.Sprintf("A%d", row), item.label)
		f.SetCellValue(sheetSummary, fmt.Sprintf("B%d", row), item.value)
		f.SetCellStyle(sheetSummary, fmt.Sprintf("A%d", row), fmt.Sprintf("A%d", row), styles.header)
		f.SetCellStyle(sheetSummary, fmt.Sprintf("B%d", row), fmt.Sprintf("B%d", row), styles.value)
		f.SetRowHeight(sheetSummary, row, 22)
	}
	return nil
}

// createAlertsSheet lists alerts, critical first then newest first.
func (w *Writer) createAlertsSheet(f *excelize.File, alerts []*model.Alert, styles *styleSet) error {
	headers := []string{"告警ID", "类型", "级别", "指标名称", "触发值", "阈值", "标题", "状态", "创建时间", "恢复时间", "恢复人", "确认人", "已通知渠道"}
	widths := []float64{38, 16, 10, 24, 12, 12, 36, 10, 20, 20, 12, 12, 30}
	if err := w.prepareTable(f, sheetAlerts, headers, widths, styles); err != nil {
		return err
	}

	sorted := make([]*model.Alert, len(alerts))
	copy(sorted, alerts)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Severity != sorted[j].Severity {
			return severityPriority(sorted[i].Severity) > severityPriority(sorted[j].Severity)
		}
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})

	for i, a := range sorted {
		row := fmt.Sprintf("%d", i+2)
		resolvedAt := ""
		if a.ResolvedAt != nil {
			resolvedAt = a.ResolvedAt.In(w.timezone).Format(timeLayout)
		}
		values := []any{
			a.ID, alertTypeText(a.Type), severityText(a.Severity), a.MetricName,
			a.Value, a.ThresholdValue, a.Title, statusText(a.Status),
			a.CreatedAt.In(w.timezone).Format(timeLayout), resolvedAt, a.ResolvedBy,
			a.AcknowledgedBy, strings.Join(a.NotifiedChannels, ", "),
		}
		for col, v := range values {
			f.SetCellValue(sheetAlerts, columnName(col+1)+row, v)
		}

		if style := severityStyle(a.Severity, styles); style > 0 {
			f.SetCellStyle(sheetAlerts, "C"+row, "C"+row, style)
		}
		if a.Status == model.AlertStatusResolved {
			f.SetCellStyle(sheetAlerts, "H"+row, "H"+row, styles.normal)
		}
	}
	return nil
}

// createRecordsSheet lists notification records in write order.
func (w *Writer) createRecordsSheet(f *excelize.File, records []*model.NotificationRecord, styles *styleSet) error {
	headers := []string{"记录ID", "告警ID", "渠道ID", "渠道类型", "接收方", "结果", "时间", "耗时(ms)", "尝试次数", "强制", "标题", "错误信息"}
	widths := []float64{10, 38, 16, 10, 30, 10, 20, 10, 10, 8, 36, 40}
	if err := w.prepareTable(f, sheetRecords, headers, widths, styles); err != nil {
		return err
	}

	for i, r := range records {
		row := fmt.Sprintf("%d", i+2)
		values := []any{
			r.ID, r.AlertID, r.ChannelID, string(r.ChannelType), r.Recipient,
			notificationStatusText(r.Status), r.SentAt.In(w.timezone).Format(timeLayout),
			r.LatencyMs, r.Attempts, boolToText(r.Forced), r.Subject, r.Error,
		}
		for col, v := range values {
			f.SetCellValue(sheetRecords, columnName(col+1)+row, v)
		}

		var style int
		switch r.Status {
		case model.NotificationSent:
			style = styles.normal
		case model.NotificationFailed:
			style = styles.critical
		case model.NotificationThrottled, model.NotificationSkipped:
			style = styles.warning
		}
		if style > 0 {
			f.SetCellStyle(sheetRecords, "F"+row, "F"+row, style)
		}
	}
	return nil
}

// prepareTable creates a sheet with a styled, frozen header row.
func (w *Writer) prepareTable(f *excelize.File, sheet string, headers []string, widths []float64, styles *styleSet) error {
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}
	for i, width := range widths {
		col := columnName(i + 1)
		f.SetColWidth(sheet, col, col, width)
	}
	for i, header := range headers {
		cell := fmt.Sprintf("%s1", columnName(i+1))
		f.SetCellValue(sheet, cell, header)
		f.SetCellStyle(sheet, cell, cell, styles.header)
	}
	f.SetRowHeight(sheet, 1, 25)

	return f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		Split:       false,
		XSplit:      0,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

// Helper functions

func severityStyle(s model.Severity, styles *styleSet) int {
	switch s {
	case model.SeverityCritical:
		return styles.critical
	case model.SeverityWarning:
		return styles.warning
	default:
		return 0
	}
}

// columnName converts a 1-based column index to Excel column name (A, B, ..., Z, AA, AB, ...).
func columnName(index int) string {
	result := ""
	for index > 0 {
		index--
		result = string(rune('A'+index%26)) + result
		index /= 26
	}
	return result
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

func boolToText(b bool) string {
	if b {
		return "是"
	}
	return "否"
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"alert-engine/internal/model"
)

// SQLite is a Store backed by a single SQLite database file.
type SQLite struct {
	db     *sql.DB
	dbPath string
	// mu serializes check-and-insert sequences.
	mu sync.Mutex
}

const alertColumns = `id, type, metric_name, severity, value, threshold_value, title, description,
	status, created_at, resolved_at, resolved_by, acknowledged_at, acknowledged_by,
	notified_channels, notification_sent, tags`

const recordColumns = `id, alert_id, channel_id, channel_type, recipient, subject, content, status,
	sent_at, latency_ms, attempts, forced, provider_response, error`

// NewSQLite opens (or creates) the SQLite database and runs migrations.
func NewSQLite(dbPath string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite single-writer
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	return &SQLite{db: db, dbPath: dbPath}, nil
}

// DBPath returns the database file path.
func (s *SQLite) DBPath() string { return s.dbPath }

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// =============================================================================
// Alerts
// =============================================================================

// Create inserts a new alert and returns its id.
func (s *SQLite) Create(ctx context.Context, alert *model.Alert) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.insertAlert(ctx, s.db, alert); err != nil {
		return "", err
	}
	return alert.ID, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLite) insertAlert(ctx context.Context, db execer, alert *model.Alert) error {
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	if alert.Status == "" {
		alert.Status = model.AlertStatusActive
	}
	channels, err := json.Marshal(nonNil(alert.NotifiedChannels))
	if err != nil {
		return fmt.Errorf("encode notified channels: %w", err)
	}
	tags, err := json.Marshal(alert.Tags)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}
	_, err = db.ExecContext(ctx, `INSERT INTO alerts (`+alertColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		alert.ID, string(alert.Type), alert.MetricName, string(alert.Severity), alert.Value,
		alert.ThresholdValue, alert.Title, alert.Description, string(alert.Status),
		alert.CreatedAt.UnixNano(), nullTime(alert.ResolvedAt), alert.ResolvedBy,
		nullTime(alert.AcknowledgedAt), alert.AcknowledgedBy, string(channels),
		boolInt(alert.NotificationSent), string(tags))
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// CreateIfAbsent inserts alert unless an active alert for its metric exists since since.
func (s *SQLite) CreateIfAbsent(ctx context.Context, alert *model.Alert, since time.Time) (*model.Alert, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	existing, err := queryOneAlert(ctx, tx, `SELECT `+alertColumns+` FROM alerts
		WHERE metric_name = ? AND status = ? AND type != ? AND created_at >= ?
		ORDER BY created_at DESC LIMIT 1`,
		alert.MetricName, string(model.AlertStatusActive), string(model.AlertTypeFloodEscalation), since.UnixNano())
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	if err := s.insertAlert(ctx, tx, alert); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit: %w", err)
	}
	return alert.Clone(), true, nil
}

// FindActive returns the newest active alert for metric created after since.
func (s *SQLite) FindActive(ctx context.Context, metricName string, since time.Time) (*model.Alert, error) {
	return queryOneAlert(ctx, s.db, `SELECT `+alertColumns+` FROM alerts
		WHERE metric_name = ? AND status = ? AND type != ? AND created_at >= ?
		ORDER BY created_at DESC LIMIT 1`,
		metricName, string(model.AlertStatusActive), string(model.AlertTypeFloodEscalation), since.UnixNano())
}

// Get returns an alert by id.
func (s *SQLite) Get(ctx context.Context, id string) (*model.Alert, error) {
	a, err := queryOneAlert(ctx, s.db, `SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, ErrNotFound
	}
	return a, nil
}

// Resolve marks an alert resolved; already resolved alerts are left untouched.
func (s *SQLite) Resolve(ctx context.Context, id, resolvedBy string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `UPDATE alerts SET status = ?, resolved_at = ?, resolved_by = ?
		WHERE id = ? AND status != ?`,
		string(model.AlertStatusResolved), at.UnixNano(), resolvedBy, id, string(model.AlertStatusResolved))
	if err != nil {
		return fmt.Errorf("resolve alert: %w", err)
	}
	return s.checkExists(ctx, res, id)
}

// Acknowledge records an operator acknowledgement once.
func (s *SQLite) Acknowledge(ctx context.Context, id, by string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `UPDATE alerts SET acknowledged_at = ?, acknowledged_by = ?
		WHERE id = ? AND acknowledged_at IS NULL`, at.UnixNano(), by, id)
	if err != nil {
		return fmt.Errorf("acknowledge alert: %w", err)
	}
	return s.checkExists(ctx, res, id)
}

// checkExists maps "no row changed" to ErrNotFound when the id is unknown.
func (s *SQLite) checkExists(ctx context.Context, res sql.Result, id string) error {
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM alerts WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// ListActive returns active alerts matching filter, oldest first.
func (s *SQLite) ListActive(ctx context.Context, filter model.AlertFilter) ([]*model.Alert, error) {
	where := []string{"status = ?"}
	args := []any{string(model.AlertStatusActive)}
	if filter.MetricName != "" {
		where = append(where, "metric_name = ?")
		args = append(args, filter.MetricName)
	}
	if filter.Severity != model.SeverityNone {
		where = append(where, "severity = ?")
		args = append(args, string(filter.Severity))
	}
	if filter.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(filter.Type))
	}
	return queryAlerts(ctx, s.db, `SELECT `+alertColumns+` FROM alerts WHERE `+
		strings.Join(where, " AND ")+` ORDER BY created_at, rowid`, args...)
}

// ListAlerts returns every alert created at or after since, oldest first.
func (s *SQLite) ListAlerts(ctx context.Context, since time.Time) ([]*model.Alert, error) {
	return queryAlerts(ctx, s.db, `SELECT `+alertColumns+` FROM alerts
		WHERE created_at >= ? ORDER BY created_at, rowid`, since.UnixNano())
}

// MarkNotified appends channel ids and flags the alert as notified.
func (s *SQLite) MarkNotified(ctx context.Context, id string, channelIDs []string, sent bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	a, err := queryOneAlert(ctx, tx, `SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if a == nil {
		return ErrNotFound
	}
	a.AddNotifiedChannels(channelIDs)
	channels, err := json.Marshal(nonNil(a.NotifiedChannels))
	if err != nil {
		return fmt.Errorf("encode notified channels: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE alerts SET notified_channels = ?,
		notification_sent = MAX(notification_sent, ?) WHERE id = ?`,
		string(channels), boolInt(sent), id); err != nil {
		return fmt.Errorf("mark notified: %w", err)
	}
	return tx.Commit()
}

// =============================================================================
// Notification history
// =============================================================================

// Append stores a notification record and assigns its id.
func (s *SQLite) Append(ctx context.Context, r *model.NotificationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `INSERT INTO notification_records (alert_id, channel_id,
		channel_type, recipient, subject, content, status, sent_at, latency_ms, attempts, forced,
		provider_response, error) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.AlertID, r.ChannelID, string(r.ChannelType), r.Recipient, r.Subject, r.Content,
		string(r.Status), r.SentAt.UnixNano(), r.LatencyMs, r.Attempts, boolInt(r.Forced),
		r.ProviderResponse, r.Error)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("record id: %w", err)
	}
	r.ID = id
	return nil
}

// ListByAlert returns the records of an alert in insertion order.
func (s *SQLite) ListByAlert(ctx context.Context, alertID string) ([]*model.NotificationRecord, error) {
	return s.queryRecords(ctx, `SELECT `+recordColumns+` FROM notification_records
		WHERE alert_id = ? ORDER BY id`, alertID)
}

// ListSince returns records sent at or after since.
func (s *SQLite) ListSince(ctx context.Context, since time.Time) ([]*model.NotificationRecord, error) {
	return s.queryRecords(ctx, `SELECT `+recordColumns+` FROM notification_records
		WHERE sent_at >= ? ORDER BY id`, since.UnixNano())
}

func (s *SQLite) queryRecords(ctx context.Context, query string, args ...any) ([]*model.NotificationRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []*model.NotificationRecord
	for rows.Next() {
		var (
			r                   model.NotificationRecord
			channelType, status string
			sentAt              int64
			forced              int
		)
		if err := rows.Scan(&r.ID, &r.AlertID, &r.ChannelID, &channelType, &r.Recipient,
			&r.Subject, &r.Content, &status, &sentAt, &r.LatencyMs, &r.Attempts, &forced,
			&r.ProviderResponse, &r.Error); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		r.ChannelType = model.ChannelType(channelType)
		r.Status = model.NotificationStatus(status)
		r.SentAt = time.Unix(0, sentAt)
		r.Forced = forced != 0
		out = append(out, &r)
	}
	return out, rows.Err()
}

// =============================================================================
// Flood windows
// =============================================================================

// SaveFloodWindow upserts a flood window.
func (s *SQLite) SaveFloodWindow(ctx context.Context, w *model.FloodControlWindow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `INSERT INTO flood_windows (metric_name, channel_type,
		window_start, count_in_window, escalated, last_seen) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(metric_name, channel_type) DO UPDATE SET
			window_start = excluded.window_start,
			count_in_window = excluded.count_in_window,
			escalated = excluded.escalated,
			last_seen = excluded.last_seen`,
		w.MetricName, string(w.ChannelType), w.WindowStart.UnixNano(), w.CountInWindow,
		boolInt(w.EscalatedThisWindow), w.LastSeen.UnixNano())
	if err != nil {
		return fmt.Errorf("save flood window: %w", err)
	}
	return nil
}

// LoadFloodWindows returns every stored flood window.
func (s *SQLite) LoadFloodWindows(ctx context.Context) ([]*model.FloodControlWindow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT metric_name, channel_type, window_start,
		count_in_window, escalated, last_seen FROM flood_windows`)
	if err != nil {
		return nil, fmt.Errorf("query flood windows: %w", err)
	}
	defer rows.Close()

	var out []*model.FloodControlWindow
	for rows.Next() {
		var (
			w           model.FloodControlWindow
			channelType string
			start, last int64
			escalated   int
		)
		if err := rows.Scan(&w.MetricName, &channelType, &start, &w.CountInWindow, &escalated, &last); err != nil {
			return nil, fmt.Errorf("scan flood window: %w", err)
		}
		w.ChannelType = model.ChannelType(channelType)
		w.WindowStart = time.Unix(0, start)
		w.LastSeen = time.Unix(0, last)
		w.EscalatedThisWindow = escalated != 0
		out = append(out, &w)
	}
	return out, rows.Err()
}

// DeleteFloodWindows removes windows last seen before olderThan.
func (s *SQLite) DeleteFloodWindows(ctx context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `DELETE FROM flood_windows WHERE last_seen < ?`, olderThan.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("delete flood windows: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// =============================================================================
// Channel state and breach streaks
// =============================================================================

// SaveChannelState upserts the rate-limit state of one channel.
func (s *SQLite) SaveChannelState(ctx context.Context, channelID string, state model.ChannelState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `INSERT INTO channel_state (channel_id, sent_this_hour,
		hour_window_start, last_sent_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(channel_id) DO UPDATE SET
			sent_this_hour = excluded.sent_this_hour,
			hour_window_start = excluded.hour_window_start,
			last_sent_at = excluded.last_sent_at`,
		channelID, state.SentThisHour, unixNano(state.HourWindowStart), unixNano(state.LastSentAt))
	if err != nil {
		return fmt.Errorf("save channel state: %w", err)
	}
	return nil
}

// LoadChannelStates returns the stored channel states keyed by channel id.
func (s *SQLite) LoadChannelStates(ctx context.Context) (map[string]model.ChannelState, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT channel_id, sent_this_hour, hour_window_start,
		last_sent_at FROM channel_state`)
	if err != nil {
		return nil, fmt.Errorf("query channel state: %w", err)
	}
	defer rows.Close()

	out := make(map[string]model.ChannelState)
	for rows.Next() {
		var (
			id              string
			st              model.ChannelState
			hourStart, last int64
		)
		if err := rows.Scan(&id, &st.SentThisHour, &hourStart, &last); err != nil {
			return nil, fmt.Errorf("scan channel state: %w", err)
		}
		st.HourWindowStart = fromUnixNano(hourStart)
		st.LastSentAt = fromUnixNano(last)
		out[id] = st
	}
	return out, rows.Err()
}

// SaveBreachStreak stores the breach counter of a metric; zero deletes it.
func (s *SQLite) SaveBreachStreak(ctx context.Context, metricName string, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if count <= 0 {
		_, err = s.db.ExecContext(ctx, `DELETE FROM breach_streaks WHERE metric_name = ?`, metricName)
	} else {
		_, err = s.db.ExecContext(ctx, `INSERT INTO breach_streaks (metric_name, count) VALUES (?, ?)
			ON CONFLICT(metric_name) DO UPDATE SET count = excluded.count`, metricName, count)
	}
	if err != nil {
		return fmt.Errorf("save breach streak: %w", err)
	}
	return nil
}

// LoadBreachStreaks returns the stored breach counters keyed by metric name.
func (s *SQLite) LoadBreachStreaks(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT metric_name, count FROM breach_streaks`)
	if err != nil {
		return nil, fmt.Errorf("query breach streaks: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var (
			metric string
			count  int
		)
		if err := rows.Scan(&metric, &count); err != nil {
			return nil, fmt.Errorf("scan breach streak: %w", err)
		}
		out[metric] = count
	}
	return out, rows.Err()
}

// =============================================================================
// Helpers
// =============================================================================

// unixNano maps the zero time to 0 so it survives a round trip.
func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(0, v)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryOneAlert(ctx context.Context, db querier, query string, args ...any) (*model.Alert, error) {
	alerts, err := queryAlerts(ctx, db, query, args...)
	if err != nil {
		return nil, err
	}
	if len(alerts) == 0 {
		return nil, nil
	}
	return alerts[0], nil
}

func queryAlerts(ctx context.Context, db querier, query string, args ...any) ([]*model.Alert, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var out []*model.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAlert(rows *sql.Rows) (*model.Alert, error) {
	var (
		a                           model.Alert
		alertType, severity, status string
		createdAt                   int64
		resolvedAt, acknowledgedAt  sql.NullInt64
		channels, tags              string
		sent                        int
	)
	if err := rows.Scan(&a.ID, &alertType, &a.MetricName, &severity, &a.Value, &a.ThresholdValue,
		&a.Title, &a.Description, &status, &createdAt, &resolvedAt, &a.ResolvedBy,
		&acknowledgedAt, &a.AcknowledgedBy, &channels, &sent, &tags); err != nil {
		return nil, fmt.Errorf("scan alert: %w", err)
	}
	a.Type = model.AlertType(alertType)
	a.Severity = model.Severity(severity)
	a.Status = model.AlertStatus(status)
	a.CreatedAt = time.Unix(0, createdAt)
	a.ResolvedAt = fromNull(resolvedAt)
	a.AcknowledgedAt = fromNull(acknowledgedAt)
	a.NotificationSent = sent != 0
	if err := json.Unmarshal([]byte(channels), &a.NotifiedChannels); err != nil {
		return nil, fmt.Errorf("decode notified channels: %w", err)
	}
	if tags != "" && tags != "null" {
		if err := json.Unmarshal([]byte(tags), &a.Tags); err != nil {
			return nil, fmt.Errorf("decode tags: %w", err)
		}
	}
	return &a, nil
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNull(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64)
	return &t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

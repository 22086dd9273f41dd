package store

import "database/sql"

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS alerts (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		metric_name TEXT NOT NULL,
		severity TEXT NOT NULL,
		value REAL NOT NULL,
		threshold_value REAL NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		resolved_at INTEGER,
		resolved_by TEXT NOT NULL DEFAULT '',
		acknowledged_at INTEGER,
		acknowledged_by TEXT NOT NULL DEFAULT '',
		notified_channels TEXT NOT NULL DEFAULT '[]',
		notification_sent INTEGER NOT NULL DEFAULT 0,
		tags TEXT NOT NULL DEFAULT '{}'
	);
	CREATE INDEX IF NOT EXISTS idx_alerts_metric_status ON alerts(metric_name, status);
	CREATE INDEX IF NOT EXISTS idx_alerts_created ON alerts(created_at);`,

	`CREATE TABLE IF NOT EXISTS notification_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		alert_id TEXT NOT NULL,
		channel_id TEXT NOT NULL,
		channel_type TEXT NOT NULL,
		recipient TEXT NOT NULL DEFAULT '',
		subject TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		sent_at INTEGER NOT NULL,
		latency_ms INTEGER NOT NULL DEFAULT 0,
		attempts INTEGER NOT NULL DEFAULT 0,
		forced INTEGER NOT NULL DEFAULT 0,
		provider_response TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_records_alert ON notification_records(alert_id);
	CREATE INDEX IF NOT EXISTS idx_records_sent ON notification_records(sent_at);`,

	`CREATE TABLE IF NOT EXISTS flood_windows (
		metric_name TEXT NOT NULL,
		channel_type TEXT NOT NULL,
		window_start INTEGER NOT NULL,
		count_in_window INTEGER NOT NULL DEFAULT 0,
		escalated INTEGER NOT NULL DEFAULT 0,
		last_seen INTEGER NOT NULL,
		PRIMARY KEY (metric_name, channel_type)
	);`,

	`CREATE TABLE IF NOT EXISTS channel_state (
		channel_id TEXT PRIMARY KEY,
		sent_this_hour INTEGER NOT NULL DEFAULT 0,
		hour_window_start INTEGER NOT NULL DEFAULT 0,
		last_sent_at INTEGER NOT NULL DEFAULT 0
	);
	CREATE TABLE IF NOT EXISTS breach_streaks (
		metric_name TEXT PRIMARY KEY,
		count INTEGER NOT NULL
	);`,
}

func runMigrations(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return err
	}

	var currentVersion int
	row := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return err
	}

	for i := currentVersion; i < len(migrations); i++ {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			tx.Rollback()
			return err
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", i+1); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

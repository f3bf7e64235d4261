package storage

import (
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"
)

var sqliteDialect = dialect{
	name: "sqlite",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS readings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			day INTEGER NOT NULL,
			bag_id TEXT NOT NULL,
			farm TEXT NOT NULL,
			crop TEXT NOT NULL,
			tons REAL NOT NULL,
			lat REAL,
			lng REAL,
			temperature REAL NOT NULL,
			humidity REAL NOT NULL,
			co2 REAL NOT NULL,
			risk REAL NOT NULL,
			source TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_readings_bag_day ON readings(bag_id, day)`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			filter_key TEXT NOT NULL,
			total_bags INTEGER NOT NULL,
			total_tons REAL NOT NULL,
			at_risk_tons REAL NOT NULL,
			open_alerts INTEGER NOT NULL,
			severity TEXT NOT NULL,
			payload_json TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_key_ts ON snapshots(filter_key, ts)`,
		`CREATE TABLE IF NOT EXISTS acknowledgements (
			id TEXT PRIMARY KEY,
			ts TEXT NOT NULL,
			bag_id TEXT NOT NULL,
			alert_type TEXT NOT NULL,
			severity TEXT NOT NULL,
			note TEXT
		)`,
	},
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:silofy.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// sqlite serializes writers; one connection also keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	return &sqlStore{db: db, d: sqliteDialect}, nil
}

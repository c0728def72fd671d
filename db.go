package main

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS memory_records (
		id          TEXT PRIMARY KEY,
		vector      TEXT NOT NULL,
		summary     TEXT NOT NULL,
		inserted_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_memory_inserted_at ON memory_records(inserted_at);

	CREATE TABLE IF NOT EXISTS incidents (
		id          TEXT PRIMARY KEY,
		user_id     TEXT NOT NULL,
		department  TEXT DEFAULT '',
		request_url TEXT DEFAULT '',
		source_ip   TEXT DEFAULT '',
		category    TEXT NOT NULL,
		score       INTEGER NOT NULL,
		reasoning   TEXT DEFAULT '',
		unresolved  INTEGER DEFAULT 0,
		opened_at   DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_incidents_user ON incidents(user_id);
	CREATE INDEX IF NOT EXISTS idx_incidents_opened_at ON incidents(opened_at);

	CREATE TABLE IF NOT EXISTS scanned_files (
		path       TEXT PRIMARY KEY,
		scanned_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, err
	}
	return db, nil
}

type Incident struct {
	ID         string
	UserID     string
	Department string
	RequestURL string
	SourceIP   string
	Category   string
	Score      int
	Reasoning  string
	Unresolved bool
	OpenedAt   time.Time
}

func InsertIncident(db *sql.DB, inc Incident) error {
	_, err := db.Exec(
		`INSERT INTO incidents (id, user_id, department, request_url, source_ip, category, score, reasoning, unresolved, opened_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inc.ID, inc.UserID, inc.Department, inc.RequestURL, inc.SourceIP,
		inc.Category, inc.Score, inc.Reasoning, boolToInt(inc.Unresolved), inc.OpenedAt,
	)
	return err
}

func UnresolvedIncidentCount(db *sql.DB) (int, error) {
	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM incidents WHERE unresolved = 1`).Scan(&count)
	return count, err
}

func FileScanned(db *sql.DB, path string) (bool, error) {
	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM scanned_files WHERE path = ?`, path).Scan(&count)
	return count > 0, err
}

func MarkFileScanned(db *sql.DB, path string) error {
	_, err := db.Exec(`INSERT OR IGNORE INTO scanned_files (path) VALUES (?)`, path)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

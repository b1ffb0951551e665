// Package storage indexes saved recordings and device switches.
//
// Architecture:
// - SQLite database for metadata (searchable, indexed)
// - File system for the encoded audio, under the configured output dir
//
// Directory structure:
// ~/.local/share/rewind/
// └── rewind.db                 # SQLite database
// ~/Recordings/
// ├── sink-recording-2025-02-05T14:30:22.000000.ogg
// └── source-recording-2025-02-05T14:31:00.000000.ogg
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/Atharva-Kanherkar/rewind/internal/capture"
)

const dbName = "rewind.db"

// Store persists recording metadata.
type Store struct {
	db     *sql.DB
	dbPath string
}

// New opens or creates the index under baseDir.
func New(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	dbPath := filepath.Join(baseDir, dbName)
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{
		db:     db,
		dbPath: dbPath,
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates the database tables.
func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS recordings (
		id TEXT PRIMARY KEY,
		channel TEXT NOT NULL,
		device TEXT NOT NULL,
		requested_at DATETIME NOT NULL,
		duration_ms INTEGER NOT NULL,
		size_bytes INTEGER NOT NULL,
		path TEXT NOT NULL,
		format TEXT NOT NULL,
		clamped INTEGER DEFAULT 0,
		sample JSON,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_recordings_requested ON recordings(requested_at);
	CREATE INDEX IF NOT EXISTS idx_recordings_channel ON recordings(channel);

	CREATE TABLE IF NOT EXISTS device_switches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		channel TEXT NOT NULL,
		from_device TEXT,
		to_device TEXT NOT NULL,
		error TEXT,
		switched_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_switches_at ON device_switches(switched_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordingRecord represents a saved recording.
type RecordingRecord struct {
	ID          string
	Channel     string
	Device      string
	RequestedAt time.Time
	Duration    time.Duration
	SizeBytes   int64
	Path        string
	Format      string
	Clamped     bool
	Sample      capture.SampleFormat
	CreatedAt   time.Time
}

// NewRecordingRecord describes an encoded segment written to path.
func NewRecordingRecord(seg *capture.Segment, path, format string) *RecordingRecord {
	var size int64
	if info, err := os.Stat(path); err == nil {
		size = info.Size()
	}
	return &RecordingRecord{
		Channel:     seg.Channel,
		Device:      seg.Device,
		RequestedAt: seg.Start,
		Duration:    seg.Duration(),
		SizeBytes:   size,
		Path:        path,
		Format:      format,
		Clamped:     seg.Clamped,
		Sample:      seg.Format,
	}
}

// SaveRecording inserts r, assigning it an ID when it has none.
func (s *Store) SaveRecording(r *RecordingRecord) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}

	sampleJSON, err := json.Marshal(r.Sample)
	if err != nil {
		return fmt.Errorf("failed to serialize sample format: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO recordings (id, channel, device, requested_at, duration_ms, size_bytes, path, format, clamped, sample, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.Channel, r.Device, r.RequestedAt, r.Duration.Milliseconds(), r.SizeBytes,
		r.Path, r.Format, boolToInt(r.Clamped), string(sampleJSON), r.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert recording: %w", err)
	}
	return nil
}

// RecentRecordings returns the newest recordings first. An empty channel
// matches every channel.
func (s *Store) RecentRecordings(channel string, limit int) ([]RecordingRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, channel, device, requested_at, duration_ms, size_bytes, path, format, clamped, sample, created_at
		FROM recordings
		WHERE ? = '' OR channel = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, channel, channel, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []RecordingRecord
	for rows.Next() {
		var r RecordingRecord
		var durationMs int64
		var clamped int
		var sampleJSON sql.NullString

		err := rows.Scan(&r.ID, &r.Channel, &r.Device, &r.RequestedAt, &durationMs, &r.SizeBytes,
			&r.Path, &r.Format, &clamped, &sampleJSON, &r.CreatedAt)
		if err != nil {
			return nil, err
		}

		r.Duration = time.Duration(durationMs) * time.Millisecond
		r.Clamped = clamped != 0
		if sampleJSON.Valid && sampleJSON.String != "" {
			json.Unmarshal([]byte(sampleJSON.String), &r.Sample)
		}

		records = append(records, r)
	}

	return records, rows.Err()
}

// SwitchRecord is one attempt to move a channel to another device.
type SwitchRecord struct {
	ID         int64
	Channel    string
	FromDevice string
	ToDevice   string
	Error      string // empty on success
	SwitchedAt time.Time
}

// RecordSwitch logs a device switch attempt.
func (s *Store) RecordSwitch(r *SwitchRecord) (int64, error) {
	if r.SwitchedAt.IsZero() {
		r.SwitchedAt = time.Now()
	}
	res, err := s.db.Exec(`
		INSERT INTO device_switches (channel, from_device, to_device, error, switched_at)
		VALUES (?, ?, ?, ?, ?)
	`, r.Channel, r.FromDevice, r.ToDevice, r.Error, r.SwitchedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert device switch: %w", err)
	}
	r.ID, err = res.LastInsertId()
	return r.ID, err
}

// RecentSwitches returns the newest switch attempts first.
func (s *Store) RecentSwitches(limit int) ([]SwitchRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, channel, from_device, to_device, error, switched_at
		FROM device_switches
		ORDER BY switched_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []SwitchRecord
	for rows.Next() {
		var r SwitchRecord
		var from, errText sql.NullString
		if err := rows.Scan(&r.ID, &r.Channel, &from, &r.ToDevice, &errText, &r.SwitchedAt); err != nil {
			return nil, err
		}
		r.FromDevice = from.String
		r.Error = errText.String
		records = append(records, r)
	}

	return records, rows.Err()
}

// Stats holds storage statistics.
type Stats struct {
	TotalRecordings int64
	ByChannel       map[string]int64
	TotalDuration   time.Duration
	TotalBytes      int64
	Switches        int64
	DatabaseSize    int64
}

// Stats returns statistics about indexed recordings.
func (s *Store) Stats() (Stats, error) {
	var stats Stats
	var durationMs int64

	row := s.db.QueryRow("SELECT COUNT(*), COALESCE(SUM(duration_ms), 0), COALESCE(SUM(size_bytes), 0) FROM recordings")
	if err := row.Scan(&stats.TotalRecordings, &durationMs, &stats.TotalBytes); err != nil {
		return stats, err
	}
	stats.TotalDuration = time.Duration(durationMs) * time.Millisecond

	rows, err := s.db.Query("SELECT channel, COUNT(*) FROM recordings GROUP BY channel")
	if err != nil {
		return stats, err
	}
	stats.ByChannel = make(map[string]int64)
	for rows.Next() {
		var channel string
		var count int64
		if err := rows.Scan(&channel, &count); err != nil {
			rows.Close()
			return stats, err
		}
		stats.ByChannel[channel] = count
	}
	rows.Close()

	if err := s.db.QueryRow("SELECT COUNT(*) FROM device_switches").Scan(&stats.Switches); err != nil {
		return stats, err
	}

	if info, err := os.Stat(s.dbPath); err == nil {
		stats.DatabaseSize = info.Size()
	}

	return stats, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Package record persists one row per accepted pipeline cycle so runs can
// be inspected after the fact.
package record

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/strasdat/vslam/internal/pipeline"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type CycleDB struct {
	*sql.DB
}

// Open opens (or creates) the cycle database at path and applies pending
// migrations.
func Open(path string) (*CycleDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	cdb := &CycleDB{db}
	if err := cdb.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return cdb, nil
}

func (db *CycleDB) migrateUp() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	driver, err := migratesqlite.WithInstance(db.DB, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// migrateLogger implements migrate.Logger interface
type migrateLogger struct{}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	log.Printf("[migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool {
	return false
}

// RecordCycle stores one pipeline cycle row.
func (db *CycleDB) RecordCycle(rec pipeline.CycleRecord) error {
	query := `
		INSERT INTO cycles (cycle_id, stamp_ns, node_count, track_count, refined, overlay_published, cloud_published, cloud_points)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.Exec(query,
		rec.ID, rec.Stamp.UnixNano(), rec.NodeCount, rec.TrackCount,
		boolToInt(rec.Refined), boolToInt(rec.OverlayPublished),
		boolToInt(rec.CloudPublished), rec.CloudPoints)
	if err != nil {
		return fmt.Errorf("failed to insert cycle: %w", err)
	}
	return nil
}

// RecentCycles returns up to limit cycles ordered newest first.
func (db *CycleDB) RecentCycles(limit int) ([]pipeline.CycleRecord, error) {
	query := `
		SELECT cycle_id, stamp_ns, node_count, track_count, refined, overlay_published, cloud_published, cloud_points
		FROM cycles
		ORDER BY stamp_ns DESC
		LIMIT ?
	`

	rows, err := db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query cycles: %w", err)
	}
	defer rows.Close()

	var records []pipeline.CycleRecord
	for rows.Next() {
		var rec pipeline.CycleRecord
		var stampNs int64
		var refined, overlay, cloud int
		if err := rows.Scan(&rec.ID, &stampNs, &rec.NodeCount, &rec.TrackCount,
			&refined, &overlay, &cloud, &rec.CloudPoints); err != nil {
			return nil, fmt.Errorf("failed to scan cycle row: %w", err)
		}
		rec.Stamp = time.Unix(0, stampNs)
		rec.Refined = refined != 0
		rec.OverlayPublished = overlay != 0
		rec.CloudPublished = cloud != 0
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CycleCount returns the total number of stored cycles.
func (db *CycleDB) CycleCount() (int64, error) {
	var n int64
	if err := db.QueryRow(`SELECT COUNT(*) FROM cycles`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count cycles: %w", err)
	}
	return n, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

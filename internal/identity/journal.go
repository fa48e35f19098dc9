package identity

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"bridgex/internal/domain"

	_ "modernc.org/sqlite"
)

// Journal persists identity mappings to SQLite so edits and deletes keep
// resolving across a restart. Only mappings are stored, never message
// bodies. All writes are best-effort from the Map's point of view.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenJournal opens (or creates) the journal database.
func OpenJournal(dbPath string, logger *slog.Logger) (*Journal, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create journal directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open journal: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	j := &Journal{db: db, logger: logger}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal migration failed: %w", err)
	}
	return j, nil
}

func (j *Journal) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS identity_targets (
		origin_platform  TEXT NOT NULL,
		origin_group     TEXT NOT NULL,
		origin_message   TEXT NOT NULL,
		target_platform  TEXT NOT NULL,
		target_group     TEXT NOT NULL,
		target_message   TEXT NOT NULL,
		created_at       DATETIME NOT NULL,
		PRIMARY KEY (origin_platform, origin_group, origin_message,
		             target_platform, target_group)
	);
	CREATE INDEX IF NOT EXISTS idx_identity_created ON identity_targets(created_at);

	CREATE TABLE IF NOT EXISTS identity_overflow (
		origin_platform  TEXT NOT NULL,
		origin_group     TEXT NOT NULL,
		origin_message   TEXT NOT NULL,
		ref              TEXT NOT NULL,
		PRIMARY KEY (origin_platform, origin_group, origin_message)
	);
	`
	_, err := j.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) recordSend(origin domain.OriginKey, target domain.Endpoint, messageID string, createdAt time.Time) error {
	_, err := j.db.Exec(
		`INSERT OR REPLACE INTO identity_targets
		 (origin_platform, origin_group, origin_message,
		  target_platform, target_group, target_message, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		origin.Platform, origin.GroupID, origin.MessageID,
		target.Platform, target.GroupID, messageID, createdAt.UTC(),
	)
	return err
}

func (j *Journal) removeTarget(origin domain.OriginKey, target domain.Endpoint) error {
	_, err := j.db.Exec(
		`DELETE FROM identity_targets
		 WHERE origin_platform = ? AND origin_group = ? AND origin_message = ?
		   AND target_platform = ? AND target_group = ?`,
		origin.Platform, origin.GroupID, origin.MessageID,
		target.Platform, target.GroupID,
	)
	return err
}

func (j *Journal) forget(origin domain.OriginKey) error {
	_, err := j.db.Exec(
		`DELETE FROM identity_targets
		 WHERE origin_platform = ? AND origin_group = ? AND origin_message = ?`,
		origin.Platform, origin.GroupID, origin.MessageID,
	)
	if err != nil {
		return err
	}
	_, err = j.db.Exec(
		`DELETE FROM identity_overflow
		 WHERE origin_platform = ? AND origin_group = ? AND origin_message = ?`,
		origin.Platform, origin.GroupID, origin.MessageID,
	)
	return err
}

func (j *Journal) setOverflow(origin domain.OriginKey, ref string) error {
	_, err := j.db.Exec(
		`INSERT OR REPLACE INTO identity_overflow
		 (origin_platform, origin_group, origin_message, ref)
		 VALUES (?, ?, ?, ?)`,
		origin.Platform, origin.GroupID, origin.MessageID, ref,
	)
	return err
}

func (j *Journal) purgeBefore(cutoff time.Time) error {
	_, err := j.db.Exec(`DELETE FROM identity_targets WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return err
	}
	// Orphaned overflow refs go with their targets.
	_, err = j.db.Exec(`
		DELETE FROM identity_overflow WHERE NOT EXISTS (
			SELECT 1 FROM identity_targets t
			WHERE t.origin_platform = identity_overflow.origin_platform
			  AND t.origin_group = identity_overflow.origin_group
			  AND t.origin_message = identity_overflow.origin_message
		)`)
	return err
}

type journalRecord struct {
	origin      domain.OriginKey
	target      domain.Endpoint
	messageID   string
	overflowRef string
	createdAt   time.Time
}

// loadAll returns every mapping created at or after the cutoff, plus the
// overflow refs attached to surviving keys.
func (j *Journal) loadAll(cutoff time.Time) ([]journalRecord, error) {
	rows, err := j.db.Query(
		`SELECT origin_platform, origin_group, origin_message,
		        target_platform, target_group, target_message, created_at
		 FROM identity_targets WHERE created_at >= ?
		 ORDER BY created_at`, cutoff.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []journalRecord
	for rows.Next() {
		var rec journalRecord
		var op, tp string
		if err := rows.Scan(&op, &rec.origin.GroupID, &rec.origin.MessageID,
			&tp, &rec.target.GroupID, &rec.messageID, &rec.createdAt); err != nil {
			return nil, err
		}
		rec.origin.Platform = domain.Platform(op)
		rec.target.Platform = domain.Platform(tp)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	orows, err := j.db.Query(
		`SELECT origin_platform, origin_group, origin_message, ref FROM identity_overflow`)
	if err != nil {
		return nil, err
	}
	defer orows.Close()
	for orows.Next() {
		var rec journalRecord
		var op string
		if err := orows.Scan(&op, &rec.origin.GroupID, &rec.origin.MessageID, &rec.overflowRef); err != nil {
			return nil, err
		}
		rec.origin.Platform = domain.Platform(op)
		rec.createdAt = cutoff
		records = append(records, rec)
	}
	return records, orows.Err()
}

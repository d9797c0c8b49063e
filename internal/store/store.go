// Package store persists the mapping between source and sink identifiers
// (spec §3 Store schema, §4.1 Store operations). It is the single source
// of truth for "has this source item/album already been reconciled".
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure-Go driver, no CGO

	"github.com/tonimelisma/immich-sync/internal/ids"
)

// LinkType records how an item_item_links row came to exist.
type LinkType string

const (
	// MatchedUnique means the link was discovered by MetadataMatcher
	// against an existing sink asset; no upload occurred.
	MatchedUnique LinkType = "MatchedUnique"
	// MatchedUniqueDB means the link was created after uploading new
	// bytes to the sink.
	MatchedUniqueDB LinkType = "MatchedUniqueDB"
)

// ErrConflict is returned by InsertItemLink when source_id already has a
// mapping row. Per spec §4.1 this is non-fatal: the caller keeps the
// existing mapping and logs a warning (spec §4.10).
var ErrConflict = errors.New("store: source id already linked")

// Store wraps the local SQLite mapping database. Single-writer via
// SetMaxOpenConns(1), so every read and write in this process shares one
// connection and runs one at a time.
type Store struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time
}

// Open opens (creating if absent) the SQLite database at dbPath and
// ensures its schema is current (spec §4.1 ensure_schema).
func Open(ctx context.Context, dbPath string, logger *slog.Logger) (*Store, error) {
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: opening database %s: %w", dbPath, err)
	}

	// Sole-writer pattern: at most one connection, so writes never
	// interleave and SQLITE_BUSY from a second writer can't occur.
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, logger: logger, nowFunc: time.Now}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

// LookupItem returns the sink id mapped to sourceID, if any.
func (s *Store) LookupItem(ctx context.Context, sourceID ids.SourceItemID) (ids.SinkItemID, bool, error) {
	var sinkID ids.SinkItemID
	err := s.db.QueryRowContext(ctx,
		`SELECT sink_id FROM item_item_links WHERE source_id = ?`, sourceID.String(),
	).Scan(&sinkID)
	if errors.Is(err, sql.ErrNoRows) {
		return ids.SinkItemID{}, false, nil
	}
	if err != nil {
		return ids.SinkItemID{}, false, fmt.Errorf("store: lookup_item(%s): %w", sourceID, err)
	}
	return sinkID, true, nil
}

// LookupAlbum returns the sink album id mapped to sourceID, if any.
func (s *Store) LookupAlbum(ctx context.Context, sourceID ids.SourceAlbumID) (ids.SinkAlbumID, bool, error) {
	var sinkID ids.SinkAlbumID
	err := s.db.QueryRowContext(ctx,
		`SELECT sink_id FROM album_album_links WHERE source_id = ?`, sourceID.String(),
	).Scan(&sinkID)
	if errors.Is(err, sql.ErrNoRows) {
		return ids.SinkAlbumID{}, false, nil
	}
	if err != nil {
		return ids.SinkAlbumID{}, false, fmt.Errorf("store: lookup_album(%s): %w", sourceID, err)
	}
	return sinkID, true, nil
}

// ReverseLookupAlbum returns the source album id that maps to sinkID, if
// any. Used by the Linker to decide whether a sink album already backs a
// different source album before reusing it (spec §4.7).
func (s *Store) ReverseLookupAlbum(ctx context.Context, sinkID ids.SinkAlbumID) (ids.SourceAlbumID, bool, error) {
	var sourceID ids.SourceAlbumID
	err := s.db.QueryRowContext(ctx,
		`SELECT source_id FROM album_album_links WHERE sink_id = ?`, sinkID.String(),
	).Scan(&sourceID)
	if errors.Is(err, sql.ErrNoRows) {
		return ids.SourceAlbumID{}, false, nil
	}
	if err != nil {
		return ids.SourceAlbumID{}, false, fmt.Errorf("store: reverse_lookup_album(%s): %w", sinkID, err)
	}
	return sourceID, true, nil
}

// InsertItemLink records a new source→sink item mapping. Returns
// ErrConflict (wrapped) if sourceID is already mapped; the caller should
// treat this as a warning and keep the existing mapping (spec §4.10).
func (s *Store) InsertItemLink(ctx context.Context, sourceID ids.SourceItemID, sinkID ids.SinkItemID, linkType LinkType) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO item_item_links (source_id, sink_id, link_type, insert_time) VALUES (?, ?, ?, ?)`,
		sourceID.String(), sinkID.String(), string(linkType), s.nowFunc().Unix(),
	)
	if err == nil {
		return nil
	}
	if isUniqueConstraintErr(err) {
		return fmt.Errorf("%w: %s", ErrConflict, sourceID)
	}
	return fmt.Errorf("store: insert_item_link(%s, %s): %w", sourceID, sinkID, err)
}

// InsertAlbumLink records a new source→sink album mapping with INSERT OR
// IGNORE semantics (spec §4.1): if sourceID is already mapped, or if
// sinkID is already mapped from a different source album, no row is
// added and inserted is false.
func (s *Store) InsertAlbumLink(ctx context.Context, sourceID ids.SourceAlbumID, sinkID ids.SinkAlbumID) (inserted bool, err error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO album_album_links (source_id, sink_id, insert_time) VALUES (?, ?, ?)`,
		sourceID.String(), sinkID.String(), s.nowFunc().Unix(),
	)
	if err != nil {
		return false, fmt.Errorf("store: insert_album_link(%s, %s): %w", sourceID, sinkID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: insert_album_link(%s, %s) rows affected: %w", sourceID, sinkID, err)
	}
	return n > 0, nil
}

// CreateAlbumAndLink records a newly-created sink album and its mapping to
// sourceID atomically in one transaction (spec §4.1: "record_created_album
// and insert_album_link are executed atomically... during album
// creation").
func (s *Store) CreateAlbumAndLink(ctx context.Context, sourceID ids.SourceAlbumID, sinkID ids.SinkAlbumID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: create_album_and_link begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op if already committed

	now := s.nowFunc().Unix()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO created_albums (sink_id, creation_time) VALUES (?, ?)`,
		sinkID.String(), now,
	); err != nil {
		return fmt.Errorf("store: create_album_and_link record_created_album(%s): %w", sinkID, err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO album_album_links (source_id, sink_id, insert_time) VALUES (?, ?, ?)`,
		sourceID.String(), sinkID.String(), now,
	); err != nil {
		return fmt.Errorf("store: create_album_and_link insert_album_link(%s, %s): %w", sourceID, sinkID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: create_album_and_link commit: %w", err)
	}
	return nil
}

// isUniqueConstraintErr detects a SQLite UNIQUE/PRIMARY KEY constraint
// violation. modernc.org/sqlite wraps driver errors inconsistently enough
// across versions that matching on the message substring (rather than a
// specific error type) is the robust check; SQLite's own error text for
// this class is stable ("UNIQUE constraint failed").
func isUniqueConstraintErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Package persist provides the SQLite-backed local cache for synced
// streams. The cache is strictly an accelerator: every record in it can
// be rebuilt from the remote replica, so callers treat write failures
// as non-fatal.
package persist

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"streamsync/internal/model"
	"streamsync/internal/transport"
)

// Store is the SQLite stream cache.
type Store struct {
	db *sql.DB
}

// StreamRecord is the persisted per-stream sync state. Minipool holds
// the events that were pending confirmation when the record was
// written.
type StreamRecord struct {
	StreamID                 model.StreamID
	Cursor                   model.SyncCursor
	LastSnapshotMiniblockNum int64
	LastMiniblockNum         int64
	Minipool                 []*model.Envelope
}

// Open opens or creates the SQLite database at the given path and runs
// migrations.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := MigrateDB(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SaveStream upserts the sync state for a stream.
func (s *Store) SaveStream(rec *StreamRecord) error {
	cursor, err := json.Marshal(rec.Cursor)
	if err != nil {
		return fmt.Errorf("marshal cursor: %w", err)
	}
	minipool, err := json.Marshal(rec.Minipool)
	if err != nil {
		return fmt.Errorf("marshal minipool: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO synced_streams (stream_id, cursor, last_snapshot_miniblock_num, last_miniblock_num, minipool, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(stream_id) DO UPDATE SET
			cursor = excluded.cursor,
			last_snapshot_miniblock_num = excluded.last_snapshot_miniblock_num,
			last_miniblock_num = excluded.last_miniblock_num,
			minipool = excluded.minipool,
			updated_at = excluded.updated_at`,
		string(rec.StreamID), string(cursor), rec.LastSnapshotMiniblockNum,
		rec.LastMiniblockNum, string(minipool), time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("save stream: %w", err)
	}
	return nil
}

// LoadStream retrieves the sync state for a stream. Returns nil when
// the stream is not cached.
func (s *Store) LoadStream(streamID model.StreamID) (*StreamRecord, error) {
	var cursor, minipool string
	rec := &StreamRecord{StreamID: streamID}

	err := s.db.QueryRow(`
		SELECT cursor, last_snapshot_miniblock_num, last_miniblock_num, minipool
		FROM synced_streams WHERE stream_id = ?`, string(streamID),
	).Scan(&cursor, &rec.LastSnapshotMiniblockNum, &rec.LastMiniblockNum, &minipool)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load stream: %w", err)
	}

	if err := json.Unmarshal([]byte(cursor), &rec.Cursor); err != nil {
		return nil, fmt.Errorf("unmarshal cursor: %w", err)
	}
	if err := json.Unmarshal([]byte(minipool), &rec.Minipool); err != nil {
		return nil, fmt.Errorf("unmarshal minipool: %w", err)
	}
	return rec, nil
}

// DeleteStream removes a stream and its miniblocks from the cache.
func (s *Store) DeleteStream(streamID model.StreamID) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM synced_streams WHERE stream_id = ?", string(streamID)); err != nil {
		return fmt.Errorf("delete stream: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM miniblocks WHERE stream_id = ?", string(streamID)); err != nil {
		return fmt.Errorf("delete miniblocks: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM cleartexts WHERE stream_id = ?", string(streamID)); err != nil {
		return fmt.Errorf("delete cleartexts: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ListStreams returns the ids of all cached streams.
func (s *Store) ListStreams() ([]model.StreamID, error) {
	rows, err := s.db.Query("SELECT stream_id FROM synced_streams ORDER BY stream_id")
	if err != nil {
		return nil, fmt.Errorf("query streams: %w", err)
	}
	defer rows.Close()

	var ids []model.StreamID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan stream id: %w", err)
		}
		ids = append(ids, model.StreamID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate streams: %w", err)
	}
	return ids, nil
}

// SaveMiniblocks upserts a batch of miniblocks for a stream.
func (s *Store) SaveMiniblocks(streamID model.StreamID, blocks []transport.MiniblockBundle) error {
	if len(blocks) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO miniblocks (stream_id, miniblock_num, data)
		VALUES (?, ?, ?)
		ON CONFLICT(stream_id, miniblock_num) DO UPDATE SET data = excluded.data`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, b := range blocks {
		num, err := bundleNum(b)
		if err != nil {
			return err
		}
		data, err := json.Marshal(b)
		if err != nil {
			return fmt.Errorf("marshal miniblock: %w", err)
		}
		if _, err := stmt.Exec(string(streamID), num, string(data)); err != nil {
			return fmt.Errorf("insert miniblock %d: %w", num, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// bundleNum extracts the miniblock number from a bundle's header
// without verifying the signature; the cache stores what it was given.
func bundleNum(b transport.MiniblockBundle) (int64, error) {
	event, err := model.UnmarshalEvent(b.Header.Event)
	if err != nil {
		return 0, fmt.Errorf("decode miniblock header: %w", err)
	}
	header, ok := event.Payload.(*model.MiniblockHeaderPayload)
	if !ok {
		return 0, fmt.Errorf("decode miniblock header: not a header payload")
	}
	return header.MiniblockNum, nil
}

// LoadMiniblocks retrieves miniblocks in [fromInclusive, toExclusive)
// in ascending order.
func (s *Store) LoadMiniblocks(streamID model.StreamID, fromInclusive, toExclusive int64) ([]transport.MiniblockBundle, error) {
	rows, err := s.db.Query(`
		SELECT data FROM miniblocks
		WHERE stream_id = ? AND miniblock_num >= ? AND miniblock_num < ?
		ORDER BY miniblock_num ASC`,
		string(streamID), fromInclusive, toExclusive,
	)
	if err != nil {
		return nil, fmt.Errorf("query miniblocks: %w", err)
	}
	defer rows.Close()

	return scanBundles(rows)
}

// LoadMiniblocksBefore retrieves up to limit miniblocks with numbers
// below before, ascending. Used for cached scrollback on hydration.
func (s *Store) LoadMiniblocksBefore(streamID model.StreamID, before int64, limit int) ([]transport.MiniblockBundle, error) {
	rows, err := s.db.Query(`
		SELECT data FROM (
			SELECT miniblock_num, data FROM miniblocks
			WHERE stream_id = ? AND miniblock_num < ?
			ORDER BY miniblock_num DESC LIMIT ?
		) ORDER BY miniblock_num ASC`,
		string(streamID), before, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query miniblocks before %d: %w", before, err)
	}
	defer rows.Close()

	return scanBundles(rows)
}

func scanBundles(rows *sql.Rows) ([]transport.MiniblockBundle, error) {
	var blocks []transport.MiniblockBundle
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan miniblock: %w", err)
		}
		var b transport.MiniblockBundle
		if err := json.Unmarshal([]byte(data), &b); err != nil {
			return nil, fmt.Errorf("unmarshal miniblock: %w", err)
		}
		blocks = append(blocks, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate miniblocks: %w", err)
	}
	return blocks, nil
}

// SaveCleartext records decrypted content for an event.
func (s *Store) SaveCleartext(streamID model.StreamID, eventID string, content model.DecryptedContent) error {
	_, err := s.db.Exec(`
		INSERT INTO cleartexts (event_id, stream_id, kind, content)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(event_id) DO UPDATE SET kind = excluded.kind, content = excluded.content`,
		eventID, string(streamID), content.Kind, content.Content,
	)
	if err != nil {
		return fmt.Errorf("save cleartext: %w", err)
	}
	return nil
}

// LoadCleartexts retrieves all decrypted content cached for a stream,
// keyed by event id.
func (s *Store) LoadCleartexts(streamID model.StreamID) (map[string]model.DecryptedContent, error) {
	rows, err := s.db.Query(
		"SELECT event_id, kind, content FROM cleartexts WHERE stream_id = ?",
		string(streamID),
	)
	if err != nil {
		return nil, fmt.Errorf("query cleartexts: %w", err)
	}
	defer rows.Close()

	out := make(map[string]model.DecryptedContent)
	for rows.Next() {
		var id string
		var c model.DecryptedContent
		if err := rows.Scan(&id, &c.Kind, &c.Content); err != nil {
			return nil, fmt.Errorf("scan cleartext: %w", err)
		}
		out[id] = c
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cleartexts: %w", err)
	}
	return out, nil
}

// Stats summarizes cache contents for status reporting.
type Stats struct {
	Streams    int64
	Miniblocks int64
	Cleartexts int64
	SizeBytes  int64
}

// GetStats returns cache statistics.
func (s *Store) GetStats() (*Stats, error) {
	stats := &Stats{}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM synced_streams").Scan(&stats.Streams); err != nil {
		return nil, fmt.Errorf("count streams: %w", err)
	}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM miniblocks").Scan(&stats.Miniblocks); err != nil {
		return nil, fmt.Errorf("count miniblocks: %w", err)
	}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM cleartexts").Scan(&stats.Cleartexts); err != nil {
		return nil, fmt.Errorf("count cleartexts: %w", err)
	}
	if err := s.db.QueryRow(
		"SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()",
	).Scan(&stats.SizeBytes); err != nil {
		return nil, fmt.Errorf("database size: %w", err)
	}
	return stats, nil
}

// Package metastore persists chunk provenance, per-file mtime skip-cache
// entries, and a log of recent queries to a SQLite database. It replaces the
// teacher's meta.json with a proper embedded store so drift stats can report
// on index history without holding everything in memory.
package metastore

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS chunks (
	id          INTEGER PRIMARY KEY,
	path        TEXT NOT NULL,
	line_num    INTEGER NOT NULL,
	start_byte  INTEGER NOT NULL,
	end_byte    INTEGER NOT NULL,
	chunk_index INTEGER NOT NULL,
	text        TEXT NOT NULL,
	mtime       INTEGER NOT NULL,
	build_id    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chunks_path ON chunks(path);

CREATE TABLE IF NOT EXISTS file_mtimes (
	path  TEXT PRIMARY KEY,
	mtime INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS builds (
	id         TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL,
	num_chunks INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS query_log (
	id    INTEGER PRIMARY KEY AUTOINCREMENT,
	query TEXT NOT NULL,
	k     INTEGER NOT NULL,
	ts    INTEGER NOT NULL
);
`

// Chunk is the provenance record for one indexed chunk, keyed by the same
// uint32 id the vector store and graph use.
type Chunk struct {
	ID         uint32
	Path       string
	LineNum    int
	StartByte  int64
	EndByte    int64
	ChunkIndex int
	Text       string
	Mtime      time.Time
	BuildID    string
}

// Build summarizes one index/rebuild run.
type Build struct {
	ID        string
	CreatedAt time.Time
	NumChunks int
}

// Store wraps a SQLite connection. All methods are safe for concurrent use;
// SQLite itself serializes writers.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database file at path and ensures the schema
// exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("metastore: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: one writer at a time, simplest is one conn
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("metastore: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// NewBuildID mints a build identifier and records it, returning the id.
func (s *Store) NewBuildID(numChunks int) (string, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(`INSERT INTO builds(id, created_at, num_chunks) VALUES (?, ?, ?)`,
		id, time.Now().Unix(), numChunks)
	if err != nil {
		return "", fmt.Errorf("metastore: record build: %w", err)
	}
	return id, nil
}

// InsertChunk records provenance for a single chunk id.
func (s *Store) InsertChunk(c Chunk) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO chunks(id, path, line_num, start_byte, end_byte, chunk_index, text, mtime, build_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Path, c.LineNum, c.StartByte, c.EndByte, c.ChunkIndex, c.Text, c.Mtime.Unix(), c.BuildID,
	)
	if err != nil {
		return fmt.Errorf("metastore: insert chunk %d: %w", c.ID, err)
	}
	return nil
}

// GetChunk fetches one chunk's provenance by id.
func (s *Store) GetChunk(id uint32) (Chunk, bool, error) {
	row := s.db.QueryRow(
		`SELECT id, path, line_num, start_byte, end_byte, chunk_index, text, mtime, build_id FROM chunks WHERE id = ?`, id)
	var c Chunk
	var mtime int64
	if err := row.Scan(&c.ID, &c.Path, &c.LineNum, &c.StartByte, &c.EndByte, &c.ChunkIndex, &c.Text, &mtime, &c.BuildID); err != nil {
		if err == sql.ErrNoRows {
			return Chunk{}, false, nil
		}
		return Chunk{}, false, fmt.Errorf("metastore: get chunk %d: %w", id, err)
	}
	c.Mtime = time.Unix(mtime, 0)
	return c, true, nil
}

// DeleteChunksForPath removes every chunk recorded for path, returning the
// ids removed so the caller can also evict them from the graph and vector
// store.
func (s *Store) DeleteChunksForPath(path string) ([]uint32, error) {
	rows, err := s.db.Query(`SELECT id FROM chunks WHERE path = ?`, path)
	if err != nil {
		return nil, fmt.Errorf("metastore: list chunks for %s: %w", path, err)
	}
	var ids []uint32
	for rows.Next() {
		var id uint32
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()

	if _, err := s.db.Exec(`DELETE FROM chunks WHERE path = ?`, path); err != nil {
		return nil, fmt.Errorf("metastore: delete chunks for %s: %w", path, err)
	}
	return ids, nil
}

// AllChunks returns every recorded chunk, ordered by id.
func (s *Store) AllChunks() ([]Chunk, error) {
	rows, err := s.db.Query(`SELECT id, path, line_num, start_byte, end_byte, chunk_index, text, mtime, build_id FROM chunks ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("metastore: list chunks: %w", err)
	}
	defer rows.Close()

	var out []Chunk
	for rows.Next() {
		var c Chunk
		var mtime int64
		if err := rows.Scan(&c.ID, &c.Path, &c.LineNum, &c.StartByte, &c.EndByte, &c.ChunkIndex, &c.Text, &mtime, &c.BuildID); err != nil {
			return nil, err
		}
		c.Mtime = time.Unix(mtime, 0)
		out = append(out, c)
	}
	return out, rows.Err()
}

// ClearAll wipes every chunk, mtime-cache entry, and build record. Used by
// RebuildFromDir. The query log is intentionally preserved across rebuilds.
func (s *Store) ClearAll() error {
	for _, stmt := range []string{
		`DELETE FROM chunks`,
		`DELETE FROM file_mtimes`,
		`DELETE FROM builds`,
	} {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("metastore: clear: %w", err)
		}
	}
	return nil
}

// FileMtime returns the cached mtime for path, if any.
func (s *Store) FileMtime(path string) (time.Time, bool, error) {
	row := s.db.QueryRow(`SELECT mtime FROM file_mtimes WHERE path = ?`, path)
	var mtime int64
	if err := row.Scan(&mtime); err != nil {
		if err == sql.ErrNoRows {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("metastore: file mtime %s: %w", path, err)
	}
	return time.Unix(mtime, 0), true, nil
}

// AllFileMtimes loads the whole skip-cache, for building the in-memory
// fileCache map at startup.
func (s *Store) AllFileMtimes() (map[string]time.Time, error) {
	rows, err := s.db.Query(`SELECT path, mtime FROM file_mtimes`)
	if err != nil {
		return nil, fmt.Errorf("metastore: list file mtimes: %w", err)
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var path string
		var mtime int64
		if err := rows.Scan(&path, &mtime); err != nil {
			return nil, err
		}
		out[path] = time.Unix(mtime, 0)
	}
	return out, rows.Err()
}

// SetFileMtime upserts the skip-cache entry for path.
func (s *Store) SetFileMtime(path string, mtime time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO file_mtimes(path, mtime) VALUES (?, ?)
		 ON CONFLICT(path) DO UPDATE SET mtime = excluded.mtime`,
		path, mtime.Unix(),
	)
	if err != nil {
		return fmt.Errorf("metastore: set file mtime %s: %w", path, err)
	}
	return nil
}

// LogQuery records one search invocation for drift stats to summarize.
func (s *Store) LogQuery(query string, k int) error {
	_, err := s.db.Exec(`INSERT INTO query_log(query, k, ts) VALUES (?, ?, ?)`, query, k, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("metastore: log query: %w", err)
	}
	return nil
}

// RecentQueries returns the last n logged queries, most recent first.
func (s *Store) RecentQueries(n int) ([]string, error) {
	rows, err := s.db.Query(`SELECT query FROM query_log ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("metastore: recent queries: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var q string
		if err := rows.Scan(&q); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// BuildsTouching returns chunks stamped with the given build id, for
// drift stats --build.
func (s *Store) BuildsTouching(buildID string) ([]Chunk, error) {
	rows, err := s.db.Query(
		`SELECT id, path, line_num, start_byte, end_byte, chunk_index, text, mtime, build_id FROM chunks WHERE build_id = ? ORDER BY id`,
		buildID)
	if err != nil {
		return nil, fmt.Errorf("metastore: builds touching %s: %w", buildID, err)
	}
	defer rows.Close()

	var out []Chunk
	for rows.Next() {
		var c Chunk
		var mtime int64
		if err := rows.Scan(&c.ID, &c.Path, &c.LineNum, &c.StartByte, &c.EndByte, &c.ChunkIndex, &c.Text, &mtime, &c.BuildID); err != nil {
			return nil, err
		}
		c.Mtime = time.Unix(mtime, 0)
		out = append(out, c)
	}
	return out, rows.Err()
}

// LatestBuild returns the most recently recorded build, if any.
func (s *Store) LatestBuild() (Build, bool, error) {
	row := s.db.QueryRow(`SELECT id, created_at, num_chunks FROM builds ORDER BY created_at DESC LIMIT 1`)
	var b Build
	var createdAt int64
	if err := row.Scan(&b.ID, &createdAt, &b.NumChunks); err != nil {
		if err == sql.ErrNoRows {
			return Build{}, false, nil
		}
		return Build{}, false, fmt.Errorf("metastore: latest build: %w", err)
	}
	b.CreatedAt = time.Unix(createdAt, 0)
	return b, true, nil
}

// Package store implements the local, client-side object database (C3):
// persisted key/value-style collections for docs, chunks, vectors, blobs,
// the lexical index snapshot, and free-form metadata. The backing engine is
// modernc.org/sqlite, a pure-Go driver requiring no cgo and no external
// service, matching the "fully client-side" contract of spec §1.
package store

import (
	"bytes"
	"database/sql"
	"encoding/gob"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

// CurrentSchemaVersion is the store's own schema version, independent of
// config.SchemaVersion. Migrations are additive-only (new collections) or
// accompanied by a clean reset of dependent collections, per spec §6.
const CurrentSchemaVersion = 1

// Doc is the persisted Document entity (spec §3).
type Doc struct {
	ID             string
	Name           string
	Kind           string // "pdf", "txt", "md"
	ByteSize       int64
	UploadedAt     time.Time
	Parsed         bool
	IndexedVector  bool
	IndexedLexical bool
	Error          string
}

// Chunk is the persisted Chunk entity.
type Chunk struct {
	ID          string
	DocID       string
	PageNumber  int
	Text        string
	StartOffset int
	EndOffset   int
	TokenCount  int
}

// LexicalSnapshot is the single keyed object holding the BM25 statistics
// over the whole corpus at rebuild time (spec §3).
type LexicalSnapshot struct {
	DF           map[string]int
	TF           map[string]map[string]int
	ChunkIDs     []string
	AvgDocLength float64
}

// Store is the object database. All writes are serialized: an in-process
// mutex guards against concurrent goroutines, and an OS-level flock taken
// around each write serializes writes across processes, per spec §5 "Writes are
// executed one at a time (store-level serialization)".
type Store struct {
	db       *sql.DB
	writeMu  sync.Mutex
	fileLock *flock.Flock
}

// Open creates or opens the sqlite database at path, running migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // sqlite + single-writer model: one connection is simplest and correct

	s := &Store{
		db:       db,
		fileLock: flock.New(path + ".lock"),
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS docs (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			kind TEXT NOT NULL,
			byte_size INTEGER NOT NULL,
			uploaded_at INTEGER NOT NULL,
			parsed INTEGER NOT NULL DEFAULT 0,
			indexed_vector INTEGER NOT NULL DEFAULT 0,
			indexed_lexical INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			doc_id TEXT NOT NULL,
			page_number INTEGER NOT NULL,
			text TEXT NOT NULL,
			start_offset INTEGER NOT NULL,
			end_offset INTEGER NOT NULL,
			token_count INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_doc_id ON chunks(doc_id)`,
		`CREATE TABLE IF NOT EXISTS vectors (
			chunk_id TEXT PRIMARY KEY,
			embedding BLOB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS file_blobs (
			doc_id TEXT PRIMARY KEY,
			data BLOB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS notes (
			id TEXT PRIMARY KEY,
			data BLOB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS lexical_index (
			singleton INTEGER PRIMARY KEY CHECK (singleton = 0),
			data BLOB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS metadata (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("store: migration failed on %q: %w", stmt, err)
		}
	}

	var stored string
	err := s.db.QueryRow(`SELECT value FROM metadata WHERE key = 'schema_version'`).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		_, err = s.db.Exec(`INSERT INTO metadata(key, value) VALUES ('schema_version', ?)`,
			fmt.Sprintf("%d", CurrentSchemaVersion))
		return err
	}
	return err
}

// withWriteLock serializes fn against both in-process and cross-process
// writers.
func (s *Store) withWriteLock(fn func() error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.fileLock.Lock(); err != nil {
		return fmt.Errorf("store: acquiring file lock: %w", err)
	}
	defer s.fileLock.Unlock()
	return fn()
}

// PutDoc inserts or replaces a doc row.
func (s *Store) PutDoc(d Doc) error {
	return s.withWriteLock(func() error {
		_, err := s.db.Exec(`INSERT OR REPLACE INTO docs
			(id, name, kind, byte_size, uploaded_at, parsed, indexed_vector, indexed_lexical, error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			d.ID, d.Name, d.Kind, d.ByteSize, d.UploadedAt.UnixNano(),
			boolToInt(d.Parsed), boolToInt(d.IndexedVector), boolToInt(d.IndexedLexical), d.Error)
		return err
	})
}

// GetDoc returns a doc by id.
func (s *Store) GetDoc(id string) (Doc, bool, error) {
	row := s.db.QueryRow(`SELECT id, name, kind, byte_size, uploaded_at, parsed, indexed_vector, indexed_lexical, error
		FROM docs WHERE id = ?`, id)
	var d Doc
	var uploadedAt int64
	var parsed, iv, il int
	err := row.Scan(&d.ID, &d.Name, &d.Kind, &d.ByteSize, &uploadedAt, &parsed, &iv, &il, &d.Error)
	if errors.Is(err, sql.ErrNoRows) {
		return Doc{}, false, nil
	}
	if err != nil {
		return Doc{}, false, err
	}
	d.UploadedAt = time.Unix(0, uploadedAt)
	d.Parsed, d.IndexedVector, d.IndexedLexical = parsed != 0, iv != 0, il != 0
	return d, true, nil
}

// ListDocs returns every persisted doc.
func (s *Store) ListDocs() ([]Doc, error) {
	rows, err := s.db.Query(`SELECT id, name, kind, byte_size, uploaded_at, parsed, indexed_vector, indexed_lexical, error FROM docs`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Doc
	for rows.Next() {
		var d Doc
		var uploadedAt int64
		var parsed, iv, il int
		if err := rows.Scan(&d.ID, &d.Name, &d.Kind, &d.ByteSize, &uploadedAt, &parsed, &iv, &il, &d.Error); err != nil {
			return nil, err
		}
		d.UploadedAt = time.Unix(0, uploadedAt)
		d.Parsed, d.IndexedVector, d.IndexedLexical = parsed != 0, iv != 0, il != 0
		out = append(out, d)
	}
	return out, rows.Err()
}

// DeleteDoc removes the doc, all of its chunks, their vectors, and its
// blob, per spec §3's "Destroyed by explicit delete" lifecycle rule.
func (s *Store) DeleteDoc(id string) error {
	return s.withWriteLock(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		rows, err := tx.Query(`SELECT id FROM chunks WHERE doc_id = ?`, id)
		if err != nil {
			return err
		}
		var chunkIDs []string
		for rows.Next() {
			var cid string
			if err := rows.Scan(&cid); err != nil {
				rows.Close()
				return err
			}
			chunkIDs = append(chunkIDs, cid)
		}
		rows.Close()

		for _, cid := range chunkIDs {
			if _, err := tx.Exec(`DELETE FROM vectors WHERE chunk_id = ?`, cid); err != nil {
				return err
			}
		}
		if _, err := tx.Exec(`DELETE FROM chunks WHERE doc_id = ?`, id); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM file_blobs WHERE doc_id = ?`, id); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM docs WHERE id = ?`, id); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// PutChunks persists a batch of chunks atomically.
func (s *Store) PutChunks(chunks []Chunk) error {
	return s.withWriteLock(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()
		stmt, err := tx.Prepare(`INSERT OR REPLACE INTO chunks
			(id, doc_id, page_number, text, start_offset, end_offset, token_count)
			VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, c := range chunks {
			if _, err := stmt.Exec(c.ID, c.DocID, c.PageNumber, c.Text, c.StartOffset, c.EndOffset, c.TokenCount); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// ListChunks returns every persisted chunk, ordered by id.
func (s *Store) ListChunks() ([]Chunk, error) {
	rows, err := s.db.Query(`SELECT id, doc_id, page_number, text, start_offset, end_offset, token_count FROM chunks ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChunks(rows)
}

// ChunksByDoc returns the chunks of one doc via the secondary doc_id index.
func (s *Store) ChunksByDoc(docID string) ([]Chunk, error) {
	rows, err := s.db.Query(`SELECT id, doc_id, page_number, text, start_offset, end_offset, token_count
		FROM chunks WHERE doc_id = ? ORDER BY id`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChunks(rows)
}

func scanChunks(rows *sql.Rows) ([]Chunk, error) {
	var out []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.DocID, &c.PageNumber, &c.Text, &c.StartOffset, &c.EndOffset, &c.TokenCount); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// PutVector persists a chunk's embedding.
func (s *Store) PutVector(chunkID string, embedding []float32) error {
	return s.withWriteLock(func() error {
		data, err := encodeFloats(embedding)
		if err != nil {
			return err
		}
		_, err = s.db.Exec(`INSERT OR REPLACE INTO vectors (chunk_id, embedding) VALUES (?, ?)`, chunkID, data)
		return err
	})
}

// GetVector returns the vector for a chunk id, if present.
func (s *Store) GetVector(chunkID string) ([]float32, bool, error) {
	var data []byte
	err := s.db.QueryRow(`SELECT embedding FROM vectors WHERE chunk_id = ?`, chunkID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	vec, err := decodeFloats(data)
	return vec, true, err
}

// ListVectors returns every persisted vector keyed by chunk id.
func (s *Store) ListVectors() (map[string][]float32, error) {
	rows, err := s.db.Query(`SELECT chunk_id, embedding FROM vectors`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]float32)
	for rows.Next() {
		var chunkID string
		var data []byte
		if err := rows.Scan(&chunkID, &data); err != nil {
			return nil, err
		}
		vec, err := decodeFloats(data)
		if err != nil {
			return nil, err
		}
		out[chunkID] = vec
	}
	return out, rows.Err()
}

// DeleteAllVectors clears the vector collection; used on embedder change
// per spec §3's "On embedder change the vector store MUST be invalidated".
func (s *Store) DeleteAllVectors() error {
	return s.withWriteLock(func() error {
		_, err := s.db.Exec(`DELETE FROM vectors`)
		return err
	})
}

// PutBlob persists raw original bytes for a doc (pdf kind).
func (s *Store) PutBlob(docID string, data []byte) error {
	return s.withWriteLock(func() error {
		_, err := s.db.Exec(`INSERT OR REPLACE INTO file_blobs (doc_id, data) VALUES (?, ?)`, docID, data)
		return err
	})
}

// GetBlob returns the raw bytes for a doc, if present.
func (s *Store) GetBlob(docID string) ([]byte, bool, error) {
	var data []byte
	err := s.db.QueryRow(`SELECT data FROM file_blobs WHERE doc_id = ?`, docID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	return data, err == nil, err
}

// PutLexicalSnapshot flattens and persists the BM25 snapshot as a single
// opaque blob (spec §9's "persisted maps with complex values" note), write-
// once per rebuild.
func (s *Store) PutLexicalSnapshot(snap LexicalSnapshot) error {
	return s.withWriteLock(func() error {
		var buf bytes.Buffer
		if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
			return fmt.Errorf("store: encoding lexical snapshot: %w", err)
		}
		_, err := s.db.Exec(`INSERT OR REPLACE INTO lexical_index (singleton, data) VALUES (0, ?)`, buf.Bytes())
		return err
	})
}

// GetLexicalSnapshot returns the current snapshot, if one has been built.
func (s *Store) GetLexicalSnapshot() (LexicalSnapshot, bool, error) {
	var data []byte
	err := s.db.QueryRow(`SELECT data FROM lexical_index WHERE singleton = 0`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return LexicalSnapshot{}, false, nil
	}
	if err != nil {
		return LexicalSnapshot{}, false, err
	}
	var snap LexicalSnapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return LexicalSnapshot{}, false, fmt.Errorf("store: decoding lexical snapshot: %w", err)
	}
	return snap, true, nil
}

// PutMetadata sets a free-form metadata key.
func (s *Store) PutMetadata(key, value string) error {
	return s.withWriteLock(func() error {
		_, err := s.db.Exec(`INSERT OR REPLACE INTO metadata (key, value) VALUES (?, ?)`, key, value)
		return err
	})
}

// GetMetadata returns a metadata value, if set.
func (s *Store) GetMetadata(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	return value, err == nil, err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func encodeFloats(v []float32) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("store: encoding vector: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeFloats(data []byte) ([]float32, error) {
	var v []float32
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&v); err != nil {
		return nil, fmt.Errorf("store: decoding vector: %w", err)
	}
	return v, nil
}

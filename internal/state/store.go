package state

import (
	"compress/gzip"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketRuns = []byte("runs")

// Store defines the interface for run history storage.
type Store interface {
	// Save stores rec, assigning an id when it has none
	Save(rec *RunRecord) error

	// Get returns the record with the given id or ErrNotFound
	Get(id string) (*RunRecord, error)

	// List returns up to limit records, newest first. limit <= 0 returns all.
	List(limit int) ([]*RunRecord, error)

	Close() error
}

// OpenStore opens the history store at path. Paths ending in .json or
// .json.gz use a FileStore; anything else is a BoltDB file.
func OpenStore(path string) (Store, error) {
	switch {
	case strings.HasSuffix(path, ".json.gz"):
		return NewFileStore(strings.TrimSuffix(path, ".gz"), true), nil
	case strings.HasSuffix(path, ".json"):
		return NewFileStore(path, false), nil
	default:
		return NewBoltStore(path)
	}
}

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db   *bolt.DB
	path string
}

// NewBoltStore creates a new BoltDB-backed history store.
func NewBoltStore(path string) (*BoltStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create bucket
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRuns)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	return &BoltStore{db: db, path: path}, nil
}

// itob encodes a sequence number as a sortable key.
func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// Save stores a run record.
func (s *BoltStore) Save(rec *RunRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		if b == nil {
			return fmt.Errorf("bucket not found")
		}

		var seq uint64
		if rec.ID == "" {
			next, err := b.NextSequence()
			if err != nil {
				return err
			}
			seq = next
			rec.ID = strconv.FormatUint(seq, 10)
		} else {
			parsed, err := strconv.ParseUint(rec.ID, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid run id %q", rec.ID)
			}
			seq = parsed
			if seq > b.Sequence() {
				if err := b.SetSequence(seq); err != nil {
					return err
				}
			}
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal run: %w", err)
		}
		return b.Put(itob(seq), data)
	})
}

// Get loads a run record by id.
func (s *BoltStore) Get(id string) (*RunRecord, error) {
	seq, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return nil, ErrNotFound
	}

	var rec RunRecord
	var found bool

	err = s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		if b == nil {
			return fmt.Errorf("bucket not found")
		}

		data := b.Get(itob(seq))
		if data == nil {
			return nil
		}

		found = true
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, ErrNotFound
	}

	return &rec, nil
}

// List returns stored runs, newest first.
func (s *BoltStore) List(limit int) ([]*RunRecord, error) {
	var records []*RunRecord

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		if b == nil {
			return fmt.Errorf("bucket not found")
		}

		c := b.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(records) >= limit {
				break
			}
			var rec RunRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("failed to unmarshal run %x: %w", k, err)
			}
			records = append(records, &rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return records, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// FileStore implements Store using a single JSON file holding every run.
type FileStore struct {
	mu         sync.Mutex
	path       string
	compressed bool
}

// NewFileStore creates a new file-based history store. When compressed is
// set the file is gzip'd and stored at path + ".gz".
func NewFileStore(path string, compressed bool) *FileStore {
	return &FileStore{
		path:       path,
		compressed: compressed,
	}
}

func (s *FileStore) filename() string {
	if s.compressed {
		return s.path + ".gz"
	}
	return s.path
}

// Save appends a run record to the file.
func (s *FileStore) Save(rec *RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return err
	}

	if rec.ID == "" {
		var highest uint64
		for _, r := range records {
			if n, err := strconv.ParseUint(r.ID, 10, 64); err == nil && n > highest {
				highest = n
			}
		}
		rec.ID = strconv.FormatUint(highest+1, 10)
	}

	replaced := false
	for i, r := range records {
		if r.ID == rec.ID {
			records[i] = rec
			replaced = true
		}
	}
	if !replaced {
		records = append(records, rec)
	}

	return s.write(records)
}

// Get loads a run record by id.
func (s *FileStore) Get(id string) (*RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, ErrNotFound
}

// List returns stored runs, newest first.
func (s *FileStore) List(limit int) ([]*RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return nil, err
	}
	return newestFirst(records, limit), nil
}

// load reads every record. A missing file is an empty history.
func (s *FileStore) load() ([]*RunRecord, error) {
	file, err := os.Open(s.filename())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	var r io.Reader = file
	if s.compressed {
		gr, err := gzip.NewReader(file)
		if err != nil {
			return nil, err
		}
		defer gr.Close()
		r = gr
	}

	var records []*RunRecord
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("failed to unmarshal history: %w", err)
	}
	return records, nil
}

// write replaces the file with records.
func (s *FileStore) write(records []*RunRecord) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}

	// Ensure directory exists
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if !s.compressed {
		return os.WriteFile(s.path, data, 0600)
	}

	file, err := os.OpenFile(s.filename(), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer file.Close()

	gw := gzip.NewWriter(file)
	if _, err := gw.Write(data); err != nil {
		gw.Close()
		return err
	}
	return gw.Close()
}

// Close is a no-op for FileStore.
func (s *FileStore) Close() error {
	return nil
}

// MemoryStore implements Store using in-memory storage.
type MemoryStore struct {
	mu      sync.Mutex
	records []*RunRecord
	seq     uint64
}

// NewMemoryStore creates a new in-memory history store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Save stores the record in memory.
func (s *MemoryStore) Save(rec *RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		s.seq++
		rec.ID = strconv.FormatUint(s.seq, 10)
	}
	for i, r := range s.records {
		if r.ID == rec.ID {
			s.records[i] = rec
			return nil
		}
	}
	s.records = append(s.records, rec)
	return nil
}

// Get returns the stored record.
func (s *MemoryStore) Get(id string) (*RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.records {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, ErrNotFound
}

// List returns stored runs, newest first.
func (s *MemoryStore) List(limit int) ([]*RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return newestFirst(s.records, limit), nil
}

// Close is a no-op for MemoryStore.
func (s *MemoryStore) Close() error {
	return nil
}

// newestFirst orders records by numeric id, descending, and applies limit.
func newestFirst(records []*RunRecord, limit int) []*RunRecord {
	out := make([]*RunRecord, len(records))
	copy(out, records)

	sort.SliceStable(out, func(i, j int) bool {
		a, _ := strconv.ParseUint(out[i].ID, 10, 64)
		b, _ := strconv.ParseUint(out[j].ID, 10, 64)
		return a > b
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

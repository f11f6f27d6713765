// Package store persists packets and schema sources across sessions.
// The pipeline treats it as an external collaborator: bulk save, bulk
// load sorted by sequence index, bulk clear, and an approximate quota
// query.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/packetlens/packetlens/internal/packet"
)

// PacketStore is the persistence contract the pipeline calls into.
type PacketStore interface {
	// SaveAll replaces the persisted collection.
	SaveAll(pkts []packet.Packet) error
	// Load returns all persisted packets sorted by sequence index.
	Load() ([]packet.Packet, error)
	// Clear removes all persisted packets (idempotent).
	Clear() error
	// Quota reports approximate used and allowed bytes.
	Quota() (used, limit int64, err error)
}

const (
	packetsFile = "packets.json"
	schemaFile  = "schema.proto.txt"
)

// FileStore persists the collection as one JSON file under a directory.
// Writes use temp-file + atomic rename to guarantee crash safety.
type FileStore struct {
	dir   string
	limit int64
}

// NewFileStore creates a FileStore rooted at dir, creating it (and
// parents) if needed. limit is the advisory quota in bytes; <=0 picks a
// default.
func NewFileStore(dir string, limit int64) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("store: create directory %q: %w", dir, err)
	}
	if limit <= 0 {
		limit = 256 << 20
	}
	return &FileStore{dir: dir, limit: limit}, nil
}

// SaveAll atomically writes the full collection.
func (s *FileStore) SaveAll(pkts []packet.Packet) error {
	data, err := json.Marshal(pkts)
	if err != nil {
		return fmt.Errorf("store: marshal packets: %w", err)
	}
	return s.writeAtomic(packetsFile, data)
}

// Load reads the persisted collection, sorted by sequence index. A
// missing file is an empty collection; a corrupt file is logged and
// treated as empty rather than blocking startup.
func (s *FileStore) Load() ([]packet.Packet, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, packetsFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: read packets: %w", err)
	}
	var pkts []packet.Packet
	if err := json.Unmarshal(data, &pkts); err != nil {
		slog.Error("persisted packets corrupt, starting empty", "error", err)
		return nil, nil
	}
	sort.Slice(pkts, func(i, j int) bool {
		return pkts[i].SequenceIndex < pkts[j].SequenceIndex
	})
	return pkts, nil
}

// Clear removes the persisted collection. Missing file is not an error.
func (s *FileStore) Clear() error {
	err := os.Remove(filepath.Join(s.dir, packetsFile))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("store: clear packets: %w", err)
	}
	return nil
}

// Quota reports the bytes currently used under the store directory and
// the advisory limit.
func (s *FileStore) Quota() (int64, int64, error) {
	var used int64
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, s.limit, fmt.Errorf("store: read dir: %w", err)
	}
	for _, e := range entries {
		if info, err := e.Info(); err == nil && !info.IsDir() {
			used += info.Size()
		}
	}
	return used, s.limit, nil
}

// SaveSchemaSource persists the last successfully built schema source
// text so the registry can be rebuilt at startup.
func (s *FileStore) SaveSchemaSource(text string) error {
	return s.writeAtomic(schemaFile, []byte(text))
}

// LoadSchemaSource returns the persisted schema source. Satisfies
// errors.Is(err, os.ErrNotExist) when none was ever saved.
func (s *FileStore) LoadSchemaSource() (string, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, schemaFile))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// writeAtomic writes data via a unique temp file + rename so concurrent
// saves never leave a torn file behind.
func (s *FileStore) writeAtomic(name string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, "."+name+".*.tmp")
	if err != nil {
		return fmt.Errorf("store: create temp file for %q: %w", name, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("store: write temp file for %q: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("store: close temp file for %q: %w", name, err)
	}
	if err := os.Rename(tmpName, filepath.Join(s.dir, name)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("store: rename temp file for %q: %w", name, err)
	}
	return nil
}

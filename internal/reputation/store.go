package reputation

import (
	"errors"
	"log/slog"
	"os"

	"github.com/agentchat/relay/internal/atomicfile"
)

// Store persists the rating book as a single JSON object written
// atomically (temp file + rename).
type Store struct {
	path string
}

// NewStore creates a store writing to path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads the rating book. A missing file is an empty book.
func (s *Store) Load() (map[string]*Record, error) {
	var flat map[string]Record
	if err := atomicfile.ReadJSON(s.path, &flat); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	records := make(map[string]*Record, len(flat))
	for id, rec := range flat {
		r := rec
		records[id] = &r
	}
	return records, nil
}

// Save replaces the rating book on disk. Persistence failures are logged,
// not surfaced: a full disk must not take down live settlements.
func (s *Store) Save(records map[string]Record) {
	if err := atomicfile.WriteJSON(s.path, records); err != nil {
		slog.Error("ratings store: save failed", "path", s.path, "error", err)
	}
}

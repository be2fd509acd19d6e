package conversations

import (
	"errors"
	"log/slog"
	"maps"
	"slices"

	"github.com/dohr-michael/fintellix/internal/storage/jsonfile"
	"github.com/dohr-michael/fintellix/internal/subjects"
)

// FileStore keeps every conversation in one JSON object keyed by subject:
//
//	{"AAPL": {"messages": [{"role": "user", "content": "..."}], "stock_data": ...}}
type FileStore struct {
	file *jsonfile.File
}

// NewFileStore creates a FileStore writing to path.
func NewFileStore(path string) *FileStore {
	return &FileStore{file: jsonfile.New(path, "conversations")}
}

// Path returns the backing file.
func (s *FileStore) Path() string { return s.file.Path() }

// Load reads the file. Missing or undecodable content yields an empty map.
func (s *FileStore) Load() map[subjects.Key]*Conversation {
	out := make(map[subjects.Key]*Conversation)

	var raw map[string]*Conversation
	found, err := s.file.Read(&raw)
	if err != nil {
		if errors.Is(err, jsonfile.ErrCorrupt) {
			slog.Warn("conversations: ignoring stored history",
				"path", s.file.Path(), "error", errors.Join(ErrStorageCorruption, err))
		} else {
			slog.Warn("conversations: load failed", "path", s.file.Path(), "error", err)
		}
		return out
	}
	if !found {
		return out
	}

	for _, name := range slices.Sorted(maps.Keys(raw)) {
		c := raw[name]
		key, err := subjects.Normalize(name)
		if err != nil || c == nil {
			slog.Warn("conversations: skipping entry", "subject", name, "error", err)
			continue
		}
		mergeLoaded(out, key, name, c)
	}
	return out
}

// Save atomically replaces the file with m.
func (s *FileStore) Save(m map[subjects.Key]*Conversation) error {
	raw := make(map[string]*Conversation, len(m))
	for k, c := range m {
		if c == nil {
			continue
		}
		wire := &Conversation{Messages: c.Messages, Data: c.Data}
		if wire.Messages == nil {
			wire.Messages = []Message{}
		}
		raw[string(k)] = wire
	}
	return s.file.Write(raw)
}

// Clear deletes the file.
func (s *FileStore) Clear() error {
	return s.file.Remove()
}

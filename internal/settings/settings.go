// Package settings persists the user's provider selection and feature toggles.
package settings

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/dohr-michael/fintellix/internal/storage/jsonfile"
)

// DefaultProvider is used when nothing has been chosen yet.
const DefaultProvider = "lm_studio"

// Settings is the persisted selection record.
type Settings struct {
	LLMProvider   string `json:"llm_provider"`
	SelectedModel string `json:"selected_model,omitempty"`
	BeginnerMode  bool   `json:"beginner_mode"`
	WebSearch     bool   `json:"web_search"`
}

// Defaults returns the settings used when the file is missing or unreadable.
func Defaults() Settings {
	return Settings{LLMProvider: DefaultProvider, WebSearch: true}
}

// Store holds the current settings and writes every change through to disk.
type Store struct {
	mu        sync.RWMutex
	file      *jsonfile.File
	current   Settings
	listeners []func(Settings)
}

// Open loads settings from path. A missing or corrupt file yields defaults.
func Open(path string) *Store {
	s := &Store{file: jsonfile.New(path, "settings"), current: Defaults()}

	// Start from defaults so fields absent from older files keep sane values.
	loaded := Defaults()
	found, err := s.file.Read(&loaded)
	switch {
	case err != nil && errors.Is(err, jsonfile.ErrCorrupt):
		slog.Warn("settings: file corrupted, using defaults", "path", path, "error", err)
	case err != nil:
		slog.Warn("settings: load failed, using defaults", "path", path, "error", err)
	case found:
		if loaded.LLMProvider == "" {
			loaded.LLMProvider = DefaultProvider
		}
		s.current = loaded
	}
	return s
}

// Current returns a copy of the active settings.
func (s *Store) Current() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Update applies fn to a copy of the settings and persists the result. On a
// write failure the in-memory settings are left unchanged.
func (s *Store) Update(fn func(*Settings)) (Settings, error) {
	s.mu.Lock()
	next := s.current
	fn(&next)
	if next.LLMProvider == "" {
		next.LLMProvider = DefaultProvider
	}
	if err := s.file.Write(next); err != nil {
		s.mu.Unlock()
		return s.Current(), err
	}
	s.current = next
	listeners := append([]func(Settings){}, s.listeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(next)
	}
	return next, nil
}

// OnChange registers a callback invoked after every successful Update.
func (s *Store) OnChange(fn func(Settings)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

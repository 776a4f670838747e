// Package guildcfg implements per-guild settings persisted as JSON files.
//
// Each file holds one JSON object keyed by guild ID. Settings are read through
// an in-memory cache which is dropped whenever the store is written or the
// file changes on disk, so the most recent write always wins.
package guildcfg

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
)

// ErrCorrupt is the error logged when a settings file cannot be decoded.
var ErrCorrupt = errors.New("corrupt settings file")

// Store is a set of per-guild settings of type T backed by a JSON file.
type Store[T any] struct {
	path string
	def  func() T

	mu sync.Mutex
	// cache is the decoded file. It is nil when invalidated.
	cache map[string]T
}

// Open returns a store over the JSON file at path. The file need not exist.
// def returns the settings for a guild not present in the file; it is also
// the base into which each stored guild's settings are decoded, so fields
// missing from the file keep their defaults.
func Open[T any](path string, def func() T) *Store[T] {
	return &Store[T]{path: filepath.Clean(path), def: def}
}

// Path returns the path of the store's file.
func (s *Store[T]) Path() string {
	return s.path
}

// Invalidate drops the cached settings. The next read reloads the file.
func (s *Store[T]) Invalidate() {
	s.mu.Lock()
	s.cache = nil
	s.mu.Unlock()
}

// Get returns the settings for a guild. If the file cannot be read, the
// result is the default settings along with the error. A file which is empty
// or cannot be decoded is treated as holding no settings at all.
func (s *Store[T]) Get(ctx context.Context, guild string) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(ctx); err != nil {
		return s.def(), err
	}
	v, ok := s.cache[guild]
	if !ok {
		return s.def(), nil
	}
	return v, nil
}

// All returns the settings for every guild recorded in the file.
func (s *Store[T]) All(ctx context.Context) (map[string]T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(ctx); err != nil {
		return nil, err
	}
	r := make(map[string]T, len(s.cache))
	for k, v := range s.cache {
		r[k] = v
	}
	return r, nil
}

// Update applies f to the settings for a guild and persists the result.
// It returns the updated settings.
func (s *Store[T]) Update(ctx context.Context, guild string, f func(*T)) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(ctx); err != nil {
		return s.def(), err
	}
	v, ok := s.cache[guild]
	if !ok {
		v = s.def()
	}
	f(&v)
	next := make(map[string]T, len(s.cache)+1)
	for k, u := range s.cache {
		next[k] = u
	}
	next[guild] = v
	if err := s.write(next); err != nil {
		return v, err
	}
	s.cache = next
	slog.DebugContext(ctx, "guild settings updated", slog.String("file", s.path), slog.String("guild", guild))
	return v, nil
}

func (s *Store[T]) loadLocked(ctx context.Context) error {
	if s.cache != nil {
		return nil
	}
	b, err := os.ReadFile(s.path)
	switch {
	case err == nil: // do nothing
	case errors.Is(err, fs.ErrNotExist):
		s.cache = make(map[string]T)
		return nil
	default:
		return fmt.Errorf("couldn't read guild settings: %w", err)
	}
	m, err := s.decode(b)
	if err != nil {
		slog.WarnContext(ctx, "using empty guild settings",
			slog.String("file", s.path),
			slog.Any("err", err),
		)
		m = make(map[string]T)
	}
	s.cache = m
	return nil
}

func (s *Store[T]) decode(b []byte) (map[string]T, error) {
	m := make(map[string]T)
	if len(b) == 0 {
		return m, nil
	}
	var raw map[string]jsontext.Value
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrCorrupt, s.path, err)
	}
	for guild, r := range raw {
		v := s.def()
		if err := json.Unmarshal(r, &v); err != nil {
			return nil, fmt.Errorf("%w %s: guild %s: %w", ErrCorrupt, s.path, guild, err)
		}
		m[guild] = v
	}
	return m, nil
}

// write atomically replaces the store's file.
func (s *Store[T]) write(m map[string]T) error {
	b, err := json.Marshal(m, json.Deterministic(true), jsontext.WithIndent("    "))
	if err != nil {
		return fmt.Errorf("couldn't encode guild settings: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("couldn't create settings directory: %w", err)
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("couldn't create temporary settings file: %w", err)
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(b); err != nil {
		f.Close()
		return fmt.Errorf("couldn't write guild settings: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("couldn't write guild settings: %w", err)
	}
	if err := os.Rename(f.Name(), s.path); err != nil {
		return fmt.Errorf("couldn't replace guild settings: %w", err)
	}
	return nil
}

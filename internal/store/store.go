// Package store implements the Typed Store: validated, JSON-backed
// collections with an in-memory cache and write-through persistence. Every
// component reaches persisted state through a Repository, whose mutating
// operations carry an audit reason.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

// ErrNotFound is returned when an entity with the given id does not exist.
var ErrNotFound = fmt.Errorf("entity not found")

// ErrInvalidMutation is returned when an update attempts to rewrite a
// field that must not change (e.g. CreatedAt, or a past history entry).
var ErrInvalidMutation = fmt.Errorf("invalid mutation")

// Identifiable is implemented by every entity the Typed Store persists.
type Identifiable interface {
	GetID() string
}

// Mutation describes an audited update: why the change is being made, what
// evidence backs it, and the patch to apply.
type Mutation[T any] struct {
	ChangeSummary string
	EvidenceIDs   []string
	Apply         func(current T) (T, error)
}

// Filter is a predicate over entities used by List.
type Filter[T any] func(T) bool

// Repository is a generic, mutex-guarded, JSON-file-backed collection.
// Validation failures on load are fatal: corrupt persistence must surface,
// not silently drop records.
type Repository[T Identifiable] struct {
	mu       sync.Mutex
	path     string
	validate func(T) error
	items    map[string]T
	loaded   bool
}

// NewRepository constructs a repository backed by path, validating every
// record with validate. The file is loaded lazily on first access.
func NewRepository[T Identifiable](path string, validate func(T) error) *Repository[T] {
	return &Repository[T]{path: path, validate: validate, items: map[string]T{}}
}

func (r *Repository[T]) ensureLoaded() {
	if r.loaded {
		return
	}
	r.loaded = true
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return
		}
		log.Fatal().Err(err).Str("path", r.path).Msg("typed store: fatal read error on load")
	}
	if len(data) == 0 {
		return
	}
	var list []T
	if err := json.Unmarshal(data, &list); err != nil {
		log.Fatal().Err(err).Str("path", r.path).Msg("typed store: corrupt persistence on load")
	}
	for _, item := range list {
		if r.validate != nil {
			if err := r.validate(item); err != nil {
				log.Fatal().Err(err).Str("path", r.path).Str("id", item.GetID()).Msg("typed store: invalid record on load")
			}
		}
		r.items[item.GetID()] = item
	}
}

// persistLocked rewrites the whole file. Caller must hold r.mu.
func (r *Repository[T]) persistLocked() error {
	list := make([]T, 0, len(r.items))
	for _, v := range r.items {
		list = append(list, v)
	}
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", r.path, err)
	}
	if dir := filepath.Dir(r.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}

// Get returns the entity with the given id.
func (r *Repository[T]) Get(id string) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensureLoaded()
	v, ok := r.items[id]
	if !ok {
		var zero T
		return zero, ErrNotFound
	}
	return v, nil
}

// Exists reports whether an entity with the given id is present.
func (r *Repository[T]) Exists(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensureLoaded()
	_, ok := r.items[id]
	return ok
}

// Count returns the number of entities matching filter (nil matches all).
func (r *Repository[T]) Count(filter Filter[T]) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensureLoaded()
	if filter == nil {
		return len(r.items)
	}
	n := 0
	for _, v := range r.items {
		if filter(v) {
			n++
		}
	}
	return n
}

// List returns every entity matching filter (nil matches all).
func (r *Repository[T]) List(filter Filter[T]) []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensureLoaded()
	out := make([]T, 0, len(r.items))
	for _, v := range r.items {
		if filter == nil || filter(v) {
			out = append(out, v)
		}
	}
	return out
}

// Create validates and persists a new entity.
func (r *Repository[T]) Create(item T) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensureLoaded()
	if r.validate != nil {
		if err := r.validate(item); err != nil {
			var zero T
			return zero, err
		}
	}
	r.items[item.GetID()] = item
	if err := r.persistLocked(); err != nil {
		var zero T
		return zero, err
	}
	return item, nil
}

// Update applies an audited mutation to an existing entity.
func (r *Repository[T]) Update(id string, m Mutation[T]) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensureLoaded()
	current, ok := r.items[id]
	if !ok {
		var zero T
		return zero, ErrNotFound
	}
	next, err := m.Apply(current)
	if err != nil {
		var zero T
		return zero, err
	}
	if r.validate != nil {
		if err := r.validate(next); err != nil {
			var zero T
			return zero, err
		}
	}
	r.items[id] = next
	if err := r.persistLocked(); err != nil {
		var zero T
		return zero, err
	}
	return next, nil
}

// Delete removes an entity outright (hard delete).
func (r *Repository[T]) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensureLoaded()
	if _, ok := r.items[id]; !ok {
		return ErrNotFound
	}
	delete(r.items, id)
	return r.persistLocked()
}

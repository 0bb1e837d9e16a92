// Package registry keeps the catalog of selectable models and the operator's current choice.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"CropDetServer/logger"
)

var ErrNotFound = errors.New("model not found")

// Descriptor is a catalog entry that can be selected by id.
type Descriptor interface {
	DescriptorID() string
	IsEnabled() bool
}

type Entry[T Descriptor] struct {
	Descriptor T
	Active     bool
}

type state struct {
	ActiveModelID string `json:"active_model_id"`
}

// Registry holds a fixed catalog and the persisted id of the active entry.
// The active id always references a catalog entry.
type Registry[T Descriptor] struct {
	mu       sync.Mutex
	catalog  []T
	index    map[string]int
	activeID string
	def      string
	path     string
	name     string
}

// New builds a registry over catalog and restores the active id from path.
// A missing or unreadable record, or one naming an unknown or disabled id, selects the
// first enabled entry. A catalog without any enabled entry is rejected.
func New[T Descriptor](name string, catalog []T, path string) (*Registry[T], error) {
	if len(catalog) == 0 {
		return nil, fmt.Errorf("%s registry: empty catalog", name)
	}
	r := &Registry[T]{
		catalog: append([]T(nil), catalog...),
		index:   make(map[string]int, len(catalog)),
		path:    path,
		name:    name,
	}
	for i, d := range r.catalog {
		id := d.DescriptorID()
		if id == "" {
			return nil, fmt.Errorf("%s registry: entry %d has no id", name, i)
		}
		if _, dup := r.index[id]; dup {
			return nil, fmt.Errorf("%s registry: duplicate id %q", name, id)
		}
		r.index[id] = i
		if r.def == "" && d.IsEnabled() {
			r.def = id
		}
	}
	if r.def == "" {
		return nil, fmt.Errorf("%s registry: no enabled entry", name)
	}
	r.activeID = r.load()
	return r, nil
}

func (r *Registry[T]) load() string {
	def := r.def
	if r.path == "" {
		return def
	}
	data, err := os.ReadFile(r.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Log().Warn("failed to read registry state", zap.String("registry", r.name), zap.Error(err))
		}
		logger.Log().Info("using default model", zap.String("registry", r.name), zap.String("id", def))
		return def
	}
	var st state
	if err := json.Unmarshal(data, &st); err != nil {
		logger.Log().Warn("failed to parse registry state", zap.String("registry", r.name), zap.Error(err))
		return def
	}
	if i, ok := r.index[st.ActiveModelID]; ok && r.catalog[i].IsEnabled() {
		logger.Log().Info("loaded active model from state", zap.String("registry", r.name), zap.String("id", st.ActiveModelID))
		return st.ActiveModelID
	}
	logger.Log().Warn("persisted model is not in the catalog, using default",
		zap.String("registry", r.name), zap.String("persisted", st.ActiveModelID), zap.String("id", def))
	return def
}

// save writes the state next to the target and renames it into place. Callers hold mu.
func (r *Registry[T]) save() error {
	if r.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(state{ActiveModelID: r.activeID}, "", "    ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(r.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp, err := os.CreateTemp(filepath.Dir(r.path), filepath.Base(r.path)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), r.path)
}

// List returns the catalog in declaration order, flagging the active entry.
func (r *Registry[T]) List() []Entry[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry[T], len(r.catalog))
	for i, d := range r.catalog {
		out[i] = Entry[T]{Descriptor: d, Active: d.DescriptorID() == r.activeID}
	}
	return out
}

func (r *Registry[T]) ActiveID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeID
}

func (r *Registry[T]) GetActive() (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.index[r.activeID]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%s registry: active id %q: %w", r.name, r.activeID, ErrNotFound)
	}
	return r.catalog[i], nil
}

func (r *Registry[T]) Get(id string) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.index[id]
	if !ok {
		var zero T
		return zero, false
	}
	return r.catalog[i], true
}

// SetActive selects id and persists the choice. It reports false, leaving the
// selection unchanged, when id is unknown or disabled. Loading the model is up
// to whoever observes the change.
func (r *Registry[T]) SetActive(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.index[id]
	if !ok || !r.catalog[i].IsEnabled() {
		logger.Log().Error("model id not found", zap.String("registry", r.name), zap.String("id", id))
		return false
	}
	r.activeID = id
	if err := r.save(); err != nil {
		logger.Log().Error("failed to save registry state", zap.String("registry", r.name), zap.Error(err))
	} else {
		logger.Log().Info("saved active model", zap.String("registry", r.name), zap.String("id", id))
	}
	return true
}

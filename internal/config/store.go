package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/doc-converter/internal/core/domain"
)

// Store is the process-wide Configuration Store. Readers take lock-free
// snapshots; writers are serialized and publish a fresh copy.
type Store struct {
	path    string
	current atomic.Pointer[Tunables]

	writeMu sync.Mutex

	subsMu      sync.Mutex
	subscribers []func(*Tunables)
}

// NewStore starts from DefaultTunables and overlays the YAML file at path when
// it exists. An empty path keeps the store in memory only.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path}
	defaults := DefaultTunables()
	s.current.Store(&defaults)

	if path == "" {
		return s, nil
	}
	if err := s.Reload(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return s, nil
}

// NewStoreFrom builds an in-memory store around t after validating it.
func NewStoreFrom(t Tunables) (*Store, error) {
	if errs := t.Validate(); len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	s := &Store{}
	copied := t.Clone()
	s.current.Store(&copied)
	return s, nil
}

func (s *Store) Path() string { return s.path }

// Snapshot returns the current tunables. The result is shared and must be
// treated as read-only.
func (s *Store) Snapshot() *Tunables {
	return s.current.Load()
}

// Get returns the value at a dotted key such as "scheduler.pool_size".
// Lists are returned whole.
func (s *Store) Get(key string) (any, bool) {
	flat, err := flatten(s.Snapshot())
	if err != nil {
		return nil, false
	}
	v, ok := flat[key]
	return v, ok
}

// Keys lists every dotted key currently addressable through Get and Set.
func (s *Store) Keys() []string {
	flat, err := flatten(s.Snapshot())
	if err != nil {
		return nil
	}
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Set replaces the value at a dotted key. The candidate snapshot is validated
// before it is published; on error the store is unchanged.
func (s *Store) Set(key string, value any) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.WrapError(domain.ErrInvalidConfig, "config set", errors.New("empty key"))
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	flat, err := flatten(s.current.Load())
	if err != nil {
		return fmt.Errorf("config set %s: %w", key, err)
	}
	if _, ok := flat[key]; !ok && !isStrategyKey(key) {
		return domain.WrapError(domain.ErrInvalidConfig, "config set", fmt.Errorf("unknown key %q", key))
	}
	flat[key] = value

	next, err := unflatten(flat)
	if err != nil {
		return domain.WrapError(domain.ErrInvalidConfig, "config set "+key, err)
	}
	return s.publishLocked(next)
}

// Replace validates t and publishes it as the new snapshot.
func (s *Store) Replace(t Tunables) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.publishLocked(t.Clone())
}

// Validate reports every problem with the current snapshot.
func (s *Store) Validate() []error {
	return s.Snapshot().Validate()
}

// Reload re-reads the YAML file on top of the defaults. An invalid file leaves
// the current snapshot in place.
func (s *Store) Reload() error {
	if s.path == "" {
		return nil
	}
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read tunables %s: %w", s.path, err)
	}

	next := DefaultTunables()
	if err := yaml.Unmarshal(raw, &next); err != nil {
		return domain.WrapError(domain.ErrInvalidConfig, "parse tunables", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.publishLocked(next)
}

// Save writes the current snapshot to the store's file.
func (s *Store) Save() error {
	if s.path == "" {
		return errors.New("config store has no file path")
	}
	raw, err := yaml.Marshal(s.Snapshot())
	if err != nil {
		return fmt.Errorf("marshal tunables: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create tunables dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write tunables: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// OnChange registers fn to be called with every newly published snapshot.
func (s *Store) OnChange(fn func(*Tunables)) {
	if fn == nil {
		return
	}
	s.subsMu.Lock()
	s.subscribers = append(s.subscribers, fn)
	s.subsMu.Unlock()
}

func (s *Store) publishLocked(next Tunables) error {
	if errs := next.Validate(); len(errs) > 0 {
		return errors.Join(errs...)
	}
	snapshot := &next
	s.current.Store(snapshot)

	s.subsMu.Lock()
	subs := append(([]func(*Tunables))(nil), s.subscribers...)
	s.subsMu.Unlock()
	for _, fn := range subs {
		fn(snapshot)
	}
	slog.Debug("config_published", "path", s.path)
	return nil
}

func flatten(t *Tunables) (map[string]any, error) {
	raw, err := yaml.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("marshal tunables: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("unmarshal tunables tree: %w", err)
	}
	out := make(map[string]any)
	flattenInto(out, tree, "")
	return out, nil
}

func flattenInto(out map[string]any, m map[string]any, prefix string) {
	for key, value := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		nested, isMap := value.(map[string]any)
		switch {
		case isMap && fullKey == "strategies":
			// strategy overrides stay whole per content type
			for ct, specs := range nested {
				out[fullKey+"."+ct] = specs
			}
		case isMap:
			flattenInto(out, nested, fullKey)
		default:
			out[fullKey] = value
		}
	}
}

func unflatten(flat map[string]any) (Tunables, error) {
	tree := make(map[string]any)
	for key, value := range flat {
		parts := strings.Split(key, ".")
		node := tree
		for _, part := range parts[:len(parts)-1] {
			child, ok := node[part].(map[string]any)
			if !ok {
				child = make(map[string]any)
				node[part] = child
			}
			node = child
		}
		node[parts[len(parts)-1]] = value
	}

	raw, err := yaml.Marshal(tree)
	if err != nil {
		return Tunables{}, fmt.Errorf("marshal flattened tunables: %w", err)
	}
	var next Tunables
	if err := yaml.Unmarshal(raw, &next); err != nil {
		return Tunables{}, err
	}
	return next, nil
}

// isStrategyKey allows setting strategy overrides for content types that have
// none yet.
func isStrategyKey(key string) bool {
	ct, ok := strings.CutPrefix(key, "strategies.")
	if !ok {
		return false
	}
	return domain.ContentType(ct).Valid()
}

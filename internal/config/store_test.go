package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kirillkom/doc-converter/internal/core/domain"
)

func TestDefaultTunablesAreValid(t *testing.T) {
	tunables := DefaultTunables()
	if errs := tunables.Validate(); len(errs) != 0 {
		t.Fatalf("expected defaults to validate, got %v", errs)
	}
}

func TestValidateReportsUnknownModelReference(t *testing.T) {
	tunables := DefaultTunables()
	tunables.DefaultVisionModel = "missing-model"
	tunables.Strategies = map[domain.ContentType][]StrategySpec{
		domain.ContentTables: {{Method: domain.MethodHybrid, Model: "also-missing"}},
	}

	errs := tunables.Validate()
	if len(errs) != 2 {
		t.Fatalf("expected 2 errors, got %d: %v", len(errs), errs)
	}
	for _, err := range errs {
		if !domain.IsKind(err, domain.ErrInvalidConfig) {
			t.Fatalf("expected ErrInvalidConfig kind, got %v", err)
		}
	}
}

func TestValidateReportsRangeErrors(t *testing.T) {
	tunables := DefaultTunables()
	tunables.Quality.AcceptThreshold = 1.5
	tunables.Scheduler.PoolSize = 0

	errs := tunables.Validate()
	if len(errs) < 2 {
		t.Fatalf("expected at least 2 errors, got %v", errs)
	}
}

func TestStoreGetAndSet(t *testing.T) {
	store, err := NewStore("")
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	v, ok := store.Get("scheduler.pool_size")
	if !ok {
		t.Fatalf("expected scheduler.pool_size to exist")
	}
	if v != 4 {
		t.Fatalf("expected default pool size 4, got %v (%T)", v, v)
	}

	before := store.Snapshot()
	if err := store.Set("scheduler.pool_size", 8); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if got := store.Snapshot().Scheduler.PoolSize; got != 8 {
		t.Fatalf("expected pool size 8, got %d", got)
	}
	if before.Scheduler.PoolSize != 4 {
		t.Fatalf("published snapshot was mutated: %d", before.Scheduler.PoolSize)
	}

	if err := store.Set("scheduler.backoff_initial", "2s"); err != nil {
		t.Fatalf("Set(duration) error = %v", err)
	}
	if got := store.Snapshot().Scheduler.BackoffInitial; got != 2*time.Second {
		t.Fatalf("expected backoff 2s, got %s", got)
	}
}

func TestStoreSetRejectsInvalidValueAndKeepsSnapshot(t *testing.T) {
	store, err := NewStore("")
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	if err := store.Set("quality.accept_threshold", 2.0); err == nil {
		t.Fatalf("expected validation error")
	}
	if got := store.Snapshot().Quality.AcceptThreshold; got != 0.7 {
		t.Fatalf("expected accept threshold unchanged, got %v", got)
	}

	if err := store.Set("no.such.key", 1); !domain.IsKind(err, domain.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for unknown key, got %v", err)
	}
}

func TestStoreSetStrategyOverride(t *testing.T) {
	store, err := NewStore("")
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	err = store.Set("strategies.TEXT_ONLY", []map[string]any{
		{"method": "DIRECT"},
		{"method": "OCR", "model": "tesseract"},
	})
	if err != nil {
		t.Fatalf("Set(strategies) error = %v", err)
	}
	specs := store.Snapshot().Strategies[domain.ContentTextOnly]
	if len(specs) != 2 || specs[1].Method != domain.MethodOCR {
		t.Fatalf("unexpected strategy override: %+v", specs)
	}
}

func TestStoreOnChangeNotifiesSubscribers(t *testing.T) {
	store, err := NewStore("")
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	var got int
	store.OnChange(func(next *Tunables) { got = next.Scheduler.MaxItemAttempts })
	if err := store.Set("scheduler.max_item_attempts", 5); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if got != 5 {
		t.Fatalf("expected subscriber to see 5, got %d", got)
	}
}

func TestStoreLoadsYAMLOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tunables.yaml")
	raw := []byte(`
scheduler:
  pool_size: 2
  backoff_initial: 50ms
quality:
  accept_threshold: 0.8
`)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("write tunables: %v", err)
	}

	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	snap := store.Snapshot()
	if snap.Scheduler.PoolSize != 2 {
		t.Fatalf("expected pool size 2, got %d", snap.Scheduler.PoolSize)
	}
	if snap.Scheduler.BackoffInitial != 50*time.Millisecond {
		t.Fatalf("expected backoff 50ms, got %s", snap.Scheduler.BackoffInitial)
	}
	if snap.Quality.AcceptThreshold != 0.8 {
		t.Fatalf("expected accept threshold 0.8, got %v", snap.Quality.AcceptThreshold)
	}
	if snap.DefaultVisionModel != "llama3.2-vision:11b" {
		t.Fatalf("expected default vision model preserved, got %q", snap.DefaultVisionModel)
	}
}

func TestStoreMissingFileKeepsDefaults(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	if store.Snapshot().Scheduler.PoolSize != 4 {
		t.Fatalf("expected defaults when file is missing")
	}
}

func TestStoreReloadRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tunables.yaml")
	if err := os.WriteFile(path, []byte("scheduler:\n  pool_size: 3\n"), 0o644); err != nil {
		t.Fatalf("write tunables: %v", err)
	}
	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	if err := os.WriteFile(path, []byte("scheduler:\n  pool_size: -1\n"), 0o644); err != nil {
		t.Fatalf("rewrite tunables: %v", err)
	}
	if err := store.Reload(); err == nil {
		t.Fatalf("expected reload error")
	}
	if store.Snapshot().Scheduler.PoolSize != 3 {
		t.Fatalf("expected previous snapshot kept, got %d", store.Snapshot().Scheduler.PoolSize)
	}
}

func TestStoreSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "tunables.yaml")
	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	if err := store.Set("ocr_language", "deu"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := store.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	reopened, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore(reopen) error = %v", err)
	}
	if reopened.Snapshot().OCRLanguage != "deu" {
		t.Fatalf("expected saved language, got %q", reopened.Snapshot().OCRLanguage)
	}
}

func TestStoreWatchReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tunables.yaml")
	if err := os.WriteFile(path, []byte("scheduler:\n  pool_size: 3\n"), 0o644); err != nil {
		t.Fatalf("write tunables: %v", err)
	}
	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	changed := make(chan int, 4)
	store.OnChange(func(next *Tunables) {
		select {
		case changed <- next.Scheduler.PoolSize:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- store.Watch(ctx) }()

	// give the watcher time to register before writing
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("scheduler:\n  pool_size: 6\n"), 0o644); err != nil {
		t.Fatalf("rewrite tunables: %v", err)
	}

	select {
	case size := <-changed:
		if size != 6 {
			t.Fatalf("expected reloaded pool size 6, got %d", size)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for reload")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
}

package usecase

import (
	"testing"
	"time"

	"github.com/kirillkom/doc-converter/internal/config"
)

func newTestStore(t *testing.T, mutate func(*config.Tunables)) *config.Store {
	t.Helper()
	tunables := config.DefaultTunables()
	if mutate != nil {
		mutate(&tunables)
	}
	store, err := config.NewStoreFrom(tunables)
	if err != nil {
		t.Fatalf("NewStoreFrom() error = %v", err)
	}
	return store
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

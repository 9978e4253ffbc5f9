package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type reloads struct {
	mu      sync.Mutex
	configs []*Config
	err     error
}

func (r *reloads) record(_ context.Context, cfg *Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs = append(r.configs, cfg)
	return r.err
}

func (r *reloads) snapshot() []*Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Config(nil), r.configs...)
}

// writeAtomic replaces path by rename so the watcher never sees a truncated file.
func writeAtomic(t *testing.T, path, content string) {
	t.Helper()
	tmp := path + ".tmp"
	require.NoError(t, os.WriteFile(tmp, []byte(content), 0644))
	require.NoError(t, os.Rename(tmp, path))
}

func TestNewWatcher_Validation(t *testing.T) {
	_, err := NewWatcher("", func(context.Context, *Config) error { return nil })
	assert.Error(t, err)

	_, err = NewWatcher("semgate.yaml", nil)
	assert.Error(t, err)
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	defer goleak.VerifyNone(t)

	path := filepath.Join(t.TempDir(), "semgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte("autonomy:\n  tick_interval_ms: 5000\n"), 0644))

	r := &reloads{}
	w, err := NewWatcher(path, r.record, WithDebounce(20*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	require.Error(t, w.Start(ctx), "second start is rejected")

	// The last write of a burst wins.
	for _, interval := range []string{"1000", "2000", "250"} {
		writeAtomic(t, path, "autonomy:\n  tick_interval_ms: "+interval+"\n")
	}

	require.Eventually(t, func() bool {
		got := r.snapshot()
		return len(got) > 0 && got[len(got)-1].Autonomy["tick_interval_ms"] == 250
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop(), "stop is idempotent")
}

func TestWatcher_SkipsInvalidFiles(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "semgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte("nats:\n  url: nats://a:4222\n"), 0644))

	r := &reloads{err: errors.New("rejected")}
	w, err := NewWatcher(path, r.record, WithDebounce(20*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer func() { require.NoError(t, w.Stop()) }()

	// Unrelated files in the same directory are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1\n"), 0644))
	// An invalid config never reaches the callback.
	writeAtomic(t, path, "nats:\n  url: \"\"\n")
	time.Sleep(150 * time.Millisecond)
	assert.Empty(t, r.snapshot())

	// A callback error is logged and the watcher keeps going.
	writeAtomic(t, path, "nats:\n  url: nats://b:4222\n")
	require.Eventually(t, func() bool { return len(r.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)

	writeAtomic(t, path, "nats:\n  url: nats://c:4222\n")
	require.Eventually(t, func() bool { return len(r.snapshot()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "nats://c:4222", r.snapshot()[1].NATS.URL)
}

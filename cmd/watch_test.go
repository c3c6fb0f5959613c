// File: cmd/watch_test.go
package cmd

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// startWatch runs watchContract in the background and returns a stop function
// that cancels it and waits for it to return.
func startWatch(t *testing.T, path string, debounce time.Duration, run func(context.Context) error) func() error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- watchContract(ctx, path, debounce, run, zap.NewNop())
	}()
	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)

	return func() error {
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(5 * time.Second):
			t.Fatal("watchContract did not return after cancellation")
			return nil
		}
	}
}

func TestWatchContract_DebouncesBursts(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "api.yaml", peopleContract)

	var runs atomic.Int32
	stop := startWatch(t, path, 150*time.Millisecond, func(context.Context) error {
		runs.Add(1)
		return nil
	})

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte(peopleContract+"\n# edit\n"), 0o644))
		time.Sleep(10 * time.Millisecond)
	}

	assert.Eventually(t, func() bool { return runs.Load() == 1 }, 3*time.Second, 20*time.Millisecond)
	assert.Never(t, func() bool { return runs.Load() > 1 }, 400*time.Millisecond, 50*time.Millisecond)

	// A later, separate change triggers another run.
	require.NoError(t, os.WriteFile(path, []byte(peopleContract), 0o644))
	assert.Eventually(t, func() bool { return runs.Load() == 2 }, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, stop())
}

func TestWatchContract_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "api.yaml", peopleContract)

	var runs atomic.Int32
	stop := startWatch(t, path, 50*time.Millisecond, func(context.Context) error {
		runs.Add(1)
		return nil
	})

	writeFile(t, dir, "notes.txt", "unrelated")
	writeFile(t, dir, "api.yaml.swp", "editor swap file")
	assert.Never(t, func() bool { return runs.Load() > 0 }, 300*time.Millisecond, 25*time.Millisecond)

	require.NoError(t, stop())
}

func TestWatchContract_KeepsWatchingAfterFailedRun(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "api.yaml", peopleContract)

	var runs atomic.Int32
	stop := startWatch(t, path, 50*time.Millisecond, func(context.Context) error {
		if runs.Add(1) == 1 {
			return errors.New("contract is half written")
		}
		return nil
	})

	require.NoError(t, os.WriteFile(path, []byte("openapi: ["), 0o644))
	assert.Eventually(t, func() bool { return runs.Load() == 1 }, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte(peopleContract), 0o644))
	assert.Eventually(t, func() bool { return runs.Load() == 2 }, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, stop())
}

func TestWatchContract_MissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gone", "api.yaml")
	err := watchContract(context.Background(), path, 0, func(context.Context) error { return nil }, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to watch")
}

func TestWatchCommand_ServesCacheOnUnchangedFindings(t *testing.T) {
	dir := isolateEnv(t)
	path := writeFile(t, dir, "people.yaml", peopleContract)
	out := filepath.Join(dir, "watch.json")
	reasoner := &chainReasoner{}
	factory := &stubFactory{reasoner: reasoner}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rootCmd := newRootCmd(factory)
	rootCmd.SetArgs([]string{"watch", path, "-f", "json", "-o", out, "--debounce", "50ms"})
	done := make(chan error, 1)
	go func() { done <- rootCmd.ExecuteContext(ctx) }()

	// The initial analysis runs before watching starts.
	require.Eventually(t, func() bool { return reasoner.calls.Load() == 1 }, 5*time.Second, 20*time.Millisecond)
	time.Sleep(150 * time.Millisecond)

	// A comment changes the file but not the findings.
	require.NoError(t, os.WriteFile(path, []byte(peopleContract+"\n# reviewed\n"), 0o644))
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(out)
		return err == nil && strings.Contains(string(data), `"cache_hit": true`)
	}, 5*time.Second, 50*time.Millisecond)
	assert.Equal(t, int32(1), reasoner.calls.Load(), "unchanged findings must not reach the reasoner again")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch command did not stop")
	}
}

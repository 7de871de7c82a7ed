package statestore_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/crypto_gc_bot/internal/domain"
	"github.com/vitos/crypto_gc_bot/internal/infrastructure/statestore"
)

func newStore(t *testing.T) (*statestore.FileStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.json")
	store, err := statestore.NewFileStore(path, 300*time.Millisecond, nil)
	require.NoError(t, err)
	return store, path
}

func longState() *domain.PositionState {
	s := domain.NewPositionState()
	s.Status = domain.StatusLong
	s.EntryPrice = 101.5
	s.Quantity = 49.26
	s.TakeProfitPrice = 103.53
	s.StopLossPrice = 98.455
	s.EntryFee = 5.0
	s.RealizedPnL = 12.5
	s.LastSignalBarTS = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.EntryTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return s
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	store, _ := newStore(t)

	want := longState()
	require.NoError(t, store.Save(want))

	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, statestore.SourcePrimary, store.LastLoadSource())
	assert.Equal(t, want.Status, got.Status)
	assert.Equal(t, want.EntryPrice, got.EntryPrice)
	assert.Equal(t, want.Quantity, got.Quantity)
	assert.Equal(t, want.EntryFee, got.EntryFee)
	assert.Equal(t, want.RealizedPnL, got.RealizedPnL)
	assert.True(t, got.LastSignalBarTS.Equal(want.LastSignalBarTS))
	assert.Equal(t, domain.StateSchemaVersion, got.Version)
}

func TestLoad_MissingFileDefaultsToFlat(t *testing.T) {
	store, _ := newStore(t)

	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, statestore.SourceDefault, store.LastLoadSource())
	assert.Equal(t, domain.StatusFlat, got.Status)
	assert.Zero(t, got.RealizedPnL)
}

func TestLoad_CorruptPrimaryFallsBackToBackup(t *testing.T) {
	store, path := newStore(t)

	// Two saves so the backup holds the first state.
	first := longState()
	require.NoError(t, store.Save(first))
	second := longState()
	second.RealizedPnL = 99
	require.NoError(t, store.Save(second))

	// Simulated torn write on the canonical file.
	require.NoError(t, os.WriteFile(path, []byte(`{"status": "LO`), 0o644))

	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, statestore.SourceBackup, store.LastLoadSource())
	assert.Equal(t, first.RealizedPnL, got.RealizedPnL)
}

func TestLoad_CorruptPrimaryAndBackupDefaultsToFlat(t *testing.T) {
	store, path := newStore(t)

	require.NoError(t, store.Save(longState()))
	require.NoError(t, store.Save(longState()))
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))
	require.NoError(t, os.WriteFile(path+".bak", []byte("garbage"), 0o644))

	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, statestore.SourceDefault, store.LastLoadSource())
	assert.Equal(t, domain.StatusFlat, got.Status)
}

func TestLoad_UnknownStatusIsCorrupt(t *testing.T) {
	store, path := newStore(t)
	require.NoError(t, os.WriteFile(path, []byte(`{"version":1,"status":"SHORT"}`), 0o644))

	// Bad status in the only copy falls through to the default.
	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, statestore.SourceDefault, store.LastLoadSource())
	assert.Equal(t, domain.StatusFlat, got.Status)
}

func TestSave_LeavesNoTempFile(t *testing.T) {
	store, path := newStore(t)
	require.NoError(t, store.Save(longState()))

	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file must be renamed away")
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestSave_KeepsPreviousStateAsBackup(t *testing.T) {
	store, path := newStore(t)

	first := longState()
	require.NoError(t, store.Save(first))
	second := longState()
	second.Status = domain.StatusFlat
	second.EntryPrice = 0
	require.NoError(t, store.Save(second))

	backup, err := os.ReadFile(path + ".bak")
	require.NoError(t, err)
	assert.Contains(t, string(backup), `"LONG"`)
}

func TestAcquireLock_Exclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	a, err := statestore.NewFileStore(path, 200*time.Millisecond, nil)
	require.NoError(t, err)
	b, err := statestore.NewFileStore(path, 200*time.Millisecond, nil)
	require.NoError(t, err)

	require.NoError(t, a.AcquireLock())

	err = b.AcquireLock()
	require.ErrorIs(t, err, domain.ErrLockHeld)

	a.ReleaseLock()
	require.NoError(t, b.AcquireLock())
	b.ReleaseLock()
}

func TestAcquireLock_WaitsForRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	a, err := statestore.NewFileStore(path, 2*time.Second, nil)
	require.NoError(t, err)
	b, err := statestore.NewFileStore(path, 2*time.Second, nil)
	require.NoError(t, err)

	require.NoError(t, a.AcquireLock())
	go func() {
		time.Sleep(250 * time.Millisecond)
		a.ReleaseLock()
	}()

	// Succeeds within the bounded wait once the holder releases.
	require.NoError(t, b.AcquireLock())
	b.ReleaseLock()
}

func TestLock_SharedInstanceConcurrentAcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store, err := statestore.NewFileStore(path, 2*time.Second, nil)
	require.NoError(t, err)

	// Two goroutines contend on the same instance, the way the hourly
	// cycle and the safety monitor share one store in the bot process.
	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for g := 0; g < 2; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				if err := store.AcquireLock(); err != nil {
					errs <- err
					return
				}
				store.ReleaseLock()
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	// A stale token from either goroutine would leave the lock file
	// behind and make this final acquire time out.
	require.NoError(t, store.AcquireLock())
	store.ReleaseLock()
	_, err = os.Stat(path + ".lock")
	assert.True(t, os.IsNotExist(err), "lock file must be removed after release")
}

func TestReleaseLock_IgnoresForeignLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	a, err := statestore.NewFileStore(path, 200*time.Millisecond, nil)
	require.NoError(t, err)

	require.NoError(t, a.AcquireLock())
	// Another process replaced the lock file with its own token.
	require.NoError(t, os.WriteFile(path+".lock", []byte("foreign-token"), 0o644))

	a.ReleaseLock()

	data, err := os.ReadFile(path + ".lock")
	require.NoError(t, err)
	assert.Equal(t, "foreign-token", string(data), "a foreign lock must survive our release")
}

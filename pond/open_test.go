package pond

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Actyx/Actyx-sub006/config"
	"github.com/Actyx/Actyx-sub006/errors"
)

func quietConfig() *config.Config {
	cfg := config.Default()
	cfg.Pond.LogLevel = "error"
	return cfg
}

func TestOpenWithDefaults(t *testing.T) {
	ctx := context.Background()
	p, err := Open(ctx, nil, WithLogger(testLogger()))
	require.NoError(t, err)
	defer p.Dispose()

	f := counterFish(t, "a")
	require.NoError(t, p.Run(ctx, f, addCmd{Add: 4}))

	states, cancel, err := p.Observe(ctx, f)
	require.NoError(t, err)
	defer cancel()
	waitFor(t, states, 4)
}

func TestOpenBadgerSnapshots(t *testing.T) {
	ctx := context.Background()
	cfg := quietConfig()
	cfg.Pond.SourceID = "node-1"
	cfg.Snapshots.Backend = config.SnapshotBackendBadger
	cfg.Snapshots.Path = filepath.Join(t.TempDir(), "snaps")
	cfg.Snapshots.EventInterval = 1

	p, err := Open(ctx, cfg, WithLogger(testLogger()))
	require.NoError(t, err)
	defer p.Dispose()

	assert.Equal(t, "node-1", string(p.SourceID()))

	f := counterFish(t, "a")
	require.NoError(t, p.Run(ctx, f, addCmd{Add: 7}))
	require.NoError(t, p.WaitQuiet(ctx))
}

func TestOpenSQLiteSnapshots(t *testing.T) {
	ctx := context.Background()
	cfg := quietConfig()
	cfg.Snapshots.Backend = config.SnapshotBackendSQLite
	cfg.Snapshots.Path = filepath.Join(t.TempDir(), "snaps.db")

	p, err := Open(ctx, cfg, WithLogger(testLogger()))
	require.NoError(t, err)
	defer p.Dispose()

	f := counterFish(t, "a")
	require.NoError(t, p.Run(ctx, f, addCmd{Add: 2}))
	require.NoError(t, p.Run(ctx, f, addCmd{Add: 3}))

	states, cancel, err := p.Observe(ctx, f)
	require.NoError(t, err)
	defer cancel()
	waitFor(t, states, 5)
}

func TestOpenSnapshotsDisabled(t *testing.T) {
	ctx := context.Background()
	cfg := quietConfig()
	cfg.Snapshots.Backend = config.SnapshotBackendNone

	p, err := Open(ctx, cfg, WithLogger(testLogger()))
	require.NoError(t, err)
	defer p.Dispose()

	require.NoError(t, p.Run(ctx, counterFish(t, "a"), addCmd{Add: 1}))
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	cfg := quietConfig()
	cfg.EventStore.Backend = "etcd"

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := Open(ctx, cfg, WithLogger(testLogger()))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestOpenDoesNotMutateCaller(t *testing.T) {
	cfg := quietConfig()
	cfg.EventStore.Backend = "MEMORY"

	ctx := context.Background()
	p, err := Open(ctx, cfg, WithLogger(testLogger()))
	require.NoError(t, err)
	p.Dispose()

	// Validation normalizes on a clone, not on the caller's value.
	assert.Equal(t, "MEMORY", cfg.EventStore.Backend)
}

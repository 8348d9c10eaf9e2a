package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	flushmanager "github.com/sushant-115/gojodb-pcache/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/gojodb-pcache/core/write_engine/page_manager"
	"github.com/sushant-115/gojodb-pcache/core/write_engine/pcache"
	"go.uber.org/zap/zaptest"
)

func TestRunWorkload_NoLostUpdates(t *testing.T) {
	ctx := context.Background()
	log := zaptest.NewLogger(t)
	store := flushmanager.NewMemStore(512)
	cache, err := pcache.Open(512, 8, 0, store, pcache.WithReplacer(func(n int) pcache.Replacer { return pcache.NewClockReplacer(n) }))
	require.NoError(t, err)

	w := workload{Workers: 4, Pages: 32, Ops: 250, DirtyRatio: 0.5, Seed: 7, File: pagemanager.FileIDFromName("bench-test")}
	require.NoError(t, prepare(ctx, cache, w))
	require.Equal(t, 32, store.Len())

	res, err := runWorkload(ctx, cache, w, log)
	require.NoError(t, err)
	require.Positive(t, res.Ops)
	require.Positive(t, res.Dirtied)
	require.Zero(t, res.Stats.Pinned)
	require.Positive(t, res.Stats.Evictions)
	require.Contains(t, res.String(), "ops=")

	sum, err := counterSum(ctx, cache, w)
	require.NoError(t, err)
	require.EqualValues(t, res.Dirtied, sum)
	require.NoError(t, cache.Close(ctx))
}

func TestRunWorkload_PacedByDuration(t *testing.T) {
	ctx := context.Background()
	cache, err := pcache.Open(512, 4, 0, flushmanager.NewMemStore(512))
	require.NoError(t, err)

	w := workload{Workers: 2, Pages: 4, Duration: 100 * time.Millisecond, OpsPerSec: 200, File: pagemanager.FileIDFromName("paced")}
	require.NoError(t, prepare(ctx, cache, w))
	res, err := runWorkload(ctx, cache, w, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.Positive(t, res.Ops)
	require.Less(t, res.Ops, int64(200))
}

func TestRunWorkload_RejectsEmptyWorkload(t *testing.T) {
	cache, err := pcache.Open(512, 1, 0, flushmanager.NewMemStore(512))
	require.NoError(t, err)
	_, err = runWorkload(context.Background(), cache, workload{}, zaptest.NewLogger(t))
	require.Error(t, err)
}

package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingSyncer struct {
	calls atomic.Int32
	err   error
}

func (c *countingSyncer) SyncWindow(ctx context.Context) error {
	c.calls.Add(1)
	return c.err
}

func TestRefresherRunsPeriodically(t *testing.T) {
	syncer := &countingSyncer{}
	refresher := New(syncer, zap.NewNop(), 50*time.Millisecond, time.Second)

	require.NoError(t, refresher.Start())
	defer refresher.Stop()

	assert.Eventually(t, func() bool {
		return syncer.calls.Load() >= 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRefresherSurvivesFailedRuns(t *testing.T) {
	syncer := &countingSyncer{err: errors.New("upstream down")}
	refresher := New(syncer, zap.NewNop(), 50*time.Millisecond, time.Second)

	require.NoError(t, refresher.Start())
	defer refresher.Stop()

	// Failures are logged and swallowed; later iterations still fire.
	assert.Eventually(t, func() bool {
		return syncer.calls.Load() >= 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRefresherStopPreventsFurtherRuns(t *testing.T) {
	syncer := &countingSyncer{}
	refresher := New(syncer, zap.NewNop(), 20*time.Millisecond, time.Second)

	require.NoError(t, refresher.Start())
	assert.Eventually(t, func() bool {
		return syncer.calls.Load() >= 1
	}, 2*time.Second, 5*time.Millisecond)
	refresher.Stop()

	// Give any in-flight iteration time to finish before sampling.
	time.Sleep(50 * time.Millisecond)
	settled := syncer.calls.Load()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, settled, syncer.calls.Load())
}

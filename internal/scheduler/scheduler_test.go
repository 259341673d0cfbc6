package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/riskledger/coordinator"
	"github.com/rustyeddy/riskledger/ledger"
)

type fakeTarget struct {
	snapAt  []time.Time
	boards  int
	snapErr error
}

func (f *fakeTarget) SnapshotAll(_ context.Context, at time.Time) ([]ledger.EquitySnapshot, error) {
	f.snapAt = append(f.snapAt, at)
	if f.snapErr != nil {
		return nil, f.snapErr
	}
	return []ledger.EquitySnapshot{{AccountID: "a"}}, nil
}

func (f *fakeTarget) PublishLeaderboard(context.Context, time.Time) ([]coordinator.Standing, error) {
	f.boards++
	return nil, nil
}

func TestNewRejectsBadSpec(t *testing.T) {
	_, err := New("not a cron", &fakeTarget{}, nil)
	assert.Error(t, err)
}

func TestNext(t *testing.T) {
	s, err := New("5 21 * * 1-5", &fakeTarget{}, nil)
	require.NoError(t, err)

	// Friday evening rolls to Monday.
	fri := time.Date(2025, 4, 4, 22, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 4, 7, 21, 5, 0, 0, time.UTC), s.Next(fri))
}

func TestRunOnce(t *testing.T) {
	target := &fakeTarget{}
	s, err := New("@daily", target, nil)
	require.NoError(t, err)
	now := time.Date(2025, 4, 1, 21, 5, 0, 0, time.UTC)
	s.clock = func() time.Time { return now }

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Equal(t, []time.Time{now}, target.snapAt)
	assert.Equal(t, 1, target.boards)

	target.snapErr = errors.New("db down")
	assert.Error(t, s.RunOnce(context.Background()))
	assert.Equal(t, 1, target.boards)
}

func TestStartStopsOnCancel(t *testing.T) {
	s, err := New("@hourly", &fakeTarget{}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

package gormstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpagent/internal/execution"
	"perpagent/internal/journal"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "perpagent.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestManagedSnapshotReplacesPrevious(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	opened := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveManaged(ctx, []execution.ManagedTrade{
		{Asset: "ETH", IsLong: false, Amount: 2, EntryPrice: 3500, OpenedAt: opened},
		{Asset: "BTC", IsLong: true, Amount: 0.001, EntryPrice: 70000, TPOrderID: "tp", ExitPlan: "x", OpenedAt: opened},
	}))
	got, err := s.LoadManaged(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "BTC", got[0].Asset)
	assert.Equal(t, "tp", got[0].TPOrderID)
	assert.True(t, got[0].OpenedAt.Equal(opened))

	require.NoError(t, s.SaveManaged(ctx, []execution.ManagedTrade{{Asset: "SOL", Amount: 1}}))
	got, err = s.LoadManaged(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "SOL", got[0].Asset)

	require.NoError(t, s.SaveManaged(ctx, nil))
	got, err = s.LoadManaged(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestJournalIndexQuery(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	entries := []journal.Entry{
		{Timestamp: base, CycleID: "c1", Asset: "BTC", Action: "buy", Amount: 0.001},
		{Timestamp: base.Add(time.Minute), CycleID: "c1", Asset: "ETH", Action: "hold", Rationale: "chop"},
		{Timestamp: base.Add(2 * time.Minute), CycleID: "c2", Asset: "BTC", Action: journal.ActionReconcileClose, Reason: journal.ReasonNoPositionNoOrders},
	}
	for _, e := range entries {
		require.NoError(t, s.IndexEntry(ctx, e))
	}

	btc, err := s.QueryJournal(ctx, JournalQuery{Asset: "btc"})
	require.NoError(t, err)
	require.Len(t, btc, 2)
	assert.Equal(t, "buy", btc[0].Action)
	assert.Equal(t, journal.ReasonNoPositionNoOrders, btc[1].Reason)

	c1, err := s.QueryJournal(ctx, JournalQuery{CycleID: "c1", Limit: 1})
	require.NoError(t, err)
	require.Len(t, c1, 1)
	assert.Equal(t, "ETH", c1[0].Asset)

	holds, err := s.QueryJournal(ctx, JournalQuery{Action: "hold"})
	require.NoError(t, err)
	require.Len(t, holds, 1)
	assert.Equal(t, "chop", holds[0].Rationale)
}

package journal

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingIndexer struct {
	entries []Entry
	err     error
}

func (r *recordingIndexer) IndexEntry(_ context.Context, e Entry) error {
	r.entries = append(r.entries, e)
	return r.err
}

func TestAppendWritesOneLinePerEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "diary.jsonl")
	j, err := Open(path)
	require.NoError(t, err)
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	j.now = func() time.Time { return fixed }

	tp := 71000.0
	filled := true
	require.NoError(t, j.Append(context.Background(), Entry{Asset: "BTC", Action: "buy", Amount: 0.001, TPPrice: &tp, Filled: &filled}))
	require.NoError(t, j.Append(context.Background(), Entry{Asset: "ETH", Action: "hold", Rationale: "chop"}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 2)

	var hold map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &hold))
	assert.Equal(t, "hold", hold["action"])
	assert.Equal(t, "chop", hold["rationale"])
	assert.Equal(t, "2024-05-01T12:00:00Z", hold["timestamp"])
	assert.NotContains(t, hold, "amount")
	assert.NotContains(t, hold, "opened_at")
}

func TestAppendIsAppendOnlyAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "diary.jsonl")
	j, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, j.Append(context.Background(), Entry{Asset: "BTC", Action: "hold"}))

	j2, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, j2.Append(context.Background(), Entry{Asset: "BTC", Action: ActionReconcileClose, Reason: ReasonNoPositionNoOrders}))

	entries, err := j2.Tail(0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "hold", entries[0].Action)
	assert.Equal(t, ReasonNoPositionNoOrders, entries[1].Reason)
}

func TestTailKeepsLastN(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "diary.jsonl"))
	require.NoError(t, err)
	for i := 0; i < 25; i++ {
		require.NoError(t, j.Append(context.Background(), Entry{Asset: "BTC", Action: "hold", Rationale: string(rune('a' + i))}))
	}
	entries, err := j.Tail(10)
	require.NoError(t, err)
	require.Len(t, entries, 10)
	assert.Equal(t, string(rune('a'+15)), entries[0].Rationale)
	assert.Equal(t, string(rune('a'+24)), entries[9].Rationale)
}

func TestTailSkipsCorruptLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "diary.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{\"action\":\"hold\"}\nnot-json\n\n{\"action\":\"buy\"}\n"), 0o644))
	j, err := Open(path)
	require.NoError(t, err)

	entries, err := j.Tail(0)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	raw, err := j.TailRaw(2)
	require.NoError(t, err)
	assert.Equal(t, []string{"not-json", `{"action":"buy"}`}, raw)
}

func TestIndexerFailureDoesNotFailAppend(t *testing.T) {
	idx := &recordingIndexer{err: errors.New("db locked")}
	j, err := Open(filepath.Join(t.TempDir(), "diary.jsonl"))
	require.NoError(t, err)
	j.WithIndexer(idx)

	require.NoError(t, j.Append(context.Background(), Entry{Asset: "BTC", Action: "hold"}))
	require.Len(t, idx.entries, 1)
	assert.False(t, idx.entries[0].Timestamp.IsZero())
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	_, err := Open("  ")
	require.Error(t, err)
}

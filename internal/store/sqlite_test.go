package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fieldpulse/mobile-core/internal/models"
)

func testRequest(id string, enqueuedAt int64) *models.QueuedRequest {
	return &models.QueuedRequest{
		ID:            id,
		Endpoint:      "/jobs/" + id + "/status",
		Method:        models.MethodPost,
		Payload:       []byte(`{"status":"enroute"}`),
		EnqueuedAt:    enqueuedAt,
		MaxAttempts:   5,
		NextAttemptAt: enqueuedAt,
	}
}

func TestSQLiteStoreAppendLoadOrder(t *testing.T) {
	dir := t.TempDir()

	st, err := Open(dir)
	require.NoError(t, err)

	require.NoError(t, st.Append(testRequest("a", 100)))
	require.NoError(t, st.Append(testRequest("b", 100)))
	require.NoError(t, st.Append(testRequest("c", 200)))

	items, err := st.Load()
	require.NoError(t, err)
	require.Len(t, items, 3)
	require.Equal(t, []string{"a", "b", "c"}, ids(items))

	// Order must survive a process restart.
	require.NoError(t, st.Close())
	st, err = Open(dir)
	require.NoError(t, err)
	defer st.Close()

	items, err = st.Load()
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, ids(items))
	require.Equal(t, "/jobs/a/status", items[0].Endpoint)
	require.JSONEq(t, `{"status":"enroute"}`, string(items[0].Payload))
}

func TestSQLiteStoreUpdateAndDelete(t *testing.T) {
	st, err := Open(t.TempDir())
	require.NoError(t, err)
	defer st.Close()

	req := testRequest("a", 100)
	require.NoError(t, st.Append(req))

	req.AttemptCount = 2
	req.NextAttemptAt = 5000
	req.LastError = "connection refused"
	require.NoError(t, st.Update(req))

	items, err := st.Load()
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, 2, items[0].AttemptCount)
	require.Equal(t, int64(5000), items[0].NextAttemptAt)
	require.Equal(t, "connection refused", items[0].LastError)

	require.NoError(t, st.Delete("a"))
	items, err = st.Load()
	require.NoError(t, err)
	require.Empty(t, items)
}

func TestSQLiteStoreCorruptDatabaseFailsOpen(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, dbFileName), []byte("not a database"), 0o644))

	// A corrupt database must not block the technician: the store comes
	// up empty and usable instead of returning an error.
	st, err := Open(dir)
	require.NoError(t, err)
	defer st.Close()

	items, err := st.Load()
	require.NoError(t, err)
	require.Empty(t, items)

	require.NoError(t, st.Append(testRequest("a", 100)))
	items, err = st.Load()
	require.NoError(t, err)
	require.Len(t, items, 1)
}

func TestMemoryStoreOrderAndCopies(t *testing.T) {
	st := NewMemoryStore()
	require.NoError(t, st.Append(testRequest("a", 100)))
	require.NoError(t, st.Append(testRequest("b", 200)))

	items, err := st.Load()
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, ids(items))

	// Mutating a loaded copy must not leak back into the store.
	items[0].AttemptCount = 99
	again, err := st.Load()
	require.NoError(t, err)
	require.Equal(t, 0, again[0].AttemptCount)
}

func ids(items []*models.QueuedRequest) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.ID)
	}
	return out
}

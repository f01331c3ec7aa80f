package artifact

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moosh3/ack-agent/internal/db"
)

func newTestStore(t *testing.T) (Store, *clock.Mock) {
	t.Helper()
	meta, err := db.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })

	clk := clock.NewMock()
	clk.Set(time.Date(2024, 3, 5, 14, 0, 0, 0, time.UTC))

	s, err := NewFileStore(t.TempDir(), meta, clk)
	require.NoError(t, err)
	return s, clk
}

func TestPutAndGet(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	a, err := s.Put(ctx, "incident_checkout_1", "report", "Investigation report", []byte("# Report"), "md")
	require.NoError(t, err)
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, a.ID+".md", a.FileName)
	assert.Equal(t, "text/markdown; charset=utf-8", a.ContentType)
	assert.EqualValues(t, 8, a.Size)

	got, err := s.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "# Report", string(got.Content))
	assert.Equal(t, "report", got.Type)
	assert.Equal(t, "2024-03-05T14:00:00Z", got.CreatedAt)
}

func TestPutJSONAndList(t *testing.T) {
	s, clk := newTestStore(t)
	ctx := context.Background()

	_, err := s.PutJSON(ctx, "inc-1", "infrastructure", "check_pod_status output", map[string]any{"unhealthy_pods": []string{"checkout-1"}})
	require.NoError(t, err)
	clk.Add(time.Second)
	_, err = s.PutJSON(ctx, "inc-1", "logs", "search_logs output", []string{"boom"})
	require.NoError(t, err)
	clk.Add(time.Second)
	_, err = s.PutJSON(ctx, "inc-2", "logs", "other incident", nil)
	require.NoError(t, err)

	all, err := s.List(ctx, "inc-1", "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "infrastructure", all[0].Type)
	assert.Nil(t, all[0].Content)

	logs, err := s.List(ctx, "inc-1", "logs")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "application/json", logs[0].ContentType)
}

func TestGetMissing(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Get(context.Background(), "does-not-exist")
	assert.True(t, errors.Is(err, db.ErrNotFound))
}

func TestPutRequiresIncident(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Put(context.Background(), "", "logs", "", nil, ".json")
	assert.Error(t, err)
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "incident_a_b", sanitize("incident_a_b"))
	assert.Equal(t, "___etc", sanitize("../etc"))
	assert.Equal(t, "x", filepath.Base(sanitize("x")))
}

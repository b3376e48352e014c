package manifest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCatalog(t *testing.T) *SQLiteCatalog {
	t.Helper()
	catalog, err := NewCatalog(filepath.Join(t.TempDir(), "manifest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { catalog.Close() })
	return catalog
}

func startTestRun(t *testing.T, c *SQLiteCatalog, started time.Time) *RunRecord {
	t.Helper()
	run := &RunRecord{
		RunID:     uuid.NewString(),
		Keyspace:  "whyso",
		Table:     "visit",
		InputPath: "pdp.csv",
		StartedAt: started,
	}
	require.NoError(t, c.StartRun(context.Background(), run))
	return run
}

func TestCatalog_RunLifecycle(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	started := time.UnixMilli(1709294400000)

	run := startTestRun(t, c, started)

	got, err := c.GetRun(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)
	assert.Nil(t, got.FinishedAt)
	assert.True(t, started.Equal(got.StartedAt))

	finished := started.Add(3 * time.Second)
	run.FinishedAt = &finished
	run.RowsRead = 10
	run.RowsWritten = 8
	run.RowsRejected = 2
	run.Status = StatusSucceeded
	require.NoError(t, c.FinishRun(ctx, run))

	got, err = c.GetRun(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, got.Status)
	assert.Equal(t, int64(10), got.RowsRead)
	assert.Equal(t, int64(8), got.RowsWritten)
	assert.Equal(t, int64(2), got.RowsRejected)
	assert.Empty(t, got.Error)
	require.NotNil(t, got.FinishedAt)
	assert.True(t, finished.Equal(*got.FinishedAt))

	_, err = c.GetRun(ctx, "missing")
	assert.Error(t, err)
	assert.Error(t, c.FinishRun(ctx, &RunRecord{RunID: "missing", Status: StatusFailed}))
}

func TestCatalog_ListRuns(t *testing.T) {
	c := newTestCatalog(t)
	base := time.UnixMilli(1709294400000)

	first := startTestRun(t, c, base)
	second := startTestRun(t, c, base.Add(time.Minute))

	runs, err := c.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second.RunID, runs[0].RunID)
	assert.Equal(t, first.RunID, runs[1].RunID)

	runs, err = c.ListRuns(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestCatalog_Segments(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	run := startTestRun(t, c, time.Now())

	for _, gen := range []int{2, 1} {
		seg := &SegmentRecord{
			SegmentID:      uuid.NewString(),
			RunID:          run.RunID,
			Keyspace:       "whyso",
			Table:          "visit",
			Dir:            "/data/whyso/visit",
			Generation:     gen,
			DataPath:       "/data/whyso/visit/nb-1-big-Data.db",
			RowCount:       100,
			PartitionCount: 90,
			SizeBytes:      4096,
			MinToken:       "-9000",
			MaxToken:       "9000",
			CreatedAt:      time.UnixMilli(1709294400000),
		}
		id, err := c.RegisterSegment(ctx, seg)
		require.NoError(t, err)
		assert.Equal(t, seg.SegmentID, id)
	}

	segments, err := c.ListSegments(ctx, "whyso", "visit")
	require.NoError(t, err)
	require.Len(t, segments, 2)
	assert.Equal(t, 1, segments[0].Generation)
	assert.Equal(t, 2, segments[1].Generation)
	assert.Equal(t, int64(90), segments[0].PartitionCount)
	assert.Equal(t, "-9000", segments[0].MinToken)
	assert.Nil(t, segments[0].PublishedAt)

	// Same directory and generation resolves to the existing segment.
	dup := *segments[0]
	dup.SegmentID = uuid.NewString()
	id, err := c.RegisterSegment(ctx, &dup)
	require.NoError(t, err)
	assert.Equal(t, segments[0].SegmentID, id)

	require.NoError(t, c.MarkPublished(ctx, segments[0].SegmentID, "segments/whyso/visit"))
	segments, err = c.ListSegments(ctx, "whyso", "visit")
	require.NoError(t, err)
	require.NotNil(t, segments[0].PublishedAt)
	assert.Equal(t, "segments/whyso/visit", segments[0].ObjectPrefix)

	assert.Error(t, c.MarkPublished(ctx, "missing", "x"))

	other, err := c.ListSegments(ctx, "whyso", "pageview")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestCatalog_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.db")
	c, err := NewCatalog(path)
	require.NoError(t, err)
	run := startTestRun(t, c, time.Now())
	require.NoError(t, c.Close())

	c, err = NewCatalog(path)
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, path, c.Path())

	got, err := c.GetRun(context.Background(), run.RunID)
	require.NoError(t, err)
	assert.Equal(t, "pdp.csv", got.InputPath)
}

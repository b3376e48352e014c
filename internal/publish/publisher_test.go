package publish

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkilian/csvbulkload/internal/cql"
	bulkerr "github.com/arkilian/csvbulkload/internal/errors"
	"github.com/arkilian/csvbulkload/internal/partition"
	"github.com/arkilian/csvbulkload/internal/sstable"
	"github.com/arkilian/csvbulkload/internal/storage"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeSegments(t *testing.T, keys ...string) []sstable.SegmentInfo {
	t.Helper()
	stmt, err := cql.Declare(
		"CREATE TABLE whyso.visit (k text PRIMARY KEY, v text)",
		"INSERT INTO whyso.visit (k, v) VALUES (?, ?)",
	)
	require.NoError(t, err)

	opts := sstable.DefaultOptions()
	opts.Logger = quietLogger()

	w, err := sstable.NewWriter(t.TempDir(), stmt, partition.Murmur3Partitioner{}, opts)
	require.NoError(t, err)
	for _, k := range keys {
		require.NoError(t, w.AddRow(k, "value"))
	}
	require.NoError(t, w.Close())
	return w.Segments()
}

// failingStorage fails the nth upload and records deletes.
type failingStorage struct {
	storage.ObjectStorage
	failAt  int
	uploads int
	deleted []string
}

func (f *failingStorage) Upload(ctx context.Context, localPath, objectPath string) error {
	f.uploads++
	if f.uploads == f.failAt {
		return storage.ErrUploadFailed
	}
	return f.ObjectStorage.Upload(ctx, localPath, objectPath)
}

func (f *failingStorage) Delete(ctx context.Context, objectPath string) error {
	f.deleted = append(f.deleted, objectPath)
	return f.ObjectStorage.Delete(ctx, objectPath)
}

func TestPublisher_Publish(t *testing.T) {
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	segments := writeSegments(t, "a", "b", "c")
	require.Len(t, segments, 1)

	p := NewPublisher(store, "segments", quietLogger())
	published, err := p.Publish(context.Background(), "whyso", "visit", segments)
	require.NoError(t, err)
	require.Len(t, published, 1)
	assert.Equal(t, "segments/whyso/visit", published[0].Prefix)
	assert.Len(t, published[0].Objects, len(sstable.AllComponents))
	assert.Equal(t, "segments/whyso/visit/nb-1-big-TOC.txt", published[0].Objects[len(published[0].Objects)-1])

	objects, err := store.ListObjects(context.Background(), "segments/whyso/visit")
	require.NoError(t, err)
	assert.Len(t, objects, len(sstable.AllComponents))
}

func TestPublisher_EmptyPrefix(t *testing.T) {
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	p := NewPublisher(store, "", quietLogger())
	assert.Equal(t, "whyso/visit", p.ObjectPrefix("whyso", "visit"))

	published, err := p.Publish(context.Background(), "whyso", "visit", nil)
	require.NoError(t, err)
	assert.Empty(t, published)
}

func TestPublisher_PartialFailureCleansUp(t *testing.T) {
	local, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	store := &failingStorage{ObjectStorage: local, failAt: 3}
	segments := writeSegments(t, "a")

	p := NewPublisher(store, "segments", quietLogger())
	published, err := p.Publish(context.Background(), "whyso", "visit", segments)
	require.Error(t, err)
	assert.Empty(t, published)
	assert.True(t, errors.Is(err, bulkerr.ErrUpload))
	assert.True(t, errors.Is(err, storage.ErrUploadFailed))
	assert.Len(t, store.deleted, 2)

	objects, err := local.ListObjects(context.Background(), "segments")
	require.NoError(t, err)
	assert.Empty(t, objects, "partially uploaded objects are removed")
}

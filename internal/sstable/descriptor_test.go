package sstable

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescriptor_Names(t *testing.T) {
	d := NewDescriptor("/data/whyso/visit", 7)
	assert.Equal(t, "nb-7-big", d.String())
	assert.Equal(t, "/data/whyso/visit/nb-7-big-Data.db", d.Filename(ComponentData))
	assert.Equal(t, "/data/whyso/visit/tmp-nb-7-big-TOC.txt", d.TempFilename(ComponentTOC))
}

func TestParseFilename(t *testing.T) {
	d, c, temp, err := ParseFilename("dir", "nb-12-big-Statistics.json")
	require.NoError(t, err)
	assert.Equal(t, 12, d.Generation)
	assert.Equal(t, "nb", d.Version)
	assert.Equal(t, ComponentStatistics, c)
	assert.False(t, temp)

	_, c, temp, err = ParseFilename("dir", "tmp-nb-3-big-Data.db")
	require.NoError(t, err)
	assert.Equal(t, ComponentData, c)
	assert.True(t, temp)

	for _, name := range []string{"manifest.db", "nb-x-big-Data.db", "nb-0-big-Data.db", "nb-1-bti-Data.db"} {
		_, _, _, err := ParseFilename("dir", name)
		assert.Error(t, err, name)
	}
}

func TestGenerations(t *testing.T) {
	dir := t.TempDir()

	gen, err := MaxGeneration(dir)
	require.NoError(t, err)
	assert.Equal(t, 0, gen)

	gen, err = MaxGeneration(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.Equal(t, 0, gen)

	touch := func(name string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0644))
	}
	touch("nb-1-big-Data.db")
	touch("nb-1-big-TOC.txt")
	touch("nb-2-big-Data.db") // incomplete
	touch("tmp-nb-5-big-Data.db")
	touch("notes.txt")

	gen, err = MaxGeneration(dir)
	require.NoError(t, err)
	assert.Equal(t, 5, gen)

	descs, err := ListSegments(dir)
	require.NoError(t, err)
	require.Len(t, descs, 1)
	assert.Equal(t, 1, descs[0].Generation)
	assert.True(t, descs[0].IsComplete())
	assert.False(t, NewDescriptor(dir, 2).IsComplete())
}

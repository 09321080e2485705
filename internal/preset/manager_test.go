package preset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePreset(name string) *QueryPreset {
	return &QueryPreset{
		Name:            name,
		Site:            "sc-domain:example.com",
		StartDate:       "2025-01-01",
		EndDate:         "2025-01-31",
		Dimensions:      []string{"query", "page"},
		Type:            "web",
		AggregationType: "auto",
		RowLimit:        500,
		StartRow:        0,
		DataState:       "final",
		Filters:         []string{"country:equals:usa"},
	}
}

func TestIsValidName(t *testing.T) {
	assert.True(t, IsValidName("weekly-report"))
	assert.True(t, IsValidName("top_queries_2025"))
	assert.True(t, IsValidName("A1"))

	assert.False(t, IsValidName(""))
	assert.False(t, IsValidName("has space"))
	assert.False(t, IsValidName("dots.are.bad"))
	assert.False(t, IsValidName("../escape"))
	assert.False(t, IsValidName(string(make([]byte, 51))))
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	manager := NewManager(filepath.Join(t.TempDir(), "presets"))

	path, err := manager.Save(samplePreset("weekly"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(manager.Dir, "weekly.yaml"), path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := manager.Load("weekly")
	require.NoError(t, err)
	assert.Equal(t, "sc-domain:example.com", loaded.Site)
	assert.Equal(t, []string{"query", "page"}, loaded.Dimensions)
	assert.Equal(t, []string{"country:equals:usa"}, loaded.Filters)
	assert.False(t, loaded.CreatedAt.IsZero())
	assert.False(t, loaded.UpdatedAt.IsZero())
}

func TestSaveKeepsCreatedAtOnUpdate(t *testing.T) {
	manager := NewManager(t.TempDir())

	_, err := manager.Save(samplePreset("weekly"))
	require.NoError(t, err)
	first, err := manager.Load("weekly")
	require.NoError(t, err)

	updated := samplePreset("weekly")
	updated.CreatedAt = first.CreatedAt
	updated.RowLimit = 900
	_, err = manager.Save(updated)
	require.NoError(t, err)

	second, err := manager.Load("weekly")
	require.NoError(t, err)
	assert.Equal(t, 900, second.RowLimit)
	assert.Equal(t, first.CreatedAt.Unix(), second.CreatedAt.Unix())
}

func TestSaveRejectsInvalidName(t *testing.T) {
	manager := NewManager(t.TempDir())

	_, err := manager.Save(samplePreset("../../etc/passwd"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid preset name")
}

func TestLoadMissing(t *testing.T) {
	manager := NewManager(t.TempDir())

	_, err := manager.Load("ghost")
	require.Error(t, err)
	assert.EqualError(t, err, "preset 'ghost' does not exist")
}

func TestDelete(t *testing.T) {
	manager := NewManager(t.TempDir())

	_, err := manager.Save(samplePreset("gone"))
	require.NoError(t, err)
	require.NoError(t, manager.Delete("gone"))

	_, err = manager.Load("gone")
	require.Error(t, err)
}

func TestDeleteMissing(t *testing.T) {
	manager := NewManager(t.TempDir())

	err := manager.Delete("ghost")
	require.Error(t, err)
	assert.EqualError(t, err, "preset 'ghost' does not exist")
}

func TestListSortedAndSkipsCorrupt(t *testing.T) {
	dir := t.TempDir()
	manager := NewManager(dir)

	_, err := manager.Save(samplePreset("zulu"))
	require.NoError(t, err)
	_, err = manager.Save(samplePreset("alpha"))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("{unclosed: ["), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0600))

	presets, err := manager.List()
	require.NoError(t, err)
	require.Len(t, presets, 2)
	assert.Equal(t, "alpha", presets[0].Name)
	assert.Equal(t, "zulu", presets[1].Name)
}

func TestListMissingDir(t *testing.T) {
	manager := NewManager(filepath.Join(t.TempDir(), "never-created"))

	presets, err := manager.List()
	require.NoError(t, err)
	assert.Empty(t, presets)
}

func TestParamsCopiesSlices(t *testing.T) {
	preset := samplePreset("weekly")
	params := preset.Params()

	params.Dimensions[0] = "mutated"
	assert.Equal(t, "query", preset.Dimensions[0])

	assert.Equal(t, "2025-01-01", params.StartDate)
	assert.Equal(t, 500, params.RowLimit)
	assert.Equal(t, "final", params.DataState)
}

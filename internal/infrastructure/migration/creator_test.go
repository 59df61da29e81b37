package migration

import (
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/labdata/backend/migrations"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"add runs table", "add_runs_table"},
		{"Add-Runs-Table", "add_runs_table"},
		{"ADD_RUNS_TABLE", "add_runs_table"},
		{"add__runs__table", "add_runs_table"},
		{"Add Runs 123", "add_runs_123"},
		{"   spaces   ", "spaces"},
		{"special!@#$chars", "specialchars"},
		{"trailing_", "trailing"},
		{"_leading", "leading"},
		{"!!!", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeName(tt.input))
		})
	}
}

func TestCreateMigration(t *testing.T) {
	dir := t.TempDir()

	first, err := CreateMigration(dir, "create project data", "Projects and runs")
	require.NoError(t, err)
	assert.Equal(t, "000001", first.Version)
	assert.Equal(t, filepath.Join(dir, "000001_create_project_data.up.sql"), first.UpPath)
	assert.Equal(t, filepath.Join(dir, "000001_create_project_data.down.sql"), first.DownPath)

	up, err := os.ReadFile(first.UpPath)
	require.NoError(t, err)
	assert.Contains(t, string(up), "-- Migration: create project data")
	assert.Contains(t, string(up), "-- Description: Projects and runs")

	down, err := os.ReadFile(first.DownPath)
	require.NoError(t, err)
	assert.Contains(t, string(down), "(Rollback)")

	second, err := CreateMigration(dir, "add outbox", "")
	require.NoError(t, err)
	assert.Equal(t, "000002", second.Version)

	up, err = os.ReadFile(second.UpPath)
	require.NoError(t, err)
	assert.NotContains(t, string(up), "Description")
}

func TestCreateMigration_InvalidName(t *testing.T) {
	_, err := CreateMigration(t.TempDir(), "???", "")
	assert.Error(t, err)
}

func TestListMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"000002_add_outbox.up.sql":      {Data: []byte("")},
		"000001_create_tables.up.sql":   {Data: []byte("")},
		"000001_create_tables.down.sql": {Data: []byte("")},
		"000010_only_up.up.sql":         {Data: []byte("")},
		"README.md":                     {Data: []byte("")},
		"notes.sql":                     {Data: []byte("")},
		"abc_bad_version.up.sql":        {Data: []byte("")},
		"000003_sideways.left.sql":      {Data: []byte("")},
	}

	entries, err := ListMigrations(fsys)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, Entry{Version: 1, Name: "create_tables", HasDown: true}, entries[0])
	assert.Equal(t, Entry{Version: 2, Name: "add_outbox"}, entries[1])
	assert.Equal(t, Entry{Version: 10, Name: "only_up"}, entries[2])
}

func TestListMigrations_MissingDirectory(t *testing.T) {
	entries, err := ListMigrations(os.DirFS(filepath.Join(t.TempDir(), "absent")))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestEmbeddedMigrations(t *testing.T) {
	entries, err := ListMigrations(migrations.FS)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	for i, e := range entries {
		assert.Equal(t, uint(i+1), e.Version, "versions must be contiguous")
		assert.True(t, e.HasDown, "migration %d has no down file", e.Version)
	}
}

func TestSourceDriver(t *testing.T) {
	_, _, err := Source{}.driver()
	assert.Error(t, err)

	d, url, err := Source{Path: "/srv/migrations"}.driver()
	require.NoError(t, err)
	assert.Nil(t, d)
	assert.Equal(t, "file:///srv/migrations", url)

	d, url, err = Source{FS: migrations.FS}.driver()
	require.NoError(t, err)
	assert.NotNil(t, d)
	assert.Equal(t, "iofs", url)
}

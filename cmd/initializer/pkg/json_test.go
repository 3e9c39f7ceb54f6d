package pkg

import (
	"bytes"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.json")
	report := SeedReport{
		UserID:     "user-1",
		Email:      "demo@farmsight.local",
		FarmIDs:    map[string]string{"rice": "farm-1"},
		NDVIPoints: 114,
		Alerts:     4,
		Videos:     6,
		SeededAt:   time.Date(2024, 11, 15, 10, 0, 0, 0, time.UTC),
	}

	require.NoError(t, WriteReport(path, report))
	got, err := ReadReport(path)
	require.NoError(t, err)
	assert.Equal(t, report, got)
}

func TestReadReportMissingAndEmpty(t *testing.T) {
	dir := t.TempDir()

	_, err := ReadReport(filepath.Join(dir, "missing.json"))
	assert.ErrorIs(t, err, fs.ErrNotExist)

	empty := filepath.Join(dir, "empty.json")
	require.NoError(t, os.WriteFile(empty, []byte("\n"), 0o644))
	_, err = ReadReport(empty)
	assert.ErrorIs(t, err, ErrEmptyReport)

	noUser := filepath.Join(dir, "nouser.json")
	require.NoError(t, os.WriteFile(noUser, []byte(`{"email":"x@example.com"}`), 0o644))
	_, err = ReadReport(noUser)
	assert.ErrorIs(t, err, ErrEmptyReport)

	broken := filepath.Join(dir, "broken.json")
	require.NoError(t, os.WriteFile(broken, []byte(`{"user_id":`), 0o644))
	_, err = ReadReport(broken)
	assert.Error(t, err)
}

func TestReportPrint(t *testing.T) {
	report := SeedReport{
		UserID:     "user-1",
		Email:      "demo@farmsight.local",
		FarmIDs:    map[string]string{"wheat": "farm-2", "rice": "farm-1"},
		NDVIPoints: 10,
		Alerts:     2,
		Videos:     3,
		SeededAt:   time.Date(2024, 11, 15, 10, 0, 0, 0, time.UTC),
	}

	var buf bytes.Buffer
	report.Print(&buf)
	assert.Equal(t, "demo account: demo@farmsight.local (user-1)\n"+
		"farm rice: farm-1\n"+
		"farm wheat: farm-2\n"+
		"seeded 2024-11-15T10:00:00Z: 10 ndvi points, 2 alerts, 3 videos\n", buf.String())
}

func TestWriteFileAtomicPreservesMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image.db")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0o600))

	require.NoError(t, WriteFileAtomic(path, []byte("new")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))

	st, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), st.Mode().Perm())

	matches, err := filepath.Glob(filepath.Join(filepath.Dir(path), ".image.db.tmp-*"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

package pkg

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"time"
)

// SeedReport records what a seeding run created, so scripts can pick up the
// demo credentials and ids.
type SeedReport struct {
	UserID     string            `json:"user_id"`
	Email      string            `json:"email"`
	FarmIDs    map[string]string `json:"farm_ids"`
	NDVIPoints int               `json:"ndvi_points"`
	Alerts     int               `json:"alerts"`
	Videos     int               `json:"videos"`
	SeededAt   time.Time         `json:"seeded_at"`
}

// ErrEmptyReport is returned for a report file that names no demo user.
var ErrEmptyReport = errors.New("seed report is empty")

// ReadReport loads the report a previous seeding run wrote to path. A missing
// file yields an error matching fs.ErrNotExist.
func ReadReport(path string) (SeedReport, error) {
	var report SeedReport

	data, err := os.ReadFile(path)
	if err != nil {
		return report, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return report, ErrEmptyReport
	}
	if err := json.Unmarshal(data, &report); err != nil {
		return report, fmt.Errorf("decode %s: %w", path, err)
	}
	if report.UserID == "" {
		return report, ErrEmptyReport
	}
	return report, nil
}

// Print writes the demo account and farm ids in a stable order.
func (r SeedReport) Print(w io.Writer) {
	fmt.Fprintf(w, "demo account: %s (%s)\n", r.Email, r.UserID)
	for _, name := range slices.Sorted(maps.Keys(r.FarmIDs)) {
		fmt.Fprintf(w, "farm %s: %s\n", name, r.FarmIDs[name])
	}
	fmt.Fprintf(w, "seeded %s: %d ndvi points, %d alerts, %d videos\n",
		r.SeededAt.Format(time.RFC3339), r.NDVIPoints, r.Alerts, r.Videos)
}

// WriteReport marshals report as pretty JSON and writes it to path atomically.
func WriteReport(path string, report SeedReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	data = append(data, '\n')

	if err := WriteFileAtomic(path, data); err != nil {
		return fmt.Errorf("atomic write: %w", err)
	}
	return nil
}

// WriteFileAtomic writes content to path through a temp file and rename,
// preserving existing file permissions (defaults to 0644 if file doesn't exist).
func WriteFileAtomic(path string, content []byte) error {
	mode := fs.FileMode(0o644)
	if st, err := os.Stat(path); err == nil {
		mode = st.Mode()
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat: %w", err)
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)

	tmp, err := os.CreateTemp(dir, "."+base+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		_ = os.Remove(tmpName)
	}

	if err := tmp.Chmod(mode); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp: %w", err)
	}
	if _, err := tmp.Write(content); err != nil {
		cleanup()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("fsync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename: %w", err)
	}

	// Best-effort fsync the directory for durability on crashes.
	_ = fsyncDir(dir)
	return nil
}

func fsyncDir(dir string) error {
	df, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer df.Close()
	return df.Sync()
}

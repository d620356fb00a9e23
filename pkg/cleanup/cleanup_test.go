package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func touch(t *testing.T, path string, age time.Duration) {
	t.Helper()
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	mtime := time.Now().Add(-age)
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}
}

func TestSweep(t *testing.T) {
	downloads := t.TempDir()
	converted := t.TempDir()

	stale := filepath.Join(downloads, "stale.webm")
	fresh := filepath.Join(downloads, "fresh.webm")
	busy := filepath.Join(converted, "busy.mp4")
	staleOut := filepath.Join(converted, "old.mp4")
	touch(t, stale, 48*time.Hour)
	touch(t, fresh, time.Minute)
	touch(t, busy, 48*time.Hour)
	touch(t, staleOut, 25*time.Hour)
	if err := os.Mkdir(filepath.Join(converted, "subdir"), 0755); err != nil {
		t.Fatal(err)
	}

	j := New(Config{
		Enabled: true,
		MaxAge:  24 * time.Hour,
		Dirs:    []string{downloads, converted, filepath.Join(downloads, "missing")},
	}, func() map[string]bool { return map[string]bool{busy: true} }, nil)

	if got := j.Sweep(time.Now()); got != 2 {
		t.Errorf("Sweep deleted %d files, want 2", got)
	}

	tests := []struct {
		path   string
		exists bool
	}{
		{stale, false},
		{staleOut, false},
		{fresh, true},
		{busy, true},
		{filepath.Join(converted, "subdir"), true},
	}
	for _, tt := range tests {
		t.Run(filepath.Base(tt.path), func(t *testing.T) {
			_, err := os.Stat(tt.path)
			if exists := err == nil; exists != tt.exists {
				t.Errorf("exists = %v, want %v", exists, tt.exists)
			}
		})
	}

	stats := j.GetStats()
	if stats.TotalDeleted != 2 || stats.LastDeleted != 2 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestSweepMatchesActivePathsAcrossSpellings(t *testing.T) {
	dir := t.TempDir()
	busy := filepath.Join(dir, "busy.webm")
	touch(t, busy, 48*time.Hour)

	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	rel, err := filepath.Rel(wd, busy)
	if err != nil {
		t.Skipf("no relative path to %s: %v", busy, err)
	}

	tests := []struct {
		name   string
		active string
	}{
		{"relative", rel},
		{"dot prefix", "." + string(filepath.Separator) + rel},
		{"unclean", filepath.Join(dir, "sub") + string(filepath.Separator) + ".." + string(filepath.Separator) + "busy.webm"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := New(Config{Enabled: true, MaxAge: time.Hour, Dirs: []string{dir}},
				func() map[string]bool { return map[string]bool{tt.active: true} }, nil)
			if got := j.Sweep(time.Now()); got != 0 {
				t.Errorf("Sweep deleted %d files, want 0", got)
			}
			if _, err := os.Stat(busy); err != nil {
				t.Errorf("active file was removed: %v", err)
			}
		})
	}
}

func TestStartDisabled(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, "stale.mp4")
	touch(t, stale, 48*time.Hour)

	j := New(Config{Enabled: false, Dirs: []string{dir}}, nil, nil)
	j.Start(context.Background())
	j.Stop()

	if _, err := os.Stat(stale); err != nil {
		t.Error("disabled janitor should not delete files")
	}
}

func TestStartSweepsImmediately(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, "stale.mp4")
	touch(t, stale, 48*time.Hour)

	j := New(Config{Enabled: true, MaxAge: time.Hour, Interval: time.Hour, Dirs: []string{dir}}, nil, nil)
	j.Start(context.Background())
	defer j.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(stale); os.IsNotExist(err) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("stale file was not removed by the initial sweep")
}

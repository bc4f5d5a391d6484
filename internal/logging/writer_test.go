package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func countBackups(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	n := 0
	for _, e := range entries {
		name := e.Name()
		if name != "gw.log" && strings.HasPrefix(name, "gw-") && strings.HasSuffix(name, ".log") {
			n++
		}
	}
	return n
}

func TestRotatingWriter_WritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gw.log")

	w, err := NewRotatingWriter(path, 1, 3, 30)
	if err != nil {
		t.Fatalf("NewRotatingWriter: %v", err)
	}
	defer w.Close()

	if n, err := w.Write([]byte("line one\n")); err != nil || n != 9 {
		t.Fatalf("Write = (%d, %v), want (9, nil)", n, err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "line one\n" {
		t.Fatalf("file content = %q", got)
	}
}

func TestRotatingWriter_AppendsAcrossReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gw.log")

	w, err := NewRotatingWriter(path, 1, 3, 30)
	if err != nil {
		t.Fatal(err)
	}
	w.Write([]byte("first\n"))
	w.Close()

	w, err = NewRotatingWriter(path, 1, 3, 30)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	w.Write([]byte("second\n"))

	got, _ := os.ReadFile(path)
	if string(got) != "first\nsecond\n" {
		t.Fatalf("file content = %q, want both lines", got)
	}
}

func TestRotatingWriter_RotatesAtSizeLimit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gw.log")

	w, err := NewRotatingWriter(path, 0, 3, 30)
	if err != nil {
		t.Fatal(err)
	}
	w.limitBytes = 64
	defer w.Close()

	chunk := []byte(strings.Repeat("a", 40) + "\n")
	w.Write(chunk)
	w.Write(chunk)

	if got := countBackups(t, dir); got < 1 {
		t.Errorf("expected a rotated backup, found %d", got)
	}

	// The live file holds only the post-rotation chunk.
	live, _ := os.ReadFile(path)
	if len(live) != len(chunk) {
		t.Errorf("live file has %d bytes, want %d", len(live), len(chunk))
	}
}

func TestRotatingWriter_PruneKeepsNewestBackups(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gw.log")

	w, err := NewRotatingWriter(path, 0, 2, 30)
	if err != nil {
		t.Fatal(err)
	}
	w.limitBytes = 32
	defer w.Close()

	chunk := []byte(strings.Repeat("b", 30))
	for range 6 {
		w.Write(chunk)
	}
	// Rotation prunes asynchronously; run one deterministic pass.
	w.prune()

	if got := countBackups(t, dir); got > 2 {
		t.Errorf("found %d backups after prune, want at most 2", got)
	}
}

func TestRotatingWriter_CreatesParentDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "nested", "gw.log")

	w, err := NewRotatingWriter(path, 1, 3, 30)
	if err != nil {
		t.Fatalf("NewRotatingWriter: %v", err)
	}
	defer w.Close()

	w.Write([]byte("ok"))
	if _, err := os.Stat(path); err != nil {
		t.Errorf("log file missing: %v", err)
	}
}

package rewrite

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInstallCreatesFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "wp-content", "uploads")

	wrote, err := Install(dir, "http://127.0.0.1:9000")
	if err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	if !wrote {
		t.Error("expected a write for a missing file")
	}

	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		t.Fatalf("reading rules: %v", err)
	}
	s := string(data)
	for _, want := range []string{
		markerStart,
		markerEnd,
		"RewriteCond %{REQUEST_FILENAME} !-f",
		"RewriteRule .* http://127.0.0.1:9000%{REQUEST_URI} [P,L]",
	} {
		if !strings.Contains(s, want) {
			t.Errorf("rules missing %q:\n%s", want, s)
		}
	}
}

func TestInstallIdempotent(t *testing.T) {
	dir := t.TempDir()
	if _, err := Install(dir, "http://127.0.0.1:9000/"); err != nil {
		t.Fatal(err)
	}
	first, _ := os.ReadFile(filepath.Join(dir, FileName))

	wrote, err := Install(dir, "http://127.0.0.1:9000/")
	if err != nil {
		t.Fatalf("second Install failed: %v", err)
	}
	if wrote {
		t.Error("second Install reported a write")
	}
	second, _ := os.ReadFile(filepath.Join(dir, FileName))
	if string(first) != string(second) {
		t.Error("file changed on second install")
	}
	if n := strings.Count(string(second), markerStart); n != 1 {
		t.Errorf("found %d blocks, want 1", n)
	}
}

func TestInstallAppendsToExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	existing := "Options -Indexes"
	if err := os.WriteFile(path, []byte(existing), 0o644); err != nil {
		t.Fatal(err)
	}

	wrote, err := Install(dir, "/media/get")
	if err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	if !wrote {
		t.Error("expected a write")
	}

	data, _ := os.ReadFile(path)
	s := string(data)
	if !strings.HasPrefix(s, existing+"\n"+markerStart) {
		t.Errorf("existing rules not preserved:\n%s", s)
	}
	if !strings.Contains(s, "RewriteRule .* /media/get [L]") {
		t.Errorf("local target rule missing:\n%s", s)
	}
}

func TestInstallLeavesExistingBlock(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	custom := "# header\n" + markerStart + "\ncustom rules\n" + markerEnd + "\n"
	if err := os.WriteFile(path, []byte(custom), 0o644); err != nil {
		t.Fatal(err)
	}

	wrote, err := Install(dir, "http://127.0.0.1:9000")
	if err != nil {
		t.Fatal(err)
	}
	if wrote {
		t.Error("Install rewrote a file that already has a block")
	}
	data, _ := os.ReadFile(path)
	if string(data) != custom {
		t.Errorf("file modified:\n%s", data)
	}
}

func TestInstallEmptyTarget(t *testing.T) {
	if _, err := Install(t.TempDir(), ""); err == nil {
		t.Error("expected error for empty target")
	}
}

func TestContains(t *testing.T) {
	if Contains(nil) {
		t.Error("empty data reported as containing a block")
	}
	if Contains([]byte(markerStart + " " + markerEnd)) {
		t.Error("markers without newline matched")
	}
	if !Contains([]byte(Block("x"))) {
		t.Error("Block output not recognized")
	}
}

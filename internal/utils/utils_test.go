package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func TestListImageFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"bob.PNG", "alice.jpg", "carol.jpeg", "notes.txt", ".hidden.jpg"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "nested.jpg"), 0o755); err != nil {
		t.Fatal(err)
	}

	got, err := ListImageFiles(dir)
	if err != nil {
		t.Fatalf("ListImageFiles failed: %v", err)
	}

	want := []string{
		filepath.Join(dir, "alice.jpg"),
		filepath.Join(dir, "bob.PNG"),
		filepath.Join(dir, "carol.jpeg"),
	}
	if len(got) != len(want) {
		t.Fatalf("Expected %d files, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expected %s at %d, got %s", want[i], i, got[i])
		}
	}
}

func TestListImageFiles_MissingDir(t *testing.T) {
	if _, err := ListImageFiles(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("Expected error for missing directory")
	}
}

func TestNameFromPath(t *testing.T) {
	tests := map[string]string{
		"/assets/Alice Smith.jpg": "Alice Smith",
		"bob.tar.png":             "bob.tar",
		"carol":                   "carol",
	}
	for in, want := range tests {
		if got := NameFromPath(in); got != want {
			t.Errorf("NameFromPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSafeCommand_CapturesStderr(t *testing.T) {
	c := NewSafeCommand("sh", "-c", "echo boom >&2; exit 3")
	if err := c.Run(); err == nil {
		t.Fatal("Expected non-zero exit")
	}
	if got := c.Stderr.String(); got != "boom\n" {
		t.Errorf("Expected captured stderr %q, got %q", "boom\n", got)
	}
}

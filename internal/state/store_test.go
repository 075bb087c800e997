package state

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestWriteReadRoundtrip(t *testing.T) {
	s := newTestStore(t)
	p := NewPayload()
	p.Set("translation_mode", true)
	p.Set("locale", "vi")

	if err := s.WriteState("users/42/settings.md", p); err != nil {
		t.Fatalf("WriteState: %v", err)
	}

	got, kind, err := s.ReadState("users/42/settings.md")
	if err != nil {
		t.Fatalf("ReadState: %v", err)
	}
	if kind != SourceCanonical {
		t.Fatalf("source kind = %v, want canonical", kind)
	}
	var mode bool
	if !got.Get("translation_mode", &mode) || !mode {
		t.Fatalf("translation_mode not roundtripped")
	}
	if !got.Equal(p) {
		t.Fatalf("payload did not roundtrip byte-identically")
	}
}

func TestLegacyFrontmatterTolerance(t *testing.T) {
	s := newTestStore(t)
	full := filepath.Join(s.DataDir(), "legacy.md")
	content := "---\nversion: 1\nfoo: bar\n---\ntrailing notes\n"
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	payload, kind, err := s.ReadState("legacy.md")
	if err != nil {
		t.Fatalf("ReadState: %v", err)
	}
	if kind != SourceLegacyFrontmatter {
		t.Fatalf("kind = %v, want legacy_frontmatter", kind)
	}
	var foo string
	if !payload.Get("foo", &foo) || foo != "bar" {
		t.Fatalf("foo = %q", foo)
	}
}

func TestLegacyWholeYAMLTolerance(t *testing.T) {
	s := newTestStore(t)
	full := filepath.Join(s.DataDir(), "raw.md")
	if err := os.WriteFile(full, []byte("version: 1\nwatchlist:\n  - AAPL\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, kind, err := s.ReadState("raw.md")
	if err != nil {
		t.Fatalf("ReadState: %v", err)
	}
	if kind != SourceLegacyWholeYAML {
		t.Fatalf("kind = %v, want legacy_whole_yaml", kind)
	}
}

func TestBackupOnUnparsableOverwrite(t *testing.T) {
	s := newTestStore(t)
	full := filepath.Join(s.DataDir(), "corrupt.md")
	corrupt := []byte("\x00\x01not yaml at all: [[[")
	if err := os.WriteFile(full, corrupt, 0o644); err != nil {
		t.Fatal(err)
	}

	p := NewPayload()
	p.Set("translation_mode", true)
	if err := s.WriteState("corrupt.md", p); err != nil {
		t.Fatalf("WriteState: %v", err)
	}

	entries, err := os.ReadDir(s.DataDir())
	if err != nil {
		t.Fatal(err)
	}
	var backup string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "corrupt.md.bak-") {
			backup = e.Name()
		}
	}
	if backup == "" {
		t.Fatalf("no backup file written; entries=%v", entries)
	}
	gotBackup, err := os.ReadFile(filepath.Join(s.DataDir(), backup))
	if err != nil {
		t.Fatal(err)
	}
	if string(gotBackup) != string(corrupt) {
		t.Fatalf("backup content mismatch")
	}

	canonical, _, err := s.ReadState("corrupt.md")
	if err != nil {
		t.Fatalf("ReadState after overwrite: %v", err)
	}
	var mode bool
	canonical.Get("translation_mode", &mode)
	if !mode {
		t.Fatalf("canonical overwrite did not take effect")
	}
}

func TestNextIDMonotonic(t *testing.T) {
	s := newTestStore(t)
	a, err := s.NextID("tasks")
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.NextID("tasks")
	if err != nil {
		t.Fatal(err)
	}
	if b != a+1 {
		t.Fatalf("ids not monotonic: %d then %d", a, b)
	}
	c, err := s.NextID("workers")
	if err != nil {
		t.Fatal(err)
	}
	if c != 1 {
		t.Fatalf("separate namespace should start at 1, got %d", c)
	}
}

func TestUserPathDerivation(t *testing.T) {
	s := newTestStore(t)
	got := s.UserPath("123", "settings.md")
	want := filepath.Join(s.DataDir(), "users", "123", "settings.md")
	if got != want {
		t.Fatalf("UserPath = %q, want %q", got, want)
	}
}

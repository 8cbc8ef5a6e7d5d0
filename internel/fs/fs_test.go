package fs

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCollectEntries(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "b", "nested"), 0o755); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		"a.txt":                                 "aa",
		filepath.Join("b", "c.txt"):             "ccc",
		filepath.Join("b", "nested", "d.txt"):   "d",
		filepath.Join("b", "nested", "e.bin"):   "eeee",
	}
	for rel, content := range files {
		if err := os.WriteFile(filepath.Join(dir, rel), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := CollectEntries(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 6 {
		t.Fatalf("got %d entries: %+v", len(entries), entries)
	}

	// directories come first, parents before children
	if !entries[0].IsDir || entries[0].RelPath != "b" {
		t.Errorf("entry 0 = %+v", entries[0])
	}
	if !entries[1].IsDir || entries[1].RelPath != "b/nested" {
		t.Errorf("entry 1 = %+v", entries[1])
	}
	for _, e := range entries[2:] {
		if e.IsDir {
			t.Errorf("directory %s sorted after files", e.RelPath)
		}
	}

	sizes := map[string]int64{}
	for _, e := range entries {
		sizes[e.RelPath] = e.Size
	}
	if sizes["b/nested/e.bin"] != 4 || sizes["a.txt"] != 2 {
		t.Errorf("sizes wrong: %v", sizes)
	}
}

func TestSegments(t *testing.T) {
	if got := Segments(""); got != nil {
		t.Errorf("empty path: %v", got)
	}
	got := Segments("b/nested/d.txt")
	want := []string{"b", "nested", "d.txt"}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("segment %d = %q", i, got[i])
		}
	}
}

package jsonfile

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

type doc struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestReadMissing(t *testing.T) {
	f := New(filepath.Join(t.TempDir(), "missing.json"), "doc")

	var d doc
	found, err := f.Read(&d)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if found {
		t.Error("expected found=false for missing file")
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "doc.json")
	f := New(path, "doc")

	if err := f.Write(doc{Name: "aapl", Count: 3}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	var got doc
	found, err := f.Read(&got)
	if err != nil || !found {
		t.Fatalf("Read: found=%v err=%v", found, err)
	}
	if got.Name != "aapl" || got.Count != 3 {
		t.Errorf("got %+v", got)
	}
}

func TestReadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	if err := os.WriteFile(path, []byte(`{"name": "trunc`), 0o644); err != nil {
		t.Fatal(err)
	}

	var d doc
	found, err := New(path, "doc").Read(&d)
	if !found {
		t.Error("expected found=true for corrupt file")
	}
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

func TestWriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	f := New(filepath.Join(dir, "doc.json"), "doc")

	for i := 0; i < 5; i++ {
		if err := f.Write(doc{Count: i}); err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "doc.json" {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("dir entries = %v, want only doc.json", names)
	}
}

func TestConcurrentWritesStayValid(t *testing.T) {
	f := New(filepath.Join(t.TempDir(), "doc.json"), "doc")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if err := f.Write(doc{Name: "concurrent", Count: n}); err != nil {
				t.Errorf("Write: %v", err)
			}
		}(i)
	}
	wg.Wait()

	var got doc
	if _, err := f.Read(&got); err != nil {
		t.Fatalf("Read after concurrent writes: %v", err)
	}
	if got.Name != "concurrent" {
		t.Errorf("got %+v", got)
	}
}

func TestRemove(t *testing.T) {
	f := New(filepath.Join(t.TempDir(), "doc.json"), "doc")
	if err := f.Write(doc{Name: "x"}); err != nil {
		t.Fatal(err)
	}
	if err := f.Remove(); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := f.Remove(); err != nil {
		t.Fatalf("second Remove should be a no-op: %v", err)
	}

	var d doc
	found, err := f.Read(&d)
	if err != nil || found {
		t.Errorf("after Remove: found=%v err=%v", found, err)
	}
}

func TestWriteSyncsDirectoryAfterRename(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")

	var synced []string
	orig := syncDir
	syncDir = func(d string) error {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("directory synced before rename: %v", err)
		}
		synced = append(synced, d)
		return orig(d)
	}
	t.Cleanup(func() { syncDir = orig })

	if err := New(path, "doc").Write(doc{Name: "a"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if len(synced) != 1 || synced[0] != dir {
		t.Errorf("synced = %v, want [%s]", synced, dir)
	}
}

func TestWriteReportsDirectorySyncFailure(t *testing.T) {
	orig := syncDir
	syncDir = func(string) error { return errors.New("disk gone") }
	t.Cleanup(func() { syncDir = orig })

	path := filepath.Join(t.TempDir(), "doc.json")
	if err := New(path, "doc").Write(doc{Name: "a"}); err == nil {
		t.Error("Write succeeded despite directory sync failure")
	}
}

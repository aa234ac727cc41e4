package pipeline

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "trunc_params.txt")

	if err := WriteAtomic(path, []byte("forwardTruncLen=240\n")); err != nil {
		t.Fatalf("WriteAtomic: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "forwardTruncLen=240\n" {
		t.Errorf("content = %q", data)
	}

	// Overwrite replaces, never appends.
	if err := WriteAtomic(path, []byte("x\n")); err != nil {
		t.Fatalf("WriteAtomic overwrite: %v", err)
	}
	data, _ = os.ReadFile(path)
	if string(data) != "x\n" {
		t.Errorf("content after overwrite = %q", data)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tmp-") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestWriteJSONReadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.json")
	in := Params{ForwardTruncLen: 240, ReverseTruncLen: 180}
	if err := WriteJSON(path, in); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	var out Params
	if err := ReadJSON(path, &out); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if out != in {
		t.Errorf("got %+v, want %+v", out, in)
	}
}

func TestReadJSON_NotExist(t *testing.T) {
	var p Params
	err := ReadJSON(filepath.Join(t.TempDir(), "missing.json"), &p)
	if !os.IsNotExist(err) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}

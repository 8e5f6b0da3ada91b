package store

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDirReadMissing(t *testing.T) {
	d, err := NewDir(t.TempDir())
	if err != nil {
		t.Fatalf("new dir: %v", err)
	}
	if _, err := d.Read("unet"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDirWriteOverwrites(t *testing.T) {
	root := t.TempDir()
	d, err := NewDir(filepath.Join(root, "cache"))
	if err != nil {
		t.Fatalf("new dir: %v", err)
	}
	if err := d.Write("unet", []byte("old-content")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := d.Write("unet", []byte("new")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, err := d.Read("unet")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, []byte("new")) {
		t.Fatalf("got %q", got)
	}
	if _, err := os.Stat(filepath.Join(d.Root(), "unet")); err != nil {
		t.Fatalf("file missing: %v", err)
	}
}

func TestDirRejectsPathNames(t *testing.T) {
	d, _ := NewDir(t.TempDir())
	for _, name := range []string{"", "..", "a/b", `a\b`} {
		if err := d.Write(name, []byte("x")); err == nil {
			t.Fatalf("expected error for %q", name)
		}
	}
}

func TestMemoryCopiesAndCounts(t *testing.T) {
	m := NewMemory()
	buf := []byte("abc")
	_ = m.Write("x", buf)
	buf[0] = 'z'
	got, err := m.Read("x")
	if err != nil || string(got) != "abc" {
		t.Fatalf("got %q err=%v", got, err)
	}
	if _, err := m.Read("y"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	r, w := m.Counts()
	if r != 2 || w != 1 {
		t.Fatalf("counts r=%d w=%d", r, w)
	}
}

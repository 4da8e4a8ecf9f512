package archive

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func TestArchiveRoundTrip(t *testing.T) {
	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "run.log"), []byte("hello\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(src, "sub"), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(src, "sub", "nested.log"), []byte("world\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	dest := filepath.Join(t.TempDir(), "archive.tar.gz")
	a := NewTarGzArchiver()
	if err := a.Archive(context.Background(), src, dest); err != nil {
		t.Fatalf("Archive: %v", err)
	}

	f, err := os.Open(dest)
	if err != nil {
		t.Fatalf("Open archive: %v", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip.NewReader: %v", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	var names []string
	contents := map[string]string{}
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("tar.Next: %v", err)
		}
		if hdr.Typeflag == tar.TypeDir {
			continue
		}
		names = append(names, hdr.Name)
		data, err := io.ReadAll(tr)
		if err != nil {
			t.Fatalf("ReadAll: %v", err)
		}
		contents[hdr.Name] = string(data)
	}
	sort.Strings(names)

	wantNames := []string{"run.log", "sub/nested.log"}
	if len(names) != len(wantNames) {
		t.Fatalf("archive entries = %v, want %v", names, wantNames)
	}
	for i, n := range wantNames {
		if names[i] != n {
			t.Errorf("entry %d = %q, want %q", i, names[i], n)
		}
	}
	if contents["run.log"] != "hello\n" {
		t.Errorf("run.log contents = %q", contents["run.log"])
	}
	if contents["sub/nested.log"] != "world\n" {
		t.Errorf("sub/nested.log contents = %q", contents["sub/nested.log"])
	}
}

func TestArchiveMissingSourceFails(t *testing.T) {
	a := NewTarGzArchiver()
	dest := filepath.Join(t.TempDir(), "archive.tar.gz")
	err := a.Archive(context.Background(), filepath.Join(t.TempDir(), "does-not-exist"), dest)
	if err == nil {
		t.Fatalf("expected an error archiving a nonexistent directory")
	}
}

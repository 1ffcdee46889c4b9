package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"gocloud.dev/blob/memblob"
)

func TestOpenBucketRefs(t *testing.T) {
	ctx := context.Background()
	if _, err := OpenBucket(ctx, "ftp://somewhere"); err == nil {
		t.Errorf("Expected unsupported reference to fail\n")
	}
	if _, err := OpenBucket(ctx, "vast://endpoint-only"); err == nil {
		t.Errorf("Expected malformed vast reference to fail\n")
	}
	b, err := OpenBucket(ctx, "mem://")
	if err != nil {
		t.Fatalf("Unable to open memory bucket: %v\n", err)
	}
	b.Close()
}

func TestWriterReader(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, Config{Ref: "mem://", Prefix: "/runs/a/"})
	if err != nil {
		t.Fatalf("Unable to open store: %v\n", err)
	}
	defer s.Close()

	w, err := s.Writer(ctx, "patches.bin")
	if err != nil {
		t.Fatalf("Unable to get writer: %v\n", err)
	}
	payload := []byte("RDAPATCH 1.1.0\nbody")
	w.Write(payload)
	if err := w.Close(); err != nil {
		t.Fatalf("Unable to close writer: %v\n", err)
	}
	r, err := s.Reader(ctx, "patches.bin")
	if err != nil {
		t.Fatalf("Unable to get reader: %v\n", err)
	}
	got, err := io.ReadAll(r)
	r.Close()
	if err != nil || !bytes.Equal(got, payload) {
		t.Errorf("Read back %q, %v\n", got, err)
	}
	if _, err := s.Reader(ctx, "missing.bin"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected not found, got %v\n", err)
	}
	if err := s.Delete(ctx, "patches.bin"); err != nil {
		t.Errorf("Unable to delete: %v\n", err)
	}
	if ok, _ := s.Exists(ctx, "patches.bin"); ok {
		t.Errorf("Expected deleted object to be gone\n")
	}
	if _, err := Open(ctx, Config{}); err == nil {
		t.Errorf("Expected store without reference to fail\n")
	}
}

func writeFile(t *testing.T, name string, data string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(name), 0755); err != nil {
		t.Fatalf("Unable to create dir: %v\n", err)
	}
	if err := os.WriteFile(name, []byte(data), 0644); err != nil {
		t.Fatalf("Unable to write %s: %v\n", name, err)
	}
}

func TestUploadDownload(t *testing.T) {
	ctx := context.Background()
	s := NewStore("mem://", memblob.OpenBucket(nil))
	defer s.Close()

	src := t.TempDir()
	writeFile(t, filepath.Join(src, "set", "patches.bin"), "patches")
	writeFile(t, filepath.Join(src, "set", "tiff", "merged.tif"), "tiff")
	writeFile(t, filepath.Join(src, "single.tif"), "single")

	if err := s.Upload(ctx, filepath.Join(src, "set"), "out/set"); err != nil {
		t.Fatalf("Unable to upload directory: %v\n", err)
	}
	if err := s.Upload(ctx, filepath.Join(src, "single.tif"), "out/single.tif"); err != nil {
		t.Fatalf("Unable to upload file: %v\n", err)
	}
	keys, err := s.List(ctx, "out/")
	if err != nil {
		t.Fatalf("Unable to list: %v\n", err)
	}
	expected := []string{"out/set/patches.bin", "out/set/tiff/merged.tif", "out/single.tif"}
	if !reflect.DeepEqual(keys, expected) {
		t.Errorf("Expected keys %v, got %v\n", expected, keys)
	}

	dst := t.TempDir()
	p, err := s.Download(ctx, "out/single.tif", dst)
	if err != nil {
		t.Fatalf("Unable to download file: %v\n", err)
	}
	if b, _ := os.ReadFile(p); string(b) != "single" {
		t.Errorf("Downloaded file holds %q\n", b)
	}
	dir, err := s.Download(ctx, "out/set", dst)
	if err != nil {
		t.Fatalf("Unable to download prefix: %v\n", err)
	}
	if b, _ := os.ReadFile(filepath.Join(dir, "tiff", "merged.tif")); string(b) != "tiff" {
		t.Errorf("Downloaded nested file holds %q\n", b)
	}
	if _, err := s.Download(ctx, "nothing", dst); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected not found downloading missing prefix, got %v\n", err)
	}
	if err := s.Upload(ctx, filepath.Join(src, "absent"), "x"); err == nil {
		t.Errorf("Expected upload of missing file to fail\n")
	}
}

func TestFileBucket(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s, err := Open(ctx, Config{Ref: "file://" + filepath.ToSlash(root)})
	if err != nil {
		t.Fatalf("Unable to open file bucket: %v\n", err)
	}
	defer s.Close()
	local := filepath.Join(t.TempDir(), "a.bin")
	writeFile(t, local, "abc")
	if err := s.Upload(ctx, local, "dir/a.bin"); err != nil {
		t.Fatalf("Unable to upload to file bucket: %v\n", err)
	}
	if b, err := os.ReadFile(filepath.Join(root, "dir", "a.bin")); err != nil || string(b) != "abc" {
		t.Errorf("Expected object on disk, got %q, %v\n", b, err)
	}
}

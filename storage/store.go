package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"github.com/geogenius/rda/rda"
)

// ErrNotFound is returned when a key is not in the store.
var ErrNotFound = errors.New("object not found")

// Config is the [storage] section of the TOML configuration.
type Config struct {
	// Ref is a bucket reference accepted by OpenBucket.
	Ref string

	// Prefix is prepended to every key.
	Prefix string
}

// Store keeps saved patch sets and exported rasters in a bucket.
type Store struct {
	ref    string
	bucket *blob.Bucket
}

// Open returns a store for the configured bucket.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Ref == "" {
		return nil, fmt.Errorf("no bucket reference configured")
	}
	bucket, err := OpenBucket(ctx, cfg.Ref)
	if err != nil {
		return nil, err
	}
	if p := strings.Trim(cfg.Prefix, "/"); p != "" {
		bucket = blob.PrefixedBucket(bucket, p+"/")
	}
	return &Store{ref: cfg.Ref, bucket: bucket}, nil
}

// NewStore wraps an already opened bucket.
func NewStore(ref string, bucket *blob.Bucket) *Store {
	return &Store{ref: ref, bucket: bucket}
}

func (s *Store) String() string {
	return s.ref
}

// Close releases the bucket.
func (s *Store) Close() error {
	return s.bucket.Close()
}

func notFound(key string, err error) error {
	if gcerrors.Code(err) == gcerrors.NotFound {
		return fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	return err
}

// Writer returns a writer for key.  The object is written when the writer is closed.
func (s *Store) Writer(ctx context.Context, key string) (io.WriteCloser, error) {
	return s.bucket.NewWriter(ctx, key, nil)
}

// Reader returns a reader for key.
func (s *Store) Reader(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := s.bucket.NewReader(ctx, key, nil)
	if err != nil {
		return nil, notFound(key, err)
	}
	return r, nil
}

// Exists reports whether key is in the store.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	return s.bucket.Exists(ctx, key)
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	return notFound(key, s.bucket.Delete(ctx, key))
}

// List returns the keys beginning with prefix in lexical order.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	it := s.bucket.List(&blob.ListOptions{Prefix: prefix})
	for {
		obj, err := it.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if !obj.IsDir {
			keys = append(keys, obj.Key)
		}
	}
	return keys, nil
}

// Upload copies a local file to remote.  If local is a directory, every file under it
// is copied below remote keeping relative paths.
func (s *Store) Upload(ctx context.Context, local, remote string) error {
	info, err := os.Stat(local)
	if err != nil {
		return err
	}
	timedLog := rda.NewTimeLog()
	if !info.IsDir() {
		n, err := s.uploadFile(ctx, local, remote)
		if err != nil {
			return err
		}
		timedLog.Infof("Uploaded %s (%s) to %s/%s", local, humanize.Bytes(uint64(n)), s.ref, remote)
		return nil
	}
	var total int64
	var files int
	err = filepath.WalkDir(local, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(local, p)
		if err != nil {
			return err
		}
		n, err := s.uploadFile(ctx, p, path.Join(remote, filepath.ToSlash(rel)))
		total += n
		files++
		return err
	})
	if err != nil {
		return err
	}
	timedLog.Infof("Uploaded %d files (%s) from %s to %s/%s", files, humanize.Bytes(uint64(total)), local, s.ref, remote)
	return nil
}

func (s *Store) uploadFile(ctx context.Context, local, key string) (int64, error) {
	f, err := os.Open(local)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	w, err := s.bucket.NewWriter(ctx, key, nil)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(w, f)
	if err != nil {
		w.Close()
		return n, fmt.Errorf("cannot upload %s to %q: %v", local, key, err)
	}
	if err := w.Close(); err != nil {
		return n, fmt.Errorf("cannot upload %s to %q: %v", local, key, err)
	}
	return n, nil
}

// Download copies remote into localDir and returns the local path.  If remote names
// no object but prefixes others, all of them are downloaded below localDir keeping
// the part of their key after remote.
func (s *Store) Download(ctx context.Context, remote, localDir string) (string, error) {
	if err := os.MkdirAll(localDir, 0755); err != nil {
		return "", err
	}
	timedLog := rda.NewTimeLog()
	exists, err := s.bucket.Exists(ctx, remote)
	if err != nil {
		return "", err
	}
	if exists {
		dst := filepath.Join(localDir, path.Base(remote))
		n, err := s.downloadFile(ctx, remote, dst)
		if err != nil {
			return "", err
		}
		timedLog.Infof("Downloaded %s/%s (%s) to %s", s.ref, remote, humanize.Bytes(uint64(n)), dst)
		return dst, nil
	}
	prefix := strings.TrimSuffix(remote, "/") + "/"
	keys, err := s.List(ctx, prefix)
	if err != nil {
		return "", err
	}
	if len(keys) == 0 {
		return "", fmt.Errorf("%w: %q", ErrNotFound, remote)
	}
	dir := filepath.Join(localDir, path.Base(strings.TrimSuffix(remote, "/")))
	var total int64
	for _, key := range keys {
		dst := filepath.Join(dir, filepath.FromSlash(strings.TrimPrefix(key, prefix)))
		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			return "", err
		}
		n, err := s.downloadFile(ctx, key, dst)
		if err != nil {
			return "", err
		}
		total += n
	}
	timedLog.Infof("Downloaded %d objects (%s) under %s/%s to %s", len(keys), humanize.Bytes(uint64(total)), s.ref, remote, dir)
	return dir, nil
}

func (s *Store) downloadFile(ctx context.Context, key, dst string) (int64, error) {
	r, err := s.bucket.NewReader(ctx, key, nil)
	if err != nil {
		return 0, notFound(key, err)
	}
	defer r.Close()
	f, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dst)
		return n, fmt.Errorf("cannot download %q to %s: %v", key, dst, err)
	}
	return n, nil
}

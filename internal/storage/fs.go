// SPDX-License-Identifier: MIT

package storage

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"github.com/neurolab/neurolab/internal/errdefs"
	"github.com/neurolab/neurolab/internal/log"
)

// FSStore is a filesystem-backed Store rooted at Root/Bucket. The bucket
// directory is created on first use. Writes are atomic (write to temp file,
// fsync, rename) so a concurrent reader never observes a partial object.
type FSStore struct {
	Root    string
	Bucket  string
	signKey []byte
	logger  zerolog.Logger
}

// NewFSStore creates a filesystem store. signKey is used for presigned URLs;
// when empty a random key is generated (presigned URLs then do not survive a
// restart, which is acceptable for their TTL-bounded use).
func NewFSStore(root, bucket, signKey string) (*FSStore, error) {
	if bucket == "" {
		bucket = "neurolab"
	}
	key := []byte(signKey)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("storage: generate sign key: %w", err)
		}
	}
	return &FSStore{
		Root:    root,
		Bucket:  bucket,
		signKey: key,
		logger:  log.WithComponent("storage"),
	}, nil
}

// URI returns the bucket-qualified form of a logical path.
func (s *FSStore) URI(logicalPath string) string {
	return fmt.Sprintf("s3://%s/%s", s.Bucket, logicalPath)
}

// StripURI converts a bucket-qualified URI back to a logical path. Plain
// logical paths pass through unchanged.
func (s *FSStore) StripURI(uri string) string {
	return strings.TrimPrefix(uri, fmt.Sprintf("s3://%s/", s.Bucket))
}

func (s *FSStore) bucketDir() string {
	return filepath.Join(s.Root, s.Bucket)
}

// ensureBucket creates the bucket directory on first use.
func (s *FSStore) ensureBucket() error {
	if err := os.MkdirAll(s.bucketDir(), 0o750); err != nil {
		return &errdefs.StorageError{Kind: errdefs.StorageFatal, Path: s.bucketDir(), Err: err}
	}
	return nil
}

func (s *FSStore) resolve(logicalPath string) (string, error) {
	clean := path.Clean("/" + logicalPath)
	if clean == "/" {
		return "", &errdefs.StorageError{Kind: errdefs.StorageFatal, Path: logicalPath, Err: fmt.Errorf("empty logical path")}
	}
	// path.Clean above removes any ".." escape; the result is always rooted.
	return filepath.Join(s.bucketDir(), filepath.FromSlash(clean[1:])), nil
}

func classify(path string, err error) error {
	switch {
	case os.IsNotExist(err):
		return &errdefs.StorageError{Kind: errdefs.StorageNotFound, Path: path, Err: err}
	case os.IsPermission(err):
		return &errdefs.StorageError{Kind: errdefs.StorageAuth, Path: path, Err: err}
	default:
		return &errdefs.StorageError{Kind: errdefs.StorageFatal, Path: path, Err: err}
	}
}

func (s *FSStore) PutFile(ctx context.Context, localPath, logicalPath string) (string, error) {
	f, err := os.Open(localPath) // #nosec G304 -- worker-owned temp path
	if err != nil {
		return "", classify(localPath, err)
	}
	defer func() { _ = f.Close() }()
	return s.put(ctx, f, logicalPath)
}

func (s *FSStore) PutBytes(ctx context.Context, data []byte, logicalPath, contentType string) (string, error) {
	_ = contentType // recorded by object stores with metadata support; the fs layout has none
	return s.put(ctx, strings.NewReader(string(data)), logicalPath)
}

func (s *FSStore) put(ctx context.Context, r io.Reader, logicalPath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := s.ensureBucket(); err != nil {
		return "", err
	}
	dst, err := s.resolve(logicalPath)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return "", classify(logicalPath, err)
	}

	// renameio handles temp file creation, fsync, atomic rename and cleanup,
	// which gives the re-upload-overwrites-atomically guarantee.
	pending, err := renameio.NewPendingFile(dst)
	if err != nil {
		return "", classify(logicalPath, err)
	}
	defer func() { _ = pending.Cleanup() }()

	if _, err := io.Copy(pending, r); err != nil {
		return "", &errdefs.StorageError{Kind: errdefs.StorageTransient, Path: logicalPath, Err: err}
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return "", classify(logicalPath, err)
	}
	s.logger.Debug().Str(log.FieldPath, logicalPath).Msg("object stored")
	return s.URI(logicalPath), nil
}

func (s *FSStore) GetFile(ctx context.Context, logicalPath, localPath string) error {
	data, err := s.GetBytes(ctx, logicalPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0o750); err != nil {
		return classify(localPath, err)
	}
	if err := os.WriteFile(localPath, data, 0o600); err != nil {
		return classify(localPath, err)
	}
	return nil
}

func (s *FSStore) GetBytes(ctx context.Context, logicalPath string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	src, err := s.resolve(logicalPath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(src) // #nosec G304 -- resolved under bucket root
	if err != nil {
		return nil, classify(logicalPath, err)
	}
	return data, nil
}

func (s *FSStore) Delete(ctx context.Context, logicalPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dst, err := s.resolve(logicalPath)
	if err != nil {
		return err
	}
	if err := os.Remove(dst); err != nil {
		return classify(logicalPath, err)
	}
	return nil
}

func (s *FSStore) List(ctx context.Context, prefix string, recursive bool) ([]ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	base := s.bucketDir()
	start := base
	if prefix != "" {
		resolved, err := s.resolve(prefix)
		if err != nil {
			return nil, err
		}
		start = resolved
	}

	var out []ObjectInfo
	err := filepath.WalkDir(start, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if os.IsNotExist(walkErr) && p == start {
				return filepath.SkipAll
			}
			return walkErr
		}
		if d.IsDir() {
			if !recursive && p != start {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(base, p)
		if err != nil {
			return err
		}
		out = append(out, ObjectInfo{
			Path:    filepath.ToSlash(rel),
			Size:    info.Size(),
			ModTime: info.ModTime().UTC(),
		})
		return nil
	})
	if err != nil {
		return nil, classify(prefix, err)
	}
	return out, nil
}

func (s *FSStore) Exists(ctx context.Context, logicalPath string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	dst, err := s.resolve(logicalPath)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(dst); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, classify(logicalPath, err)
	}
	return true, nil
}

// Presign returns an HMAC-signed URL valid until now+ttl. The signature
// covers path and expiry so a URL cannot be redirected to another object.
func (s *FSStore) Presign(ctx context.Context, logicalPath string, ttl time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ok, err := s.Exists(ctx, logicalPath)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", &errdefs.StorageError{Kind: errdefs.StorageNotFound, Path: logicalPath, Err: os.ErrNotExist}
	}

	expires := time.Now().Add(ttl).Unix()
	sig := s.sign(logicalPath, expires)
	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expires, 10))
	q.Set("signature", sig)
	return fmt.Sprintf("/objects/%s/%s?%s", s.Bucket, logicalPath, q.Encode()), nil
}

// VerifyPresign checks a presigned path/expiry/signature tuple.
func (s *FSStore) VerifyPresign(logicalPath string, expires int64, signature string) bool {
	if time.Now().Unix() > expires {
		return false
	}
	want := s.sign(logicalPath, expires)
	return hmac.Equal([]byte(want), []byte(signature))
}

func (s *FSStore) sign(logicalPath string, expires int64) string {
	mac := hmac.New(sha256.New, s.signKey)
	fmt.Fprintf(mac, "%s\n%d", logicalPath, expires)
	return hex.EncodeToString(mac.Sum(nil))
}

var _ Store = (*FSStore)(nil)

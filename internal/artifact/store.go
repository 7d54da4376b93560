// Package artifact stores submission tarballs and grading logs as flat files
// under two buckets of a root directory.
package artifact

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/fls-grading/portal/internal/secret"
)

// Bucket is a logical directory under the store root.
type Bucket string

const (
	Tarballs Bucket = "tarballs"
	Logs     Bucket = "logs"
)

// ErrInvalidName is returned for names that are empty or not a plain base name.
var ErrInvalidName = errors.New("invalid artifact name")

// ErrExists is returned by Create when the name is already taken.
var ErrExists = fs.ErrExist

// ErrNotFound is returned by Open when the file does not exist.
var ErrNotFound = fs.ErrNotExist

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// Store is a write-once-per-name file store.
type Store struct {
	root string
}

// New creates a Store rooted at dir, creating the bucket directories.
func New(dir string) (*Store, error) {
	for _, b := range []Bucket{Tarballs, Logs} {
		if err := os.MkdirAll(filepath.Join(dir, string(b)), 0o750); err != nil {
			return nil, fmt.Errorf("creating %s bucket: %w", b, err)
		}
	}
	return &Store{root: dir}, nil
}

// Create writes r to bucket/name. It fails with ErrExists rather than
// overwrite an existing file, and removes the partial file on write errors.
func (s *Store) Create(bucket Bucket, name string, r io.Reader) (int64, error) {
	path, err := s.path(bucket, name)
	if err != nil {
		return 0, err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return 0, fmt.Errorf("creating %s/%s: %w", bucket, name, err)
	}

	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return 0, fmt.Errorf("writing %s/%s: %w", bucket, name, err)
	}

	return n, nil
}

// Open returns a reader for bucket/name.
func (s *Store) Open(bucket Bucket, name string) (io.ReadCloser, error) {
	path, err := s.path(bucket, name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s/%s: %w", bucket, name, err)
	}
	return f, nil
}

// Remove deletes bucket/name. A missing file is not an error.
func (s *Store) Remove(bucket Bucket, name string) error {
	path, err := s.path(bucket, name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing %s/%s: %w", bucket, name, err)
	}
	return nil
}

// Rename moves bucket/from to bucket/to, replacing any file already at to.
func (s *Store) Rename(bucket Bucket, from, to string) error {
	src, err := s.path(bucket, from)
	if err != nil {
		return err
	}
	dst, err := s.path(bucket, to)
	if err != nil {
		return err
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("renaming %s/%s: %w", bucket, from, err)
	}
	return nil
}

func (s *Store) path(bucket Bucket, name string) (string, error) {
	switch bucket {
	case Tarballs, Logs:
	default:
		return "", fmt.Errorf("unknown bucket %q", bucket)
	}
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(s.root, string(bucket), name), nil
}

// SanitizeBaseName reduces an uploaded filename to a safe base name.
func SanitizeBaseName(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	return unsafeChars.ReplaceAllString(base, "_")
}

// TarballName builds a collision-resistant name namespaced by owner and time.
func TarballName(owner string, now time.Time, original string) (string, error) {
	nonce, err := secret.RandomHex(12)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("submission_%s_%d_%s_%s", owner, now.UnixMilli(), nonce, SanitizeBaseName(original)), nil
}

// LogName is the deterministic log file name for a submission.
func LogName(submissionID int64) string {
	return fmt.Sprintf("submission-%d.log", submissionID)
}

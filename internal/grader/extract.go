package grader

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// MaxExtractBytes caps the total size of regular files written by Extract.
const MaxExtractBytes = 256 << 20

// ErrUnsafeEntry is returned when an archive member would escape the
// destination or is not a plain file or directory.
var ErrUnsafeEntry = errors.New("unsafe archive entry")

// Extract unpacks a gzip-compressed tar stream into dest. Only directories
// and regular files are accepted; links, devices, absolute paths, and
// entries that resolve outside dest are rejected.
func Extract(r io.Reader, dest string) error {
	dest, err := filepath.Abs(dest)
	if err != nil {
		return fmt.Errorf("resolving destination: %w", err)
	}

	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("opening gzip stream: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	var written int64
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if errors.Is(err, tar.ErrInsecurePath) {
			return fmt.Errorf("%w: %q", ErrUnsafeEntry, hdr.Name)
		}
		if err != nil {
			return fmt.Errorf("reading archive: %w", err)
		}

		target, err := safeTarget(dest, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("creating %s: %w", hdr.Name, err)
			}
		case tar.TypeReg:
			if target == dest {
				return fmt.Errorf("%w: %q", ErrUnsafeEntry, hdr.Name)
			}
			n, err := writeFile(target, tr, hdr.FileInfo().Mode().Perm(), MaxExtractBytes-written)
			written += n
			if err != nil {
				return fmt.Errorf("extracting %s: %w", hdr.Name, err)
			}
		default:
			return fmt.Errorf("%w: %q has disallowed type %q", ErrUnsafeEntry, hdr.Name, string(hdr.Typeflag))
		}
	}
}

func safeTarget(dest, name string) (string, error) {
	if name == "" || strings.HasPrefix(name, "/") || strings.HasPrefix(name, `\`) || filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: absolute path %q", ErrUnsafeEntry, name)
	}

	target := filepath.Join(dest, name)
	rel, err := filepath.Rel(dest, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: path traversal %q", ErrUnsafeEntry, name)
	}
	return target, nil
}

func writeFile(target string, r io.Reader, perm os.FileMode, budget int64) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, err
	}

	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm|0o200)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(f, io.LimitReader(r, budget+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, err
	}
	if n > budget {
		return n, fmt.Errorf("archive expands beyond %d bytes", MaxExtractBytes)
	}
	return n, nil
}

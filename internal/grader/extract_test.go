package grader_test

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fls-grading/portal/internal/grader"
)

type entry struct {
	hdr  tar.Header
	body string
}

func archive(t *testing.T, entries ...entry) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, e := range entries {
		hdr := e.hdr
		if hdr.Typeflag == tar.TypeReg {
			hdr.Size = int64(len(e.body))
		}
		if hdr.Mode == 0 {
			hdr.Mode = 0o644
		}
		require.NoError(t, tw.WriteHeader(&hdr))
		if e.body != "" {
			_, err := tw.Write([]byte(e.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return &buf
}

func file(name, body string) entry {
	return entry{hdr: tar.Header{Name: name, Typeflag: tar.TypeReg}, body: body}
}

func dir(name string) entry {
	return entry{hdr: tar.Header{Name: name, Typeflag: tar.TypeDir, Mode: 0o755}}
}

func TestExtract_FilesAndDirectories(t *testing.T) {
	dest := t.TempDir()
	buf := archive(t,
		dir("kernel/"),
		file("kernel/main.c", "int main;"),
		file("Makefile", "all:"),
		file("deep/nested/path.txt", "x"),
	)

	require.NoError(t, grader.Extract(buf, dest))

	got, err := os.ReadFile(filepath.Join(dest, "kernel", "main.c"))
	require.NoError(t, err)
	assert.Equal(t, "int main;", string(got))
	assert.FileExists(t, filepath.Join(dest, "Makefile"))
	assert.FileExists(t, filepath.Join(dest, "deep", "nested", "path.txt"))
}

func TestExtract_PreservesExecutableBit(t *testing.T) {
	dest := t.TempDir()
	e := file("build.sh", "#!/bin/sh\n")
	e.hdr.Mode = 0o755

	require.NoError(t, grader.Extract(archive(t, e), dest))

	info, err := os.Stat(filepath.Join(dest, "build.sh"))
	require.NoError(t, err)
	assert.NotZero(t, info.Mode().Perm()&0o100)
}

func TestExtract_RejectsUnsafeEntries(t *testing.T) {
	tests := []struct {
		name  string
		entry entry
	}{
		{"absolute path", file("/etc/passwd", "x")},
		{"traversal", file("../escape.txt", "x")},
		{"nested traversal", file("a/../../escape.txt", "x")},
		{"symlink", entry{hdr: tar.Header{Name: "link", Typeflag: tar.TypeSymlink, Linkname: "/etc/passwd"}}},
		{"hardlink", entry{hdr: tar.Header{Name: "hard", Typeflag: tar.TypeLink, Linkname: "Makefile"}}},
		{"char device", entry{hdr: tar.Header{Name: "tty", Typeflag: tar.TypeChar}}},
		{"fifo", entry{hdr: tar.Header{Name: "pipe", Typeflag: tar.TypeFifo}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parent := t.TempDir()
			dest := filepath.Join(parent, "src")
			require.NoError(t, os.Mkdir(dest, 0o755))

			err := grader.Extract(archive(t, tt.entry), dest)
			assert.ErrorIs(t, err, grader.ErrUnsafeEntry)
			assert.NoFileExists(t, filepath.Join(parent, "escape.txt"))
		})
	}
}

func TestExtract_RejectsNonGzip(t *testing.T) {
	err := grader.Extract(bytes.NewBufferString("plain text"), t.TempDir())
	assert.Error(t, err)
}

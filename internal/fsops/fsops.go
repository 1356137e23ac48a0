// Package fsops holds filesystem helpers shared by the engine, written
// against afero so tests can run on an in-memory filesystem.
package fsops

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/afero"
)

// DefaultChunkSize is the copy granularity used for progress reporting
const DefaultChunkSize = 64 * 1024

// ProgressFunc receives the bytes copied so far and the total size
type ProgressFunc func(written, total int64)

// CheckWritable checks if a directory is writable
func CheckWritable(fs afero.Fs, path string) error {
	testFile := path + "/.write_test"
	f, err := fs.Create(testFile)
	if err != nil {
		return fmt.Errorf("path not writable: %w", err)
	}
	f.Close()
	fs.Remove(testFile)
	return nil
}

// EnsureDir ensures a directory exists with the given permissions
func EnsureDir(fs afero.Fs, path string, perm os.FileMode) error {
	if err := fs.MkdirAll(path, perm); err != nil {
		return fmt.Errorf("ensure directory: %w", err)
	}
	return nil
}

// Exists checks if a path exists
func Exists(fs afero.Fs, path string) bool {
	_, err := fs.Stat(path)
	return err == nil
}

// IsDir checks if a path is a directory
func IsDir(fs afero.Fs, path string) bool {
	info, err := fs.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// CopyFile copies src to dst in chunks, reporting progress after each chunk.
// The copy goes to dst+".part" and is renamed into place on success, so dst
// never holds a partial file. Cancelling ctx aborts between chunks.
func CopyFile(ctx context.Context, fs afero.Fs, src, dst string, chunkSize int, progress ProgressFunc) (int64, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	in, err := fs.Open(src)
	if err != nil {
		return 0, fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat source: %w", err)
	}
	total := info.Size()

	part := dst + ".part"
	out, err := fs.Create(part)
	if err != nil {
		return 0, fmt.Errorf("create destination: %w", err)
	}

	written, copyErr := copyChunks(ctx, out, in, total, chunkSize, progress)
	closeErr := out.Close()
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		fs.Remove(part)
		return written, copyErr
	}

	if err := fs.Rename(part, dst); err != nil {
		fs.Remove(part)
		return written, fmt.Errorf("finalize destination: %w", err)
	}
	return written, nil
}

func copyChunks(ctx context.Context, dst io.Writer, src io.Reader, total int64, chunkSize int, progress ProgressFunc) (int64, error) {
	buf := make([]byte, chunkSize)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return written, fmt.Errorf("write destination: %w", err)
			}
			written += int64(n)
			if progress != nil {
				progress(written, total)
			}
		}
		if errors.Is(readErr, io.EOF) {
			return written, nil
		}
		if readErr != nil {
			return written, fmt.Errorf("read source: %w", readErr)
		}
	}
}

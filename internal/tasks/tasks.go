// Package tasks maintains the per-account task file as a byte-addressable
// append-only sink. Appends report the exact region written so rollback can
// verify the tail still matches before truncating it away.
package tasks

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/daviddao/mailtriage/internal/types"
)

// ErrConflict means the file no longer ends with the recorded append, so
// truncating would destroy someone else's bytes.
var ErrConflict = errors.New("task file modified since append")

// File is one account's task file.
type File struct {
	path string
}

// New returns the task file handle for an account directory.
func New(accountDir string) *File {
	return &File{path: filepath.Join(accountDir, "tasks.md")}
}

// Path returns the task file location.
func (f *File) Path() string {
	return f.path
}

// Append writes block at the end of the file and reports the region it
// occupied. The file is exclusively locked for the duration of the write so
// a concurrent truncation cannot interleave.
func (f *File) Append(block string) (*types.TaskAppendInfo, error) {
	fd, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open task file: %w", err)
	}
	defer fd.Close()

	if err := unix.Flock(int(fd.Fd()), unix.LOCK_EX); err != nil {
		return nil, fmt.Errorf("lock task file: %w", err)
	}
	defer unix.Flock(int(fd.Fd()), unix.LOCK_UN)

	info, err := fd.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat task file: %w", err)
	}
	offset := info.Size()

	n, err := fd.WriteAt([]byte(block), offset)
	if err != nil {
		return nil, fmt.Errorf("append to task file: %w", err)
	}
	if err := fd.Sync(); err != nil {
		return nil, fmt.Errorf("sync task file: %w", err)
	}

	sum := sha256.Sum256([]byte(block))
	return &types.TaskAppendInfo{
		Path:   f.path,
		Offset: offset,
		Length: int64(n),
		SHA256: hex.EncodeToString(sum[:]),
	}, nil
}

// Revert removes a previously recorded append. It refuses with ErrConflict
// unless the recorded region is still the exact tail of the file: same end
// offset, same content hash. On conflict the file is left byte-for-byte
// unchanged.
func (f *File) Revert(rec types.TaskAppendInfo) error {
	fd, err := os.OpenFile(f.path, os.O_RDWR, 0o644)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: file is gone", ErrConflict)
		}
		return fmt.Errorf("open task file: %w", err)
	}
	defer fd.Close()

	if err := unix.Flock(int(fd.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("lock task file: %w", err)
	}
	defer unix.Flock(int(fd.Fd()), unix.LOCK_UN)

	info, err := fd.Stat()
	if err != nil {
		return fmt.Errorf("stat task file: %w", err)
	}
	if info.Size() != rec.Offset+rec.Length {
		return fmt.Errorf("%w: size %d, recorded append ends at %d",
			ErrConflict, info.Size(), rec.Offset+rec.Length)
	}

	tail := make([]byte, rec.Length)
	if _, err := fd.ReadAt(tail, rec.Offset); err != nil && err != io.EOF {
		return fmt.Errorf("read task file tail: %w", err)
	}
	sum := sha256.Sum256(tail)
	if hex.EncodeToString(sum[:]) != rec.SHA256 {
		return fmt.Errorf("%w: tail content differs", ErrConflict)
	}

	if err := fd.Truncate(rec.Offset); err != nil {
		return fmt.Errorf("truncate task file: %w", err)
	}
	return fd.Sync()
}

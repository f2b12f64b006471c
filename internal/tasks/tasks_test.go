package tasks

import (
	"errors"
	"os"
	"testing"

	"github.com/daviddao/mailtriage/internal/types"
)

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func TestAppendReportsRegion(t *testing.T) {
	f := New(t.TempDir())

	first, err := f.Append("- task one\n")
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if first.Offset != 0 {
		t.Fatalf("first offset = %d, want 0", first.Offset)
	}
	if first.Length != int64(len("- task one\n")) {
		t.Fatalf("first length = %d", first.Length)
	}

	second, err := f.Append("- task two\n")
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if second.Offset != first.Length {
		t.Fatalf("second offset = %d, want %d", second.Offset, first.Length)
	}

	if got := readFile(t, f.Path()); got != "- task one\n- task two\n" {
		t.Fatalf("file content = %q", got)
	}
}

func TestRevertRemovesTail(t *testing.T) {
	f := New(t.TempDir())

	if _, err := f.Append("- keep\n"); err != nil {
		t.Fatalf("append: %v", err)
	}
	info, err := f.Append("- remove\n")
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	if err := f.Revert(*info); err != nil {
		t.Fatalf("revert: %v", err)
	}
	if got := readFile(t, f.Path()); got != "- keep\n" {
		t.Fatalf("file content after revert = %q", got)
	}
}

func TestRevertConflictLeavesFileUntouched(t *testing.T) {
	f := New(t.TempDir())

	info, err := f.Append("- mine\n")
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	// Someone else appended after us.
	fd, err := os.OpenFile(f.Path(), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := fd.WriteString("- theirs\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	fd.Close()

	err = f.Revert(*info)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("revert = %v, want ErrConflict", err)
	}
	if got := readFile(t, f.Path()); got != "- mine\n- theirs\n" {
		t.Fatalf("file changed on conflict: %q", got)
	}
}

func TestRevertConflictOnTailRewrite(t *testing.T) {
	f := New(t.TempDir())

	info, err := f.Append("- original\n")
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	// Same length, different bytes.
	if err := os.WriteFile(f.Path(), []byte("- altered!\n"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	if err := f.Revert(*info); !errors.Is(err, ErrConflict) {
		t.Fatalf("revert = %v, want ErrConflict", err)
	}
}

func TestRevertMissingFile(t *testing.T) {
	f := New(t.TempDir())
	err := f.Revert(types.TaskAppendInfo{Path: f.Path(), Offset: 0, Length: 5, SHA256: "abc"})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("revert missing file = %v, want ErrConflict", err)
	}
}

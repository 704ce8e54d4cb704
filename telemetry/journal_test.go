package telemetry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestJournalWritesHeaderThenRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telemetry", "info.txt")
	j := NewJournal(path, 0)

	n, err := j.Append("Alice", "u1", 12.5, "Guild", "general")
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if n != 1 {
		t.Fatalf("count = %d, want 1", n)
	}
	n, err = j.Append("Bob", "u2", 3.0, "Guild", "general")
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if n != 2 {
		t.Fatalf("count = %d, want 2", n)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read journal: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %d, want header + 2 rows", len(lines))
	}
	if !strings.HasPrefix(lines[0], "Username | User Id") {
		t.Fatalf("header = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "Alice | u1 | 12.50s | Guild | general | ") || !strings.HasSuffix(lines[1], " | 1") {
		t.Fatalf("row 1 = %q", lines[1])
	}
	if !strings.HasSuffix(lines[2], " | 2") {
		t.Fatalf("row 2 = %q", lines[2])
	}
}

func TestJournalSeededCountContinues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "info.txt")
	j := NewJournal(path, 41)

	n, err := j.Append("Alice", "u1", 1.0, "Guild", "general")
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if n != 42 {
		t.Fatalf("count = %d, want 42", n)
	}
	if j.Count() != 42 {
		t.Fatalf("Count() = %d, want 42", j.Count())
	}
}

func TestJournalHeaderNotRepeated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "info.txt")
	j := NewJournal(path, 0)
	if _, err := j.Append("Alice", "u1", 1.0, "Guild", "general"); err != nil {
		t.Fatalf("Append: %v", err)
	}

	// A fresh Journal over an existing file must not write a second header.
	j2 := NewJournal(path, 1)
	if _, err := j2.Append("Bob", "u2", 2.0, "Guild", "general"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read journal: %v", err)
	}
	if strings.Count(string(data), "Username | User Id") != 1 {
		t.Fatalf("header repeated:\n%s", data)
	}
}

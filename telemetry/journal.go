package telemetry

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const journalHeader = "Username | User Id | Audio Duration | Guild | Channel | Date | Recording count\n"

// Journal appends one plain-text line per delivered recording. The file
// format is kept compatible with the legacy bot's telemetry file so existing
// tooling keeps working; rows are append-only and never rewritten.
type Journal struct {
	path string

	mu    sync.Mutex
	count int64
}

// NewJournal prepares a journal at path. initialCount seeds the running
// counter (from the history store when one is configured, zero otherwise).
func NewJournal(path string, initialCount int64) *Journal {
	return &Journal{path: path, count: initialCount}
}

// Append writes one recording row and returns the new running count. The
// header row is written when the file is first created.
func (j *Journal) Append(username, userKey string, durationSeconds float64, guildName, channelName string) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(j.path), 0o755); err != nil {
		return j.count, fmt.Errorf("journal dir: %w", err)
	}
	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return j.count, fmt.Errorf("journal open: %w", err)
	}
	defer func() { _ = f.Close() }()

	if st, err := f.Stat(); err == nil && st.Size() == 0 {
		if _, err := f.WriteString(journalHeader); err != nil {
			return j.count, err
		}
	}

	j.count++
	line := fmt.Sprintf("%s | %s | %.2fs | %s | %s | %s | %d\n",
		username, userKey, durationSeconds, guildName, channelName,
		time.Now().UTC().Format("2006-01-02 15:04:05"), j.count)
	if _, err := f.WriteString(line); err != nil {
		j.count--
		return j.count, err
	}
	return j.count, nil
}

// Count returns the running number of delivered recordings.
func (j *Journal) Count() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.count
}

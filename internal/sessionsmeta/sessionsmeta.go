// Package sessionsmeta reads and writes the sessions metadata file: a JSON
// array of restorable-session records at ~/.jimi/sessions.json, capped at
// the 100 newest entries. Front-ends use this to enumerate sessions; the
// core only touches it when asked to record or restore one.
package sessionsmeta

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
)

// MaxEntries is the cap on newest-first entries retained in the file.
const MaxEntries = 100

// Record is one restorable session. Field names are stable on disk.
type Record struct {
	ID          string    `json:"id"`
	WorkDir     string    `json:"workDir"`
	HistoryFile string    `json:"historyFile"`
	AgentName   string    `json:"agentName"`
	CreatedAt   time.Time `json:"createdAt"`
	AccessedAt  time.Time `json:"accessedAt"`
}

// DefaultPath returns ~/.jimi/sessions.json.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("sessionsmeta: resolve home directory: %w", err)
	}
	return filepath.Join(home, ".jimi", "sessions.json"), nil
}

// Load reads every record from path. A missing file is not an error; it
// yields an empty slice, matching a fresh installation with no prior
// sessions.
func Load(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("sessionsmeta: read %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("sessionsmeta: decode %s: %w", path, err)
	}
	return records, nil
}

// Save writes records to path, creating its parent directory if needed, and
// truncates to the MaxEntries newest (by AccessedAt) before writing.
func Save(path string, records []Record) error {
	records = capNewest(records, MaxEntries)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("sessionsmeta: create directory for %s: %w", path, err)
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("sessionsmeta: encode records: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("sessionsmeta: write %s: %w", path, err)
	}
	return nil
}

// Touch loads path, creates or updates the record for sessionID (generating
// a new ID via uuid if sessionID is empty), stamps AccessedAt (and
// CreatedAt for a new record) with now, and saves the result. It returns
// the effective record so a caller learns a generated ID.
func Touch(path string, sessionID, workDir, historyFile, agentName string, now time.Time) (Record, error) {
	records, err := Load(path)
	if err != nil {
		return Record{}, err
	}

	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	idx := -1
	for i, r := range records {
		if r.ID == sessionID {
			idx = i
			break
		}
	}

	var rec Record
	if idx >= 0 {
		rec = records[idx]
	} else {
		rec = Record{ID: sessionID, CreatedAt: now}
	}
	rec.WorkDir = workDir
	rec.HistoryFile = historyFile
	rec.AgentName = agentName
	rec.AccessedAt = now

	if idx >= 0 {
		records[idx] = rec
	} else {
		records = append(records, rec)
	}

	if err := Save(path, records); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// capNewest keeps at most n records, preferring the most recently accessed.
func capNewest(records []Record, n int) []Record {
	if len(records) <= n {
		return records
	}
	sorted := make([]Record, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].AccessedAt.After(sorted[j].AccessedAt)
	})
	return sorted[:n]
}

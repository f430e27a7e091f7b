// Package importlog keeps an append-only CSV audit trail of import and
// reprocessing batches.
package importlog

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Entry is one row in the import log.
type Entry struct {
	Timestamp  time.Time
	BatchID    string
	Action     string
	Source     string
	Received   int
	Inserted   int
	Duplicates int
}

// Actions recorded in the log.
const (
	ActionImport    = "import"
	ActionReprocess = "reprocess"
	ActionApplyRule = "apply_rule"
	ActionBackfill  = "backfill_hashes"
)

// Header is the CSV header for import-log.csv.
const Header = "timestamp,batch_id,action,source,received,inserted,duplicates"

const (
	numFields     = 7
	logDir        = "logs"
	logFile       = "logs/import-log.csv"
	colTimestamp  = 0
	colBatchID    = 1
	colAction     = 2
	colSource     = 3
	colReceived   = 4
	colInserted   = 5
	colDuplicates = 6
)

// MarshalEntry converts an Entry to a CSV row.
func MarshalEntry(e Entry) []string {
	row := make([]string, numFields)
	row[colTimestamp] = e.Timestamp.UTC().Format(time.RFC3339)
	row[colBatchID] = e.BatchID
	row[colAction] = e.Action
	row[colSource] = e.Source
	row[colReceived] = strconv.Itoa(e.Received)
	row[colInserted] = strconv.Itoa(e.Inserted)
	row[colDuplicates] = strconv.Itoa(e.Duplicates)
	return row
}

// UnmarshalEntry converts a CSV row to an Entry.
func UnmarshalEntry(record []string) (Entry, error) {
	if len(record) != numFields {
		return Entry{}, fmt.Errorf("expected %d fields, got %d", numFields, len(record))
	}

	ts, err := time.Parse(time.RFC3339, record[colTimestamp])
	if err != nil {
		return Entry{}, fmt.Errorf("parsing timestamp %q: %w", record[colTimestamp], err)
	}

	counts := make([]int, 3)
	for i, col := range []int{colReceived, colInserted, colDuplicates} {
		n, err := strconv.Atoi(record[col])
		if err != nil {
			return Entry{}, fmt.Errorf("parsing count %q: %w", record[col], err)
		}
		counts[i] = n
	}

	return Entry{
		Timestamp:  ts,
		BatchID:    record[colBatchID],
		Action:     record[colAction],
		Source:     record[colSource],
		Received:   counts[0],
		Inserted:   counts[1],
		Duplicates: counts[2],
	}, nil
}

// Append writes entries to <root>/logs/import-log.csv, creating the file and header if needed.
func Append(root string, entries []Entry) error {
	dir := filepath.Join(root, logDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating logs dir: %w", err)
	}

	path := filepath.Join(root, logFile)
	needsHeader := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		needsHeader = true
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening import log: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	defer cw.Flush()

	if needsHeader {
		if err := cw.Write(strings.Split(Header, ",")); err != nil {
			return fmt.Errorf("writing header: %w", err)
		}
	}

	for i, e := range entries {
		if err := cw.Write(MarshalEntry(e)); err != nil {
			return fmt.Errorf("writing entry %d: %w", i, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// Read returns all entries from <root>/logs/import-log.csv.
// Returns an empty slice if the file does not exist.
func Read(root string) ([]Entry, error) {
	path := filepath.Join(root, logFile)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening import log: %w", err)
	}
	defer f.Close()

	return readEntries(f)
}

func readEntries(r io.Reader) ([]Entry, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = numFields

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading import log CSV: %w", err)
	}

	if len(records) <= 1 {
		return nil, nil
	}

	var entries []Entry
	for i, rec := range records[1:] {
		e, err := UnmarshalEntry(rec)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

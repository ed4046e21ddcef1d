package audit

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Query filters persisted events for Reader.Query/Count/Export.
type Query struct {
	EventType   string
	RequestID   string
	Phase       string
	MinSeverity *Severity
	Regulation  string
	Start       time.Time
	End         time.Time
	Limit       int
	Offset      int
}

func (q Query) matches(p PersistedEvent) bool {
	if q.EventType != "" && p.EventType != q.EventType {
		return false
	}
	if q.RequestID != "" && p.RequestID != q.RequestID {
		return false
	}
	if q.Phase != "" && p.Phase != q.Phase {
		return false
	}
	if q.Regulation != "" && p.Regulation != q.Regulation {
		return false
	}
	if q.MinSeverity != nil {
		sev, err := ParseSeverity(p.Severity)
		if err != nil || !sev.GTE(*q.MinSeverity) {
			return false
		}
	}
	if !q.Start.IsZero() || !q.End.IsZero() {
		ts, err := time.Parse(time.RFC3339Nano, p.Timestamp)
		if err != nil {
			return false
		}
		if !q.Start.IsZero() && ts.Before(q.Start) {
			return false
		}
		if !q.End.IsZero() && ts.After(q.End) {
			return false
		}
	}
	return true
}

// Reader opens every .jsonl file in an audit directory to answer queries.
// Readers tolerate concurrent writer appends: truncated/partial trailing
// lines are skipped rather than treated as a hard error.
type Reader struct {
	Dir string
}

func NewReader(dir string) *Reader { return &Reader{Dir: dir} }

func (r *Reader) sortedFiles() ([]string, error) {
	entries, err := os.ReadDir(r.Dir)
	if err != nil {
		return nil, fmt.Errorf("audit: read dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".jsonl" {
			continue
		}
		files = append(files, filepath.Join(r.Dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// scan invokes fn for each event matching q, in file order, until fn
// returns false or files are exhausted. Used by both Query and Count so
// they share one read path.
func (r *Reader) scan(q Query, fn func(PersistedEvent) bool) error {
	files, err := r.sortedFiles()
	if err != nil {
		return err
	}

	for _, path := range files {
		if err := r.scanFile(path, q, fn); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reader) scanFile(path string, q Query, fn func(PersistedEvent) bool) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("audit: open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var p PersistedEvent
		if err := json.Unmarshal([]byte(line), &p); err != nil {
			continue // partial or corrupt line: skip gracefully
		}
		if !q.matches(p) {
			continue
		}
		if !fn(p) {
			return nil
		}
	}
	return scanner.Err()
}

// Query returns up to q.Limit matching events (default 1000), skipping
// q.Offset matches first.
func (r *Reader) Query(q Query) ([]PersistedEvent, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 1000
	}
	var results []PersistedEvent
	skipped := 0

	err := r.scan(q, func(p PersistedEvent) bool {
		if skipped < q.Offset {
			skipped++
			return true
		}
		results = append(results, p)
		return len(results) < limit
	})
	return results, err
}

// Count scans the same way as Query but only tallies matches, without
// materializing the result set.
func (r *Reader) Count(q Query) (int, error) {
	count := 0
	err := r.scan(q, func(PersistedEvent) bool {
		count++
		return true
	})
	return count, err
}

// ExportFormat selects Reader.Export's output encoding.
type ExportFormat int

const (
	ExportJSONL ExportFormat = iota
	ExportJSON
	ExportCSV
)

// Export writes every event matching q to w in the given format, returning
// the number of events written.
func (r *Reader) Export(q Query, format ExportFormat, w io.Writer) (int, error) {
	events, err := r.Query(q)
	if err != nil {
		return 0, err
	}

	switch format {
	case ExportJSONL:
		for _, e := range events {
			line, err := json.Marshal(e)
			if err != nil {
				return 0, err
			}
			if _, err := w.Write(append(line, '\n')); err != nil {
				return 0, err
			}
		}
	case ExportJSON:
		pretty, err := json.MarshalIndent(events, "", "  ")
		if err != nil {
			return 0, err
		}
		if _, err := w.Write(pretty); err != nil {
			return 0, err
		}
	case ExportCSV:
		if err := exportCSV(events, w); err != nil {
			return 0, err
		}
	}
	return len(events), nil
}

func exportCSV(events []PersistedEvent, w io.Writer) error {
	cw := csv.NewWriter(w)
	header := []string{"id", "request_id", "event_type", "severity", "regulation", "timestamp_unix", "phase", "data"}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, e := range events {
		ts, err := time.Parse(time.RFC3339Nano, e.Timestamp)
		unix := int64(0)
		if err == nil {
			unix = ts.Unix()
		}
		row := []string{
			e.ID,
			e.RequestID,
			e.EventType,
			e.Severity,
			e.Regulation,
			strconv.FormatInt(unix, 10),
			e.Phase,
			strings.ReplaceAll(e.Data, ",", ";"),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// File: internal/history/history.go
package history

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/hpcloud/tail"
	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/attendant/internal/observability"
)

// Entry is one run summary recovered from the JSON log.
type Entry struct {
	Time       string  `json:"ts"`
	Message    string  `json:"msg"`
	RunID      string  `json:"run_id"`
	Status     string  `json:"status"`
	ReportType string  `json:"report_type"`
	Attempts   int     `json:"attempts"`
	Succeeded  bool    `json:"succeeded"`
	Duration   float64 `json:"duration"`
	Error      string  `json:"error"`
}

// ParseLine decodes a log line and reports whether it is a run summary.
func ParseLine(line []byte) (Entry, bool) {
	var e Entry
	if err := json.Unmarshal(line, &e); err != nil {
		return Entry{}, false
	}
	if e.Message != observability.RunFinishedMessage || e.RunID == "" {
		return Entry{}, false
	}
	return e, true
}

// Read returns the last n run summaries in path, oldest first. n <= 0 returns all.
func Read(path string, n int) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer f.Close()

	var entries []Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		if e, ok := ParseLine(sc.Bytes()); ok {
			entries = append(entries, e)
			if n > 0 && len(entries) > n {
				entries = entries[1:]
			}
		}
	}
	if err := sc.Err(); err != nil {
		return entries, fmt.Errorf("failed to read log file: %w", err)
	}
	return entries, nil
}

// Follow calls fn for every run summary appended to path until ctx is done.
// Existing lines are skipped. Rotation by the logger is followed.
func Follow(ctx context.Context, path string, fn func(Entry)) error {
	t, err := tail.TailFile(path, tail.Config{
		Follow:    true,
		ReOpen:    true,
		MustExist: false,
		Poll:      true,
		Location:  &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd},
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return fmt.Errorf("failed to follow log file: %w", err)
	}
	defer t.Cleanup()
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-t.Lines:
			if !ok {
				return t.Err()
			}
			if line.Err != nil {
				return fmt.Errorf("failed to read log line: %w", line.Err)
			}
			if e, ok := ParseLine([]byte(line.Text)); ok {
				fn(e)
			}
		}
	}
}

// Write renders entries as an aligned table.
func Write(w io.Writer, entries []Entry) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tRUN\tSTATUS\tTYPE\tATTEMPTS\tOK")
	for _, e := range entries {
		WriteRow(tw, e)
	}
	return tw.Flush()
}

// WriteRow renders one entry as a tab separated row.
func WriteRow(w io.Writer, e Entry) {
	runID := e.RunID
	if len(runID) > 8 {
		runID = runID[:8]
	}
	fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%t\n", e.Time, runID, e.Status, e.ReportType, e.Attempts, e.Succeeded)
}

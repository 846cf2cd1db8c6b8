package querylog

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"strings"
	"time"
)

const DefaultEntryLimit = 1000

// EntryFilter selects log entries. Zero fields match everything.
type EntryFilter struct {
	Level     string
	QueryName string
	Path      string
	ErrorOnly bool
	Limit     int
	Since     time.Time
}

func (f EntryFilter) match(e Entry) bool {
	if f.Level != "" && !strings.EqualFold(f.Level, e.Level) {
		return false
	}
	if f.QueryName != "" && f.QueryName != e.QueryName {
		return false
	}
	if f.Path != "" && f.Path != e.Path() {
		return false
	}
	if f.ErrorOnly && !e.HasError() {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	return true
}

// ReadEntries returns the entries of r that match filter, newest first.
// When more than Limit entries match, the newest Limit are kept.
func ReadEntries(r io.Reader, filter EntryFilter) ([]Entry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultEntryLimit
	}

	var entries []Entry
	err := scanLines(r, func(line string) bool {
		e, ok := ParseLine(line)
		if !ok || !filter.match(e) {
			return true
		}
		entries = append(entries, e)
		if len(entries) > limit {
			entries = entries[1:]
		}
		return true
	})
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// ReadEntriesFile is ReadEntries over a file. A missing file yields no entries.
func ReadEntriesFile(path string, filter EntryFilter) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []Entry{}, nil
		}
		return nil, fmt.Errorf("opening query log: %w", err)
	}
	defer f.Close()
	return ReadEntries(f, filter)
}

// DayStat summarises one calendar day of the query log.
type DayStat struct {
	Date    string  `json:"date"`
	Count   int     `json:"count"`
	Errors  int     `json:"errors"`
	TotalMS float64 `json:"total_ms"`
	AvgMS   float64 `json:"avg_ms"`
	MaxMS   float64 `json:"max_ms"`
}

// DailyStats groups entries from the last days days (relative to now) by
// calendar day, oldest day first. Full-query lines are not counted.
func DailyStats(entries []Entry, days int, now time.Time) []DayStat {
	if days <= 0 {
		days = 7
	}
	start := now.AddDate(0, 0, -days)

	byDay := make(map[string]*DayStat)
	for _, e := range entries {
		if e.FullQuery || e.Timestamp.Before(start) {
			continue
		}
		key := e.Timestamp.Format("2006-01-02")
		d, ok := byDay[key]
		if !ok {
			d = &DayStat{Date: key}
			byDay[key] = d
		}
		d.Count++
		if e.HasError() {
			d.Errors++
		}
		d.TotalMS += e.ElapsedMS
		if e.ElapsedMS > d.MaxMS {
			d.MaxMS = e.ElapsedMS
		}
	}

	out := make([]DayStat, 0, len(byDay))
	for _, d := range byDay {
		d.AvgMS = d.TotalMS / float64(d.Count)
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

// Summary is the dashboard overview of recent log entries.
type Summary struct {
	LevelCounts  map[string]int `json:"level_counts"`
	PathCounts   map[string]int `json:"path_counts"`
	RecentErrors []Entry        `json:"recent_errors"`
}

// Summarize counts entries per level and per request path and keeps the
// newest maxErrors error entries. entries must be newest first.
func Summarize(entries []Entry, maxErrors int) Summary {
	s := Summary{
		LevelCounts:  make(map[string]int),
		PathCounts:   make(map[string]int),
		RecentErrors: []Entry{},
	}
	for _, e := range entries {
		s.LevelCounts[e.Level]++
		if p := e.Path(); p != "" {
			s.PathCounts[p]++
		}
		if e.HasError() && len(s.RecentErrors) < maxErrors {
			s.RecentErrors = append(s.RecentErrors, e)
		}
	}
	return s
}

package querylog

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"sort"
	"time"
)

const (
	GroupByQueryName   = "query_name"
	GroupByRequestPath = "request_path"
	GroupByUserID      = "user_id"

	// UnknownGroup collects entries that have no value for the grouping key.
	UnknownGroup = "unknown"

	DefaultTopN = 10
	maxExamples = 3
)

type AnalyzeOptions struct {
	MinTimeMS float64
	GroupBy   string
	TopN      int
}

// Stat aggregates the log entries sharing one grouping value.
type Stat struct {
	Name         string           `json:"name"`
	Count        int              `json:"count"`
	TotalTimeMS  float64          `json:"total_time_ms"`
	AvgTimeMS    float64          `json:"avg_time_ms"`
	MaxTimeMS    float64          `json:"max_time_ms"`
	MinTimeMS    float64          `json:"min_time_ms"`
	LastOccurred *time.Time       `json:"last_occurred"`
	Examples     []map[string]any `json:"examples"`
}

// addExample keeps the slowest maxExamples contexts, slowest first.
func (s *Stat) addExample(elapsed float64, ctx map[string]any) {
	switch {
	case len(s.Examples) < maxExamples:
		s.Examples = append(s.Examples, ctx)
	case elapsed > exampleElapsed(s.Examples[len(s.Examples)-1]):
		s.Examples[len(s.Examples)-1] = ctx
	default:
		return
	}
	sort.SliceStable(s.Examples, func(i, j int) bool {
		return exampleElapsed(s.Examples[i]) > exampleElapsed(s.Examples[j])
	})
}

func exampleElapsed(ctx map[string]any) float64 {
	v, _ := number(ctx["elapsed_ms"])
	return v
}

// Analyze aggregates the query log read from r. Malformed lines are skipped.
// Groups are ordered by average time descending, then by name.
func Analyze(r io.Reader, opts AnalyzeOptions) ([]Stat, error) {
	if opts.GroupBy == "" {
		opts.GroupBy = GroupByQueryName
	}
	if opts.TopN <= 0 {
		opts.TopN = DefaultTopN
	}

	groups := make(map[string]*Stat)
	err := scanLines(r, func(line string) bool {
		e, ok := ParseLine(line)
		if !ok || e.FullQuery {
			return true
		}
		if e.ElapsedMS < opts.MinTimeMS {
			return true
		}

		key := groupKey(e.Context, opts.GroupBy)
		st, ok := groups[key]
		if !ok {
			st = &Stat{Name: key, MinTimeMS: math.Inf(1)}
			groups[key] = st
		}
		st.Count++
		st.TotalTimeMS += e.ElapsedMS
		st.AvgTimeMS = st.TotalTimeMS / float64(st.Count)
		st.MaxTimeMS = math.Max(st.MaxTimeMS, e.ElapsedMS)
		st.MinTimeMS = math.Min(st.MinTimeMS, e.ElapsedMS)
		ts := e.Timestamp
		st.LastOccurred = &ts
		st.addExample(e.ElapsedMS, e.Context)
		return true
	})
	if err != nil {
		return nil, err
	}

	stats := make([]Stat, 0, len(groups))
	for _, st := range groups {
		stats = append(stats, *st)
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].AvgTimeMS != stats[j].AvgTimeMS {
			return stats[i].AvgTimeMS > stats[j].AvgTimeMS
		}
		return stats[i].Name < stats[j].Name
	})
	if len(stats) > opts.TopN {
		stats = stats[:opts.TopN]
	}
	return stats, nil
}

// AnalyzeFile is Analyze over a file. A missing file yields no stats.
func AnalyzeFile(path string, opts AnalyzeOptions) ([]Stat, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []Stat{}, nil
		}
		return nil, fmt.Errorf("opening query log: %w", err)
	}
	defer f.Close()
	return Analyze(f, opts)
}

// FindStat returns the stat named name, if present.
func FindStat(stats []Stat, name string) (Stat, bool) {
	for _, st := range stats {
		if st.Name == name {
			return st, true
		}
	}
	return Stat{}, false
}

func groupKey(ctx map[string]any, key string) string {
	v, ok := ctx[key]
	if !ok || v == nil {
		return UnknownGroup
	}
	switch val := v.(type) {
	case string:
		if val == "" {
			return UnknownGroup
		}
		return val
	case float64:
		return fmt.Sprintf("%g", val)
	default:
		return fmt.Sprint(val)
	}
}

package querylog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func logLine(ts, level, msg, ctx string) string {
	return fmt.Sprintf(`%s [%s] %s {"context": %s}`, ts, level, msg, ctx)
}

func queryLine(ts, name string, elapsed float64, extra string) string {
	ctx := fmt.Sprintf(`{"query_name": %q, "elapsed_ms": %g, "success": true%s}`, name, elapsed, extra)
	return logLine(ts, "WARNING", fmt.Sprintf("Neo4j Query: %s (SLOW) - %.2fms - MATCH (n) RETURN n", name, elapsed), ctx)
}

const sampleLog = `2024-05-14 10:00:00,000 [WARNING] Neo4j Query: topics (SLOW) - 150.00ms - MATCH (t:TOPIC) RETURN t {"context": {"query_name": "topics", "elapsed_ms": 150.0, "request_path": "/api/topics/", "user_id": "7"}}
this line is garbage
2024-05-14 10:00:01,000 [WARNING] Neo4j Query: topics (SLOW) - 250.00ms - MATCH (t:TOPIC) RETURN t {"context": {"query_name": "topics", "elapsed_ms": 250.0, "request_path": "/api/topics/"}}
2024-05-14 10:00:02,000 [WARNING] Neo4j Query: quotes (SLOW) - 400.00ms - MATCH (q:QUOTE) RETURN q {"context": {"query_name": "quotes", "elapsed_ms": 400.0, "request_path": "/api/quotes/", "user_id": "7"}}
2024-05-14 10:00:03 [WARNING] missing millis {"context": {"query_name": "bad", "elapsed_ms": 999}}
2024-05-14 10:00:04,000 WARNING no brackets {"context": {"query_name": "bad", "elapsed_ms": 999}}
2024-05-14 10:00:05,000 [WARNING] Neo4j Query: nocontext (SLOW) - 999.00ms - RETURN 1
2024-05-14 10:00:06,000 [WARNING] Neo4j Query: broken (SLOW) - 999.00ms - RETURN 1 {"context": {"query_name": "broken", "elapsed_
2024-05-14 10:00:07,000 [INFO] Neo4j Query: fast - 20.00ms - RETURN 1 {"context": {"query_name": "fast", "elapsed_ms": 20.0}}
`

func TestAnalyzeSkipsMalformedLines(t *testing.T) {
	stats, err := Analyze(strings.NewReader(sampleLog), AnalyzeOptions{MinTimeMS: 0, TopN: 10})
	require.NoError(t, err)

	require.Len(t, stats, 3)
	assert.Equal(t, "quotes", stats[0].Name)
	assert.Equal(t, "topics", stats[1].Name)
	assert.Equal(t, "fast", stats[2].Name)

	topics := stats[1]
	assert.Equal(t, 2, topics.Count)
	assert.InDelta(t, 400.0, topics.TotalTimeMS, 1e-9)
	assert.InDelta(t, 200.0, topics.AvgTimeMS, 1e-9)
	assert.InDelta(t, 250.0, topics.MaxTimeMS, 1e-9)
	assert.InDelta(t, 150.0, topics.MinTimeMS, 1e-9)
	require.NotNil(t, topics.LastOccurred)
	assert.Equal(t, 1, topics.LastOccurred.Second())
	require.Len(t, topics.Examples, 2)
	assert.Equal(t, 250.0, topics.Examples[0]["elapsed_ms"])
}

func TestAnalyzeMinTime(t *testing.T) {
	stats, err := Analyze(strings.NewReader(sampleLog), AnalyzeOptions{MinTimeMS: 200})
	require.NoError(t, err)

	require.Len(t, stats, 2)
	assert.Equal(t, "quotes", stats[0].Name)
	assert.Equal(t, "topics", stats[1].Name)
	assert.Equal(t, 1, stats[1].Count)
}

func TestAnalyzeGroupByUnknown(t *testing.T) {
	stats, err := Analyze(strings.NewReader(sampleLog), AnalyzeOptions{GroupBy: GroupByUserID})
	require.NoError(t, err)

	require.Len(t, stats, 2)
	names := []string{stats[0].Name, stats[1].Name}
	assert.ElementsMatch(t, []string{"7", UnknownGroup}, names)

	total := 0
	for _, st := range stats {
		total += st.Count
	}
	assert.Equal(t, 4, total)
}

func TestAnalyzeGroupByPath(t *testing.T) {
	stats, err := Analyze(strings.NewReader(sampleLog), AnalyzeOptions{GroupBy: GroupByRequestPath, MinTimeMS: 100})
	require.NoError(t, err)

	require.Len(t, stats, 2)
	assert.Equal(t, "/api/quotes/", stats[0].Name)
	assert.Equal(t, "/api/topics/", stats[1].Name)
}

func TestAnalyzeTopNAndTieBreak(t *testing.T) {
	var b strings.Builder
	for _, name := range []string{"delta", "alpha", "charlie", "bravo"} {
		b.WriteString(queryLine("2024-05-14 10:00:00,000", name, 300, ""))
		b.WriteByte('\n')
	}
	b.WriteString(queryLine("2024-05-14 10:00:00,000", "slowest", 900, ""))
	b.WriteByte('\n')

	stats, err := Analyze(strings.NewReader(b.String()), AnalyzeOptions{TopN: 3})
	require.NoError(t, err)
	require.Len(t, stats, 3)
	assert.Equal(t, "slowest", stats[0].Name)
	assert.Equal(t, "alpha", stats[1].Name)
	assert.Equal(t, "bravo", stats[2].Name)
}

func TestAnalyzeKeepsThreeSlowestExamples(t *testing.T) {
	var b strings.Builder
	for _, ms := range []float64{120, 500, 130, 110, 300, 700, 140} {
		b.WriteString(queryLine("2024-05-14 10:00:00,000", "topics", ms, ""))
		b.WriteByte('\n')
	}

	stats, err := Analyze(strings.NewReader(b.String()), AnalyzeOptions{})
	require.NoError(t, err)
	require.Len(t, stats, 1)

	var got []float64
	for _, ex := range stats[0].Examples {
		got = append(got, ex["elapsed_ms"].(float64))
	}
	assert.Equal(t, []float64{700, 500, 300}, got)
	assert.Equal(t, 7, stats[0].Count)
}

func TestAnalyzeSkipsFullQueryLines(t *testing.T) {
	log := queryLine("2024-05-14 10:00:00,000", "topics", 600, "") + "\n" +
		logLine("2024-05-14 10:00:00,000", "WARNING", "Full slow query: topics - 600.00ms",
			`{"query_name": "topics", "elapsed_ms": 600, "query": "MATCH (t) RETURN t", "full_query": true}`) + "\n"

	stats, err := Analyze(strings.NewReader(log), AnalyzeOptions{})
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, 1, stats[0].Count)
}

func TestAnalyzeToleratesOverlongLine(t *testing.T) {
	huge := strings.Repeat("x", maxLineBytes+10)
	log := huge + "\n" + queryLine("2024-05-14 10:00:00,000", "topics", 150, "") + "\n"

	stats, err := Analyze(strings.NewReader(log), AnalyzeOptions{})
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, "topics", stats[0].Name)
}

func TestAnalyzeFile(t *testing.T) {
	stats, err := AnalyzeFile(filepath.Join(t.TempDir(), "missing.log"), AnalyzeOptions{})
	require.NoError(t, err)
	assert.Empty(t, stats)

	path := filepath.Join(t.TempDir(), "queries.log")
	require.NoError(t, os.WriteFile(path, []byte(sampleLog), 0644))
	stats, err = AnalyzeFile(path, AnalyzeOptions{MinTimeMS: 100})
	require.NoError(t, err)
	assert.Len(t, stats, 2)

	st, ok := FindStat(stats, "topics")
	assert.True(t, ok)
	assert.Equal(t, 2, st.Count)
	_, ok = FindStat(stats, "nope")
	assert.False(t, ok)
}

func TestParseLine(t *testing.T) {
	line := `2024-05-14 15:30:12,123 [ERROR] Neo4j Query Error: find_user - 3.50ms - Authentication failed {"context": {"query_name": "find_user", "elapsed_ms": 3.5, "error": "Authentication failed [query: find_user]", "error_type": "auth"}}`
	e, ok := ParseLine(line)
	require.True(t, ok)
	assert.Equal(t, "ERROR", e.Level)
	assert.Equal(t, "find_user", e.QueryName)
	assert.Equal(t, 3.5, e.ElapsedMS)
	assert.Equal(t, 123, e.Timestamp.Nanosecond()/1e6)
	assert.Equal(t, "Neo4j Query Error: find_user - 3.50ms - Authentication failed", e.Message)
	assert.Equal(t, "Authentication failed [query: find_user]", e.Error)
	assert.False(t, e.Slow)

	for _, bad := range []string{
		"",
		"not a log line",
		`2024-05-14 15:30:12,123 [INFO] no context here`,
		`2024-05-14 15:30:12,123 [INFO] bad json {"context": {"a": }}`,
		`2024-13-45 15:30:12,123 [INFO] bad date {"context": {"a": 1}}`,
	} {
		_, ok := ParseLine(bad)
		assert.False(t, ok, bad)
	}
}

func TestParseLineFallsBackToMessage(t *testing.T) {
	e, ok := ParseLine(`2024-05-14 15:30:12,123 [WARNING] Neo4j Query: legacy_name (SLOW) - 187.25ms - RETURN 1 {"context": {"params": null}}`)
	require.True(t, ok)
	assert.Equal(t, "legacy_name", e.QueryName)
	assert.Equal(t, 187.25, e.ElapsedMS)
	assert.True(t, e.Slow)
}

package querylog

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dashboardLog = `2024-05-12 09:00:00,000 [WARNING] Neo4j Query: topics (SLOW) - 150.00ms - MATCH (t) RETURN t {"context": {"query_name": "topics", "elapsed_ms": 150, "request_path": "/api/topics/"}}
2024-05-13 09:00:00,000 [ERROR] Neo4j Query Error: quotes - 5.00ms - Syntax error {"context": {"query_name": "quotes", "elapsed_ms": 5, "error": "Syntax error [query: quotes]: Invalid input exists(q.text)", "request_path": "/api/quotes/"}}
2024-05-13 10:00:00,000 [INFO] Neo4j Query: tags - 20.00ms - MATCH (t:TAG) RETURN t {"context": {"query_name": "tags", "elapsed_ms": 20}}
garbage
2024-05-14 09:00:00,000 [WARNING] Neo4j Query: topics (SLOW) - 350.00ms - MATCH (t) RETURN t {"context": {"query_name": "topics", "elapsed_ms": 350, "request_path": "/api/topics/"}}
2024-05-14 09:00:00,000 [WARNING] Full slow query: topics - 350.00ms {"context": {"query_name": "topics", "elapsed_ms": 350, "query": "MATCH (t) RETURN t", "full_query": true}}
`

func TestReadEntriesNewestFirst(t *testing.T) {
	entries, err := ReadEntries(strings.NewReader(dashboardLog), EntryFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 5)
	assert.True(t, entries[0].FullQuery)
	assert.Equal(t, 350.0, entries[1].ElapsedMS)
	assert.Equal(t, "topics", entries[4].QueryName)
	assert.Equal(t, 150.0, entries[4].ElapsedMS)
}

func TestReadEntriesFilters(t *testing.T) {
	tests := []struct {
		name   string
		filter EntryFilter
		want   []string
	}{
		{"Level", EntryFilter{Level: "info"}, []string{"tags"}},
		{"QueryName", EntryFilter{QueryName: "quotes"}, []string{"quotes"}},
		{"Path", EntryFilter{Path: "/api/topics/"}, []string{"topics", "topics"}},
		{"ErrorOnly", EntryFilter{ErrorOnly: true}, []string{"quotes"}},
		{"Limit", EntryFilter{Limit: 2}, []string{"topics", "topics"}},
		{"Since", EntryFilter{Since: time.Date(2024, 5, 13, 9, 30, 0, 0, time.Local)}, []string{"topics", "topics", "tags"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := ReadEntries(strings.NewReader(dashboardLog), tt.filter)
			require.NoError(t, err)
			var names []string
			for _, e := range entries {
				names = append(names, e.QueryName)
			}
			assert.Equal(t, tt.want, names)
		})
	}
}

func TestDailyStats(t *testing.T) {
	entries, err := ReadEntries(strings.NewReader(dashboardLog), EntryFilter{})
	require.NoError(t, err)

	now := time.Date(2024, 5, 14, 12, 0, 0, 0, time.Local)
	days := DailyStats(entries, 2, now)

	require.Len(t, days, 2)
	assert.Equal(t, "2024-05-13", days[0].Date)
	assert.Equal(t, 2, days[0].Count)
	assert.Equal(t, 1, days[0].Errors)
	assert.InDelta(t, 12.5, days[0].AvgMS, 1e-9)
	assert.Equal(t, 20.0, days[0].MaxMS)

	assert.Equal(t, "2024-05-14", days[1].Date)
	assert.Equal(t, 1, days[1].Count)
	assert.Equal(t, 350.0, days[1].MaxMS)
}

func TestSummarize(t *testing.T) {
	entries, err := ReadEntries(strings.NewReader(dashboardLog), EntryFilter{})
	require.NoError(t, err)

	s := Summarize(entries, 5)
	assert.Equal(t, 3, s.LevelCounts["WARNING"])
	assert.Equal(t, 1, s.LevelCounts["ERROR"])
	assert.Equal(t, 2, s.PathCounts["/api/topics/"])
	require.Len(t, s.RecentErrors, 1)
	assert.Equal(t, "quotes", s.RecentErrors[0].QueryName)
}

package querylog

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/barryq93/wisdomgraph/internal/db"
	"github.com/barryq93/wisdomgraph/internal/metrics"
	"github.com/barryq93/wisdomgraph/internal/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRunner struct {
	rows  []types.Record
	err   error
	calls int
}

func (s *stubRunner) Run(context.Context, types.Invocation) ([]types.Record, error) {
	s.calls++
	return s.rows, s.err
}

// stepClock returns start, then start+elapsed on the following call.
func stepClock(elapsed time.Duration) func() time.Time {
	start := time.Date(2024, 5, 14, 15, 30, 12, 0, time.Local)
	calls := 0
	return func() time.Time {
		calls++
		if calls%2 == 1 {
			return start
		}
		return start.Add(elapsed)
	}
}

func configureBuffer(t *testing.T, opts types.QueryLogOptions) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	ConfigureOutput(opts, buf)
	t.Cleanup(Reset)
	return buf
}

func logLines(buf *bytes.Buffer) []string {
	out := strings.TrimRight(buf.String(), "\n")
	if out == "" {
		return nil
	}
	return strings.Split(out, "\n")
}

func ptr[T any](v T) *T { return &v }

func TestLoggedFastQueryNotLogged(t *testing.T) {
	buf := configureBuffer(t, types.QueryLogOptions{})
	inner := &stubRunner{rows: []types.Record{types.NewRecord([]string{"ok"}, []any{int64(1)})}}

	l := NewLogged(inner, WithClock(stepClock(20*time.Millisecond)))
	rows, err := l.Run(context.Background(), types.NewInvocation("RETURN 1 AS ok", nil, "ping", false, 0, time.Second))

	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Empty(t, buf.String())
}

func TestLoggedLogAllQueries(t *testing.T) {
	buf := configureBuffer(t, types.QueryLogOptions{LogAllQueries: ptr(true)})
	l := NewLogged(&stubRunner{}, WithClock(stepClock(20*time.Millisecond)))

	_, err := l.Run(context.Background(), types.NewInvocation("RETURN 1 AS ok", nil, "ping", false, 0, time.Second))
	require.NoError(t, err)

	lines := logLines(buf)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "[INFO] Neo4j Query: ping - 20.00ms - RETURN 1 AS ok")
	assert.NotContains(t, lines[0], "(SLOW)")
}

func TestLoggedSlowQueryAtThreshold(t *testing.T) {
	buf := configureBuffer(t, types.QueryLogOptions{})
	l := NewLogged(&stubRunner{}, WithClock(stepClock(100*time.Millisecond)))

	_, err := l.Run(context.Background(), types.NewInvocation("MATCH (t:TOPIC) RETURN t", nil, "topics", false, 0, time.Second))
	require.NoError(t, err)

	lines := logLines(buf)
	require.Len(t, lines, 1)
	assert.True(t, strings.HasPrefix(lines[0], "2024-05-14 15:30:12,100 [WARNING] Neo4j Query: topics (SLOW) - 100.00ms - MATCH (t:TOPIC) RETURN t"))
}

func TestLoggedVerySlowQueryLogsFullText(t *testing.T) {
	buf := configureBuffer(t, types.QueryLogOptions{SlowQueryThresholdMS: ptr(10.0)})
	cypher := "MATCH (t:TOPIC)\nWHERE t.name STARTS WITH $prefix\n" + strings.Repeat("WITH t ", 20) + "\nRETURN t"
	l := NewLogged(&stubRunner{}, WithClock(stepClock(51*time.Millisecond)))

	_, err := l.Run(context.Background(), types.NewInvocation(cypher, map[string]any{"prefix": "wis"}, "topic_prefix", false, 0, time.Second))
	require.NoError(t, err)

	lines := logLines(buf)
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "MATCH (t:TOPIC)...")

	full, ok := ParseLine(lines[1])
	require.True(t, ok)
	assert.True(t, full.FullQuery)
	assert.Equal(t, cypher, full.QueryText)
	assert.Equal(t, "topic_prefix", full.QueryName)
}

func TestLoggedErrorIsLoggedAndReturned(t *testing.T) {
	buf := configureBuffer(t, types.QueryLogOptions{})
	cause := &db.QueryError{Kind: db.KindAuth, Message: "Authentication failed", QueryName: "secure"}
	inner := &stubRunner{err: cause}
	reg := metrics.New()
	l := NewLogged(inner, WithClock(stepClock(time.Millisecond)), WithCollectors(reg))

	_, err := l.Run(context.Background(), types.NewInvocation("RETURN 1", nil, "secure", false, 0, time.Second))
	assert.Same(t, cause, err)
	assert.Equal(t, 1, inner.calls)

	lines := logLines(buf)
	require.Len(t, lines, 1)
	e, ok := ParseLine(lines[0])
	require.True(t, ok)
	assert.Equal(t, "ERROR", e.Level)
	assert.Equal(t, "secure", e.QueryName)
	assert.Equal(t, "auth", e.Context["error_type"])
	assert.Equal(t, false, e.Context["success"])
	assert.True(t, e.HasError())
	assert.Equal(t, float64(1), testutil.ToFloat64(reg.QueryErrors.WithLabelValues("secure", "auth")))
}

func TestLoggedPlainErrorType(t *testing.T) {
	buf := configureBuffer(t, types.QueryLogOptions{})
	l := NewLogged(&stubRunner{err: errors.New("boom")}, WithClock(stepClock(time.Millisecond)))

	_, err := l.Run(context.Background(), types.NewInvocation("RETURN 1", nil, "x", false, 0, time.Second))
	require.Error(t, err)

	e, ok := ParseLine(logLines(buf)[0])
	require.True(t, ok)
	assert.Equal(t, "*errors.errorString", e.Context["error_type"])
	assert.Equal(t, "boom", e.Error)
}

func TestLoggedRoundTrip(t *testing.T) {
	buf := configureBuffer(t, types.QueryLogOptions{IncludeResults: ptr(true)})
	ctx := types.WithRequestInfo(context.Background(), types.RequestInfo{
		Path:      "/api/topics/",
		Method:    "GET",
		RequestID: "req-1",
		UserID:    "42",
	})
	params := map[string]any{"api_key": "abc123", "name": "Stoicism", "Password": "pw"}
	inner := &stubRunner{rows: make([]types.Record, 3)}
	reg := metrics.New()
	l := NewLogged(inner, WithClock(stepClock(123456*time.Microsecond)), WithCollectors(reg))

	_, err := l.Run(ctx, types.NewInvocation("MATCH (t:TOPIC {name: $name}) RETURN t", params, "topic_by_name", false, 0, time.Second))
	require.NoError(t, err)

	out := buf.String()
	assert.NotContains(t, out, "abc123")
	assert.NotContains(t, out, `"pw"`)

	e, ok := ParseLine(logLines(buf)[0])
	require.True(t, ok)
	assert.Equal(t, "topic_by_name", e.QueryName)
	assert.InDelta(t, 123.456, e.ElapsedMS, 1e-9)
	assert.True(t, e.Slow)
	assert.Equal(t, "/api/topics/", e.Path())
	assert.Equal(t, "42", e.Context["user_id"])
	assert.Equal(t, "req-1", e.Context["request_id"])
	assert.Equal(t, float64(3), e.Context["result_count"])

	logged := e.Context["params"].(map[string]any)
	assert.Equal(t, "[REDACTED]", logged["api_key"])
	assert.Equal(t, "[REDACTED]", logged["Password"])
	assert.Equal(t, "Stoicism", logged["name"])

	assert.Equal(t, float64(1), testutil.ToFloat64(reg.SlowQueries.WithLabelValues("topic_by_name")))
}

func TestLoggedRedactsTypedParamContainers(t *testing.T) {
	buf := configureBuffer(t, types.QueryLogOptions{})
	params := map[string]any{
		"rows": []map[string]any{{"name": "a", "password": "hunter2"}},
		"user": map[string]string{"api_token": "tok-123"},
	}
	l := NewLogged(&stubRunner{}, WithClock(stepClock(150*time.Millisecond)))

	_, err := l.Run(context.Background(), types.NewInvocation("UNWIND $rows AS row CREATE (u:USER) SET u = row", params, "bulk_users", true, 0, time.Second))
	require.NoError(t, err)

	out := buf.String()
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "tok-123")

	e, ok := ParseLine(logLines(buf)[0])
	require.True(t, ok)
	logged := e.Context["params"].(map[string]any)
	row := logged["rows"].([]any)[0].(map[string]any)
	assert.Equal(t, "[REDACTED]", row["password"])
	assert.Equal(t, "a", row["name"])
	assert.Equal(t, "[REDACTED]", logged["user"].(map[string]any)["api_token"])
}

func TestLoggedQueryTextWithContextTokenRoundTrips(t *testing.T) {
	buf := configureBuffer(t, types.QueryLogOptions{})
	l := NewLogged(&stubRunner{}, WithClock(stepClock(200*time.Millisecond)))

	_, err := l.Run(context.Background(), types.NewInvocation(`RETURN '{"context": 1}' AS x`, nil, "literal_json", false, 0, time.Second))
	require.NoError(t, err)

	lines := logLines(buf)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `Neo4j Query: literal_json (SLOW) - 200.00ms - RETURN '{'context': 1}' AS x`)

	e, ok := ParseLine(lines[0])
	require.True(t, ok)
	assert.Equal(t, "literal_json", e.QueryName)
	assert.InDelta(t, 200, e.ElapsedMS, 1e-9)
	assert.True(t, e.Slow)

	stats, err := Analyze(strings.NewReader(buf.String()), AnalyzeOptions{})
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, "literal_json", stats[0].Name)
	assert.InDelta(t, 200, stats[0].MaxTimeMS, 1e-9)
}

func TestLoggedExcludesParams(t *testing.T) {
	buf := configureBuffer(t, types.QueryLogOptions{IncludeParams: ptr(false)})
	l := NewLogged(&stubRunner{}, WithClock(stepClock(time.Second)))

	_, err := l.Run(context.Background(), types.NewInvocation("RETURN $x", map[string]any{"x": "visible"}, "p", false, 0, time.Second))
	require.NoError(t, err)

	e, ok := ParseLine(logLines(buf)[0])
	require.True(t, ok)
	_, present := e.Context["params"]
	assert.False(t, present)
	assert.NotContains(t, buf.String(), "visible")
}

func TestShortQuery(t *testing.T) {
	assert.Equal(t, "RETURN 1", shortQuery("RETURN 1"))
	assert.Equal(t, "MATCH (n)...", shortQuery("MATCH (n)\nRETURN n"))
	long := strings.Repeat("x", 100)
	assert.Equal(t, strings.Repeat("x", 80)+"...", shortQuery(long))
}

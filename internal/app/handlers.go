package app

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/barryq93/wisdomgraph/internal/db"
	"github.com/barryq93/wisdomgraph/internal/querylog"
	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
)

type envelope struct {
	Data any `json:"data"`
	Meta any `json:"meta,omitempty"`
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.Errorf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	var body errorBody
	body.Error.Code = code
	body.Error.Message = message
	writeJSON(w, status, body)
}

// writeQueryError maps a failed query to a 5xx with its stable code.
// Only the summary message is returned; cypher and params stay in the logs.
func writeQueryError(w http.ResponseWriter, err error) {
	if qe, ok := db.AsQueryError(err); ok {
		writeError(w, qe.HTTPStatus(), qe.Code(), qe.Message)
		return
	}
	writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal error")
}

func (app *Application) healthHandler(w http.ResponseWriter, r *http.Request) {
	if !db.Health(r.Context(), app.logged) {
		writeError(w, http.StatusServiceUnavailable, "NEO4J_UNAVAILABLE", "Neo4j is unreachable")
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: map[string]string{
		"status": "ok",
		"neo4j":  "connected",
	}})
}

func (app *Application) analyzeOptions(r *http.Request) querylog.AnalyzeOptions {
	q := r.URL.Query()
	opts := querylog.AnalyzeOptions{
		MinTimeMS: querylog.Current().SlowQueryThresholdMS,
		GroupBy:   querylog.GroupByQueryName,
		TopN:      querylog.DefaultTopN,
	}
	if v, err := strconv.ParseFloat(q.Get("min_time"), 64); err == nil && v >= 0 {
		opts.MinTimeMS = v
	}
	switch g := q.Get("group_by"); g {
	case querylog.GroupByQueryName, querylog.GroupByRequestPath, querylog.GroupByUserID:
		opts.GroupBy = g
	}
	if v, err := strconv.Atoi(q.Get("top")); err == nil && v > 0 {
		opts.TopN = v
	}
	return opts
}

func (app *Application) queryStatsHandler(w http.ResponseWriter, r *http.Request) {
	opts := app.analyzeOptions(r)
	stats, err := app.cache.get(app.logFile, opts)
	if err != nil {
		logrus.Errorf("Failed to analyze query log: %v", err)
		writeError(w, http.StatusInternalServerError, "LOG_READ_FAILED", "Failed to read query log")
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: stats, Meta: map[string]any{
		"log_file":    app.logFile,
		"min_time_ms": opts.MinTimeMS,
		"group_by":    opts.GroupBy,
		"top":         opts.TopN,
	}})
}

func entryFilter(r *http.Request) querylog.EntryFilter {
	q := r.URL.Query()
	f := querylog.EntryFilter{
		Level:     q.Get("level"),
		QueryName: q.Get("query_name"),
		Path:      q.Get("path"),
		ErrorOnly: q.Get("error_only") == "1" || q.Get("error_only") == "true",
	}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 {
		f.Limit = v
	}
	return f
}

func (app *Application) queryLogsHandler(w http.ResponseWriter, r *http.Request) {
	filter := entryFilter(r)
	entries, err := querylog.ReadEntriesFile(app.logFile, filter)
	if err != nil {
		logrus.Errorf("Failed to read query log: %v", err)
		writeError(w, http.StatusInternalServerError, "LOG_READ_FAILED", "Failed to read query log")
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: entries, Meta: map[string]any{"count": len(entries)}})
}

func (app *Application) dailyStatsHandler(w http.ResponseWriter, r *http.Request) {
	days := 7
	if v, err := strconv.Atoi(r.URL.Query().Get("days")); err == nil && v > 0 {
		days = v
	}
	now := app.now()
	entries, err := querylog.ReadEntriesFile(app.logFile, querylog.EntryFilter{
		QueryName: r.URL.Query().Get("query_name"),
		Limit:     10000,
		Since:     now.AddDate(0, 0, -days),
	})
	if err != nil {
		logrus.Errorf("Failed to read query log: %v", err)
		writeError(w, http.StatusInternalServerError, "LOG_READ_FAILED", "Failed to read query log")
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: querylog.DailyStats(entries, days, now)})
}

func (app *Application) summaryHandler(w http.ResponseWriter, r *http.Request) {
	entries, err := querylog.ReadEntriesFile(app.logFile, querylog.EntryFilter{})
	if err != nil {
		logrus.Errorf("Failed to read query log: %v", err)
		writeError(w, http.StatusInternalServerError, "LOG_READ_FAILED", "Failed to read query log")
		return
	}
	stats, err := app.cache.get(app.logFile, querylog.AnalyzeOptions{
		MinTimeMS: querylog.Current().SlowQueryThresholdMS,
		GroupBy:   querylog.GroupByQueryName,
		TopN:      querylog.DefaultTopN,
	})
	if err != nil {
		logrus.Errorf("Failed to analyze query log: %v", err)
		stats = nil
	}
	writeJSON(w, http.StatusOK, envelope{Data: map[string]any{
		"query_stats": stats,
		"summary":     querylog.Summarize(entries, 5),
	}})
}

type queryDetail struct {
	QueryName    string             `json:"query_name"`
	Stats        *querylog.Stat     `json:"stats"`
	Entries      []querylog.Entry   `json:"entries"`
	ErrorEntries []querylog.Entry   `json:"error_entries"`
	Solution     *querylog.Solution `json:"solution"`
}

func (app *Application) queryDetailHandler(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	entries, err := querylog.ReadEntriesFile(app.logFile, querylog.EntryFilter{QueryName: name})
	if err != nil {
		logrus.Errorf("Failed to read query log: %v", err)
		writeError(w, http.StatusInternalServerError, "LOG_READ_FAILED", "Failed to read query log")
		return
	}

	detail := queryDetail{QueryName: name, Entries: entries, ErrorEntries: []querylog.Entry{}}
	stats, err := app.cache.get(app.logFile, querylog.AnalyzeOptions{GroupBy: querylog.GroupByQueryName, TopN: 1 << 16})
	if err == nil {
		if st, ok := querylog.FindStat(stats, name); ok {
			detail.Stats = &st
		}
	}
	for _, e := range entries {
		if e.HasError() {
			detail.ErrorEntries = append(detail.ErrorEntries, e)
		}
	}
	if len(detail.ErrorEntries) > 0 {
		detail.Solution = querylog.Remediate(detail.ErrorEntries[0])
	}
	writeJSON(w, http.StatusOK, envelope{Data: detail})
}

func (app *Application) graphLabelsHandler(w http.ResponseWriter, r *http.Request) {
	rows, err := app.runner.Run(r.Context(), app.service.NewInvocation(
		"CALL db.labels() YIELD label RETURN label ORDER BY label", nil, db.Named("graph_labels")))
	if err != nil {
		writeQueryError(w, err)
		return
	}
	labels := make([]string, 0, len(rows))
	for _, row := range rows {
		if v, ok := row.Get("label"); ok {
			if s, ok := v.(string); ok {
				labels = append(labels, s)
			}
		}
	}
	writeJSON(w, http.StatusOK, envelope{Data: labels, Meta: map[string]any{"count": len(labels)}})
}

func (app *Application) deadLettersHandler(w http.ResponseWriter, r *http.Request) {
	letters, err := app.dlq.List()
	if err != nil {
		logrus.Errorf("Failed to list dead letters: %v", err)
		writeError(w, http.StatusInternalServerError, "DLQ_READ_FAILED", "Failed to read dead letter queue")
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: letters, Meta: map[string]any{"count": len(letters)}})
}

func (app *Application) replayHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	result, err := app.ReplayDeadLetters(r.Context())
	if err != nil {
		logrus.Errorf("Dead letter replay failed: %v", err)
		writeError(w, http.StatusInternalServerError, "DLQ_REPLAY_FAILED", "Dead letter replay failed")
		return
	}
	logrus.WithFields(logrus.Fields{
		"replayed":    result.Replayed,
		"skipped":     result.Skipped,
		"failed":      result.Failed,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("Dead letter replay finished")
	writeJSON(w, http.StatusOK, envelope{Data: result})
}

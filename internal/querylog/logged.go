package querylog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/barryq93/wisdomgraph/internal/db"
	"github.com/barryq93/wisdomgraph/internal/metrics"
	"github.com/barryq93/wisdomgraph/internal/types"
	"github.com/barryq93/wisdomgraph/internal/utils"
	"github.com/sirupsen/logrus"
)

const (
	shortQueryLen = 80
	// severe outliers also get their full query text logged
	fullQueryFactor = 5
)

// Logged times every invocation of the wrapped runner and writes it to the
// query log. Errors are logged and returned unchanged.
type Logged struct {
	inner   db.Runner
	metrics *metrics.Collectors
	now     func() time.Time
}

type LoggedOption func(*Logged)

func WithCollectors(c *metrics.Collectors) LoggedOption {
	return func(l *Logged) { l.metrics = c }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) LoggedOption {
	return func(l *Logged) { l.now = now }
}

func NewLogged(inner db.Runner, opts ...LoggedOption) *Logged {
	l := &Logged{inner: inner, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Logged) Run(ctx context.Context, inv types.Invocation) ([]types.Record, error) {
	cfg, logger := current.snapshot()

	start := l.now()
	rows, err := l.inner.Run(ctx, inv)
	end := l.now()
	elapsed := end.Sub(start)
	elapsedMS := float64(elapsed) / float64(time.Millisecond)

	fields := buildContext(ctx, inv, cfg)
	fields["elapsed_ms"] = elapsedMS

	if err != nil {
		kind := errorKind(err)
		fields["success"] = false
		fields["error"] = err.Error()
		fields["error_type"] = kind
		logger.WithTime(end).WithField(ContextField, fields).Errorf("Neo4j Query Error: %s - %.2fms - %s", inv.Name, elapsedMS, firstLine(err.Error()))
		if l.metrics != nil {
			l.metrics.QueryLatency.WithLabelValues(inv.Name, "error").Observe(elapsed.Seconds())
			l.metrics.QueryErrors.WithLabelValues(inv.Name, kind).Inc()
		}
		return rows, err
	}

	slow := elapsedMS >= cfg.SlowQueryThresholdMS
	fields["success"] = true
	fields["slow"] = slow
	if cfg.IncludeResults {
		fields["result_count"] = len(rows)
	}
	if l.metrics != nil {
		l.metrics.QueryLatency.WithLabelValues(inv.Name, "success").Observe(elapsed.Seconds())
		if slow {
			l.metrics.SlowQueries.WithLabelValues(inv.Name).Inc()
		}
	}

	if !slow && !cfg.LogAllQueries {
		return rows, nil
	}

	entry := logger.WithTime(end).WithField(ContextField, fields)
	if slow {
		entry.Warnf("Neo4j Query: %s (SLOW) - %.2fms - %s", inv.Name, elapsedMS, shortQuery(inv.Cypher))
	} else {
		entry.Infof("Neo4j Query: %s - %.2fms - %s", inv.Name, elapsedMS, shortQuery(inv.Cypher))
	}

	if elapsedMS > cfg.SlowQueryThresholdMS*fullQueryFactor {
		logger.WithTime(end).WithField(ContextField, map[string]any{
			"query_name": inv.Name,
			"elapsed_ms": elapsedMS,
			"query":      inv.Cypher,
			"full_query": true,
		}).Warnf("Full slow query: %s - %.2fms", inv.Name, elapsedMS)
	}
	return rows, nil
}

func buildContext(ctx context.Context, inv types.Invocation, cfg Config) logrus.Fields {
	fields := logrus.Fields{
		"query_name":      inv.Name,
		"write_operation": inv.Write,
	}
	if cfg.IncludeParams {
		fields["params"] = utils.RedactParams(inv.Params, cfg.RedactFields)
	}
	if info, ok := types.RequestInfoFromContext(ctx); ok {
		fields["request_path"] = info.Path
		fields["request_method"] = info.Method
		fields["request_id"] = info.RequestID
		if info.UserID != "" {
			fields["user_id"] = info.UserID
		} else {
			fields["user_id"] = nil
		}
	}
	return fields
}

func errorKind(err error) string {
	if qe, ok := db.AsQueryError(err); ok {
		return string(qe.Kind)
	}
	return fmt.Sprintf("%T", err)
}

func shortQuery(cypher string) string {
	line := firstLine(strings.TrimSpace(cypher))
	short := utils.Truncate(line, shortQueryLen)
	if short == line && len(line) < len(strings.TrimSpace(cypher)) {
		short += "..."
	}
	return short
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

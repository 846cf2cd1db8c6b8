package querylog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Line grammar:
//
//	line    = timestamp " [" LEVEL "] " message " " block
//	block   = "{" `"context":` json-object "}"
//
// Everything after the first `"context":` is the context object. A line
// without a context block is malformed.
var (
	lineRe      = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2},\d{3}) \[(\w+)\] (.*)$`)
	queryNameRe = regexp.MustCompile(`Neo4j Query(?: Error)?: (\S+)`)
	durationRe  = regexp.MustCompile(`([\d.]+)ms`)
)

const contextToken = `"context":`

// maxLineBytes bounds a single log line; longer lines are skipped.
const maxLineBytes = 1 << 20

// Entry is one parsed query log line.
type Entry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	QueryName string         `json:"query_name"`
	ElapsedMS float64        `json:"elapsed_ms"`
	Slow      bool           `json:"slow"`
	QueryText string         `json:"query_text,omitempty"`
	Error     string         `json:"error,omitempty"`
	FullQuery bool           `json:"full_query,omitempty"`
	Context   map[string]any `json:"context"`
}

func (e Entry) HasError() bool {
	return e.Level == "ERROR" || e.Error != ""
}

// Path is the request path the query ran under, if any.
func (e Entry) Path() string {
	s, _ := e.Context["request_path"].(string)
	return s
}

// ParseLine parses one query log line. It reports false for any line that
// does not follow the grammar, including a context block that is not valid JSON.
func ParseLine(line string) (Entry, bool) {
	line = strings.TrimRight(line, "\r\n")
	m := lineRe.FindStringSubmatch(line)
	if m == nil {
		return Entry{}, false
	}
	ts, err := time.ParseInLocation(TimestampFormat, m[1], time.Local)
	if err != nil {
		return Entry{}, false
	}
	rest := m[3]
	idx := strings.Index(rest, contextToken)
	if idx < 0 {
		return Entry{}, false
	}

	var ctx map[string]any
	dec := json.NewDecoder(strings.NewReader(rest[idx+len(contextToken):]))
	if err := dec.Decode(&ctx); err != nil || ctx == nil {
		return Entry{}, false
	}

	msg := strings.TrimSpace(rest[:idx])
	msg = strings.TrimSpace(strings.TrimSuffix(msg, "{"))

	e := Entry{
		Timestamp: ts,
		Level:     m[2],
		Message:   msg,
		Context:   ctx,
		Slow:      strings.Contains(msg, "(SLOW)"),
	}

	if name, ok := ctx["query_name"].(string); ok && name != "" {
		e.QueryName = name
	} else if nm := queryNameRe.FindStringSubmatch(msg); nm != nil {
		e.QueryName = nm[1]
	} else {
		e.QueryName = "unnamed"
	}

	if v, ok := number(ctx["elapsed_ms"]); ok {
		e.ElapsedMS = v
	} else if dm := durationRe.FindStringSubmatch(msg); dm != nil {
		e.ElapsedMS, _ = strconv.ParseFloat(dm[1], 64)
	}

	if slow, ok := ctx["slow"].(bool); ok {
		e.Slow = slow
	}
	if full, ok := ctx["full_query"].(bool); ok && full {
		e.FullQuery = true
		e.QueryText, _ = ctx["query"].(string)
	}
	if s, ok := ctx["error"].(string); ok {
		e.Error = s
	} else if e.Level == "ERROR" {
		e.Error = msg
	}
	return e, true
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// scanLines calls fn for every line of r. Lines longer than maxLineBytes are
// dropped. Returning false from fn stops the scan.
func scanLines(r io.Reader, fn func(line string) bool) error {
	br := bufio.NewReaderSize(r, 64*1024)
	var (
		buf      []byte
		overlong bool
	)
	for {
		chunk, isPrefix, err := br.ReadLine()
		if len(chunk) > 0 && !overlong {
			if len(buf)+len(chunk) > maxLineBytes {
				overlong, buf = true, buf[:0]
			} else {
				buf = append(buf, chunk...)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				if len(buf) > 0 && !overlong {
					fn(string(buf))
				}
				return nil
			}
			return fmt.Errorf("reading query log: %w", err)
		}
		if isPrefix {
			continue
		}
		if !overlong {
			if !fn(string(buf)) {
				return nil
			}
		}
		buf, overlong = buf[:0], false
	}
}

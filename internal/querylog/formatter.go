package querylog

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/sirupsen/logrus"
)

// TimestampFormat is the timestamp layout of every query log line.
const TimestampFormat = "2006-01-02 15:04:05,000"

// ContextField is the logrus field rendered as the trailing context block.
const ContextField = "context"

// LineFormatter renders entries as
//
//	<timestamp> [<LEVEL>] <message> {"context": {...}}
//
// Double quotes in the message are written as single quotes so that text
// copied from a query can never be mistaken for the context block. Newlines
// in the message are kept; the context block is always single-line JSON.
type LineFormatter struct{}

func (f *LineFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b *bytes.Buffer
	if entry.Buffer != nil {
		b = entry.Buffer
	} else {
		b = &bytes.Buffer{}
	}

	b.WriteString(entry.Time.Format(TimestampFormat))
	b.WriteString(" [")
	b.WriteString(levelName(entry.Level))
	b.WriteString("] ")
	b.WriteString(strings.ReplaceAll(entry.Message, `"`, "'"))

	if ctx, ok := entry.Data[ContextField]; ok && ctx != nil {
		data, err := json.Marshal(map[string]any{ContextField: ctx})
		if err != nil {
			return nil, err
		}
		b.WriteByte(' ')
		b.Write(data)
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}

func levelName(l logrus.Level) string {
	if l == logrus.WarnLevel {
		return "WARNING"
	}
	return strings.ToUpper(l.String())
}

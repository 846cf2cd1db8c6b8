package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/barryq93/wisdomgraph/internal/db"
	"github.com/barryq93/wisdomgraph/internal/types"
	"github.com/barryq93/wisdomgraph/internal/utils"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// DeadLetter is a write invocation that failed on a transient error and was
// not retried. Params are stored encrypted when a key is configured and
// redacted otherwise.
type DeadLetter struct {
	ID              string         `json:"id"`
	QueryName       string         `json:"query_name"`
	Cypher          string         `json:"cypher"`
	Params          map[string]any `json:"params,omitempty"`
	EncryptedParams string         `json:"encrypted_params,omitempty"`
	Error           string         `json:"error"`
	ErrorKind       string         `json:"error_kind"`
	RequestID       string         `json:"request_id,omitempty"`
	FailedAt        time.Time      `json:"failed_at"`
}

// ReplayResult counts the outcome of one replay pass.
type ReplayResult struct {
	Replayed int      `json:"replayed"`
	Skipped  int      `json:"skipped"`
	Failed   int      `json:"failed"`
	Errors   []string `json:"errors,omitempty"`
}

type DeadLetterQueue struct {
	path         string
	key          string
	redactFields []string
	length       prometheus.Gauge
	mu           sync.Mutex
}

func NewDeadLetterQueue(path, encryptionKey string, redactFields []string, length prometheus.Gauge) *DeadLetterQueue {
	dlq := &DeadLetterQueue{
		path:         filepath.Join(path, "dead_letter"),
		key:          encryptionKey,
		redactFields: redactFields,
		length:       length,
	}
	if err := os.MkdirAll(dlq.path, 0755); err != nil {
		logrus.Errorf("Failed to create DLQ directory: %v", err)
	}
	dlq.updateLength()
	return dlq
}

func (dlq *DeadLetterQueue) Path() string {
	return dlq.path
}

// Add persists a failed write invocation.
func (dlq *DeadLetterQueue) Add(ctx context.Context, inv types.Invocation, cause error) (DeadLetter, error) {
	letter := DeadLetter{
		ID:        uuid.NewString(),
		QueryName: inv.Name,
		Cypher:    inv.Cypher,
		Error:     cause.Error(),
		FailedAt:  time.Now().UTC(),
	}
	if qe, ok := db.AsQueryError(cause); ok {
		letter.ErrorKind = string(qe.Kind)
	}
	if info, ok := types.RequestInfoFromContext(ctx); ok {
		letter.RequestID = info.RequestID
	}

	if dlq.key != "" && len(inv.Params) > 0 {
		raw, err := json.Marshal(inv.Params)
		if err != nil {
			return letter, fmt.Errorf("marshaling params: %w", err)
		}
		enc, err := utils.Encrypt(dlq.key, string(raw))
		if err != nil {
			return letter, fmt.Errorf("encrypting params: %w", err)
		}
		letter.EncryptedParams = enc
	} else {
		letter.Params = utils.RedactParams(inv.Params, dlq.redactFields)
	}

	dlq.mu.Lock()
	defer dlq.mu.Unlock()

	data, err := json.Marshal(letter)
	if err != nil {
		return letter, fmt.Errorf("marshaling dead letter: %w", err)
	}
	filename := filepath.Join(dlq.path, fmt.Sprintf("%d_%s.json", letter.FailedAt.UnixNano(), letter.ID))
	if err := os.WriteFile(filename, data, 0600); err != nil {
		return letter, fmt.Errorf("writing dead letter: %w", err)
	}
	dlq.updateLengthLocked()
	return letter, nil
}

// List returns the queued letters, oldest first. Params stay encrypted.
func (dlq *DeadLetterQueue) List() ([]DeadLetter, error) {
	dlq.mu.Lock()
	defer dlq.mu.Unlock()
	files, err := dlq.files()
	if err != nil {
		return nil, err
	}
	letters := make([]DeadLetter, 0, len(files))
	for _, f := range files {
		letter, err := readLetter(f)
		if err != nil {
			logrus.Errorf("Failed to read DLQ file %s: %v", filepath.Base(f), err)
			continue
		}
		letters = append(letters, letter)
	}
	return letters, nil
}

// Replay runs every queued letter once through r as a write with no retries.
// Letters that succeed are removed. Letters whose params were redacted cannot
// be replayed faithfully and are skipped.
func (dlq *DeadLetterQueue) Replay(ctx context.Context, r db.Runner) (ReplayResult, error) {
	dlq.mu.Lock()
	defer dlq.mu.Unlock()

	var result ReplayResult
	files, err := dlq.files()
	if err != nil {
		return result, err
	}

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		letter, err := readLetter(f)
		if err != nil {
			logrus.Errorf("Failed to read DLQ file %s: %v", filepath.Base(f), err)
			result.Failed++
			continue
		}
		params, err := dlq.params(letter)
		if err != nil {
			logrus.WithField("dead_letter_id", letter.ID).Warnf("Skipping dead letter: %v", err)
			result.Skipped++
			continue
		}

		inv := types.NewInvocation(letter.Cypher, params, letter.QueryName, true, 0, db.DefaultBackoffBase)
		if _, err := r.Run(ctx, inv); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", letter.ID, firstLine(err.Error())))
			continue
		}
		if err := os.Remove(f); err != nil {
			logrus.Errorf("Failed to remove DLQ file %s: %v", filepath.Base(f), err)
		}
		result.Replayed++
	}
	dlq.updateLengthLocked()
	return result, nil
}

func (dlq *DeadLetterQueue) params(letter DeadLetter) (map[string]any, error) {
	if letter.EncryptedParams != "" {
		if dlq.key == "" {
			return nil, fmt.Errorf("params are encrypted and no encryption key is configured")
		}
		plain, err := utils.Decrypt([]byte(dlq.key), letter.EncryptedParams)
		if err != nil {
			return nil, fmt.Errorf("decrypting params: %w", err)
		}
		return decodeParams([]byte(plain))
	}
	if containsRedacted(letter.Params) {
		return nil, fmt.Errorf("params were redacted when the letter was stored")
	}
	return letter.Params, nil
}

func (dlq *DeadLetterQueue) files() ([]string, error) {
	entries, err := os.ReadDir(dlq.path)
	if err != nil {
		return nil, fmt.Errorf("reading DLQ directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		files = append(files, filepath.Join(dlq.path, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

func (dlq *DeadLetterQueue) updateLength() {
	dlq.mu.Lock()
	defer dlq.mu.Unlock()
	dlq.updateLengthLocked()
}

func (dlq *DeadLetterQueue) updateLengthLocked() {
	if dlq.length == nil {
		return
	}
	files, err := dlq.files()
	if err != nil {
		return
	}
	dlq.length.Set(float64(len(files)))
}

func readLetter(path string) (DeadLetter, error) {
	var letter DeadLetter
	data, err := os.ReadFile(path)
	if err != nil {
		return letter, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&letter); err != nil {
		return letter, err
	}
	letter.Params, _ = normalizeNumbers(letter.Params).(map[string]any)
	return letter, nil
}

// decodeParams keeps integers as int64 so Cypher sees the types the caller passed.
func decodeParams(data []byte) (map[string]any, error) {
	var params map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&params); err != nil {
		return nil, fmt.Errorf("decoding params: %w", err)
	}
	out, _ := normalizeNumbers(params).(map[string]any)
	return out, nil
}

func normalizeNumbers(v any) any {
	switch val := v.(type) {
	case map[string]any:
		if val == nil {
			return val
		}
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeNumbers(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeNumbers(item)
		}
		return out
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		f, _ := val.Float64()
		return f
	default:
		return v
	}
}

func containsRedacted(v any) bool {
	switch val := v.(type) {
	case map[string]any:
		for _, item := range val {
			if containsRedacted(item) {
				return true
			}
		}
	case []any:
		for _, item := range val {
			if containsRedacted(item) {
				return true
			}
		}
	case string:
		return val == utils.RedactedValue
	}
	return false
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// deadLetterRunner queues write invocations that failed on a transient error.
type deadLetterRunner struct {
	inner db.Runner
	dlq   *DeadLetterQueue
}

func (r *deadLetterRunner) Run(ctx context.Context, inv types.Invocation) ([]types.Record, error) {
	rows, err := r.inner.Run(ctx, inv)
	if err == nil || !inv.Write {
		return rows, err
	}
	if qe, ok := db.AsQueryError(err); ok && qe.Kind == db.KindWriteFailed {
		letter, dlqErr := r.dlq.Add(ctx, inv, err)
		if dlqErr != nil {
			logrus.Errorf("Failed to queue failed write %s: %v", inv.Name, dlqErr)
		} else {
			logrus.WithFields(logrus.Fields{
				"query_name":     inv.Name,
				"dead_letter_id": letter.ID,
			}).Warn("Write failed, sent to dead letter queue")
		}
	}
	return rows, err
}

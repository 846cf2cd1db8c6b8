package db

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/barryq93/wisdomgraph/internal/metrics"
	"github.com/barryq93/wisdomgraph/internal/types"
	"github.com/barryq93/wisdomgraph/internal/utils"
	"github.com/gojek/heimdall/v7"
	"github.com/sirupsen/logrus"
)

const (
	DefaultMaxRetries     = 3
	DefaultBackoffBase    = 500 * time.Millisecond
	DefaultAttemptTimeout = 30 * time.Second
	healthTimeout         = 5 * time.Second
)

// Runner executes one invocation and returns its rows.
type Runner interface {
	Run(ctx context.Context, inv types.Invocation) ([]types.Record, error)
}

// SleepFunc waits d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

type handle struct {
	graph Graph
}

// Service owns the connection handle and applies the retry policy to every invocation.
type Service struct {
	conn              types.GraphConnection
	factory           GraphFactory
	log               logrus.FieldLogger
	metrics           *metrics.Collectors
	redactFields      []string
	sleep             SleepFunc
	defaultRetries    int
	defaultBackoff    time.Duration
	attemptTimeout    time.Duration
	maxInvocationTime time.Duration

	mu     sync.Mutex
	handle atomic.Pointer[handle]
	closed atomic.Bool
}

type Option func(*Service)

func WithGraphFactory(f GraphFactory) Option {
	return func(s *Service) { s.factory = f }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Service) { s.log = l }
}

func WithMetrics(c *metrics.Collectors) Option {
	return func(s *Service) { s.metrics = c }
}

func WithRedactFields(fields []string) Option {
	return func(s *Service) { s.redactFields = fields }
}

func WithSleep(f SleepFunc) Option {
	return func(s *Service) { s.sleep = f }
}

// NewService validates conn and returns a service whose driver is created on first use.
func NewService(conn types.GraphConnection, opts ...Option) (*Service, error) {
	if conn.URI == "" || conn.Username == "" {
		return nil, ErrMissingConfig
	}
	if conn.MaxRetries < 0 {
		conn.MaxRetries = 0
	}

	s := &Service{
		conn:           conn,
		factory:        NewDBClient,
		log:            logrus.StandardLogger(),
		redactFields:   utils.DefaultRedactFields,
		sleep:          sleepContext,
		defaultRetries: conn.MaxRetries,
		defaultBackoff: DefaultBackoffBase,
		attemptTimeout: DefaultAttemptTimeout,
	}
	if conn.BackoffBaseMS > 0 {
		s.defaultBackoff = time.Duration(conn.BackoffBaseMS) * time.Millisecond
	}
	if conn.AttemptTimeout > 0 {
		s.attemptTimeout = time.Duration(conn.AttemptTimeout) * time.Second
	}
	if conn.MaxInvocationTime > 0 {
		s.maxInvocationTime = time.Duration(conn.MaxInvocationTime) * time.Second
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// QueryOption adjusts an invocation built by NewInvocation.
type QueryOption func(*types.Invocation)

func Named(name string) QueryOption {
	return func(inv *types.Invocation) { inv.Name = name }
}

func AsWrite() QueryOption {
	return func(inv *types.Invocation) { inv.Write = true }
}

func WithMaxRetries(n int) QueryOption {
	return func(inv *types.Invocation) { inv.MaxRetries = n }
}

func WithBackoff(d time.Duration) QueryOption {
	return func(inv *types.Invocation) { inv.BackoffBase = d }
}

// NewInvocation builds an invocation using the service's retry defaults.
func (s *Service) NewInvocation(cypher string, params map[string]any, opts ...QueryOption) types.Invocation {
	inv := types.NewInvocation(cypher, params, "", false, s.defaultRetries, s.defaultBackoff)
	for _, opt := range opts {
		opt(&inv)
	}
	return inv
}

// Query is a shorthand for Run(ctx, s.NewInvocation(...)).
func (s *Service) Query(ctx context.Context, cypher string, params map[string]any, opts ...QueryOption) ([]types.Record, error) {
	return s.Run(ctx, s.NewInvocation(cypher, params, opts...))
}

// Run executes inv, retrying transient failures of read-only invocations with
// exponential backoff. Writes, authentication failures, syntax errors and
// unrecognised errors are never retried.
func (s *Service) Run(ctx context.Context, inv types.Invocation) ([]types.Record, error) {
	if err := validate(inv); err != nil {
		return nil, s.fail(KindInvalid, "Invalid invocation", inv, err, 0)
	}

	g, err := s.acquire()
	if err != nil {
		if errors.Is(err, ErrClosed) {
			return nil, s.fail(KindClosed, "Graph service closed", inv, err, 0)
		}
		return nil, s.fail(KindConfig, "Connection configuration error", inv, err, 0)
	}

	if s.maxInvocationTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.maxInvocationTime)
		defer cancel()
	}

	backoff := backoffSchedule(inv.BackoffBase)
	logger := s.log.WithField("query_name", inv.Name)
	retries := 0

	for {
		rows, err := s.attempt(ctx, g, inv)
		if err == nil {
			return rows, nil
		}
		attempts := retries + 1

		if ctx.Err() != nil {
			return nil, s.fail(KindCanceled, "Invocation cancelled", inv, err, attempts)
		}
		// Close tore the driver down under this attempt.
		if s.closed.Load() {
			return nil, s.fail(KindClosed, "Graph service closed", inv, fmt.Errorf("%w: %w", ErrClosed, err), attempts)
		}

		switch classify(err) {
		case classAuth:
			return nil, s.fail(KindAuth, "Authentication failed", inv, err, attempts)
		case classSyntax:
			qe := s.fail(KindSyntax, "Syntax error", inv, err, attempts)
			qe.Guidance = SyntaxGuidance(err.Error())
			return nil, qe
		case classTransient:
			if inv.Write {
				return nil, s.fail(KindWriteFailed, "Write operation failed", inv, err, attempts)
			}
			retries++
			if retries > inv.MaxRetries {
				return nil, s.fail(KindRetriesExhausted, "Max retries exceeded", inv, err, attempts)
			}
			delay := backoff.NextInterval(retries - 1)
			logger.WithFields(logrus.Fields{
				"attempt": retries,
				"delay":   delay.String(),
			}).Warnf("Transient Neo4j error, retrying: %v", err)
			if s.metrics != nil {
				s.metrics.RetryAttempts.WithLabelValues(inv.Name).Inc()
			}
			if serr := s.sleep(ctx, delay); serr != nil {
				return nil, s.fail(KindCanceled, "Invocation cancelled", inv, err, attempts)
			}
		default:
			return nil, s.fail(KindUnexpected, "Unexpected error", inv, err, attempts)
		}
	}
}

func (s *Service) attempt(ctx context.Context, g Graph, inv types.Invocation) ([]types.Record, error) {
	actx, cancel := context.WithTimeout(ctx, s.attemptTimeout)
	defer cancel()
	return g.Run(actx, s.conn.Database, inv.Cypher, inv.Params, inv.Write)
}

func (s *Service) fail(kind ErrorKind, msg string, inv types.Invocation, cause error, attempts int) *QueryError {
	qe := NewQueryError(kind, msg, inv, cause, s.redactFields)
	qe.Attempts = attempts
	return qe
}

// acquire returns the shared graph handle, building it once.
func (s *Service) acquire() (Graph, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if h := s.handle.Load(); h != nil {
		return h.graph, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if h := s.handle.Load(); h != nil {
		return h.graph, nil
	}
	g, err := s.factory(s.conn)
	if err != nil {
		return nil, err
	}
	s.handle.Store(&handle{graph: g})
	s.log.WithField("uri", s.conn.URI).Info("Neo4j driver initialized")
	return g, nil
}

// Health runs a trivial query through the service.
func (s *Service) Health(ctx context.Context) bool {
	return Health(ctx, s)
}

// Close shuts the driver down. Later invocations fail with KindClosed.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Swap(true) {
		return nil
	}
	h := s.handle.Swap(nil)
	if h == nil {
		return nil
	}
	return h.graph.Close(ctx)
}

// Health reports whether r can run "RETURN 1 AS ok". It never panics or returns an error.
func Health(ctx context.Context, r Runner) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			logrus.Errorf("Health check recovered from panic: %v", rec)
			ok = false
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	inv := types.NewInvocation("RETURN 1 AS ok", nil, "health_check", false, 0, DefaultBackoffBase)
	rows, err := r.Run(ctx, inv)
	if err != nil {
		logrus.WithError(err).Debug("Neo4j health check failed")
		return false
	}
	if len(rows) == 0 {
		return false
	}
	v, _ := rows[0].Get("ok")
	switch n := v.(type) {
	case int64:
		return n == 1
	case int:
		return n == 1
	case float64:
		return n == 1
	}
	return false
}

func validate(inv types.Invocation) error {
	switch {
	case inv.Cypher == "":
		return errors.New("cypher must not be empty")
	case inv.MaxRetries < 0:
		return errors.New("max retries must be >= 0")
	case inv.BackoffBase <= 0:
		return errors.New("backoff base must be > 0")
	}
	return nil
}

// backoffSchedule yields base × 2^retry for retry = 0, 1, 2, ...
func backoffSchedule(base time.Duration) heimdall.Retriable {
	return heimdall.NewRetrierFunc(func(retry int) time.Duration {
		return base * time.Duration(int64(1)<<uint(retry))
	})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

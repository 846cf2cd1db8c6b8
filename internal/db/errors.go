package db

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/barryq93/wisdomgraph/internal/types"
	"github.com/barryq93/wisdomgraph/internal/utils"
)

// ErrorKind classifies how an invocation failed.
type ErrorKind string

const (
	KindInvalid          ErrorKind = "invalid_invocation"
	KindConfig           ErrorKind = "config"
	KindClosed           ErrorKind = "closed"
	KindAuth             ErrorKind = "auth"
	KindSyntax           ErrorKind = "syntax"
	KindWriteFailed      ErrorKind = "write_failed"
	KindRetriesExhausted ErrorKind = "retries_exhausted"
	KindUnexpected       ErrorKind = "unexpected"
	KindCanceled         ErrorKind = "canceled"
)

const maxCypherInError = 1000

var (
	ErrClosed        = errors.New("graph service is closed")
	ErrMissingConfig = errors.New("neo4j uri and username are required")
)

// QueryError is the diagnostic error returned for every failed invocation.
// Params are redacted when the error is built.
type QueryError struct {
	Kind      ErrorKind
	Message   string
	QueryName string
	Cypher    string
	Params    map[string]any
	Guidance  string
	Attempts  int
	Err       error
}

func NewQueryError(kind ErrorKind, message string, inv types.Invocation, cause error, redactFields []string) *QueryError {
	return &QueryError{
		Kind:      kind,
		Message:   message,
		QueryName: inv.Name,
		Cypher:    utils.Truncate(inv.Cypher, maxCypherInError),
		Params:    utils.RedactParams(inv.Params, redactFields),
		Err:       cause,
	}
}

func (e *QueryError) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if e.QueryName != "" {
		fmt.Fprintf(&b, " [query: %s]", e.QueryName)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if e.Cypher != "" {
		fmt.Fprintf(&b, "\nCypher: %s", e.Cypher)
	}
	if len(e.Params) > 0 {
		fmt.Fprintf(&b, "\nParams: %s", formatParams(e.Params))
	}
	if e.Guidance != "" {
		fmt.Fprintf(&b, "\n%s", e.Guidance)
	}
	return b.String()
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// Code is the stable machine-readable code reported to HTTP clients.
func (e *QueryError) Code() string {
	switch e.Kind {
	case KindAuth:
		return "NEO4J_AUTH_FAILED"
	case KindSyntax:
		return "NEO4J_SYNTAX_ERROR"
	case KindWriteFailed:
		return "NEO4J_WRITE_FAILED"
	case KindRetriesExhausted:
		return "NEO4J_RETRIES_EXHAUSTED"
	case KindInvalid:
		return "NEO4J_INVALID_QUERY"
	case KindConfig:
		return "NEO4J_CONFIG_ERROR"
	case KindClosed:
		return "NEO4J_CLOSED"
	case KindCanceled:
		return "NEO4J_TIMEOUT"
	default:
		return "NEO4J_UNEXPECTED_ERROR"
	}
}

func (e *QueryError) HTTPStatus() int {
	switch e.Kind {
	case KindRetriesExhausted, KindWriteFailed, KindClosed, KindCanceled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// AsQueryError unwraps err to a *QueryError.
func AsQueryError(err error) (*QueryError, bool) {
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe, true
	}
	return nil, false
}

func formatParams(params map[string]any) string {
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Sprintf("%v", params)
	}
	return string(data)
}

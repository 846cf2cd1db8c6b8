package db

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

type errorClass int

const (
	classUnexpected errorClass = iota
	classTransient
	classAuth
	classSyntax
)

func (c errorClass) String() string {
	switch c {
	case classTransient:
		return "transient"
	case classAuth:
		return "auth"
	case classSyntax:
		return "syntax"
	default:
		return "unexpected"
	}
}

// Codes the driver reports when a routing table or leader is stale; the session has
// effectively expired and a fresh one can succeed.
var sessionExpiredCodes = map[string]bool{
	"Neo.ClientError.Cluster.NotALeader":                  true,
	"Neo.ClientError.General.ForbiddenOnReadOnlyDatabase": true,
}

// classify maps a raw driver error onto the retry policy's classes.
// Anything not recognised is unexpected and never retried.
func classify(err error) errorClass {
	if err == nil {
		return classUnexpected
	}

	var neoErr *neo4j.Neo4jError
	if errors.As(err, &neoErr) {
		code := neoErr.Code
		switch {
		case strings.HasPrefix(code, "Neo.ClientError.Security."):
			return classAuth
		case code == "Neo.ClientError.Statement.SyntaxError":
			return classSyntax
		case strings.HasPrefix(code, "Neo.TransientError."):
			return classTransient
		case sessionExpiredCodes[code]:
			return classTransient
		}
		return classUnexpected
	}

	if neo4j.IsConnectivityError(err) {
		return classTransient
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return classTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return classTransient
	}
	return classUnexpected
}

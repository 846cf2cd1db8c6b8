package types

import "time"

// GraphConnection represents the Neo4j connection configuration.
type GraphConnection struct {
	URI                   string `yaml:"uri"`
	Username              string `yaml:"username"`
	Password              string `yaml:"password"`
	Database              string `yaml:"database"`
	MaxConnectionPoolSize int    `yaml:"max_connection_pool_size,omitempty"`
	AcquisitionTimeout    int    `yaml:"acquisition_timeout,omitempty"`
	AttemptTimeout        int    `yaml:"attempt_timeout,omitempty"`
	MaxInvocationTime     int    `yaml:"max_invocation_time,omitempty"`
	MaxRetries            int    `yaml:"max_retries"`
	BackoffBaseMS         int    `yaml:"backoff_base_ms,omitempty"`
}

// QueryLogOptions overrides the query logger defaults. Nil fields keep the default.
type QueryLogOptions struct {
	SlowQueryThresholdMS *float64 `yaml:"slow_query_threshold_ms,omitempty"`
	LogAllQueries        *bool    `yaml:"log_all_queries,omitempty"`
	LogToFile            *bool    `yaml:"log_to_file,omitempty"`
	LogFile              *string  `yaml:"log_file,omitempty"`
	IncludeParams        *bool    `yaml:"include_params,omitempty"`
	IncludeResults       *bool    `yaml:"include_results,omitempty"`
	RedactFields         []string `yaml:"redact_fields,omitempty"`
}

// Invocation is one request to run a Cypher query. Treat it as immutable once built.
type Invocation struct {
	Cypher      string
	Params      map[string]any
	Name        string
	Write       bool
	MaxRetries  int
	BackoffBase time.Duration
}

// NewInvocation copies params so later changes by the caller are not observed.
func NewInvocation(cypher string, params map[string]any, name string, write bool, maxRetries int, backoff time.Duration) Invocation {
	var copied map[string]any
	if params != nil {
		copied = make(map[string]any, len(params))
		for k, v := range params {
			copied[k] = v
		}
	}
	if name == "" {
		name = "unnamed"
	}
	return Invocation{
		Cypher:      cypher,
		Params:      copied,
		Name:        name,
		Write:       write,
		MaxRetries:  maxRetries,
		BackoffBase: backoff,
	}
}

package db

import (
	"context"
	"fmt"
	"time"

	"github.com/barryq93/wisdomgraph/internal/types"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Graph is the part of the graph driver the service depends on.
// Every Run opens and closes its own session.
type Graph interface {
	Run(ctx context.Context, database, cypher string, params map[string]any, write bool) ([]types.Record, error)
	Close(ctx context.Context) error
}

// GraphFactory builds the Graph behind the connection handle.
type GraphFactory func(conn types.GraphConnection) (Graph, error)

// DBClient is the Neo4j implementation of Graph.
type DBClient struct {
	driver neo4j.DriverWithContext
}

func NewDBClient(conn types.GraphConnection) (Graph, error) {
	auth := neo4j.BasicAuth(conn.Username, conn.Password, "")
	driver, err := neo4j.NewDriverWithContext(conn.URI, auth, func(c *neo4j.Config) {
		if conn.MaxConnectionPoolSize > 0 {
			c.MaxConnectionPoolSize = conn.MaxConnectionPoolSize
		}
		if conn.AcquisitionTimeout > 0 {
			c.ConnectionAcquisitionTimeout = time.Duration(conn.AcquisitionTimeout) * time.Second
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}
	return &DBClient{driver: driver}, nil
}

// Run executes cypher as an auto-commit query so the driver does not retry on its own.
func (c *DBClient) Run(ctx context.Context, database, cypher string, params map[string]any, write bool) ([]types.Record, error) {
	mode := neo4j.AccessModeRead
	if write {
		mode = neo4j.AccessModeWrite
	}
	session := c.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: database,
		AccessMode:   mode,
	})
	defer session.Close(ctx)

	result, err := session.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	records, err := result.Collect(ctx)
	if err != nil {
		return nil, err
	}

	rows := make([]types.Record, 0, len(records))
	for _, rec := range records {
		rows = append(rows, types.NewRecord(rec.Keys, rec.Values))
	}
	return rows, nil
}

func (c *DBClient) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

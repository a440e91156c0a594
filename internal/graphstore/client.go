// Package graphstore mirrors analysis results into a graph database for
// downstream link analysis. Export is write-only and optional; the engine
// never reads the graph back.
package graphstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/opensource-finance/shrike/internal/domain"
)

// Client is the minimal contract the exporter needs from a graph database.
type Client interface {
	ExecuteWrite(ctx context.Context, cypher string, params map[string]any) (Result, error)
	ExecuteRead(ctx context.Context, cypher string, params map[string]any) (Result, error)
	VerifyConnectivity(ctx context.Context) error
	Close(ctx context.Context) error
}

// Result is a simplified representation of a query response.
type Result struct {
	Records []Record
}

// Record groups key-value pairs returned from the graph engine.
type Record map[string]any

// Options configures a graph client implementation.
type Options struct {
	URI            string
	Database       string
	Username       string
	Password       string
	MaxConnections int
}

// ErrMissingURI indicates the graph URI is not provided.
var ErrMissingURI = errors.New("graph URI is required")

// New creates a graph client based on configuration. Callers construct one
// only when cfg.Type is a real backend; "none" never reaches here.
func New(ctx context.Context, cfg domain.GraphstoreConfig) (Client, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryClient(), nil

	case "neo4j":
		return NewNeo4jClient(ctx, Options{
			URI:            cfg.URI,
			Database:       cfg.Database,
			Username:       cfg.Username,
			Password:       cfg.Password,
			MaxConnections: cfg.MaxConnections,
		})

	default:
		return nil, fmt.Errorf("unsupported graphstore type: %s", cfg.Type)
	}
}

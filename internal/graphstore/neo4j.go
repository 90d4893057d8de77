package graphstore

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/gyaneshwarpardhi/clinigraph/internal/config"
)

// Neo4jStore implements Store on top of the official Neo4j driver.
// Writes use explicit transactions so the driver never retries on our behalf.
type Neo4jStore struct {
	driver       neo4j.DriverWithContext
	database     string
	writeTimeout time.Duration
}

// NewNeo4jStore creates the driver and verifies connectivity.
func NewNeo4jStore(ctx context.Context, conf config.Neo4jConf) (*Neo4jStore, error) {
	auth := neo4j.BasicAuth(conf.Username, conf.Password, "")
	driver, err := neo4j.NewDriverWithContext(conf.URI, auth, func(c *neo4j.Config) {
		if conf.MaxConnectionPoolSize > 0 {
			c.MaxConnectionPoolSize = conf.MaxConnectionPoolSize
		}
		c.ConnectionAcquisitionTimeout = conf.ConnectTimeout()
		c.SocketConnectTimeout = conf.ConnectTimeout()
	})
	if err != nil {
		return nil, fmt.Errorf("neo4j driver %s: %w", conf.URI, err)
	}
	verifyCtx, cancel := context.WithTimeout(ctx, conf.ConnectTimeout())
	defer cancel()
	if err := driver.VerifyConnectivity(verifyCtx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4j connectivity %s: %w", conf.URI, err)
	}
	return &Neo4jStore{
		driver:       driver,
		database:     conf.Database,
		writeTimeout: conf.WriteTimeout(),
	}, nil
}

// ExecuteWrite runs fn in one explicit transaction and commits on success.
func (s *Neo4jStore) ExecuteWrite(ctx context.Context, fn func(context.Context, Tx) error) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: s.database,
		AccessMode:   neo4j.AccessModeWrite,
	})
	defer session.Close(ctx)

	tx, err := session.BeginTransaction(ctx, neo4j.WithTxTimeout(s.writeTimeout))
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(ctx, &neo4jTx{tx: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Read runs cypher in an auto-commit read session and collects every row.
func (s *Neo4jStore) Read(ctx context.Context, cypher string, params map[string]any) ([]Record, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: s.database,
		AccessMode:   neo4j.AccessModeRead,
	})
	defer session.Close(ctx)

	res, err := session.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	records, err := res.Collect(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(records))
	for _, rec := range records {
		row := make(Record, len(rec.Keys))
		for i, k := range rec.Keys {
			row[k] = rec.Values[i]
		}
		out = append(out, row)
	}
	return out, nil
}

// Ping runs a trivial query against the configured database.
func (s *Neo4jStore) Ping(ctx context.Context) error {
	rows, err := s.Read(ctx, queryPing, nil)
	if err != nil {
		return err
	}
	if len(rows) != 1 {
		return fmt.Errorf("ping returned %d rows", len(rows))
	}
	return nil
}

func (s *Neo4jStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

type neo4jTx struct {
	tx neo4j.ExplicitTransaction
}

func (t *neo4jTx) MergeNode(ctx context.Context, label, id string, props map[string]any) (NodeRef, error) {
	if err := validLabel(label); err != nil {
		return NodeRef{}, err
	}
	eid, err := t.single(ctx, mergeNodeCypher(label), map[string]any{"id": id, "props": props})
	if err != nil {
		return NodeRef{}, fmt.Errorf("merge %s %s: %w", label, id, err)
	}
	return NodeRef{Label: label, ID: id, ElementID: eid}, nil
}

func (t *neo4jTx) CreateNode(ctx context.Context, label string, props map[string]any) (NodeRef, error) {
	if err := validLabel(label); err != nil {
		return NodeRef{}, err
	}
	eid, err := t.single(ctx, createNodeCypher(label), map[string]any{"props": props})
	if err != nil {
		return NodeRef{}, fmt.Errorf("create %s: %w", label, err)
	}
	id, _ := props["id"].(string)
	return NodeRef{Label: label, ID: id, ElementID: eid}, nil
}

func (t *neo4jTx) MergeEdge(ctx context.Context, e Edge) (int, error) {
	return t.edge(ctx, "MERGE", e)
}

func (t *neo4jTx) CreateEdge(ctx context.Context, e Edge) (int, error) {
	return t.edge(ctx, "CREATE", e)
}

func (t *neo4jTx) edge(ctx context.Context, verb string, e Edge) (int, error) {
	if err := validateEdge(e); err != nil {
		return 0, err
	}
	cypher, params := edgeCypher(verb, e)
	res, err := t.tx.Run(ctx, cypher, params)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", verb, e.Type, err)
	}
	summary, err := res.Consume(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", verb, e.Type, err)
	}
	return summary.Counters().RelationshipsCreated(), nil
}

func (t *neo4jTx) single(ctx context.Context, cypher string, params map[string]any) (string, error) {
	res, err := t.tx.Run(ctx, cypher, params)
	if err != nil {
		return "", err
	}
	rec, err := res.Single(ctx)
	if err != nil {
		return "", err
	}
	eid, _ := rec.Get("eid")
	s, _ := eid.(string)
	return s, nil
}

//go:build integration

package graphstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/gyaneshwarpardhi/clinigraph/internal/config"
)

func startNeo4j(t *testing.T, ctx context.Context) *Neo4jStore {
	t.Helper()

	provider, err := testcontainers.ProviderDocker.GetProvider()
	if err != nil {
		t.Skip("Docker not available, skipping integration test")
	}
	if err := provider.Health(ctx); err != nil {
		t.Skip("Docker not running, skipping integration test")
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "neo4j:5",
			ExposedPorts: []string{"7687/tcp"},
			Env:          map[string]string{"NEO4J_AUTH": "none"},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("7687/tcp"),
				wait.ForLog("Started."),
			).WithDeadline(120 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "7687")
	require.NoError(t, err)

	conf := config.Default().Neo4j
	conf.URI = fmt.Sprintf("bolt://%s:%s", host, port.Port())
	conf.Password = "ignored"
	store, err := NewNeo4jStore(ctx, conf)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(context.Background()) })
	return store
}

func TestNeo4jStore(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	store := startNeo4j(t, ctx)

	require.NoError(t, store.Ping(ctx))

	seed := func(ctx context.Context, tx Tx) error {
		if _, err := tx.MergeNode(ctx, "Facility", "f1", map[string]any{"name": "General"}); err != nil {
			return err
		}
		if _, err := tx.MergeNode(ctx, "Subject", "s1", map[string]any{"name": "Ada"}); err != nil {
			return err
		}
		n, err := tx.MergeEdge(ctx, Edge{
			From: NodeRef{Label: "Subject", ID: "s1"},
			To:   NodeRef{Label: "Facility", ID: "f1"},
			Type: "ADMITTED_TO",
		})
		if err != nil {
			return err
		}
		assert.LessOrEqual(t, n, 1)
		return nil
	}
	require.NoError(t, store.ExecuteWrite(ctx, seed))
	require.NoError(t, store.ExecuteWrite(ctx, seed))

	require.NoError(t, store.ExecuteWrite(ctx, func(ctx context.Context, tx Tx) error {
		d, err := tx.CreateNode(ctx, "Diagnosis", map[string]any{"id": "d1", "description": "Asthma"})
		if err != nil {
			return err
		}
		n, err := tx.CreateEdge(ctx, Edge{From: NodeRef{Label: "Subject", ID: "s1"}, To: d, Type: "HAS_DIAGNOSIS"})
		assert.Equal(t, 1, n)
		if err != nil {
			return err
		}
		n, err = tx.CreateEdge(ctx, Edge{From: d, To: NodeRef{Label: "Provider", ID: "missing"}, Type: "DIAGNOSED_BY"})
		assert.Zero(t, n)
		return err
	}))

	err := store.ExecuteWrite(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.MergeNode(ctx, "Provider", "p-rolled-back", nil); err != nil {
			return err
		}
		return fmt.Errorf("abort")
	})
	require.Error(t, err)

	_, err = store.Read(ctx, QueryLabelCountsAPOC, nil)
	assert.Error(t, err)

	rows, err := store.Read(ctx, QueryLabelCountsScan, nil)
	require.NoError(t, err)
	counts := map[string]int64{}
	for _, r := range rows {
		counts[r["type"].(string)] = r["count"].(int64)
	}
	assert.Equal(t, map[string]int64{"Facility": 1, "Subject": 1, "Diagnosis": 1}, counts)

	rows, err = store.Read(ctx, QueryRelTypeCounts, nil)
	require.NoError(t, err)
	rels := map[string]int64{}
	for _, r := range rows {
		rels[r["type"].(string)] = r["count"].(int64)
	}
	assert.Equal(t, map[string]int64{"ADMITTED_TO": 1, "HAS_DIAGNOSIS": 1}, rels)

	rows, err = store.Read(ctx, QuerySubjectSample, map[string]any{"limit": int64(10)})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

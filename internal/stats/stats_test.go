package stats_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/clinigraph/internal/config"
	"github.com/gyaneshwarpardhi/clinigraph/internal/event"
	"github.com/gyaneshwarpardhi/clinigraph/internal/graphstore"
	"github.com/gyaneshwarpardhi/clinigraph/internal/handler"
	"github.com/gyaneshwarpardhi/clinigraph/internal/stats"
)

type fakeReader struct {
	results map[string][]graphstore.Record
	errs    map[string]error
	calls   []string
}

func (f *fakeReader) Read(_ context.Context, cypher string, _ map[string]any) ([]graphstore.Record, error) {
	f.calls = append(f.calls, cypher)
	if err := f.errs[cypher]; err != nil {
		return nil, err
	}
	return f.results[cypher], nil
}

func TestStatistics_UsesAPOCWhenAvailable(t *testing.T) {
	r := &fakeReader{results: map[string][]graphstore.Record{
		graphstore.QueryLabelCountsAPOC: {
			{"type": "Subject", "count": int64(5)},
			{"type": "Facility", "count": int64(2)},
			{"type": "Provider", "count": int64(5)},
		},
		graphstore.QueryRelTypeCounts: {
			{"type": "AFFILIATED_WITH", "count": int64(5)},
		},
	}}
	s, err := stats.NewAggregator(r, nil).Statistics(context.Background())
	require.NoError(t, err)

	assert.NotContains(t, r.calls, graphstore.QueryLabelCountsScan)
	assert.Equal(t, int64(12), s.TotalNodes)
	assert.Equal(t, int64(5), s.TotalRelationships)
	assert.Equal(t, []stats.TypeCount{
		{Type: "Provider", Count: 5},
		{Type: "Subject", Count: 5},
		{Type: "Facility", Count: 2},
	}, s.NodeStatistics)
}

func TestStatistics_FallsBackToScan(t *testing.T) {
	r := &fakeReader{
		errs: map[string]error{graphstore.QueryLabelCountsAPOC: graphstore.ErrProcedureNotFound},
		results: map[string][]graphstore.Record{
			graphstore.QueryLabelCountsScan: {{"type": "Diagnosis", "count": int64(3)}},
			graphstore.QueryRelTypeCounts:   {{"type": "HAS_DIAGNOSIS", "count": 3}},
		},
	}
	s, err := stats.NewAggregator(r, nil).Statistics(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{
		graphstore.QueryLabelCountsAPOC,
		graphstore.QueryLabelCountsScan,
		graphstore.QueryRelTypeCounts,
	}, r.calls)
	assert.Equal(t, int64(3), s.TotalNodes)
	assert.Equal(t, 1.0, s.Density())
}

func TestStatistics_ReadFailure(t *testing.T) {
	down := errors.New("service unavailable")
	r := &fakeReader{errs: map[string]error{
		graphstore.QueryLabelCountsAPOC: down,
		graphstore.QueryLabelCountsScan: down,
	}}
	_, err := stats.NewAggregator(r, nil).Statistics(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, event.ErrStoreReadFailed)
	assert.ErrorIs(t, err, down)
}

func TestStatistics_EmptyGraph(t *testing.T) {
	s, err := stats.NewAggregator(graphstore.NewMemStore(), nil).Statistics(context.Background())
	require.NoError(t, err)
	assert.Zero(t, s.TotalNodes)
	assert.Zero(t, s.TotalRelationships)
	assert.Equal(t, 0.0, s.Density())
	assert.Empty(t, s.NodeStatistics)
}

func seed(t *testing.T, store *graphstore.MemStore) {
	t.Helper()
	r := handler.NewRouter(store, handler.DefaultRegistry(), config.PolicyAttempted, nil)
	records := []map[string]any{
		{"kind": "facility", "id": "f1", "name": "General"},
		{"kind": "provider", "id": "p1", "name": "Dr. Gray", "facility_id": "f1"},
		{"kind": "subject", "id": "s1", "name": "Ada", "primary_provider_id": "p1"},
		{"kind": "diagnosis", "id": "d1", "patient_id": "s1", "doctor_id": "p1", "description": "Asthma"},
		{"kind": "medication", "id": "m1", "patient_id": "s1", "medication_name": "Albuterol"},
	}
	for _, rec := range records {
		_, err := r.Route(context.Background(), event.FromMap(rec))
		require.NoError(t, err)
	}
}

func TestStatistics_TotalsMatchSums(t *testing.T) {
	store := graphstore.NewMemStore()
	seed(t, store)

	s, err := stats.NewAggregator(store, nil).Statistics(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(store.NodeCount()), s.TotalNodes)
	assert.Equal(t, int64(store.RelationshipCount()), s.TotalRelationships)

	var sum int64
	for i, c := range s.RelationshipStatistics {
		sum += c.Count
		if i > 0 {
			assert.GreaterOrEqual(t, s.RelationshipStatistics[i-1].Count, c.Count)
		}
	}
	assert.Equal(t, s.TotalRelationships, sum)
}

func TestSample_SubjectNeighbourhood(t *testing.T) {
	store := graphstore.NewMemStore()
	seed(t, store)

	rows, err := stats.NewAggregator(store, nil).Sample(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, stats.SampleRow{
		SubjectID:     "s1",
		SubjectName:   "Ada",
		Relationship:  "PRIMARY_CONTACT",
		ConnectedType: "Provider",
		ConnectedID:   "p1",
		ConnectedName: "Dr. Gray",
	}, rows[0])
	assert.Equal(t, "Asthma", rows[1].ConnectedName)
	assert.Equal(t, "Albuterol", rows[2].ConnectedName)

	rows, err = stats.NewAggregator(store, nil).Sample(context.Background(), 2)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

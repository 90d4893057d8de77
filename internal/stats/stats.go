// Package stats aggregates node and relationship counts from the graph.
package stats

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/gyaneshwarpardhi/clinigraph/internal/event"
	"github.com/gyaneshwarpardhi/clinigraph/internal/graphstore"
)

// TypeCount is the number of nodes (or relationships) of one label (or type).
type TypeCount struct {
	Type  string `json:"type"`
	Count int64  `json:"count"`
}

// Statistics is a point-in-time view of the graph. Totals are the sums of
// the per-type counts.
type Statistics struct {
	TotalNodes             int64       `json:"total_nodes"`
	TotalRelationships     int64       `json:"total_relationships"`
	NodeStatistics         []TypeCount `json:"node_statistics"`
	RelationshipStatistics []TypeCount `json:"relationship_statistics"`
}

// Density is relationships per node, or 0 for an empty graph.
func (s *Statistics) Density() float64 {
	if s.TotalNodes == 0 {
		return 0
	}
	return float64(s.TotalRelationships) / float64(s.TotalNodes)
}

// SampleRow is one Subject-centred edge returned by Sample.
type SampleRow struct {
	SubjectID     string `json:"subject_id"`
	SubjectName   string `json:"subject_name"`
	Relationship  string `json:"relationship"`
	ConnectedType string `json:"connected_type"`
	ConnectedID   string `json:"connected_id"`
	ConnectedName string `json:"connected_name"`
}

// Aggregator runs the statistics queries. Results are never cached.
type Aggregator struct {
	reader graphstore.Reader
	logger *slog.Logger
}

func NewAggregator(r graphstore.Reader, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{reader: r, logger: logger}
}

// Statistics counts nodes per label and relationships per type. Label
// counts try the APOC procedure first and fall back to a full scan on
// any error.
func (a *Aggregator) Statistics(ctx context.Context) (*Statistics, error) {
	nodes, err := a.counts(ctx, graphstore.QueryLabelCountsAPOC)
	if err != nil {
		a.logger.Debug("label counts via apoc unavailable, scanning", "err", err)
		nodes, err = a.counts(ctx, graphstore.QueryLabelCountsScan)
		if err != nil {
			return nil, event.NewError(event.StoreReadFailed, "", fmt.Errorf("node counts: %w", err))
		}
	}
	rels, err := a.counts(ctx, graphstore.QueryRelTypeCounts)
	if err != nil {
		return nil, event.NewError(event.StoreReadFailed, "", fmt.Errorf("relationship counts: %w", err))
	}

	s := &Statistics{NodeStatistics: nodes, RelationshipStatistics: rels}
	for _, c := range nodes {
		s.TotalNodes += c.Count
	}
	for _, c := range rels {
		s.TotalRelationships += c.Count
	}
	return s, nil
}

// Sample returns up to limit edges leaving Subject nodes.
func (a *Aggregator) Sample(ctx context.Context, limit int) ([]SampleRow, error) {
	if limit <= 0 {
		limit = 20
	}
	recs, err := a.reader.Read(ctx, graphstore.QuerySubjectSample, map[string]any{"limit": int64(limit)})
	if err != nil {
		return nil, event.NewError(event.StoreReadFailed, "", fmt.Errorf("graph sample: %w", err))
	}
	out := make([]SampleRow, 0, len(recs))
	for _, r := range recs {
		out = append(out, SampleRow{
			SubjectID:     text(r["subject_id"]),
			SubjectName:   text(r["subject_name"]),
			Relationship:  text(r["relationship"]),
			ConnectedType: text(r["connected_type"]),
			ConnectedID:   text(r["connected_id"]),
			ConnectedName: text(r["connected_name"]),
		})
	}
	return out, nil
}

func (a *Aggregator) counts(ctx context.Context, cypher string) ([]TypeCount, error) {
	recs, err := a.reader.Read(ctx, cypher, nil)
	if err != nil {
		return nil, err
	}
	out := make([]TypeCount, 0, len(recs))
	for _, r := range recs {
		t := text(r["type"])
		if t == "" {
			continue
		}
		out = append(out, TypeCount{Type: t, Count: count(r["count"])})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Type < out[j].Type
	})
	return out, nil
}

func count(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}

func text(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprint(s)
	}
}

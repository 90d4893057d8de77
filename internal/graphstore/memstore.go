package graphstore

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"strconv"
	"sync"
)

// ErrProcedureNotFound mimics a Neo4j server without the APOC plugin.
var ErrProcedureNotFound = errors.New("Neo.ClientError.Procedure.ProcedureNotFound: apoc.cypher.run")

// Node is a node as held by MemStore.
type Node struct {
	ElementID string
	Label     string
	Props     map[string]any
}

// Relationship is an edge as held by MemStore.
type Relationship struct {
	From  string
	To    string
	Type  string
	Props map[string]any
}

// MemStore is an in-process graph with the same write semantics as
// Neo4jStore: MERGE upserts by (label, id), CREATE always appends, edges
// only link endpoints that exist, and a failed transaction leaves no trace.
// It answers the read queries declared in this package.
type MemStore struct {
	mu     sync.Mutex
	nodes  map[string]*Node
	order  []string
	rels   []Relationship
	nextID int
	fault  func(op string) error
}

// NewMemStore returns an empty graph.
func NewMemStore() *MemStore {
	return &MemStore{nodes: make(map[string]*Node)}
}

// InjectFault installs fn, called before every transactional operation
// ("merge_node", "create_node", "merge_edge", "create_edge", "commit").
// A non-nil return fails that operation. Pass nil to clear.
func (m *MemStore) InjectFault(fn func(op string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fault = fn
}

// ExecuteWrite serializes transactions and rolls back every change made by
// fn when fn or the commit fails.
func (m *MemStore) ExecuteWrite(ctx context.Context, fn func(context.Context, Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	tx := &memTx{store: m}
	err := fn(ctx, tx)
	if err == nil {
		err = m.check("commit")
	}
	if err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

// Read answers the statistics and sample queries declared in queries.go.
func (m *MemStore) Read(_ context.Context, cypher string, params map[string]any) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch cypher {
	case QueryLabelCountsAPOC:
		return nil, ErrProcedureNotFound
	case QueryLabelCountsScan:
		counts := make(map[string]int64)
		for _, id := range m.order {
			counts[m.nodes[id].Label]++
		}
		return countRecords(counts), nil
	case QueryRelTypeCounts:
		counts := make(map[string]int64)
		for _, r := range m.rels {
			counts[r.Type]++
		}
		return countRecords(counts), nil
	case QuerySubjectSample:
		return m.subjectSample(intParam(params, "limit", 20)), nil
	case queryPing:
		return []Record{{"ok": int64(1)}}, nil
	default:
		return nil, fmt.Errorf("memstore: unsupported query")
	}
}

func (m *MemStore) Ping(context.Context) error  { return nil }
func (m *MemStore) Close(context.Context) error { return nil }

// Nodes returns copies of every node with the given label in creation order.
func (m *MemStore) Nodes(label string) []Node {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Node
	for _, id := range m.order {
		n := m.nodes[id]
		if n.Label == label {
			out = append(out, Node{ElementID: n.ElementID, Label: n.Label, Props: maps.Clone(n.Props)})
		}
	}
	return out
}

// Relationships returns copies of every edge of the given type.
func (m *MemStore) Relationships(relType string) []Relationship {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Relationship
	for _, r := range m.rels {
		if r.Type == relType {
			r.Props = maps.Clone(r.Props)
			out = append(out, r)
		}
	}
	return out
}

// NodeCount returns the total number of nodes.
func (m *MemStore) NodeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.order)
}

// RelationshipCount returns the total number of edges.
func (m *MemStore) RelationshipCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rels)
}

type memSnapshot struct {
	nodes  map[string]*Node
	order  []string
	rels   []Relationship
	nextID int
}

func (m *MemStore) snapshot() memSnapshot {
	nodes := make(map[string]*Node, len(m.nodes))
	for id, n := range m.nodes {
		nodes[id] = &Node{ElementID: n.ElementID, Label: n.Label, Props: maps.Clone(n.Props)}
	}
	return memSnapshot{
		nodes:  nodes,
		order:  append([]string(nil), m.order...),
		rels:   append([]Relationship(nil), m.rels...),
		nextID: m.nextID,
	}
}

func (m *MemStore) restore(s memSnapshot) {
	m.nodes, m.order, m.rels, m.nextID = s.nodes, s.order, s.rels, s.nextID
}

func (m *MemStore) check(op string) error {
	if m.fault == nil {
		return nil
	}
	return m.fault(op)
}

func (m *MemStore) newNode(label string, props map[string]any) *Node {
	m.nextID++
	n := &Node{ElementID: "mem:" + strconv.Itoa(m.nextID), Label: label, Props: props}
	m.nodes[n.ElementID] = n
	m.order = append(m.order, n.ElementID)
	return n
}

// match returns element ids for ref, honouring ElementID first.
func (m *MemStore) match(ref NodeRef) []string {
	if ref.ElementID != "" {
		if _, ok := m.nodes[ref.ElementID]; ok {
			return []string{ref.ElementID}
		}
		return nil
	}
	var out []string
	for _, id := range m.order {
		n := m.nodes[id]
		if n.Label == ref.Label && n.Props["id"] == ref.ID {
			out = append(out, id)
		}
	}
	return out
}

func (m *MemStore) hasEdge(from, to, relType string) int {
	for i, r := range m.rels {
		if r.From == from && r.To == to && r.Type == relType {
			return i
		}
	}
	return -1
}

func (m *MemStore) subjectSample(limit int) []Record {
	var out []Record
	for _, r := range m.rels {
		if len(out) >= limit {
			break
		}
		from, to := m.nodes[r.From], m.nodes[r.To]
		if from.Label != "Subject" {
			continue
		}
		nameKey := "name"
		switch to.Label {
		case "Diagnosis":
			nameKey = "description"
		case "Medication":
			nameKey = "medication_name"
		case "Procedure":
			nameKey = "procedure_name"
		}
		out = append(out, Record{
			"subject_id":     from.Props["id"],
			"subject_name":   from.Props["name"],
			"relationship":   r.Type,
			"connected_type": to.Label,
			"connected_id":   to.Props["id"],
			"connected_name": to.Props[nameKey],
		})
	}
	return out
}

func countRecords(counts map[string]int64) []Record {
	out := make([]Record, 0, len(counts))
	for t, c := range counts {
		out = append(out, Record{"type": t, "count": c})
	}
	sort.Slice(out, func(i, j int) bool {
		ci, cj := out[i]["count"].(int64), out[j]["count"].(int64)
		if ci != cj {
			return ci > cj
		}
		return out[i]["type"].(string) < out[j]["type"].(string)
	})
	return out
}

func intParam(params map[string]any, key string, def int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	}
	return def
}

type memTx struct {
	store *MemStore
}

func (t *memTx) MergeNode(_ context.Context, label, id string, props map[string]any) (NodeRef, error) {
	m := t.store
	if err := validLabel(label); err != nil {
		return NodeRef{}, err
	}
	if err := m.check("merge_node"); err != nil {
		return NodeRef{}, err
	}
	if ids := m.match(NodeRef{Label: label, ID: id}); len(ids) > 0 {
		n := m.nodes[ids[0]]
		maps.Copy(n.Props, props)
		return NodeRef{Label: label, ID: id, ElementID: n.ElementID}, nil
	}
	p := maps.Clone(props)
	if p == nil {
		p = make(map[string]any)
	}
	p["id"] = id
	n := m.newNode(label, p)
	return NodeRef{Label: label, ID: id, ElementID: n.ElementID}, nil
}

func (t *memTx) CreateNode(_ context.Context, label string, props map[string]any) (NodeRef, error) {
	m := t.store
	if err := validLabel(label); err != nil {
		return NodeRef{}, err
	}
	if err := m.check("create_node"); err != nil {
		return NodeRef{}, err
	}
	p := maps.Clone(props)
	if p == nil {
		p = make(map[string]any)
	}
	n := m.newNode(label, p)
	id, _ := p["id"].(string)
	return NodeRef{Label: label, ID: id, ElementID: n.ElementID}, nil
}

func (t *memTx) MergeEdge(_ context.Context, e Edge) (int, error) {
	return t.edge("merge_edge", e, true)
}

func (t *memTx) CreateEdge(_ context.Context, e Edge) (int, error) {
	return t.edge("create_edge", e, false)
}

func (t *memTx) edge(op string, e Edge, merge bool) (int, error) {
	m := t.store
	if err := validateEdge(e); err != nil {
		return 0, err
	}
	if err := m.check(op); err != nil {
		return 0, err
	}
	created := 0
	for _, from := range m.match(e.From) {
		for _, to := range m.match(e.To) {
			if merge {
				if i := m.hasEdge(from, to, e.Type); i >= 0 {
					merged := make(map[string]any, len(m.rels[i].Props)+len(e.Props))
					maps.Copy(merged, m.rels[i].Props)
					maps.Copy(merged, e.Props)
					m.rels[i].Props = merged
					continue
				}
			}
			props := maps.Clone(e.Props)
			if props == nil {
				props = make(map[string]any)
			}
			m.rels = append(m.rels, Relationship{From: from, To: to, Type: e.Type, Props: props})
			created++
		}
	}
	return created, nil
}

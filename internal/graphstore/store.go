// Package graphstore is the narrow interface the ingestion core uses to
// reach the property graph, with a Neo4j implementation and an in-memory
// implementation that follows the same MERGE/CREATE/MATCH semantics.
package graphstore

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// NodeRef identifies a node either by store element id or by (Label, ID).
// ElementID wins when set.
type NodeRef struct {
	Label     string
	ID        string
	ElementID string
}

// Edge is a directed, typed relationship between two node references.
type Edge struct {
	From  NodeRef
	To    NodeRef
	Type  string
	Props map[string]any
}

// Tx is a single write transaction. Every method runs inside the same
// transaction; nothing becomes visible until the enclosing ExecuteWrite
// returns nil.
type Tx interface {
	// MergeNode upserts the node (label, id) and overwrites the given props.
	MergeNode(ctx context.Context, label, id string, props map[string]any) (NodeRef, error)
	// CreateNode always creates a new node.
	CreateNode(ctx context.Context, label string, props map[string]any) (NodeRef, error)
	// MergeEdge links both endpoints unless an edge of the same type already
	// exists. It returns the number of relationships the store created; a
	// missing endpoint yields 0 and no error.
	MergeEdge(ctx context.Context, e Edge) (int, error)
	// CreateEdge links both endpoints unconditionally; a missing endpoint
	// yields 0 and no error.
	CreateEdge(ctx context.Context, e Edge) (int, error)
}

// Writer runs fn inside one write transaction, committing only if fn returns nil.
type Writer interface {
	ExecuteWrite(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Record is one result row keyed by column name.
type Record map[string]any

// Reader runs read-only Cypher.
type Reader interface {
	Read(ctx context.Context, cypher string, params map[string]any) ([]Record, error)
}

// Store is the full graph store used by the ingestion service.
type Store interface {
	Writer
	Reader
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

var (
	relTypePattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)
	labelPattern   = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)
)

// ValidateRelType rejects relationship types that cannot be interpolated
// into Cypher verbatim.
func ValidateRelType(t string) error {
	if !relTypePattern.MatchString(t) {
		return fmt.Errorf("invalid relationship type %q", t)
	}
	return nil
}

// SanitizeLabel turns an arbitrary kind string into a safe node label:
// letters, digits and underscores only, title-cased per word, and always
// starting with a letter.
func SanitizeLabel(raw string) string {
	var b strings.Builder
	upperNext := true
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			if upperNext {
				b.WriteRune(unicode.ToUpper(r))
			} else {
				b.WriteRune(unicode.ToLower(r))
			}
			upperNext = false
		case r == '_' || r == '-' || r == ' ' || r == '.':
			if b.Len() > 0 && r == '_' {
				b.WriteRune('_')
			}
			upperNext = true
		}
	}
	label := b.String()
	if label == "" {
		return "Unknown"
	}
	if first := rune(label[0]); !unicode.IsLetter(first) {
		label = "Entity" + label
	}
	return label
}

func validLabel(label string) error {
	if !labelPattern.MatchString(label) {
		return fmt.Errorf("invalid node label %q", label)
	}
	return nil
}

package graphstore

import "fmt"

// Read queries issued by the statistics path. MemStore answers exactly
// these; anything else is rejected.
const (
	// QueryLabelCountsAPOC needs the APOC plugin; stores without it fail and
	// callers fall back to QueryLabelCountsScan.
	QueryLabelCountsAPOC = `CALL db.labels() YIELD label
CALL apoc.cypher.run('MATCH (n:' + label + ') RETURN count(n) AS count', {}) YIELD value
RETURN label AS type, value.count AS count
ORDER BY count DESC`

	QueryLabelCountsScan = `MATCH (n)
RETURN labels(n)[0] AS type, count(*) AS count
ORDER BY count DESC`

	QueryRelTypeCounts = `MATCH ()-[r]->()
RETURN type(r) AS type, count(r) AS count
ORDER BY count DESC`

	QuerySubjectSample = `MATCH (p:Subject)-[r]->(connected)
WITH p, r, connected
LIMIT $limit
RETURN p.id AS subject_id, p.name AS subject_name,
       type(r) AS relationship,
       labels(connected)[0] AS connected_type,
       connected.id AS connected_id,
       CASE
         WHEN 'Provider' IN labels(connected) THEN connected.name
         WHEN 'Diagnosis' IN labels(connected) THEN connected.description
         WHEN 'Medication' IN labels(connected) THEN connected.medication_name
         WHEN 'Procedure' IN labels(connected) THEN connected.procedure_name
         ELSE connected.name
       END AS connected_name`

	queryPing = `RETURN 1 AS ok`
)

func mergeNodeCypher(label string) string {
	return fmt.Sprintf("MERGE (n:%s {id: $id}) SET n += $props RETURN elementId(n) AS eid", label)
}

func createNodeCypher(label string) string {
	return fmt.Sprintf("CREATE (n:%s) SET n = $props RETURN elementId(n) AS eid", label)
}

// matchClause renders a MATCH for ref bound to variable v, adding the
// parameters it needs to params.
func matchClause(v string, ref NodeRef, params map[string]any) string {
	if ref.ElementID != "" {
		params[v+"_eid"] = ref.ElementID
		return fmt.Sprintf("MATCH (%s) WHERE elementId(%s) = $%s_eid", v, v, v)
	}
	params[v+"_id"] = ref.ID
	return fmt.Sprintf("MATCH (%s:%s {id: $%s_id})", v, ref.Label, v)
}

func edgeCypher(verb string, e Edge) (string, map[string]any) {
	params := map[string]any{"props": e.Props}
	if e.Props == nil {
		params["props"] = map[string]any{}
	}
	from := matchClause("a", e.From, params)
	to := matchClause("b", e.To, params)
	return fmt.Sprintf("%s\n%s\n%s (a)-[r:%s]->(b) SET r += $props", from, to, verb, e.Type), params
}

func validateEdge(e Edge) error {
	if err := ValidateRelType(e.Type); err != nil {
		return err
	}
	for _, ref := range []NodeRef{e.From, e.To} {
		if ref.ElementID != "" {
			continue
		}
		if err := validLabel(ref.Label); err != nil {
			return err
		}
		if ref.ID == "" {
			return fmt.Errorf("edge %s endpoint %s has no id", e.Type, ref.Label)
		}
	}
	return nil
}

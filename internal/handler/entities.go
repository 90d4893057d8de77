package handler

import (
	"context"
	"time"

	"github.com/gyaneshwarpardhi/clinigraph/internal/event"
	"github.com/gyaneshwarpardhi/clinigraph/internal/graphstore"
)

// now is the write-timestamp clock; tests replace it.
var now = func() time.Time { return time.Now().UTC() }

// link describes one relationship an entity may carry. The foreign id is
// read from ref; outbound edges point from the entity to the referenced
// node, inbound edges point from the referenced node to the entity.
type link struct {
	ref      field
	relType  string
	target   string
	outbound bool
	props    func(payload map[string]any) map[string]any
}

type entityDef struct {
	kind   event.Kind
	label  string
	fields []field
	links  []link
}

var (
	subjectRef  = str("patient_id", "subject_id")
	facilityRef = str("facility_id", "hospital_id")
)

var entityDefs = []entityDef{
	{
		kind:  event.KindFacility,
		label: "Facility",
		fields: []field{
			str("name"), str("location"),
			str("facility_type", "hospital_type"),
			integer("bed_count"),
			boolean("trauma_center"),
			boolean("teaching_facility", "teaching_hospital"),
		},
	},
	{
		kind:  event.KindProvider,
		label: "Provider",
		fields: []field{
			str("name"), str("specialty"), str("license_number"),
			integer("years_experience"),
		},
		links: []link{
			{ref: facilityRef, relType: "AFFILIATED_WITH", target: "Facility", outbound: true},
		},
	},
	{
		kind:  event.KindSubject,
		label: "Subject",
		fields: []field{
			str("name"), str("mrn"), str("date_of_birth"),
			integer("age"),
			str("gender"), str("phone"), str("email"),
		},
		links: []link{
			{ref: str("primary_provider_id", "primary_care_doctor"), relType: "PRIMARY_CONTACT", target: "Provider", outbound: true},
		},
	},
	{
		kind:  event.KindDiagnosis,
		label: "Diagnosis",
		fields: []field{
			str("icd10_code"), str("description"), str("severity"),
			str("diagnosed_date"), str("status"),
		},
		links: []link{
			{ref: subjectRef, relType: "HAS_DIAGNOSIS", target: "Subject"},
			{ref: str("doctor_id", "provider_id"), relType: "DIAGNOSED", target: "Provider"},
		},
	},
	{
		kind:  event.KindMedication,
		label: "Medication",
		fields: []field{
			str("medication_name"), str("dosage"), str("frequency"),
			str("indication"), str("prescribed_date"),
			integer("quantity"), integer("refills"),
			str("status"),
		},
		links: []link{
			{ref: subjectRef, relType: "PRESCRIBED", target: "Subject", props: func(p map[string]any) map[string]any {
				return map[string]any{"prescribed_date": str("prescribed_date").value(p)}
			}},
			{ref: str("prescribing_doctor_id", "doctor_id", "provider_id"), relType: "PRESCRIBED", target: "Provider", props: func(p map[string]any) map[string]any {
				return map[string]any{"date": str("prescribed_date").value(p)}
			}},
		},
	},
	{
		kind:  event.KindProcedure,
		label: "Procedure",
		fields: []field{
			str("cpt_code"), str("procedure_name"), str("procedure_type"),
			str("procedure_date"),
			integer("duration_minutes"),
			str("status"),
			float("cost"),
		},
		links: []link{
			{ref: subjectRef, relType: "UNDERWENT", target: "Subject", props: func(p map[string]any) map[string]any {
				return map[string]any{"date": str("procedure_date").value(p), "cost": float("cost").value(p)}
			}},
			{ref: str("performing_doctor_id", "doctor_id", "provider_id"), relType: "PERFORMED", target: "Provider", props: func(p map[string]any) map[string]any {
				return map[string]any{"date": str("procedure_date").value(p)}
			}},
			{ref: facilityRef, relType: "PERFORMED_AT", target: "Facility", outbound: true},
		},
	},
}

// entityHandler writes one known entity kind according to its definition.
// Reference kinds are merged on id; clinical kinds always create a node.
type entityHandler struct {
	def entityDef
}

func newEntityHandler(def entityDef) *entityHandler {
	return &entityHandler{def: def}
}

func (h *entityHandler) Kind() event.Kind { return h.def.kind }

func (h *entityHandler) Write(ctx context.Context, tx graphstore.Tx, env *event.Envelope) (*WriteResult, error) {
	props := make(map[string]any, len(h.def.fields)+2)
	for _, f := range h.def.fields {
		props[f.name] = f.value(env.Payload)
	}
	stamp := now().Format(time.RFC3339Nano)

	var (
		self graphstore.NodeRef
		err  error
	)
	if h.def.kind.IsReference() {
		props["updated_at"] = stamp
		self, err = tx.MergeNode(ctx, h.def.label, env.ID, props)
	} else {
		props["id"] = env.ID
		props["created_at"] = stamp
		self, err = tx.CreateNode(ctx, h.def.label, props)
	}
	if err != nil {
		return nil, err
	}

	res := &WriteResult{EntityID: env.ID, Type: h.def.label}
	for _, l := range h.def.links {
		foreignID := asString(l.ref.lookup(env.Payload))
		if foreignID == "" {
			continue
		}
		other := graphstore.NodeRef{Label: l.target, ID: foreignID}
		e := graphstore.Edge{From: other, To: self, Type: l.relType}
		if l.outbound {
			e.From, e.To = self, other
		}
		if l.props != nil {
			e.Props = l.props(env.Payload)
		}

		var created int
		if h.def.kind.IsReference() {
			created, err = tx.MergeEdge(ctx, e)
		} else {
			created, err = tx.CreateEdge(ctx, e)
		}
		if err != nil {
			return nil, err
		}
		res.RelationshipsAttempted++
		res.RelationshipsConfirmed += created
	}
	return res, nil
}

// genericHandler stores every payload field on a node labelled after the
// sanitized raw kind. It is the fallback for kinds nobody registered.
type genericHandler struct{}

func (genericHandler) Kind() event.Kind { return event.KindUnknown }

func (genericHandler) Write(ctx context.Context, tx graphstore.Tx, env *event.Envelope) (*WriteResult, error) {
	label := graphstore.SanitizeLabel(env.RawKind)
	props := make(map[string]any, len(env.Payload)+1)
	for k, v := range env.Payload {
		if k == "kind" || k == "type" {
			continue
		}
		props[k] = propertyValue(v)
	}
	props["id"] = env.ID
	props["created_at"] = now().Format(time.RFC3339Nano)
	if _, err := tx.CreateNode(ctx, label, props); err != nil {
		return nil, err
	}
	return &WriteResult{EntityID: env.ID, Type: label}, nil
}

package event

import (
	"strings"
	"time"
)

// Kind is the closed set of entity kinds an envelope can carry.
type Kind int

const (
	KindUnknown Kind = iota
	KindFacility
	KindProvider
	KindSubject
	KindDiagnosis
	KindMedication
	KindProcedure
)

var kindNames = map[Kind]string{
	KindUnknown:    "unknown",
	KindFacility:   "facility",
	KindProvider:   "provider",
	KindSubject:    "subject",
	KindDiagnosis:  "diagnosis",
	KindMedication: "medication",
	KindProcedure:  "procedure",
}

// kindAliases maps every accepted wire spelling to its Kind. The clinical
// dataset still emits the hospital/doctor/patient spellings.
var kindAliases = map[string]Kind{
	"facility":   KindFacility,
	"hospital":   KindFacility,
	"provider":   KindProvider,
	"doctor":     KindProvider,
	"subject":    KindSubject,
	"patient":    KindSubject,
	"diagnosis":  KindDiagnosis,
	"medication": KindMedication,
	"procedure":  KindProcedure,
}

// ParseKind normalizes raw and returns the matching Kind, or KindUnknown.
func ParseKind(raw string) Kind {
	if k, ok := kindAliases[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return k
	}
	return KindUnknown
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// IsReference reports whether k is a mutable, upserted reference entity.
func (k Kind) IsReference() bool {
	return k == KindFacility || k == KindProvider || k == KindSubject
}

// IsClinical reports whether k is an immutable clinical event.
func (k Kind) IsClinical() bool {
	return k == KindDiagnosis || k == KindMedication || k == KindProcedure
}

// Envelope is the decoded unit of ingestion work.
type Envelope struct {
	Kind       Kind           `json:"-"`
	RawKind    string         `json:"kind"`
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	ReceivedAt time.Time      `json:"-"`
	Payload    map[string]any `json:"payload"`
}

package event

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Decode turns any supported wire shape into an Envelope.
//
// Byte and string input is tried in a fixed order: UTF-8 JSON, then
// standard base64 wrapping JSON, then URL-safe base64 wrapping JSON. The
// first shape that yields a JSON object wins.
func Decode(raw any) (*Envelope, error) {
	switch v := raw.(type) {
	case *Envelope:
		if v == nil {
			return nil, NewError(MalformedPayload, "", fmt.Errorf("nil envelope"))
		}
		return normalize(v), nil
	case map[string]any:
		return FromMap(v), nil
	case json.RawMessage:
		return decodeBytes(v)
	case []byte:
		return decodeBytes(v)
	case string:
		return decodeBytes([]byte(v))
	default:
		return nil, NewError(MalformedPayload, "", fmt.Errorf("unsupported payload type %T", raw))
	}
}

func decodeBytes(b []byte) (*Envelope, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil, NewError(MalformedPayload, "", fmt.Errorf("empty payload"))
	}
	if m, ok := parseObject(b); ok {
		return FromMap(m), nil
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding} {
		decoded, err := enc.DecodeString(string(b))
		if err != nil {
			continue
		}
		if m, ok := parseObject(decoded); ok {
			return FromMap(m), nil
		}
	}
	return nil, NewError(MalformedPayload, "", fmt.Errorf("payload is neither JSON nor base64-encoded JSON (%d bytes)", len(b)))
}

func parseObject(b []byte) (map[string]any, bool) {
	if !utf8.Valid(b) {
		return nil, false
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil || m == nil {
		return nil, false
	}
	// Exactly one document; anything after it is malformed.
	if _, err := dec.Token(); err != io.EOF {
		return nil, false
	}
	return m, true
}

// FromMap builds an Envelope from a flat record. The kind is read from
// "kind", falling back to "type"; a missing id is replaced by a UUID.
func FromMap(m map[string]any) *Envelope {
	payload := make(map[string]any, len(m))
	for k, v := range m {
		payload[k] = v
	}
	rawKind := stringField(payload, "kind")
	if rawKind == "" {
		rawKind = stringField(payload, "type")
	}
	env := &Envelope{
		RawKind:    rawKind,
		ID:         stringField(payload, "id"),
		Payload:    payload,
		ReceivedAt: time.Now().UTC(),
	}
	if ts := stringField(payload, "timestamp"); ts != "" {
		env.Timestamp = parseTimestamp(ts)
	}
	return normalize(env)
}

func normalize(env *Envelope) *Envelope {
	if env.Payload == nil {
		env.Payload = make(map[string]any)
	}
	if env.RawKind == "" {
		env.RawKind = env.Kind.String()
	}
	env.Kind = ParseKind(env.RawKind)
	if env.ID == "" {
		env.ID = uuid.New().String()
		env.Payload["id"] = env.ID
	}
	if env.ReceivedAt.IsZero() {
		env.ReceivedAt = time.Now().UTC()
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = env.ReceivedAt
	}
	return env
}

func parseTimestamp(s string) time.Time {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// stringField returns m[key] rendered as a string; numbers keep their JSON text.
func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return ""
	}
}

package conversation

import (
	"bytes"
	"encoding/json"
	"strings"
)

type payloadKind int

const (
	payloadAbsent payloadKind = iota
	payloadString
	payloadObject
	payloadOther
)

// payload is the decoded form of a question/answer field. Exactly one of
// str, obj or raw is meaningful, selected by kind.
type payload struct {
	kind payloadKind
	str  string
	obj  map[string]json.RawMessage
	raw  string
}

func decodePayload(raw json.RawMessage) payload {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return payload{kind: payloadAbsent}
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return payload{kind: payloadOther, raw: string(trimmed)}
		}
		return payload{kind: payloadString, str: s}
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return payload{kind: payloadOther, raw: string(trimmed)}
		}
		return payload{kind: payloadObject, obj: obj, raw: compact(trimmed)}
	default:
		return payload{kind: payloadOther, raw: string(trimmed)}
	}
}

// NormalizeText turns a question or answer payload into display text.
//
// The payload may be a plain JSON string, an object carrying the text under
// field or "text", or a string holding such an object encoded as JSON.
// Structured extraction is tried first, then parse-and-extract of the string
// form, and finally the value itself is returned as text. It never fails.
func NormalizeText(raw json.RawMessage, field string) string {
	p := decodePayload(raw)
	switch p.kind {
	case payloadAbsent:
		return ""
	case payloadString:
		return normalizeString(p.str, field)
	case payloadObject:
		if s, ok := extract(p.obj, field); ok {
			return s
		}
		return p.raw
	default:
		return p.raw
	}
}

func normalizeString(s, field string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "{") || !strings.HasSuffix(trimmed, "}") {
		return s
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
		return s
	}
	if out, ok := extract(obj, field); ok {
		return out
	}
	return s
}

func extract(obj map[string]json.RawMessage, field string) (string, bool) {
	for _, key := range []string{field, "text"} {
		if key == "" {
			continue
		}
		v, ok := obj[key]
		if !ok {
			continue
		}
		p := decodePayload(v)
		switch p.kind {
		case payloadString:
			if p.str != "" {
				return p.str, true
			}
		case payloadObject:
			if s, ok := extract(p.obj, field); ok {
				return s, true
			}
		}
	}
	return "", false
}

func compact(b []byte) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, b); err != nil {
		return string(b)
	}
	return buf.String()
}

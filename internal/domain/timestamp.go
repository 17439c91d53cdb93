package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// naiveLayout matches timestamps sent without an offset, such as
// "2024-05-01T12:00:00.123456". They are read as UTC.
const naiveLayout = "2006-01-02T15:04:05.999999999"

// Timestamp decodes backend timestamps with or without a zone offset.
// JSON null decodes to the zero time.
type Timestamp struct {
	time.Time
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("domain: timestamp must be a string: %w", err)
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

// ParseTimestamp accepts RFC 3339 and offset-less ISO 8601 values, the latter
// taken as UTC. An empty string is the zero time.
func ParseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts, nil
	}
	ts, err := time.ParseInLocation(naiveLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("domain: unrecognized timestamp %q", s)
	}
	return ts, nil
}

// Package domain holds the shared data model for the integration control
// plane: integration configuration, event audit rows, execution logs, dead
// letters, scheduled deliveries, rate limit windows and lookup tables.
package domain

import "encoding/json"

// Payload is a tagged JSON tree. Source events arrive as arbitrary,
// duck-typed JSON; Payload keeps the raw tree around for path-based mapping
// while offering typed accessors for the canonical healthcare shapes.
type Payload struct {
	raw map[string]any
}

// NewPayload wraps a decoded JSON object.
func NewPayload(m map[string]any) Payload {
	if m == nil {
		m = map[string]any{}
	}
	return Payload{raw: m}
}

// ParsePayload decodes raw JSON bytes into a Payload.
func ParsePayload(data []byte) (Payload, error) {
	var m map[string]any
	if len(data) == 0 {
		return NewPayload(nil), nil
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return Payload{}, err
	}
	return NewPayload(m), nil
}

// Raw returns the underlying map. Callers must not mutate it.
func (p Payload) Raw() map[string]any { return p.raw }

// MarshalJSON implements json.Marshaler.
func (p Payload) MarshalJSON() ([]byte, error) {
	if p.raw == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p.raw)
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Payload) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	p.raw = m
	return nil
}

// Bytes renders the payload as canonical JSON bytes (used for HMAC signing
// and outbound bodies).
func (p Payload) Bytes() []byte {
	b, err := json.Marshal(p.raw)
	if err != nil {
		return []byte("{}")
	}
	return b
}

// canonicalShape fields accessed by name; these are convenience typed
// accessors over the raw tree, not a separate representation.

// StringField returns a top-level string field, or "" if absent/wrong type.
func (p Payload) StringField(name string) string {
	v, ok := p.raw[name]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// PatientID returns payload.patient.id / payload.patientId, whichever is set.
func (p Payload) PatientID() string {
	if nested, ok := p.raw["patient"].(map[string]any); ok {
		if id, ok := nested["id"].(string); ok {
			return id
		}
	}
	return p.StringField("patientId")
}

// VisitID returns payload.visit.id / payload.visitId.
func (p Payload) VisitID() string {
	if nested, ok := p.raw["visit"].(map[string]any); ok {
		if id, ok := nested["id"].(string); ok {
			return id
		}
	}
	return p.StringField("visitId")
}

// AppointmentID returns payload.appointment.id / payload.appointmentId.
func (p Payload) AppointmentID() string {
	if nested, ok := p.raw["appointment"].(map[string]any); ok {
		if id, ok := nested["id"].(string); ok {
			return id
		}
	}
	return p.StringField("appointmentId")
}

// BillID returns payload.bill.id / payload.billId.
func (p Payload) BillID() string {
	if nested, ok := p.raw["bill"].(map[string]any); ok {
		if id, ok := nested["id"].(string); ok {
			return id
		}
	}
	return p.StringField("billId")
}

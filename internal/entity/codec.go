package entity

import (
	"encoding/json"
	"fmt"
)

// envelope is the persisted wire form of a Payload: the type tag selects the
// concrete variant on decode.
type envelope struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data"`
}

// MarshalPayload encodes a payload with its type tag.
func MarshalPayload(p Payload) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Type: p.EntityType(), Data: data})
}

// UnmarshalPayload decodes an envelope produced by MarshalPayload.
func UnmarshalPayload(b []byte) (Payload, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, err
	}
	p, err := New(env.Type)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(env.Data, p); err != nil {
		return nil, err
	}
	return p, nil
}

// New returns a zero payload of the given type.
func New(t Type) (Payload, error) {
	switch t {
	case TypeProfile:
		return &Profile{}, nil
	case TypeTrackedEvent:
		return &TrackedEvent{}, nil
	case TypeAchievement:
		return &Achievement{}, nil
	case TypeVoiceNote:
		return &VoiceNote{}, nil
	default:
		return nil, fmt.Errorf("entity: unknown type %q", t)
	}
}

// ToMap renders a payload as a generic field map, as a remote read would
// return it. Used by the conflict detector and the CLI filter.
func ToMap(p Payload) map[string]interface{} {
	data, err := json.Marshal(p)
	if err != nil {
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}

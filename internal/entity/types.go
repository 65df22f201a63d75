package entity

// Type identifies a syncable entity kind. The set is closed; adding a kind
// means adding a Payload variant and a codec case.
type Type string

const (
	TypeProfile      Type = "profile"
	TypeTrackedEvent Type = "tracked_event"
	TypeAchievement  Type = "achievement"
	TypeVoiceNote    Type = "voice_note"
)

// All lists every known entity type.
var All = []Type{TypeProfile, TypeTrackedEvent, TypeAchievement, TypeVoiceNote}

// Valid reports whether t is a known entity type.
func (t Type) Valid() bool {
	for _, known := range All {
		if t == known {
			return true
		}
	}
	return false
}

func (t Type) String() string { return string(t) }

// BaseWeight returns the priority base weight for the type. Higher weights
// dequeue first. Tracked events are the product's core data and outrank
// cosmetic entities; voice notes are large and sync last.
func (t Type) BaseWeight() int {
	switch t {
	case TypeTrackedEvent:
		return 40
	case TypeProfile:
		return 30
	case TypeAchievement:
		return 20
	case TypeVoiceNote:
		return 10
	default:
		return 0
	}
}

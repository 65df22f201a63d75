package entity

import (
	"errors"
	"fmt"
)

// Validation errors shared by the payload variants.
var (
	ErrMissingOwner = errors.New("entity: payload has no owner identifier")
	ErrInvalid      = errors.New("entity: invalid payload")
)

// Payload is the tagged union over the closed entity-type set. Every variant
// knows its type, its owner, how to validate itself, and how to produce the
// normalized document used for idempotency hashing and duplicate detection.
type Payload interface {
	EntityType() Type
	Owner() string
	Validate() error
	// Normalize returns a canonical field map: numeric fields rounded, text
	// trimmed and lowercased, arrays sorted. Two semantically identical
	// payloads normalize to the same map regardless of field noise.
	Normalize() map[string]interface{}
}

// Profile is the user's settings and goals document.
type Profile struct {
	OwnerID     string   `json:"ownerId"`
	DisplayName string   `json:"displayName,omitempty"`
	Preferences []string `json:"preferences,omitempty"`
	WeeklyGoal  float64  `json:"weeklyGoal,omitempty"`
	UpdatedAt   int64    `json:"updatedAt,omitempty"`
}

func (p *Profile) EntityType() Type { return TypeProfile }
func (p *Profile) Owner() string    { return p.OwnerID }

func (p *Profile) Validate() error {
	if p.OwnerID == "" {
		return ErrMissingOwner
	}
	if p.WeeklyGoal < 0 {
		return fmt.Errorf("%w: negative weekly goal", ErrInvalid)
	}
	return nil
}

func (p *Profile) Normalize() map[string]interface{} {
	return map[string]interface{}{
		"ownerId":     p.OwnerID,
		"displayName": normText(p.DisplayName),
		"preferences": normTags(p.Preferences),
		"weeklyGoal":  roundNum(p.WeeklyGoal),
	}
}

// TrackedEvent is a single logged data point (the app's core record).
type TrackedEvent struct {
	OwnerID    string   `json:"ownerId"`
	EventID    string   `json:"eventId,omitempty"`
	Kind       string   `json:"kind"`
	Score      float64  `json:"score"`
	Note       string   `json:"note,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	RecordedAt int64    `json:"recordedAt"`
	UpdatedAt  int64    `json:"updatedAt,omitempty"`
}

func (e *TrackedEvent) EntityType() Type { return TypeTrackedEvent }
func (e *TrackedEvent) Owner() string    { return e.OwnerID }

func (e *TrackedEvent) Validate() error {
	if e.OwnerID == "" {
		return ErrMissingOwner
	}
	// EventID anchors the tombstone and the local/remote id mapping; without
	// it a later update or delete has nothing to target.
	if e.EventID == "" {
		return fmt.Errorf("%w: tracked event requires an eventId", ErrInvalid)
	}
	if e.Kind == "" {
		return fmt.Errorf("%w: tracked event requires a kind", ErrInvalid)
	}
	if e.RecordedAt <= 0 {
		return fmt.Errorf("%w: tracked event requires recordedAt", ErrInvalid)
	}
	if e.Score < 0 || e.Score > 10 {
		return fmt.Errorf("%w: score %v outside [0,10]", ErrInvalid, e.Score)
	}
	return nil
}

func (e *TrackedEvent) Normalize() map[string]interface{} {
	return map[string]interface{}{
		"ownerId":    e.OwnerID,
		"kind":       normText(e.Kind),
		"score":      roundNum(e.Score),
		"note":       normText(e.Note),
		"tags":       normTags(e.Tags),
		"recordedAt": bucketMs(e.RecordedAt),
	}
}

// Achievement is a one-shot unlock record.
type Achievement struct {
	OwnerID    string  `json:"ownerId"`
	Code       string  `json:"code"`
	Progress   float64 `json:"progress,omitempty"`
	UnlockedAt int64   `json:"unlockedAt,omitempty"`
}

func (a *Achievement) EntityType() Type { return TypeAchievement }
func (a *Achievement) Owner() string    { return a.OwnerID }

func (a *Achievement) Validate() error {
	if a.OwnerID == "" {
		return ErrMissingOwner
	}
	if a.Code == "" {
		return fmt.Errorf("%w: achievement requires a code", ErrInvalid)
	}
	if a.Progress < 0 || a.Progress > 100 {
		return fmt.Errorf("%w: progress %v outside [0,100]", ErrInvalid, a.Progress)
	}
	return nil
}

func (a *Achievement) Normalize() map[string]interface{} {
	// UnlockedAt is deliberately excluded: unlocking the same code twice is
	// the same logical mutation (create-once semantics).
	return map[string]interface{}{
		"ownerId":  a.OwnerID,
		"code":     normText(a.Code),
		"progress": roundNum(a.Progress),
	}
}

// VoiceNote is an audio note with its transcript metadata.
type VoiceNote struct {
	OwnerID     string  `json:"ownerId"`
	NoteID      string  `json:"noteId,omitempty"`
	Transcript  string  `json:"transcript,omitempty"`
	DurationSec float64 `json:"durationSec"`
	CreatedAt   int64   `json:"createdAt"`
	UpdatedAt   int64   `json:"updatedAt,omitempty"`
}

func (v *VoiceNote) EntityType() Type { return TypeVoiceNote }
func (v *VoiceNote) Owner() string    { return v.OwnerID }

func (v *VoiceNote) Validate() error {
	if v.OwnerID == "" {
		return ErrMissingOwner
	}
	if v.NoteID == "" {
		return fmt.Errorf("%w: voice note requires a noteId", ErrInvalid)
	}
	if v.DurationSec <= 0 {
		return fmt.Errorf("%w: voice note requires a positive duration", ErrInvalid)
	}
	if v.CreatedAt <= 0 {
		return fmt.Errorf("%w: voice note requires createdAt", ErrInvalid)
	}
	return nil
}

func (v *VoiceNote) Normalize() map[string]interface{} {
	return map[string]interface{}{
		"ownerId":     v.OwnerID,
		"transcript":  normText(v.Transcript),
		"durationSec": roundNum(v.DurationSec),
		"createdAt":   bucketMs(v.CreatedAt),
	}
}

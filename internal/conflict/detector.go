package conflict

import (
	"math"
	"strings"
	"time"

	"github.com/pacekit/syncd/internal/entity"
)

// Type classifies the relationship between a local and a remote document.
type Type string

const (
	None            Type = "NONE"
	CreateDuplicate Type = "CREATE_DUPLICATE"
	UpdateConflict  Type = "UPDATE_CONFLICT"
	DeleteConflict  Type = "DELETE_CONFLICT"
)

// timestampFields is probed in order; the first field holding a valid
// timestamp wins.
var timestampFields = []string{"updatedAt", "timestamp", "modifiedAt", "createdAt"}

// timestampOf extracts a document's effective timestamp in epoch
// milliseconds. It returns 0 when no candidate field holds a usable value.
func timestampOf(doc map[string]interface{}) int64 {
	for _, field := range timestampFields {
		v, ok := doc[field]
		if !ok {
			continue
		}
		if ms := asMillis(v); ms > 0 {
			return ms
		}
	}
	return 0
}

func asMillis(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			return parsed.UnixMilli()
		}
	case time.Time:
		return t.UnixMilli()
	}
	return 0
}

func isDeleted(doc map[string]interface{}) bool {
	if v, ok := doc["deleted"].(bool); ok && v {
		return true
	}
	return false
}

func hasRemoteID(doc map[string]interface{}) bool {
	for _, field := range []string{"id", "remoteId"} {
		if v, ok := doc[field].(string); ok && v != "" {
			return true
		}
	}
	return false
}

func textOf(doc map[string]interface{}, field string) string {
	v, _ := doc[field].(string)
	return strings.ToLower(strings.TrimSpace(v))
}

func numOf(doc map[string]interface{}, field string) (float64, bool) {
	switch t := doc[field].(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	}
	return 0, false
}

// Detector classifies local/remote document pairs.
type Detector struct{}

// NewDetector returns a detector.
func NewDetector() *Detector { return &Detector{} }

// Classify decides how local and remote relate. Both documents are field
// maps as produced by the entity codec or fetched from the remote store.
func (d *Detector) Classify(local, remote map[string]interface{}, entityType entity.Type) Type {
	if local == nil || remote == nil {
		return None
	}
	if isDeleted(local) || isDeleted(remote) {
		return DeleteConflict
	}
	if !hasRemoteID(local) && d.similar(local, remote, entityType) {
		return CreateDuplicate
	}
	lts, rts := timestampOf(local), timestampOf(remote)
	if lts > 0 && rts > 0 && lts != rts {
		return UpdateConflict
	}
	return None
}

// similar applies entity-specific material-identity heuristics: same owner,
// numeric values within tolerance, and overlapping free-text prefixes.
func (d *Detector) similar(local, remote map[string]interface{}, entityType entity.Type) bool {
	if textOf(local, "ownerId") == "" || textOf(local, "ownerId") != textOf(remote, "ownerId") {
		return false
	}
	switch entityType {
	case entity.TypeTrackedEvent:
		if textOf(local, "kind") != textOf(remote, "kind") {
			return false
		}
		if !numClose(local, remote, "score", 0.5) {
			return false
		}
		if !tsClose(local, remote, "recordedAt", 2*time.Minute) {
			return false
		}
		return textPrefixOverlap(textOf(local, "note"), textOf(remote, "note"))
	case entity.TypeAchievement:
		return textOf(local, "code") != "" && textOf(local, "code") == textOf(remote, "code")
	case entity.TypeVoiceNote:
		if !numClose(local, remote, "durationSec", 1.0) {
			return false
		}
		return textPrefixOverlap(textOf(local, "transcript"), textOf(remote, "transcript"))
	case entity.TypeProfile:
		// A profile is a per-owner singleton; same owner is enough.
		return true
	default:
		return false
	}
}

func numClose(local, remote map[string]interface{}, field string, tolerance float64) bool {
	lv, lok := numOf(local, field)
	rv, rok := numOf(remote, field)
	if !lok || !rok {
		return lok == rok
	}
	return math.Abs(lv-rv) <= tolerance
}

func tsClose(local, remote map[string]interface{}, field string, within time.Duration) bool {
	lv, lok := numOf(local, field)
	rv, rok := numOf(remote, field)
	if !lok || !rok {
		return false
	}
	return math.Abs(lv-rv) <= float64(within.Milliseconds())
}

// textPrefixOverlap reports whether one string is a prefix of the other
// over at least a small shared window. Two empty strings overlap.
func textPrefixOverlap(a, b string) bool {
	if a == "" && b == "" {
		return true
	}
	if a == "" || b == "" {
		return false
	}
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n > 16 {
		n = 16
	}
	return a[:n] == b[:n]
}

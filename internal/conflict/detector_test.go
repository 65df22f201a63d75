package conflict

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pacekit/syncd/internal/entity"
)

func TestClassifyNone(t *testing.T) {
	d := NewDetector()

	assert.Equal(t, None, d.Classify(nil, map[string]interface{}{}, entity.TypeProfile))

	local := map[string]interface{}{"ownerId": "u1", "id": "r-1", "updatedAt": int64(1000)}
	remote := map[string]interface{}{"ownerId": "u1", "id": "r-1", "updatedAt": int64(1000)}
	assert.Equal(t, None, d.Classify(local, remote, entity.TypeProfile))
}

func TestClassifyUpdateConflict(t *testing.T) {
	d := NewDetector()

	local := map[string]interface{}{"ownerId": "u1", "id": "r-1", "updatedAt": int64(2000)}
	remote := map[string]interface{}{"ownerId": "u1", "id": "r-1", "updatedAt": int64(1000)}
	assert.Equal(t, UpdateConflict, d.Classify(local, remote, entity.TypeProfile))
}

func TestTimestampFieldProbeOrder(t *testing.T) {
	d := NewDetector()

	// updatedAt beats createdAt when both exist.
	local := map[string]interface{}{"ownerId": "u1", "id": "r-1", "updatedAt": int64(5000), "createdAt": int64(1000)}
	remote := map[string]interface{}{"ownerId": "u1", "id": "r-1", "createdAt": int64(1000)}
	assert.Equal(t, UpdateConflict, d.Classify(local, remote, entity.TypeProfile))

	assert.Equal(t, int64(5000), timestampOf(local))
	assert.Equal(t, int64(1000), timestampOf(remote))
}

func TestRFC3339TimestampsAccepted(t *testing.T) {
	doc := map[string]interface{}{"updatedAt": "2026-08-01T10:00:00Z"}
	assert.Positive(t, timestampOf(doc))
}

func TestClassifyDeleteConflict(t *testing.T) {
	d := NewDetector()

	local := map[string]interface{}{"ownerId": "u1", "id": "r-1", "deleted": true}
	remote := map[string]interface{}{"ownerId": "u1", "id": "r-1", "updatedAt": int64(1000)}
	assert.Equal(t, DeleteConflict, d.Classify(local, remote, entity.TypeTrackedEvent))
	assert.Equal(t, DeleteConflict, d.Classify(remote, local, entity.TypeTrackedEvent))
}

func TestClassifyCreateDuplicateTrackedEvent(t *testing.T) {
	d := NewDetector()

	local := map[string]interface{}{
		"ownerId":    "u1",
		"kind":       "run",
		"score":      7.0,
		"note":       "morning run around the park",
		"recordedAt": int64(1700000000000),
	}
	remote := map[string]interface{}{
		"id":         "r-9",
		"ownerId":    "u1",
		"kind":       "Run",
		"score":      7.2,
		"note":       "morning run around the block",
		"recordedAt": int64(1700000030000),
	}
	assert.Equal(t, CreateDuplicate, d.Classify(local, remote, entity.TypeTrackedEvent))

	// A local record that already has a remote id is never a create duplicate.
	withID := cloneDoc(local)
	withID["id"] = "r-9"
	assert.Equal(t, None, d.Classify(withID, remote, entity.TypeTrackedEvent))

	// Different owner, not a duplicate.
	otherOwner := cloneDoc(remote)
	otherOwner["ownerId"] = "u2"
	assert.Equal(t, None, d.Classify(local, otherOwner, entity.TypeTrackedEvent))

	// Score outside tolerance, not a duplicate.
	farScore := cloneDoc(remote)
	farScore["score"] = 3.0
	assert.Equal(t, None, d.Classify(local, farScore, entity.TypeTrackedEvent))
}

func TestClassifyCreateDuplicateAchievement(t *testing.T) {
	d := NewDetector()

	local := map[string]interface{}{"ownerId": "u1", "code": "streak-7"}
	remote := map[string]interface{}{"id": "r-1", "ownerId": "u1", "code": "Streak-7"}
	assert.Equal(t, CreateDuplicate, d.Classify(local, remote, entity.TypeAchievement))

	other := map[string]interface{}{"id": "r-2", "ownerId": "u1", "code": "streak-30"}
	assert.Equal(t, None, d.Classify(local, other, entity.TypeAchievement))
}

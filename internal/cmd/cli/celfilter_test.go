package cli

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pacekit/syncd/internal/entity"
	"github.com/pacekit/syncd/internal/queue"
	"github.com/pacekit/syncd/pkg/id"
)

func filterItem() *queue.Item {
	return &queue.Item{
		ID:        id.NewGenerator().Next(),
		Operation: queue.OpDelete,
		Payload: &entity.TrackedEvent{
			OwnerID:    "u1",
			Kind:       "run",
			Score:      7,
			RecordedAt: 1700000000000,
		},
		EnqueuedAt: time.Now(),
		RetryCount: 2,
	}
}

func TestEmptyFilterMatchesEverything(t *testing.T) {
	f, err := newCELFilter("")
	require.NoError(t, err)
	assert.True(t, f.Eval(filterItem()))
}

func TestFilterOnItemFields(t *testing.T) {
	f, err := newCELFilter(`operation == "DELETE" && retry_count >= 2`)
	require.NoError(t, err)
	assert.True(t, f.Eval(filterItem()))

	f, err = newCELFilter(`entity == "profile"`)
	require.NoError(t, err)
	assert.False(t, f.Eval(filterItem()))
}

func TestFilterOnPayloadJSON(t *testing.T) {
	f, err := newCELFilter(`json.kind == "run" && json.score >= 5.0`)
	require.NoError(t, err)
	assert.True(t, f.Eval(filterItem()))
}

func TestInvalidFilterRejected(t *testing.T) {
	_, err := newCELFilter(`operation ==`)
	assert.Error(t, err)
}

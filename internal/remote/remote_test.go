package remote

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromStatusMapping(t *testing.T) {
	cases := []struct {
		code int
		kind Kind
	}{
		{400, KindValidation},
		{422, KindValidation},
		{403, KindForbidden},
		{409, KindConflict},
		{429, KindTransient},
		{500, KindTransient},
		{503, KindTransient},
		{404, KindUnknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.kind, FromStatus(tc.code, "x").Kind, "status %d", tc.code)
	}
}

func TestKindOfUnwrapsChains(t *testing.T) {
	err := fmt.Errorf("apply: %w", FromStatus(403, "nope"))
	assert.Equal(t, KindForbidden, KindOf(err))
	assert.True(t, IsForbidden(err))
	assert.False(t, IsTransient(err))
}

func TestUntypedErrorsAreTransient(t *testing.T) {
	assert.True(t, IsTransient(errors.New("connection reset")))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

package broker

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransient(t *testing.T) {
	base := errors.New("connection reset")
	err := Transient("balance", base)

	assert.True(t, IsTransient(err))
	assert.ErrorIs(t, err, base)
	assert.Contains(t, err.Error(), "balance")

	wrapped := fmt.Errorf("cycle: %w", err)
	assert.True(t, IsTransient(wrapped))

	// already transient errors are not wrapped twice
	assert.Same(t, err, Transient("other", err))

	assert.NoError(t, Transient("noop", nil))
	assert.False(t, IsTransient(base))
}

package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnavailable(t *testing.T) {
	err := Unavailable("insert metric", context.DeadlineExceeded)

	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "insert metric")
}

func TestUnavailableNil(t *testing.T) {
	assert.NoError(t, Unavailable("noop", nil))
	assert.False(t, errors.Is(Unavailable("noop", nil), ErrUnavailable))
}

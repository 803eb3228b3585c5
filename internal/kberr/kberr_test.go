package kberr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKinds(t *testing.T) {
	err := Network("get records", errors.New("connection refused"))
	assert.True(t, errors.Is(err, ErrNetwork))
	assert.False(t, errors.Is(err, ErrBackend))
	assert.Equal(t, "get records: network error: connection refused", err.Error())

	wrapped := fmt.Errorf("identify: %w", NotFound("update layer", "layer %q", "a"))
	assert.True(t, errors.Is(wrapped, ErrNotFound))
}

func TestValidation(t *testing.T) {
	v := NewValidation()
	require.NoError(t, v.Err("cb"))

	v.Add("No %s provided", "CB_ATTR")
	assert.False(t, v.IsValid)
	assert.Equal(t, []string{"No CB_ATTR provided"}, v.Errs)
	assert.True(t, errors.Is(v.Err("cb"), ErrInvalidConfiguration))
}

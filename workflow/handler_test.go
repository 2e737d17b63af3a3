package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerRegistry(t *testing.T) {
	reg := NewHandlerRegistry()
	require.NoError(t, reg.Register("publish", noop()))
	require.NoError(t, reg.Register("brief", noop()))

	err := reg.Register("brief", noop())
	assert.ErrorContains(t, err, "already registered")
	assert.Error(t, reg.Register("", noop()))
	assert.Error(t, reg.Register("x", nil))

	_, ok := reg.Get("brief")
	assert.True(t, ok)
	_, ok = reg.Get("missing")
	assert.False(t, ok)
	assert.Equal(t, []string{"brief", "publish"}, reg.Names())

	assert.Panics(t, func() { reg.MustRegister("brief", noop()) })
}

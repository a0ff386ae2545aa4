package buildinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersionPrefersLinkerValue(t *testing.T) {
	old := version
	t.Cleanup(func() { version = old })

	version = "v9.9.9"
	assert.Equal(t, "v9.9.9", Version())

	version = ""
	assert.NotEmpty(t, Version())
}

package audiograph

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePwLinkLine(t *testing.T) {
	id, name, ok := parsePwLinkLine("42 ingress-1:output_FL")
	assert.True(t, ok)
	assert.Equal(t, 42, id)
	assert.Equal(t, "ingress-1:output_FL", name)
}

func TestParsePwLinkLineRejectsMalformed(t *testing.T) {
	_, _, ok := parsePwLinkLine("not-a-number output_FL")
	assert.False(t, ok)

	_, _, ok = parsePwLinkLine("no-space-at-all")
	assert.False(t, ok)
}

func TestParsePwLinkLineTrimsNameWhitespace(t *testing.T) {
	id, name, ok := parsePwLinkLine("7   smartphone-mic-0-sink:input_FL  ")
	assert.True(t, ok)
	assert.Equal(t, 7, id)
	assert.Equal(t, "smartphone-mic-0-sink:input_FL", name)
}

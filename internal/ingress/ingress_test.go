package ingress

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadAnswerIgnoresLinesBeforeMarker(t *testing.T) {
	payload, err := json.Marshal(sdpPayload{SDP: "v=0...", Type: "answer"})
	require.NoError(t, err)
	encoded := base64.StdEncoding.EncodeToString(payload)

	stdout := strings.NewReader(strings.Join([]string{
		"some unrelated startup noise",
		connectionStateMarker,
		encoded,
		"",
	}, "\n"))

	answer, err := readAnswer(stdout)
	require.NoError(t, err)
	assert.Equal(t, "v=0...", answer)
}

func TestReadAnswerConcatenatesSplitPayload(t *testing.T) {
	payload, err := json.Marshal(sdpPayload{SDP: "v=0 split", Type: "answer"})
	require.NoError(t, err)
	encoded := base64.StdEncoding.EncodeToString(payload)
	mid := len(encoded) / 2

	stdout := strings.NewReader(strings.Join([]string{
		connectionStateMarker,
		encoded[:mid],
		encoded[mid:],
	}, "\n"))

	answer, err := readAnswer(stdout)
	require.NoError(t, err)
	assert.Equal(t, "v=0 split", answer)
}

func TestReadAnswerErrorsWhenStreamClosesWithoutAnswer(t *testing.T) {
	stdout := strings.NewReader(connectionStateMarker + "\nnot base64 json\n")
	_, err := readAnswer(stdout)
	assert.Error(t, err)
}

func TestClassifyChannel(t *testing.T) {
	assert.Equal(t, ChannelFL, classifyChannel("ingress-1_FL"))
	assert.Equal(t, ChannelFL, classifyChannel("ingress-1:fl"))
	assert.Equal(t, ChannelFR, classifyChannel("capture_front_right"))
	assert.Equal(t, ChannelOther, classifyChannel("ingress-1_monitor"))
}

func TestDiffPortsReturnsOnlyNewIDs(t *testing.T) {
	before := map[int]string{1: "a", 2: "b"}
	current := map[int]string{1: "a", 2: "b", 3: "c"}
	assert.Equal(t, map[int]string{3: "c"}, diffPorts(before, current))
}

func TestPeersOfExtractsOtherSideOfLink(t *testing.T) {
	listing := "10: ingress-1_FL\n  -> 20: null-sink:input_FL\n30: unrelated\n  -> 40: other\n"
	peers := peersOf(listing, map[int]bool{10: true})
	assert.Contains(t, peers, 20)
	assert.NotContains(t, peers, 30)
	assert.NotContains(t, peers, 40)
}

func TestSupervisorIsAliveFalseBeforeStart(t *testing.T) {
	sup := New(1, "/bin/true", nil, nil)
	assert.False(t, sup.IsAlive(context.Background()))
}

func TestSupervisorPortsEmptyBeforeDiscovery(t *testing.T) {
	sup := New(1, "/bin/true", nil, nil)
	assert.Empty(t, sup.Ports())
}

func TestSupervisorLinkName(t *testing.T) {
	sup := New(42, "/bin/true", nil, nil)
	assert.Equal(t, "ingress-42", sup.LinkName())
}

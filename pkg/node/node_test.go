package node

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	zencan "github.com/zencan/zencan"
	"github.com/zencan/zencan/pkg/config"
	"github.com/zencan/zencan/pkg/lss"
	"github.com/zencan/zencan/pkg/nmt"
	"github.com/zencan/zencan/pkg/od"
)

func buildTestOD(t *testing.T) *od.ObjectDictionary {
	t.Helper()
	doc := &config.Document{DeviceName: "node-test"}
	odict, err := config.Compile(nil, doc, 1)
	require.NoError(t, err)
	return odict
}

// TestUnconfiguredNodeDoesNotPanic covers spec.md line 41: a node with no
// assigned node id runs LSS only, and spec.md §7's "never panics on valid
// input" still applies to it. Before this test, NewNode left nmt, emcy,
// sync, sdoServer and hbConsumer nil for an unconfigured id, and Process
// dereferenced every one of them unconditionally.
func TestUnconfiguredNodeDoesNotPanic(t *testing.T) {
	odict := buildTestOD(t)

	var frames []zencan.Frame
	tx := func(f zencan.Frame) error {
		frames = append(frames, f)
		return nil
	}

	n, err := NewNode(nil, odict, lss.NodeIdUnconfigured, Config{}, 0, tx)
	require.NoError(t, err)

	assert.Equal(t, nmt.StateUnknown, n.GetNMTState())
	assert.Equal(t, uint8(lss.NodeIdUnconfigured), n.GetID())

	assert.NotPanics(t, func() {
		require.True(t, n.StoreMessage(zencan.Frame{ID: 0x000, DLC: 2, Data: [8]byte{0x01, 0x00}}))
		reset := n.Process(0, tx)
		assert.Equal(t, nmt.ResetNot, reset)
	})
}

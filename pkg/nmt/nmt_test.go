package nmt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	zencan "github.com/zencan/zencan"
	"github.com/zencan/zencan/pkg/config"
	"github.com/zencan/zencan/pkg/od"
)

func buildTestOD(t *testing.T) *od.ObjectDictionary {
	t.Helper()
	doc := &config.Document{DeviceName: "nmt-test"}
	odict, err := config.Compile(nil, doc, 7)
	require.NoError(t, err)
	return odict
}

// TestBootSequence exercises spec.md §8 scenario 3: on start with node id 7
// a single boot-up frame with payload [0x00] is emitted, the node settles
// in PreOperational, and an NMT Start command addressed to it (or
// broadcast) moves it to Operational, after which 0x1017 = 1000 drives
// heartbeat frames carrying [0x05].
func TestBootSequence(t *testing.T) {
	odict := buildTestOD(t)
	entry1017 := odict.Index(od.EntryProducerHeartbeatTime)
	require.NoError(t, entry1017.PutUint16(0, 1000, true))

	n, err := NewNMT(nil, 7, 0, entry1017)
	require.NoError(t, err)

	var frames []zencan.Frame
	tx := func(f zencan.Frame) error {
		frames = append(frames, f)
		return nil
	}

	n.Start(0, tx)
	require.Len(t, frames, 1)
	assert.Equal(t, uint32(0x707), frames[0].ID)
	assert.Equal(t, byte(0x00), frames[0].Data[0])
	assert.Equal(t, StatePreOperational, n.GetState())

	startCmd := zencan.Frame{ID: 0x000, DLC: 2, Data: [8]byte{0x01, 0x07}}
	n.Handle(startCmd, 1000, tx)
	require.Len(t, frames, 2)
	assert.Equal(t, byte(StateOperational), frames[1].Data[0])
	assert.Equal(t, StateOperational, n.GetState())

	// No heartbeat yet: the producer deadline was just reset by the state
	// change at nowUs=1000, and 1000us later is still well inside 1000ms.
	n.Process(2000, tx)
	require.Len(t, frames, 2)

	// 1000ms after the last heartbeat, the periodic producer fires.
	n.Process(1_000_000+1000, tx)
	require.Len(t, frames, 3)
	assert.Equal(t, uint32(0x707), frames[2].ID)
	assert.Equal(t, byte(0x05), frames[2].Data[0])
}

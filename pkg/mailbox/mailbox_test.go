package mailbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	zencan "github.com/zencan/zencan"
)

func TestCapacityRoundsToPowerOfTwo(t *testing.T) {
	assert.Equal(t, 8, New(5).Cap())
	assert.Equal(t, 16, New(16).Cap())
	assert.Equal(t, 1, New(1).Cap())
}

func TestFIFOOrder(t *testing.T) {
	m := New(8)
	for i := 0; i < 5; i++ {
		require.True(t, m.Store(zencan.Frame{ID: uint32(0x200 + i), DLC: 1, Data: [8]byte{byte(i)}}))
	}
	assert.Equal(t, 5, m.Len())

	var drained []uint32
	m.Drain(func(f zencan.Frame) bool {
		drained = append(drained, f.ID)
		return true
	})
	assert.Equal(t, []uint32{0x200, 0x201, 0x202, 0x203, 0x204}, drained)
	assert.Equal(t, 0, m.Len())
}

func TestOverflowDropsNewestAndSticks(t *testing.T) {
	m := New(4)
	for i := 0; i < 4; i++ {
		require.True(t, m.Store(zencan.Frame{ID: uint32(i)}))
	}
	assert.False(t, m.Store(zencan.Frame{ID: 99}))
	assert.Equal(t, 4, m.Len())

	// The earlier frames survive intact; only the newest was dropped.
	var drained []uint32
	m.Drain(func(f zencan.Frame) bool {
		drained = append(drained, f.ID)
		return true
	})
	assert.Equal(t, []uint32{0, 1, 2, 3}, drained)

	// Sticky until read, cleared by reading.
	assert.True(t, m.Overflowed())
	assert.False(t, m.Overflowed())
}

func TestDrainStopsEarly(t *testing.T) {
	m := New(8)
	for i := 0; i < 3; i++ {
		require.True(t, m.Store(zencan.Frame{ID: uint32(i)}))
	}
	count := 0
	m.Drain(func(f zencan.Frame) bool {
		count++
		return false
	})
	assert.Equal(t, 1, count)
	assert.Equal(t, 2, m.Len())
}

func TestProcessNotify(t *testing.T) {
	m := New(4)
	notified := 0
	m.SetProcessNotify(func() { notified++ })

	require.True(t, m.Store(zencan.Frame{ID: 1}))
	require.True(t, m.Store(zencan.Frame{ID: 2}))
	assert.Equal(t, 2, notified)

	// A dropped store does not notify.
	require.True(t, m.Store(zencan.Frame{ID: 3}))
	require.True(t, m.Store(zencan.Frame{ID: 4}))
	assert.False(t, m.Store(zencan.Frame{ID: 5}))
	assert.Equal(t, 4, notified)

	m.SetProcessNotify(nil)
	m.Drain(func(zencan.Frame) bool { return true })
	require.True(t, m.Store(zencan.Frame{ID: 6}))
	assert.Equal(t, 4, notified)
}

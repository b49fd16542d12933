package pdo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	zencan "github.com/zencan/zencan"
	"github.com/zencan/zencan/pkg/od"
	"github.com/zencan/zencan/pkg/sync"
)

// TestRPDOEventCommitsImmediately exercises spec.md §8 scenario 5: an RPDO
// with transmission type 0xFF (event) unpacks its mapped value into the
// object dictionary as soon as the frame is handled, with no SYNC needed.
func TestRPDOEventCommitsImmediately(t *testing.T) {
	odict := buildTestOD(t)
	emcy := newTestEMCY(t, odict)
	syncSvc, err := sync.NewSYNC(nil, emcy, odict.Index(od.EntryCobIdSYNC), odict.Index(od.EntryCommunicationCyclePeriod), odict.Index(od.EntrySynchronousWindowLength), odict.Index(od.EntrySynchronousCounterOverflow))
	require.NoError(t, err)

	_, err = odict.AddVariableType(0x3000, "RPDO target", od.UNSIGNED32, od.AttributeSdoRw|od.AttributeRpdo, "0x0")
	require.NoError(t, err)

	entry14xx := odict.Index(od.EntryRPDOCommunicationStart)
	entry16xx := odict.Index(od.EntryRPDOMappingStart)
	require.NotNil(t, entry14xx)
	require.NotNil(t, entry16xx)

	require.NoError(t, entry14xx.PutUint32(od.SubPdoCobId, 0x205, true))
	require.NoError(t, entry14xx.PutUint8(od.SubPdoTransmissionType, 0xFF, true))

	require.NoError(t, entry16xx.PutUint8(od.SubPdoNbMappings, 1, true))
	mapEntry := (uint32(0x3000) << 16) | (uint32(0) << 8) | 32
	require.NoError(t, entry16xx.PutUint32(1, mapEntry, true))

	rpdo, err := NewRPDO(nil, odict, emcy, syncSvc, entry14xx, entry16xx, 0x200+5)
	require.NoError(t, err)
	require.True(t, rpdo.pdo.Valid)
	assert.False(t, rpdo.synchronous)

	rpdo.SetOperational(true, 0)

	frame := zencan.Frame{
		ID:   0x205,
		DLC:  4,
		Data: [8]byte{0x78, 0x56, 0x34, 0x12, 0, 0, 0, 0},
	}
	rpdo.Handle(frame, 1000, nil)

	got, err := odict.Index(0x3000).Uint32(0)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x12345678), got)
}

// TestRPDOSyncBuffersUntilToggle checks that a synchronous RPDO (type 0x00)
// buffers a received frame and only commits it to the object dictionary
// once Process observes the next SYNC toggle, per the comment on RPDO and
// spec.md's synchronous PDO model.
func TestRPDOSyncBuffersUntilToggle(t *testing.T) {
	odict := buildTestOD(t)
	emcy := newTestEMCY(t, odict)
	syncSvc, err := sync.NewSYNC(nil, emcy, odict.Index(od.EntryCobIdSYNC), odict.Index(od.EntryCommunicationCyclePeriod), odict.Index(od.EntrySynchronousWindowLength), odict.Index(od.EntrySynchronousCounterOverflow))
	require.NoError(t, err)

	_, err = odict.AddVariableType(0x3000, "RPDO target", od.UNSIGNED32, od.AttributeSdoRw|od.AttributeRpdo, "0x0")
	require.NoError(t, err)

	entry14xx := odict.Index(od.EntryRPDOCommunicationStart)
	entry16xx := odict.Index(od.EntryRPDOMappingStart)

	require.NoError(t, entry14xx.PutUint32(od.SubPdoCobId, 0x205, true))
	require.NoError(t, entry14xx.PutUint8(od.SubPdoTransmissionType, 0x00, true))

	require.NoError(t, entry16xx.PutUint8(od.SubPdoNbMappings, 1, true))
	mapEntry := (uint32(0x3000) << 16) | (uint32(0) << 8) | 32
	require.NoError(t, entry16xx.PutUint32(1, mapEntry, true))

	rpdo, err := NewRPDO(nil, odict, emcy, syncSvc, entry14xx, entry16xx, 0x200+5)
	require.NoError(t, err)
	require.True(t, rpdo.synchronous)
	rpdo.SetOperational(true, 0)

	frame := zencan.Frame{
		ID:   0x205,
		DLC:  4,
		Data: [8]byte{0x78, 0x56, 0x34, 0x12, 0, 0, 0, 0},
	}
	rpdo.Handle(frame, 0, nil)

	got, err := odict.Index(0x3000).Uint32(0)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), got, "synchronous RPDO must not commit before the next SYNC")

	syncFrame := zencan.Frame{ID: 0x80, DLC: 0}
	syncSvc.Handle(syncFrame, 1000)

	rpdo.Process(1000, nil)

	got, err = odict.Index(0x3000).Uint32(0)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x12345678), got, "commit should occur once Process observes the new toggle")
}

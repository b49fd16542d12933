package pdo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	zencan "github.com/zencan/zencan"
	"github.com/zencan/zencan/pkg/config"
	"github.com/zencan/zencan/pkg/emergency"
	"github.com/zencan/zencan/pkg/od"
	"github.com/zencan/zencan/pkg/sync"
)

// buildTestOD compiles a minimal device-config document with one TPDO, one
// RPDO and a custom mappable VAR object (0x2000), the same path
// cmd/zencan-gen drives from a file on disk (spec.md §6).
func buildTestOD(t *testing.T) *od.ObjectDictionary {
	t.Helper()
	doc := &config.Document{
		DeviceName: "pdo-test",
		NumTPDOs:   1,
		NumRPDOs:   1,
	}
	odict, err := config.Compile(nil, doc, 5)
	require.NoError(t, err)

	_, err = odict.AddVariableType(0x2000, "Test value", od.UNSIGNED16, od.AttributeSdoRw|od.AttributeTpdo, "0x0")
	require.NoError(t, err)
	return odict
}

func newTestEMCY(t *testing.T, odict *od.ObjectDictionary) *emergency.EMCY {
	t.Helper()
	emcy, err := emergency.NewEMCY(nil, 5, odict.Index(od.EntryCobIdEMCY), odict.Index(od.EntryInhibitTimeEMCY), odict.Index(od.EntryPredefinedErrorField), nil)
	require.NoError(t, err)
	return emcy
}

// TestTPDOEventDriven exercises spec.md §8 scenario 4: an event-driven
// TPDO (transmission type 0xFE) configured with a two-entry mapping fires
// as soon as its mapped value is written, carrying the new value
// little-endian.
func TestTPDOEventDriven(t *testing.T) {
	odict := buildTestOD(t)
	emcy := newTestEMCY(t, odict)
	syncSvc, err := sync.NewSYNC(nil, emcy, odict.Index(od.EntryCobIdSYNC), odict.Index(od.EntryCommunicationCyclePeriod), odict.Index(od.EntrySynchronousWindowLength), odict.Index(od.EntrySynchronousCounterOverflow))
	require.NoError(t, err)

	entry18xx := odict.Index(od.EntryTPDOCommunicationStart)
	entry1Axx := odict.Index(od.EntryTPDOMappingStart)
	require.NotNil(t, entry18xx)
	require.NotNil(t, entry1Axx)

	require.NoError(t, entry18xx.PutUint32(od.SubPdoCobId, 0x185, true))
	require.NoError(t, entry18xx.PutUint8(od.SubPdoTransmissionType, TransmissionTypeSyncEventHi-1, true)) // 0xFE
	require.NoError(t, entry18xx.PutUint16(od.SubPdoInhibitTime, 0, true))

	require.NoError(t, entry1Axx.PutUint8(od.SubPdoNbMappings, 1, true))
	mapEntry := (uint32(0x2000) << 16) | (uint32(0) << 8) | 16
	require.NoError(t, entry1Axx.PutUint32(1, mapEntry, true))

	tpdo, err := NewTPDO(nil, odict, emcy, syncSvc, entry18xx, entry1Axx, 0x180+5)
	require.NoError(t, err)
	require.True(t, tpdo.pdo.Valid)

	tpdo.SetOperational(true, 0)

	var got zencan.Frame
	tx := func(f zencan.Frame) error {
		got = f
		return nil
	}

	require.NoError(t, odict.Index(0x2000).PutUint16(0, 0x1234, true))
	tpdo.SendAsync(1000, tx)

	assert.Equal(t, uint32(0x185), got.ID)
	assert.Equal(t, uint8(2), got.DLC)
	assert.Equal(t, byte(0x34), got.Data[0])
	assert.Equal(t, byte(0x12), got.Data[1])
}

// TestTPDOInhibitDefersSend checks that a second event arriving before the
// inhibit window elapses is queued rather than dropped or sent early
// (spec.md §3 "PDO communication parameter", inhibit time).
func TestTPDOInhibitDefersSend(t *testing.T) {
	odict := buildTestOD(t)
	emcy := newTestEMCY(t, odict)
	syncSvc, err := sync.NewSYNC(nil, emcy, odict.Index(od.EntryCobIdSYNC), odict.Index(od.EntryCommunicationCyclePeriod), odict.Index(od.EntrySynchronousWindowLength), odict.Index(od.EntrySynchronousCounterOverflow))
	require.NoError(t, err)

	entry18xx := odict.Index(od.EntryTPDOCommunicationStart)
	entry1Axx := odict.Index(od.EntryTPDOMappingStart)

	require.NoError(t, entry18xx.PutUint32(od.SubPdoCobId, 0x185, true))
	require.NoError(t, entry18xx.PutUint8(od.SubPdoTransmissionType, 0xFE, true))
	require.NoError(t, entry18xx.PutUint16(od.SubPdoInhibitTime, 100, true)) // 100 * 100us = 10ms

	require.NoError(t, entry1Axx.PutUint8(od.SubPdoNbMappings, 1, true))
	mapEntry := (uint32(0x2000) << 16) | (uint32(0) << 8) | 16
	require.NoError(t, entry1Axx.PutUint32(1, mapEntry, true))

	tpdo, err := NewTPDO(nil, odict, emcy, syncSvc, entry18xx, entry1Axx, 0x180+5)
	require.NoError(t, err)
	tpdo.SetOperational(true, 0)

	sent := 0
	tx := func(zencan.Frame) error {
		sent++
		return nil
	}

	tpdo.SendAsync(0, tx)
	assert.Equal(t, 1, sent)

	// Second event inside the inhibit window: deferred, not sent.
	tpdo.SendAsync(1000, tx)
	assert.Equal(t, 1, sent)

	// Process after the inhibit window elapses: the deferred send fires.
	tpdo.Process(20000, tx)
	assert.Equal(t, 2, sent)
}

// TestTPDOMappingRejectsNonByteAlignedWidth covers spec.md line 93: a
// mapping entry whose bit width is not a multiple of 8 must abort with
// 0x06040042 (od.ErrMapLen), not the generic 0x06040041 (od.ErrNoMap).
func TestTPDOMappingRejectsNonByteAlignedWidth(t *testing.T) {
	odict := buildTestOD(t)
	emcy := newTestEMCY(t, odict)
	syncSvc, err := sync.NewSYNC(nil, emcy, odict.Index(od.EntryCobIdSYNC), odict.Index(od.EntryCommunicationCyclePeriod), odict.Index(od.EntrySynchronousWindowLength), odict.Index(od.EntrySynchronousCounterOverflow))
	require.NoError(t, err)

	entry18xx := odict.Index(od.EntryTPDOCommunicationStart)
	entry1Axx := odict.Index(od.EntryTPDOMappingStart)

	// Left at its default cob-id (canId 0) and zero mapped entries: the
	// constructed TPDO comes up disabled (pdo.Valid == false), so the
	// reconfiguration guard lets the write through to configureMap.
	tpdo, err := NewTPDO(nil, odict, emcy, syncSvc, entry18xx, entry1Axx, 0x180+5)
	require.NoError(t, err)
	require.False(t, tpdo.pdo.Valid)

	mapEntry := (uint32(0x2000) << 16) | (uint32(0) << 8) | 12 // 12 bits: not a multiple of 8
	err = entry1Axx.PutUint32(1, mapEntry, false)
	assert.ErrorIs(t, err, od.ErrMapLen)
}

// TestTPDOMappingReconfigurationGuard covers spec.md §4.3: while the PDO is
// enabled (valid bit clear), its mapping table is only writable if the
// node is PreOperational; otherwise the write aborts 0x06040041
// (od.ErrNoMap).
func TestTPDOMappingReconfigurationGuard(t *testing.T) {
	odict := buildTestOD(t)
	emcy := newTestEMCY(t, odict)
	syncSvc, err := sync.NewSYNC(nil, emcy, odict.Index(od.EntryCobIdSYNC), odict.Index(od.EntryCommunicationCyclePeriod), odict.Index(od.EntrySynchronousWindowLength), odict.Index(od.EntrySynchronousCounterOverflow))
	require.NoError(t, err)

	entry18xx := odict.Index(od.EntryTPDOCommunicationStart)
	entry1Axx := odict.Index(od.EntryTPDOMappingStart)

	require.NoError(t, entry18xx.PutUint32(od.SubPdoCobId, 0x185, true))
	require.NoError(t, entry1Axx.PutUint8(od.SubPdoNbMappings, 1, true))
	mapEntry := (uint32(0x2000) << 16) | (uint32(0) << 8) | 16
	require.NoError(t, entry1Axx.PutUint32(1, mapEntry, true))

	tpdo, err := NewTPDO(nil, odict, emcy, syncSvc, entry18xx, entry1Axx, 0x180+5)
	require.NoError(t, err)
	require.True(t, tpdo.pdo.Valid)

	// Not PreOperational (zero value / any state other than 127): rejected.
	err = entry1Axx.PutUint8(od.SubPdoNbMappings, 0, false)
	assert.ErrorIs(t, err, od.ErrNoMap)

	// PreOperational: accepted even though the PDO is still enabled.
	tpdo.SetNMTState(127)
	err = entry1Axx.PutUint8(od.SubPdoNbMappings, 0, false)
	assert.NoError(t, err)
}

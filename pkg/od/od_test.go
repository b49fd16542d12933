package od

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexLookup(t *testing.T) {
	odict := NewObjectDictionary(nil)
	// Insert out of order; lookup binary-searches the sorted slice.
	_, err := odict.AddVariableType(0x3000, "C", UNSIGNED8, AttributeSdoRw, "0x1")
	require.NoError(t, err)
	_, err = odict.AddVariableType(0x1000, "A", UNSIGNED32, AttributeSdoR, "0x0")
	require.NoError(t, err)
	_, err = odict.AddVariableType(0x2000, "B", UNSIGNED16, AttributeSdoRw, "0x22")
	require.NoError(t, err)

	entries := odict.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, uint16(0x1000), entries[0].Index)
	assert.Equal(t, uint16(0x2000), entries[1].Index)
	assert.Equal(t, uint16(0x3000), entries[2].Index)

	require.NotNil(t, odict.Index(0x2000))
	assert.Equal(t, "B", odict.Index(0x2000).Name)
	assert.Nil(t, odict.Index(0x9999))
	assert.Equal(t, odict.Index(0x3000), odict.Index("C"))
}

func TestReadAfterWrite(t *testing.T) {
	odict := NewObjectDictionary(nil)
	entry, err := odict.AddVariableType(0x2000, "Value", UNSIGNED16, AttributeSdoRw, "0x0")
	require.NoError(t, err)

	require.NoError(t, entry.PutUint16(0, 0x1234, true))
	got, err := entry.Uint16(0)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x1234), got)
}

func TestWrongSizeWriteRejected(t *testing.T) {
	odict := NewObjectDictionary(nil)
	entry, err := odict.AddVariableType(0x2000, "Value", UNSIGNED16, AttributeSdoRw, "0x42")
	require.NoError(t, err)

	err = entry.WriteExactly(0, []byte{1, 2, 3, 4}, true)
	assert.Equal(t, ErrTypeMismatch, err)

	// Value unchanged after the rejected write.
	got, err := entry.Uint16(0)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x42), got)
}

func TestRangeLimits(t *testing.T) {
	variable, err := NewVariableFromConfig(
		"Speed", 0x2000, 0, UNSIGNED16, "rw", false, "10", "5", "100", 0)
	require.NoError(t, err)
	odict := NewObjectDictionary(nil)
	entry := NewEntry(odict.logger, 0x2000, "Speed", variable, ObjectTypeVAR)
	odict.AddEntry(entry)

	assert.Equal(t, ErrValueHigh, entry.PutUint16(0, 200, true))
	assert.Equal(t, ErrValueLow, entry.PutUint16(0, 2, true))

	got, err := entry.Uint16(0)
	require.NoError(t, err)
	assert.Equal(t, uint16(10), got)

	require.NoError(t, entry.PutUint16(0, 99, true))
	got, err = entry.Uint16(0)
	require.NoError(t, err)
	assert.Equal(t, uint16(99), got)
}

func TestRecordSubAccess(t *testing.T) {
	rec := NewRecord()
	rec.AddSubObject(0, "Highest sub-index supported", UNSIGNED8, AttributeSdoR, "0x2")
	rec.AddSubObject(1, "First", UNSIGNED32, AttributeSdoRw, "0x11")
	rec.AddSubObject(2, "Second", UNSIGNED8, AttributeSdoRw, "0x22")

	odict := NewObjectDictionary(nil)
	entry := odict.AddVariableList(0x2100, "Pair", rec)
	assert.Equal(t, 3, entry.SubCount())

	count, err := entry.Uint8(0)
	require.NoError(t, err)
	assert.Equal(t, uint8(2), count)

	v, err := entry.Uint32(1)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x11), v)

	_, err = entry.Uint8(3)
	assert.Equal(t, ErrSubNotExist, err)
}

// TestStreamerSegmented writes a 10-byte string through the default writer
// in 7+3 byte chunks and reads it back in chunks, the same split a
// segmented SDO transfer produces.
func TestStreamerSegmented(t *testing.T) {
	odict := NewObjectDictionary(nil)
	_, err := odict.AddVariableType(0x2200, "Blob", VISIBLE_STRING, AttributeSdoRw|AttributeStr, "0123456789")
	require.NoError(t, err)

	payload := []byte("abcdefghij")

	streamer, err := odict.Streamer(0x2200, 0, true)
	require.NoError(t, err)
	n, err := streamer.Write(payload[:7])
	assert.Equal(t, ErrPartial, err)
	assert.Equal(t, 7, n)
	n, err = streamer.Write(payload[7:])
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	streamer, err = odict.Streamer(0x2200, 0, true)
	require.NoError(t, err)
	got := make([]byte, 10)
	n, err = streamer.Read(got[:7])
	assert.Equal(t, ErrPartial, err)
	assert.Equal(t, 7, n)
	n, err = streamer.Read(got[7:])
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, payload, got)
}

func TestWriteSubscription(t *testing.T) {
	odict := NewObjectDictionary(nil)
	entry, err := odict.AddVariableType(0x2000, "Value", UNSIGNED8, AttributeSdoRw, "0x0")
	require.NoError(t, err)

	var notified []uint8
	require.NoError(t, odict.SubscribeWrite(0x2000, 0, func(index uint16, subIndex uint8, data []byte) {
		assert.Equal(t, uint16(0x2000), index)
		notified = append(notified, data[0])
	}))

	// origin=false goes through the extension, origin=true bypasses it.
	require.NoError(t, entry.WriteExactly(0, []byte{7}, false))
	require.NoError(t, entry.WriteExactly(0, []byte{8}, true))
	assert.Equal(t, []uint8{7}, notified)

	got, err := entry.Uint8(0)
	require.NoError(t, err)
	assert.Equal(t, uint8(8), got)
}

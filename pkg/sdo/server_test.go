package sdo

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	zencan "github.com/zencan/zencan"
	"github.com/zencan/zencan/pkg/config"
	"github.com/zencan/zencan/pkg/nmt"
	"github.com/zencan/zencan/pkg/od"
)

func buildTestOD(t *testing.T) *od.ObjectDictionary {
	t.Helper()
	doc := &config.Document{DeviceName: "sdo-test"}
	odict, err := config.Compile(nil, doc, 5)
	require.NoError(t, err)
	_, err = odict.AddVariableType(0x2100, "Test value", od.UNSIGNED32, od.AttributeSdoRw, "0x0")
	require.NoError(t, err)
	return odict
}

// TestExpeditedDownload exercises spec.md §8 scenario 1: an expedited
// download of a 4-byte value into 0x2100 sub 0 is acknowledged and the
// written value reads back.
func TestExpeditedDownload(t *testing.T) {
	odict := buildTestOD(t)
	srv, err := NewServer(nil, odict, 5, 0)
	require.NoError(t, err)
	srv.SetNMTState(nmt.StateOperational)

	req := zencan.Frame{
		ID:   0x605,
		DLC:  8,
		Data: [8]byte{0x23, 0x00, 0x21, 0x00, 0x05, 0x00, 0x00, 0x00},
	}

	var resp zencan.Frame
	var gotResp bool
	srv.Handle(req, 0, func(f zencan.Frame) error {
		resp = f
		gotResp = true
		return nil
	})

	require.True(t, gotResp)
	assert.Equal(t, uint32(0x585), resp.ID)
	assert.Equal(t, [8]byte{0x60, 0x00, 0x21, 0x00, 0x00, 0x00, 0x00, 0x00}, resp.Data)

	got, err := odict.Index(0x2100).Uint32(0)
	require.NoError(t, err)
	assert.Equal(t, uint32(5), got)
}

// TestDownloadUnknownObject exercises spec.md §8 scenario 2: a download
// targeting an object that does not exist aborts with 0x06020000.
func TestDownloadUnknownObject(t *testing.T) {
	odict := buildTestOD(t)
	srv, err := NewServer(nil, odict, 5, 0)
	require.NoError(t, err)
	srv.SetNMTState(nmt.StateOperational)

	req := zencan.Frame{
		ID:   0x605,
		DLC:  8,
		Data: [8]byte{0x23, 0x99, 0x99, 0x00, 0x00, 0x00, 0x00, 0x00},
	}

	var resp zencan.Frame
	srv.Handle(req, 0, func(f zencan.Frame) error {
		resp = f
		return nil
	})

	assert.Equal(t, uint32(0x585), resp.ID)
	assert.Equal(t, uint8(0x80), resp.Data[0])
	assert.Equal(t, AbortNotExist, AbortCode(binary.LittleEndian.Uint32(resp.Data[4:8])))
}

// TestSegmentedRoundTrip writes a 10-byte string object across two download
// segments and checks the bytes read back identically (spec.md §8,
// "SDO segmented round-trip").
func TestSegmentedRoundTrip(t *testing.T) {
	odict := buildTestOD(t)
	_, err := odict.AddVariableType(0x2200, "Blob", od.VISIBLE_STRING, od.AttributeSdoRw|od.AttributeStr, "1234567890")
	require.NoError(t, err)

	srv, err := NewServer(nil, odict, 5, 0)
	require.NoError(t, err)
	srv.SetNMTState(nmt.StateOperational)

	var frames []zencan.Frame
	tx := func(f zencan.Frame) error {
		frames = append(frames, f)
		return nil
	}

	// Initiate segmented download, size indicated = 10 bytes, to 0x2200 sub 0.
	initiate := zencan.Frame{ID: 0x605, DLC: 8, Data: [8]byte{0x21, 0x00, 0x22, 0x00, 10, 0, 0, 0}}
	srv.Handle(initiate, 0, tx)
	require.Len(t, frames, 1)
	assert.Equal(t, byte(0x60), frames[0].Data[0]) // initiate download segment response

	payload := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}

	seg1 := zencan.Frame{ID: 0x605, DLC: 8}
	seg1.Data[0] = 0x00 // toggle 0, not last, 7 bytes
	copy(seg1.Data[1:], payload[0:7])
	srv.Handle(seg1, 0, tx)
	require.Len(t, frames, 2)

	// Toggle bit (0x10, flipped after segment 1) | last-segment bit (0x01) |
	// unused-byte count (7-3=4) encoded in bits 1-3 (4<<1 = 0x08).
	seg2 := zencan.Frame{ID: 0x605, DLC: 8}
	seg2.Data[0] = 0x10 | 0x01 | 0x08
	copy(seg2.Data[1:], payload[7:10])
	srv.Handle(seg2, 0, tx)
	require.Len(t, frames, 3)

	got := make([]byte, 10)
	require.NoError(t, odict.Index(0x2200).ReadExactly(0, got, true))
	assert.Equal(t, payload, got)
}

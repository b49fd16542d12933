package lss

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	zencan "github.com/zencan/zencan"
	"github.com/zencan/zencan/pkg/config"
	"github.com/zencan/zencan/pkg/od"
)

func buildIdentityOD(t *testing.T, identity config.Identity) *od.ObjectDictionary {
	t.Helper()
	doc := &config.Document{DeviceName: "lss-test", Identity: identity}
	odict, err := config.Compile(nil, doc, NodeIdUnconfigured)
	require.NoError(t, err)
	return odict
}

func fastscanFrame(idNumber uint32, bitCheck uint8, sub, next fastscanField) zencan.Frame {
	f := zencan.Frame{ID: ServiceMasterId, DLC: 8}
	f.Data[0] = byte(CmdFastscan)
	f.Data[1] = byte(idNumber)
	f.Data[2] = byte(idNumber >> 8)
	f.Data[3] = byte(idNumber >> 16)
	f.Data[4] = byte(idNumber >> 24)
	f.Data[5] = bitCheck
	f.Data[6] = byte(sub)
	f.Data[7] = byte(next)
	return f
}

// TestLSSFastscanSelectsMatchingSlave exercises spec.md §8 scenario 6: a
// fully matching fastscan sequence across all four identity fields selects
// the slave, and a subsequent configure-node-id command assigns it the
// requested id.
func TestLSSFastscanSelectsMatchingSlave(t *testing.T) {
	identity := config.Identity{VendorId: 0xCAFE, ProductCode: 32, RevisionNumber: 1, SerialNumber: 0xABCD1234}
	odict := buildIdentityOD(t, identity)

	slave, err := NewLSSSlave(nil, odict.Index(od.EntryIdentityObject), NodeIdUnconfigured)
	require.NoError(t, err)

	var acks int
	tx := func(zencan.Frame) error {
		acks++
		return nil
	}

	// Reset message: every unconfigured slave acknowledges and the scan
	// restarts at the vendor field.
	slave.Handle(fastscanFrame(0, fastscanResetBitCheck, fastscanVendor, fastscanVendor), 0, tx)
	require.Equal(t, 1, acks)
	assert.Equal(t, StateScanningVendor, slave.GetState())

	// Each probe narrows bitCheck to 0, fully matching one field at a time.
	slave.Handle(fastscanFrame(identity.VendorId, 0, fastscanVendor, fastscanProduct), 0, tx)
	require.Equal(t, 2, acks)
	assert.Equal(t, StateScanningProduct, slave.GetState())

	slave.Handle(fastscanFrame(identity.ProductCode, 0, fastscanProduct, fastscanRevision), 0, tx)
	require.Equal(t, 3, acks)
	assert.Equal(t, StateScanningRevision, slave.GetState())

	slave.Handle(fastscanFrame(identity.RevisionNumber, 0, fastscanRevision, fastscanSerial), 0, tx)
	require.Equal(t, 4, acks)
	assert.Equal(t, StateScanningSerial, slave.GetState())

	slave.Handle(fastscanFrame(identity.SerialNumber, 0, fastscanSerial, fastscanSerial), 0, tx)
	require.Equal(t, 5, acks)
	assert.Equal(t, StateSelected, slave.GetState())

	// Selected slave stays quiet on further fastscan probes.
	slave.Handle(fastscanFrame(identity.VendorId, 0, fastscanVendor, fastscanProduct), 0, tx)
	assert.Equal(t, 5, acks)

	// Configure-node-id assigns id 10; it only applies once the caller
	// invokes ApplyPendingNodeId (after NMT reset, per CiA 305).
	var resp zencan.Frame
	configFrame := zencan.Frame{ID: ServiceMasterId, DLC: 8}
	configFrame.Data[0] = byte(CmdConfigureNodeId)
	configFrame.Data[1] = 10
	slave.Handle(configFrame, 0, func(f zencan.Frame) error {
		resp = f
		return nil
	})
	assert.Equal(t, byte(CmdConfigureNodeId), resp.Data[0])
	assert.Equal(t, byte(ConfigNodeIdOk), resp.Data[1])

	assert.Equal(t, uint8(NodeIdUnconfigured), slave.GetNodeIdActive())
	slave.ApplyPendingNodeId()
	assert.Equal(t, uint8(10), slave.GetNodeIdActive())
}

// TestLSSFastscanMismatchStaysQuiet checks that a candidate value which
// does not match the slave's own identity field produces no acknowledge.
func TestLSSFastscanMismatchStaysQuiet(t *testing.T) {
	identity := config.Identity{VendorId: 0xCAFE, ProductCode: 32, RevisionNumber: 1, SerialNumber: 0xABCD1234}
	odict := buildIdentityOD(t, identity)

	slave, err := NewLSSSlave(nil, odict.Index(od.EntryIdentityObject), NodeIdUnconfigured)
	require.NoError(t, err)

	var acks int
	tx := func(zencan.Frame) error {
		acks++
		return nil
	}

	slave.Handle(fastscanFrame(0, fastscanResetBitCheck, fastscanVendor, fastscanVendor), 0, tx)
	require.Equal(t, 1, acks)

	slave.Handle(fastscanFrame(identity.VendorId+1, 0, fastscanVendor, fastscanProduct), 0, tx)
	assert.Equal(t, 1, acks, "a non-matching candidate must not be acknowledged")
	assert.Equal(t, StateScanningVendor, slave.GetState())
}

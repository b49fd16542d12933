package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zencan/zencan/pkg/od"
)

const sampleDocument = `
[device]
name = widget

[identity]
vendor_id = 0xCAFE
product_code = 32
revision_number = 1

[pdos]
num_tpdos = 2
num_rpdos = 1

[2000]
parameter_name = Sensor reading
object_type = var
data_type = uint16
access_type = rw
default_value = 0x0
pdo_mapping = tpdo

[2100]
parameter_name = Limits
object_type = record

[2100sub1]
parameter_name = Low
data_type = int32
access_type = rw
default_value = -5

[2100sub2]
parameter_name = High
data_type = int32
access_type = rw
default_value = 5

[bootloader]
sections = app,config
programmable_in_app = true,false
`

func loadSample(t *testing.T, content string) *Document {
	t.Helper()
	path := filepath.Join(t.TempDir(), "device.ini")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	doc, err := Load(path)
	require.NoError(t, err)
	return doc
}

func TestLoadDocument(t *testing.T) {
	doc := loadSample(t, sampleDocument)

	assert.Equal(t, "widget", doc.DeviceName)
	assert.Equal(t, uint32(0xCAFE), doc.Identity.VendorId)
	assert.Equal(t, uint32(32), doc.Identity.ProductCode)
	assert.Equal(t, uint32(1), doc.Identity.RevisionNumber)
	assert.Equal(t, uint8(2), doc.NumTPDOs)
	assert.Equal(t, uint8(1), doc.NumRPDOs)
	require.Len(t, doc.Objects, 2)

	require.NotNil(t, doc.Bootloader)
	require.Len(t, doc.Bootloader.Sections, 2)
	assert.Equal(t, "app", doc.Bootloader.Sections[0].Name)
	assert.True(t, doc.Bootloader.Sections[0].ProgrammableInApp)
	assert.False(t, doc.Bootloader.Sections[1].ProgrammableInApp)

	require.NoError(t, doc.Validate())
}

func TestValidateRejectsReservedIndex(t *testing.T) {
	doc := loadSample(t, sampleDocument)
	doc.Objects[0].Index = 0x1018
	err := doc.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reserved")
	// The error is positional, naming the source section.
	assert.Contains(t, err.Error(), "[2000]")
}

func TestValidateRejectsNonContiguousSubs(t *testing.T) {
	doc := loadSample(t, sampleDocument)
	doc.Objects[1].Subs[1].SubIndex = 3
	err := doc.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "contiguous")
}

func TestValidateRejectsBadDefault(t *testing.T) {
	doc := loadSample(t, sampleDocument)
	doc.Objects[0].DefaultValue = "not-a-number"
	err := doc.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "default_value")
}

func TestCompileStandardObjects(t *testing.T) {
	doc := loadSample(t, sampleDocument)
	odict, err := Compile(nil, doc, 5)
	require.NoError(t, err)

	for _, index := range []uint16{
		od.EntryDeviceType,
		od.EntryErrorRegister,
		od.EntryPredefinedErrorField,
		od.EntryCobIdSYNC,
		od.EntryCobIdEMCY,
		od.EntryConsumerHeartbeatTime,
		od.EntryProducerHeartbeatTime,
		od.EntryIdentityObject,
		od.EntrySDOServerParameter,
	} {
		assert.NotNil(t, odict.Index(index), "missing standard object 0x%04X", index)
	}

	vendor, err := odict.Index(od.EntryIdentityObject).Uint32(1)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xCAFE), vendor)

	cobIdRx, err := odict.Index(od.EntrySDOServerParameter).Uint32(1)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x605), cobIdRx)
}

func TestCompilePDOSlots(t *testing.T) {
	doc := loadSample(t, sampleDocument)
	odict, err := Compile(nil, doc, 5)
	require.NoError(t, err)

	// num_tpdos = 2, num_rpdos = 1 from the document.
	assert.NotNil(t, odict.Index(od.EntryTPDOCommunicationStart))
	assert.NotNil(t, odict.Index(od.EntryTPDOCommunicationStart+1))
	assert.Nil(t, odict.Index(od.EntryTPDOCommunicationStart+2))
	assert.NotNil(t, odict.Index(od.EntryTPDOMappingStart))
	assert.NotNil(t, odict.Index(od.EntryRPDOCommunicationStart))
	assert.Nil(t, odict.Index(od.EntryRPDOCommunicationStart+1))
	assert.NotNil(t, odict.Index(od.EntryRPDOMappingStart))
}

func TestCompileCustomObjects(t *testing.T) {
	doc := loadSample(t, sampleDocument)
	odict, err := Compile(nil, doc, 5)
	require.NoError(t, err)

	sensor := odict.Index(0x2000)
	require.NotNil(t, sensor)
	v, err := sensor.Uint16(0)
	require.NoError(t, err)
	assert.Equal(t, uint16(0), v)

	limits := odict.Index(0x2100)
	require.NotNil(t, limits)
	assert.Equal(t, 3, limits.SubCount())
	count, err := limits.Uint8(0)
	require.NoError(t, err)
	assert.Equal(t, uint8(2), count)
}

func TestCompileBootloaderObjects(t *testing.T) {
	doc := loadSample(t, sampleDocument)
	odict, err := Compile(nil, doc, 5)
	require.NoError(t, err)

	require.NotNil(t, odict.Index(od.EntryBootloaderControl))
	require.NotNil(t, odict.Index(od.EntryBootloaderSectionStart))
	require.NotNil(t, odict.Index(od.EntryBootloaderSectionStart+1))
	assert.Nil(t, odict.Index(od.EntryBootloaderSectionStart+2))

	doc.Bootloader = nil
	odict, err = Compile(nil, doc, 5)
	require.NoError(t, err)
	assert.Nil(t, odict.Index(od.EntryBootloaderControl))
}

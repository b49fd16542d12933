package config

import (
	"fmt"
	"log/slog"

	"github.com/zencan/zencan/pkg/od"
)

// predefinedErrorFieldDepth sizes 0x1003 (Pre-defined Error Field): sub 0
// plus this many history slots. The emergency package reads
// entry1003.SubCount() directly as its pending-error FIFO capacity.
const predefinedErrorFieldDepth = 8

// consumerHeartbeatDepth sizes 0x1016 (Consumer Heartbeat Time): sub 0
// plus this many monitor slots, each reconfigurable over SDO at runtime.
const consumerHeartbeatDepth = 4

// Compile builds a static object dictionary from doc: the mandatory CiA
// 301 standard objects node.NewNode requires, the custom objects the
// document declares, PDO comm/mapping slots sized by NumTPDOs/NumRPDOs, and
// the bootloader objects if doc.Bootloader is set. doc must already have
// passed Validate.
func Compile(logger *slog.Logger, doc *Document, nodeId uint8) (*od.ObjectDictionary, error) {
	if logger == nil {
		logger = slog.Default()
	}
	odict := od.NewObjectDictionary(logger)

	addStandardObjects(odict, doc, nodeId)

	for i := uint16(0); i < uint16(doc.NumRPDOs); i++ {
		if err := odict.AddRPDO(i + 1); err != nil {
			return nil, fmt.Errorf("config: adding RPDO %d: %w", i+1, err)
		}
	}
	for i := uint16(0); i < uint16(doc.NumTPDOs); i++ {
		if err := odict.AddTPDO(i + 1); err != nil {
			return nil, fmt.Errorf("config: adding TPDO %d: %w", i+1, err)
		}
	}

	for _, obj := range doc.Objects {
		if err := addCustomObject(odict, obj, nodeId); err != nil {
			return nil, err
		}
	}

	if doc.Bootloader != nil {
		addBootloaderObjects(odict, doc.Bootloader)
	}

	return odict, nil
}

// addStandardObjects adds every object node.NewNode unconditionally looks
// up: identity (0x1018), error register (0x1001), pre-defined error field
// (0x1003), EMCY cob-id/inhibit (0x1014/0x1015), heartbeat consumer/producer
// (0x1016/0x1017), SYNC (0x1005/0x1006/0x1007/0x1019), and SDO server
// parameters (0x1200).
func addStandardObjects(odict *od.ObjectDictionary, doc *Document, nodeId uint8) {
	if doc.DeviceName != "" {
		odict.AddVariableType(od.EntryManufacturerDeviceName, "Manufacturer device name", od.VISIBLE_STRING, od.AttributeSdoR, doc.DeviceName)
	}
	odict.AddVariableType(od.EntryDeviceType, "Device type", od.UNSIGNED32, od.AttributeSdoR, "0x0")
	odict.AddVariableType(od.EntryErrorRegister, "Error register", od.UNSIGNED8, od.AttributeSdoR, "0x0")

	errorField := od.NewArray(predefinedErrorFieldDepth + 1)
	errorField.AddSubObject(0, "Number of errors", od.UNSIGNED8, od.AttributeSdoRw, "0x0")
	for i := 1; i <= predefinedErrorFieldDepth; i++ {
		errorField.AddSubObject(uint8(i), fmt.Sprintf("Standard error field %d", i), od.UNSIGNED32, od.AttributeSdoR, "0x0")
	}
	odict.AddVariableList(od.EntryPredefinedErrorField, "Pre-defined error field", errorField)

	odict.AddVariableType(od.EntryCobIdEMCY, "COB-ID EMCY", od.UNSIGNED32, od.AttributeSdoRw, fmt.Sprintf("0x%X", 0x80+uint32(nodeId)))
	odict.AddVariableType(od.EntryInhibitTimeEMCY, "Inhibit time EMCY", od.UNSIGNED16, od.AttributeSdoRw, "0x0")

	consumer := od.NewArray(consumerHeartbeatDepth + 1)
	consumer.AddSubObject(0, "Number of entries", od.UNSIGNED8, od.AttributeSdoR, fmt.Sprintf("0x%X", consumerHeartbeatDepth))
	for i := 1; i <= consumerHeartbeatDepth; i++ {
		consumer.AddSubObject(uint8(i), fmt.Sprintf("Consumer heartbeat time %d", i), od.UNSIGNED32, od.AttributeSdoRw, "0x0")
	}
	odict.AddVariableList(od.EntryConsumerHeartbeatTime, "Consumer heartbeat time", consumer)

	odict.AddVariableType(od.EntryProducerHeartbeatTime, "Producer heartbeat time", od.UNSIGNED16, od.AttributeSdoRw, "0x3E8")

	odict.AddSYNC()

	identityRecord := od.NewRecord()
	identityRecord.AddSubObject(0, "Highest sub-index supported", od.UNSIGNED8, od.AttributeSdoR, "0x4")
	identityRecord.AddSubObject(1, "Vendor-ID", od.UNSIGNED32, od.AttributeSdoR, fmt.Sprintf("0x%X", doc.Identity.VendorId))
	identityRecord.AddSubObject(2, "Product code", od.UNSIGNED32, od.AttributeSdoR, fmt.Sprintf("0x%X", doc.Identity.ProductCode))
	identityRecord.AddSubObject(3, "Revision number", od.UNSIGNED32, od.AttributeSdoR, fmt.Sprintf("0x%X", doc.Identity.RevisionNumber))
	identityRecord.AddSubObject(4, "Serial number", od.UNSIGNED32, od.AttributeSdoRw, fmt.Sprintf("0x%X", doc.Identity.SerialNumber))
	odict.AddVariableList(od.EntryIdentityObject, "Identity object", identityRecord)

	sdoServer := od.NewRecord()
	sdoServer.AddSubObject(0, "Highest sub-index supported", od.UNSIGNED8, od.AttributeSdoR, "0x2")
	sdoServer.AddSubObject(1, "COB-ID client to server", od.UNSIGNED32, od.AttributeSdoR, fmt.Sprintf("0x%X", 0x600+uint32(nodeId)))
	sdoServer.AddSubObject(2, "COB-ID server to client", od.UNSIGNED32, od.AttributeSdoR, fmt.Sprintf("0x%X", 0x580+uint32(nodeId)))
	odict.AddVariableList(od.EntrySDOServerParameter, "SDO server parameter", sdoServer)
}

// addCustomObject translates one document object into an od.Entry and
// inserts it with AddEntry, since AddVariableType/AddVariableList's literal
// helpers don't carry $NODEID substitution or value limits.
func addCustomObject(odict *od.ObjectDictionary, obj ObjectDef, nodeId uint8) error {
	switch obj.ObjectType {
	case objectTypeVar:
		variable, err := buildVariable(obj.ParameterName, 0, obj, nodeId)
		if err != nil {
			return fmt.Errorf("config: object 0x%04X: %w", obj.Index, err)
		}
		odict.AddEntry(od.NewEntry(slog.Default(), obj.Index, obj.ParameterName, variable, od.ObjectTypeVAR))
		return nil

	case objectTypeArray, objectTypeRecord:
		size := len(obj.Subs) + 1
		var list *od.VariableList
		listType := od.ObjectTypeRECORD
		if obj.ObjectType == objectTypeArray {
			list = od.NewArray(uint8(size))
			listType = od.ObjectTypeARRAY
		} else {
			list = od.NewRecord()
		}
		countVar, err := od.NewVariable(0, "Highest sub-index supported", od.UNSIGNED8, od.AttributeSdoR, fmt.Sprintf("0x%X", len(obj.Subs)))
		if err != nil {
			return fmt.Errorf("config: object 0x%04X: %w", obj.Index, err)
		}
		if err := list.AddVariable(countVar); err != nil {
			return fmt.Errorf("config: object 0x%04X: %w", obj.Index, err)
		}
		for _, sub := range obj.Subs {
			variable, err := buildVariable(sub.ParameterName, sub.SubIndex, ObjectDef{
				DataType: sub.DataType, AccessType: sub.AccessType, DefaultValue: sub.DefaultValue,
				PDOMapping: sub.PDOMapping, LowLimit: sub.LowLimit, HighLimit: sub.HighLimit,
			}, nodeId)
			if err != nil {
				return fmt.Errorf("config: object 0x%04X sub %d: %w", obj.Index, sub.SubIndex, err)
			}
			if err := list.AddVariable(variable); err != nil {
				return fmt.Errorf("config: object 0x%04X sub %d: %w", obj.Index, sub.SubIndex, err)
			}
		}
		odict.AddEntry(od.NewEntry(slog.Default(), obj.Index, obj.ParameterName, list, listType))
		return nil

	default:
		return fmt.Errorf("config: object 0x%04X: unknown object_type %q", obj.Index, obj.ObjectType)
	}
}

// buildVariable turns one VAR/sub declaration into an *od.Variable via
// NewVariableFromConfig, translating the document's direction-agnostic
// pdo_mapping key into the direction-specific Attribute bits
// NewVariableFromConfig's single pdoMapping bool can't express on its own.
func buildVariable(name string, subIndex uint8, obj ObjectDef, nodeId uint8) (*od.Variable, error) {
	dataType, ok := validDataTypes[obj.DataType]
	if !ok {
		return nil, fmt.Errorf("unknown data_type %q", obj.DataType)
	}
	mappable := obj.PDOMapping == pdoMappingBoth
	variable, err := od.NewVariableFromConfig(
		name, 0, subIndex, dataType, obj.AccessType, mappable,
		obj.DefaultValue, obj.LowLimit, obj.HighLimit, nodeId,
	)
	if err != nil {
		return nil, err
	}
	switch obj.PDOMapping {
	case pdoMappingTPDO:
		variable.Attribute |= od.AttributeTpdo
	case pdoMappingRPDO:
		variable.Attribute |= od.AttributeRpdo
	}
	return variable, nil
}

// addBootloaderObjects adds 0x5500 and one 0x5510+n entry per declared
// section (spec.md §6); actually erasing/resetting flash is left to the
// callback the application supplies at NewNode time by re-attaching the
// extension (see node package), these entries only carry the OD shape.
func addBootloaderObjects(odict *od.ObjectDictionary, boot *BootloaderDef) {
	control := od.NewRecord()
	control.AddSubObject(od.SubBootloaderStatus, "Status", od.UNSIGNED8, od.AttributeSdoR, "0x0")
	control.AddSubObject(od.SubBootloaderSize, "Size", od.UNSIGNED32, od.AttributeSdoR, "0x0")
	control.AddSubObject(od.SubBootloaderCommand, "Command", od.UNSIGNED32, od.AttributeSdoW, "0x0")
	odict.AddVariableList(od.EntryBootloaderControl, "Bootloader control", control)

	for i, section := range boot.Sections {
		index := od.EntryBootloaderSectionStart + uint16(i)
		if index > od.EntryBootloaderSectionEnd {
			break
		}
		entrySections := od.NewRecord()
		entrySections.AddSubObject(od.SubBootloaderStatus, "Status", od.UNSIGNED8, od.AttributeSdoR, "0x0")
		entrySections.AddSubObject(od.SubBootloaderSize, "Size", od.UNSIGNED32, od.AttributeSdoR, "0x0")
		entrySections.AddSubObject(od.SubBootloaderCommand, "Command", od.UNSIGNED32, od.AttributeSdoW, "0x0")
		odict.AddVariableList(index, fmt.Sprintf("Bootloader section: %s", section.Name), entrySections)
	}
}

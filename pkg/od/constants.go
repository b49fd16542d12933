package od

import (
	"errors"
	"fmt"
	"strconv"
)

var ErrConfigFormat = errors.New("invalid device-config document")

// ODR is the local object dictionary error type. Every failure the access
// layer can produce is one of these values; they are converted to SDO
// abort codes by package sdo when a failure needs to cross the wire.
type ODR int8

const (
	ErrPartial      ODR = -1
	ErrNo           ODR = 0
	ErrOutOfMem     ODR = 1
	ErrUnsuppAccess ODR = 2
	ErrWriteOnly    ODR = 3
	ErrReadonly     ODR = 4
	ErrIdxNotExist  ODR = 5
	ErrNoMap        ODR = 6
	ErrMapLen       ODR = 7
	ErrParIncompat  ODR = 8
	ErrDevIncompat  ODR = 9
	ErrHw           ODR = 10
	ErrTypeMismatch ODR = 11
	ErrDataLong     ODR = 12
	ErrDataShort    ODR = 13
	ErrSubNotExist  ODR = 14
	ErrInvalidValue ODR = 15
	ErrValueHigh    ODR = 16
	ErrValueLow     ODR = 17
	ErrMaxLessMin   ODR = 18
	ErrNoRessource  ODR = 19
	ErrGeneral      ODR = 20
	ErrDataTransf   ODR = 21
	ErrDataLocCtrl  ODR = 22
	ErrDataDevState ODR = 23
	ErrOdMissing    ODR = 24
	ErrNoData       ODR = 25
)

var errorDescriptionMap = map[ODR]string{
	ErrPartial:      "incomplete transfer",
	ErrNo:           "no error",
	ErrOutOfMem:     "out of memory",
	ErrUnsuppAccess: "unsupported access to an object",
	ErrWriteOnly:    "attempt to read a write only object",
	ErrReadonly:     "attempt to write a read only object",
	ErrIdxNotExist:  "object does not exist in the object dictionary",
	ErrNoMap:        "object cannot be mapped to the PDO",
	ErrMapLen:       "number and length of objects to be mapped exceeds PDO length",
	ErrParIncompat:  "general parameter incompatibility",
	ErrDevIncompat:  "general internal incompatibility in device",
	ErrHw:           "access failed due to hardware error",
	ErrTypeMismatch: "data type does not match",
	ErrDataLong:     "data type does not match, length too high",
	ErrDataShort:    "data type does not match, length too short",
	ErrSubNotExist:  "sub-index does not exist",
	ErrInvalidValue: "invalid value for parameter",
	ErrValueHigh:    "value of parameter written too high",
	ErrValueLow:     "value of parameter written too low",
	ErrMaxLessMin:   "maximum value is less than minimum value",
	ErrNoRessource:  "resource not available: SDO connection",
	ErrGeneral:      "general error",
	ErrDataTransf:   "data cannot be transferred or stored to application",
	ErrDataLocCtrl:  "data cannot be transferred because of local control",
	ErrDataDevState: "data cannot be transferred because of present device state",
	ErrOdMissing:    "object dictionary not present or dynamic generation failed",
	ErrNoData:       "no data available",
}

func (odr ODR) Error() string {
	description, ok := errorDescriptionMap[odr]
	if !ok {
		return fmt.Sprintf("OD error %s (unknown)", strconv.Itoa(int(odr)))
	}
	return fmt.Sprintf("OD error %s (%s)", strconv.Itoa(int(odr)), description)
}

const (
	MaxMappedEntriesPdo = uint8(8)
	FlagsPdoSize        = uint8(32)
)

// Sub-indices of the PDO communication parameter records (0x14xx/0x18xx).
const (
	SubPdoNbMappings       byte = 0
	SubPdoCobId            byte = 1
	SubPdoTransmissionType byte = 2
	SubPdoInhibitTime      byte = 3
	SubPdoReserved         byte = 4
	SubPdoEventTimer       byte = 5
	SubPdoSyncStart        byte = 6
)

// Object dictionary access attribute bits.
const (
	AttributeSdoR  uint8 = 0x01 // SDO server may read the variable
	AttributeSdoW  uint8 = 0x02 // SDO server may write the variable
	AttributeSdoRw uint8 = 0x03
	AttributeTpdo  uint8 = 0x04 // mappable into a TPDO
	AttributeRpdo  uint8 = 0x08 // mappable into an RPDO
	AttributeTrpdo uint8 = 0x0C
	AttributeConst uint8 = 0x10 // additionally rejects SDO writes even when rw
	AttributeStr   uint8 = 0x80 // short writes zero-pad (VISIBLE_STRING/OCTET_STRING)
)

// CANopen object type tags (CiA 301 table 41).
const (
	ObjectTypeVAR    uint8 = 7
	ObjectTypeARRAY  uint8 = 8
	ObjectTypeRECORD uint8 = 9
)

// CANopen basic data types (CiA 301 table 44).
const (
	BOOLEAN        uint8 = 0x01
	INTEGER8       uint8 = 0x02
	INTEGER16      uint8 = 0x03
	INTEGER32      uint8 = 0x04
	UNSIGNED8      uint8 = 0x05
	UNSIGNED16     uint8 = 0x06
	UNSIGNED32     uint8 = 0x07
	REAL32         uint8 = 0x08
	VISIBLE_STRING uint8 = 0x09
	OCTET_STRING   uint8 = 0x0A
	DOMAIN         uint8 = 0x0F
	REAL64         uint8 = 0x11
	INTEGER64      uint8 = 0x15
	UNSIGNED64     uint8 = 0x1B
)

// Standard CANopen object indices used by this stack.
const (
	EntryDeviceType                 uint16 = 0x1000
	EntryErrorRegister              uint16 = 0x1001
	EntryPredefinedErrorField uint16 = 0x1003
	EntryCobIdSYNC                  uint16 = 0x1005
	EntryCommunicationCyclePeriod   uint16 = 0x1006
	EntrySynchronousWindowLength    uint16 = 0x1007
	EntryManufacturerDeviceName     uint16 = 0x1008
	EntryCobIdEMCY                  uint16 = 0x1014
	EntryInhibitTimeEMCY            uint16 = 0x1015
	EntryConsumerHeartbeatTime      uint16 = 0x1016
	EntryProducerHeartbeatTime      uint16 = 0x1017
	EntryIdentityObject             uint16 = 0x1018
	EntrySynchronousCounterOverflow uint16 = 0x1019
	EntrySDOServerParameter         uint16 = 0x1200
	EntryRPDOCommunicationStart     uint16 = 0x1400
	EntryRPDOCommunicationEnd       uint16 = 0x15FF
	EntryRPDOMappingStart           uint16 = 0x1600
	EntryRPDOMappingEnd             uint16 = 0x17FF
	EntryTPDOCommunicationStart     uint16 = 0x1800
	EntryTPDOCommunicationEnd       uint16 = 0x19FF
	EntryTPDOMappingStart           uint16 = 0x1A00
	EntryTPDOMappingEnd             uint16 = 0x1BFF
	EntryBootloaderControl          uint16 = 0x5500
	EntryBootloaderSectionStart     uint16 = 0x5510
	EntryBootloaderSectionEnd       uint16 = 0x551F
)

// Standard CANopen object areas.
const (
	AreaCommunicationProfileStart        uint16 = 0x1000
	AreaCommunicationProfileEnd          uint16 = 0x1FFF
	AreaManufacturerSpecificProfileStart uint16 = 0x2000
	AreaManufacturerSpecificProfileEnd   uint16 = 0x5FFF
	AreaDeviceProfileStart               uint16 = 0x6000
	AreaDeviceProfileEnd                 uint16 = 0x9FFF
)

// Bootloader command magic values (spec.md §6). Load-bearing: must be
// checked exactly, not merely for non-zero.
const (
	BootloaderResetMagic uint32 = 0x544F4F42 // "BOOT"
	BootloaderEraseMagic uint32 = 0x53415245 // "ERAS"
)

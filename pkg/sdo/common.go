package sdo

import (
	"fmt"

	"github.com/zencan/zencan/pkg/od"
)

// AbortCode is a CANopen SDO abort code (CiA 301 table 23), sent to the
// client in the last byte[4:8] of an Abort frame.
type AbortCode uint32

// Default SDO COB-ID bases (spec.md §6): request = ClientBaseId+nodeId,
// response = ServerBaseId+nodeId.
const (
	ClientBaseId uint32 = 0x600
	ServerBaseId uint32 = 0x580
)

const (
	AbortToggleBit         AbortCode = 0x05030000
	AbortTimeout           AbortCode = 0x05040000
	AbortCmd               AbortCode = 0x05040001
	AbortOutOfMem          AbortCode = 0x05040005
	AbortUnsupportedAccess AbortCode = 0x06010000
	AbortWriteOnly         AbortCode = 0x06010001
	AbortReadOnly          AbortCode = 0x06010002
	AbortNotExist          AbortCode = 0x06020000
	AbortNoMap             AbortCode = 0x06040041
	AbortMapLen            AbortCode = 0x06040042
	AbortParamIncompat     AbortCode = 0x06040043
	AbortDeviceIncompat    AbortCode = 0x06040047
	AbortHardware          AbortCode = 0x06060000
	AbortTypeMismatch      AbortCode = 0x06070010
	AbortDataLong          AbortCode = 0x06070012
	AbortDataShort         AbortCode = 0x06070013
	AbortSubUnknown        AbortCode = 0x06090011
	AbortInvalidValue      AbortCode = 0x06090030
	AbortValueHigh         AbortCode = 0x06090031
	AbortValueLow          AbortCode = 0x06090032
	AbortMaxLessMin        AbortCode = 0x06090036
	AbortGeneral           AbortCode = 0x08000000
	AbortDataLocalControl  AbortCode = 0x08000020
	AbortDataDeviceState   AbortCode = 0x08000022
)

var abortDescription = map[AbortCode]string{
	AbortToggleBit:         "toggle bit not altered",
	AbortTimeout:           "SDO protocol timed out",
	AbortCmd:               "command specifier not valid or unknown",
	AbortOutOfMem:          "out of memory",
	AbortUnsupportedAccess: "unsupported access to an object",
	AbortWriteOnly:         "attempt to read a write only object",
	AbortReadOnly:          "attempt to write a read only object",
	AbortNotExist:          "object does not exist in the object dictionary",
	AbortNoMap:             "object cannot be mapped to the PDO",
	AbortMapLen:            "number and length of objects to be mapped exceeds PDO length",
	AbortParamIncompat:     "general parameter incompatibility",
	AbortDeviceIncompat:    "general internal incompatibility in device",
	AbortHardware:          "access failed due to hardware error",
	AbortTypeMismatch:      "data type does not match, length does not match",
	AbortDataLong:          "data type does not match, length too high",
	AbortDataShort:         "data type does not match, length too short",
	AbortSubUnknown:        "sub-index does not exist",
	AbortInvalidValue:      "invalid value for parameter",
	AbortValueHigh:         "value range of parameter written too high",
	AbortValueLow:          "value range of parameter written too low",
	AbortMaxLessMin:        "maximum value is less than minimum value",
	AbortGeneral:           "general error",
	AbortDataLocalControl:  "data cannot be transferred because of local control",
	AbortDataDeviceState:   "data cannot be transferred because of present device state",
}

func (a AbortCode) Error() string {
	return fmt.Sprintf("x%x: %s", uint32(a), a.Description())
}

func (a AbortCode) Description() string {
	if d, ok := abortDescription[a]; ok {
		return d
	}
	return abortDescription[AbortGeneral]
}

// odrToAbort maps an object dictionary error to the abort code a client
// sees on the wire.
var odrToAbort = map[od.ODR]AbortCode{
	od.ErrOutOfMem:     AbortOutOfMem,
	od.ErrUnsuppAccess: AbortUnsupportedAccess,
	od.ErrWriteOnly:    AbortWriteOnly,
	od.ErrReadonly:     AbortReadOnly,
	od.ErrIdxNotExist:  AbortNotExist,
	od.ErrNoMap:        AbortNoMap,
	od.ErrMapLen:       AbortMapLen,
	od.ErrParIncompat:  AbortParamIncompat,
	od.ErrDevIncompat:  AbortDeviceIncompat,
	od.ErrHw:           AbortHardware,
	od.ErrTypeMismatch: AbortTypeMismatch,
	od.ErrDataLong:     AbortDataLong,
	od.ErrDataShort:    AbortDataShort,
	od.ErrSubNotExist:  AbortSubUnknown,
	od.ErrInvalidValue: AbortInvalidValue,
	od.ErrValueHigh:    AbortValueHigh,
	od.ErrValueLow:     AbortValueLow,
	od.ErrMaxLessMin:   AbortMaxLessMin,
	od.ErrGeneral:      AbortGeneral,
	od.ErrDataTransf:   AbortDataLocalControl,
	od.ErrDataLocCtrl:  AbortDataLocalControl,
	od.ErrDataDevState: AbortDataDeviceState,
}

// ConvertOdToAbort converts an [od.ODR] returned by the object dictionary
// access layer into the SDO abort code to send on the wire.
func ConvertOdToAbort(err error) AbortCode {
	odr, ok := err.(od.ODR)
	if !ok {
		return AbortGeneral
	}
	if a, ok := odrToAbort[odr]; ok {
		return a
	}
	return AbortDeviceIncompat
}

// internalState is the server's position in the CiA 301 SDO state machine.
// Exactly one transfer may be in progress at a time (spec.md §4.2).
type internalState uint8

const (
	stateIdle internalState = iota
	stateDownloadSegment
	stateUploadSegment
)

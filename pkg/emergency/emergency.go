package emergency

import (
	"encoding/binary"
	"fmt"
	"log/slog"

	zencan "github.com/zencan/zencan"
	"github.com/zencan/zencan/pkg/od"
)

const EmergencyErrorStatusBits = 80
const ServiceId = 0x80

// Error register values (0x1001)
const (
	ErrRegGeneric       = 0x01
	ErrRegCurrent       = 0x02
	ErrRegVoltage       = 0x04
	ErrRegTemperature   = 0x08
	ErrRegCommunication = 0x10
	ErrRegDevProfile    = 0x20
	ErrRegReserved      = 0x40
	ErrRegManufacturer  = 0x80
)

// Error codes (CiA 301 table)
const (
	ErrNoError          = 0x0000
	ErrGeneric          = 0x1000
	ErrCurrent          = 0x2000
	ErrCurrentInput     = 0x2100
	ErrCurrentInside    = 0x2200
	ErrCurrentOutput    = 0x2300
	ErrVoltage          = 0x3000
	ErrVoltageMains     = 0x3100
	ErrVoltageInside    = 0x3200
	ErrVoltageOutput    = 0x3300
	ErrTemperature      = 0x4000
	ErrTempAmbient      = 0x4100
	ErrTempDevice       = 0x4200
	ErrHardware         = 0x5000
	ErrSoftwareDevice   = 0x6000
	ErrSoftwareInternal = 0x6100
	ErrSoftwareUser     = 0x6200
	ErrDataSet          = 0x6300
	ErrAdditionalModul  = 0x7000
	ErrMonitoring       = 0x8000
	ErrCommunication    = 0x8100
	ErrCanOverrun       = 0x8110
	ErrCanPassive       = 0x8120
	ErrHeartbeat        = 0x8130
	ErrBusOffRecovered  = 0x8140
	ErrCanIdCollision   = 0x8150
	ErrProtocolError    = 0x8200
	ErrPdoLength        = 0x8210
	ErrPdoLengthExc     = 0x8220
	ErrDamMpdo          = 0x8230
	ErrSyncDataLength   = 0x8240
	ErrRpdoTimeout      = 0x8250
	ErrExternalError    = 0x9000
	ErrAdditionalFunc   = 0xF000
	ErrDeviceSpecific   = 0xFF00
)

var errorCodeDescriptionMap = map[int]string{
	ErrNoError:          "Reset or No Error",
	ErrGeneric:          "Generic Error",
	ErrCurrent:          "Current",
	ErrCurrentInput:     "Current, device input side",
	ErrCurrentInside:    "Current inside the device",
	ErrCurrentOutput:    "Current, device output side",
	ErrVoltage:          "Voltage",
	ErrVoltageMains:     "Mains Voltage",
	ErrVoltageInside:    "Voltage inside the device",
	ErrVoltageOutput:    "Output Voltage",
	ErrTemperature:      "Temperature",
	ErrTempAmbient:      "Ambient Temperature",
	ErrTempDevice:       "Device Temperature",
	ErrHardware:         "Device Hardware",
	ErrSoftwareDevice:   "Device Software",
	ErrSoftwareInternal: "Internal Software",
	ErrSoftwareUser:     "User Software",
	ErrDataSet:          "Data Set",
	ErrAdditionalModul:  "Additional Modules",
	ErrMonitoring:       "Monitoring",
	ErrCommunication:    "Communication",
	ErrCanOverrun:       "CAN Overrun (Objects lost)",
	ErrCanPassive:       "CAN in Error Passive Mode",
	ErrHeartbeat:        "Life Guard Error or Heartbeat Error",
	ErrBusOffRecovered:  "Recovered from bus off",
	ErrCanIdCollision:   "CAN-ID collision",
	ErrProtocolError:    "Protocol Error",
	ErrPdoLength:        "PDO not processed due to length error",
	ErrPdoLengthExc:     "PDO length exceeded",
	ErrDamMpdo:          "DAM MPDO not processed, destination object not available",
	ErrSyncDataLength:   "Unexpected SYNC data length",
	ErrRpdoTimeout:      "RPDO timeout",
	ErrExternalError:    "External Error",
	ErrAdditionalFunc:   "Additional Functions",
	ErrDeviceSpecific:   "Device specific",
}

// Error status bits
const (
	EmNoError                 = 0x00
	EmCanBusWarning           = 0x01
	EmRxMsgWrongLength        = 0x02
	EmRxMsgOverflow           = 0x03
	EmRPDOWrongLength         = 0x04
	EmRPDOOverflow            = 0x05
	EmCanRXBusPassive         = 0x06
	EmCanTXBusPassive         = 0x07
	EmNMTWrongCommand         = 0x08
	EmTimeTimeout             = 0x09
	EmCanTXBusOff             = 0x12
	EmCanRXBOverflow          = 0x13
	EmCanTXOverflow           = 0x14
	EmTPDOOutsideWindow       = 0x15
	EmRPDOTimeOut             = 0x17
	EmSyncTimeOut             = 0x18
	EmSyncLength              = 0x19
	EmPDOWrongMapping         = 0x1A
	EmHeartbeatConsumer       = 0x1B
	EmHBConsumerRemoteReset   = 0x1C
	EmEmergencyBufferFull     = 0x20
	EmMicrocontrollerReset    = 0x22
	EmNonVolatileAutoSave     = 0x27
	EmWrongErrorReport        = 0x28
	EmISRTimerOverflow        = 0x29
	EmMemoryAllocationError   = 0x2A
	EmGenericError            = 0x2B
	EmGenericSoftwareError    = 0x2C
	EmInconsistentObjectDict  = 0x2D
	EmCalculationOfParameters = 0x2E
	EmNonVolatileMemory       = 0x2F
	EmManufacturerStart       = 0x30
	EmManufacturerEnd         = EmergencyErrorStatusBits - 1
)

var errorStatusMap = map[uint8]string{
	EmNoError:                 "Error Reset or No Error",
	EmCanBusWarning:           "CAN bus warning limit reached",
	EmRxMsgWrongLength:        "Wrong data length of the received CAN message",
	EmRxMsgOverflow:           "Previous received CAN message wasn't processed yet",
	EmRPDOWrongLength:         "Wrong data length of received PDO",
	EmRPDOOverflow:            "Previous received PDO wasn't processed yet",
	EmCanRXBusPassive:         "CAN receive bus is passive",
	EmCanTXBusPassive:         "CAN transmit bus is passive",
	EmNMTWrongCommand:         "Wrong NMT command received",
	EmTimeTimeout:             "TIME message timeout",
	EmCanTXBusOff:             "CAN transmit bus is off",
	EmCanRXBOverflow:          "CAN module receive buffer has overflowed",
	EmCanTXOverflow:           "CAN transmit buffer has overflowed",
	EmTPDOOutsideWindow:       "TPDO is outside SYNC window",
	EmRPDOTimeOut:             "RPDO message timeout",
	EmSyncTimeOut:             "SYNC message timeout",
	EmSyncLength:              "Unexpected SYNC data length",
	EmPDOWrongMapping:         "Error with PDO mapping",
	EmHeartbeatConsumer:       "Heartbeat consumer timeout",
	EmHBConsumerRemoteReset:   "Heartbeat consumer detected remote node reset",
	EmEmergencyBufferFull:     "Emergency buffer is full, Emergency message wasn't sent",
	EmMicrocontrollerReset:    "Microcontroller has just started",
	EmNonVolatileAutoSave:     "Automatic store to non-volatile memory failed",
	EmWrongErrorReport:        "Wrong parameters to ErrorReport function",
	EmISRTimerOverflow:        "Timer task has overflowed",
	EmMemoryAllocationError:   "Unable to allocate memory for objects",
	EmGenericError:            "Generic error, test usage",
	EmGenericSoftwareError:    "Software error",
	EmInconsistentObjectDict:  "Object dictionary does not match the software",
	EmCalculationOfParameters: "Error in calculation of device parameters",
	EmNonVolatileMemory:       "Error with access to non-volatile device memory",
}

func getErrorStatusDescription(errorStatus uint8) string {
	description, ok := errorStatusMap[errorStatus]
	switch {
	case ok:
		return description
	case errorStatus >= EmManufacturerStart && errorStatus <= EmManufacturerEnd:
		return "Manufacturer error"
	default:
		return "Invalid or not implemented error status"
	}
}

func getErrorCodeDescription(errorCode int) string {
	if description, ok := errorCodeDescriptionMap[errorCode]; ok {
		return description
	}
	return "Invalid or not implemented error code"
}

type emfifo struct {
	msg  uint32
	info uint32
}

// EMCY is a producer-only emergency hook (spec.md §1, §6: "produced only;
// not implemented in this core beyond hook"). Error/ErrorReport/ErrorReset
// are called from application or protocol code in the process context;
// Process drains the pending FIFO onto the bus subject to the inhibit time.
type EMCY struct {
	logger          *slog.Logger
	nodeId          byte
	errorStatusBits [EmergencyErrorStatusBits / 8]byte
	cobId           uint32
	fifo            []emfifo
	fifoWrPtr       byte
	fifoPpPtr       byte
	fifoOverflow    byte
	fifoCount       byte
	producerEnabled bool
	producerIdent   uint16
	inhibitTimeUs   uint64
	inhibitDeadline uint64
}

// Process emits the oldest pending emergency, if the inhibit time has
// elapsed since the last emission (spec.md §4, "inhibit time" glossary).
func (emcy *EMCY) Process(nowUs uint64, tx zencan.TransmitFunc) {
	if !emcy.producerEnabled {
		return
	}
	if len(emcy.fifo) < 2 || emcy.fifoPpPtr == emcy.fifoWrPtr {
		return
	}
	if nowUs < emcy.inhibitDeadline {
		return
	}

	errorRegister := ErrRegGeneric | ErrRegCurrent | ErrRegVoltage | ErrRegTemperature |
		ErrRegCommunication | ErrRegDevProfile | ErrRegManufacturer

	fifoPpPtr := emcy.fifoPpPtr
	emcy.inhibitDeadline = nowUs + emcy.inhibitTimeUs

	msg := emcy.fifo[fifoPpPtr].msg | (uint32(errorRegister) << 16)
	var f zencan.Frame
	f.ID = emcy.cobId
	f.DLC = 8
	binary.LittleEndian.PutUint32(f.Data[0:4], msg)
	binary.LittleEndian.PutUint32(f.Data[4:8], emcy.fifo[fifoPpPtr].info)
	if tx != nil {
		_ = tx(f)
	}

	fifoPpPtr++
	if int(fifoPpPtr) >= len(emcy.fifo) {
		fifoPpPtr = 0
	}
	emcy.fifoPpPtr = fifoPpPtr

	if emcy.fifoOverflow == 1 {
		emcy.fifoOverflow = 2
		emcy.ErrorReport(EmEmergencyBufferFull, ErrGeneric, 0)
	} else if emcy.fifoOverflow == 2 && fifoPpPtr == emcy.fifoWrPtr {
		emcy.fifoOverflow = 0
		emcy.ErrorReset(EmEmergencyBufferFull, 0)
	}
}

// Error sets or clears an error bit, queueing a new emergency message when
// the bit's state actually changes.
func (emcy *EMCY) Error(setError bool, errorBit byte, errorCode uint16, infoCode uint32) {
	index := errorBit >> 3
	bitMask := 1 << (errorBit & 0x7)

	if index >= EmergencyErrorStatusBits/8 {
		index = EmWrongErrorReport >> 3
		bitMask = 1 << (EmWrongErrorReport & 0x7)
		errorCode = ErrSoftwareInternal
		infoCode = uint32(errorBit)
	}
	bitSet := emcy.errorStatusBits[index]&byte(bitMask) != 0

	if setError {
		if bitSet {
			return
		}
		emcy.errorStatusBits[index] |= byte(bitMask)
	} else {
		if !bitSet {
			return
		}
		emcy.errorStatusBits[index] &^= byte(bitMask)
		errorCode = ErrNoError
	}

	errMsg := (uint32(errorBit) << 24) | uint32(errorCode)
	if len(emcy.fifo) < 2 {
		return
	}
	fifoWrPtr := emcy.fifoWrPtr
	fifoWrPtrNext := fifoWrPtr + 1
	if int(fifoWrPtrNext) >= len(emcy.fifo) {
		fifoWrPtrNext = 0
	}
	if fifoWrPtrNext == emcy.fifoPpPtr {
		emcy.fifoOverflow = 1
		return
	}
	emcy.fifo[fifoWrPtr].msg = errMsg
	emcy.fifo[fifoWrPtr].info = infoCode
	emcy.fifoWrPtr = fifoWrPtrNext
	if int(emcy.fifoCount) < len(emcy.fifo)-1 {
		emcy.fifoCount++
	}
}

func (emcy *EMCY) ErrorReport(errorBit byte, errorCode uint16, infoCode uint32) {
	emcy.logger.Info("report emergency",
		"code description", getErrorCodeDescription(int(errorCode)),
		"errorCode", errorCode,
		"bit description", getErrorStatusDescription(errorBit),
		"infoCode", infoCode,
	)
	emcy.Error(true, errorBit, errorCode, infoCode)
}

func (emcy *EMCY) ErrorReset(errorBit byte, infoCode uint32) {
	emcy.Error(false, errorBit, ErrNoError, infoCode)
}

func (emcy *EMCY) IsError(errorBit byte) bool {
	byteIndex := errorBit >> 3
	bitMask := uint8(1) << (errorBit & 0x7)
	if byteIndex >= (EmergencyErrorStatusBits / 8) {
		return true
	}
	return (emcy.errorStatusBits[byteIndex] & bitMask) != 0
}

func (emcy *EMCY) ProducerEnabled() bool {
	return emcy.producerEnabled
}

// NewEMCY builds the emergency producer for nodeId; entry1003 sizes the
// pending-error FIFO (its sub-count), entry1014 holds the producer COB-ID,
// entry1015 the inhibit time, entryStatusBits an optional manufacturer
// status-bits mirror.
func NewEMCY(
	logger *slog.Logger,
	nodeId uint8,
	entry1014 *od.Entry,
	entry1015 *od.Entry,
	entry1003 *od.Entry,
	entryStatusBits *od.Entry,
) (*EMCY, error) {
	if entry1014 == nil || entry1003 == nil || nodeId < 1 || nodeId > 127 {
		return nil, fmt.Errorf("emergency: entry 0x1014, 0x1003 and a valid node id are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	emcy := &EMCY{logger: logger.With("service", "emergency"), nodeId: nodeId}

	fifoSize := entry1003.SubCount()
	emcy.fifo = make([]emfifo, fifoSize)

	cobIdEmergency, err := entry1014.Uint32(0)
	if err != nil {
		return nil, fmt.Errorf("emergency: reading 0x1014: %w", err)
	}
	producerCanId := cobIdEmergency & 0x7FF
	emcy.producerEnabled = (cobIdEmergency&0x80000000) == 0 && producerCanId != 0
	emcy.producerIdent = uint16(producerCanId)
	if producerCanId == uint32(ServiceId) {
		producerCanId += uint32(nodeId)
	}
	emcy.cobId = producerCanId
	entry1014.AddExtension(emcy, readEntry1014, writeEntry1014)

	if entry1015 != nil {
		inhibitTime100us, err := entry1015.Uint16(0)
		if err == nil {
			emcy.inhibitTimeUs = uint64(inhibitTime100us) * 100
			entry1015.AddExtension(emcy, od.ReadEntryDefault, writeEntry1015)
		}
	}
	entry1003.AddExtension(emcy, readEntry1003, writeEntry1003)
	if entryStatusBits != nil {
		entryStatusBits.AddExtension(emcy, readEntryStatusBits, writeEntryStatusBits)
	}
	return emcy, nil
}

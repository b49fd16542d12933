package lss

import (
	"errors"

	"github.com/zencan/zencan/pkg/config"
)

const (
	ServiceSlaveId     = 0x7E4
	ServiceMasterId    = 0x7E5
	NodeIdUnconfigured = 0xFF
	NodeIdMin          = 0x1
	NodeIdMax          = 0x7F
)

var (
	ErrTimeout       = errors.New("no answer received")
	ErrInvalidNodeId = errors.New("invalid node id")
)

type LSSMode uint8

const (
	ModeWaiting       LSSMode = 0
	ModeConfiguration LSSMode = 1
)

const (

	// Switch mode services, used to connect master & slave for configuration
	CmdSwitchStateGlobal            LSSCommand = 4
	CmdSwitchStateSelectiveVendor   LSSCommand = 64
	CmdSwitchStateSelectiveProduct  LSSCommand = 65
	CmdSwitchStateSelectiveRevision LSSCommand = 66
	CmdSwitchStateSelectiveSerialNb LSSCommand = 67
	CmdSwitchStateSelectiveResult   LSSCommand = 68

	// Configuration services, only available in configuration mode
	CmdConfigureNodeId            LSSCommand = 17
	CmdConfigureBitTiming         LSSCommand = 19
	CmdConfigureActivateBitTiming LSSCommand = 21
	CmdConfigureStoreParameters   LSSCommand = 23

	// Inquiry services, only available in configuration mode
	CmdInquireVendor   LSSCommand = 90
	CmdInquireProduct  LSSCommand = 91
	CmdInquireRevision LSSCommand = 92
	CmdInquireSerial   LSSCommand = 93
	CmdInquireNodeId   LSSCommand = 94

	// Fastscan (CiA 305 §3.7.1): the master binary-searches the identity
	// space one 32-bit field at a time (vendor, product, revision, serial)
	// by masking off an increasing number of low bits until a single
	// candidate slave survives. CmdFastscan is the master's request;
	// CmdIdentifySlave is the slave's acknowledge when it matches.
	CmdFastscan      LSSCommand = 0x51
	CmdIdentifySlave LSSCommand = 0x4F
)

// fastscanResetBitCheck is the sentinel BitCheck value (spec.md §4.5) that
// marks the first Fastscan message of a scan: every unconfigured slave
// responds to it regardless of IDNumber, resetting any in-progress scan
// state.
const fastscanResetBitCheck = 0x80

// fastscanField enumerates which 32-bit identity value a Fastscan message
// is currently probing, carried in the message's LSSSub/LSSNext bytes.
type fastscanField uint8

const (
	fastscanVendor fastscanField = iota
	fastscanProduct
	fastscanRevision
	fastscanSerial
)

const (
	ConfigNodeIdOk           = 0
	ConfigNodeIdOutOfRange   = 1
	ConfigNodeIdManufacturer = 0xFF
)

// Store-configuration response codes (CiA 305 §3.9.4).
const (
	ConfigStoreOk           = 0
	ConfigStoreNotSupported = 1
	ConfigStoreFailed       = 2
)

// The LSS address is used to uniquely identify each node on the CANopen network.
// It corresponds to the concatenated values of the identity object (0x1018)
type LSSAddress struct {
	config.Identity
}

// LSSMessage is the 8-byte payload of a frame on the LSS master/slave COB-IDs.
type LSSMessage struct {
	raw [8]byte
}

type LSSCommand uint8

func (m *LSSMessage) Command() LSSCommand {
	return LSSCommand(m.raw[0])
}

// IDNumber returns the fastscan candidate value (bytes 1..4, little-endian).
func (m *LSSMessage) IDNumber() uint32 {
	return uint32(m.raw[1]) | uint32(m.raw[2])<<8 | uint32(m.raw[3])<<16 | uint32(m.raw[4])<<24
}

// BitCheck returns the fastscan bit-check field (byte 5): the number of
// low-order bits of IDNumber the slave should ignore when comparing, or
// fastscanResetBitCheck for the initial reset message.
func (m *LSSMessage) BitCheck() uint8 {
	return m.raw[5]
}

// LSSSub returns the identity field (vendor/product/revision/serial)
// IDNumber is being compared against (byte 6).
func (m *LSSMessage) LSSSub() fastscanField {
	return fastscanField(m.raw[6])
}

// LSSNext returns the identity field the master will probe next once this
// one fully matches (byte 7).
func (m *LSSMessage) LSSNext() fastscanField {
	return fastscanField(m.raw[7])
}

type LSSState uint8

func (state LSSState) String() string {
	switch state {
	case StateWaiting:
		return "WAITING"
	case StateConfiguration:
		return "CONFIGURATION"
	case StateScanningVendor:
		return "SCANNING-VENDOR"
	case StateScanningProduct:
		return "SCANNING-PRODUCT"
	case StateScanningRevision:
		return "SCANNING-REVISION"
	case StateScanningSerial:
		return "SCANNING-SERIAL"
	case StateSelected:
		return "SELECTED"
	default:
		return "UNKNOWN"
	}
}

// LSS states as defined by CiA 305, extended with the fastscan sub-states
// spec.md §4.5 names explicitly (ScanningVendor..Selected) so the slave's
// progress through a fastscan sequence is observable.
const (
	// LSS waiting: In this state, the LSS slave devices may be identified. Otherwise the LSS
	// slave device waits for a request to enter LSS configuration state.
	// The LSS slave is operating on its active bit rate.
	// The virtual node-ID and bit rate variables are not changeable by means of LSS in this
	// state.
	StateWaiting LSSState = 1
	// LSS configuration: In this state the virtual node-ID and bit rate variables may be
	// configured at the LSS slave. Device can be configured in this state.
	StateConfiguration LSSState = 2
	// StateScanningVendor..StateScanningSerial mark a fastscan sequence in
	// progress, naming the identity field currently surviving the binary
	// search (spec.md §4.5).
	StateScanningVendor   LSSState = 3
	StateScanningProduct  LSSState = 4
	StateScanningRevision LSSState = 5
	StateScanningSerial   LSSState = 6
	// StateSelected is reached once all four identity fields have matched
	// exactly (BitCheck=0 on the serial-number probe); the slave then
	// accepts the same configuration commands as StateConfiguration.
	StateSelected LSSState = 7
)

package lss

import (
	"encoding/binary"
	"fmt"
	"log/slog"

	zencan "github.com/zencan/zencan"
	"github.com/zencan/zencan/pkg/od"
)

// StoreCallback persists the pending node id (and whatever else the
// application keeps in non-volatile memory) when the LSS master sends a
// store-configuration command. Flash layout is the application's concern;
// the slave only reports success or failure back on the bus.
type StoreCallback func(pendingNodeId uint8) error

// LSSSlave implements LSS master->slave fastscan and switch-state-selective
// node-id assignment (spec.md §4.5). It has no goroutines or channels:
// Handle reacts to one request frame at a time and replies synchronously
// through tx, so it is safe to call directly from the receive ISR when the
// platform driver wants fastscan's tight turnaround — the mailbox/process
// loop path works too, just with more jitter.
type LSSSlave struct {
	logger        *slog.Logger
	address       LSSAddress
	addressSwitch LSSAddress
	activeNodeId  uint8
	pendingNodeId uint8
	state         LSSState
	store         StoreCallback
}

// OnStoreConfiguration registers the persistence callback invoked by the
// LSS store-configuration command. Without one, the command is answered
// with "store not supported".
func (l *LSSSlave) OnStoreConfiguration(cb StoreCallback) {
	l.store = cb
}

// Handle processes one LSS request frame (COB-ID 0x7E5, master -> slaves).
func (l *LSSSlave) Handle(frame zencan.Frame, nowUs uint64, tx zencan.TransmitFunc) {
	if frame.ID != ServiceMasterId || frame.DLC != 8 {
		return
	}
	msg := LSSMessage{raw: frame.Data}
	l.logger.Debug("received command from master",
		"cmd", msg.Command(), "cmdHex", fmt.Sprintf("x%x", msg.Command()))

	prevState := l.state
	l.processRequest(msg, tx)
	if prevState != l.state {
		l.logger.Info("slave moved from state", "previous", prevState.String(), "current", l.state.String())
	}
}

// GetState returns the slave's current LSS state.
func (l *LSSSlave) GetState() LSSState {
	return l.state
}

// GetNodeIdActive returns the node id presently in effect: either a
// configured 7-bit id, or NodeIdUnconfigured (spec.md §3) if LSS has not
// yet assigned one.
func (l *LSSSlave) GetNodeIdActive() uint8 {
	return l.activeNodeId
}

// SetSerialNumber updates the serial-number quarter of the LSS address,
// for applications that assign the serial at boot rather than in the
// device config. Call before any fastscan traffic is expected.
func (l *LSSSlave) SetSerialNumber(serial uint32) {
	l.address.SerialNumber = serial
}

// GetNodeIdPending returns the node id a ConfigureNodeId command has
// assigned but that ApplyPendingNodeId has not committed yet; equal to the
// active id when no assignment is pending.
func (l *LSSSlave) GetNodeIdPending() uint8 {
	return l.pendingNodeId
}

// ApplyPendingNodeId commits a node id assigned by a prior ConfigureNodeId
// command. Per CiA 305 the new id only takes effect after the node
// processes NMT ResetCommunication/ResetNode; the caller (the node
// runtime) invokes this at that point.
func (l *LSSSlave) ApplyPendingNodeId() {
	l.activeNodeId = l.pendingNodeId
}

// processRequest dispatches an LSS request by command, depending on state.
func (l *LSSSlave) processRequest(rx LSSMessage, tx zencan.TransmitFunc) {
	cmd := rx.Command()
	state := l.state

	switch {
	case cmd == CmdFastscan:
		l.processFastscan(rx, tx)

	case (cmd >= CmdSwitchStateSelectiveVendor && cmd <= CmdSwitchStateSelectiveResult) || cmd == CmdSwitchStateGlobal:
		l.processSwitchStateService(rx, tx)

	case cmd >= CmdConfigureNodeId && cmd <= CmdConfigureStoreParameters:
		// Configuration service is valid in configuration mode or once
		// fastscan has fully selected this slave.
		if state != StateConfiguration && state != StateSelected {
			return
		}
		l.processConfigurationService(rx, tx)

	case cmd >= CmdInquireVendor && cmd <= CmdInquireNodeId:
		// Inquire service is valid in configuration mode or once
		// fastscan has fully selected this slave.
		if state != StateConfiguration && state != StateSelected {
			return
		}
		l.processInquiryService(cmd, tx)
	}
}

// identityField returns the slave's own 32-bit value for a fastscan field.
func (l *LSSSlave) identityField(field fastscanField) uint32 {
	switch field {
	case fastscanVendor:
		return l.address.VendorId
	case fastscanProduct:
		return l.address.ProductCode
	case fastscanRevision:
		return l.address.RevisionNumber
	case fastscanSerial:
		return l.address.SerialNumber
	default:
		return 0
	}
}

// processFastscan implements the CiA 305 fastscan binary search (spec.md
// §4.5): the slave compares its own identity field against the master's
// candidate value, masked to ignore BitCheck low bits, and replies only on
// a match. A full match on the serial number field with BitCheck=0 selects
// this slave.
func (l *LSSSlave) processFastscan(rx LSSMessage, tx zencan.TransmitFunc) {
	if l.activeNodeId != NodeIdUnconfigured {
		// Only unconfigured slaves take part in fastscan.
		return
	}
	if l.state == StateSelected {
		// Already claimed by a prior fastscan; CiA 305 has a selected
		// slave stop answering further fastscan probes.
		return
	}

	if rx.BitCheck() == fastscanResetBitCheck {
		// Reset message: every unconfigured slave acknowledges and the
		// scan restarts at the vendor field.
		l.state = StateScanningVendor
		l.ackFastscan(tx)
		return
	}

	field := rx.LSSSub()
	ownValue := l.identityField(field)
	bitCheck := rx.BitCheck()
	if bitCheck > 31 {
		return
	}
	mask := ^uint32(0) << bitCheck
	if (rx.IDNumber()^ownValue)&mask != 0 {
		// Mismatch: stay silent so only a matching slave survives.
		return
	}

	// A full match (BitCheck 0) moves on to the field named by LSSNext;
	// a partial match stays on the probed field.
	target := field
	if bitCheck == 0 {
		target = rx.LSSNext()
	}
	switch target {
	case fastscanVendor:
		l.state = StateScanningVendor
	case fastscanProduct:
		l.state = StateScanningProduct
	case fastscanRevision:
		l.state = StateScanningRevision
	case fastscanSerial:
		l.state = StateScanningSerial
	}

	if bitCheck == 0 && field == fastscanSerial {
		l.state = StateSelected
		l.logger.Info("fastscan selected this node", "identity", l.address)
	}
	l.ackFastscan(tx)
}

func (l *LSSSlave) ackFastscan(tx zencan.TransmitFunc) {
	var f zencan.Frame
	f.ID = ServiceSlaveId
	f.DLC = 8
	f.Data[0] = byte(CmdIdentifySlave)
	if tx != nil {
		_ = tx(f)
	}
}

// processSwitchStateService processes switch state service message
func (l *LSSSlave) processSwitchStateService(msg LSSMessage, tx zencan.TransmitFunc) {
	switch msg.Command() {

	case CmdSwitchStateGlobal:
		mode := LSSMode(msg.raw[1])
		switch mode {

		case ModeWaiting:
			l.state = StateWaiting

		case ModeConfiguration:
			l.state = StateConfiguration
		default:
			// Not a standard command
			l.logger.Warn("switch mode unknown", "mode", mode)
		}

	case CmdSwitchStateSelectiveVendor:
		l.addressSwitch.VendorId = binary.LittleEndian.Uint32(msg.raw[1:5])
		l.logger.Debug("switch state selective", "vendor", l.addressSwitch.VendorId)

	case CmdSwitchStateSelectiveProduct:
		l.addressSwitch.ProductCode = binary.LittleEndian.Uint32(msg.raw[1:5])
		l.logger.Debug("switch state selective", "product", l.addressSwitch.ProductCode)

	case CmdSwitchStateSelectiveRevision:
		l.addressSwitch.RevisionNumber = binary.LittleEndian.Uint32(msg.raw[1:5])
		l.logger.Debug("switch state selective", "revision", l.addressSwitch.RevisionNumber)

	case CmdSwitchStateSelectiveSerialNb:
		// This is the last part of the switch state selective.
		// After this we can determine if we are the node that has been selected
		l.addressSwitch.SerialNumber = binary.LittleEndian.Uint32(msg.raw[1:5])
		l.logger.Debug("switch state selective", "serial number", l.addressSwitch.SerialNumber)
		if l.addressSwitch == l.address {
			l.state = StateConfiguration
			l.send([8]byte{byte(CmdSwitchStateSelectiveResult)}, tx)
		} else {
			l.logger.Debug("switch state selective ignored", "requested", l.addressSwitch, "current", l.address)
		}
	}
}

// processInquiryService processes inquiry service message
func (l *LSSSlave) processInquiryService(cmd LSSCommand, tx zencan.TransmitFunc) {
	data := [8]byte{byte(cmd)}
	switch cmd {

	case CmdInquireVendor:
		binary.LittleEndian.PutUint32(data[1:], l.address.VendorId)

	case CmdInquireProduct:
		binary.LittleEndian.PutUint32(data[1:], l.address.ProductCode)

	case CmdInquireRevision:
		binary.LittleEndian.PutUint32(data[1:], l.address.RevisionNumber)

	case CmdInquireSerial:
		binary.LittleEndian.PutUint32(data[1:], l.address.SerialNumber)

	case CmdInquireNodeId:
		data[1] = l.activeNodeId

	default:
		l.logger.Warn("unknown LSS inquiry command", "cmd", cmd)
		return
	}
	l.send(data, tx)
}

// processConfigurationService processes configuration service, replying
// with the result.
func (l *LSSSlave) processConfigurationService(msg LSSMessage, tx zencan.TransmitFunc) {
	switch msg.Command() {

	case CmdConfigureBitTiming, CmdConfigureActivateBitTiming:
		// Bit timing is fixed by the platform driver, out of this core's
		// hands.
		l.logger.Warn("unsupported configuration command")

	case CmdConfigureStoreParameters:
		if l.store == nil {
			l.send([8]byte{byte(msg.Command()), ConfigStoreNotSupported}, tx)
			return
		}
		if err := l.store(l.pendingNodeId); err != nil {
			l.logger.Warn("storing configuration failed", "error", err)
			l.send([8]byte{byte(msg.Command()), ConfigStoreFailed}, tx)
			return
		}
		l.send([8]byte{byte(msg.Command()), ConfigStoreOk}, tx)

	case CmdConfigureNodeId:
		nodeId := msg.raw[1]
		if !(nodeId >= NodeIdMin && nodeId <= NodeIdMax || nodeId == NodeIdUnconfigured) {
			l.logger.Warn("requested nodeId is out of range", "id", nodeId)
			l.send([8]byte{byte(msg.Command()), ConfigNodeIdOutOfRange}, tx)
			return
		}
		l.pendingNodeId = nodeId
		l.send([8]byte{byte(msg.Command()), ConfigNodeIdOk}, tx)

	default:
		l.logger.Warn("unknown LSS configuration command", "cmd", msg.Command())
	}
}

func (l *LSSSlave) send(data [8]byte, tx zencan.TransmitFunc) {
	if tx == nil {
		return
	}
	var f zencan.Frame
	f.ID = ServiceSlaveId
	f.DLC = 8
	f.Data = data
	_ = tx(f)
}

// NewLSSSlave constructs an LSS slave from the node's identity object
// (0x1018) and its initial node id (NodeIdUnconfigured if LSS must assign
// one before the node may run any other CANopen service, spec.md §3).
func NewLSSSlave(logger *slog.Logger, identity *od.Entry, nodeId uint8) (*LSSSlave, error) {
	var err error
	if logger == nil {
		logger = slog.Default()
	}
	slave := &LSSSlave{logger: logger.With("service", "lss")}
	slave.address.VendorId, err = identity.Uint32(1)
	if err != nil {
		return nil, err
	}
	slave.address.ProductCode, err = identity.Uint32(2)
	if err != nil {
		return nil, err
	}
	slave.address.RevisionNumber, err = identity.Uint32(3)
	if err != nil {
		return nil, err
	}
	slave.address.SerialNumber, err = identity.Uint32(4)
	if err != nil {
		return nil, err
	}
	slave.state = StateWaiting
	slave.activeNodeId = nodeId
	slave.pendingNodeId = nodeId
	return slave, nil
}

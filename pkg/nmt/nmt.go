package nmt

import (
	"fmt"
	"log/slog"

	zencan "github.com/zencan/zencan"
	"github.com/zencan/zencan/pkg/od"
)

const StartupToOperational uint16 = 0x0100

const ServiceId = 0

// NMT states (spec.md §4.4).
const (
	StateInitializing   uint8 = 0
	StatePreOperational uint8 = 127
	StateOperational    uint8 = 5
	StateStopped        uint8 = 4
	StateUnknown        uint8 = 255
)

var stateMap = map[uint8]string{
	StateInitializing:   "INITIALIZING",
	StatePreOperational: "PRE-OPERATIONAL",
	StateOperational:    "OPERATIONAL",
	StateStopped:        "STOPPED",
	StateUnknown:        "UNKNOWN",
}

// Global node reset state, reported to the caller via GetPendingReset so the
// application can act on Reset-Node / Reset-Communication (the core has no
// notion of reboot or of which objects survive a communication reset).
const (
	ResetNot  uint8 = 0
	ResetComm uint8 = 1
	ResetApp  uint8 = 2
)

// Command is an NMT command as received on COB-ID 0x000.
type Command uint8

const (
	CommandEnterOperational    Command = 0x01
	CommandEnterStopped        Command = 0x02
	CommandEnterPreOperational Command = 0x80
	CommandResetNode           Command = 0x81
	CommandResetCommunication  Command = 0x82
)

var commandDescription = map[Command]string{
	CommandEnterOperational:    "ENTER-OPERATIONAL",
	CommandEnterStopped:        "ENTER-STOPPED",
	CommandEnterPreOperational: "ENTER-PREOPERATIONAL",
	CommandResetNode:           "RESET-NODE",
	CommandResetCommunication:  "RESET-COMMUNICATION",
}

// NMT implements the node state machine and heartbeat producer (spec.md
// §4.4). It has no goroutines or timers: heartbeat scheduling is a deadline
// compared against the nowUs passed into Process.
type NMT struct {
	logger *slog.Logger

	state        uint8
	nodeId       uint8
	control      uint16
	resetCommand uint8

	cobIdNmtRx uint32
	cobIdHbTx  uint32

	hbProducerTimeUs uint64
	hbDeadlineUs     uint64
	hbEntry          *od.Entry

	callbacks      map[uint64]func(state uint8)
	callbackNextId uint64
}

// Handle processes an NMT control frame (COB-ID 0x000).
func (nmt *NMT) Handle(frame zencan.Frame, nowUs uint64, tx zencan.TransmitFunc) {
	if frame.DLC != 2 {
		return
	}
	command := Command(frame.Data[0])
	targetId := frame.Data[1]
	if targetId == 0 || targetId == nmt.nodeId {
		nmt.processCommand(command, nowUs, tx)
	}
}

func (nmt *NMT) processCommand(command Command, nowUs uint64, tx zencan.TransmitFunc) {
	newState := nmt.state

	switch command {
	case CommandEnterOperational:
		newState = StateOperational
	case CommandEnterStopped:
		newState = StateStopped
	case CommandEnterPreOperational:
		newState = StatePreOperational
	case CommandResetNode:
		nmt.resetCommand = ResetApp
		newState = StateInitializing
	case CommandResetCommunication:
		nmt.resetCommand = ResetComm
		newState = StateInitializing
	}

	if newState != nmt.state {
		nmt.setState(newState, nowUs, tx)
	}
}

func (nmt *NMT) setState(newState uint8, nowUs uint64, tx zencan.TransmitFunc) {
	if newState == nmt.state {
		return
	}
	nmt.logger.Info("nmt state changed", "previous", stateMap[nmt.state], "new", stateMap[newState])
	nmt.state = newState

	// Heartbeat/bootup is sent on state change and boot, in addition to the
	// periodic producer cycle (spec.md §4.4).
	nmt.sendHeartbeat(nowUs, tx)

	for _, callback := range nmt.callbacks {
		callback(newState)
	}
}

func (nmt *NMT) sendHeartbeat(nowUs uint64, tx zencan.TransmitFunc) {
	var f zencan.Frame
	f.ID = nmt.cobIdHbTx
	f.DLC = 1
	f.Data[0] = nmt.state
	if tx != nil {
		_ = tx(f)
	}
	if nmt.hbProducerTimeUs > 0 {
		nmt.hbDeadlineUs = nowUs + nmt.hbProducerTimeUs
	}
}

// Process re-reads the heartbeat producer period and emits a heartbeat
// frame when its deadline has passed (spec.md §4.4, §8 "T ± one process
// tick").
func (nmt *NMT) Process(nowUs uint64, tx zencan.TransmitFunc) {
	if nmt.hbEntry != nil {
		periodMs, err := nmt.hbEntry.Uint16(0)
		if err == nil {
			nmt.hbProducerTimeUs = uint64(periodMs) * 1000
		}
	}
	if nmt.hbProducerTimeUs == 0 {
		return
	}
	if nowUs >= nmt.hbDeadlineUs {
		nmt.sendHeartbeat(nowUs, tx)
	}
}

func (nmt *NMT) GetState() uint8 {
	return nmt.state
}

// GetPendingReset returns and clears a pending Reset-Node/Reset-Communication
// request, for the application to act on.
func (nmt *NMT) GetPendingReset() uint8 {
	cmd := nmt.resetCommand
	nmt.resetCommand = ResetNot
	return cmd
}

// Start runs the boot sequence (spec.md §4.4): emit the boot-up frame from
// Initialisation, then move to either PreOperational or, if the config's
// StartupToOperational bit is set, directly to Operational.
func (nmt *NMT) Start(nowUs uint64, tx zencan.TransmitFunc) {
	nmt.state = StateInitializing
	next := StatePreOperational
	if nmt.control&StartupToOperational != 0 {
		next = StateOperational
	}
	nmt.sendHeartbeat(nowUs, tx)
	nmt.state = next
	for _, callback := range nmt.callbacks {
		callback(next)
	}
}

// SendInternalCommand applies an NMT command to this node without putting a
// frame on the bus.
func (nmt *NMT) SendInternalCommand(command Command, nowUs uint64, tx zencan.TransmitFunc) {
	nmt.processCommand(command, nowUs, tx)
}

// AddStateChangeCallback registers a callback invoked synchronously whenever
// the NMT state changes; the returned func removes it.
func (nmt *NMT) AddStateChangeCallback(callback func(state uint8)) (cancel func()) {
	id := nmt.callbackNextId
	nmt.callbackNextId++
	nmt.callbacks[id] = callback
	return func() { delete(nmt.callbacks, id) }
}

// NewNMT constructs the NMT state machine for nodeId. entry1017 is the
// heartbeat producer time object (ms); its value is re-read every Process
// call so a write takes effect on the next cycle.
func NewNMT(logger *slog.Logger, nodeId uint8, control uint16, entry1017 *od.Entry) (*NMT, error) {
	if entry1017 == nil {
		return nil, fmt.Errorf("nmt: entry 0x1017 is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	nmt := &NMT{
		logger:     logger.With("service", "nmt"),
		state:      StateInitializing,
		nodeId:     nodeId,
		control:    control,
		cobIdNmtRx: 0x000,
		cobIdHbTx:  0x700 + uint32(nodeId),
		hbEntry:    entry1017,
		callbacks:  make(map[uint64]func(state uint8)),
	}
	periodMs, err := entry1017.Uint16(0)
	if err != nil {
		return nil, fmt.Errorf("nmt: reading 0x1017: %w", err)
	}
	nmt.hbProducerTimeUs = uint64(periodMs) * 1000
	entry1017.AddExtension(nmt, od.ReadEntryDefault, writeEntry1017)
	return nmt, nil
}

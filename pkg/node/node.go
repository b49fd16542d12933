// Package node assembles the object dictionary and the per-service
// runtime objects (SDO, PDO, NMT, heartbeat, SYNC, EMCY, LSS) into a single
// cooperative CANopen node (spec.md §4). There are no goroutines anywhere
// in this package: StoreMessage is the only entry point safe to call from
// an interrupt handler, and Process is the only entry point that touches
// CAN state, meant to be called repeatedly from one task/thread.
package node

import (
	"fmt"
	"log/slog"

	zencan "github.com/zencan/zencan"
	"github.com/zencan/zencan/pkg/emergency"
	"github.com/zencan/zencan/pkg/heartbeat"
	"github.com/zencan/zencan/pkg/lss"
	"github.com/zencan/zencan/pkg/mailbox"
	"github.com/zencan/zencan/pkg/nmt"
	"github.com/zencan/zencan/pkg/od"
	"github.com/zencan/zencan/pkg/pdo"
	"github.com/zencan/zencan/pkg/sdo"
	"github.com/zencan/zencan/pkg/sync"
)

// Node bundles every CANopen service for one node id around a shared
// object dictionary. Construct one with NewNode from an
// *od.ObjectDictionary built by the device-config compiler (package
// config), feed it received frames through StoreMessage, and call Process
// on a regular tick.
type Node struct {
	logger *slog.Logger
	od     *od.ObjectDictionary
	id     uint8

	mailbox *mailbox.Mailbox

	lssSlave   *lss.LSSSlave
	nmt        *nmt.NMT
	emcy       *emergency.EMCY
	sync       *sync.SYNC
	hbConsumer *heartbeat.HBConsumer
	sdoServer  *sdo.Server
	tpdos      []*pdo.TPDO
	rpdos      []*pdo.RPDO

	lastSyncToggle bool
	wasOperational bool
}

// GetOD returns the node's object dictionary.
func (node *Node) GetOD() *od.ObjectDictionary {
	return node.od
}

// GetID returns the node id LSS has currently assigned (NodeIdUnconfigured
// if none yet).
func (node *Node) GetID() uint8 {
	return node.lssSlave.GetNodeIdActive()
}

// GetNMTState returns the node's current NMT state (nmt.State*), or
// nmt.StateUnknown if the node id is still LSS-unconfigured (NewNode skips
// building NMT and every other service that needs a node id in that case).
func (node *Node) GetNMTState() uint8 {
	if node.nmt == nil {
		return nmt.StateUnknown
	}
	return node.nmt.GetState()
}

// SetIdentitySerial writes the runtime-assigned serial number into the
// identity object (0x1018 sub 4) and the LSS address fastscan matches
// against. The other identity fields are compile-time constants from the
// device config; the serial is the one value set by the application, once,
// at boot (spec.md §3). Call from the same task as Process.
func (node *Node) SetIdentitySerial(serial uint32) error {
	entry := node.od.Index(od.EntryIdentityObject)
	if entry == nil {
		return zencan.ErrOdParameters
	}
	if err := entry.PutUint32(4, serial, true); err != nil {
		return err
	}
	node.lssSlave.SetSerialNumber(serial)
	return nil
}

// LSSSlave exposes the LSS service for applications that want to observe
// fastscan progress directly rather than only through Process's return
// value.
func (node *Node) LSSSlave() *lss.LSSSlave {
	return node.lssSlave
}

// TPDOSendAsync requests an out-of-cycle transmission of tpdoIndex
// (0-based), for event/acyclic-type TPDOs whose mapped value just changed.
// It is a no-op for purely synchronous TPDOs and for an out-of-range index.
func (node *Node) TPDOSendAsync(tpdoIndex int, nowUs uint64, tx zencan.TransmitFunc) {
	if tpdoIndex < 0 || tpdoIndex >= len(node.tpdos) {
		return
	}
	node.tpdos[tpdoIndex].SendAsync(nowUs, tx)
}

// StoreMessage enqueues a received CAN frame for the next Process call. It
// is the only method on Node safe to call from interrupt/receive-callback
// context; everything else must run from the same task as Process.
func (node *Node) StoreMessage(frame zencan.Frame) bool {
	return node.mailbox.Store(frame)
}

// Process drains every frame queued since the last call and advances every
// service's time-driven state, using nowUs as the current monotonic clock
// reading in microseconds. It returns the pending NMT reset request
// (nmt.ResetNot if none), for the caller to act on: ResetComm re-runs the
// device-config compiler's output through NewNode, ResetApp additionally
// implies a full restart of application state.
//
// A node constructed with an LSS-unconfigured id (spec.md line 41: "LSS
// must assign before any CANopen service except LSS/NMT itself") has every
// field below nmt left nil by NewNode; Process only drives LSS and the
// mailbox drain in that case. Once LSS has assigned an id, Process commits
// it and returns nmt.ResetComm; otherwise it returns nmt.ResetNot.
func (node *Node) Process(nowUs uint64, tx zencan.TransmitFunc) uint8 {
	node.mailbox.Drain(func(frame zencan.Frame) bool {
		node.dispatch(frame, nowUs, tx)
		return true
	})
	if node.nmt == nil {
		// LSS-unconfigured: once a ConfigureNodeId command has assigned an
		// id, commit it and ask the caller to rebuild the node with it.
		if pending := node.lssSlave.GetNodeIdPending(); pending != lss.NodeIdUnconfigured {
			node.lssSlave.ApplyPendingNodeId()
			return nmt.ResetComm
		}
		return nmt.ResetNot
	}
	if node.mailbox.Overflowed() {
		node.emcy.ErrorReport(emergency.EmCanRXBOverflow, emergency.ErrCanOverrun, 0)
	}

	node.emcy.Process(nowUs, tx)
	node.nmt.Process(nowUs, tx)

	nmtState := node.nmt.GetState()
	node.sdoServer.SetNMTState(nmtState)
	node.sdoServer.Process(nowUs, tx)
	node.hbConsumer.Process(nowUs)

	for _, tpdo := range node.tpdos {
		tpdo.SetNMTState(nmtState)
	}
	for _, rpdo := range node.rpdos {
		rpdo.SetNMTState(nmtState)
	}

	operational := nmtState == nmt.StateOperational
	if operational != node.wasOperational {
		for _, tpdo := range node.tpdos {
			tpdo.SetOperational(operational, nowUs)
		}
		for _, rpdo := range node.rpdos {
			rpdo.SetOperational(operational, nowUs)
		}
		node.wasOperational = operational
	}

	if toggle := node.sync.RxToggle(); toggle != node.lastSyncToggle {
		node.lastSyncToggle = toggle
		for _, tpdo := range node.tpdos {
			tpdo.OnSync(nowUs, tx)
		}
	}
	for _, tpdo := range node.tpdos {
		tpdo.Process(nowUs, tx)
	}
	for _, rpdo := range node.rpdos {
		rpdo.Process(nowUs, tx)
	}

	reset := node.nmt.GetPendingReset()
	if reset != nmt.ResetNot {
		// A reset is the point where an LSS-assigned node id takes effect
		// (CiA 305); the caller rebuilds the node and reads GetID.
		node.lssSlave.ApplyPendingNodeId()
	}
	return reset
}

// dispatch routes one received frame to every service whose COB-ID it
// matches. Several services can legitimately share this call (e.g. LSS and
// heartbeat each check their own COB-ID internally and no-op otherwise).
// Every service besides LSS is nil until a node id is assigned (see
// Process), so dispatch stops after LSS in that case.
func (node *Node) dispatch(frame zencan.Frame, nowUs uint64, tx zencan.TransmitFunc) {
	node.lssSlave.Handle(frame, nowUs, tx)
	if node.nmt == nil {
		return
	}
	node.hbConsumer.Handle(frame, nowUs)

	if frame.ID == uint32(nmt.ServiceId) {
		node.nmt.Handle(frame, nowUs, tx)
		return
	}
	if frame.ID == node.sync.CobId() {
		node.sync.Handle(frame, nowUs)
		return
	}
	if frame.ID == node.sdoServer.CobIdRx {
		node.sdoServer.Handle(frame, nowUs, tx)
		return
	}
	for _, rpdo := range node.rpdos {
		if uint32(rpdo.CobId()) == frame.ID {
			rpdo.Handle(frame, nowUs, tx)
			return
		}
	}
}

// predefinedCobId computes the CiA 301 default COB-ID for the pdoNb-th
// (0-based) PDO of the given base (0x180 for TPDO, 0x200 for RPDO),
// following the teacher's convention of wrapping the node-id slot every 4
// PDOs rather than leaving PDOs beyond the 4th with no predefined ID.
func predefinedCobId(base uint16, pdoNb uint16, nodeId uint8) uint16 {
	slot := pdoNb % 4
	nodeIdOffset := pdoNb / 4
	return base + slot*0x100 + uint16(nodeId) + nodeIdOffset
}

// initPDOs walks the 0x14xx/0x16xx and 0x18xx/0x1Axx ranges, building one
// RPDO/TPDO runtime object per pair of entries the object dictionary
// actually contains, stopping at the first gap (no holes allowed).
func (node *Node) initPDOs() error {
	for i := uint16(0); i < 512; i++ {
		entry14xx := node.od.Index(od.EntryRPDOCommunicationStart + i)
		entry16xx := node.od.Index(od.EntryRPDOMappingStart + i)
		if entry14xx == nil || entry16xx == nil {
			break
		}
		rpdo, err := pdo.NewRPDO(
			node.logger, node.od, node.emcy, node.sync,
			entry14xx, entry16xx,
			predefinedCobId(0x200, i, node.id),
		)
		if err != nil {
			return fmt.Errorf("node: building RPDO %d: %w", i, err)
		}
		node.rpdos = append(node.rpdos, rpdo)
	}
	for i := uint16(0); i < 512; i++ {
		entry18xx := node.od.Index(od.EntryTPDOCommunicationStart + i)
		entry1Axx := node.od.Index(od.EntryTPDOMappingStart + i)
		if entry18xx == nil || entry1Axx == nil {
			break
		}
		tpdo, err := pdo.NewTPDO(
			node.logger, node.od, node.emcy, node.sync,
			entry18xx, entry1Axx,
			predefinedCobId(0x180, i, node.id),
		)
		if err != nil {
			return fmt.Errorf("node: building TPDO %d: %w", i, err)
		}
		node.tpdos = append(node.tpdos, tpdo)
	}
	return nil
}

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
	"github.com/zencan/zencan/pkg/sdo"
	"github.com/zencan/zencan/pkg/sync"
)

const defaultMailboxCapacity = 32

// Config bundles the tunables NewNode needs beyond the object dictionary
// itself: nothing here is stored in the OD because none of it is a CANopen
// object an SDO client could reasonably read back.
type Config struct {
	// NMTControl is the CiA 301 NMT startup control word (e.g.
	// nmt.StartupToOperational to skip PreOperational on boot).
	NMTControl uint16
	// SDOServerTimeoutMs aborts a stalled segmented SDO transfer after this
	// many milliseconds of inactivity; 0 disables the timeout.
	SDOServerTimeoutMs uint32
	// MailboxCapacity sizes the ISR-to-process-loop ring buffer; rounded up
	// to the next power of two. Zero defaults to 32.
	MailboxCapacity int

	// BootloaderReset, if set, arms 0x5500 sub 3: NewNode attaches it only
	// if the object dictionary (built by the device-config compiler)
	// actually contains 0x5500. Left nil, a write to that sub-index still
	// succeeds but triggers nothing.
	BootloaderReset od.BootloaderCallback
	// BootloaderErase arms each populated 0x5510-0x551F section entry, by
	// its offset from EntryBootloaderSectionStart (0 for 0x5510, 1 for
	// 0x5511, ...).
	BootloaderErase map[uint8]od.BootloaderCallback
}

// NewNode builds every service object from odict and wires them together,
// then runs the NMT boot sequence (spec.md §4.4): the node transmits its
// boot-up heartbeat and enters PreOperational (or Operational, if
// cfg.NMTControl requests it) before NewNode returns. odict must already
// contain the standard objects (0x1000-range, PDO communication/mapping
// parameters) the device-config compiler emits; see package config.
func NewNode(
	logger *slog.Logger,
	odict *od.ObjectDictionary,
	nodeId uint8,
	cfg Config,
	nowUs uint64,
	tx zencan.TransmitFunc,
) (*Node, error) {
	if odict == nil {
		return nil, fmt.Errorf("node: object dictionary is required")
	}
	if nodeId < lss.NodeIdMin || nodeId > lss.NodeIdMax {
		if nodeId != lss.NodeIdUnconfigured {
			return nil, zencan.ErrIllegalArgument
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("nodeId", nodeId)

	capacity := cfg.MailboxCapacity
	if capacity == 0 {
		capacity = defaultMailboxCapacity
	}

	node := &Node{
		logger:  logger,
		od:      odict,
		id:      nodeId,
		mailbox: mailbox.New(capacity),
	}

	entryIdentity := odict.Index(od.EntryIdentityObject)
	if entryIdentity == nil {
		return nil, fmt.Errorf("node: object dictionary missing identity object 0x1018")
	}
	lssSlave, err := lss.NewLSSSlave(logger, entryIdentity, nodeId)
	if err != nil {
		return nil, fmt.Errorf("node: building LSS slave: %w", err)
	}
	node.lssSlave = lssSlave

	if node.GetID() == lss.NodeIdUnconfigured {
		// CiA 305: a node with no node id may only run LSS until one is
		// assigned. Every other service needs a valid node id to compute
		// its default COB-IDs, so stop here.
		return node, nil
	}

	emcy, err := emergency.NewEMCY(
		logger,
		node.GetID(),
		odict.Index(od.EntryCobIdEMCY),
		odict.Index(od.EntryInhibitTimeEMCY),
		odict.Index(od.EntryPredefinedErrorField), // pre-defined error field, 0x1003
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("node: building emergency producer: %w", err)
	}
	node.emcy = emcy

	entry1017 := odict.Index(od.EntryProducerHeartbeatTime)
	if entry1017 == nil {
		return nil, fmt.Errorf("node: object dictionary missing 0x1017")
	}
	nm, err := nmt.NewNMT(logger, node.GetID(), cfg.NMTControl, entry1017)
	if err != nil {
		return nil, fmt.Errorf("node: building NMT: %w", err)
	}
	node.nmt = nm

	syncSvc, err := sync.NewSYNC(
		logger, emcy,
		odict.Index(od.EntryCobIdSYNC),
		odict.Index(od.EntryCommunicationCyclePeriod),
		odict.Index(od.EntrySynchronousWindowLength),
		odict.Index(od.EntrySynchronousCounterOverflow),
	)
	if err != nil {
		return nil, fmt.Errorf("node: building SYNC: %w", err)
	}
	node.sync = syncSvc

	entry1016 := odict.Index(od.EntryConsumerHeartbeatTime)
	if entry1016 == nil {
		return nil, fmt.Errorf("node: object dictionary missing 0x1016")
	}
	hbConsumer, err := heartbeat.NewHBConsumer(logger, emcy, entry1016)
	if err != nil {
		return nil, fmt.Errorf("node: building heartbeat consumer: %w", err)
	}
	node.hbConsumer = hbConsumer

	sdoServer, err := sdo.NewServer(logger, odict, node.GetID(), cfg.SDOServerTimeoutMs)
	if err != nil {
		return nil, fmt.Errorf("node: building SDO server: %w", err)
	}
	node.sdoServer = sdoServer

	if err := node.initPDOs(); err != nil {
		return nil, err
	}

	node.initBootloader(cfg)

	node.nmt.Start(nowUs, tx)
	return node, nil
}

// initBootloader attaches the od.Bootloader extension to whichever
// bootloader objects the device-config compiler emitted, gated on the
// magic-word writes bootloader.go implements. An object dictionary built
// without a bootloader section simply has no 0x5500/0x5510+ entries, so
// this is a no-op for those devices.
func (node *Node) initBootloader(cfg Config) {
	if entry := node.od.Index(od.EntryBootloaderControl); entry != nil {
		ctrl := od.NewBootloaderControl(cfg.BootloaderReset)
		entry.AddExtension(ctrl, od.ReadEntryDefault, od.WriteEntryBootloaderControl)
	}
	for index := od.EntryBootloaderSectionStart; index <= od.EntryBootloaderSectionEnd; index++ {
		entry := node.od.Index(index)
		if entry == nil {
			continue
		}
		section := uint8(index - od.EntryBootloaderSectionStart)
		sec := od.NewBootloaderSection(section, cfg.BootloaderErase[section])
		entry.AddExtension(sec, od.ReadEntryDefault, od.WriteEntryBootloaderSection)
	}
}

package pdo

import (
	"fmt"
	"log/slog"

	zencan "github.com/zencan/zencan"
	"github.com/zencan/zencan/pkg/emergency"
	"github.com/zencan/zencan/pkg/od"
	"github.com/zencan/zencan/pkg/sync"
)

const (
	SyncCounterReset        = 255
	SyncCounterWaitForStart = 254
)

// TPDO produces a transmit PDO. It has no Handle method (TPDOs never
// receive frames); it is driven by OnSync (called once per received SYNC
// frame) and Process (called on every pass of the main loop to service
// inhibit/event-timer deadlines).
type TPDO struct {
	pdo  *PDOCommon
	sync *sync.SYNC

	transmissionType uint8
	sendRequest      bool
	syncStartValue   uint8
	syncCounter      uint8

	inhibitTimeUs   uint64
	eventTimeUs     uint64
	inhibitDeadline uint64
	eventDeadline   uint64
	inhibitActive   bool
	isOperational   bool
}

func (tpdo *TPDO) configureTransmissionType(entry18xx *od.Entry) error {
	transmissionType, err := entry18xx.Uint8(od.SubPdoTransmissionType)
	if err != nil {
		tpdo.pdo.logger.Error("reading failed",
			"index", fmt.Sprintf("x%x", entry18xx.Index),
			"subindex", od.SubPdoTransmissionType,
			"error", err,
		)
		return zencan.ErrOdParameters
	}
	if transmissionType < TransmissionTypeSyncEventLo && transmissionType > TransmissionTypeSync240 {
		transmissionType = TransmissionTypeSyncEventLo
	}
	tpdo.transmissionType = transmissionType
	tpdo.sendRequest = true
	return nil
}

func (tpdo *TPDO) configureCOBID(entry18xx *od.Entry, predefinedIdent uint16, erroneousMap uint32) (canId uint16, e error) {
	pdo := tpdo.pdo
	cobId, err := entry18xx.Uint32(od.SubPdoCobId)
	if err != nil {
		tpdo.pdo.logger.Error("reading failed",
			"index", fmt.Sprintf("x%x", entry18xx.Index),
			"subindex", od.SubPdoCobId,
			"error", err,
		)
		return 0, zencan.ErrOdParameters
	}
	valid := (cobId & 0x80000000) == 0
	canId = uint16(cobId & 0x7FF)
	if valid && (pdo.nbMapped == 0 || canId == 0) {
		valid = false
		if erroneousMap == 0 {
			erroneousMap = 1
		}
	}
	if erroneousMap != 0 {
		errorInfo := erroneousMap
		if erroneousMap == 1 {
			errorInfo = cobId
		}
		pdo.emcy.ErrorReport(emergency.EmPDOWrongMapping, emergency.ErrProtocolError, errorInfo)
	}
	if !valid {
		canId = 0
	}
	// If default canId is stored in od, add node id
	if canId != 0 && canId == (predefinedIdent&0xFF80) {
		canId = predefinedIdent
	}
	pdo.Valid = valid
	return canId, nil
}

// transmit assembles the mapped data and emits the frame unconditionally,
// then arms the inhibit/event deadlines for the next send.
func (tpdo *TPDO) transmit(nowUs uint64, tx zencan.TransmitFunc) error {
	pdo := tpdo.pdo
	if !pdo.Valid {
		return nil
	}
	var data [8]byte
	totalNbRead := 0
	for i := uint8(0); i < pdo.nbMapped; i++ {
		streamer := &pdo.streamers[i]
		mappedLength := streamer.DataOffset
		streamer.DataOffset = 0
		n, err := streamer.Read(data[totalNbRead:])
		streamer.DataOffset = mappedLength
		if err != nil {
			tpdo.pdo.logger.Warn("failed to send", "cobId", pdo.configuredId, "error", err)
			return err
		}
		totalNbRead += n
	}
	tpdo.sendRequest = false
	tpdo.eventDeadline = 0
	if tpdo.eventTimeUs != 0 {
		tpdo.eventDeadline = nowUs + tpdo.eventTimeUs
	}
	tpdo.inhibitActive = tpdo.inhibitTimeUs != 0
	if tpdo.inhibitActive {
		tpdo.inhibitDeadline = nowUs + tpdo.inhibitTimeUs
	}

	var f zencan.Frame
	f.ID = uint32(pdo.configuredId)
	f.DLC = uint8(pdo.dataLength)
	f.Data = data
	if tx == nil {
		return nil
	}
	return tx(f)
}

// sendOrDefer transmits now, unless inhibited, in which case the send is
// recorded as pending and flushed once the inhibit window elapses.
func (tpdo *TPDO) sendOrDefer(nowUs uint64, tx zencan.TransmitFunc) {
	if !tpdo.isOperational {
		return
	}
	if tpdo.inhibitActive {
		tpdo.sendRequest = true
		return
	}
	_ = tpdo.transmit(nowUs, tx)
}

// OnSync is called once for every SYNC frame consumed on the bus.
func (tpdo *TPDO) OnSync(nowUs uint64, tx zencan.TransmitFunc) {
	if !tpdo.isOperational || tpdo.transmissionType >= TransmissionTypeSyncEventLo {
		return
	}
	if tpdo.transmissionType == TransmissionTypeSyncAcyclic {
		if tpdo.sendRequest {
			tpdo.sendOrDefer(nowUs, tx)
		}
		return
	}
	if tpdo.syncCounter == SyncCounterReset {
		if tpdo.syncStartValue != 0 {
			tpdo.syncCounter = SyncCounterWaitForStart
		} else {
			tpdo.syncCounter = tpdo.transmissionType
		}
	}
	switch tpdo.syncCounter {
	case SyncCounterWaitForStart:
		if tpdo.sync.Counter() == tpdo.syncStartValue {
			tpdo.syncCounter = tpdo.transmissionType
			tpdo.sendOrDefer(nowUs, tx)
		}
	case 1:
		tpdo.syncCounter = tpdo.transmissionType
		tpdo.sendOrDefer(nowUs, tx)
	default:
		tpdo.syncCounter--
	}
}

// SendAsync requests transmission of an event/acyclic TPDO, e.g. when the
// application changes a mapped value. No-op for strictly cyclic-sync types.
func (tpdo *TPDO) SendAsync(nowUs uint64, tx zencan.TransmitFunc) {
	if !tpdo.isOperational {
		return
	}
	if tpdo.transmissionType == TransmissionTypeSyncAcyclic {
		tpdo.sendRequest = true
		return
	}
	if tpdo.transmissionType < TransmissionTypeSyncEventLo {
		return
	}
	tpdo.sendOrDefer(nowUs, tx)
}

// Process services the inhibit and event timer deadlines. Must be called
// regularly from the node's main loop.
func (tpdo *TPDO) Process(nowUs uint64, tx zencan.TransmitFunc) {
	if !tpdo.isOperational {
		return
	}
	if tpdo.inhibitActive && nowUs >= tpdo.inhibitDeadline {
		tpdo.inhibitActive = false
		if tpdo.sendRequest {
			_ = tpdo.transmit(nowUs, tx)
		}
	}
	if tpdo.transmissionType >= TransmissionTypeSyncEventLo &&
		tpdo.eventTimeUs != 0 && tpdo.eventDeadline != 0 && nowUs >= tpdo.eventDeadline {
		tpdo.sendOrDefer(nowUs, tx)
	}
}

func (tpdo *TPDO) SetOperational(operational bool, nowUs uint64) {
	tpdo.isOperational = operational
	if operational {
		tpdo.syncCounter = SyncCounterReset
		if tpdo.eventTimeUs != 0 {
			tpdo.eventDeadline = nowUs + tpdo.eventTimeUs
		}
	} else {
		tpdo.inhibitActive = false
	}
}

// SetNMTState propagates the node's current NMT state to the mapping-write
// reconfiguration guard (spec.md §4.3).
func (tpdo *TPDO) SetNMTState(state uint8) {
	tpdo.pdo.SetNMTState(state)
}

// NewTPDO creates a new TPDO from the object dictionary communication (18xx)
// and mapping (1Axx) entries.
func NewTPDO(
	logger *slog.Logger,
	odict *od.ObjectDictionary,
	emcy *emergency.EMCY,
	syncSvc *sync.SYNC,
	entry18xx *od.Entry,
	entry1Axx *od.Entry,
	predefinedIdent uint16,
) (*TPDO, error) {
	if odict == nil || entry18xx == nil || entry1Axx == nil || emcy == nil {
		return nil, zencan.ErrIllegalArgument
	}

	tpdo := &TPDO{}

	erroneousMap := uint32(0)
	pdo, err := NewPDO(odict, logger, entry1Axx, false, emcy, &erroneousMap)
	if err != nil {
		return nil, err
	}
	tpdo.pdo = pdo

	if err := tpdo.configureTransmissionType(entry18xx); err != nil {
		return nil, err
	}
	canId, err := tpdo.configureCOBID(entry18xx, predefinedIdent, erroneousMap)
	if err != nil {
		return nil, err
	}

	inhibitTime, err := entry18xx.Uint16(od.SubPdoInhibitTime)
	if err != nil {
		tpdo.pdo.logger.Warn("reading inhibit time failed",
			"index", fmt.Sprintf("x%x", entry18xx.Index),
			"subindex", od.SubPdoInhibitTime,
			"error", err,
		)
	}
	tpdo.inhibitTimeUs = uint64(inhibitTime) * 100

	eventTime, err := entry18xx.Uint16(od.SubPdoEventTimer)
	if err != nil {
		tpdo.pdo.logger.Warn("reading event timer failed",
			"index", fmt.Sprintf("x%x", entry18xx.Index),
			"subindex", od.SubPdoEventTimer,
			"error", err,
		)
	}
	tpdo.eventTimeUs = uint64(eventTime) * 1000

	tpdo.syncStartValue, err = entry18xx.Uint8(od.SubPdoSyncStart)
	if err != nil {
		tpdo.pdo.logger.Warn("reading sync start failed",
			"index", fmt.Sprintf("x%x", entry18xx.Index),
			"subindex", od.SubPdoSyncStart,
			"error", err,
		)
	}
	tpdo.sync = syncSvc
	tpdo.syncCounter = SyncCounterReset

	pdo.IsRPDO = false
	pdo.predefinedId = predefinedIdent
	pdo.configuredId = canId
	entry18xx.AddExtension(tpdo, readEntry14xxOr18xx, writeEntry18xx)
	entry1Axx.AddExtension(tpdo, od.ReadEntryDefault, writeEntry16xxOr1Axx)
	tpdo.pdo.logger.Debug("finished initializing",
		"canId", canId,
		"valid", pdo.Valid,
		"inhibitTime", inhibitTime,
		"eventTime", eventTime,
		"transmissionType", tpdo.transmissionType,
	)
	return tpdo, nil
}

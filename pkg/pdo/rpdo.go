package pdo

import (
	"fmt"
	"log/slog"

	zencan "github.com/zencan/zencan"
	"github.com/zencan/zencan/pkg/emergency"
	"github.com/zencan/zencan/pkg/od"
	"github.com/zencan/zencan/pkg/sync"
)

// RPDO consumes a receive PDO. Synchronous transmission types (0x00-0xF0)
// buffer the last received frame and commit it to the object dictionary
// only once the next SYNC is observed; event types (0xFE/0xFF) commit
// immediately on receipt.
type RPDO struct {
	pdo  *PDOCommon
	sync *sync.SYNC

	synchronous bool
	pending     [MaxPdoLength]byte
	pendingLen  uint8
	havePending bool
	// SYNC toggle observed when the pending frame was buffered; a commit
	// happens once the toggle has moved on, i.e. a SYNC arrived after the
	// frame.
	pendingToggle bool

	timeoutUs     uint64
	deadlineUs    uint64
	inTimeout     bool
	isOperational bool
}

// validateFrameLength checks the received DLC against the configured
// mapped length, raising the appropriate emergency error on mismatch.
func (rpdo *RPDO) validateFrameLength(dlc uint8) bool {
	pdo := rpdo.pdo
	if uint32(dlc) == pdo.dataLength {
		return true
	}
	var errCode uint16
	if uint32(dlc) < pdo.dataLength {
		errCode = emergency.ErrPdoLength
	} else {
		errCode = emergency.ErrPdoLengthExc
	}
	pdo.emcy.ErrorReport(emergency.EmRPDOWrongLength, errCode, uint32(pdo.dataLength))
	return false
}

// copyDataToOd unpacks mapped sub-objects, in mapping order, from data.
func (rpdo *RPDO) copyDataToOd(data []byte) {
	pdo := rpdo.pdo
	offset := 0
	for i := uint8(0); i < pdo.nbMapped; i++ {
		streamer := &pdo.streamers[i]
		mappedLength := int(streamer.DataOffset)
		if offset+mappedLength > len(data) {
			break
		}
		streamer.DataOffset = 0
		_, err := streamer.Write(data[offset : offset+mappedLength])
		if err != nil {
			pdo.logger.Warn("failed to write mapped value", "index", i, "error", err)
		}
		streamer.DataOffset = uint32(mappedLength)
		offset += mappedLength
	}
}

// Handle processes a received RPDO frame.
func (rpdo *RPDO) Handle(frame zencan.Frame, nowUs uint64, tx zencan.TransmitFunc) {
	if !rpdo.isOperational || !rpdo.pdo.Valid {
		return
	}
	if !rpdo.validateFrameLength(frame.DLC) {
		return
	}
	rpdo.restartTimeout(nowUs)

	if rpdo.synchronous {
		copy(rpdo.pending[:], frame.Data[:frame.DLC])
		rpdo.pendingLen = frame.DLC
		rpdo.havePending = true
		if rpdo.sync != nil {
			rpdo.pendingToggle = rpdo.sync.RxToggle()
		}
		return
	}
	rpdo.copyDataToOd(frame.Data[:frame.DLC])
}

// Process must be run regularly; it commits a buffered synchronous frame
// once a new SYNC is detected, and checks the RPDO event timeout.
func (rpdo *RPDO) Process(nowUs uint64, tx zencan.TransmitFunc) {
	if !rpdo.isOperational {
		return
	}
	if rpdo.synchronous && rpdo.sync != nil {
		if rpdo.havePending && rpdo.sync.RxToggle() != rpdo.pendingToggle {
			rpdo.copyDataToOd(rpdo.pending[:rpdo.pendingLen])
			rpdo.havePending = false
		}
	}
	if rpdo.timeoutUs != 0 && !rpdo.inTimeout && nowUs >= rpdo.deadlineUs {
		rpdo.inTimeout = true
		rpdo.pdo.emcy.ErrorReport(emergency.EmRPDOTimeOut, emergency.ErrRpdoTimeout, uint32(rpdo.pdo.configuredId))
	}
}

func (rpdo *RPDO) restartTimeout(nowUs uint64) {
	rpdo.inTimeout = false
	if rpdo.timeoutUs != 0 {
		rpdo.deadlineUs = nowUs + rpdo.timeoutUs
	}
}

func (rpdo *RPDO) SetOperational(operational bool, nowUs uint64) {
	rpdo.isOperational = operational
	if operational {
		rpdo.havePending = false
		rpdo.restartTimeout(nowUs)
	} else {
		rpdo.inTimeout = false
	}
}

// SetNMTState propagates the node's current NMT state to the mapping-write
// reconfiguration guard (spec.md §4.3).
func (rpdo *RPDO) SetNMTState(state uint8) {
	rpdo.pdo.SetNMTState(state)
}

// CobId returns the currently configured (or 0 if invalid) COB-ID, used by
// the node coordinator to dispatch incoming frames to this RPDO.
func (rpdo *RPDO) CobId() uint16 {
	if !rpdo.pdo.Valid {
		return 0
	}
	return rpdo.pdo.configuredId
}

func (rpdo *RPDO) configureTransmissionType(entry14xx *od.Entry) error {
	transmissionType, err := entry14xx.Uint8(od.SubPdoTransmissionType)
	if err != nil {
		rpdo.pdo.logger.Error("reading failed",
			"index", fmt.Sprintf("x%x", entry14xx.Index),
			"subindex", od.SubPdoTransmissionType,
			"error", err,
		)
		return zencan.ErrOdParameters
	}
	rpdo.synchronous = transmissionType <= TransmissionTypeSync240
	return nil
}

func (rpdo *RPDO) configureCOBID(entry14xx *od.Entry, predefinedIdent uint16) error {
	pdo := rpdo.pdo
	cobId, err := entry14xx.Uint32(od.SubPdoCobId)
	if err != nil {
		rpdo.pdo.logger.Error("reading failed",
			"index", fmt.Sprintf("x%x", entry14xx.Index),
			"subindex", od.SubPdoCobId,
			"error", err,
		)
		return zencan.ErrOdParameters
	}
	valid := (cobId & 0x80000000) == 0
	canId := uint16(cobId & 0x7FF)
	if valid && canId == 0 {
		valid = false
	}
	if canId != 0 && canId == (predefinedIdent&0xFF80) {
		canId = predefinedIdent
	}
	pdo.Valid = valid
	pdo.configuredId = canId
	return nil
}

// NewRPDO creates a new RPDO from the object dictionary communication (14xx)
// and mapping (16xx) entries.
func NewRPDO(
	logger *slog.Logger,
	odict *od.ObjectDictionary,
	emcy *emergency.EMCY,
	syncSvc *sync.SYNC,
	entry14xx *od.Entry,
	entry16xx *od.Entry,
	predefinedIdent uint16,
) (*RPDO, error) {
	if odict == nil || entry14xx == nil || entry16xx == nil || emcy == nil {
		return nil, zencan.ErrIllegalArgument
	}

	rpdo := &RPDO{sync: syncSvc}

	erroneousMap := uint32(0)
	pdo, err := NewPDO(odict, logger, entry16xx, true, emcy, &erroneousMap)
	if err != nil {
		return nil, err
	}
	rpdo.pdo = pdo

	if err := rpdo.configureTransmissionType(entry14xx); err != nil {
		return nil, err
	}
	if err := rpdo.configureCOBID(entry14xx, predefinedIdent); err != nil {
		return nil, err
	}

	eventTimer, err := entry14xx.Uint16(od.SubPdoEventTimer)
	if err != nil {
		rpdo.pdo.logger.Warn("reading event timer failed",
			"index", fmt.Sprintf("x%x", entry14xx.Index),
			"subindex", od.SubPdoEventTimer,
			"error", err,
		)
	}
	rpdo.timeoutUs = uint64(eventTimer) * 1000

	pdo.IsRPDO = true
	pdo.predefinedId = predefinedIdent
	entry14xx.AddExtension(rpdo, readEntry14xxOr18xx, writeEntry14xx)
	entry16xx.AddExtension(rpdo, od.ReadEntryDefault, writeEntry16xxOr1Axx)
	rpdo.pdo.logger.Debug("finished initializing",
		"canId", pdo.configuredId,
		"valid", pdo.Valid,
		"synchronous", rpdo.synchronous,
		"timeoutUs", rpdo.timeoutUs,
	)
	return rpdo, nil
}

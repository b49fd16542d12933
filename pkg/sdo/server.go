package sdo

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log/slog"

	zencan "github.com/zencan/zencan"
	"github.com/zencan/zencan/pkg/od"
)

// Command specifiers the client sends (byte[0] >> 5).
const (
	ccsDownloadSegment  uint8 = 0
	ccsInitiateDownload uint8 = 1
	ccsInitiateUpload   uint8 = 2
	ccsUploadSegment    uint8 = 3
	ccsAbort            uint8 = 4
)

// NMT states in which the server answers requests, as raw bytes so this
// package does not depend on pkg/nmt.
const (
	nmtOperational    uint8 = 5
	nmtPreOperational uint8 = 127
)

// Server implements a single CANopen SDO server (spec.md §4.2): expedited
// and segmented download/upload over one request/response COB-ID pair, one
// transfer active at a time. It has no goroutines; Handle and Process are
// both called synchronously from the node's cooperative process loop.
type Server struct {
	logger *slog.Logger
	od     *od.ObjectDictionary
	nodeId uint8

	CobIdRx uint32 // client -> server
	CobIdTx uint32 // server -> client

	nmtState uint8 // set by the node each Process call

	state    internalState
	streamer *od.Streamer
	index    uint16
	subindex uint8
	toggle   uint8
	buf      bytes.Buffer // accumulated download/upload payload
	streamed bool         // true for DOMAIN/string: write segments directly, no buffering
	size     uint32       // declared size, 0 if not indicated

	timeoutUs  uint32 // 0 disables the inactivity timeout
	deadlineUs uint64 // valid only while state != stateIdle
}

// NewServer creates the default SDO server for nodeId: request COB-ID
// 0x600+nodeId, response COB-ID 0x580+nodeId (spec.md §6). timeoutMs of 0
// disables the inactivity timeout (spec.md §5).
func NewServer(logger *slog.Logger, odict *od.ObjectDictionary, nodeId uint8, timeoutMs uint32) (*Server, error) {
	if odict == nil {
		return nil, fmt.Errorf("sdo: object dictionary is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		logger:    logger.With("service", "sdo"),
		od:        odict,
		nodeId:    nodeId,
		CobIdRx:   ClientBaseId + uint32(nodeId),
		CobIdTx:   ServerBaseId + uint32(nodeId),
		timeoutUs: timeoutMs * 1000,
	}
	if entry := odict.Index(od.EntrySDOServerParameter); entry != nil {
		entry.PutUint32(1, s.CobIdRx, true)
		entry.PutUint32(2, s.CobIdTx, true)
		entry.AddExtension(s, od.ReadEntryDefault, writeEntrySDOServerParameter)
	}
	return s, nil
}

// SetNMTState propagates the node's current NMT state; the server only
// services requests while PreOperational or Operational.
func (s *Server) SetNMTState(state uint8) {
	s.nmtState = state
}

// Handle processes one request frame addressed to this server's RX COB-ID.
// tx emits the response (or abort) synchronously, matching the ordering
// guarantee "SDO responses are emitted before any subsequent SDO handling
// for the same server" (spec.md §5) — Handle never returns before its
// response is sent.
func (s *Server) Handle(frame zencan.Frame, nowUs uint64, tx zencan.TransmitFunc) {
	if frame.DLC != 8 {
		return
	}
	if s.nmtState != nmtOperational && s.nmtState != nmtPreOperational {
		return
	}
	req := sdoMessage{raw: frame.Data}

	if req.IsAbort() {
		s.state = stateIdle
		return
	}

	ccs := req.ccs() >> 5
	var abort AbortCode
	var hasAbort bool

	switch {
	case s.state == stateIdle && ccs == ccsInitiateDownload:
		abort, hasAbort = s.rxInitiateDownload(req, tx)
	case s.state == stateIdle && ccs == ccsInitiateUpload:
		abort, hasAbort = s.rxInitiateUpload(req, tx)
	case s.state == stateDownloadSegment && ccs == ccsDownloadSegment:
		abort, hasAbort = s.rxDownloadSegment(req, tx)
	case s.state == stateUploadSegment && ccs == ccsUploadSegment:
		abort, hasAbort = s.rxUploadSegment(req, tx)
	case ccs == ccsInitiateDownload:
		// New transfer while one was active: aborts the previous one first.
		s.state = stateIdle
		abort, hasAbort = s.rxInitiateDownload(req, tx)
	case ccs == ccsInitiateUpload:
		s.state = stateIdle
		abort, hasAbort = s.rxInitiateUpload(req, tx)
	default:
		abort, hasAbort = AbortCmd, true
	}

	if hasAbort {
		s.sendAbort(abort, tx)
		return
	}
	if s.timeoutUs > 0 {
		s.deadlineUs = nowUs + uint64(s.timeoutUs)
	}
}

// Process checks the inactivity timeout of an in-progress transfer. It does
// not drive any frame I/O on its own; all responses are emitted from Handle.
func (s *Server) Process(nowUs uint64, tx zencan.TransmitFunc) {
	if s.state == stateIdle || s.timeoutUs == 0 {
		return
	}
	if nowUs >= s.deadlineUs {
		s.sendAbort(AbortTimeout, tx)
	}
}

func (s *Server) sendAbort(code AbortCode, tx zencan.TransmitFunc) {
	s.state = stateIdle
	var f zencan.Frame
	f.ID = s.CobIdTx
	f.DLC = 8
	f.Data[0] = 0x80
	binary.LittleEndian.PutUint16(f.Data[1:3], s.index)
	f.Data[3] = s.subindex
	binary.LittleEndian.PutUint32(f.Data[4:8], uint32(code))
	s.logger.Warn("sdo abort",
		"index", fmt.Sprintf("x%x", s.index), "subindex", s.subindex, "code", code)
	if tx != nil {
		_ = tx(f)
	}
}

// openStream creates a streamer for (index, subindex) from the initiate
// request, checking access mode for the given direction.
func (s *Server) openStream(req sdoMessage, upload bool) (AbortCode, bool) {
	s.index = req.GetIndex()
	s.subindex = req.GetSubindex()

	streamer, err := s.od.Streamer(s.index, s.subindex, false)
	if err != nil {
		return ConvertOdToAbort(err), true
	}
	if upload && !streamer.HasAttribute(od.AttributeSdoR) {
		return AbortWriteOnly, true
	}
	if !upload && (!streamer.HasAttribute(od.AttributeSdoW) || streamer.HasAttribute(od.AttributeConst)) {
		return AbortReadOnly, true
	}
	s.streamer = streamer
	s.streamed = streamer.HasAttribute(od.AttributeStr) || isVariableLengthDomain(streamer)
	return 0, false
}

func isVariableLengthDomain(streamer *od.Streamer) bool {
	return streamer.DataLength == 0
}

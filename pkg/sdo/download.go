package sdo

import (
	"encoding/binary"

	zencan "github.com/zencan/zencan"
	"github.com/zencan/zencan/pkg/od"
)

// sendFrame emits an 8-byte response on the server's TX COB-ID.
func (s *Server) sendFrame(data [8]byte, tx zencan.TransmitFunc) {
	if tx == nil {
		return
	}
	var f zencan.Frame
	f.ID = s.CobIdTx
	f.DLC = 8
	f.Data = data
	_ = tx(f)
}

// rxInitiateDownload handles an InitiateDownload request (ccs=1). Expedited
// transfers (e-bit set) write directly to the OD and reply immediately;
// segmented transfers open a buffered transfer and reply with an
// InitiateDownloadResponse, then wait for DownloadSegment requests.
func (s *Server) rxInitiateDownload(req sdoMessage, tx zencan.TransmitFunc) (AbortCode, bool) {
	if abort, bad := s.openStream(req, false); bad {
		return abort, true
	}

	if req.IsExpedited() {
		n := 4
		if req.IsSizeIndicated() {
			n -= int((req.raw[0] >> 2) & 0x03)
		}
		if !s.streamed && s.streamer.DataLength != 0 && uint32(n) != s.streamer.DataLength {
			if uint32(n) > s.streamer.DataLength {
				return AbortDataLong, true
			}
			return AbortDataShort, true
		}
		if _, err := s.streamer.Write(req.raw[4 : 4+n]); err != nil && err != od.ErrPartial {
			return ConvertOdToAbort(err), true
		}
		s.replyInitiateDownload(tx)
		s.state = stateIdle
		return 0, false
	}

	// Segmented: just validate declared size against the OD size, if known.
	s.toggle = 0
	s.buf.Reset()
	s.size = 0
	if req.IsSizeIndicated() {
		s.size = req.GetSize()
		if !s.streamed && s.streamer.DataLength != 0 {
			if s.size > s.streamer.DataLength {
				return AbortDataLong, true
			}
			if s.size < s.streamer.DataLength {
				return AbortDataShort, true
			}
		}
	}
	s.replyInitiateDownload(tx)
	s.state = stateDownloadSegment
	return 0, false
}

func (s *Server) replyInitiateDownload(tx zencan.TransmitFunc) {
	var data [8]byte
	data[0] = 0x60
	binary.LittleEndian.PutUint16(data[1:3], s.index)
	data[3] = s.subindex
	s.sendFrame(data, tx)
}

// rxDownloadSegment handles one DownloadSegment request (ccs=0). A domain
// or string destination is streamed straight to the OD as each segment
// arrives; any other sub-object is buffered and written atomically on the
// last segment (spec.md §4.2, §9 open question).
func (s *Server) rxDownloadSegment(req sdoMessage, tx zencan.TransmitFunc) (AbortCode, bool) {
	toggle := req.GetToggle()
	if toggle != s.toggle {
		return AbortToggleBit, true
	}
	last := req.raw[0]&0x01 != 0
	n := segmentDataSize - int((req.raw[0]>>1)&0x07)
	chunk := req.raw[1 : 1+n]

	if s.streamed {
		// ErrPartial just means more segments are expected.
		if _, err := s.streamer.Write(chunk); err != nil && err != od.ErrPartial {
			return ConvertOdToAbort(err), true
		}
	} else {
		s.buf.Write(chunk)
	}

	if last {
		if !s.streamed {
			if s.size > 0 && uint32(s.buf.Len()) != s.size {
				if uint32(s.buf.Len()) > s.size {
					return AbortDataLong, true
				}
				return AbortDataShort, true
			}
			if _, err := s.streamer.Write(s.buf.Bytes()); err != nil {
				return ConvertOdToAbort(err), true
			}
		}
		s.replyDownloadSegment(toggle, tx)
		s.state = stateIdle
		return 0, false
	}

	s.toggle ^= 0x10
	s.replyDownloadSegment(toggle, tx)
	return 0, false
}

func (s *Server) replyDownloadSegment(toggle uint8, tx zencan.TransmitFunc) {
	var data [8]byte
	data[0] = 0x20 | toggle
	s.sendFrame(data, tx)
}

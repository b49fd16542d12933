package sdo

import (
	"encoding/binary"

	zencan "github.com/zencan/zencan"
)

// rxInitiateUpload handles an InitiateUpload request (ccs=2). The full
// value is read up front; if it fits in 4 bytes the response is expedited,
// otherwise a segmented transfer is opened and the size is reported.
func (s *Server) rxInitiateUpload(req sdoMessage, tx zencan.TransmitFunc) (AbortCode, bool) {
	if abort, bad := s.openStream(req, true); bad {
		return abort, true
	}

	s.buf.Reset()
	size := s.streamer.DataLength
	if size == 0 {
		size = 256
	}
	chunk := make([]byte, size)
	n, err := s.streamer.Read(chunk)
	if err != nil && n == 0 {
		return ConvertOdToAbort(err), true
	}
	s.buf.Write(chunk[:n])

	if s.buf.Len() <= 4 {
		s.replyUploadExpedited(tx)
		s.state = stateIdle
		return 0, false
	}

	s.toggle = 0
	s.size = uint32(s.buf.Len())
	s.replyInitiateUpload(tx)
	s.state = stateUploadSegment
	return 0, false
}

func (s *Server) replyUploadExpedited(tx zencan.TransmitFunc) {
	var data [8]byte
	n := s.buf.Len()
	data[0] = 0x43 | uint8((4-n)<<2)
	binary.LittleEndian.PutUint16(data[1:3], s.index)
	data[3] = s.subindex
	copy(data[4:4+n], s.buf.Bytes())
	s.sendFrame(data, tx)
}

func (s *Server) replyInitiateUpload(tx zencan.TransmitFunc) {
	var data [8]byte
	data[0] = 0x41
	binary.LittleEndian.PutUint16(data[1:3], s.index)
	data[3] = s.subindex
	binary.LittleEndian.PutUint32(data[4:8], s.size)
	s.sendFrame(data, tx)
}

// rxUploadSegment handles one UploadSegment request (ccs=3), draining from
// the buffered value filled by rxInitiateUpload.
func (s *Server) rxUploadSegment(req sdoMessage, tx zencan.TransmitFunc) (AbortCode, bool) {
	toggle := req.GetToggle()
	if toggle != s.toggle {
		return AbortToggleBit, true
	}

	remaining := s.buf.Len()
	n := remaining
	if n > segmentDataSize {
		n = segmentDataSize
	}
	chunk := s.buf.Next(n)
	last := s.buf.Len() == 0

	var data [8]byte
	data[0] = toggle
	if last {
		data[0] |= 0x01
		data[0] |= uint8((segmentDataSize - n) << 1)
	}
	copy(data[1:1+n], chunk)
	s.sendFrame(data, tx)

	if last {
		s.state = stateIdle
		return 0, false
	}
	s.toggle ^= 0x10
	return 0, false
}

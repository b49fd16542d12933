package sync

import (
	"encoding/binary"

	"github.com/zencan/zencan/pkg/od"
)

// writeEntry1005 updates the SYNC COB-ID. This node never produces SYNC, so
// the producer bit (bit 30) is rejected.
func writeEntry1005(stream *od.Stream, data []byte, countWritten *uint16) error {
	if stream == nil || data == nil || stream.Subindex != 0 || len(data) != 4 || countWritten == nil {
		return od.ErrDevIncompat
	}
	s, ok := stream.Object.(*SYNC)
	if !ok {
		return od.ErrDevIncompat
	}
	cobIdSync := binary.LittleEndian.Uint32(data)
	if cobIdSync&0x40000000 != 0 {
		return od.ErrInvalidValue
	}
	canId := cobIdSync & 0x7FF
	if (cobIdSync & 0xBFFFF800) != 0 {
		return od.ErrInvalidValue
	}
	s.cobId = canId
	return od.WriteEntryDefault(stream, data, countWritten)
}

// writeEntry1006 updates the communication cycle period; unused by a
// SYNC-consuming node but kept writable for compatibility with SDO clients
// that configure it.
func writeEntry1006(stream *od.Stream, data []byte, countWritten *uint16) error {
	if stream == nil || data == nil || stream.Subindex != 0 || len(data) != 4 || countWritten == nil {
		return od.ErrDevIncompat
	}
	if _, ok := stream.Object.(*SYNC); !ok {
		return od.ErrDevIncompat
	}
	return od.WriteEntryDefault(stream, data, countWritten)
}

// writeEntry1007 updates the synchronous window length (µs).
func writeEntry1007(stream *od.Stream, data []byte, countWritten *uint16) error {
	if stream == nil || data == nil || stream.Subindex != 0 || len(data) != 4 || countWritten == nil {
		return od.ErrDevIncompat
	}
	s, ok := stream.Object.(*SYNC)
	if !ok {
		return od.ErrDevIncompat
	}
	s.windowLengthUs = uint64(binary.LittleEndian.Uint32(data))
	return od.WriteEntryDefault(stream, data, countWritten)
}

// writeEntry1019 updates the synchronous counter overflow value.
func writeEntry1019(stream *od.Stream, data []byte, countWritten *uint16) error {
	if stream == nil || data == nil || len(data) != 1 || countWritten == nil {
		return od.ErrDevIncompat
	}
	s, ok := stream.Object.(*SYNC)
	if !ok {
		return od.ErrDevIncompat
	}
	overflow := data[0]
	if overflow == 1 || overflow > 240 {
		return od.ErrInvalidValue
	}
	s.counterOverflow = overflow
	return od.WriteEntryDefault(stream, data, countWritten)
}

package nmt

import (
	"encoding/binary"

	"github.com/zencan/zencan/pkg/od"
)

// writeEntry1017 lets an SDO write to the heartbeat producer time take
// effect immediately rather than waiting for the next Process call to
// re-read it.
func writeEntry1017(stream *od.Stream, data []byte, countWritten *uint16) error {
	if stream == nil || stream.Subindex != 0 || data == nil || len(data) != 2 || countWritten == nil {
		return od.ErrDevIncompat
	}
	nmt, ok := stream.Object.(*NMT)
	if !ok {
		return od.ErrDevIncompat
	}
	nmt.hbProducerTimeUs = uint64(binary.LittleEndian.Uint16(data)) * 1000
	return od.WriteEntryDefault(stream, data, countWritten)
}

package heartbeat

import (
	"encoding/binary"

	"github.com/zencan/zencan/pkg/od"
)

// writeEntry1016 reconfigures one heartbeat consumer entry.
func writeEntry1016(stream *od.Stream, data []byte, countWritten *uint16) error {
	if stream == nil || countWritten == nil {
		return od.ErrDevIncompat
	}
	consumer, ok := stream.Object.(*HBConsumer)
	if !ok {
		return od.ErrDevIncompat
	}
	if stream.Subindex < 1 || int(stream.Subindex) > len(consumer.entries) || len(data) != 4 {
		return od.ErrDevIncompat
	}

	hbConsValue := binary.LittleEndian.Uint32(data)
	nodeId := uint8(hbConsValue >> 16)
	period := uint16(hbConsValue & 0xFFFF)
	if err := consumer.updateConsumerEntry(stream.Subindex-1, nodeId, period); err != nil {
		return od.ErrParIncompat
	}
	return od.WriteEntryDefault(stream, data, countWritten)
}

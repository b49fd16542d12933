package sdo

import (
	"encoding/binary"

	"github.com/zencan/zencan/pkg/od"
)

// writeEntrySDOServerParameter backs entry 0x1200 (SDO server parameter).
// Sub 1/2 (COB-ID client->server / server->client) and sub 3 (node ID) are
// fixed at boot for the single SDO server this package implements; writes
// that would change them are rejected rather than silently accepted.
func writeEntrySDOServerParameter(stream *od.Stream, data []byte, countWritten *uint16) error {
	if stream == nil || data == nil || countWritten == nil {
		return od.ErrDevIncompat
	}
	server, ok := stream.Object.(*Server)
	if !ok {
		return od.ErrDevIncompat
	}
	switch stream.Subindex {
	case 0:
		return od.ErrReadonly
	case 1:
		if len(data) != 4 {
			return od.ErrTypeMismatch
		}
		if binary.LittleEndian.Uint32(data) != server.CobIdRx {
			return od.ErrInvalidValue
		}
	case 2:
		if len(data) != 4 {
			return od.ErrTypeMismatch
		}
		if binary.LittleEndian.Uint32(data) != server.CobIdTx {
			return od.ErrInvalidValue
		}
	case 3:
		if len(data) != 1 {
			return od.ErrTypeMismatch
		}
		if data[0] != server.nodeId {
			return od.ErrInvalidValue
		}
	default:
		return od.ErrSubNotExist
	}
	return od.WriteEntryDefault(stream, data, countWritten)
}

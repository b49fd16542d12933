// Package zencan implements a CANopen-compatible node stack intended for
// deeply embedded use: no dynamic allocation after construction, an
// interrupt-driven receive path, and a cooperative process loop that
// performs all other work.
package zencan

import "fmt"

// CAN bus identifier masks, mirroring the CAN 2.0B frame format.
const (
	RTRFlag uint32 = 0x40000000
	SFFMask uint32 = 0x000007FF
	EFFFlag uint32 = 0x80000000
)

// Frame is a single CAN frame as decoded by a platform driver, or as
// produced by the node for transmission. The driver that owns the actual
// bus hardware (socketcan, an FDCAN peripheral, ...) is an external
// collaborator; this type is the narrow contract between that driver and
// the node core.
type Frame struct {
	ID   uint32
	DLC  uint8
	Data [8]byte
	// IsFD marks a frame carried on a CAN-FD bus; classic CAN-2.0 frames
	// leave it false. The core does not read it: every payload is held in
	// the 8-byte Data array.
	IsFD bool
}

// NewFrame builds a Frame with the given identifier and data length.
func NewFrame(id uint32, dlc uint8) Frame {
	return Frame{ID: id, DLC: dlc}
}

func (f Frame) String() string {
	return fmt.Sprintf("%03X [%d] % X", f.ID, f.DLC, f.Data[:f.DLC])
}

// TransmitFunc is the synchronous, non-blocking callback a caller supplies
// to a Node for sending frames. It is invoked from within Process and must
// not block; a typical implementation enqueues into a hardware TX FIFO.
type TransmitFunc func(Frame) error

package sync

import (
	"fmt"
	"log/slog"

	zencan "github.com/zencan/zencan"
	"github.com/zencan/zencan/pkg/emergency"
	"github.com/zencan/zencan/pkg/od"
)

const ServiceId uint32 = 0x080

// SYNC consumes the network SYNC frame (spec.md §6: COB-ID 0x080, 0 or 1
// byte counter) and reports through InWindow whether a moment falls inside
// the configured synchronous window (0x1007) after the last frame. It
// raises no emergency when the window is missed; only a SYNC frame of the
// wrong length raises EmSyncLength.
type SYNC struct {
	logger *slog.Logger
	emcy   *emergency.EMCY

	cobId           uint32
	counterOverflow uint8
	windowLengthUs  uint64

	counter  uint8
	rxToggle bool
	lastRxUs uint64
	haveRx   bool
}

// Handle processes one SYNC frame.
func (s *SYNC) Handle(frame zencan.Frame, nowUs uint64) {
	if s.counterOverflow != 0 {
		if frame.DLC != 1 {
			s.emcy.ErrorReport(emergency.EmSyncLength, emergency.ErrSyncDataLength, 0)
			return
		}
		s.counter = frame.Data[0]
	} else if frame.DLC != 0 {
		s.emcy.ErrorReport(emergency.EmSyncLength, emergency.ErrSyncDataLength, 0)
		return
	}
	s.rxToggle = !s.rxToggle
	s.lastRxUs = nowUs
	s.haveRx = true
}

// CobId returns the CAN-ID the SYNC service currently consumes on.
func (s *SYNC) CobId() uint32 {
	return s.cobId
}

// Counter returns the last received SYNC counter value (0 if not used).
func (s *SYNC) Counter() uint8 {
	return s.counter
}

// RxToggle flips on every received SYNC frame; used by RPDO/TPDO consumers
// that need to detect "a new SYNC happened since I last checked".
func (s *SYNC) RxToggle() bool {
	return s.rxToggle
}

// InWindow reports whether nowUs is still inside the synchronous window
// following the last SYNC (0x1007); a zero window length disables the
// check.
func (s *SYNC) InWindow(nowUs uint64) bool {
	if s.windowLengthUs == 0 || !s.haveRx {
		return true
	}
	return nowUs < s.lastRxUs+s.windowLengthUs
}

func NewSYNC(
	logger *slog.Logger,
	emcy *emergency.EMCY,
	entry1005 *od.Entry,
	entry1006 *od.Entry,
	entry1007 *od.Entry,
	entry1019 *od.Entry,
) (*SYNC, error) {
	if entry1005 == nil || emcy == nil {
		return nil, fmt.Errorf("sync: entry 0x1005 and emcy are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &SYNC{logger: logger.With("service", "sync"), emcy: emcy}

	cobIdSync, err := entry1005.Uint32(0)
	if err != nil {
		return nil, fmt.Errorf("sync: reading 0x1005: %w", err)
	}
	s.cobId = cobIdSync & 0x7FF
	entry1005.AddExtension(s, od.ReadEntryDefault, writeEntry1005)

	if entry1019 != nil {
		overflow, err := entry1019.Uint8(0)
		if err == nil {
			s.counterOverflow = overflow
		}
		entry1019.AddExtension(s, od.ReadEntryDefault, writeEntry1019)
	}
	if entry1007 != nil {
		windowUs, err := entry1007.Uint32(0)
		if err == nil {
			s.windowLengthUs = uint64(windowUs)
		}
		entry1007.AddExtension(s, od.ReadEntryDefault, writeEntry1007)
	}
	if entry1006 != nil {
		entry1006.AddExtension(s, od.ReadEntryDefault, writeEntry1006)
	}
	return s, nil
}

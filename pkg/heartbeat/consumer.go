package heartbeat

import (
	"fmt"
	"log/slog"

	zencan "github.com/zencan/zencan"
	"github.com/zencan/zencan/pkg/emergency"
	"github.com/zencan/zencan/pkg/nmt"
	"github.com/zencan/zencan/pkg/od"
)

const (
	HeartbeatUnconfigured = 0x00 // Consumer entry inactive
	HeartbeatUnknown      = 0x01 // Consumer enabled, but no heartbeat received yet
	HeartbeatActive       = 0x02 // Heartbeat received within set time
	HeartbeatTimeout      = 0x03 // No heartbeat received for set time
	ServiceId             = 0x700
)

const (
	EventNone = uint8(iota)
	EventStarted
	EventTimeout
	EventChanged
	EventBoot
)

// HBConsumer monitors the heartbeat of zero or more remote nodes, one
// hbConsumerEntry per sub-index of 0x1016 (spec.md §4.4; this module extends
// it with remote-node liveness, which the heartbeat consumer object exists
// to serve). It has no timers: Process compares each entry's deadline
// against the caller-supplied nowUs.
type HBConsumer struct {
	logger                  *slog.Logger
	emcy                    *emergency.EMCY
	entries                 []*hbConsumerEntry
	allMonitoredActive      bool
	allMonitoredOperational bool
	eventCallback           HBEventCallback
}

type HBEventCallback func(event uint8, index uint8, nodeId uint8, nmtState uint8)

func (consumer *HBConsumer) checkAllMonitored() {
	allActive := true
	allOperational := true

	for _, entry := range consumer.entries {
		if entry.hbState == HeartbeatUnconfigured {
			continue
		}
		if entry.hbState != HeartbeatActive {
			allActive = false
		}
		if entry.nmtState != nmt.StateOperational {
			allOperational = false
		}
	}

	if !consumer.allMonitoredActive && allActive {
		consumer.emcy.ErrorReset(emergency.EmHeartbeatConsumer, 0)
		consumer.emcy.ErrorReset(emergency.EmHBConsumerRemoteReset, 0)
	}
	consumer.allMonitoredActive = allActive
	consumer.allMonitoredOperational = allOperational
}

func (consumer *HBConsumer) updateConsumerEntry(index uint8, nodeId uint8, periodMs uint16) error {
	if int(index) >= len(consumer.entries) {
		return fmt.Errorf("heartbeat: sub-index %d out of range", index)
	}
	if periodMs != 0 && nodeId != 0 {
		for i, entry := range consumer.entries {
			if int(index) != i && entry.timeoutUs != 0 && entry.nodeId == nodeId {
				return fmt.Errorf("heartbeat: node %d already monitored", nodeId)
			}
		}
	}
	consumer.entries[index].update(nodeId, periodMs)
	return nil
}

// OnEvent registers a callback for consumer events: boot-up, nmt-state
// change, timeout.
func (consumer *HBConsumer) OnEvent(callback HBEventCallback) {
	consumer.eventCallback = callback
}

// Handle dispatches a heartbeat frame received on one of the monitored
// COB-IDs.
func (consumer *HBConsumer) Handle(frame zencan.Frame, nowUs uint64) {
	for _, entry := range consumer.entries {
		if entry.hbState != HeartbeatUnconfigured && entry.cobId == frame.ID {
			entry.handle(frame, nowUs)
			return
		}
	}
}

// Process checks every monitored entry's timeout deadline.
func (consumer *HBConsumer) Process(nowUs uint64) {
	for _, entry := range consumer.entries {
		entry.checkTimeout(nowUs)
	}
}

// NewHBConsumer builds one monitor entry per sub-index (1..N) of 0x1016.
func NewHBConsumer(logger *slog.Logger, emcy *emergency.EMCY, entry1016 *od.Entry) (*HBConsumer, error) {
	if entry1016 == nil || emcy == nil {
		return nil, fmt.Errorf("heartbeat: entry 0x1016 and emcy are required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	consumer := &HBConsumer{logger: logger.With("service", "heartbeat"), emcy: emcy}

	nbEntries := uint8(entry1016.SubCount() - 1)
	consumer.entries = make([]*hbConsumerEntry, nbEntries)
	for i := range consumer.entries {
		consumer.entries[i] = &hbConsumerEntry{parent: consumer, odIndex: i}
	}

	for i := 0; i < int(nbEntries); i++ {
		hbConsValue, err := entry1016.Uint32(uint8(i) + 1)
		if err != nil {
			return nil, fmt.Errorf("heartbeat: reading 0x1016 sub %d: %w", i+1, err)
		}
		nodeId := uint8(hbConsValue >> 16)
		period := uint16(hbConsValue & 0xFFFF)
		if err := consumer.updateConsumerEntry(uint8(i), nodeId, period); err != nil {
			return nil, err
		}
	}
	entry1016.AddExtension(consumer, od.ReadEntryDefault, writeEntry1016)
	return consumer, nil
}

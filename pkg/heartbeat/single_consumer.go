package heartbeat

import (
	zencan "github.com/zencan/zencan"
	"github.com/zencan/zencan/pkg/emergency"
	"github.com/zencan/zencan/pkg/nmt"
)

// hbConsumerEntry monitors the heartbeat of one remote node.
type hbConsumerEntry struct {
	nodeId       uint8
	cobId        uint32
	nmtState     uint8
	nmtStatePrev uint8
	hbState      uint8
	timeoutUs    uint64
	deadlineUs   uint64
	parent       *HBConsumer
	odIndex      int
}

// handle consumes one heartbeat frame addressed to this entry's COB-ID.
func (entry *hbConsumerEntry) handle(frame zencan.Frame, nowUs uint64) {
	if frame.DLC != 1 {
		return
	}
	consumer := entry.parent
	entry.nmtState = frame.Data[0]
	event := EventNone

	if entry.nmtState == nmt.StateInitializing {
		if entry.hbState == HeartbeatActive {
			consumer.emcy.ErrorReport(emergency.EmHBConsumerRemoteReset, emergency.ErrHeartbeat, uint32(entry.odIndex))
		}
		event = EventBoot
		entry.hbState = HeartbeatUnknown
	} else {
		if entry.hbState != HeartbeatActive {
			event = EventStarted
		}
		entry.hbState = HeartbeatActive
	}

	entry.restartTimeout(nowUs)

	if event != EventNone && consumer.eventCallback != nil {
		consumer.eventCallback(event, uint8(entry.odIndex+1), entry.nodeId, nmt.StateInitializing)
	}

	if entry.nmtState != entry.nmtStatePrev && consumer.eventCallback != nil {
		consumer.eventCallback(EventChanged, uint8(entry.odIndex+1), entry.nodeId, entry.nmtState)
	}
	entry.nmtStatePrev = entry.nmtState

	consumer.checkAllMonitored()
}

// checkTimeout fires an EventTimeout and an EMCY if the entry's deadline has
// passed without a heartbeat.
func (entry *hbConsumerEntry) checkTimeout(nowUs uint64) {
	if entry.timeoutUs == 0 || entry.hbState != HeartbeatActive {
		return
	}
	if nowUs < entry.deadlineUs {
		return
	}
	parent := entry.parent
	parent.emcy.ErrorReport(emergency.EmHeartbeatConsumer, emergency.ErrHeartbeat, uint32(entry.odIndex))
	entry.nmtState = nmt.StateUnknown
	entry.hbState = HeartbeatTimeout
	if parent.eventCallback != nil {
		parent.eventCallback(EventTimeout, uint8(entry.odIndex+1), entry.nodeId, nmt.StateUnknown)
	}
	parent.checkAllMonitored()
}

func (entry *hbConsumerEntry) restartTimeout(nowUs uint64) {
	if entry.timeoutUs == 0 {
		return
	}
	entry.deadlineUs = nowUs + entry.timeoutUs
}

// update reconfigures which node this entry monitors and at what period.
func (entry *hbConsumerEntry) update(nodeId uint8, periodMs uint16) {
	entry.nodeId = nodeId
	entry.timeoutUs = uint64(periodMs) * 1000

	entry.nmtState = nmt.StateUnknown
	entry.nmtStatePrev = nmt.StateUnknown

	if entry.nodeId != 0 && entry.timeoutUs != 0 {
		entry.cobId = ServiceId + uint32(entry.nodeId)
		entry.hbState = HeartbeatUnknown
	} else {
		entry.cobId = 0
		entry.timeoutUs = 0
		entry.hbState = HeartbeatUnconfigured
	}
}

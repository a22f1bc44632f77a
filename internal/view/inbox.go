package view

import (
	"streamsync/internal/logging"
	"streamsync/internal/model"
)

// inboxProjection tracks, per device, the miniblock range that still
// holds unprocessed group-session deliveries.
type inboxProjection struct {
	baseProjection
	inception *model.InboxInceptionPayload
	summaries map[string]*model.InboxDeviceSummary
}

func newInboxProjection(streamID model.StreamID, log *logging.Logger) *inboxProjection {
	return &inboxProjection{
		baseProjection: baseProjection{streamID: streamID, kind: model.StreamKindInbox, log: log},
		summaries:      make(map[string]*model.InboxDeviceSummary),
	}
}

func (p *inboxProjection) ApplySnapshot(snap *model.Snapshot) {
	if snap.Inbox == nil {
		return
	}
	p.inception = snap.Inbox.Inception
	for _, s := range snap.Inbox.DeviceSummaries {
		summary := s
		p.summaries[s.DeviceKey] = &summary
	}
}

func (p *inboxProjection) AppendEvent(e *model.TimelineEvent) {
	switch payload := e.Payload().(type) {
	case *model.InboxInceptionPayload:
		p.inception = payload
	case *model.GroupSessionsPayload:
		p.recordDelivery(payload, e.MiniblockNum)
	case *model.InboxAckPayload:
		p.recordAck(payload)
	}
}

func (p *inboxProjection) OnConfirmedEvent(e *model.TimelineEvent) {
	// Deliveries get their miniblock placement only at confirmation.
	if payload, ok := e.Payload().(*model.GroupSessionsPayload); ok {
		p.recordDelivery(payload, e.MiniblockNum)
	}
}

func (p *inboxProjection) recordDelivery(payload *model.GroupSessionsPayload, miniblockNum *int64) {
	if miniblockNum == nil {
		return
	}
	for _, ct := range payload.Ciphertexts {
		s, ok := p.summaries[ct.DeviceKey]
		if !ok {
			p.summaries[ct.DeviceKey] = &model.InboxDeviceSummary{
				DeviceKey:  ct.DeviceKey,
				LowerBound: *miniblockNum,
				UpperBound: *miniblockNum,
			}
			continue
		}
		if *miniblockNum > s.UpperBound {
			s.UpperBound = *miniblockNum
		}
	}
}

func (p *inboxProjection) recordAck(payload *model.InboxAckPayload) {
	s, ok := p.summaries[payload.DeviceKey]
	if !ok {
		return
	}
	if payload.MiniblockNum >= s.UpperBound {
		delete(p.summaries, payload.DeviceKey)
		return
	}
	if payload.MiniblockNum >= s.LowerBound {
		s.LowerBound = payload.MiniblockNum + 1
	}
}

// DeviceSummary returns the pending range for a device, if any.
func (p *inboxProjection) DeviceSummary(deviceKey string) (model.InboxDeviceSummary, bool) {
	s, ok := p.summaries[deviceKey]
	if !ok {
		return model.InboxDeviceSummary{}, false
	}
	return *s, true
}

package view

import (
	"streamsync/internal/logging"
	"streamsync/internal/model"
)

// channelProjection maintains channel-stream content state: the
// inception record and redactions. Message history is timeline-owned;
// the projection only tracks what later events say about it.
type channelProjection struct {
	baseProjection
	inception *model.ChannelInceptionPayload
	redacted  map[string]string // redacted event id -> redacting event id
}

func newChannelProjection(streamID model.StreamID, log *logging.Logger) *channelProjection {
	return &channelProjection{
		baseProjection: baseProjection{streamID: streamID, kind: model.StreamKindChannel, log: log},
		redacted:       make(map[string]string),
	}
}

func (p *channelProjection) ApplySnapshot(snap *model.Snapshot) {
	if snap.Channel != nil {
		p.inception = snap.Channel.Inception
	}
}

func (p *channelProjection) AppendEvent(e *model.TimelineEvent) {
	switch payload := e.Payload().(type) {
	case *model.ChannelInceptionPayload:
		p.inception = payload
	case *model.ChannelRedactionPayload:
		p.redacted[payload.EventID] = e.HashStr
	}
}

func (p *channelProjection) PrependEvent(e *model.TimelineEvent) {
	// A redaction seen in scrollback applies to even older history.
	if payload, ok := e.Payload().(*model.ChannelRedactionPayload); ok {
		p.redacted[payload.EventID] = e.HashStr
	}
}

func (p *channelProjection) OnAppendLocalEvent(e *model.TimelineEvent) {
	if payload, ok := e.Payload().(*model.ChannelRedactionPayload); ok {
		p.redacted[payload.EventID] = e.HashStr
	}
}

// Message streams support backward pagination.
func (p *channelProjection) NeedsScrollback() bool { return true }

// SpaceID returns the owning space, or "" before inception is known.
func (p *channelProjection) SpaceID() model.StreamID {
	if p.inception == nil {
		return ""
	}
	return p.inception.SpaceID
}

// IsRedacted reports whether eventID has been redacted.
func (p *channelProjection) IsRedacted(eventID string) bool {
	_, ok := p.redacted[eventID]
	return ok
}

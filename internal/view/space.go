package view

import (
	"sort"

	"streamsync/internal/logging"
	"streamsync/internal/model"
)

// spaceProjection maintains a space's channel registry.
type spaceProjection struct {
	baseProjection
	inception *model.SpaceInceptionPayload
	channels  map[model.StreamID]model.SpaceChannelMeta
}

func newSpaceProjection(streamID model.StreamID, log *logging.Logger) *spaceProjection {
	return &spaceProjection{
		baseProjection: baseProjection{streamID: streamID, kind: model.StreamKindSpace, log: log},
		channels:       make(map[model.StreamID]model.SpaceChannelMeta),
	}
}

func (p *spaceProjection) ApplySnapshot(snap *model.Snapshot) {
	if snap.Space == nil {
		return
	}
	p.inception = snap.Space.Inception
	for _, ch := range snap.Space.Channels {
		p.channels[ch.ChannelID] = ch
	}
}

func (p *spaceProjection) AppendEvent(e *model.TimelineEvent) {
	switch payload := e.Payload().(type) {
	case *model.SpaceInceptionPayload:
		p.inception = payload
	case *model.SpaceChannelUpdatePayload:
		p.applyChannelUpdate(payload, e.EventNum)
	}
}

func (p *spaceProjection) applyChannelUpdate(payload *model.SpaceChannelUpdatePayload, eventNum int64) {
	switch payload.Op {
	case model.ChannelOpCreated, model.ChannelOpUpdated:
		p.channels[payload.ChannelID] = model.SpaceChannelMeta{
			ChannelID:         payload.ChannelID,
			Op:                payload.Op,
			OriginEventHash:   payload.OriginEventHash,
			UpdatedAtEventNum: eventNum,
		}
	case model.ChannelOpDeleted:
		delete(p.channels, payload.ChannelID)
	default:
		p.log.Debug("space channel update with unknown op", "op", int(payload.Op))
	}
}

// Channels returns the registry entries sorted by channel id.
func (p *spaceProjection) Channels() []model.SpaceChannelMeta {
	out := make([]model.SpaceChannelMeta, 0, len(p.channels))
	for _, ch := range p.channels {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChannelID < out[j].ChannelID })
	return out
}

// HasChannel reports whether the registry contains channelID.
func (p *spaceProjection) HasChannel(channelID model.StreamID) bool {
	_, ok := p.channels[channelID]
	return ok
}

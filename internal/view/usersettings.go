package view

import (
	"streamsync/internal/logging"
	"streamsync/internal/model"
)

// userSettingsProjection maintains fully-read markers and per-user
// block history.
type userSettingsProjection struct {
	baseProjection
	inception  *model.UserSettingsInceptionPayload
	fullyRead  map[model.StreamID]string
	userBlocks map[string][]model.UserBlockPayload
}

func newUserSettingsProjection(streamID model.StreamID, log *logging.Logger) *userSettingsProjection {
	return &userSettingsProjection{
		baseProjection: baseProjection{streamID: streamID, kind: model.StreamKindUserSettings, log: log},
		fullyRead:      make(map[model.StreamID]string),
		userBlocks:     make(map[string][]model.UserBlockPayload),
	}
}

func (p *userSettingsProjection) ApplySnapshot(snap *model.Snapshot) {
	if snap.UserSettings == nil {
		return
	}
	p.inception = snap.UserSettings.Inception
	for _, marker := range snap.UserSettings.FullyReadMarkers {
		p.fullyRead[marker.ChannelID] = marker.Content
	}
	for _, ub := range snap.UserSettings.UserBlocks {
		p.userBlocks[ub.UserID] = append([]model.UserBlockPayload(nil), ub.Blocks...)
	}
}

func (p *userSettingsProjection) AppendEvent(e *model.TimelineEvent) {
	switch payload := e.Payload().(type) {
	case *model.UserSettingsInceptionPayload:
		p.inception = payload
	case *model.FullyReadMarkersPayload:
		p.fullyRead[payload.ChannelID] = payload.Content
	case *model.UserBlockPayload:
		p.userBlocks[payload.UserID] = append(p.userBlocks[payload.UserID], *payload)
	}
}

// FullyReadMarker returns the opaque marker blob for a channel.
func (p *userSettingsProjection) FullyReadMarker(channelID model.StreamID) (string, bool) {
	v, ok := p.fullyRead[channelID]
	return v, ok
}

// IsBlocked reports the latest block state recorded for userID.
func (p *userSettingsProjection) IsBlocked(userID string) bool {
	blocks := p.userBlocks[userID]
	if len(blocks) == 0 {
		return false
	}
	return blocks[len(blocks)-1].IsBlocked
}

// BlockHistory returns the full block/unblock history for userID.
func (p *userSettingsProjection) BlockHistory(userID string) []model.UserBlockPayload {
	return p.userBlocks[userID]
}

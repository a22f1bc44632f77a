package view

import (
	"streamsync/internal/logging"
	"streamsync/internal/model"
)

// dmProjection maintains direct-message stream state: the two named
// parties from the inception record.
type dmProjection struct {
	baseProjection
	inception *model.DMInceptionPayload
}

func newDMProjection(streamID model.StreamID, log *logging.Logger) *dmProjection {
	return &dmProjection{
		baseProjection: baseProjection{streamID: streamID, kind: model.StreamKindDM, log: log},
	}
}

func (p *dmProjection) ApplySnapshot(snap *model.Snapshot) {
	if snap.DM != nil {
		p.inception = snap.DM.Inception
	}
}

func (p *dmProjection) AppendEvent(e *model.TimelineEvent) {
	if payload, ok := e.Payload().(*model.DMInceptionPayload); ok {
		p.inception = payload
	}
}

func (p *dmProjection) PrependEvent(e *model.TimelineEvent) {
	if payload, ok := e.Payload().(*model.DMInceptionPayload); ok && p.inception == nil {
		p.inception = payload
	}
}

func (p *dmProjection) NeedsScrollback() bool { return true }

// Parties returns the two named parties, or nil before inception.
func (p *dmProjection) Parties() []string {
	if p.inception == nil {
		return nil
	}
	return []string{p.inception.FirstPartyID, p.inception.SecondPartyID}
}

// IsParty reports whether userID is one of the two named parties.
func (p *dmProjection) IsParty(userID string) bool {
	return p.inception != nil &&
		(p.inception.FirstPartyID == userID || p.inception.SecondPartyID == userID)
}

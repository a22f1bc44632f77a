package view

import (
	"streamsync/internal/logging"
	"streamsync/internal/model"
)

// gdmProjection maintains group-DM stream state: the inception record
// and the latest encrypted channel properties (name/topic).
type gdmProjection struct {
	baseProjection
	inception  *model.GDMInceptionPayload
	properties *model.WrappedEncryptedData
	// plainProperties caches the decrypted channel properties.
	plainProperties string
}

func newGDMProjection(streamID model.StreamID, log *logging.Logger) *gdmProjection {
	return &gdmProjection{
		baseProjection: baseProjection{streamID: streamID, kind: model.StreamKindGDM, log: log},
	}
}

func (p *gdmProjection) ApplySnapshot(snap *model.Snapshot) {
	if snap.GDM == nil {
		return
	}
	p.inception = snap.GDM.Inception
	p.properties = snap.GDM.ChannelProperties
}

func (p *gdmProjection) AppendEvent(e *model.TimelineEvent) {
	switch payload := e.Payload().(type) {
	case *model.GDMInceptionPayload:
		p.inception = payload
		if payload.ChannelProperties != nil {
			p.properties = &model.WrappedEncryptedData{
				Data:      *payload.ChannelProperties,
				EventHash: e.HashStr,
				EventNum:  e.EventNum,
			}
		}
	case *model.GDMChannelPropertiesPayload:
		// Last writer wins; an older in-flight update never overwrites
		// a newer one.
		if p.properties == nil || e.EventNum >= p.properties.EventNum {
			p.properties = &model.WrappedEncryptedData{
				Data:      payload.Data,
				EventHash: e.HashStr,
				EventNum:  e.EventNum,
			}
			p.plainProperties = ""
		}
	}
}

func (p *gdmProjection) OnDecryptedContent(eventID string, c model.DecryptedContent) {
	if p.properties != nil && p.properties.EventHash == eventID {
		p.plainProperties = c.Content
	}
}

func (p *gdmProjection) NeedsScrollback() bool { return true }

// ChannelProperties returns the latest encrypted properties claim.
func (p *gdmProjection) ChannelProperties() *model.WrappedEncryptedData {
	return p.properties
}

// ChannelPropertiesPlaintext returns the decrypted properties, if
// resolved.
func (p *gdmProjection) ChannelPropertiesPlaintext() (string, bool) {
	return p.plainProperties, p.plainProperties != ""
}

package view

import (
	"streamsync/internal/logging"
	"streamsync/internal/model"
)

// ContentProjection is the per-stream-kind state machine. Each
// implementation interprets only its own payload kinds and is a no-op,
// never an error, on kinds it does not recognize; unknown kinds are
// logged by the view, not rejected, so older clients keep working
// against newer event kinds.
type ContentProjection interface {
	StreamKind() model.StreamKind
	ApplySnapshot(snap *model.Snapshot)
	AppendEvent(e *model.TimelineEvent)
	PrependEvent(e *model.TimelineEvent)
	OnConfirmedEvent(e *model.TimelineEvent)
	OnDecryptedContent(eventID string, c model.DecryptedContent)
	OnAppendLocalEvent(e *model.TimelineEvent)
	NeedsScrollback() bool
}

// newContentProjection builds the projection for a stream kind. The
// unrecognized arm is explicit: a stream of an unknown kind still
// hydrates, with its events carried but uninterpreted.
func newContentProjection(streamID model.StreamID, log *logging.Logger) ContentProjection {
	switch streamID.Kind() {
	case model.StreamKindSpace:
		return newSpaceProjection(streamID, log)
	case model.StreamKindChannel:
		return newChannelProjection(streamID, log)
	case model.StreamKindDM:
		return newDMProjection(streamID, log)
	case model.StreamKindGDM:
		return newGDMProjection(streamID, log)
	case model.StreamKindUser:
		return newUserProjection(streamID, log)
	case model.StreamKindUserSettings:
		return newUserSettingsProjection(streamID, log)
	case model.StreamKindDeviceKey:
		return newDeviceKeyProjection(streamID, log)
	case model.StreamKindInbox:
		return newInboxProjection(streamID, log)
	case model.StreamKindMedia:
		return newMediaProjection(streamID, log)
	default:
		return newUnknownProjection(streamID, log)
	}
}

// baseProjection supplies no-op defaults so each kind only implements
// the hooks it cares about.
type baseProjection struct {
	streamID model.StreamID
	kind     model.StreamKind
	log      *logging.Logger
}

func (b *baseProjection) StreamKind() model.StreamKind                             { return b.kind }
func (b *baseProjection) ApplySnapshot(*model.Snapshot)                            {}
func (b *baseProjection) AppendEvent(*model.TimelineEvent)                         {}
func (b *baseProjection) PrependEvent(*model.TimelineEvent)                        {}
func (b *baseProjection) OnConfirmedEvent(*model.TimelineEvent)                    {}
func (b *baseProjection) OnDecryptedContent(string, model.DecryptedContent)        {}
func (b *baseProjection) OnAppendLocalEvent(*model.TimelineEvent)                  {}
func (b *baseProjection) NeedsScrollback() bool                                    { return false }

// unknownProjection handles streams whose kind this client does not
// recognize.
type unknownProjection struct {
	baseProjection
	warned bool
}

func newUnknownProjection(streamID model.StreamID, log *logging.Logger) *unknownProjection {
	return &unknownProjection{baseProjection: baseProjection{
		streamID: streamID,
		kind:     model.StreamKindUnknown,
		log:      log,
	}}
}

func (p *unknownProjection) AppendEvent(e *model.TimelineEvent) {
	if !p.warned {
		p.warned = true
		p.log.Warn("stream has unrecognized kind, events carried but not interpreted",
			"stream", string(p.streamID))
	}
}

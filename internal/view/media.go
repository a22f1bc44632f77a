package view

import (
	"streamsync/internal/logging"
	"streamsync/internal/model"
)

// mediaProjection tracks a media upload: declared chunk count and which
// chunks have arrived. Out-of-bounds chunk indexes are a validation
// error logged and skipped, never applied.
type mediaProjection struct {
	baseProjection
	inception *model.MediaInceptionPayload
	received  map[int32]bool
}

func newMediaProjection(streamID model.StreamID, log *logging.Logger) *mediaProjection {
	return &mediaProjection{
		baseProjection: baseProjection{streamID: streamID, kind: model.StreamKindMedia, log: log},
		received:       make(map[int32]bool),
	}
}

func (p *mediaProjection) ApplySnapshot(snap *model.Snapshot) {
	if snap.Media != nil {
		p.inception = snap.Media.Inception
	}
}

func (p *mediaProjection) AppendEvent(e *model.TimelineEvent) {
	switch payload := e.Payload().(type) {
	case *model.MediaInceptionPayload:
		p.inception = payload
	case *model.MediaChunkPayload:
		p.recordChunk(payload)
	}
}

func (p *mediaProjection) PrependEvent(e *model.TimelineEvent) {
	if payload, ok := e.Payload().(*model.MediaChunkPayload); ok {
		p.recordChunk(payload)
	}
}

func (p *mediaProjection) recordChunk(payload *model.MediaChunkPayload) {
	if p.inception != nil &&
		(payload.ChunkIndex < 0 || payload.ChunkIndex >= p.inception.ChunkCount) {
		p.log.Warn("media chunk index out of declared bounds",
			"index", payload.ChunkIndex, "count", p.inception.ChunkCount)
		return
	}
	p.received[payload.ChunkIndex] = true
}

// Complete reports whether every declared chunk has arrived.
func (p *mediaProjection) Complete() bool {
	if p.inception == nil {
		return false
	}
	return int32(len(p.received)) == p.inception.ChunkCount
}

// HasChunk reports whether chunk index has arrived.
func (p *mediaProjection) HasChunk(index int32) bool {
	return p.received[index]
}

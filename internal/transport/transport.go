// Package transport defines the client interface to a remote stream
// replica. The engine is transport-agnostic: implementations may speak
// HTTP, gRPC, or an in-process fake for tests, as long as they honor
// the structured error codes.
package transport

import (
	"context"

	"streamsync/internal/codec"
	"streamsync/internal/model"
)

// MiniblockBundle is one miniblock on the wire: the header envelope
// plus the envelopes of the events it confirms.
type MiniblockBundle struct {
	Header *model.Envelope   `json:"header"`
	Events []*model.Envelope `json:"events"`
}

// StreamState is the full hydration response for a stream: every
// miniblock from the latest snapshot forward, the current minipool,
// and the cursor at which incremental delivery resumes.
type StreamState struct {
	StreamID       model.StreamID    `json:"streamId"`
	Miniblocks     []MiniblockBundle `json:"miniblocks"`
	MinipoolEvents []*model.Envelope `json:"minipoolEvents"`
	Cursor         model.SyncCursor  `json:"cursor"`
}

// StreamUpdate is one unit of live incremental delivery for a synced
// stream. Reset signals that the replica lost the client's position
// and the stream must be rehydrated from scratch.
type StreamUpdate struct {
	StreamID   model.StreamID    `json:"streamId"`
	Events     []*model.Envelope `json:"events"`
	Miniblocks []MiniblockBundle `json:"miniblocks"`
	Cursor     model.SyncCursor  `json:"cursor"`
	Reset      bool              `json:"reset,omitempty"`
}

// SyncSession is a live delivery session over any number of streams.
// Updates delivers in arrival order; the channel is closed when the
// session ends.
type SyncSession interface {
	Updates() <-chan StreamUpdate
	AddStream(ctx context.Context, cursor model.SyncCursor) error
	RemoveStream(ctx context.Context, streamID model.StreamID) error
	Close() error
}

// Client is the remote replica interface.
//
// GetMiniblocks returns blocks in [fromInclusive, toExclusive) in
// ascending order; terminus reports that fromInclusive is the oldest
// block the replica retains, so no earlier history exists.
type Client interface {
	CreateStream(ctx context.Context, streamID model.StreamID, events []*model.Envelope) (*StreamState, error)
	GetStream(ctx context.Context, streamID model.StreamID) (*StreamState, error)
	GetMiniblocks(ctx context.Context, streamID model.StreamID, fromInclusive, toExclusive int64) (blocks []MiniblockBundle, terminus bool, err error)
	AddEvent(ctx context.Context, streamID model.StreamID, envelope *model.Envelope) error
	GetLastMiniblockHash(ctx context.Context, streamID model.StreamID) (codec.Hash, int64, error)
	SyncStreams(ctx context.Context) (SyncSession, error)
}

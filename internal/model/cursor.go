package model

import "streamsync/internal/codec"

// SyncCursor marks the position at which the remote replica resumes
// incremental delivery for a stream. It is owned by the stream view and
// replaced wholesale on each successful append batch; clients never
// inspect it beyond persistence.
type SyncCursor struct {
	NodeAddress       string     `json:"nodeAddress"`
	StreamID          StreamID   `json:"streamId"`
	MinipoolGen       int64      `json:"minipoolGen"`
	PrevMiniblockHash codec.Hash `json:"prevMiniblockHash"`
}

package model

import (
	"errors"
	"fmt"

	"streamsync/internal/codec"
)

// ErrNotMiniblockHeader indicates a miniblock whose header event does
// not carry a miniblock-header payload.
var ErrNotMiniblockHeader = errors.New("model: event is not a miniblock header")

// Miniblock is an ordered, hash-linked batch of confirmed events. The
// header is itself an event; its hash is the miniblock's hash and the
// next block's PrevMiniblockHash must equal it.
type Miniblock struct {
	HeaderEvent *ParsedEvent
	Events      []*ParsedEvent
}

// NewMiniblock validates that headerEvent carries a header payload.
func NewMiniblock(headerEvent *ParsedEvent, events []*ParsedEvent) (*Miniblock, error) {
	if headerEvent.MiniblockHeader() == nil {
		return nil, ErrNotMiniblockHeader
	}
	return &Miniblock{HeaderEvent: headerEvent, Events: events}, nil
}

// Header returns the header payload.
func (m *Miniblock) Header() *MiniblockHeaderPayload {
	return m.HeaderEvent.MiniblockHeader()
}

// Hash returns the miniblock hash (the header event's hash).
func (m *Miniblock) Hash() codec.Hash {
	return m.HeaderEvent.Hash
}

// Num returns the miniblock number.
func (m *Miniblock) Num() int64 {
	return m.Header().MiniblockNum
}

// CheckChain verifies that blocks form a contiguous hash chain:
// numbers increase by exactly one and every PrevMiniblockHash matches
// the preceding block's hash.
func CheckChain(blocks []*Miniblock) error {
	for i := 1; i < len(blocks); i++ {
		prev, cur := blocks[i-1], blocks[i]
		if cur.Num() != prev.Num()+1 {
			return fmt.Errorf("model: miniblock gap: %d follows %d", cur.Num(), prev.Num())
		}
		if cur.Header().PrevMiniblockHash != prev.Hash() {
			return fmt.Errorf("model: miniblock %d prev hash %s does not match %s",
				cur.Num(), cur.Header().PrevMiniblockHash.Hex(), prev.Hash().Hex())
		}
	}
	return nil
}
